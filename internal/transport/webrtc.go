package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/protocol"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

const dataChannelLabel = "voicering"

var (
	errSignallingFailed = errors.New("signalling server refused offer")
)

// Sent by the dialling client to the signalling endpoint of the server.
// The response body is the answering webrtc.SessionDescription.
type SignallingOffer struct {
	OfferUUID                uuid.UUID
	WebRTCSessionDescription webrtc.SessionDescription
}

// A data channel and the peer connection that owns it
type dataChannelConn struct {
	logger *slog.Logger
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel

	sendMu    sync.Mutex
	incoming  chan []byte
	opened    chan struct{}
	openOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

func newDataChannelConn(logger *slog.Logger, pc *webrtc.PeerConnection, dc *webrtc.DataChannel) *dataChannelConn {
	c := &dataChannelConn{
		logger:   logger,
		pc:       pc,
		dc:       dc,
		incoming: make(chan []byte, websocketIncomingLen),
		opened:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	dc.OnOpen(func() {
		c.openOnce.Do(func() { close(c.opened) })
	})
	dc.OnClose(func() {
		c.Close()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			return
		}
		select {
		case c.incoming <- msg.Data:
		case <-c.done:
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Debug("peer connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			c.Close()
		}
	})
	return c
}

func (c *dataChannelConn) awaitOpen(ctx context.Context) error {
	select {
	case <-c.opened:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *dataChannelConn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.dc.Send(data)
}

func (c *dataChannelConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.incoming:
		return data, nil
	default:
	}

	select {
	case data := <-c.incoming:
		return data, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *dataChannelConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		// Closing the peer connection from inside one of its callbacks deadlocks
		go func() {
			if err := c.pc.Close(); err != nil {
				c.logger.Debug("error closing peer connection", "err", err)
			}
		}()
	})
	return nil
}

// WebRTCTransport carries protocol bytes over an ordered, reliable WebRTC data channel.
// The connection is negotiated by posting an SDP offer to the server's signalling URL.
type WebRTCTransport struct {
	logger    *slog.Logger
	signalURL string
	config    webrtc.Configuration

	conn *dataChannelConn
}

func webrtcConfiguration(iceServers []string) webrtc.Configuration {
	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return config
}

// Create a transport that will signal through signalURL, e.g. http://localhost:64738/signal
func NewWebRTCTransport(signalURL string, iceServers []string) *WebRTCTransport {
	return &WebRTCTransport{
		logger:    slog.Default().With("webrtc transport uuid", uuid.New()),
		signalURL: signalURL,
		config:    webrtcConfiguration(iceServers),
	}
}

func (t *WebRTCTransport) Open(ctx context.Context) error {
	if t.conn != nil {
		return nil
	}

	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		return fmt.Errorf("creating peer connection: %w", err)
	}

	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		pc.Close()
		return fmt.Errorf("creating data channel: %w", err)
	}
	conn := newDataChannelConn(t.logger, pc, dc)

	if err := t.negotiate(ctx, pc); err != nil {
		conn.Close()
		return err
	}
	if err := conn.awaitOpen(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("waiting for data channel: %w", err)
	}

	t.logger.Debug("data channel open", "signalURL", t.signalURL)
	t.conn = conn
	return nil
}

func (t *WebRTCTransport) negotiate(ctx context.Context, pc *webrtc.PeerConnection) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return ctx.Err()
	}

	offerJSON, err := json.Marshal(SignallingOffer{
		OfferUUID:                uuid.New(),
		WebRTCSessionDescription: *pc.LocalDescription(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.signalURL, bytes.NewReader(offerJSON))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting offer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s", errSignallingFailed, resp.Status)
	}

	var answer webrtc.SessionDescription
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return fmt.Errorf("decoding answer: %w", err)
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	return nil
}

func (t *WebRTCTransport) Send(data []byte) error {
	if t.conn == nil {
		return ErrClosed
	}
	return t.conn.Send(data)
}

func (t *WebRTCTransport) Receive(ctx context.Context) ([]byte, error) {
	if t.conn == nil {
		return nil, ErrClosed
	}
	return t.conn.Receive(ctx)
}

func (t *WebRTCTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// An http.Handler answering SignallingOffers. Each data channel opened by a client is served
// with server until it closes or ctx is cancelled.
func NewWebRTCHandler(ctx context.Context, server *protocol.Server, iceServers []string) http.Handler {
	config := webrtcConfiguration(iceServers)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		requestLogger := slog.Default().WithGroup("request").With(
			"requestUUID", uuid.New().String(),
		)

		var offer SignallingOffer
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&offer); err != nil {
			requestLogger.Error("error while decoding session offer from JSON", "err", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		requestLogger = requestLogger.With("offerUUID", offer.OfferUUID.String())

		pc, err := webrtc.NewPeerConnection(config)
		if err != nil {
			requestLogger.Error("error while creating peer connection", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			conn := newDataChannelConn(requestLogger, pc, dc)
			go func() {
				defer conn.Close()
				if err := conn.awaitOpen(ctx); err != nil {
					return
				}
				if err := server.ServeConn(ctx, conn); err != nil && !errors.Is(err, ErrClosed) {
					requestLogger.Debug("data channel connection ended", "err", err)
				}
			}()
		})

		answer, err := answerOffer(pc, offer.WebRTCSessionDescription)
		if err != nil {
			requestLogger.Error("error while answering offer", "err", err)
			pc.Close()
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(answer)
	})
}

func answerOffer(pc *webrtc.PeerConnection, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("setting remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("setting local description: %w", err)
	}
	<-gatherComplete
	return pc.LocalDescription(), nil
}
