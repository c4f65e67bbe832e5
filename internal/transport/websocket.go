package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	websocketWriteWait   = 5 * time.Second
	websocketIncomingLen = 256
)

// WebSocketTransport carries protocol bytes as binary websocket messages.
type WebSocketTransport struct {
	logger *slog.Logger
	url    string
	dialer *websocket.Dialer

	conn    *websocket.Conn
	writeMu sync.Mutex

	incoming  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	// Set before done is closed
	readErr error
}

// Create a transport that will dial url, e.g. ws://localhost:64738/voice
func NewWebSocketTransport(url string) *WebSocketTransport {
	return &WebSocketTransport{
		logger:   slog.Default().With("websocket transport uuid", uuid.New()),
		url:      url,
		dialer:   websocket.DefaultDialer,
		incoming: make(chan []byte, websocketIncomingLen),
		done:     make(chan struct{}),
	}
}

// Wrap an already established connection, e.g. one accepted by a server
func newAcceptedWebSocket(conn *websocket.Conn) *WebSocketTransport {
	t := NewWebSocketTransport(conn.RemoteAddr().String())
	t.conn = conn
	go t.readPump()
	return t
}

func (t *WebSocketTransport) Open(ctx context.Context) error {
	if t.conn != nil {
		return nil
	}
	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", t.url, err)
	}
	t.conn = conn
	t.logger.Debug("websocket connected", "url", t.url)
	go t.readPump()
	return nil
}

func (t *WebSocketTransport) readPump() {
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Debug("websocket read failed", "err", err)
			}
			t.shutdown(err)
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		select {
		case t.incoming <- data:
		case <-t.done:
			return
		}
	}
}

func (t *WebSocketTransport) Send(data []byte) error {
	if t.conn == nil {
		return ErrClosed
	}
	select {
	case <-t.done:
		return ErrClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(websocketWriteWait))
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *WebSocketTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.incoming:
		return data, nil
	default:
	}

	select {
	case data := <-t.incoming:
		return data, nil
	case <-t.done:
		if t.readErr != nil && !websocket.IsCloseError(t.readErr, websocket.CloseNormalClosure) {
			return nil, errors.Join(ErrClosed, t.readErr)
		}
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *WebSocketTransport) Close() error {
	return t.shutdown(nil)
}

// Close the transport, recording cause as the reason Receive fails
func (t *WebSocketTransport) shutdown(cause error) error {
	var err error
	t.closeOnce.Do(func() {
		t.readErr = cause
		close(t.done)
		if t.conn == nil {
			return
		}
		t.writeMu.Lock()
		t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(websocketWriteWait),
		)
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// An http.Handler serving each websocket connection with server.
func NewWebSocketHandler(server *protocol.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Debug("websocket upgrade failed", "err", err)
			return
		}
		t := newAcceptedWebSocket(conn)
		defer t.Close()

		if err := server.ServeConn(r.Context(), t); err != nil && !errors.Is(err, ErrClosed) {
			t.logger.Debug("websocket connection ended", "err", err)
		}
	})
}
