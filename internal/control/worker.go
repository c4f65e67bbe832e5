package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/pipeline"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/protocol"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/rpc"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/transport"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/framed"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/ringbuf"
	"github.com/google/uuid"
)

// A connection attempt or an established connection
type connection struct {
	generation int
	ctx        context.Context
	cancel     context.CancelFunc

	address  string
	username string
	password string

	// nil until dialing completes
	transport transport.NetworkTransport
	// set while the handshake is in progress
	handshake protocol.Handshake
	// set once connected
	session protocol.Session

	// Tags of connect requests waiting for the handshake
	pending []string
}

type dialResult struct {
	generation int
	transport  transport.NetworkTransport
	err        error
}

type receiveResult struct {
	generation int
	data       []byte
	err        error
}

// Worker is the network context.
//
// Everything it owns is touched only from the goroutine running Run: requests from the parent,
// dial results, data from the server and the poll ticker are all handled one at a time in its loop.
// Dialing and reading from the transport happen on helper goroutines that post their results back.
type Worker struct {
	logger *slog.Logger
	warn   *utils.RateLimitedLogger
	config Config
	stats  *pipeline.Stats

	dispatcher *rpc.Dispatcher
	outgoing   *framed.Reader[uint8]
	incoming   *ringbuf.RingBuffer[uint8]

	generation int
	conn       *connection

	dials    chan dialResult
	received chan receiveResult
	stopped  chan struct{}

	frameNumber    uint64
	talking        map[uint32]time.Time
	tooLargeLogged bool
}

func NewWorker(config Config, stats *pipeline.Stats) *Worker {
	logger := slog.Default().With("network worker uuid", uuid.New())
	return &Worker{
		logger:   logger,
		warn:     utils.NewRateLimitedLogger(logger, time.Second, 1),
		config:   config,
		stats:    stats,
		dials:    make(chan dialResult),
		received: make(chan receiveResult),
		stopped:  make(chan struct{}),
		talking:  make(map[uint32]time.Time),
	}
}

// Run the worker until port closes. Suitable for pipeline.Spawn.
func (w *Worker) Run(port rpc.Port) {
	ctx := context.Background()

	dispatcher, err := pipeline.AwaitConfiguration(ctx, port, func() error { return nil }, w.configure)
	if err != nil {
		w.logger.Error("network worker bootstrap failed", "err", err)
		return
	}
	w.dispatcher = dispatcher
	w.register()

	defer close(w.stopped)
	defer w.closeConnection(ctx, rpc.ErrClosed)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-port.Done():
			w.logger.Debug("network worker stopping")
			return
		case m := <-port.Receive():
			w.dispatcher.Dispatch(ctx, m)
		case r := <-w.dials:
			w.onDial(ctx, r)
		case r := <-w.received:
			w.onReceive(ctx, r, time.Now())
		case now := <-ticker.C:
			w.tick(ctx, now)
		}
	}
}

func (w *Worker) configure(config pipeline.WorkerConfig) error {
	outgoingStorage, err := config.Buffer(pipeline.BufferCaptureFramed, ringbuf.KindUint8)
	if err != nil {
		return err
	}
	incomingStorage, err := config.Buffer(pipeline.BufferPlaybackFramed, ringbuf.KindUint8)
	if err != nil {
		return err
	}

	outgoing, err := ringbuf.New[uint8](outgoingStorage)
	if err != nil {
		return err
	}
	incoming, err := ringbuf.New[uint8](incomingStorage)
	if err != nil {
		return err
	}
	w.outgoing = framed.NewReader(outgoing, make([]uint8, framed.MaxPayload[uint8]()))
	w.incoming = incoming
	return nil
}

func (w *Worker) register() {
	w.dispatcher.HandleCommand(CommandConnect, w.handleConnect)
	w.dispatcher.HandleCommand(CommandDisconnect, w.handleDisconnect)
	w.dispatcher.HandleCommand(CommandSwitchChannel, w.handleSwitchChannel)

	w.dispatcher.HandleQuery(QuerySession, w.withSession(func(session protocol.Session, _ rpc.Message) (any, error) {
		return session.SessionID(), nil
	}))
	w.dispatcher.HandleQuery(QueryUsers, w.withSession(func(session protocol.Session, _ rpc.Message) (any, error) {
		return session.Users(), nil
	}))
	w.dispatcher.HandleQuery(QueryChannels, w.withSession(func(session protocol.Session, _ rpc.Message) (any, error) {
		return session.Channels(), nil
	}))
	w.dispatcher.HandleQuery(QueryUser, w.withSession(func(session protocol.Session, m rpc.Message) (any, error) {
		id, ok := m.IntParam(paramID)
		if !ok {
			return nil, fmt.Errorf("%w %s", errMissingParam, paramID)
		}
		user, ok := session.User(uint32(id))
		if !ok {
			return nil, fmt.Errorf("%w: %d", protocol.ErrUnknownUser, id)
		}
		return user, nil
	}))
	w.dispatcher.HandleQuery(QueryChannel, w.withSession(func(session protocol.Session, m rpc.Message) (any, error) {
		id, ok := m.IntParam(paramID)
		if !ok {
			return nil, fmt.Errorf("%w %s", errMissingParam, paramID)
		}
		channel, ok := session.Channel(uint32(id))
		if !ok {
			return nil, fmt.Errorf("%w: %d", protocol.ErrUnknownChannel, id)
		}
		return channel, nil
	}))
}

// Adapt a query on the connected session into a handler. Before connecting every query fails.
func (w *Worker) withSession(query func(protocol.Session, rpc.Message) (any, error)) rpc.Handler {
	return func(ctx context.Context, m rpc.Message) {
		if w.conn == nil || w.conn.session == nil {
			w.dispatcher.ReplyError(ctx, m.Tag, ErrNotConnected)
			return
		}
		data, err := query(w.conn.session, m)
		if err != nil {
			w.dispatcher.ReplyError(ctx, m.Tag, err)
			return
		}
		w.dispatcher.Reply(ctx, m.Tag, data)
	}
}

// --------------------------------------------------------------------------------
// Connection lifecycle

func (w *Worker) handleConnect(ctx context.Context, m rpc.Message) {
	address := m.StringParam(paramAddress)
	if address == "" {
		w.dispatcher.ReplyError(ctx, m.Tag, fmt.Errorf("%w %s", errMissingParam, paramAddress))
		return
	}
	username := m.StringParam(paramUsername)
	password := m.StringParam(paramPassword)

	if c := w.conn; c != nil && c.address == address && c.username == username {
		if c.session != nil {
			w.dispatcher.Reply(ctx, m.Tag, w.connectReply(c.session))
			return
		}
		c.pending = append(c.pending, m.Tag)
		return
	}

	w.closeConnection(ctx, errConnectAborted)

	w.generation++
	connCtx, cancel := context.WithCancel(context.Background())
	w.conn = &connection{
		generation: w.generation,
		ctx:        connCtx,
		cancel:     cancel,
		address:    address,
		username:   username,
		password:   password,
		pending:    []string{m.Tag},
	}
	w.logger.Info("connecting", "address", address, "username", username)
	go w.dial(connCtx, w.generation, address)
}

func (w *Worker) dial(ctx context.Context, generation int, address string) {
	t, err := w.config.Dialer(address)
	if err == nil {
		openCtx, cancel := context.WithTimeout(ctx, w.config.ConnectTimeout)
		err = t.Open(openCtx)
		cancel()
		if err != nil {
			t.Close()
			t = nil
		}
	}

	select {
	case w.dials <- dialResult{generation: generation, transport: t, err: err}:
	case <-w.stopped:
		if t != nil {
			t.Close()
		}
	}
}

func (w *Worker) onDial(ctx context.Context, r dialResult) {
	c := w.conn
	if c == nil || c.generation != r.generation {
		if r.transport != nil {
			r.transport.Close()
		}
		return
	}
	if r.err != nil {
		w.logger.Warn("failed to connect", "address", c.address, "err", r.err)
		w.closeConnection(ctx, fmt.Errorf("connecting to %s: %w", c.address, r.err))
		return
	}

	c.transport = r.transport
	c.handshake = protocol.NewHandshake(c.username, c.password)
	if err := w.flushHandshake(c); err != nil {
		w.closeConnection(ctx, err)
		return
	}
	go w.pump(c.ctx, c.generation, c.transport)
}

// Read from t until it fails, posting everything to the loop
func (w *Worker) pump(ctx context.Context, generation int, t transport.NetworkTransport) {
	for {
		data, err := t.Receive(ctx)
		select {
		case w.received <- receiveResult{generation: generation, data: data, err: err}:
		case <-w.stopped:
			return
		}
		if err != nil {
			return
		}
	}
}

func (w *Worker) flushHandshake(c *connection) error {
	for _, data := range c.handshake.Outgoing() {
		if err := c.transport.Send(data); err != nil {
			return fmt.Errorf("sending handshake to %s: %w", c.address, err)
		}
	}
	return nil
}

func (w *Worker) onReceive(ctx context.Context, r receiveResult, now time.Time) {
	c := w.conn
	if c == nil || c.generation != r.generation {
		return
	}
	if r.err != nil {
		if c.session != nil {
			w.logger.Warn("connection lost", "address", c.address, "err", r.err)
		}
		w.closeConnection(ctx, fmt.Errorf("%w: %w", errConnectionLost, r.err))
		return
	}

	if c.session == nil {
		w.continueHandshake(ctx, c, r.data, now)
		return
	}

	if err := c.session.Submit(r.data); err != nil {
		w.forwardEvents(ctx, c.session, now)
		w.sessionFailed(ctx, err)
		return
	}
	w.forwardEvents(ctx, c.session, now)
}

func (w *Worker) continueHandshake(ctx context.Context, c *connection, data []byte, now time.Time) {
	if err := c.handshake.Submit(data); err != nil {
		w.logger.Warn("handshake failed", "address", c.address, "err", err)
		w.closeConnection(ctx, fmt.Errorf("handshake with %s: %w", c.address, err))
		return
	}
	if err := w.flushHandshake(c); err != nil {
		w.closeConnection(ctx, err)
		return
	}
	if !c.handshake.IsConnected() {
		return
	}

	session, err := c.handshake.PromoteToConnected()
	if err != nil {
		w.closeConnection(ctx, fmt.Errorf("handshake with %s: %w", c.address, err))
		return
	}
	c.session = session
	c.handshake = nil
	w.frameNumber = 0
	w.logger.Info("connected", "address", c.address, "session", session.SessionID())

	reply := w.connectReply(session)
	for _, tag := range c.pending {
		w.dispatcher.Reply(ctx, tag, reply)
	}
	c.pending = nil
	w.forwardEvents(ctx, session, now)
}

func (w *Worker) sessionFailed(ctx context.Context, err error) {
	if errors.Is(err, protocol.ErrMessageTooLarge) {
		if !w.tooLargeLogged {
			w.tooLargeLogged = true
			w.logger.Error("server sent an oversized message", "err", err)
		}
	} else {
		w.logger.Warn("session failed", "err", err)
	}
	w.emit(ctx, EventError, EventData{Reason: err.Error()})
	w.closeConnection(ctx, err)
}

func (w *Worker) handleDisconnect(ctx context.Context, m rpc.Message) {
	w.closeConnection(ctx, errConnectAborted)
	w.dispatcher.Reply(ctx, m.Tag, nil)
}

// Tear down the current connection, if any, failing connect requests still waiting with reason.
// An established session is reported to the parent as disconnected.
func (w *Worker) closeConnection(ctx context.Context, reason error) {
	c := w.conn
	if c == nil {
		return
	}
	w.conn = nil
	c.cancel()
	if c.transport != nil {
		c.transport.Close()
	}

	for _, tag := range c.pending {
		w.dispatcher.ReplyError(ctx, tag, reason)
	}
	for session := range w.talking {
		w.stopTalking(ctx, c.session, session)
	}
	if c.session != nil {
		w.logger.Info("disconnected", "address", c.address, "reason", reason)
		w.emit(ctx, EventDisconnected, EventData{Reason: reason.Error()})
	}
}

func (w *Worker) connectReply(session protocol.Session) ConnectReply {
	return ConnectReply{
		Session:  session.SessionID(),
		Welcome:  session.WelcomeText(),
		Users:    session.Users(),
		Channels: session.Channels(),
	}
}

func (w *Worker) handleSwitchChannel(ctx context.Context, m rpc.Message) {
	c := w.conn
	if c == nil || c.session == nil {
		w.dispatcher.ReplyError(ctx, m.Tag, ErrNotConnected)
		return
	}
	id, ok := m.IntParam(paramChannelID)
	if !ok {
		w.dispatcher.ReplyError(ctx, m.Tag, fmt.Errorf("%w %s", errMissingParam, paramChannelID))
		return
	}
	data, err := c.session.SwitchChannel(uint32(id))
	if err != nil {
		w.dispatcher.ReplyError(ctx, m.Tag, err)
		return
	}
	if err := c.transport.Send(data); err != nil {
		w.dispatcher.ReplyError(ctx, m.Tag, err)
		return
	}
	w.dispatcher.Reply(ctx, m.Tag, nil)
}

// --------------------------------------------------------------------------------
// Audio and events

// Move every encoded frame from capture.framed to the server, and expire talking users.
// Frames captured while not connected are discarded.
func (w *Worker) tick(ctx context.Context, now time.Time) {
	var session protocol.Session
	if w.conn != nil {
		session = w.conn.session
	}

	for {
		message, ok, err := w.outgoing.ReadSizedMessage()
		if err != nil {
			w.warn.Error("capture.framed is corrupt", "err", err)
			break
		}
		if !ok {
			break
		}
		if session == nil {
			continue
		}

		data := session.EncodeAudio(w.frameNumber, message)
		w.frameNumber++
		if err := w.conn.transport.Send(data); err != nil {
			w.warn.Warn("failed to send audio", "err", err)
			continue
		}
		w.stats.FramesSent.Add(1)
	}

	for id, last := range w.talking {
		if now.Sub(last) >= w.config.TalkingTimeout {
			w.stopTalking(ctx, session, id)
		}
	}
}

func (w *Worker) forwardEvents(ctx context.Context, session protocol.Session, now time.Time) {
	for {
		event, ok := session.NextEvent()
		if !ok {
			return
		}

		switch event.Type {
		case protocol.EventUserSentAudio:
			w.stats.FramesReceived.Add(1)
			if _, talking := w.talking[event.User.Session]; !talking {
				w.emit(ctx, EventUserStartedTalking, EventData{User: event.User})
			}
			w.talking[event.User.Session] = now

			if !framed.WriteSizedMessage(event.Audio, w.incoming) {
				w.stats.NetworkDrops.Add(1)
				w.warn.Warn("playback.framed is full, dropping received frame",
					"session", event.User.Session, "size", len(event.Audio))
			}
		case protocol.EventUserLeft:
			if _, talking := w.talking[event.User.Session]; talking {
				w.stopTalking(ctx, session, event.User.Session)
			}
			w.emit(ctx, event.Type.String(), EventData{User: event.User, Channel: event.Channel})
		default:
			w.emit(ctx, event.Type.String(), EventData{User: event.User, Channel: event.Channel})
		}
	}
}

func (w *Worker) stopTalking(ctx context.Context, session protocol.Session, id uint32) {
	delete(w.talking, id)
	user := protocol.User{Session: id}
	if session != nil {
		if known, ok := session.User(id); ok {
			user = known
		}
	}
	w.emit(ctx, EventUserStoppedTalking, EventData{User: user})
}

func (w *Worker) emit(ctx context.Context, eventType string, data EventData) {
	if err := w.dispatcher.Emit(ctx, eventType, data); err != nil {
		w.logger.Debug("could not emit event", "type", eventType, "err", err)
	}
}
