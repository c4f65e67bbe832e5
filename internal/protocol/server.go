package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var (
	errBadPassword      = errors.New("bad password")
	errEmptyUsername    = errors.New("empty username")
	errNotAuthenticated = errors.New("message before authentication")
)

// The server side of one client connection.
// Send must be safe to call concurrently with Receive and with other calls of Send.
type Conn interface {
	Send(data []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

type ServerConfig struct {
	// Required of every client if not empty
	Password    string
	WelcomeText string
	// Names of the channels under the root channel
	Channels []string
	// Relay audio back to the user who sent it as well as to the rest of the channel
	EchoAudio bool
}

type serverClient struct {
	conn Conn
	user User
}

// Server is a reference relay server: it tracks users and channels and forwards each user's
// audio to everyone in the same channel.
type Server struct {
	logger *slog.Logger
	config ServerConfig

	mu          sync.Mutex
	nextSession uint32
	clients     map[uint32]*serverClient
	channels    []Channel
}

func NewServer(config ServerConfig) *Server {
	channels := []Channel{{ID: 0, Name: "Root"}}
	for i, name := range config.Channels {
		channels = append(channels, Channel{ID: uint32(i + 1), Name: name, Parent: 0})
	}
	return &Server{
		logger:      slog.Default().With("server uuid", uuid.New()),
		config:      config,
		nextSession: 1,
		clients:     make(map[uint32]*serverClient),
		channels:    channels,
	}
}

// Number of authenticated clients
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Serve one connection until it fails, the client misbehaves, or ctx is cancelled.
func (s *Server) ServeConn(ctx context.Context, conn Conn) error {
	c := &serverConn{
		server: s,
		conn:   conn,
		logger: s.logger.With("connection uuid", uuid.New()),
	}
	defer c.leave()

	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			return err
		}
		c.splitter.write(data)

		for {
			typ, body, ok, err := c.splitter.next()
			if err != nil {
				c.logger.Warn("dropping connection", "err", err)
				return err
			}
			if !ok {
				break
			}
			if err := c.handle(typ, body); err != nil {
				c.logger.Debug("closing connection", "err", err)
				return err
			}
		}
	}
}

type serverConn struct {
	server   *Server
	conn     Conn
	logger   *slog.Logger
	splitter splitter
	session  uint32
}

func (c *serverConn) handle(typ MessageType, body []byte) error {
	if c.session == 0 {
		return c.handleHandshake(typ, body)
	}

	switch typ {
	case MessageAudio:
		audio, err := decodeAudio(body)
		if err != nil {
			return err
		}
		c.server.relayAudio(c.session, audio)
	case MessageUserState:
		var request User
		if err := decodeMessage(typ, body, &request); err != nil {
			return err
		}
		return c.server.moveUser(c.session, request.ChannelID)
	case MessagePing:
		return c.conn.Send(AppendPrefixed(nil, MessagePing, body))
	case MessageVersion:
	default:
		return fmt.Errorf("%w from client: %s", errUnexpectedMessage, typ)
	}
	return nil
}

func (c *serverConn) handleHandshake(typ MessageType, body []byte) error {
	switch typ {
	case MessageVersion:
		return c.conn.Send(encodeMessage(MessageVersion, versionMessage{Version: ProtocolVersion, Release: "reference"}))
	case MessageAuthenticate:
		var authenticate authenticateMessage
		if err := decodeMessage(typ, body, &authenticate); err != nil {
			return err
		}
		if err := c.server.authenticate(authenticate); err != nil {
			c.logger.Info("rejecting client", "username", authenticate.Username, "err", err)
			return errors.Join(err, c.conn.Send(encodeMessage(MessageReject, rejectMessage{Reason: err.Error()})))
		}
		session, err := c.server.join(c.conn, authenticate.Username)
		if err != nil {
			return err
		}
		c.session = session
		c.logger = c.logger.With("session", session)
		c.logger.Info("client joined", "username", authenticate.Username)
		return nil
	case MessagePing:
		return nil
	default:
		return fmt.Errorf("%w: %s", errNotAuthenticated, typ)
	}
}

func (c *serverConn) leave() {
	if c.session == 0 {
		return
	}
	c.server.leave(c.session)
	c.logger.Info("client left")
}

func (s *Server) authenticate(m authenticateMessage) error {
	if m.Username == "" {
		return errEmptyUsername
	}
	if s.config.Password != "" && m.Password != s.config.Password {
		return errBadPassword
	}
	return nil
}

// Register a client, send it the server state and announce it to everyone else
func (s *Server) join(conn Conn, username string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.nextSession
	s.nextSession++
	client := &serverClient{conn: conn, user: User{Session: session, Name: username, ChannelID: 0}}
	s.clients[session] = client

	var state []byte
	for _, channel := range s.channels {
		state = append(state, encodeMessage(MessageChannelState, channel)...)
	}
	for _, other := range s.clients {
		state = append(state, encodeMessage(MessageUserState, other.user)...)
	}
	state = append(state, encodeMessage(MessageServerSync, serverSyncMessage{Session: session, Welcome: s.config.WelcomeText})...)
	if err := conn.Send(state); err != nil {
		delete(s.clients, session)
		return 0, err
	}

	s.broadcastLocked(encodeMessage(MessageUserState, client.user), session)
	return session, nil
}

func (s *Server) leave(session uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clients, session)
	s.broadcastLocked(encodeMessage(MessageUserRemove, userRemoveMessage{Session: session}), 0)
}

func (s *Server) moveUser(session uint32, channelID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(channelID) >= len(s.channels) {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, channelID)
	}
	client := s.clients[session]
	client.user.ChannelID = channelID
	s.broadcastLocked(encodeMessage(MessageUserState, client.user), 0)
	return nil
}

func (s *Server) relayAudio(session uint32, audio audioMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sender := s.clients[session]
	audio.Session = session
	data := encodeAudio(audio)
	for id, client := range s.clients {
		if client.user.ChannelID != sender.user.ChannelID {
			continue
		}
		if id == session && !s.config.EchoAudio {
			continue
		}
		if err := client.conn.Send(data); err != nil {
			s.logger.Debug("failed to relay audio", "session", id, "err", err)
		}
	}
}

// Send data to every client other than except. Callers hold s.mu.
func (s *Server) broadcastLocked(data []byte, except uint32) {
	for id, client := range s.clients {
		if id == except {
			continue
		}
		if err := client.conn.Send(data); err != nil {
			s.logger.Debug("failed to broadcast", "session", id, "err", err)
		}
	}
}
