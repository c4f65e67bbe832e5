// Package protocol is a small framed voice chat protocol: a client engine that is fed raw transport
// bytes and emits events, and a reference server that relays audio between its users.
//
// The client engine does no I/O. Bytes received from the transport are handed to Submit, bytes to send
// are collected from Outgoing (during the handshake) or returned directly (once in session).
package protocol

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
)

var (
	ErrRejected       = errors.New("server rejected authentication")
	ErrNotConnected   = errors.New("handshake has not completed")
	ErrUnknownUser    = errors.New("unknown user")
	ErrUnknownChannel = errors.New("unknown channel")

	errUnexpectedMessage = errors.New("unexpected message")
)

type EventType int

const (
	EventUserJoined EventType = iota
	EventUserLeft
	EventUserStateChanged
	EventChannelStateChanged
	EventUserSentAudio
)

func (t EventType) String() string {
	switch t {
	case EventUserJoined:
		return "user_joined"
	case EventUserLeft:
		return "user_left"
	case EventUserStateChanged:
		return "user_state_changed"
	case EventChannelStateChanged:
		return "channel_state_changed"
	case EventUserSentAudio:
		return "user_sent_audio"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Something that happened on the server, produced by Session.Submit.
// Audio is only set for EventUserSentAudio and is owned by the receiver.
type Event struct {
	Type        EventType
	User        User
	Channel     Channel
	FrameNumber uint64
	Audio       []byte
}

// Handshake is the engine before the server has accepted us.
type Handshake interface {
	// Feed bytes received from the transport
	Submit(data []byte) error
	IsConnected() bool
	// Consume the handshake and return the connected session.
	// Returns ErrNotConnected if the server has not yet completed the handshake.
	PromoteToConnected() (Session, error)
	// Bytes that must be sent to the server, drained by the call
	Outgoing() [][]byte
}

// Session is the engine once connected.
type Session interface {
	// Feed bytes received from the transport. Resulting events are available from NextEvent.
	Submit(data []byte) error
	NextEvent() (Event, bool)

	// Users ordered by session id
	Users() []User
	// Channels ordered by id
	Channels() []Channel
	User(session uint32) (User, bool)
	Channel(id uint32) (Channel, bool)
	SessionID() uint32
	WelcomeText() string

	// Bytes asking the server to move us to channel id
	SwitchChannel(id uint32) ([]byte, error)
	// Wrap one encoded audio frame for sending
	EncodeAudio(frameNumber uint64, payload []byte) []byte
}

// Server state mirrored by the client
type state struct {
	users    map[uint32]User
	channels map[uint32]Channel
}

func newState() state {
	return state{
		users:    make(map[uint32]User),
		channels: make(map[uint32]Channel),
	}
}

func (s *state) sortedUsers() []User {
	users := slices.Collect(maps.Values(s.users))
	slices.SortFunc(users, func(a, b User) int { return cmp.Compare(a.Session, b.Session) })
	return users
}

func (s *state) sortedChannels() []Channel {
	channels := slices.Collect(maps.Values(s.channels))
	slices.SortFunc(channels, func(a, b Channel) int { return cmp.Compare(a.ID, b.ID) })
	return channels
}

type clientHandshake struct {
	username string
	password string

	splitter splitter
	outgoing [][]byte
	state    state

	authenticated bool
	connected     bool
	session       uint32
	welcome       string
	err           error
}

// Start a handshake that will authenticate as username.
// The version message is queued immediately.
func NewHandshake(username, password string) Handshake {
	h := &clientHandshake{
		username: username,
		password: password,
		state:    newState(),
	}
	h.outgoing = append(h.outgoing, encodeMessage(MessageVersion, versionMessage{Version: ProtocolVersion}))
	return h
}

func (h *clientHandshake) Submit(data []byte) error {
	if h.err != nil {
		return h.err
	}
	h.splitter.write(data)

	// Anything after ServerSync belongs to the session and stays buffered
	for !h.connected {
		typ, body, ok, err := h.splitter.next()
		if err != nil {
			h.err = err
			return err
		}
		if !ok {
			return nil
		}
		if err := h.handle(typ, body); err != nil {
			h.err = err
			return err
		}
	}
	return nil
}

func (h *clientHandshake) handle(typ MessageType, body []byte) error {
	switch typ {
	case MessageVersion:
		var version versionMessage
		if err := decodeMessage(typ, body, &version); err != nil {
			return err
		}
		if version.Version != ProtocolVersion {
			return fmt.Errorf("%w: server speaks %q", ErrRejected, version.Version)
		}
		if !h.authenticated {
			h.authenticated = true
			h.outgoing = append(h.outgoing, encodeMessage(MessageAuthenticate, authenticateMessage{
				Username: h.username,
				Password: h.password,
			}))
		}
	case MessageReject:
		var reject rejectMessage
		if err := decodeMessage(typ, body, &reject); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrRejected, reject.Reason)
	case MessageChannelState:
		var channel Channel
		if err := decodeMessage(typ, body, &channel); err != nil {
			return err
		}
		h.state.channels[channel.ID] = channel
	case MessageUserState:
		var user User
		if err := decodeMessage(typ, body, &user); err != nil {
			return err
		}
		h.state.users[user.Session] = user
	case MessageUserRemove:
		var remove userRemoveMessage
		if err := decodeMessage(typ, body, &remove); err != nil {
			return err
		}
		delete(h.state.users, remove.Session)
	case MessageServerSync:
		var sync serverSyncMessage
		if err := decodeMessage(typ, body, &sync); err != nil {
			return err
		}
		h.session = sync.Session
		h.welcome = sync.Welcome
		h.connected = true
	case MessagePing, MessageAudio:
		// Nothing to do before we are in session
	default:
		return fmt.Errorf("%w during handshake: %s", errUnexpectedMessage, typ)
	}
	return nil
}

func (h *clientHandshake) IsConnected() bool {
	return h.connected
}

func (h *clientHandshake) Outgoing() [][]byte {
	outgoing := h.outgoing
	h.outgoing = nil
	return outgoing
}

func (h *clientHandshake) PromoteToConnected() (Session, error) {
	if h.err != nil {
		return nil, h.err
	}
	if !h.connected {
		return nil, ErrNotConnected
	}

	s := &clientSession{
		splitter: h.splitter,
		state:    h.state,
		session:  h.session,
		welcome:  h.welcome,
	}
	// Bytes that followed ServerSync in the same read
	if err := s.drain(); err != nil {
		return nil, err
	}
	return s, nil
}

type clientSession struct {
	splitter splitter
	state    state
	session  uint32
	welcome  string

	events []Event
	err    error
}

func (s *clientSession) Submit(data []byte) error {
	if s.err != nil {
		return s.err
	}
	s.splitter.write(data)
	return s.drain()
}

func (s *clientSession) drain() error {
	for {
		typ, body, ok, err := s.splitter.next()
		if err != nil {
			s.err = err
			return err
		}
		if !ok {
			return nil
		}
		if err := s.handle(typ, body); err != nil {
			s.err = err
			return err
		}
	}
}

func (s *clientSession) handle(typ MessageType, body []byte) error {
	switch typ {
	case MessageAudio:
		audio, err := decodeAudio(body)
		if err != nil {
			return err
		}
		user, ok := s.state.users[audio.Session]
		if !ok {
			user = User{Session: audio.Session}
		}
		s.events = append(s.events, Event{
			Type:        EventUserSentAudio,
			User:        user,
			FrameNumber: audio.FrameNumber,
			Audio:       slices.Clone(audio.Payload),
		})
	case MessageUserState:
		var user User
		if err := decodeMessage(typ, body, &user); err != nil {
			return err
		}
		eventType := EventUserStateChanged
		if _, known := s.state.users[user.Session]; !known {
			eventType = EventUserJoined
		}
		s.state.users[user.Session] = user
		s.events = append(s.events, Event{Type: eventType, User: user, Channel: s.state.channels[user.ChannelID]})
	case MessageUserRemove:
		var remove userRemoveMessage
		if err := decodeMessage(typ, body, &remove); err != nil {
			return err
		}
		user, known := s.state.users[remove.Session]
		if !known {
			return nil
		}
		delete(s.state.users, remove.Session)
		s.events = append(s.events, Event{Type: EventUserLeft, User: user})
	case MessageChannelState:
		var channel Channel
		if err := decodeMessage(typ, body, &channel); err != nil {
			return err
		}
		s.state.channels[channel.ID] = channel
		s.events = append(s.events, Event{Type: EventChannelStateChanged, Channel: channel})
	case MessagePing:
	case MessageReject:
		var reject rejectMessage
		if err := decodeMessage(typ, body, &reject); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrRejected, reject.Reason)
	default:
		return fmt.Errorf("%w in session: %s", errUnexpectedMessage, typ)
	}
	return nil
}

func (s *clientSession) NextEvent() (Event, bool) {
	if len(s.events) == 0 {
		return Event{}, false
	}
	event := s.events[0]
	s.events[0] = Event{}
	s.events = s.events[1:]
	return event, true
}

func (s *clientSession) Users() []User {
	return s.state.sortedUsers()
}

func (s *clientSession) Channels() []Channel {
	return s.state.sortedChannels()
}

func (s *clientSession) User(session uint32) (User, bool) {
	user, ok := s.state.users[session]
	return user, ok
}

func (s *clientSession) Channel(id uint32) (Channel, bool) {
	channel, ok := s.state.channels[id]
	return channel, ok
}

func (s *clientSession) SessionID() uint32 {
	return s.session
}

func (s *clientSession) WelcomeText() string {
	return s.welcome
}

func (s *clientSession) SwitchChannel(id uint32) ([]byte, error) {
	if _, ok := s.state.channels[id]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	self := s.state.users[s.session]
	self.Session = s.session
	self.ChannelID = id
	return encodeMessage(MessageUserState, self), nil
}

func (s *clientSession) EncodeAudio(frameNumber uint64, payload []byte) []byte {
	return encodeAudio(audioMessage{
		Session:     s.session,
		FrameNumber: frameNumber,
		Payload:     payload,
	})
}
