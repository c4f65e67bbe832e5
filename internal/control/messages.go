// Package control runs the network context of a voice client: it owns the connection to the server,
// moves encoded audio between the pipeline's framed rings and the network, and answers the
// commands and queries of its parent.
package control

import (
	"errors"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/protocol"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/transport"
)

const (
	CommandConnect       = "connect"
	CommandDisconnect    = "disconnect"
	CommandSwitchChannel = "switch_channel"

	QueryUser     = "user"
	QueryUsers    = "users"
	QueryChannels = "channels"
	QueryChannel  = "channel"
	QuerySession  = "session"
)

// Events sent to the parent, in addition to the protocol.EventType names of server events
const (
	EventUserStartedTalking = "user_started_talking"
	EventUserStoppedTalking = "user_stopped_talking"
	EventDisconnected       = "disconnected"
	EventError              = "error"
)

const (
	paramAddress   = "address"
	paramUsername  = "username"
	paramPassword  = "password"
	paramChannelID = "channelID"
	paramID        = "id"
)

var (
	ErrNotConnected = errors.New("not connected to a server")

	errMissingParam    = errors.New("missing parameter")
	errConnectAborted  = errors.New("connection attempt abandoned")
	errConnectionLost  = errors.New("connection lost")
	errUnexpectedReply = errors.New("unexpected reply")
)

// The reply to a successful connect
type ConnectReply struct {
	Session  uint32
	Welcome  string
	Users    []protocol.User
	Channels []protocol.Channel
}

// Data of every server event forwarded to the parent
type EventData struct {
	User    protocol.User
	Channel protocol.Channel
	Reason  string
}

// Creates the transport for a server address
type Dialer func(address string) (transport.NetworkTransport, error)

type Config struct {
	// How often capture.framed is drained and talking timeouts are checked
	PollInterval time.Duration
	// A user is no longer talking after this long without audio
	TalkingTimeout time.Duration
	// Bound on dialing and opening a transport
	ConnectTimeout time.Duration
	Dialer         Dialer
}

func DefaultConfig(kind string, transportConfig transport.Config) Config {
	return Config{
		PollInterval:   30 * time.Millisecond,
		TalkingTimeout: 100 * time.Millisecond,
		ConnectTimeout: 10 * time.Second,
		Dialer: func(address string) (transport.NetworkTransport, error) {
			return transport.New(kind, address, transportConfig)
		},
	}
}
