package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Every protocol message is prefixed with a 6 byte header:
//
//	[type: uint16, big endian][size: uint32, big endian][body: size bytes]
const (
	PrefixTypeBytes  = 2
	PrefixSizeBytes  = 4
	PrefixHeaderSize = PrefixTypeBytes + PrefixSizeBytes

	// Largest body accepted from the network
	MaxMessageSize = 8192
)

type MessageType uint16

const (
	MessageVersion MessageType = iota
	MessageAuthenticate
	MessageReject
	MessageServerSync
	MessageChannelState
	MessageUserState
	MessageUserRemove
	MessageAudio
	MessagePing
)

func (t MessageType) String() string {
	switch t {
	case MessageVersion:
		return "Version"
	case MessageAuthenticate:
		return "Authenticate"
	case MessageReject:
		return "Reject"
	case MessageServerSync:
		return "ServerSync"
	case MessageChannelState:
		return "ChannelState"
	case MessageUserState:
		return "UserState"
	case MessageUserRemove:
		return "UserRemove"
	case MessageAudio:
		return "Audio"
	case MessagePing:
		return "Ping"
	default:
		return fmt.Sprintf("MessageType(%d)", uint16(t))
	}
}

var (
	ErrMessageTooLarge = errors.New("protocol message exceeds maximum size")
)

// Append one prefixed message to dst.
func AppendPrefixed(dst []byte, typ MessageType, body []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(typ))
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(body)))
	return append(dst, body...)
}

// Reassembles prefixed messages from a byte stream that may split or merge them arbitrarily.
type splitter struct {
	buf []byte
	err error
}

func (s *splitter) write(data []byte) {
	s.buf = append(s.buf, data...)
}

// The next complete message, if any. The body aliases the internal buffer
// and is only valid until the next call of write.
func (s *splitter) next() (MessageType, []byte, bool, error) {
	if s.err != nil {
		return 0, nil, false, s.err
	}
	if len(s.buf) < PrefixHeaderSize {
		return 0, nil, false, nil
	}

	typ := MessageType(binary.BigEndian.Uint16(s.buf))
	size := binary.BigEndian.Uint32(s.buf[PrefixTypeBytes:])
	if size > MaxMessageSize {
		s.err = fmt.Errorf("%w: %s of %d bytes", ErrMessageTooLarge, typ, size)
		return 0, nil, false, s.err
	}

	total := PrefixHeaderSize + int(size)
	if len(s.buf) < total {
		return 0, nil, false, nil
	}
	body := s.buf[PrefixHeaderSize:total]
	s.buf = s.buf[total:]
	return typ, body, true, nil
}

// Bytes received but not yet part of a complete message
func (s *splitter) buffered() int {
	return len(s.buf)
}
