package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

const ProtocolVersion = "voicering/1"

const audioHeaderSize = 4 + 8

var (
	errShortAudio = errors.New("audio message shorter than its header")
)

type User struct {
	Session   uint32 `json:"session"`
	Name      string `json:"name"`
	ChannelID uint32 `json:"channelID"`
}

type Channel struct {
	ID     uint32 `json:"id"`
	Name   string `json:"name"`
	Parent uint32 `json:"parent"`
}

type versionMessage struct {
	Version string `json:"version"`
	Release string `json:"release,omitempty"`
}

type authenticateMessage struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

type rejectMessage struct {
	Reason string `json:"reason"`
}

type serverSyncMessage struct {
	Session uint32 `json:"session"`
	Welcome string `json:"welcome,omitempty"`
}

type userRemoveMessage struct {
	Session uint32 `json:"session"`
}

type audioMessage struct {
	Session     uint32
	FrameNumber uint64
	Payload     []byte
}

// Encode a JSON bodied message
func encodeMessage(typ MessageType, body any) []byte {
	data, err := json.Marshal(body)
	if err != nil {
		// Only fixed message structs are ever encoded
		panic(fmt.Sprintf("encoding %s: %v", typ, err))
	}
	return AppendPrefixed(make([]byte, 0, PrefixHeaderSize+len(data)), typ, data)
}

func decodeMessage(typ MessageType, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding %s: %w", typ, err)
	}
	return nil
}

func encodeAudio(m audioMessage) []byte {
	dst := make([]byte, 0, PrefixHeaderSize+audioHeaderSize+len(m.Payload))
	dst = binary.BigEndian.AppendUint16(dst, uint16(MessageAudio))
	dst = binary.BigEndian.AppendUint32(dst, uint32(audioHeaderSize+len(m.Payload)))
	dst = binary.BigEndian.AppendUint32(dst, m.Session)
	dst = binary.BigEndian.AppendUint64(dst, m.FrameNumber)
	return append(dst, m.Payload...)
}

// Decode an audio body. The payload aliases body.
func decodeAudio(body []byte) (audioMessage, error) {
	if len(body) < audioHeaderSize {
		return audioMessage{}, errShortAudio
	}
	return audioMessage{
		Session:     binary.BigEndian.Uint32(body),
		FrameNumber: binary.BigEndian.Uint64(body[4:]),
		Payload:     body[audioHeaderSize:],
	}, nil
}
