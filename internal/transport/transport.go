// Package transport moves protocol bytes between the client and a server.
//
// A NetworkTransport is message oriented: each Send is delivered as one Receive on the other end,
// in order. The protocol layer does its own framing so it does not rely on this.
package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrClosed = errors.New("transport closed")

	errUnknownTransport = errors.New("unknown transport")
)

type NetworkTransport interface {
	// Connect to the remote end. Must be called once before Send or Receive.
	Open(ctx context.Context) error
	// Safe to call concurrently with Receive
	Send(data []byte) error
	// Block until data arrives, the transport fails or closes, or ctx is done.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

const (
	KindWebSocket = "websocket"
	KindWebRTC    = "webrtc"
)

type Config struct {
	// STUN/TURN server URLs for WebRTC
	ICEServers []string
}

// Create an unopened transport of the given kind that will connect to address.
func New(kind string, address string, config Config) (NetworkTransport, error) {
	switch kind {
	case KindWebSocket:
		return NewWebSocketTransport(address), nil
	case KindWebRTC:
		return NewWebRTCTransport(address, config.ICEServers), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownTransport, kind)
	}
}

// Kinds accepted by New
func Kinds() []string {
	return []string{KindWebSocket, KindWebRTC}
}
