package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const eventBufferSize = 64

var (
	ErrTimeout = errors.New("control request timed out")
	ErrRemote  = errors.New("control request failed")
)

// Caller is the requesting side of a control channel.
//
// Every request is sent with a fresh correlation tag, and a one-shot channel for its reply
// is registered under that tag before the request leaves. Replies are matched to their request
// by tag, whatever order they arrive in. A reply whose request has already given up (timed out,
// or was canceled) is dropped.
//
// Messages without a tag are events, and are delivered on Events.
type Caller struct {
	logger *slog.Logger
	port   Port

	pendingMu sync.Mutex
	pending   map[string]chan Message

	events chan Message
	done   chan struct{}
}

// Start a Caller reading replies and events from port.
func NewCaller(port Port) *Caller {
	c := &Caller{
		logger:  slog.Default().With("rpc caller uuid", uuid.New()),
		port:    port,
		pending: make(map[string]chan Message),
		events:  make(chan Message, eventBufferSize),
		done:    make(chan struct{}),
	}
	go c.listen()
	return c
}

func (c *Caller) listen() {
	defer close(c.done)
	defer close(c.events)

	for {
		select {
		case <-c.port.Done():
			return
		case m := <-c.port.Receive():
			if m.IsEvent() {
				c.deliverEvent(m)
				continue
			}

			c.pendingMu.Lock()
			replyChannel, ok := c.pending[m.Tag]
			delete(c.pending, m.Tag)
			c.pendingMu.Unlock()

			if !ok {
				c.logger.Debug("dropping reply with no pending request", "tag", m.Tag)
				continue
			}
			replyChannel <- m
		}
	}
}

func (c *Caller) deliverEvent(m Message) {
	select {
	case c.events <- m:
	default:
		c.logger.Warn("event buffer full, dropping event", "type", m.Type)
	}
}

// Send a request and wait for its reply, or until ctx is done.
//
// A reply carrying an error is returned along with an error wrapping ErrRemote.
// If ctx expires first the error wraps both ErrTimeout and the context error;
// a reply arriving afterwards is ignored.
func (c *Caller) Request(ctx context.Context, m Message) (Message, error) {
	m.Tag = uuid.NewString()
	replyChannel := make(chan Message, 1)

	c.pendingMu.Lock()
	c.pending[m.Tag] = replyChannel
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, m.Tag)
		c.pendingMu.Unlock()
	}()

	if err := c.port.Send(ctx, m); err != nil {
		return Message{}, c.wrapContextError(m, err)
	}

	select {
	case reply := <-replyChannel:
		if reply.Error != "" {
			return reply, fmt.Errorf("%w: %s %s: %s", ErrRemote, requestKind(m), m.Name(), reply.Error)
		}
		return reply, nil
	case <-c.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, c.wrapContextError(m, ctx.Err())
	}
}

func (c *Caller) wrapContextError(m Message, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		c.logger.Debug("request abandoned", "name", m.Name(), "tag", m.Tag, "err", err)
		return fmt.Errorf("%w: %s %s: %w", ErrTimeout, requestKind(m), m.Name(), err)
	}
	return err
}

// Send a message without waiting for any reply.
func (c *Caller) Send(ctx context.Context, m Message) error {
	return c.port.Send(ctx, m)
}

// Events (untagged messages) from the other side.
// Closed once the control channel is closed.
func (c *Caller) Events() <-chan Message {
	return c.events
}

// Number of requests still waiting for a reply
func (c *Caller) Pending() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// Close the control channel. Requests still waiting fail with ErrClosed.
func (c *Caller) Close() {
	c.port.Close()
	<-c.done
}

func requestKind(m Message) string {
	if m.Command != "" {
		return "command"
	}
	return "query"
}
