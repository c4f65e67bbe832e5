package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

var (
	errUnknownRequest = errors.New("unknown request")
)

// Handle one request. The handler answers with Dispatcher.Reply or Dispatcher.ReplyError,
// either before returning or later (e.g. once a connection completes).
type Handler func(ctx context.Context, request Message)

// Dispatcher is the responding side of a control channel.
//
// It does not read from its port itself: the owning context receives messages in its own loop,
// alongside whatever else it waits on, and hands requests to Dispatch.
type Dispatcher struct {
	logger   *slog.Logger
	port     Port
	commands map[string]Handler
	queries  map[string]Handler
}

func NewDispatcher(port Port) *Dispatcher {
	return &Dispatcher{
		logger:   slog.Default().With("rpc dispatcher uuid", uuid.New()),
		port:     port,
		commands: make(map[string]Handler),
		queries:  make(map[string]Handler),
	}
}

func (d *Dispatcher) HandleCommand(name string, handler Handler) {
	d.commands[name] = handler
}

func (d *Dispatcher) HandleQuery(name string, handler Handler) {
	d.queries[name] = handler
}

// Hand a received message to its handler.
// Requests without a handler are answered with an error; events are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, m Message) {
	var handler Handler
	var ok bool
	switch {
	case m.IsEvent():
		d.logger.Debug("ignoring event", "type", m.Type)
		return
	case m.Command != "":
		handler, ok = d.commands[m.Command]
	default:
		handler, ok = d.queries[m.Query]
	}

	if !ok {
		d.logger.Warn("no handler for request", "command", m.Command, "query", m.Query)
		d.ReplyError(ctx, m.Tag, fmt.Errorf("%w: %q", errUnknownRequest, m.Name()))
		return
	}
	handler(ctx, m)
}

// Answer the request with the given tag.
// Requests sent without a tag expect no answer, so nothing is sent for them.
func (d *Dispatcher) Reply(ctx context.Context, tag string, data any) error {
	if tag == "" {
		return nil
	}
	err := d.port.Send(ctx, Message{Tag: tag, Data: data})
	if err != nil {
		d.logger.Warn("could not send reply", "tag", tag, "err", err)
	}
	return err
}

// Answer the request with the given tag with a failure.
func (d *Dispatcher) ReplyError(ctx context.Context, tag string, replyErr error) error {
	if tag == "" {
		d.logger.Debug("untagged request failed", "err", replyErr)
		return nil
	}
	err := d.port.Send(ctx, Message{Tag: tag, Error: replyErr.Error()})
	if err != nil {
		d.logger.Warn("could not send error reply", "tag", tag, "err", err)
	}
	return err
}

// Send an untagged event to the other side.
func (d *Dispatcher) Emit(ctx context.Context, eventType string, data any) error {
	return d.port.Send(ctx, Message{Type: eventType, Data: data})
}
