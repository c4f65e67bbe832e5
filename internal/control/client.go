package control

import (
	"context"
	"fmt"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/protocol"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/rpc"
)

// Client is the parent's view of a network worker: typed wrappers over its commands and queries.
type Client struct {
	caller         *rpc.Caller
	connectTimeout time.Duration
}

func NewClient(caller *rpc.Caller, connectTimeout time.Duration) *Client {
	return &Client{caller: caller, connectTimeout: connectTimeout}
}

// Connect to the server at address and wait for the handshake to complete.
// Connecting again to the server already connected to returns the current session.
func (c *Client) Connect(ctx context.Context, address string, username string, password string) (ConnectReply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	reply, err := c.caller.Request(ctx, rpc.Message{
		Command: CommandConnect,
		Params: map[string]any{
			paramAddress:  address,
			paramUsername: username,
			paramPassword: password,
		},
	})
	if err != nil {
		return ConnectReply{}, err
	}
	return as[ConnectReply](reply)
}

// Disconnect from the server. Does not wait for the worker; a "disconnected" event follows
// if a session was established.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.caller.Send(ctx, rpc.Message{Command: CommandDisconnect})
}

func (c *Client) SwitchChannel(ctx context.Context, channelID uint32) error {
	_, err := c.caller.Request(ctx, rpc.Message{
		Command: CommandSwitchChannel,
		Params:  map[string]any{paramChannelID: channelID},
	})
	return err
}

func (c *Client) Session(ctx context.Context) (uint32, error) {
	return query[uint32](ctx, c.caller, QuerySession, nil)
}

func (c *Client) Users(ctx context.Context) ([]protocol.User, error) {
	return query[[]protocol.User](ctx, c.caller, QueryUsers, nil)
}

func (c *Client) Channels(ctx context.Context) ([]protocol.Channel, error) {
	return query[[]protocol.Channel](ctx, c.caller, QueryChannels, nil)
}

func (c *Client) User(ctx context.Context, session uint32) (protocol.User, error) {
	return query[protocol.User](ctx, c.caller, QueryUser, map[string]any{paramID: session})
}

func (c *Client) Channel(ctx context.Context, id uint32) (protocol.Channel, error) {
	return query[protocol.Channel](ctx, c.caller, QueryChannel, map[string]any{paramID: id})
}

// Events from the worker. The Data of each is an EventData.
func (c *Client) Events() <-chan rpc.Message {
	return c.caller.Events()
}

func query[T any](ctx context.Context, caller *rpc.Caller, name string, params map[string]any) (T, error) {
	reply, err := caller.Request(ctx, rpc.Message{Query: name, Params: params})
	if err != nil {
		var zero T
		return zero, err
	}
	return as[T](reply)
}

func as[T any](reply rpc.Message) (T, error) {
	data, ok := reply.Data.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %T", errUnexpectedReply, reply.Data)
	}
	return data, nil
}
