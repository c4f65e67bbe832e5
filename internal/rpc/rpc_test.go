package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Serve requests on port until it closes, the way a context's own loop would.
func serve(ctx context.Context, port Port, dispatcher *Dispatcher) {
	for {
		select {
		case <-port.Done():
			return
		case <-ctx.Done():
			return
		case m := <-port.Receive():
			dispatcher.Dispatch(ctx, m)
		}
	}
}

func TestRequestReply(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	callerPort, responderPort := NewPipe(8)
	dispatcher := NewDispatcher(responderPort)
	dispatcher.HandleQuery("users", func(ctx context.Context, request Message) {
		dispatcher.Reply(ctx, request.Tag, []string{"alice", "bob"})
	})
	dispatcher.HandleCommand("switch_channel", func(ctx context.Context, request Message) {
		id, ok := request.IntParam("channelID")
		if !ok {
			dispatcher.ReplyError(ctx, request.Tag, errors.New("missing channelID"))
			return
		}
		dispatcher.Reply(ctx, request.Tag, id)
	})
	go serve(ctx, responderPort, dispatcher)

	caller := NewCaller(callerPort)
	defer caller.Close()

	reply, err := caller.Request(ctx, Message{Query: "users"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, reply.Data)

	reply, err = caller.Request(ctx, Message{Command: "switch_channel", Params: map[string]any{"channelID": 4}})
	require.NoError(t, err)
	assert.Equal(t, 4, reply.Data)

	_, err = caller.Request(ctx, Message{Command: "switch_channel"})
	assert.ErrorIs(t, err, ErrRemote)
	assert.ErrorContains(t, err, "missing channelID")

	_, err = caller.Request(ctx, Message{Query: "channels"})
	assert.ErrorIs(t, err, ErrRemote)
	assert.ErrorContains(t, err, "unknown request")

	assert.Zero(t, caller.Pending())
}

func TestRepliesMatchedByTagOutOfOrder(t *testing.T) {
	ctx := context.Background()
	callerPort, responderPort := NewPipe(8)
	caller := NewCaller(callerPort)
	defer caller.Close()

	type result struct {
		name  string
		reply Message
	}
	results := make(chan result, 2)
	for _, name := range []string{"first", "second"} {
		go func() {
			reply, err := caller.Request(ctx, Message{Query: name})
			assert.NoError(t, err)
			results <- result{name, reply}
		}()
	}

	// Collect both requests, then answer them in reverse order
	var requests []Message
	for range 2 {
		requests = append(requests, <-responderPort.Receive())
	}
	for i := len(requests) - 1; i >= 0; i-- {
		require.NoError(t, responderPort.Send(ctx, Message{Tag: requests[i].Tag, Data: requests[i].Query}))
	}

	for range 2 {
		r := <-results
		assert.Equal(t, r.name, r.reply.Data)
	}
}

func TestRequestTimeoutDropsLateReply(t *testing.T) {
	callerPort, responderPort := NewPipe(8)
	caller := NewCaller(callerPort)
	defer caller.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := caller.Request(ctx, Message{Command: "connect"})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, caller.Pending())

	// The late reply is ignored, and later requests still work
	request := <-responderPort.Receive()
	require.NoError(t, responderPort.Send(context.Background(), Message{Tag: request.Tag, Data: "late"}))

	go func() {
		next := <-responderPort.Receive()
		responderPort.Send(context.Background(), Message{Tag: next.Tag, Data: "on time"})
	}()
	reply, err := caller.Request(context.Background(), Message{Query: "session"})
	require.NoError(t, err)
	assert.Equal(t, "on time", reply.Data)
}

func TestEvents(t *testing.T) {
	callerPort, responderPort := NewPipe(8)
	caller := NewCaller(callerPort)
	dispatcher := NewDispatcher(responderPort)

	require.NoError(t, dispatcher.Emit(context.Background(), "UserStartedTalking", 3))

	select {
	case event := <-caller.Events():
		assert.Equal(t, "UserStartedTalking", event.Type)
		assert.Equal(t, 3, event.Data)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	caller.Close()
	_, ok := <-caller.Events()
	assert.False(t, ok, "events close with the channel")
}

func TestClosedChannel(t *testing.T) {
	callerPort, responderPort := NewPipe(1)
	caller := NewCaller(callerPort)

	go func() {
		<-responderPort.Receive()
		responderPort.Close()
	}()
	_, err := caller.Request(context.Background(), Message{Query: "user"})
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, callerPort.Send(context.Background(), Message{}), ErrClosed)
}

func TestMessageParams(t *testing.T) {
	m := Message{Params: map[string]any{"addr": "localhost", "id": float64(7), "n": int64(2)}}
	assert.Equal(t, "localhost", m.StringParam("addr"))
	assert.Equal(t, "", m.StringParam("id"))

	id, ok := m.IntParam("id")
	assert.True(t, ok)
	assert.Equal(t, 7, id)
	_, ok = m.IntParam("addr")
	assert.False(t, ok)
	n, _ := m.IntParam("n")
	assert.Equal(t, 2, n)
}

func TestFireAndForgetCommand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	callerPort, responderPort := NewPipe(8)
	dispatcher := NewDispatcher(responderPort)
	handled := make(chan struct{})
	dispatcher.HandleCommand("disconnect", func(ctx context.Context, request Message) {
		assert.NoError(t, dispatcher.Reply(ctx, request.Tag, "ok"))
		close(handled)
	})
	go serve(ctx, responderPort, dispatcher)

	caller := NewCaller(callerPort)
	defer caller.Close()

	m := Message{Command: "disconnect"}
	assert.False(t, m.IsEvent())
	require.NoError(t, caller.Send(ctx, m))

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("command was not dispatched")
	}
	assert.Empty(t, caller.Events(), "an untagged request gets no reply")
}
