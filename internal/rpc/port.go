package rpc

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrClosed = errors.New("control channel closed")
)

// One end of an asynchronous message channel between two contexts.
//
// Messages sent on a Port arrive, in order, on the Receive channel of the other end.
// Closing either end closes the pipe for both; messages still buffered are dropped.
// A Port may be copied; copies share the same underlying channels.
type Port struct {
	in   <-chan Message
	out  chan<- Message
	pipe *pipe
}

type pipe struct {
	closeOnce sync.Once
	closed    chan struct{}
}

// Create a connected pair of ports, each able to buffer size messages in flight.
func NewPipe(size int) (Port, Port) {
	aToB := make(chan Message, size)
	bToA := make(chan Message, size)
	p := &pipe{closed: make(chan struct{})}
	return Port{in: bToA, out: aToB, pipe: p}, Port{in: aToB, out: bToA, pipe: p}
}

// Send m to the other end, waiting for buffer space until ctx is done.
func (p Port) Send(ctx context.Context, m Message) error {
	select {
	case <-p.pipe.closed:
		return ErrClosed
	default:
	}

	select {
	case p.out <- m:
		return nil
	case <-p.pipe.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages from the other end. Never closed; select on Done as well.
func (p Port) Receive() <-chan Message {
	return p.in
}

// Closed once either end of the pipe is closed.
func (p Port) Done() <-chan struct{} {
	return p.pipe.closed
}

func (p Port) Close() {
	p.pipe.closeOnce.Do(func() {
		close(p.pipe.closed)
	})
}
