package transport

import (
	"context"
	"slices"
	"sync"
)

type memoryPipe struct {
	closed    chan struct{}
	closeOnce sync.Once
}

// MemoryTransport is one end of an in-process transport pair.
// It also satisfies the server side connection interface of the protocol package.
type MemoryTransport struct {
	in   <-chan []byte
	out  chan<- []byte
	pipe *memoryPipe
}

// Create two connected transports, each able to buffer size messages in flight.
// Closing either end closes both.
func NewMemoryPipe(size int) (*MemoryTransport, *MemoryTransport) {
	aToB := make(chan []byte, size)
	bToA := make(chan []byte, size)
	pipe := &memoryPipe{closed: make(chan struct{})}
	return &MemoryTransport{in: bToA, out: aToB, pipe: pipe},
		&MemoryTransport{in: aToB, out: bToA, pipe: pipe}
}

func (t *MemoryTransport) Open(ctx context.Context) error {
	select {
	case <-t.pipe.closed:
		return ErrClosed
	default:
		return ctx.Err()
	}
}

func (t *MemoryTransport) Send(data []byte) error {
	select {
	case <-t.pipe.closed:
		return ErrClosed
	default:
	}

	select {
	case t.out <- slices.Clone(data):
		return nil
	case <-t.pipe.closed:
		return ErrClosed
	}
}

func (t *MemoryTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.in:
		return data, nil
	default:
	}

	select {
	case data := <-t.in:
		return data, nil
	case <-t.pipe.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *MemoryTransport) Close() error {
	t.pipe.closeOnce.Do(func() { close(t.pipe.closed) })
	return nil
}
