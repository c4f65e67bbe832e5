// Package framed carries length prefixed messages over a single producer, single consumer ring buffer.
//
// A message is one size element followed by size payload elements:
//
//	[size: 1 element][payload: size elements]
//
// There is no checksum and no magic number. Framing integrity relies entirely on the ring having
// exactly one writer and exactly one reader.
package framed

import (
	"errors"
	"fmt"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/ringbuf"
)

var (
	ErrMessageTooLarge = errors.New("framed message size exceeds staging capacity")
	ErrCorruptSize     = errors.New("framed message size element is not a valid length")
)

// Write payload to rb as one framed message.
//
// Returns false, having written nothing, unless rb can currently accept the size element and the whole
// payload, or if len(payload) cannot be represented by a single element of T.
// The size element and the payload are two separate pushes; since rb has a single writer
// no other message can come between them.
func WriteSizedMessage[T ringbuf.Element](payload []T, rb *ringbuf.RingBuffer[T]) bool {
	if uint64(len(payload)) > ringbuf.MaxElementValue[T]() {
		return false
	}
	if rb.AvailableWrite() < len(payload)+1 {
		return false
	}

	size := [1]T{T(len(payload))}
	rb.Push(size[:])
	if len(payload) > 0 {
		rb.Push(payload)
	}
	return true
}

// The largest payload one framed message over a ring of T can carry.
func MaxPayload[T ringbuf.Element]() int {
	return int(min(ringbuf.MaxElementValue[T](), 1<<31-1))
}

// Writer is the sending end of a framed channel.
type Writer[T ringbuf.Element] struct {
	rb *ringbuf.RingBuffer[T]
}

func NewWriter[T ringbuf.Element](rb *ringbuf.RingBuffer[T]) *Writer[T] {
	return &Writer[T]{rb: rb}
}

// See WriteSizedMessage
func (w *Writer[T]) Write(payload []T) bool {
	return WriteSizedMessage(payload, w.rb)
}

// Reader is the receiving end of a framed channel.
//
// A message may arrive over any number of ReadSizedMessage calls; partial progress is
// kept between calls and is never lost. A Reader must only be used by the ring's single consumer.
type Reader[T ringbuf.Element] struct {
	rb      *ringbuf.RingBuffer[T]
	staging []T

	sizeKnown    bool
	expectedSize int
	readSoFar    int

	sizeElement [1]T
	err         error
}

// Create a reader of rb assembling messages into staging.
// Messages longer than len(staging) are a protocol violation.
func NewReader[T ringbuf.Element](rb *ringbuf.RingBuffer[T], staging []T) *Reader[T] {
	return &Reader[T]{
		rb:      rb,
		staging: staging,
	}
}

// Attempt to read the next message.
//
// Returns the message and true once it has been fully received, and false while it has not
// ("no message yet"). A zero length message is returned as an empty slice and true.
// The returned slice aliases the staging buffer and is only valid until the next call.
//
// A size element larger than the staging buffer means the stream is corrupt: ErrMessageTooLarge
// is returned, and the reader is poisoned and returns the same error on every later call.
func (r *Reader[T]) ReadSizedMessage() ([]T, bool, error) {
	if r.err != nil {
		return nil, false, r.err
	}

	if !r.sizeKnown {
		if r.rb.Pop(r.sizeElement[:]) != 1 {
			return nil, false, nil
		}

		size, err := r.decodeSize(r.sizeElement[0])
		if err != nil {
			r.err = err
			return nil, false, err
		}
		r.sizeKnown = true
		r.expectedSize = size
		r.readSoFar = 0
	}

	remaining := r.expectedSize - r.readSoFar
	if remaining > 0 {
		r.readSoFar += r.rb.PopN(r.staging, remaining, r.readSoFar)
	}

	if r.readSoFar < r.expectedSize {
		return nil, false, nil
	}

	message := r.staging[:r.expectedSize]
	r.sizeKnown = false
	r.expectedSize = 0
	r.readSoFar = 0
	return message, true, nil
}

func (r *Reader[T]) decodeSize(v T) (int, error) {
	if v < 0 || T(uint64(v)) != v {
		return 0, fmt.Errorf("%w: %v", ErrCorruptSize, v)
	}
	size := uint64(v)
	if size > uint64(len(r.staging)) {
		return 0, fmt.Errorf("%w: message of %d elements, staging holds %d", ErrMessageTooLarge, size, len(r.staging))
	}
	return int(size), nil
}

// Progress of the message currently being received:
// whether its size is known, and how many of its elements have arrived.
func (r *Reader[T]) Pending() (sizeKnown bool, expected int, received int) {
	return r.sizeKnown, r.expectedSize, r.readSoFar
}

// The error that poisoned the reader, if any.
func (r *Reader[T]) Err() error {
	return r.err
}

// Discard partial progress and any poisoning error.
// Only meaningful once the ring itself has been drained or rebuilt by its owner.
func (r *Reader[T]) Reset() {
	r.sizeKnown = false
	r.expectedSize = 0
	r.readSoFar = 0
	r.err = nil
}
