package ringbuf

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Ring is the element-type independent view of a RingBuffer.
// Adapters accept a Ring and check at construction that it holds the element type they need.
type Ring interface {
	Kind() Kind
	Capacity() int
	AvailableRead() int
	AvailableWrite() int
	Empty() bool
	Full() bool
}

// Ensure compile-time interface compliance.
var _ Ring = (*RingBuffer[float32])(nil)

// RingBuffer is a wait-free single-producer / single-consumer circular buffer
// over a fixed Storage.
//
// Exactly one context may call the writing methods (Push, PushN, WriteCallback) and
// exactly one context may call the reading methods (Pop, PopN, ReadCallback) for the
// lifetime of the buffer. Each side owns one cursor: the writer only ever stores the
// write cursor and the reader only ever stores the read cursor. Both cursors are read
// with one atomic load at the start of every operation and the owned cursor is published
// with one atomic store once the copy is complete, so the other side never observes
// an element before it has been written.
//
// One slot of the storage is never filled, so that "full" ((write+1) % slots == read)
// can be told apart from "empty" (write == read) with only two cursors.
//
// No method ever blocks. An operation that cannot complete fully completes partially
// and reports how many elements it moved; retrying or dropping is up to the caller.
// Queries (AvailableRead, AvailableWrite, Empty, Full) are estimates when the other side
// is running concurrently and must be treated as a lower bound.
type RingBuffer[T Element] struct {
	storage  Storage
	writePtr *uint32
	readPtr  *uint32
	elements []T
	slots    uint32
}

// Bind a RingBuffer of element type T to the given storage.
//
// Fails if the storage was allocated for a different element kind, if its size does not
// correspond to a header plus a whole number of elements, if the capacity is degenerate
// once the sentinel slot is reserved, or if the cursors in the header point outside the storage.
func New[T Element](storage Storage) (*RingBuffer[T], error) {
	kind := KindOf[T]()
	if storage.kind != kind {
		return nil, fmt.Errorf("%w: storage holds %s, buffer expects %s", ErrKindMismatch, storage.kind, kind)
	}

	slots, err := storage.slots()
	if err != nil {
		return nil, err
	}
	if slots-1 <= 0 {
		return nil, fmt.Errorf("%w: %d slots leaves no usable capacity", ErrDegenerateCapacity, slots)
	}

	rb := &RingBuffer[T]{
		storage:  storage,
		writePtr: storage.writeCursor(),
		readPtr:  storage.readCursor(),
		elements: unsafe.Slice((*T)(unsafe.Pointer(&storage.bytes[HeaderSize])), slots),
		slots:    uint32(slots),
	}

	if wr, rd := atomic.LoadUint32(rb.writePtr), atomic.LoadUint32(rb.readPtr); wr >= rb.slots || rd >= rb.slots {
		return nil, fmt.Errorf("%w: write=%d read=%d slots=%d", ErrCorruptHeader, wr, rd, slots)
	}
	return rb, nil
}

// Allocate a fresh Storage for capacity elements and bind a RingBuffer to it.
// The Storage can be retrieved with RingBuffer.Storage to bind the other side.
func NewWithCapacity[T Element](capacity int) (*RingBuffer[T], error) {
	storage, err := NewStorage(KindOf[T](), capacity)
	if err != nil {
		return nil, err
	}
	return New[T](storage)
}

// The storage this buffer is bound to, so it may be shared with the other side.
func (rb *RingBuffer[T]) Storage() Storage {
	return rb.storage
}

func (rb *RingBuffer[T]) Kind() Kind {
	return rb.storage.kind
}

// The usable capacity of the buffer: the number of elements it can hold at once.
// This is one less than the number of storage slots.
func (rb *RingBuffer[T]) Capacity() int {
	return int(rb.slots) - 1
}

// --------------------------------------------------------------------------------
// Producer side

// Push as many of elements as fit. Returns the number of elements written.
func (rb *RingBuffer[T]) Push(elements []T) int {
	return rb.PushN(elements, len(elements), 0)
}

// Push at most length elements, taken from elements starting at offset.
// Never overwrites unread data; returns the number of elements actually written,
// which may be less than length (including zero) when space is insufficient.
func (rb *RingBuffer[T]) PushN(elements []T, length int, offset int) int {
	rd := atomic.LoadUint32(rb.readPtr)
	wr := atomic.LoadUint32(rb.writePtr)
	if (wr+1)%rb.slots == rd {
		return 0
	}
	if offset < 0 || offset >= len(elements) {
		return 0
	}

	toWrite := min(rb.availableWrite(rd, wr), length, len(elements)-offset)
	if toWrite <= 0 {
		return 0
	}
	firstPart := min(int(rb.slots-wr), toWrite)
	secondPart := toWrite - firstPart

	copy(rb.elements[wr:int(wr)+firstPart], elements[offset:offset+firstPart])
	copy(rb.elements[:secondPart], elements[offset+firstPart:offset+toWrite])

	atomic.StoreUint32(rb.writePtr, (wr+uint32(toWrite))%rb.slots)
	return toWrite
}

// Write directly into the storage of the ring buffer.
//
// fn receives up to two slices of free storage (the second is empty unless the free
// region wraps past the end of the storage), together holding at most amount elements.
// fn fills them from the start and returns how many elements it wrote; that many elements
// are then published to the reader. Returns the number of elements published.
func (rb *RingBuffer[T]) WriteCallback(amount int, fn func(first []T, second []T) int) int {
	rd := atomic.LoadUint32(rb.readPtr)
	wr := atomic.LoadUint32(rb.writePtr)
	if (wr+1)%rb.slots == rd {
		return 0
	}

	toWrite := min(rb.availableWrite(rd, wr), amount)
	if toWrite <= 0 {
		return 0
	}
	firstPart := min(int(rb.slots-wr), toWrite)
	secondPart := toWrite - firstPart

	written := fn(rb.elements[wr:int(wr)+firstPart], rb.elements[:secondPart])
	written = max(0, min(written, toWrite))

	atomic.StoreUint32(rb.writePtr, (wr+uint32(written))%rb.slots)
	return written
}

// --------------------------------------------------------------------------------
// Consumer side

// Pop up to len(out) elements into the beginning of out.
// Returns the number of elements read.
func (rb *RingBuffer[T]) Pop(out []T) int {
	return rb.PopN(out, len(out), 0)
}

// Pop at most length elements, storing them into out starting at offset.
// Returns the number of elements read, 0 if the buffer is empty.
func (rb *RingBuffer[T]) PopN(out []T, length int, offset int) int {
	rd := atomic.LoadUint32(rb.readPtr)
	wr := atomic.LoadUint32(rb.writePtr)
	if wr == rd {
		return 0
	}
	if offset < 0 || offset >= len(out) {
		return 0
	}

	toRead := min(rb.availableRead(rd, wr), length, len(out)-offset)
	if toRead <= 0 {
		return 0
	}
	firstPart := min(int(rb.slots-rd), toRead)
	secondPart := toRead - firstPart

	copy(out[offset:offset+firstPart], rb.elements[rd:int(rd)+firstPart])
	copy(out[offset+firstPart:offset+toRead], rb.elements[:secondPart])

	atomic.StoreUint32(rb.readPtr, (rd+uint32(toRead))%rb.slots)
	return toRead
}

// Read directly out of the storage of the ring buffer.
//
// fn receives up to two slices of readable storage, together holding at most amount
// elements, and returns how many elements it consumed from the start. The slices must not
// be retained after fn returns. Returns the number of elements consumed.
func (rb *RingBuffer[T]) ReadCallback(amount int, fn func(first []T, second []T) int) int {
	rd := atomic.LoadUint32(rb.readPtr)
	wr := atomic.LoadUint32(rb.writePtr)
	if wr == rd {
		return 0
	}

	toRead := min(rb.availableRead(rd, wr), amount)
	if toRead <= 0 {
		return 0
	}
	firstPart := min(int(rb.slots-rd), toRead)
	secondPart := toRead - firstPart

	consumed := fn(rb.elements[rd:int(rd)+firstPart], rb.elements[:secondPart])
	consumed = max(0, min(consumed, toRead))

	atomic.StoreUint32(rb.readPtr, (rd+uint32(consumed))%rb.slots)
	return consumed
}

// --------------------------------------------------------------------------------
// Queries

// True if the buffer is empty. May be stale on the reader side:
// it can report empty when something has just been pushed.
func (rb *RingBuffer[T]) Empty() bool {
	rd := atomic.LoadUint32(rb.readPtr)
	wr := atomic.LoadUint32(rb.writePtr)
	return wr == rd
}

// True if the buffer is full. May be stale on the writer side:
// it can report full when something has just been popped.
func (rb *RingBuffer[T]) Full() bool {
	rd := atomic.LoadUint32(rb.readPtr)
	wr := atomic.LoadUint32(rb.writePtr)
	return (wr+1)%rb.slots == rd
}

// Number of elements that can be read. A lower bound while the writer is active.
func (rb *RingBuffer[T]) AvailableRead() int {
	rd := atomic.LoadUint32(rb.readPtr)
	wr := atomic.LoadUint32(rb.writePtr)
	return rb.availableRead(rd, wr)
}

// Number of elements that can be written. A lower bound while the reader is active.
func (rb *RingBuffer[T]) AvailableWrite() int {
	rd := atomic.LoadUint32(rb.readPtr)
	wr := atomic.LoadUint32(rb.writePtr)
	return rb.availableWrite(rd, wr)
}

func (rb *RingBuffer[T]) availableRead(rd uint32, wr uint32) int {
	return int((wr + rb.slots - rd) % rb.slots)
}

func (rb *RingBuffer[T]) availableWrite(rd uint32, wr uint32) int {
	return rb.Capacity() - rb.availableRead(rd, wr)
}
