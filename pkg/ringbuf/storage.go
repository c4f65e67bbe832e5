package ringbuf

import (
	"errors"
	"fmt"
	"unsafe"
)

const (
	// Byte offset of the write cursor (uint32) in the storage header
	writeCursorOffset = 0

	// Byte offset of the read cursor (uint32) in the storage header
	readCursorOffset = 4

	// Size of the storage header; elements begin at this offset
	HeaderSize = 8
)

var (
	ErrInvalidKind        = errors.New("invalid ring buffer element kind")
	ErrKindMismatch       = errors.New("ring buffer element kind mismatch")
	ErrMisalignedStorage  = errors.New("ring buffer storage is not a whole number of elements")
	ErrDegenerateCapacity = errors.New("ring buffer capacity must be positive")
	ErrCorruptHeader      = errors.New("ring buffer cursor outside of storage")
)

// Storage is the fixed memory block backing a RingBuffer.
//
// A Storage is the only thing shared between the producing and consuming contexts of a
// ring buffer. It is allocated once, at pipeline setup, and handed (by value) to both sides,
// each of which binds it with New. Copies of a Storage alias the same memory.
//
// Layout:
//
//	offset 0: write cursor, uint32
//	offset 4: read cursor, uint32
//	offset 8: (capacity + 1) elements of Kind
type Storage struct {
	kind  Kind
	bytes []byte
}

// StorageBytes returns the number of bytes needed to back a ring buffer of the
// given kind that can hold capacity elements.
func StorageBytes(kind Kind, capacity int) int {
	return HeaderSize + (capacity+1)*kind.Size()
}

// Allocate a new, zeroed Storage able to hold capacity elements of the given kind.
//
// The returned memory is 8-byte aligned, so the cursors may be accessed atomically
// and elements of any Kind are naturally aligned.
func NewStorage(kind Kind, capacity int) (Storage, error) {
	if kind.Size() == 0 {
		return Storage{}, ErrInvalidKind
	}
	if capacity <= 0 {
		return Storage{}, fmt.Errorf("%w: requested %d", ErrDegenerateCapacity, capacity)
	}

	numBytes := StorageBytes(kind, capacity)
	words := make([]uint64, (numBytes+7)/8)
	bytes := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), numBytes)
	return Storage{
		kind:  kind,
		bytes: bytes,
	}, nil
}

// Wrap existing memory (e.g. a memory mapped region) as a Storage.
// No validation happens here, the memory is checked when a RingBuffer is bound to it.
func StorageFromBytes(kind Kind, bytes []byte) Storage {
	return Storage{
		kind:  kind,
		bytes: bytes,
	}
}

// The element kind this storage was allocated for
func (s Storage) Kind() Kind {
	return s.kind
}

// The raw memory of this storage, header included
func (s Storage) Bytes() []byte {
	return s.bytes
}

// Number of element slots in the storage, including the sentinel slot.
// Returns an error when the memory does not hold a header plus a whole number of elements.
func (s Storage) slots() (int, error) {
	elementSize := s.kind.Size()
	if elementSize == 0 {
		return 0, ErrInvalidKind
	}
	if len(s.bytes) < HeaderSize {
		return 0, fmt.Errorf("%w: %d bytes is smaller than the header", ErrMisalignedStorage, len(s.bytes))
	}
	payload := len(s.bytes) - HeaderSize
	if payload%elementSize != 0 {
		return 0, fmt.Errorf("%w: %d payload bytes for %s elements", ErrMisalignedStorage, payload, s.kind)
	}
	if uintptr(unsafe.Pointer(&s.bytes[0]))%4 != 0 {
		return 0, fmt.Errorf("%w: cursors are not 4-byte aligned", ErrMisalignedStorage)
	}
	return payload / elementSize, nil
}

func (s Storage) writeCursor() *uint32 {
	return (*uint32)(unsafe.Pointer(&s.bytes[writeCursorOffset]))
}

func (s Storage) readCursor() *uint32 {
	return (*uint32)(unsafe.Pointer(&s.bytes[readCursorOffset]))
}
