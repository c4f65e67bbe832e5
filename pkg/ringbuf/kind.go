package ringbuf

import "fmt"

// The scalar types a RingBuffer may hold.
//
// Every element of a RingBuffer has the same fixed width, so the storage
// of a ring buffer is entirely described by its Kind and its capacity.
type Element interface {
	uint8 | int16 | uint32 | float32
}

// Kind tags a Storage with the element type it was allocated for.
// The tag travels with the Storage between contexts, so that the receiving
// side can check it binds the memory with the same element type the producer uses.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindUint8
	KindInt16
	KindUint32
	KindFloat32
)

// Size returns the width of one element of this kind, in bytes.
// KindInvalid has size 0.
func (k Kind) Size() int {
	switch k {
	case KindUint8:
		return 1
	case KindInt16:
		return 2
	case KindUint32, KindFloat32:
		return 4
	default:
		return 0
	}
}

func (k Kind) String() string {
	switch k {
	case KindUint8:
		return "uint8"
	case KindInt16:
		return "int16"
	case KindUint32:
		return "uint32"
	case KindFloat32:
		return "float32"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// KindOf returns the Kind matching the type parameter T.
func KindOf[T Element]() Kind {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return KindUint8
	case int16:
		return KindInt16
	case uint32:
		return KindUint32
	case float32:
		return KindFloat32
	}
	return KindInvalid
}

// MaxElementValue returns the largest non-negative integer that can be stored
// exactly in one element of type T. The framing layer uses it to bound
// the size prefix a single element can carry.
func MaxElementValue[T Element]() uint64 {
	switch KindOf[T]() {
	case KindUint8:
		return 1<<8 - 1
	case KindInt16:
		return 1<<15 - 1
	case KindUint32:
		return 1<<32 - 1
	case KindFloat32:
		// Integers above 2^24 are not exactly representable as float32
		return 1 << 24
	}
	return 0
}
