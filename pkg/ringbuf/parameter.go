package ringbuf

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Size in bytes of one parameter change record: a 1 byte index followed by a little endian float32.
const ParameterRecordSize = 5

// A change to the parameter at Index, e.g. the gain of a processor.
type ParameterChange struct {
	Index uint8
	Value float32
}

// ParameterWriter sends parameter changes to a real-time context over a byte ring.
//
// A change is written as one record; if the ring cannot hold a whole record nothing is written.
type ParameterWriter struct {
	rb     *RingBuffer[uint8]
	record [ParameterRecordSize]uint8
}

func NewParameterWriter(ring Ring) (*ParameterWriter, error) {
	rb, err := asParameterRing(ring)
	if err != nil {
		return nil, err
	}
	return &ParameterWriter{rb: rb}, nil
}

// Enqueue a change. Returns false if the ring is too full to hold it.
func (w *ParameterWriter) EnqueueChange(index uint8, value float32) bool {
	if w.rb.AvailableWrite() < ParameterRecordSize {
		return false
	}
	w.record[0] = index
	binary.LittleEndian.PutUint32(w.record[1:], math.Float32bits(value))
	return w.rb.Push(w.record[:]) == ParameterRecordSize
}

// ParameterReader receives parameter changes in a real-time context.
// It never allocates and never blocks.
type ParameterReader struct {
	rb     *RingBuffer[uint8]
	record [ParameterRecordSize]uint8
}

func NewParameterReader(ring Ring) (*ParameterReader, error) {
	rb, err := asParameterRing(ring)
	if err != nil {
		return nil, err
	}
	return &ParameterReader{rb: rb}, nil
}

// Dequeue one change into change. Returns false when no complete change is pending.
func (r *ParameterReader) DequeueChange(change *ParameterChange) bool {
	if r.rb.AvailableRead() < ParameterRecordSize {
		return false
	}
	r.rb.Pop(r.record[:])
	change.Index = r.record[0]
	change.Value = math.Float32frombits(binary.LittleEndian.Uint32(r.record[1:]))
	return true
}

func asParameterRing(ring Ring) (*RingBuffer[uint8], error) {
	if ring == nil {
		return nil, fmt.Errorf("%w: nil ring", ErrKindMismatch)
	}
	rb, ok := ring.(*RingBuffer[uint8])
	if !ok {
		return nil, fmt.Errorf("%w: parameter channels carry %s, ring holds %s", ErrKindMismatch, KindUint8, ring.Kind())
	}
	if rb.Capacity() < ParameterRecordSize {
		return nil, fmt.Errorf("%w: capacity %d cannot hold one parameter record", ErrDegenerateCapacity, rb.Capacity())
	}
	return rb, nil
}
