package ringbuf

import (
	"errors"
	"fmt"
)

// Number of frames a real-time callback handles per invocation,
// unless the pipeline is configured otherwise.
const DefaultQuantum = 128

var (
	ErrShapeMismatch = errors.New("sample buffer shape does not match channel count and quantum")
)

// AudioWriter is the producing end of an interleaved float32 sample ring.
//
// The producer of an audio ring is fixed for the lifetime of the writer:
// exactly one context enqueues, and it never becomes the consumer.
type AudioWriter struct {
	rb *RingBuffer[float32]
}

// Wrap ring as the producing end of an audio channel.
// Fails with ErrKindMismatch unless ring holds float32 samples.
func NewAudioWriter(ring Ring) (*AudioWriter, error) {
	rb, err := asSampleRing(ring)
	if err != nil {
		return nil, err
	}
	return &AudioWriter{rb: rb}, nil
}

// Enqueue interleaved samples. Returns the number of samples written,
// which is less than len(samples) when the consumer has fallen behind.
func (w *AudioWriter) Enqueue(samples []float32) int {
	return w.rb.Push(samples)
}

func (w *AudioWriter) AvailableWrite() int {
	return w.rb.AvailableWrite()
}

func (w *AudioWriter) Capacity() int {
	return w.rb.Capacity()
}

// AudioReader is the consuming end of an interleaved float32 sample ring.
type AudioReader struct {
	rb *RingBuffer[float32]
}

// Wrap ring as the consuming end of an audio channel.
// Fails with ErrKindMismatch unless ring holds float32 samples.
func NewAudioReader(ring Ring) (*AudioReader, error) {
	rb, err := asSampleRing(ring)
	if err != nil {
		return nil, err
	}
	return &AudioReader{rb: rb}, nil
}

// Dequeue up to len(out) interleaved samples. Returns 0 when the ring is empty.
func (r *AudioReader) Dequeue(out []float32) int {
	return r.rb.Pop(out)
}

func (r *AudioReader) AvailableRead() int {
	return r.rb.AvailableRead()
}

func (r *AudioReader) Capacity() int {
	return r.rb.Capacity()
}

func asSampleRing(ring Ring) (*RingBuffer[float32], error) {
	if ring == nil {
		return nil, fmt.Errorf("%w: nil ring", ErrKindMismatch)
	}
	rb, ok := ring.(*RingBuffer[float32])
	if !ok {
		return nil, fmt.Errorf("%w: audio channels carry %s samples, ring holds %s", ErrKindMismatch, KindFloat32, ring.Kind())
	}
	return rb, nil
}

// --------------------------------------------------------------------------------
// Interleaving

// Interleave quantum frames of planar audio into interleaved.
//
// planar holds one slice per channel, each at least quantum samples long.
// interleaved must hold exactly len(planar)*quantum samples.
// Nothing is allocated, so this is safe to call from a real-time callback.
func Interleave(planar [][]float32, interleaved []float32, quantum int) error {
	if err := checkShape(planar, interleaved, quantum); err != nil {
		return err
	}

	numChannels := len(planar)
	for channel, samples := range planar {
		for i := range quantum {
			interleaved[i*numChannels+channel] = samples[i]
		}
	}
	return nil
}

// Deinterleave quantum frames of interleaved audio into one slice per channel.
// The inverse of Interleave for the same channel count and quantum.
func Deinterleave(interleaved []float32, planar [][]float32, quantum int) error {
	if err := checkShape(planar, interleaved, quantum); err != nil {
		return err
	}

	numChannels := len(planar)
	for channel, samples := range planar {
		for i := range quantum {
			samples[i] = interleaved[i*numChannels+channel]
		}
	}
	return nil
}

func checkShape(planar [][]float32, interleaved []float32, quantum int) error {
	if len(planar) == 0 || quantum <= 0 {
		return fmt.Errorf("%w: %d channels, quantum %d", ErrShapeMismatch, len(planar), quantum)
	}
	if len(interleaved) != len(planar)*quantum {
		return fmt.Errorf("%w: %d interleaved samples for %d channels of %d", ErrShapeMismatch, len(interleaved), len(planar), quantum)
	}
	for channel, samples := range planar {
		if len(samples) < quantum {
			return fmt.Errorf("%w: channel %d holds %d samples, quantum is %d", ErrShapeMismatch, channel, len(samples), quantum)
		}
	}
	return nil
}
