package ringbuf_test

import (
	"math/rand"
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/ringbuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioAdaptersRequireFloat32(t *testing.T) {
	bytes := newRing[uint8](t, 16)

	_, err := ringbuf.NewAudioWriter(bytes)
	assert.ErrorIs(t, err, ringbuf.ErrKindMismatch)
	_, err = ringbuf.NewAudioReader(bytes)
	assert.ErrorIs(t, err, ringbuf.ErrKindMismatch)
	_, err = ringbuf.NewAudioReader(nil)
	assert.ErrorIs(t, err, ringbuf.ErrKindMismatch)
}

func TestAudioEnqueueDequeue(t *testing.T) {
	rb := newRing[float32](t, 2*ringbuf.DefaultQuantum)
	writer, err := ringbuf.NewAudioWriter(rb)
	require.NoError(t, err)
	reader, err := ringbuf.NewAudioReader(rb)
	require.NoError(t, err)

	quantum := make([]float32, ringbuf.DefaultQuantum)
	for i := range quantum {
		quantum[i] = float32(i) / ringbuf.DefaultQuantum
	}

	assert.Equal(t, ringbuf.DefaultQuantum, writer.Enqueue(quantum))
	assert.Equal(t, ringbuf.DefaultQuantum, writer.Enqueue(quantum))

	// Backpressure: a full ring accepts less than a quantum and does not block
	assert.Equal(t, 0, writer.Enqueue(quantum))
	assert.Equal(t, 0, writer.AvailableWrite())

	out := make([]float32, ringbuf.DefaultQuantum)
	assert.Equal(t, ringbuf.DefaultQuantum, reader.Dequeue(out))
	assert.Equal(t, quantum, out)
	assert.Equal(t, ringbuf.DefaultQuantum, reader.AvailableRead())
}

func TestInterleaveInverse(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for _, channels := range []int{1, 2, 3, 8} {
		for _, quantum := range []int{1, 64, ringbuf.DefaultQuantum} {
			planar := make([][]float32, channels)
			for c := range planar {
				planar[c] = make([]float32, quantum)
				for i := range planar[c] {
					planar[c][i] = rng.Float32()*2 - 1
				}
			}

			interleaved := make([]float32, channels*quantum)
			require.NoError(t, ringbuf.Interleave(planar, interleaved, quantum))

			restored := make([][]float32, channels)
			for c := range restored {
				restored[c] = make([]float32, quantum)
			}
			require.NoError(t, ringbuf.Deinterleave(interleaved, restored, quantum))
			assert.Equal(t, planar, restored, "channels=%d quantum=%d", channels, quantum)
		}
	}
}

func TestInterleaveOrder(t *testing.T) {
	planar := [][]float32{{1, 2, 3}, {10, 20, 30}}
	interleaved := make([]float32, 6)
	require.NoError(t, ringbuf.Interleave(planar, interleaved, 3))
	assert.Equal(t, []float32{1, 10, 2, 20, 3, 30}, interleaved)
}

func TestInterleaveShapeMismatch(t *testing.T) {
	stereo := [][]float32{make([]float32, 4), make([]float32, 4)}

	assert.ErrorIs(t, ringbuf.Interleave(stereo, make([]float32, 7), 4), ringbuf.ErrShapeMismatch)
	assert.ErrorIs(t, ringbuf.Deinterleave(make([]float32, 9), stereo, 4), ringbuf.ErrShapeMismatch)
	assert.ErrorIs(t, ringbuf.Interleave(nil, nil, 4), ringbuf.ErrShapeMismatch)
	assert.ErrorIs(t, ringbuf.Interleave(stereo, make([]float32, 10), 5), ringbuf.ErrShapeMismatch, "channel shorter than quantum")
	assert.ErrorIs(t, ringbuf.Interleave(stereo, nil, 0), ringbuf.ErrShapeMismatch)
}
