package ringbuf_test

import (
	"math/rand"
	"runtime"
	"sync"
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/ringbuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRing[T ringbuf.Element](t *testing.T, capacity int) *ringbuf.RingBuffer[T] {
	t.Helper()
	rb, err := ringbuf.NewWithCapacity[T](capacity)
	require.NoError(t, err)
	return rb
}

func TestStorageLayout(t *testing.T) {
	for _, tc := range []struct {
		kind     ringbuf.Kind
		capacity int
		want     int
	}{
		{ringbuf.KindUint8, 10, 8 + 11},
		{ringbuf.KindInt16, 4, 8 + 10},
		{ringbuf.KindUint32, 3, 8 + 16},
		{ringbuf.KindFloat32, 128, 8 + 129*4},
	} {
		t.Run(tc.kind.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, ringbuf.StorageBytes(tc.kind, tc.capacity))

			storage, err := ringbuf.NewStorage(tc.kind, tc.capacity)
			require.NoError(t, err)
			assert.Len(t, storage.Bytes(), tc.want)
			assert.Equal(t, tc.kind, storage.Kind())
		})
	}
}

func TestNewRejectsBadStorage(t *testing.T) {
	t.Run("kind mismatch", func(t *testing.T) {
		storage, err := ringbuf.NewStorage(ringbuf.KindUint8, 4)
		require.NoError(t, err)
		_, err = ringbuf.New[float32](storage)
		assert.ErrorIs(t, err, ringbuf.ErrKindMismatch)
	})

	t.Run("partial element", func(t *testing.T) {
		backing, err := ringbuf.NewStorage(ringbuf.KindUint8, 16)
		require.NoError(t, err)
		storage := ringbuf.StorageFromBytes(ringbuf.KindFloat32, backing.Bytes()[:ringbuf.HeaderSize+6])
		_, err = ringbuf.New[float32](storage)
		assert.ErrorIs(t, err, ringbuf.ErrMisalignedStorage)
	})

	t.Run("missing header", func(t *testing.T) {
		backing, err := ringbuf.NewStorage(ringbuf.KindUint8, 16)
		require.NoError(t, err)
		storage := ringbuf.StorageFromBytes(ringbuf.KindUint8, backing.Bytes()[:4])
		_, err = ringbuf.New[uint8](storage)
		assert.ErrorIs(t, err, ringbuf.ErrMisalignedStorage)
	})

	t.Run("only the sentinel slot", func(t *testing.T) {
		backing, err := ringbuf.NewStorage(ringbuf.KindUint8, 16)
		require.NoError(t, err)
		storage := ringbuf.StorageFromBytes(ringbuf.KindUint8, backing.Bytes()[:ringbuf.HeaderSize+1])
		_, err = ringbuf.New[uint8](storage)
		assert.ErrorIs(t, err, ringbuf.ErrDegenerateCapacity)
	})

	t.Run("zero capacity", func(t *testing.T) {
		_, err := ringbuf.NewStorage(ringbuf.KindInt16, 0)
		assert.ErrorIs(t, err, ringbuf.ErrDegenerateCapacity)
	})

	t.Run("corrupt cursor", func(t *testing.T) {
		storage, err := ringbuf.NewStorage(ringbuf.KindUint32, 4)
		require.NoError(t, err)
		for i := range 4 {
			storage.Bytes()[i] = 0xff
		}
		_, err = ringbuf.New[uint32](storage)
		assert.ErrorIs(t, err, ringbuf.ErrCorruptHeader)
	})
}

func TestCapacityInvariant(t *testing.T) {
	for _, capacity := range []int{1, 2, 5, 64, 255} {
		rb := newRing[int16](t, capacity)
		assert.Equal(t, capacity, rb.Capacity())
		assert.True(t, rb.Empty())

		for i := range capacity {
			require.Equal(t, 1, rb.Push([]int16{int16(i)}))
		}
		assert.True(t, rb.Full())
		assert.Equal(t, 0, rb.Push([]int16{1}))
		assert.Equal(t, capacity, rb.AvailableRead())
		assert.Equal(t, 0, rb.AvailableWrite())
	}
}

func TestConcreteScenario(t *testing.T) {
	rb := newRing[float32](t, 4)

	assert.Equal(t, 4, rb.Push([]float32{1, 2, 3, 4}))
	assert.True(t, rb.Full())
	assert.Equal(t, 0, rb.Push([]float32{5}))

	out := make([]float32, 2)
	assert.Equal(t, 2, rb.Pop(out))
	assert.Equal(t, []float32{1, 2}, out)

	assert.Equal(t, 2, rb.Push([]float32{5, 6}))

	out = make([]float32, 4)
	assert.Equal(t, 4, rb.Pop(out))
	assert.Equal(t, []float32{3, 4, 5, 6}, out)
	assert.True(t, rb.Empty())
}

func TestPartialPushAndPop(t *testing.T) {
	rb := newRing[uint8](t, 3)

	assert.Equal(t, 3, rb.Push([]uint8{1, 2, 3, 4, 5}))

	out := make([]uint8, 5)
	assert.Equal(t, 3, rb.Pop(out))
	assert.Equal(t, []uint8{1, 2, 3, 0, 0}, out)
	assert.Equal(t, 0, rb.Pop(out))
}

func TestPushNPopNOffsets(t *testing.T) {
	rb := newRing[uint32](t, 8)

	assert.Equal(t, 2, rb.PushN([]uint32{10, 11, 12, 13}, 2, 1))
	assert.Equal(t, 0, rb.PushN([]uint32{10}, 1, 1), "offset past the end writes nothing")

	out := []uint32{0, 0, 0, 0}
	assert.Equal(t, 2, rb.PopN(out, 4, 2))
	assert.Equal(t, []uint32{0, 0, 11, 12}, out)
}

func TestWrapAround(t *testing.T) {
	rb := newRing[int16](t, 5)

	next := int16(0)
	expect := int16(0)
	out := make([]int16, 3)
	for cycle := range 150 {
		in := []int16{next, next + 1, next + 2}
		next += 3
		require.Equal(t, 3, rb.Push(in), "cycle %d", cycle)
		require.Equal(t, 3, rb.Pop(out), "cycle %d", cycle)
		require.Equal(t, []int16{expect, expect + 1, expect + 2}, out, "cycle %d", cycle)
		expect += 3
	}
	assert.True(t, rb.Empty())
}

func TestFIFORandomInterleaving(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for _, capacity := range []int{1, 3, 7, 32} {
		rb := newRing[uint32](t, capacity)
		var model []uint32
		next := uint32(0)
		buf := make([]uint32, capacity*2)

		for range 2000 {
			if rng.Intn(2) == 0 {
				n := rng.Intn(capacity*2) + 1
				in := buf[:n]
				for i := range in {
					in[i] = next + uint32(i)
				}
				written := rb.Push(in)
				require.Equal(t, min(n, capacity-len(model)), written)
				model = append(model, in[:written]...)
				next += uint32(written)
			} else {
				n := rng.Intn(capacity*2) + 1
				out := buf[:n]
				read := rb.Pop(out)
				require.Equal(t, min(n, len(model)), read)
				require.Equal(t, model[:read], out[:read])
				model = model[read:]
			}
			require.Equal(t, len(model), rb.AvailableRead())
		}
	}
}

func TestCallbacks(t *testing.T) {
	rb := newRing[uint8](t, 5)

	// Move the cursors so that the free region wraps
	require.Equal(t, 4, rb.Push([]uint8{0, 0, 0, 0}))
	require.Equal(t, 4, rb.Pop(make([]uint8, 4)))

	written := rb.WriteCallback(5, func(first []uint8, second []uint8) int {
		assert.Len(t, first, 2)
		assert.Len(t, second, 3)
		copy(first, []uint8{1, 2})
		copy(second, []uint8{3, 4})
		return 4
	})
	assert.Equal(t, 4, written)
	assert.Equal(t, 4, rb.AvailableRead())

	var got []uint8
	consumed := rb.ReadCallback(10, func(first []uint8, second []uint8) int {
		got = append(got, first...)
		got = append(got, second...)
		return len(first) + len(second)
	})
	assert.Equal(t, 4, consumed)
	assert.Equal(t, []uint8{1, 2, 3, 4}, got)
	assert.True(t, rb.Empty())
}

func TestSharedStorageBindsBothSides(t *testing.T) {
	storage, err := ringbuf.NewStorage(ringbuf.KindFloat32, 16)
	require.NoError(t, err)

	producer, err := ringbuf.New[float32](storage)
	require.NoError(t, err)
	consumer, err := ringbuf.New[float32](storage)
	require.NoError(t, err)

	assert.Equal(t, 3, producer.Push([]float32{0.5, -0.5, 1}))
	out := make([]float32, 3)
	assert.Equal(t, 3, consumer.Pop(out))
	assert.Equal(t, []float32{0.5, -0.5, 1}, out)
	assert.True(t, producer.Empty())
}

func TestConcurrentSPSC(t *testing.T) {
	const total = 200_000

	storage, err := ringbuf.NewStorage(ringbuf.KindUint32, 61)
	require.NoError(t, err)
	producer, err := ringbuf.New[uint32](storage)
	require.NoError(t, err)
	consumer, err := ringbuf.New[uint32](storage)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		chunk := make([]uint32, 17)
		next := uint32(0)
		for next < total {
			n := min(len(chunk), total-int(next))
			for i := range n {
				chunk[i] = next + uint32(i)
			}
			written := producer.Push(chunk[:n])
			next += uint32(written)
			if written == 0 {
				runtime.Gosched()
			}
		}
	}()

	out := make([]uint32, 23)
	expect := uint32(0)
	for expect < total {
		read := consumer.Pop(out)
		for _, v := range out[:read] {
			if v != expect {
				t.Fatalf("expected %d, got %d", expect, v)
			}
			expect++
		}
		if read == 0 {
			runtime.Gosched()
		}
	}
	wg.Wait()
	assert.True(t, consumer.Empty())
}

func TestMaxElementValue(t *testing.T) {
	assert.Equal(t, uint64(255), ringbuf.MaxElementValue[uint8]())
	assert.Equal(t, uint64(32767), ringbuf.MaxElementValue[int16]())
	assert.Equal(t, uint64(1<<32-1), ringbuf.MaxElementValue[uint32]())
	assert.Equal(t, uint64(1<<24), ringbuf.MaxElementValue[float32]())
}
