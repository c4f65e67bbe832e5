package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/rpc"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/framed"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/ringbuf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func planar(channels int, quantum int, value func(channel int, i int) float32) [][]float32 {
	out := make([][]float32, channels)
	for c := range out {
		out[c] = make([]float32, quantum)
		for i := range out[c] {
			out[c][i] = value(c, i)
		}
	}
	return out
}

func constant(v float32) func(int, int) float32 {
	return func(int, int) float32 { return v }
}

func claim(t *testing.T, topology *Topology, name string, context string, role Role) ringbuf.Storage {
	t.Helper()
	storage, err := topology.Claim(name, context, role)
	require.NoError(t, err)
	return storage
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())
	assert.Equal(t, 480, config.FrameSize())
	assert.Equal(t, 48000*2/5, config.SampleCapacity())
}

func TestConfigValidation(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"zero sample rate":      func(c *Config) { c.SampleRate = 0 },
		"negative channels":     func(c *Config) { c.ChannelCount = -1 },
		"zero quantum":          func(c *Config) { c.QuantumSize = 0 },
		"no frame duration":     func(c *Config) { c.FrameDuration = 0 },
		"zero poll interval":    func(c *Config) { c.NetworkPollInterval = 0 },
		"tiny parameter ring":   func(c *Config) { c.ParameterCapacity = 4 },
		"tiny framed ring":      func(c *Config) { c.FramedCapacity = 1 },
		"oversized frame limit": func(c *Config) { c.MaxEncodedFrameSize = 256 },
		"tiny buffer latency":   func(c *Config) { c.BufferLatency = time.Millisecond },
	} {
		t.Run(name, func(t *testing.T) {
			config := DefaultConfig()
			mutate(&config)
			assert.ErrorIs(t, config.Validate(), errInvalidConfig)
			_, err := NewTopology(config)
			assert.ErrorIs(t, err, errInvalidConfig)
		})
	}
}

func TestTopologyClaims(t *testing.T) {
	topology, err := NewTopology(DefaultConfig())
	require.NoError(t, err)
	assert.Len(t, topology.Specs(), 6)
	assert.Len(t, topology.Unclaimed(), 6)

	storage := claim(t, topology, BufferCaptureSamples, ContextCapture, RoleProducer)
	assert.Equal(t, ringbuf.KindFloat32, storage.Kind())

	_, err = topology.Claim(BufferCaptureSamples, ContextCapture, RoleProducer)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
	_, err = topology.Claim(BufferCaptureSamples, ContextDecode, RoleConsumer)
	assert.ErrorIs(t, err, ErrNotDesignated)
	_, err = topology.Claim("capture.nothing", ContextCapture, RoleProducer)
	assert.ErrorIs(t, err, ErrUnknownBuffer)

	consumer := claim(t, topology, BufferCaptureSamples, ContextEncode, RoleConsumer)
	assert.Equal(t, storage.Bytes(), consumer.Bytes(), "both ends share one storage")
	assert.NotContains(t, topology.Unclaimed(), BufferCaptureSamples)
}

func TestTopologyClaimAll(t *testing.T) {
	topology, err := NewTopology(DefaultConfig())
	require.NoError(t, err)

	network, err := topology.ClaimAll(ContextNetwork)
	require.NoError(t, err)
	assert.Len(t, network, 2)
	assert.Contains(t, network, BufferCaptureFramed)
	assert.Contains(t, network, BufferPlaybackFramed)

	control, err := topology.ClaimAll(ContextControl)
	require.NoError(t, err)
	assert.Len(t, control, 2)

	for _, context := range []string{ContextCapture, ContextEncode, ContextDecode, ContextPlayback} {
		_, err := topology.ClaimAll(context)
		require.NoError(t, err)
	}
	assert.Empty(t, topology.Unclaimed())

	_, err = topology.ClaimAll(ContextNetwork)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestInvalidTopology(t *testing.T) {
	_, err := newTopology([]BufferSpec{{"loop", ringbuf.KindUint8, 8, ContextEncode, ContextEncode}})
	assert.ErrorIs(t, err, errInvalidTopology)

	_, err = newTopology([]BufferSpec{
		{"a", ringbuf.KindUint8, 8, ContextEncode, ContextDecode},
		{"a", ringbuf.KindUint8, 8, ContextEncode, ContextDecode},
	})
	assert.ErrorIs(t, err, errInvalidTopology)

	_, err = newTopology([]BufferSpec{{"empty", ringbuf.KindUint8, 0, ContextEncode, ContextDecode}})
	assert.ErrorIs(t, err, ringbuf.ErrDegenerateCapacity)
}

// A worker that completes its bootstrap, records its configuration and idles until closed
func recordingWorker(prepareErr error, configured chan<- WorkerConfig) func(rpc.Port) {
	return func(port rpc.Port) {
		_, err := AwaitConfiguration(context.Background(), port,
			func() error { return prepareErr },
			func(config WorkerConfig) error {
				configured <- config
				return nil
			},
		)
		if err != nil {
			return
		}
		<-port.Done()
	}
}

func TestSpawn(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	configured := make(chan WorkerConfig, 1)
	storage, err := ringbuf.NewStorage(ringbuf.KindUint8, 16)
	require.NoError(t, err)
	config := WorkerConfig{SampleRate: 8000, ChannelCount: 1, FrameSize: 80, Buffers: map[string]ringbuf.Storage{"x": storage}}

	caller, err := Spawn(ctx, "recorder", recordingWorker(nil, configured), config)
	require.NoError(t, err)
	defer caller.Close()

	got := <-configured
	assert.Equal(t, 80, got.FrameSize)
	buffer, err := got.Buffer("x", ringbuf.KindUint8)
	require.NoError(t, err)
	assert.Equal(t, storage.Bytes(), buffer.Bytes())

	_, err = got.Buffer("x", ringbuf.KindFloat32)
	assert.ErrorIs(t, err, errUnexpectedStorage)
	_, err = got.Buffer("y", ringbuf.KindUint8)
	assert.ErrorIs(t, err, errMissingBuffer)
}

func TestSpawnPrepareFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	configured := make(chan WorkerConfig, 1)
	_, err := Spawn(ctx, "broken", recordingWorker(errors.New("no codec"), configured), WorkerConfig{})
	assert.ErrorIs(t, err, ErrSpawnFailed)
	assert.ErrorIs(t, err, rpc.ErrRemote)
	assert.ErrorContains(t, err, "no codec")
	assert.Empty(t, configured)
}

func TestSpawnWrongToken(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	impostor := func(port rpc.Port) {
		dispatcher := rpc.NewDispatcher(port)
		m, err := receive(ctx, port)
		if err != nil {
			return
		}
		dispatcher.Reply(ctx, m.Tag, "maybe")
	}
	_, err := Spawn(ctx, "impostor", impostor, WorkerConfig{})
	assert.ErrorIs(t, err, ErrSpawnFailed)
	assert.ErrorIs(t, err, errNotReady)
}

func TestSpawnTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	silent := func(port rpc.Port) { <-port.Done() }
	_, err := Spawn(ctx, "silent", silent, WorkerConfig{})
	assert.ErrorIs(t, err, ErrSpawnFailed)
	assert.ErrorIs(t, err, rpc.ErrTimeout)
}

func TestAwaitConfigurationRejectsOutOfOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	parent, worker := rpc.NewPipe(4)
	result := make(chan error, 1)
	go func() {
		_, err := AwaitConfiguration(ctx, worker, func() error { return nil }, func(WorkerConfig) error { return nil })
		result <- err
	}()

	caller := rpc.NewCaller(parent)
	defer caller.Close()
	_, err := caller.Request(ctx, rpc.Message{Command: CommandConfigure})
	assert.ErrorIs(t, err, rpc.ErrRemote)
	assert.ErrorIs(t, <-result, errUnexpectedMessage)
}

type pipelineHarness struct {
	config   Config
	stats    *Stats
	topology *Topology

	capture  *CaptureProcessor
	playback *PlaybackProcessor
	encode   *EncodeWorker
	decode   *DecodeWorker

	captureParams  *ringbuf.ParameterWriter
	playbackParams *ringbuf.ParameterWriter
	outgoing       *framed.Reader[uint8]
	incoming       *ringbuf.RingBuffer[uint8]
}

// Every context of a pipeline, driven by hand from the test goroutine
func newHarness(t *testing.T, config Config) *pipelineHarness {
	t.Helper()
	topology, err := NewTopology(config)
	require.NoError(t, err)
	h := &pipelineHarness{config: config, stats: &Stats{}, topology: topology}

	h.capture, err = NewCaptureProcessor(config,
		claim(t, topology, BufferCaptureSamples, ContextCapture, RoleProducer),
		claim(t, topology, BufferCaptureParams, ContextCapture, RoleConsumer),
		h.stats)
	require.NoError(t, err)
	h.playback, err = NewPlaybackProcessor(config,
		claim(t, topology, BufferPlaybackSamples, ContextPlayback, RoleConsumer),
		claim(t, topology, BufferPlaybackParams, ContextPlayback, RoleConsumer),
		h.stats)
	require.NoError(t, err)

	encodeBuffers, err := topology.ClaimAll(ContextEncode)
	require.NoError(t, err)
	h.encode = NewEncodeWorker(config, h.stats)
	require.NoError(t, h.encode.prepare())
	require.NoError(t, h.encode.configure(config.WorkerConfig(encodeBuffers)))

	decodeBuffers, err := topology.ClaimAll(ContextDecode)
	require.NoError(t, err)
	h.decode = NewDecodeWorker(config, h.stats)
	require.NoError(t, h.decode.prepare())
	require.NoError(t, h.decode.configure(config.WorkerConfig(decodeBuffers)))

	control, err := topology.ClaimAll(ContextControl)
	require.NoError(t, err)
	captureParams, err := ringbuf.New[uint8](control[BufferCaptureParams])
	require.NoError(t, err)
	h.captureParams, err = ringbuf.NewParameterWriter(captureParams)
	require.NoError(t, err)
	playbackParams, err := ringbuf.New[uint8](control[BufferPlaybackParams])
	require.NoError(t, err)
	h.playbackParams, err = ringbuf.NewParameterWriter(playbackParams)
	require.NoError(t, err)

	network, err := topology.ClaimAll(ContextNetwork)
	require.NoError(t, err)
	outgoing, err := ringbuf.New[uint8](network[BufferCaptureFramed])
	require.NoError(t, err)
	h.outgoing = framed.NewReader(outgoing, make([]uint8, framed.MaxPayload[uint8]()))
	h.incoming, err = ringbuf.New[uint8](network[BufferPlaybackFramed])
	require.NoError(t, err)

	require.Empty(t, topology.Unclaimed())
	return h
}

// Forward every encoded frame from capture.framed to playback.framed, as a loopback server would
func (h *pipelineHarness) loopback(t *testing.T) []int {
	t.Helper()
	var sizes []int
	for {
		message, ok, err := h.outgoing.ReadSizedMessage()
		require.NoError(t, err)
		if !ok {
			return sizes
		}
		sizes = append(sizes, len(message))
		require.True(t, framed.WriteSizedMessage(message, h.incoming))
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	quantum := h.config.QuantumSize

	for q := range 20 {
		h.capture.Process(planar(2, quantum, func(_ int, i int) float32 {
			n := q*quantum + i
			return float32(0.5 * math.Sin(2*math.Pi*440*float64(n)/48000))
		}))
	}
	require.NoError(t, h.encode.drain())

	// 20 quanta of 128 make 5 whole frames of 480, with 160 samples left over
	snapshot := h.stats.Snapshot()
	assert.Equal(t, uint64(20), snapshot.CaptureQuanta)
	assert.Equal(t, uint64(5), snapshot.FramesEncoded)
	assert.Zero(t, snapshot.Drops())

	// Each 10ms frame is about 80 bytes of 8kHz mu-law
	sizes := h.loopback(t)
	require.Len(t, sizes, 5)
	total := 0
	for _, size := range sizes {
		assert.LessOrEqual(t, size, framed.MaxPayload[uint8]())
		total += size
	}
	assert.InDelta(t, 400, total, 40)

	require.NoError(t, h.decode.drain())
	snapshot = h.stats.Snapshot()
	assert.Equal(t, uint64(5), snapshot.FramesDecoded)
	assert.Zero(t, snapshot.FramesDiscarded)

	output := planar(2, quantum, constant(0))
	h.playback.Process(output)
	assert.Zero(t, h.stats.PlaybackUnderruns.Load())
	assert.Equal(t, output[0], output[1], "mono audio is spread across both channels")
}

func TestPipelineSuppressesSilence(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	for range 4 {
		h.capture.Process(planar(2, h.config.QuantumSize, constant(0)))
	}
	require.NoError(t, h.encode.drain())

	assert.Equal(t, uint64(1), h.stats.FramesSuppressed.Load())
	assert.Zero(t, h.stats.FramesEncoded.Load())
	assert.Empty(t, h.loopback(t))
}

func TestDecodeDiscardsEmptyFrames(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	require.True(t, framed.WriteSizedMessage([]uint8{}, h.incoming))
	require.True(t, framed.WriteSizedMessage([]uint8{0xFF}, h.incoming))
	require.NoError(t, h.decode.drain())

	assert.Equal(t, uint64(2), h.stats.FramesDiscarded.Load())
	assert.Zero(t, h.stats.FramesDecoded.Load())
}

func TestDecodeOversizedMessageIsFatal(t *testing.T) {
	config := DefaultConfig()
	config.MaxEncodedFrameSize = 16
	h := newHarness(t, config)

	require.True(t, framed.WriteSizedMessage(make([]uint8, 100), h.incoming))
	assert.ErrorIs(t, h.decode.drain(), framed.ErrMessageTooLarge)
	assert.ErrorIs(t, h.decode.drain(), framed.ErrMessageTooLarge, "the reader stays poisoned")
}

func TestCaptureParameters(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	quantum := h.config.QuantumSize
	out := make([]float32, quantum*2)

	require.True(t, h.captureParams.EnqueueChange(ParameterGain, 0.5))
	h.capture.Process(planar(2, quantum, constant(1)))
	require.Equal(t, len(out), h.encode.samples.Dequeue(out))
	assert.Equal(t, float32(0.5), out[0])
	assert.Equal(t, float32(0.5), out[len(out)-1])

	require.True(t, h.captureParams.EnqueueChange(ParameterMute, 1))
	h.capture.Process(planar(2, quantum, constant(1)))
	require.Equal(t, len(out), h.encode.samples.Dequeue(out))
	assert.Equal(t, make([]float32, len(out)), out)

	require.True(t, h.captureParams.EnqueueChange(ParameterMute, 0))
	require.True(t, h.captureParams.EnqueueChange(ParameterGain, 1))
	h.capture.Process(planar(2, quantum, func(c int, i int) float32 { return float32(c) }))
	require.Equal(t, len(out), h.encode.samples.Dequeue(out))
	assert.Equal(t, []float32{0, 1, 0, 1}, out[:4], "capture.samples is interleaved")
}

func TestPlaybackParameters(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	quantum := h.config.QuantumSize
	writer := h.decode.samples

	interleaved := make([]float32, quantum*2)
	for i := range interleaved {
		interleaved[i] = 1
	}

	require.True(t, h.playbackParams.EnqueueChange(ParameterGain, 0.25))
	require.Equal(t, len(interleaved), writer.Enqueue(interleaved))
	output := planar(2, quantum, constant(0))
	h.playback.Process(output)
	assert.Equal(t, float32(0.25), output[1][quantum-1])

	require.True(t, h.playbackParams.EnqueueChange(ParameterMute, 1))
	require.Equal(t, len(interleaved), writer.Enqueue(interleaved))
	h.playback.Process(output)
	assert.Equal(t, planar(2, quantum, constant(0)), output)
	assert.Zero(t, h.stats.PlaybackUnderruns.Load())
}

func TestCaptureDropsWhatDoesNotFit(t *testing.T) {
	config := DefaultConfig()
	samples, err := ringbuf.NewStorage(ringbuf.KindFloat32, 300)
	require.NoError(t, err)
	params, err := ringbuf.NewStorage(ringbuf.KindUint8, 16)
	require.NoError(t, err)
	stats := &Stats{}

	capture, err := NewCaptureProcessor(config, samples, params, stats)
	require.NoError(t, err)
	consumer, err := ringbuf.New[float32](samples)
	require.NoError(t, err)

	capture.Process(planar(2, config.QuantumSize, constant(1)))
	assert.Zero(t, stats.CaptureDrops.Load())
	capture.Process(planar(2, config.QuantumSize, constant(1)))
	assert.Equal(t, uint64(1), stats.CaptureDrops.Load())

	// Only whole sample frames are written, so channels stay aligned
	assert.Equal(t, 300, consumer.AvailableRead())
	capture.Process(planar(2, config.QuantumSize, constant(1)))
	assert.Equal(t, uint64(2), stats.CaptureDrops.Load())
	assert.Equal(t, 300, consumer.AvailableRead())
}

func TestPlaybackUnderrunIsSilence(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	quantum := h.config.QuantumSize

	output := planar(2, quantum, constant(1))
	h.playback.Process(output)
	assert.Equal(t, planar(2, quantum, constant(0)), output)
	assert.Equal(t, uint64(1), h.stats.PlaybackUnderruns.Load())

	// Less than a whole quantum is still an underrun
	require.Equal(t, quantum, h.decode.samples.Enqueue(make([]float32, quantum)))
	h.playback.Process(output)
	assert.Equal(t, uint64(2), h.stats.PlaybackUnderruns.Load())
}

func TestProcessorsCountShapeErrors(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	quantum := h.config.QuantumSize

	h.capture.Process(planar(1, quantum, constant(1)))
	h.capture.Process(planar(2, quantum-1, constant(1)))
	output := planar(3, quantum, constant(1))
	h.playback.Process(output)

	assert.Equal(t, uint64(3), h.stats.ShapeErrors.Load())
	assert.Equal(t, planar(3, quantum, constant(0)), output)
	assert.Zero(t, h.encode.samples.AvailableRead())
}

func TestSpawnedWorkerReportsFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	config := DefaultConfig()
	config.MaxEncodedFrameSize = 16
	config.DecodePollInterval = 5 * time.Millisecond
	topology, err := NewTopology(config)
	require.NoError(t, err)

	buffers, err := topology.ClaimAll(ContextDecode)
	require.NoError(t, err)
	caller, err := Spawn(ctx, ContextDecode, NewDecodeWorker(config, &Stats{}).Run, config.WorkerConfig(buffers))
	require.NoError(t, err)
	defer caller.Close()

	incoming, err := ringbuf.New[uint8](claim(t, topology, BufferPlaybackFramed, ContextNetwork, RoleProducer))
	require.NoError(t, err)
	require.True(t, framed.WriteSizedMessage(make([]uint8, 100), incoming))

	select {
	case event := <-caller.Events():
		assert.Equal(t, EventWorkerFailed, event.Type)
		assert.Contains(t, event.Data, "exceeds staging capacity")
	case <-ctx.Done():
		t.Fatal("worker did not report failure")
	}
}

func TestSpawnedEncodeWorker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	config := DefaultConfig()
	config.EncodePollInterval = 5 * time.Millisecond
	topology, err := NewTopology(config)
	require.NoError(t, err)
	stats := &Stats{}

	buffers, err := topology.ClaimAll(ContextEncode)
	require.NoError(t, err)
	caller, err := Spawn(ctx, ContextEncode, NewEncodeWorker(config, stats).Run, config.WorkerConfig(buffers))
	require.NoError(t, err)
	defer caller.Close()

	samples, err := ringbuf.New[float32](claim(t, topology, BufferCaptureSamples, ContextCapture, RoleProducer))
	require.NoError(t, err)
	frame := make([]float32, config.FrameSize()*config.ChannelCount)
	for i := range frame {
		frame[i] = 0.25
	}
	require.Equal(t, len(frame), samples.Push(frame))

	assert.Eventually(t, func() bool { return stats.FramesEncoded.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Requests after bootstrap without a handler are answered with an error
	_, err = caller.Request(ctx, rpc.Message{Query: "status"})
	assert.ErrorIs(t, err, rpc.ErrRemote)
}

func TestStatsRegister(t *testing.T) {
	stats := &Stats{}
	stats.CaptureDrops.Add(3)
	stats.FramesSent.Add(7)

	registry := prometheus.NewRegistry()
	require.NoError(t, stats.Register(registry))
	assert.Error(t, stats.Register(registry), "counters can only be registered once")

	families, err := registry.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, family := range families {
		values[family.GetName()] = family.GetMetric()[0].GetCounter().GetValue()
	}
	assert.Len(t, values, 15)
	assert.Equal(t, 3.0, values["voicering_capture_dropped_quanta_total"])
	assert.Equal(t, 7.0, values["voicering_network_sent_frames_total"])

	assert.Equal(t, uint64(3), stats.Snapshot().Drops())
}
