package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/rpc"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/encoderdecoder"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/framed"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/ringbuf"
	"github.com/google/uuid"
)

// EncodeWorker encodes captured audio, one codec frame at a time, from capture.samples into
// framed messages on capture.framed.
type EncodeWorker struct {
	logger *slog.Logger
	warn   *utils.RateLimitedLogger
	config Config
	stats  *Stats

	codec   encoderdecoder.EncoderDecoder
	samples *ringbuf.AudioReader
	framed  *framed.Writer[uint8]
	frame   frame.PCMFrame
}

func NewEncodeWorker(config Config, stats *Stats) *EncodeWorker {
	logger := slog.Default().With("encode worker uuid", uuid.New())
	return &EncodeWorker{
		logger: logger,
		warn:   utils.NewRateLimitedLogger(logger, time.Second, 1),
		config: config,
		stats:  stats,
	}
}

// Run the worker. Suitable for Spawn.
func (w *EncodeWorker) Run(port rpc.Port) {
	runPolling(port, w.logger, w.config.EncodePollInterval, w)
}

func (w *EncodeWorker) prepare() error {
	codec, err := encoderdecoder.NewEncoderDecoder(w.config.Codec, w.config.SampleRate, w.config.ChannelCount, w.config.FrameDuration)
	if err != nil {
		return fmt.Errorf("creating %s codec: %w", w.config.Codec, err)
	}
	w.codec = codec
	return nil
}

func (w *EncodeWorker) configure(config WorkerConfig) error {
	samplesStorage, err := config.Buffer(BufferCaptureSamples, ringbuf.KindFloat32)
	if err != nil {
		return err
	}
	framedStorage, err := config.Buffer(BufferCaptureFramed, ringbuf.KindUint8)
	if err != nil {
		return err
	}

	samplesRing, err := ringbuf.New[float32](samplesStorage)
	if err != nil {
		return err
	}
	samples, err := ringbuf.NewAudioReader(samplesRing)
	if err != nil {
		return err
	}
	framedRing, err := ringbuf.New[uint8](framedStorage)
	if err != nil {
		return err
	}

	w.samples = samples
	w.framed = framed.NewWriter(framedRing)
	w.frame = make(frame.PCMFrame, config.FrameSize*config.ChannelCount)
	return nil
}

// Encode every whole frame in capture.samples.
// Frames the codec rejects or capture.framed cannot take are dropped; neither stops the worker.
func (w *EncodeWorker) drain() error {
	for w.samples.AvailableRead() >= len(w.frame) {
		w.samples.Dequeue(w.frame)

		encoded, err := w.codec.Encode(w.frame)
		if err != nil {
			w.stats.CodecErrors.Add(1)
			w.warn.Warn("failed to encode frame", "err", err)
			continue
		}
		if len(encoded) <= w.config.DTXThreshold {
			w.stats.FramesSuppressed.Add(1)
			continue
		}
		if !w.framed.Write(encoded) {
			w.stats.EncodeDrops.Add(1)
			w.warn.Warn("capture.framed is full, dropping encoded frame", "size", len(encoded))
			continue
		}
		w.stats.FramesEncoded.Add(1)
	}
	return nil
}
