package pipeline

import (
	"errors"
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

// DecodeWorker decodes framed messages from playback.framed into audio on playback.samples.
type DecodeWorker struct {
	logger *slog.Logger
	warn   *utils.RateLimitedLogger
	config Config
	stats  *Stats

	codec    encoderdecoder.EncoderDecoder
	framed   *framed.Reader[uint8]
	samples  *ringbuf.AudioWriter
	channels int
}

func NewDecodeWorker(config Config, stats *Stats) *DecodeWorker {
	logger := slog.Default().With("decode worker uuid", uuid.New())
	return &DecodeWorker{
		logger: logger,
		warn:   utils.NewRateLimitedLogger(logger, time.Second, 1),
		config: config,
		stats:  stats,
	}
}

// Run the worker. Suitable for Spawn.
func (w *DecodeWorker) Run(port rpc.Port) {
	runPolling(port, w.logger, w.config.DecodePollInterval, w)
}

func (w *DecodeWorker) prepare() error {
	codec, err := encoderdecoder.NewEncoderDecoder(w.config.Codec, w.config.SampleRate, w.config.ChannelCount, w.config.FrameDuration)
	if err != nil {
		return fmt.Errorf("creating %s codec: %w", w.config.Codec, err)
	}
	w.codec = codec
	return nil
}

func (w *DecodeWorker) configure(config WorkerConfig) error {
	framedStorage, err := config.Buffer(BufferPlaybackFramed, ringbuf.KindUint8)
	if err != nil {
		return err
	}
	samplesStorage, err := config.Buffer(BufferPlaybackSamples, ringbuf.KindFloat32)
	if err != nil {
		return err
	}

	framedRing, err := ringbuf.New[uint8](framedStorage)
	if err != nil {
		return err
	}
	samplesRing, err := ringbuf.New[float32](samplesStorage)
	if err != nil {
		return err
	}
	samples, err := ringbuf.NewAudioWriter(samplesRing)
	if err != nil {
		return err
	}

	w.framed = framed.NewReader(framedRing, make([]uint8, w.config.MaxEncodedFrameSize))
	w.samples = samples
	w.channels = config.ChannelCount
	return nil
}

// Decode every complete message in playback.framed.
//
// Frames without audio are skipped and frames the codec rejects are dropped. A message larger
// than any valid frame means the ring is corrupt, and is returned as an error.
func (w *DecodeWorker) drain() error {
	for {
		message, ok, err := w.framed.ReadSizedMessage()
		if err != nil {
			return fmt.Errorf("reading %s: %w", BufferPlaybackFramed, err)
		}
		if !ok {
			return nil
		}

		pcm, err := w.codec.Decode(frame.EncodedFrame(message))
		if errors.Is(err, encoderdecoder.ErrDiscardFrame) {
			w.stats.FramesDiscarded.Add(1)
			continue
		}
		if err != nil {
			w.stats.CodecErrors.Add(1)
			w.warn.Warn("failed to decode frame", "err", err, "size", len(message))
			continue
		}

		writable := min(len(pcm), w.samples.AvailableWrite()/w.channels*w.channels)
		written := w.samples.Enqueue(pcm[:writable])
		if written < len(pcm) {
			w.stats.DecodeDrops.Add(1)
			w.warn.Warn("playback.samples is full, dropping decoded audio", "dropped", len(pcm)-written)
		}
		w.stats.FramesDecoded.Add(1)
	}
}
