package pipeline

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters of a running pipeline.
//
// Every field is updated with a single atomic add, so the real-time processors may count
// without locking, and anyone may read a consistent value of each counter at any time.
type Stats struct {
	CaptureQuanta     atomic.Uint64
	CaptureDrops      atomic.Uint64
	PlaybackQuanta    atomic.Uint64
	PlaybackUnderruns atomic.Uint64
	// Quanta whose channel layout did not match the pipeline
	ShapeErrors atomic.Uint64

	FramesEncoded    atomic.Uint64
	FramesSuppressed atomic.Uint64
	EncodeDrops      atomic.Uint64
	FramesDecoded    atomic.Uint64
	FramesDiscarded  atomic.Uint64
	DecodeDrops      atomic.Uint64
	CodecErrors      atomic.Uint64

	FramesSent     atomic.Uint64
	FramesReceived atomic.Uint64
	NetworkDrops   atomic.Uint64
}

// A copy of the counters at one moment
type StatsSnapshot struct {
	CaptureQuanta     uint64
	CaptureDrops      uint64
	PlaybackQuanta    uint64
	PlaybackUnderruns uint64
	ShapeErrors       uint64
	FramesEncoded     uint64
	FramesSuppressed  uint64
	EncodeDrops       uint64
	FramesDecoded     uint64
	FramesDiscarded   uint64
	DecodeDrops       uint64
	CodecErrors       uint64
	FramesSent        uint64
	FramesReceived    uint64
	NetworkDrops      uint64
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		CaptureQuanta:     s.CaptureQuanta.Load(),
		CaptureDrops:      s.CaptureDrops.Load(),
		PlaybackQuanta:    s.PlaybackQuanta.Load(),
		PlaybackUnderruns: s.PlaybackUnderruns.Load(),
		ShapeErrors:       s.ShapeErrors.Load(),
		FramesEncoded:     s.FramesEncoded.Load(),
		FramesSuppressed:  s.FramesSuppressed.Load(),
		EncodeDrops:       s.EncodeDrops.Load(),
		FramesDecoded:     s.FramesDecoded.Load(),
		FramesDiscarded:   s.FramesDiscarded.Load(),
		DecodeDrops:       s.DecodeDrops.Load(),
		CodecErrors:       s.CodecErrors.Load(),
		FramesSent:        s.FramesSent.Load(),
		FramesReceived:    s.FramesReceived.Load(),
		NetworkDrops:      s.NetworkDrops.Load(),
	}
}

// Total of every counter that records lost audio
func (s StatsSnapshot) Drops() uint64 {
	return s.CaptureDrops + s.PlaybackUnderruns + s.ShapeErrors + s.EncodeDrops + s.DecodeDrops + s.NetworkDrops
}

// Log the counters if any audio has been lost since previous
func (s StatsSnapshot) LogIfDropped(logger *slog.Logger, previous StatsSnapshot) {
	if s.Drops() == previous.Drops() {
		return
	}
	logger.Warn("pipeline dropped audio",
		"captureDrops", s.CaptureDrops-previous.CaptureDrops,
		"playbackUnderruns", s.PlaybackUnderruns-previous.PlaybackUnderruns,
		"shapeErrors", s.ShapeErrors-previous.ShapeErrors,
		"encodeDrops", s.EncodeDrops-previous.EncodeDrops,
		"decodeDrops", s.DecodeDrops-previous.DecodeDrops,
		"networkDrops", s.NetworkDrops-previous.NetworkDrops,
	)
}

// Expose every counter on registerer as a voicering_* prometheus counter.
func (s *Stats) Register(registerer prometheus.Registerer) error {
	counters := []struct {
		subsystem string
		name      string
		help      string
		value     *atomic.Uint64
	}{
		{"capture", "quanta_total", "Quanta delivered by the input device.", &s.CaptureQuanta},
		{"capture", "dropped_quanta_total", "Quanta not accepted by capture.samples.", &s.CaptureDrops},
		{"playback", "quanta_total", "Quanta requested by the output device.", &s.PlaybackQuanta},
		{"playback", "underruns_total", "Quanta played as silence for lack of audio.", &s.PlaybackUnderruns},
		{"pipeline", "shape_errors_total", "Quanta with an unexpected channel layout.", &s.ShapeErrors},
		{"encode", "frames_total", "Frames encoded and queued for the network.", &s.FramesEncoded},
		{"encode", "suppressed_frames_total", "Silent frames not sent.", &s.FramesSuppressed},
		{"encode", "dropped_frames_total", "Encoded frames not accepted by capture.framed.", &s.EncodeDrops},
		{"decode", "frames_total", "Frames decoded and queued for playback.", &s.FramesDecoded},
		{"decode", "discarded_frames_total", "Received frames carrying no audio.", &s.FramesDiscarded},
		{"decode", "dropped_frames_total", "Decoded frames not accepted by playback.samples.", &s.DecodeDrops},
		{"codec", "errors_total", "Frames the codec failed to encode or decode.", &s.CodecErrors},
		{"network", "sent_frames_total", "Audio frames sent to the server.", &s.FramesSent},
		{"network", "received_frames_total", "Audio frames received from the server.", &s.FramesReceived},
		{"network", "dropped_frames_total", "Received frames not accepted by playback.framed.", &s.NetworkDrops},
	}

	var errs []error
	for _, c := range counters {
		value := c.value
		collector := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "voicering",
			Subsystem: c.subsystem,
			Name:      c.name,
			Help:      c.help,
		}, func() float64 {
			return float64(value.Load())
		})
		if err := registerer.Register(collector); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
