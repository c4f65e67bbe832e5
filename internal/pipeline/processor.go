package pipeline

import (
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/ringbuf"
)

// Parameters of the capture and playback processors, by index
const (
	ParameterGain uint8 = iota
	ParameterMute
)

// Gain and mute as set through a parameter ring
type levels struct {
	params *ringbuf.ParameterReader
	change ringbuf.ParameterChange
	gain   float32
	muted  bool
}

func newLevels(params ringbuf.Storage) (levels, error) {
	rb, err := ringbuf.New[uint8](params)
	if err != nil {
		return levels{}, err
	}
	reader, err := ringbuf.NewParameterReader(rb)
	if err != nil {
		return levels{}, err
	}
	return levels{params: reader, gain: 1}, nil
}

// Apply every pending change. Unknown parameters are ignored.
func (l *levels) update() {
	for l.params.DequeueChange(&l.change) {
		switch l.change.Index {
		case ParameterGain:
			l.gain = l.change.Value
		case ParameterMute:
			l.muted = l.change.Value != 0
		}
	}
}

// Effective multiplier for the current quantum
func (l *levels) factor() float32 {
	if l.muted {
		return 0
	}
	return l.gain
}

func validShape(channels [][]float32, channelCount int, quantum int) bool {
	if len(channels) != channelCount {
		return false
	}
	for _, channel := range channels {
		if len(channel) < quantum {
			return false
		}
	}
	return true
}

// CaptureProcessor moves audio from an input device into capture.samples.
//
// Process runs in the device's real-time callback: it never blocks, allocates or logs.
// Problems are only counted in Stats.
type CaptureProcessor struct {
	samples  *ringbuf.AudioWriter
	levels   levels
	stats    *Stats
	staging  []float32
	quantum  int
	channels int
}

// Create the processor for the producing end of capture.samples and the consuming end of capture.params
func NewCaptureProcessor(config Config, samples ringbuf.Storage, params ringbuf.Storage, stats *Stats) (*CaptureProcessor, error) {
	rb, err := ringbuf.New[float32](samples)
	if err != nil {
		return nil, err
	}
	writer, err := ringbuf.NewAudioWriter(rb)
	if err != nil {
		return nil, err
	}
	levels, err := newLevels(params)
	if err != nil {
		return nil, err
	}
	return &CaptureProcessor{
		samples:  writer,
		levels:   levels,
		stats:    stats,
		staging:  make([]float32, config.QuantumSize*config.ChannelCount),
		quantum:  config.QuantumSize,
		channels: config.ChannelCount,
	}, nil
}

// Process one quantum of planar input.
//
// If capture.samples cannot take the whole quantum, as many whole sample frames as fit are
// written and the rest of the quantum is dropped.
func (p *CaptureProcessor) Process(input [][]float32) {
	p.stats.CaptureQuanta.Add(1)
	p.levels.update()

	if !validShape(input, p.channels, p.quantum) {
		p.stats.ShapeErrors.Add(1)
		return
	}
	ringbuf.Interleave(input, p.staging, p.quantum)

	if factor := p.levels.factor(); factor != 1 {
		for i := range p.staging {
			p.staging[i] *= factor
		}
	}

	writable := min(len(p.staging), p.samples.AvailableWrite()/p.channels*p.channels)
	written := p.samples.Enqueue(p.staging[:writable])
	if written < len(p.staging) {
		p.stats.CaptureDrops.Add(1)
	}
}

// PlaybackProcessor moves audio from playback.samples to an output device.
// The same real-time rules as CaptureProcessor apply.
type PlaybackProcessor struct {
	samples  *ringbuf.AudioReader
	levels   levels
	stats    *Stats
	staging  []float32
	quantum  int
	channels int
}

// Create the processor for the consuming end of playback.samples and of playback.params
func NewPlaybackProcessor(config Config, samples ringbuf.Storage, params ringbuf.Storage, stats *Stats) (*PlaybackProcessor, error) {
	rb, err := ringbuf.New[float32](samples)
	if err != nil {
		return nil, err
	}
	reader, err := ringbuf.NewAudioReader(rb)
	if err != nil {
		return nil, err
	}
	levels, err := newLevels(params)
	if err != nil {
		return nil, err
	}
	return &PlaybackProcessor{
		samples:  reader,
		levels:   levels,
		stats:    stats,
		staging:  make([]float32, config.QuantumSize*config.ChannelCount),
		quantum:  config.QuantumSize,
		channels: config.ChannelCount,
	}, nil
}

// Fill one quantum of planar output.
// If less than a whole quantum is buffered the output is silence and an underrun is counted.
func (p *PlaybackProcessor) Process(output [][]float32) {
	p.stats.PlaybackQuanta.Add(1)
	p.levels.update()

	if !validShape(output, p.channels, p.quantum) {
		p.stats.ShapeErrors.Add(1)
		silence(output)
		return
	}
	if p.samples.AvailableRead() < len(p.staging) {
		p.stats.PlaybackUnderruns.Add(1)
		silence(output)
		return
	}

	p.samples.Dequeue(p.staging)
	ringbuf.Deinterleave(p.staging, output, p.quantum)

	if factor := p.levels.factor(); factor != 1 {
		for _, channel := range output {
			for i := range channel[:p.quantum] {
				channel[i] *= factor
			}
		}
	}
}

func silence(output [][]float32) {
	for _, channel := range output {
		clear(channel)
	}
}
