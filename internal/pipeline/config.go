// Package pipeline wires the real-time audio pipeline of a voice client.
//
// Audio flows through a fixed set of contexts, each connected to the next by a single producer,
// single consumer ring buffer:
//
//	capture -> [capture.samples] -> encode -> [capture.framed] -> network
//	network -> [playback.framed] -> decode -> [playback.samples] -> playback
//
// The control context adjusts the capture and playback processors through parameter rings.
// Rings are allocated once, when the Topology is created, and are never resized.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/encoderdecoder"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/framed"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/ringbuf"
)

var (
	errInvalidConfig = errors.New("invalid pipeline configuration")
)

type Config struct {
	SampleRate   int
	ChannelCount int
	// Samples per channel handed to the real-time callbacks at once
	QuantumSize int
	// Audio per codec frame
	FrameDuration time.Duration
	// Audio each sample ring can hold
	BufferLatency time.Duration

	// Capacity, in bytes, of each framed ring
	FramedCapacity int
	// Largest encoded frame the decoder accepts. Larger frames mean playback.framed is corrupt.
	MaxEncodedFrameSize int
	// Capacity, in bytes, of each parameter ring
	ParameterCapacity int

	EncodePollInterval  time.Duration
	DecodePollInterval  time.Duration
	NetworkPollInterval time.Duration

	Codec encoderdecoder.EncoderDecoderTypeEnum
	// Encoded frames no longer than this are not sent
	DTXThreshold int
}

func DefaultConfig() Config {
	return Config{
		SampleRate:          48000,
		ChannelCount:        2,
		QuantumSize:         ringbuf.DefaultQuantum,
		FrameDuration:       10 * time.Millisecond,
		BufferLatency:       200 * time.Millisecond,
		FramedCapacity:      4096 * 3,
		MaxEncodedFrameSize: framed.MaxPayload[uint8](),
		ParameterCapacity:   64 * ringbuf.ParameterRecordSize,
		EncodePollInterval:  50 * time.Millisecond,
		DecodePollInterval:  50 * time.Millisecond,
		NetworkPollInterval: 30 * time.Millisecond,
		Codec:               encoderdecoder.EncoderDecoderTypeMulaw,
		DTXThreshold:        3,
	}
}

// Samples per channel in one codec frame
func (c Config) FrameSize() int {
	return encoderdecoder.FrameSize(c.SampleRate, c.FrameDuration)
}

// Capacity, in samples, of each sample ring
func (c Config) SampleCapacity() int {
	return int(int64(c.SampleRate) * int64(c.ChannelCount) * int64(c.BufferLatency) / int64(time.Second))
}

func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %d", c.SampleRate))
	}
	if c.ChannelCount <= 0 {
		errs = append(errs, fmt.Errorf("channel count %d", c.ChannelCount))
	}
	if c.QuantumSize <= 0 {
		errs = append(errs, fmt.Errorf("quantum size %d", c.QuantumSize))
	}
	if c.FrameSize() <= 0 {
		errs = append(errs, fmt.Errorf("frame duration %v", c.FrameDuration))
	}
	if c.EncodePollInterval <= 0 || c.DecodePollInterval <= 0 || c.NetworkPollInterval <= 0 {
		errs = append(errs, errors.New("poll intervals must be positive"))
	}
	if c.ParameterCapacity < ringbuf.ParameterRecordSize {
		errs = append(errs, fmt.Errorf("parameter capacity %d cannot hold one record", c.ParameterCapacity))
	}
	if c.FramedCapacity <= 1 {
		errs = append(errs, fmt.Errorf("framed capacity %d", c.FramedCapacity))
	}
	if c.MaxEncodedFrameSize <= 0 || c.MaxEncodedFrameSize > framed.MaxPayload[uint8]() {
		errs = append(errs, fmt.Errorf("max encoded frame size %d, framed messages carry at most %d bytes",
			c.MaxEncodedFrameSize, framed.MaxPayload[uint8]()))
	}

	// A sample ring must hold a whole codec frame on the encode side and a whole quantum on the
	// playback side, with room to spare for the producer to keep writing meanwhile
	if len(errs) == 0 {
		needed := (c.FrameSize() + c.QuantumSize) * c.ChannelCount
		if c.SampleCapacity() < needed {
			errs = append(errs, fmt.Errorf("buffer latency %v holds %d samples, need at least %d",
				c.BufferLatency, c.SampleCapacity(), needed))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", errInvalidConfig, errors.Join(errs...))
	}
	return nil
}
