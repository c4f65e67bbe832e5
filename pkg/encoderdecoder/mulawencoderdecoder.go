package encoderdecoder

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/frame"
	"github.com/oov/audio/resampler"
)

const (
	// G.711 operates on 8kHz mono audio
	MulawSampleRate = 8000

	mulawBias = 0x84
	mulawClip = 32635

	resampleQuality = 10

	// A frame whose peak amplitude stays under this level is not transmitted.
	// The encoder instead emits a single byte discontinuous transmission marker.
	silencePeak = 1.0 / 1024

	dtxMarker byte = 0xFF
)

var (
	errInvalidFrameDuration = errors.New("given frame duration is not a valid mulaw frame duration")
	errInvalidFormat        = errors.New("sample rate and channel count must be strictly positive")
)

// G.711 mu-law narrowband codec.
//
// PCM frames at any sample rate and channel count are mixed down to mono and resampled to 8kHz
// before companding to one byte per sample, so a 10ms frame encodes to 80 bytes and a 20ms frame
// to 160, which both fit into a single framed message on a byte ring.
// Silent frames are replaced by a one byte marker, which the decoder reports as ErrDiscardFrame.
type MulawEncoderDecoder struct {
	sampleRate  int
	numChannels int
	frameSize   int

	encodeResampler *resampler.Resampler
	decodeResampler *resampler.Resampler

	monoFrame     frame.PCMFrame
	narrowFrame   frame.PCMFrame
	encodingFrame frame.EncodedFrame
	wideFrame     frame.PCMFrame
	decodedFrame  frame.PCMFrame
}

func newMulawEncoderDecoder(sampleRate int, numChannels int, frameDuration time.Duration) (*MulawEncoderDecoder, error) {
	if sampleRate <= 0 || numChannels <= 0 {
		return nil, errInvalidFormat
	}
	switch frameDuration {
	case 10 * time.Millisecond:
	case 20 * time.Millisecond:
	default:
		return nil, fmt.Errorf("%w: %v", errInvalidFrameDuration, frameDuration)
	}

	frameSize := FrameSize(sampleRate, frameDuration)
	narrowSize := FrameSize(MulawSampleRate, frameDuration)

	// Resampler output per call jitters by a few samples around the nominal size
	const slack = 32
	encdec := &MulawEncoderDecoder{
		sampleRate:    sampleRate,
		numChannels:   numChannels,
		frameSize:     frameSize,
		monoFrame:     make(frame.PCMFrame, frameSize),
		narrowFrame:   make(frame.PCMFrame, narrowSize+slack),
		encodingFrame: make(frame.EncodedFrame, narrowSize+slack),
		wideFrame:     make(frame.PCMFrame, frameSize+slack*sampleRate/MulawSampleRate+slack),
		decodedFrame:  make(frame.PCMFrame, (frameSize+slack*sampleRate/MulawSampleRate+slack)*numChannels),
	}
	if sampleRate != MulawSampleRate {
		encdec.encodeResampler = resampler.New(1, sampleRate, MulawSampleRate, resampleQuality)
		encdec.decodeResampler = resampler.New(1, MulawSampleRate, sampleRate, resampleQuality)
	}
	return encdec, nil
}

// Number of interleaved samples Encode expects in every frame.
func (encdec *MulawEncoderDecoder) FrameSamples() int {
	return encdec.frameSize * encdec.numChannels
}

func (encdec *MulawEncoderDecoder) Encode(pcmData frame.PCMFrame) (frame.EncodedFrame, error) {
	if len(pcmData) != encdec.FrameSamples() {
		return nil, fmt.Errorf("%w: got %d samples, expected %d", ErrFrameSizeMismatch, len(pcmData), encdec.FrameSamples())
	}

	// Mix down to mono
	var peak float32
	for i := range encdec.frameSize {
		var sum float32
		for c := range encdec.numChannels {
			sum += pcmData[i*encdec.numChannels+c]
		}
		v := sum / float32(encdec.numChannels)
		encdec.monoFrame[i] = v
		peak = max(peak, float32(math.Abs(float64(v))))
	}

	narrow := encdec.monoFrame
	if encdec.encodeResampler != nil {
		_, written := encdec.encodeResampler.ProcessFloat32(0, encdec.monoFrame, encdec.narrowFrame)
		narrow = encdec.narrowFrame[:written]
	}

	if peak < silencePeak {
		encdec.encodingFrame[0] = dtxMarker
		return encdec.encodingFrame[:1], nil
	}

	n := min(len(narrow), len(encdec.encodingFrame))
	for i, v := range narrow[:n] {
		encdec.encodingFrame[i] = linearToMulaw(floatToInt16(v))
	}
	return encdec.encodingFrame[:n], nil
}

func (encdec *MulawEncoderDecoder) Decode(encodedData frame.EncodedFrame) (frame.PCMFrame, error) {
	if len(encodedData) == 0 || (len(encodedData) == 1 && encodedData[0] == dtxMarker) {
		return nil, ErrDiscardFrame
	}
	if len(encodedData) > len(encdec.narrowFrame) {
		return nil, fmt.Errorf("%w: %d bytes exceeds one frame", ErrMalformedFrame, len(encodedData))
	}

	narrow := encdec.narrowFrame[:len(encodedData)]
	for i, b := range encodedData {
		narrow[i] = float32(mulawToLinear(b)) / math.MaxInt16
	}

	wide := narrow
	if encdec.decodeResampler != nil {
		_, written := encdec.decodeResampler.ProcessFloat32(0, narrow, encdec.wideFrame)
		wide = encdec.wideFrame[:written]
	}

	// Spread mono back across every channel
	out := encdec.decodedFrame[:len(wide)*encdec.numChannels]
	for i, v := range wide {
		for c := range encdec.numChannels {
			out[i*encdec.numChannels+c] = v
		}
	}
	return out, nil
}

// --------------------------------------------------------------------------------
// G.711 companding

func floatToInt16(v float32) int16 {
	v = max(-1, min(1, v))
	return int16(v * math.MaxInt16)
}

func linearToMulaw(sample int16) byte {
	s := int32(sample)
	var sign int32
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := int32(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}

func mulawToLinear(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := int32(b>>4) & 0x07
	mantissa := int32(b) & 0x0F
	s := ((mantissa << 3) + mulawBias) << exponent
	s -= mulawBias
	if sign != 0 {
		s = -s
	}
	return int16(s)
}
