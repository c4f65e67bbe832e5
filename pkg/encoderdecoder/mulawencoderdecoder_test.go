package encoderdecoder

import (
	"math"
	"testing"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(sampleRate int, numChannels int, frameDuration time.Duration, amplitude float64, offset int) frame.PCMFrame {
	frameSize := FrameSize(sampleRate, frameDuration)
	pcm := make(frame.PCMFrame, frameSize*numChannels)
	for i := range frameSize {
		v := float32(amplitude * math.Sin(2*math.Pi*440*float64(offset+i)/float64(sampleRate)))
		for c := range numChannels {
			pcm[i*numChannels+c] = v
		}
	}
	return pcm
}

func TestNewEncoderDecoder(t *testing.T) {
	encdec, err := NewEncoderDecoder(EncoderDecoderTypeNull, 48000, 2, 10*time.Millisecond)
	require.NoError(t, err)
	_, err = encdec.Encode(make(frame.PCMFrame, 960))
	assert.Error(t, err)
	_, err = encdec.Decode(frame.EncodedFrame{1, 2, 3, 4})
	assert.Error(t, err)

	_, err = NewEncoderDecoder(EncoderDecoderTypeNotImplemented, 48000, 2, 10*time.Millisecond)
	assert.ErrorIs(t, err, errEncoderDecoderTypeNotImplemented)
	_, err = NewEncoderDecoder("opus", 48000, 2, 10*time.Millisecond)
	assert.ErrorIs(t, err, errEncoderDecoderTypeNotImplemented)

	_, err = NewEncoderDecoder(EncoderDecoderTypeMulaw, 48000, 2, 15*time.Millisecond)
	assert.ErrorIs(t, err, errInvalidFrameDuration)
	_, err = NewEncoderDecoder(EncoderDecoderTypeMulaw, 0, 2, 10*time.Millisecond)
	assert.ErrorIs(t, err, errInvalidFormat)
}

func TestFrameSize(t *testing.T) {
	assert.Equal(t, 480, FrameSize(48000, 10*time.Millisecond))
	assert.Equal(t, 160, FrameSize(8000, 20*time.Millisecond))
	assert.Equal(t, 441, FrameSize(44100, 10*time.Millisecond))
}

func TestMulawCompandingRoundTrip(t *testing.T) {
	for b := range 256 {
		if b == 0x7F {
			// Negative zero decodes to 0, which encodes as positive zero
			continue
		}
		assert.Equal(t, byte(b), linearToMulaw(mulawToLinear(byte(b))), "byte %#x", b)
	}

	for s := math.MinInt16; s <= math.MaxInt16; s += 7 {
		decoded := int(mulawToLinear(linearToMulaw(int16(s))))
		assert.InDelta(t, s, decoded, 1024, "sample %d", s)
	}
}

func TestMulawEncodeRejectsWrongFrameSize(t *testing.T) {
	encdec, err := newMulawEncoderDecoder(48000, 2, 10*time.Millisecond)
	require.NoError(t, err)

	_, err = encdec.Encode(make(frame.PCMFrame, 480))
	assert.ErrorIs(t, err, ErrFrameSizeMismatch)
}

func TestMulawNarrowbandRoundTrip(t *testing.T) {
	encdec, err := newMulawEncoderDecoder(MulawSampleRate, 1, 10*time.Millisecond)
	require.NoError(t, err)

	pcm := sine(MulawSampleRate, 1, 10*time.Millisecond, 0.5, 0)
	encoded, err := encdec.Encode(pcm)
	require.NoError(t, err)
	require.Len(t, encoded, 80)

	decoded, err := encdec.Decode(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, len(pcm))
	for i := range pcm {
		assert.InDelta(t, pcm[i], decoded[i], 0.02, "sample %d", i)
	}
}

func TestMulawStereoIsMixedAndSpread(t *testing.T) {
	encdec, err := newMulawEncoderDecoder(MulawSampleRate, 2, 20*time.Millisecond)
	require.NoError(t, err)

	pcm := sine(MulawSampleRate, 2, 20*time.Millisecond, 0.25, 0)
	encoded, err := encdec.Encode(pcm)
	require.NoError(t, err)
	require.Len(t, encoded, 160)

	decoded, err := encdec.Decode(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 320)
	for i := 0; i < len(decoded); i += 2 {
		assert.Equal(t, decoded[i], decoded[i+1])
	}
}

func TestMulawSilenceIsDiscontinuous(t *testing.T) {
	encdec, err := newMulawEncoderDecoder(48000, 2, 10*time.Millisecond)
	require.NoError(t, err)

	encoded, err := encdec.Encode(make(frame.PCMFrame, 960))
	require.NoError(t, err)
	assert.Len(t, encoded, 1)

	_, err = encdec.Decode(encoded)
	assert.ErrorIs(t, err, ErrDiscardFrame)
	_, err = encdec.Decode(frame.EncodedFrame{})
	assert.ErrorIs(t, err, ErrDiscardFrame)
}

func TestMulawWidebandFitsFramedMessage(t *testing.T) {
	encdec, err := newMulawEncoderDecoder(48000, 2, 10*time.Millisecond)
	require.NoError(t, err)

	totalEncoded := 0
	for n := range 10 {
		encoded, err := encdec.Encode(sine(48000, 2, 10*time.Millisecond, 0.5, n*480))
		require.NoError(t, err)
		require.LessOrEqual(t, len(encoded), 255)
		totalEncoded += len(encoded)

		decoded, err := encdec.Decode(encoded)
		require.NoError(t, err)
		assert.Zero(t, len(decoded)%2)
	}
	assert.InDelta(t, 800, totalEncoded, 100)
}

func TestMulawDecodeRejectsOversizedFrame(t *testing.T) {
	encdec, err := newMulawEncoderDecoder(MulawSampleRate, 1, 10*time.Millisecond)
	require.NoError(t, err)

	_, err = encdec.Decode(make(frame.EncodedFrame, 255))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}
