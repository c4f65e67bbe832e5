package encoderdecoder

import (
	"errors"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/frame"
)

type EncoderDecoderTypeEnum string

var (
	EncoderDecoderTypeNotImplemented EncoderDecoderTypeEnum = "not implemented"
	EncoderDecoderTypeNull           EncoderDecoderTypeEnum = "null"
	EncoderDecoderTypeMulaw          EncoderDecoderTypeEnum = "mulaw"
)

var (
	errEncoderDecoderTypeNotImplemented = errors.New("specified encoderdecoder type is not implemented")

	// The PCM frame given to Encode does not hold exactly one frame of the configured duration
	ErrFrameSizeMismatch = errors.New("pcm frame size does not match configured frame size")

	// The encoded frame carries no audio (empty or discontinuous transmission) and should be skipped
	ErrDiscardFrame = errors.New("encoded frame carries no audio")

	ErrMalformedFrame = errors.New("malformed encoded frame")
)

// Audio encoder/decoder interface.
// Used to encode raw PCM Frames to an encoded frame,
// and decode those frames back to PCM frames
//
// Frames returned by either method may alias memory owned by the EncoderDecoder,
// and are only valid until the next call of the same method.
type EncoderDecoder interface {
	Encode(pcmData frame.PCMFrame) (frame.EncodedFrame, error)
	Decode(encodedData frame.EncodedFrame) (frame.PCMFrame, error)
}

// Create a new encoder/decoder of the given type.
//
// sampleRate and numChannels describe the PCM side of the codec, and frameDuration
// the length of audio in every PCMFrame passed to Encode.
// If something goes wrong during creation of an encoder/decoder
// (e.g. the type does not have an implementation) then a nil Encoder/Decoder
// and an error is returned.
func NewEncoderDecoder(
	encoderdecoderID EncoderDecoderTypeEnum,
	sampleRate int,
	numChannels int,
	frameDuration time.Duration,
) (EncoderDecoder, error) {
	switch encoderdecoderID {
	case EncoderDecoderTypeNull:
		return NullEncoderDecoder{}, nil
	case EncoderDecoderTypeMulaw:
		return newMulawEncoderDecoder(sampleRate, numChannels, frameDuration)
	case EncoderDecoderTypeNotImplemented:
		return nil, errEncoderDecoderTypeNotImplemented
	default:
		return nil, errEncoderDecoderTypeNotImplemented
	}
}

// Number of samples (per channel) in one frame of the given duration.
func FrameSize(sampleRate int, frameDuration time.Duration) int {
	return int(int64(sampleRate) * int64(frameDuration) / int64(time.Second))
}
