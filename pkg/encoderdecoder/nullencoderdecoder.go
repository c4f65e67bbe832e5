package encoderdecoder

import (
	"errors"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/frame"
)

var (
	errNullEncoderDecoderUsed error = errors.New("null encoder decoder used")
)

// An encoder decoder that fails every frame.
//
// Useful to run a pipeline with the codec stage disabled: the encode and decode workers
// log the failure (rate limited) and skip every frame, so no audio crosses the network
// but all other contexts keep running.
type NullEncoderDecoder struct{}

func (encdec NullEncoderDecoder) Encode(_ frame.PCMFrame) (frame.EncodedFrame, error) {
	return nil, errNullEncoderDecoderUsed
}

func (encdec NullEncoderDecoder) Decode(_ frame.EncodedFrame) (frame.PCMFrame, error) {
	return nil, errNullEncoderDecoderUsed
}
