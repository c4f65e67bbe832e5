package utils

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/encoderdecoder"
)

// Names a codec may be given in configuration, and the encoder/decoder they select.
var CodecMap = map[string]encoderdecoder.EncoderDecoderTypeEnum{
	"CodecNull":      encoderdecoder.EncoderDecoderTypeNull,
	"CodecMulaw8000": encoderdecoder.EncoderDecoderTypeMulaw,
}

// Load the encoder/decoder type associated with a codec string.
// The string must be associated to a codec, otherwise an error is returned.
func GetCodec(codecString string) (encoderdecoder.EncoderDecoderTypeEnum, error) {
	codec, ok := CodecMap[codecString]
	if !ok {
		return encoderdecoder.EncoderDecoderTypeNotImplemented,
			fmt.Errorf("no codec with associated string %s (known: %s)", codecString, strings.Join(CodecNames(), ", "))
	}
	return codec, nil
}

// All codec strings, sorted
func CodecNames() []string {
	names := make([]string, 0, len(CodecMap))
	for name := range CodecMap {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
