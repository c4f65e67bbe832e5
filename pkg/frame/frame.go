package frame

// A frame of interleaved PCM samples, each in the range [-1, 1].
// The number of frames (in the audio sense) held is len(PCMFrame) / numChannels.
type PCMFrame []float32

// A frame of codec output, as carried inside one framed message.
type EncodedFrame []byte
