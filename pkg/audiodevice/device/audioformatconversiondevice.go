package device

import (
	"log/slog"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/frame"
	"github.com/oov/audio/resampler"
)

const (
	resampleQuality = 10
)

// Convert a complete interleaved recording from the source format to the sink format.
//
// e.g. if the source format is mono, but the sink format specifies stereo,
// every sample is duplicated across both channels. Channel conversion happens before resampling.
//
// This allocates, and is meant for loading audio ahead of time (e.g. a file), not for the real-time path.
func ConvertFormat(
	pcm frame.PCMFrame,
	sourceProperties audiodevice.DeviceProperties,
	sinkProperties audiodevice.DeviceProperties,
) frame.PCMFrame {
	if sourceProperties.NumChannels != sinkProperties.NumChannels {
		slog.Debug("converting channels", "from", sourceProperties.NumChannels, "to", sinkProperties.NumChannels)
		pcm = convertChannels(pcm, sourceProperties.NumChannels, sinkProperties.NumChannels)
	}
	if sourceProperties.SampleRate != sinkProperties.SampleRate {
		slog.Debug("resampling", "from", sourceProperties.SampleRate, "to", sinkProperties.SampleRate)
		pcm = resample(pcm, sinkProperties.NumChannels, sourceProperties.SampleRate, sinkProperties.SampleRate)
	}
	return pcm
}

func convertChannels(pcm frame.PCMFrame, from int, to int) frame.PCMFrame {
	numFrames := len(pcm) / from
	out := make(frame.PCMFrame, numFrames*to)

	switch {
	case from == 1:
		// Spread mono to every channel
		for i, v := range pcm[:numFrames] {
			for c := range to {
				out[i*to+c] = v
			}
		}
	case to == 1:
		// Mix every channel down to mono
		for i := range numFrames {
			var sum float32
			for c := range from {
				sum += pcm[i*from+c]
			}
			out[i] = sum / float32(from)
		}
	default:
		// Keep the channels both formats share, silence the rest
		for i := range numFrames {
			for c := range min(from, to) {
				out[i*to+c] = pcm[i*from+c]
			}
		}
	}
	return out
}

func resample(pcm frame.PCMFrame, numChannels int, sourceRate int, sinkRate int) frame.PCMFrame {
	numFrames := len(pcm) / numChannels
	rs := resampler.New(numChannels, sourceRate, sinkRate, resampleQuality)

	// Room for the resampled signal, plus a little for rounding
	sinkFrames := numFrames*sinkRate/sourceRate + 64
	source := make(frame.PCMFrame, numFrames)
	sink := make(frame.PCMFrame, sinkFrames)

	var out frame.PCMFrame
	written := 0
	for c := range numChannels {
		// Decode to planar, pcm is interleaved
		for i := range numFrames {
			source[i] = pcm[i*numChannels+c]
		}

		read, channelWritten := 0, 0
		for read < numFrames && channelWritten < sinkFrames {
			r, w := rs.ProcessFloat32(c, source[read:], sink[channelWritten:])
			if r == 0 && w == 0 {
				break
			}
			read += r
			channelWritten += w
		}

		if out == nil {
			written = channelWritten
			out = make(frame.PCMFrame, written*numChannels)
		}

		// Interleave again
		for i := range min(written, channelWritten) {
			out[i*numChannels+c] = sink[i]
		}
	}
	return out
}
