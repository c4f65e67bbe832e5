package audiodevice

type DeviceProperties struct {
	SampleRate  int
	NumChannels int
}

// Called by an input device once per quantum with the captured audio.
//
// input holds one slice per channel, each exactly one quantum long. The slices are owned by the
// device and are reused for the next invocation, so they must not be retained.
//
// The callback runs on the device's real-time clock: it must not block, allocate or log.
type InputCallback func(input [][]float32)

// Called by an output device once per quantum to fill output with audio to play.
//
// output holds one slice per channel, each exactly one quantum long, and must be
// completely written by the callback (zero filled if no audio is available).
// The same real-time rules as InputCallback apply.
type OutputCallback func(output [][]float32)

// Interface for audio input devices, e.g. microphones
//
// An input device drives its callback on its own clock, one quantum at a time,
// and never waits on whatever the callback feeds.
type AudioInputDevice interface {
	// Begin capturing, delivering every quantum to callback.
	// Start may only be called once.
	Start(callback InputCallback) error

	// Stop capturing. Once Close returns the callback is not invoked again.
	Close()

	GetDeviceProperties() DeviceProperties
}

// Interface for audio output devices, e.g. speakers
type AudioOutputDevice interface {
	// Begin playback, asking callback for every quantum.
	// Start may only be called once.
	Start(callback OutputCallback) error

	// Stop playback. Once Close returns the callback is not invoked again,
	// and any underlying resource (e.g. a file) is flushed and released.
	Close()

	GetDeviceProperties() DeviceProperties
}
