package audioapi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/audiodevice"
)

var errNoDeviceWithID = errors.New("no device with specified ID")

type AudioIODevice struct {
	// The ID of the device
	//
	// Comes from the underlying API; for the virtual API it is the position
	// of the device in its listing
	//
	// Intended to be the canonical way to reference the AudioIODevice
	// (e.g. a microphone or speaker), such that when telling the API
	// to use a device as the default input/output, it is this value
	// that is used to identify the device.
	ID int

	// A human-readable name for the device, if one exists.
	// Not necessary, and not canonical.
	Name string

	// The device properties (sample rate and channels) of this device.
	DeviceProperties audiodevice.DeviceProperties
}

func (device AudioIODevice) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "ID:          %d\n", device.ID)
	fmt.Fprintf(&sb, "Name:        %s\n", device.Name)
	fmt.Fprintf(&sb, "SampleRate:  %d\n", device.DeviceProperties.SampleRate)
	fmt.Fprintf(&sb, "NumChannels: %d\n", device.DeviceProperties.NumChannels)
	return sb.String()
}

// Define an API to interface with audio devices.
// Intended to be an abstract way to:
// - Query existing devices (input and output)
// - Initialize an input/output device as an AudioInputDevice/AudioOutputDevice respectively
//
// Every device an API creates delivers quanta of the size the API was created with.
type AudioIODeviceAPI interface {
	InputDevices() []AudioIODevice
	InitInputDeviceFromID(AudioIODevice) (audiodevice.AudioInputDevice, error)
	InitDefaultInputDevice() (audiodevice.AudioInputDevice, error)

	OutputDevices() []AudioIODevice
	InitOutputDeviceFromID(AudioIODevice) (audiodevice.AudioOutputDevice, error)
	InitDefaultOutputDevice() (audiodevice.AudioOutputDevice, error)
}

// Look up a device by ID in a listing
func findDevice(devices []AudioIODevice, id int) (AudioIODevice, error) {
	for _, d := range devices {
		if d.ID == id {
			return d, nil
		}
	}
	return AudioIODevice{}, fmt.Errorf("%w: %d", errNoDeviceWithID, id)
}
