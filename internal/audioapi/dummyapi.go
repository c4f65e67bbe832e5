package audioapi

import (
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/audiodevice/device"
)

// A dummy API that lists only one input and one output device:
// - a dummy input device (captures silence)
// - a dummy output device (discards everything it is given)
//
// This API is intended to be used in testing only!
type DummyAudioIODeviceAPI struct {
	properties audiodevice.DeviceProperties
	quantum    int
}

func NewDummyAudioIODeviceAPI(properties audiodevice.DeviceProperties, quantum int) DummyAudioIODeviceAPI {
	return DummyAudioIODeviceAPI{
		properties: properties,
		quantum:    quantum,
	}
}

func (api DummyAudioIODeviceAPI) InputDevices() []AudioIODevice {
	return []AudioIODevice{
		{
			ID:               0,
			Name:             "DummyInput",
			DeviceProperties: api.properties,
		},
	}
}

func (api DummyAudioIODeviceAPI) InitInputDeviceFromID(id AudioIODevice) (audiodevice.AudioInputDevice, error) {
	if _, err := findDevice(api.InputDevices(), id.ID); err != nil {
		return nil, err
	}
	return api.InitDefaultInputDevice()
}

func (api DummyAudioIODeviceAPI) InitDefaultInputDevice() (audiodevice.AudioInputDevice, error) {
	return device.NewDummyAudioInputDevice(api.properties, api.quantum)
}

func (api DummyAudioIODeviceAPI) OutputDevices() []AudioIODevice {
	return []AudioIODevice{
		{
			ID:               0,
			Name:             "DummyOutput",
			DeviceProperties: api.properties,
		},
	}
}

func (api DummyAudioIODeviceAPI) InitOutputDeviceFromID(id AudioIODevice) (audiodevice.AudioOutputDevice, error) {
	if _, err := findDevice(api.OutputDevices(), id.ID); err != nil {
		return nil, err
	}
	return api.InitDefaultOutputDevice()
}

func (api DummyAudioIODeviceAPI) InitDefaultOutputDevice() (audiodevice.AudioOutputDevice, error) {
	return device.NewDummyAudioOutputDevice(api.properties, api.quantum)
}
