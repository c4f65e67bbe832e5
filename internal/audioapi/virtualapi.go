package audioapi

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/audiodevice/device"
	"github.com/google/uuid"
)

const (
	deviceSilence = iota
	deviceTone
	deviceFile
)

type VirtualAPIConfig struct {
	Properties audiodevice.DeviceProperties
	Quantum    int

	// Frequency of the tone input, in Hz
	ToneFrequency float64
	ToneAmplitude float32

	// .WAV file to capture from. The file input is listed only if this is set.
	InputFile string
	LoopInput bool
	// .WAV file to play into. The file output is listed only if this is set.
	OutputFile string
}

// An API over devices that need no audio hardware: silence, a tone generator, and .WAV files.
//
// Inputs, by ID: 0 silence, 1 tone, 2 file.
// Outputs, by ID: 0 discard, 2 file.
// The default input is the file if configured, otherwise the tone; the default output is the file
// if configured, otherwise the discarding device.
type VirtualAudioIODeviceAPI struct {
	logger *slog.Logger
	config VirtualAPIConfig
}

func NewVirtualAudioIODeviceAPI(config VirtualAPIConfig) *VirtualAudioIODeviceAPI {
	return &VirtualAudioIODeviceAPI{
		logger: slog.Default().With("virtual audio api uuid", uuid.New()),
		config: config,
	}
}

func (api *VirtualAudioIODeviceAPI) InputDevices() []AudioIODevice {
	devices := []AudioIODevice{
		{ID: deviceSilence, Name: "Silence", DeviceProperties: api.config.Properties},
		{ID: deviceTone, Name: fmt.Sprintf("Tone %.0f Hz", api.config.ToneFrequency), DeviceProperties: api.config.Properties},
	}
	if api.config.InputFile != "" {
		devices = append(devices, AudioIODevice{
			ID:               deviceFile,
			Name:             "File " + filepath.Base(api.config.InputFile),
			DeviceProperties: api.config.Properties,
		})
	}
	return devices
}

func (api *VirtualAudioIODeviceAPI) InitInputDeviceFromID(ioDevice AudioIODevice) (audiodevice.AudioInputDevice, error) {
	d, err := findDevice(api.InputDevices(), ioDevice.ID)
	if err != nil {
		return nil, err
	}
	api.logger.Debug("initialising input device", "name", d.Name)

	properties, quantum := api.config.Properties, api.config.Quantum
	switch d.ID {
	case deviceSilence:
		return device.NewDummyAudioInputDevice(properties, quantum)
	case deviceTone:
		return device.NewToneAudioInputDevice(properties, quantum, api.config.ToneFrequency, api.config.ToneAmplitude)
	default:
		return device.NewFileAudioInputDevice(api.config.InputFile, properties, quantum, api.config.LoopInput)
	}
}

func (api *VirtualAudioIODeviceAPI) InitDefaultInputDevice() (audiodevice.AudioInputDevice, error) {
	id := deviceTone
	if api.config.InputFile != "" {
		id = deviceFile
	}
	return api.InitInputDeviceFromID(AudioIODevice{ID: id})
}

func (api *VirtualAudioIODeviceAPI) OutputDevices() []AudioIODevice {
	devices := []AudioIODevice{
		{ID: deviceSilence, Name: "Discard", DeviceProperties: api.config.Properties},
	}
	if api.config.OutputFile != "" {
		devices = append(devices, AudioIODevice{
			ID:               deviceFile,
			Name:             "File " + filepath.Base(api.config.OutputFile),
			DeviceProperties: api.config.Properties,
		})
	}
	return devices
}

func (api *VirtualAudioIODeviceAPI) InitOutputDeviceFromID(ioDevice AudioIODevice) (audiodevice.AudioOutputDevice, error) {
	d, err := findDevice(api.OutputDevices(), ioDevice.ID)
	if err != nil {
		return nil, err
	}
	api.logger.Debug("initialising output device", "name", d.Name)

	if d.ID == deviceFile {
		return device.NewFileAudioOutputDevice(api.config.OutputFile, api.config.Properties, api.config.Quantum)
	}
	return device.NewDummyAudioOutputDevice(api.config.Properties, api.config.Quantum)
}

func (api *VirtualAudioIODeviceAPI) InitDefaultOutputDevice() (audiodevice.AudioOutputDevice, error) {
	id := deviceSilence
	if api.config.OutputFile != "" {
		id = deviceFile
	}
	return api.InitOutputDeviceFromID(AudioIODevice{ID: id})
}
