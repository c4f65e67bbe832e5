package device

import (
	"math"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/audiodevice"
)

// An AudioInputDevice that captures a continuous sine tone on every channel.
type ToneAudioInputDevice struct {
	properties audiodevice.DeviceProperties
	clock      *audiodevice.QuantumClock

	frequency float64
	amplitude float32
	phase     float64
}

func NewToneAudioInputDevice(
	properties audiodevice.DeviceProperties,
	quantum int,
	frequency float64,
	amplitude float32,
) (*ToneAudioInputDevice, error) {
	clock, err := audiodevice.NewQuantumClock(properties, quantum)
	if err != nil {
		return nil, err
	}
	return &ToneAudioInputDevice{
		properties: properties,
		clock:      clock,
		frequency:  frequency,
		amplitude:  max(0, min(1, amplitude)),
	}, nil
}

func (d *ToneAudioInputDevice) Start(callback audiodevice.InputCallback) error {
	return d.clock.Start(func(channels [][]float32) {
		d.Generate(channels)
		callback(channels)
	})
}

// Fill channels with the next quantum of the tone, continuing the phase of the previous call.
func (d *ToneAudioInputDevice) Generate(channels [][]float32) {
	step := 2 * math.Pi * d.frequency / float64(d.properties.SampleRate)
	quantum := len(channels[0])
	for i := range quantum {
		v := d.amplitude * float32(math.Sin(d.phase+step*float64(i)))
		for _, samples := range channels {
			samples[i] = v
		}
	}
	d.phase = math.Mod(d.phase+step*float64(quantum), 2*math.Pi)
}

func (d *ToneAudioInputDevice) Close() {
	d.clock.Stop()
}

func (d *ToneAudioInputDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}
