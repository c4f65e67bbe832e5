package device

import (
	"sync/atomic"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/audiodevice"
)

// An AudioInputDevice that captures silence, one quantum at a time.
//
// A minimal example of the architecture of an AudioInputDevice, useful in testing.
type DummyAudioInputDevice struct {
	properties audiodevice.DeviceProperties
	clock      *audiodevice.QuantumClock
}

func NewDummyAudioInputDevice(properties audiodevice.DeviceProperties, quantum int) (*DummyAudioInputDevice, error) {
	clock, err := audiodevice.NewQuantumClock(properties, quantum)
	if err != nil {
		return nil, err
	}
	return &DummyAudioInputDevice{
		properties: properties,
		clock:      clock,
	}, nil
}

func (d *DummyAudioInputDevice) Start(callback audiodevice.InputCallback) error {
	return d.clock.Start(func(channels [][]float32) {
		for _, samples := range channels {
			clear(samples)
		}
		callback(channels)
	})
}

func (d *DummyAudioInputDevice) Close() {
	d.clock.Stop()
}

func (d *DummyAudioInputDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

// An AudioOutputDevice that requests audio every quantum and discards it.
//
// A minimal example of the architecture of an AudioOutputDevice, useful in testing.
type DummyAudioOutputDevice struct {
	properties audiodevice.DeviceProperties
	clock      *audiodevice.QuantumClock
	quanta     atomic.Int64
}

func NewDummyAudioOutputDevice(properties audiodevice.DeviceProperties, quantum int) (*DummyAudioOutputDevice, error) {
	clock, err := audiodevice.NewQuantumClock(properties, quantum)
	if err != nil {
		return nil, err
	}
	return &DummyAudioOutputDevice{
		properties: properties,
		clock:      clock,
	}, nil
}

func (d *DummyAudioOutputDevice) Start(callback audiodevice.OutputCallback) error {
	return d.clock.Start(func(channels [][]float32) {
		callback(channels)
		d.quanta.Add(1)
	})
}

func (d *DummyAudioOutputDevice) Close() {
	d.clock.Stop()
}

func (d *DummyAudioOutputDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

// Number of quanta played so far
func (d *DummyAudioOutputDevice) Quanta() int64 {
	return d.quanta.Load()
}
