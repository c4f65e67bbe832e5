package device

import (
	"errors"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/frame"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

var (
	errInvalidAudioFile = errors.New("error while decoding audio file")
)

// --------------------------------------------------------------------------------
// FileAudioInputDevice

// Define an AudioInputDevice that captures from a .WAV file.
//
// The whole file is decoded and converted to the requested device properties up front,
// so the real-time callback only ever copies samples. Once the file is exhausted the device
// either starts again from the beginning (loop) or captures silence.
type FileAudioInputDevice struct {
	logger *slog.Logger
	uuid   uuid.UUID

	properties audiodevice.DeviceProperties
	clock      *audiodevice.QuantumClock
	loop       bool

	// Interleaved samples of the whole file, in the device properties
	samples  frame.PCMFrame
	position int
}

// Make a new FileAudioInputDevice from a .WAV file (on the audioFilePath).
//
// The file may have any sample rate and channel count, it is converted to properties.
// Quanta are delivered every quantum / properties.SampleRate seconds.
func NewFileAudioInputDevice(
	audioFilePath string,
	properties audiodevice.DeviceProperties,
	quantum int,
	loop bool,
) (*FileAudioInputDevice, error) {
	uuid := uuid.New()
	logger := slog.Default().With(
		"file input device uuid", uuid,
	)

	clock, err := audiodevice.NewQuantumClock(properties, quantum)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(audioFilePath)
	if err != nil {
		logger.Error(
			"could not open audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		logger.Error(
			"could not decode audio file",
			"audioFile", audioFilePath,
			"err", decoder.Err(),
		)
		return nil, errInvalidAudioFile
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		logger.Error(
			"could not get full PCM buffer from audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, errors.Join(errInvalidAudioFile, err)
	}

	fileProperties := audiodevice.DeviceProperties{
		SampleRate:  int(decoder.SampleRate),
		NumChannels: int(decoder.NumChans),
	}
	if fileProperties.SampleRate <= 0 || fileProperties.NumChannels <= 0 {
		return nil, errInvalidAudioFile
	}

	bitDepth := int(decoder.BitDepth)
	if bitDepth <= 0 {
		bitDepth = 16
	}
	fullScale := float32(int64(1) << (bitDepth - 1))
	pcm := make(frame.PCMFrame, len(buf.Data))
	for i, v := range buf.Data {
		pcm[i] = float32(v) / fullScale
	}
	samples := ConvertFormat(pcm, fileProperties, properties)

	logger.Debug(
		"loaded audio file",
		"audioFile", audioFilePath,
		"sampleRate", decoder.SampleRate,
		"channels", decoder.NumChans,
		"bitDepth", bitDepth,
		"convertedSamples", len(samples),
	)

	return &FileAudioInputDevice{
		logger:     logger,
		uuid:       uuid,
		properties: properties,
		clock:      clock,
		loop:       loop,
		samples:    samples,
	}, nil
}

func (d *FileAudioInputDevice) Start(callback audiodevice.InputCallback) error {
	d.logger.Debug("playing audio")
	return d.clock.Start(func(channels [][]float32) {
		d.fill(channels)
		callback(channels)
	})
}

// Copy the next quantum of the file into channels, zero filling past the end.
func (d *FileAudioInputDevice) fill(channels [][]float32) {
	numChannels := d.properties.NumChannels
	quantum := len(channels[0])
	for i := range quantum {
		if d.position >= len(d.samples) && d.loop && len(d.samples) >= numChannels {
			d.position = 0
		}
		for c, samples := range channels {
			if d.position+c < len(d.samples) {
				samples[i] = d.samples[d.position+c]
			} else {
				samples[i] = 0
			}
		}
		if d.position < len(d.samples) {
			d.position += numChannels
		}
	}
}

func (d *FileAudioInputDevice) Close() {
	d.logger.Debug("shutdown called")
	d.clock.Stop()
}

func (d *FileAudioInputDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

// --------------------------------------------------------------------------------
// FileAudioOutputDevice

// Define an AudioOutputDevice that plays into a 16 bit .WAV file.
// Note the resulting file is only valid once the device is closed.
type FileAudioOutputDevice struct {
	logger *slog.Logger
	uuid   uuid.UUID

	properties audiodevice.DeviceProperties
	clock      *audiodevice.QuantumClock
	encoder    *wav.Encoder
	fileHandle *os.File
	buf        *goaudio.IntBuffer

	closeOnce sync.Once
}

// Create a new FileAudioOutputDevice that writes every played quantum to a .WAV file at the specified path.
func NewFileAudioOutputDevice(
	audioFilePath string,
	properties audiodevice.DeviceProperties,
	quantum int,
) (*FileAudioOutputDevice, error) {
	uuid := uuid.New()
	logger := slog.Default().With(
		"file output device uuid", uuid,
	)

	clock, err := audiodevice.NewQuantumClock(properties, quantum)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(audioFilePath)
	if err != nil {
		logger.Error(
			"could not open audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, err
	}

	encoder := wav.NewEncoder(f, properties.SampleRate, 16, properties.NumChannels, 1)

	logger.Debug(
		"created audio file",
		"audioFile", audioFilePath,
		"sampleRate", encoder.SampleRate,
		"channels", encoder.NumChans,
	)

	return &FileAudioOutputDevice{
		logger:     logger,
		uuid:       uuid,
		properties: properties,
		clock:      clock,
		encoder:    encoder,
		fileHandle: f,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{
				SampleRate:  properties.SampleRate,
				NumChannels: properties.NumChannels,
			},
			Data:           make([]int, quantum*properties.NumChannels),
			SourceBitDepth: 16,
		},
	}, nil
}

func (d *FileAudioOutputDevice) Start(callback audiodevice.OutputCallback) error {
	const maxInt16 = float32(math.MaxInt16)
	numChannels := d.properties.NumChannels
	return d.clock.Start(func(channels [][]float32) {
		callback(channels)

		for c, samples := range channels {
			for i, sample := range samples {
				sample = max(-1, min(1, sample))
				d.buf.Data[i*numChannels+c] = int(sample * maxInt16)
			}
		}
		if err := d.encoder.Write(d.buf); err != nil {
			d.logger.Error("error while writing quantum to file", "err", err)
		}
	})
}

// Stop playback and finalize the file.
func (d *FileAudioOutputDevice) Close() {
	d.closeOnce.Do(func() {
		d.clock.Stop()
		if err := d.encoder.Close(); err != nil {
			d.logger.Error("error while finalizing audio file", "err", err)
		}
		d.fileHandle.Sync()
		d.fileHandle.Close()
		d.logger.Debug("audio file closed")
	})
}

func (d *FileAudioOutputDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}
