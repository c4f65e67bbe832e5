package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/audioapi"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/control"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/pipeline"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/protocol"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/transport"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/audiodevice"
	"github.com/spf13/viper"
)

// Read the config file at configFilePath on top of the defaults.
// A missing file is not an error; every key then has its default.
func LoadConfig(configFilePath string) error {
	utils.SetViperDefaults()

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			slog.Info("no config file found", "configFilePath", configFilePath)
			return nil
		}
		return fmt.Errorf("reading config %s: %w", configFilePath, err)
	}
	return nil
}

// Configure the default logger from loglevel and logfile.
// Returns the log file, if any, so it may be closed on exit.
func ConfigureLogger() (*os.File, error) {
	return utils.ConfigureDefaultLogger(
		viper.GetString("loglevel"),
		viper.GetString("logfile"),
		slog.HandlerOptions{},
	)
}

func milliseconds(key string) time.Duration {
	return time.Duration(viper.GetInt(key)) * time.Millisecond
}

func PipelineConfig() (pipeline.Config, error) {
	codec, err := utils.GetCodec(viper.GetString("codec"))
	if err != nil {
		return pipeline.Config{}, err
	}

	config := pipeline.DefaultConfig()
	config.SampleRate = viper.GetInt("samplerate")
	config.ChannelCount = viper.GetInt("channels")
	config.QuantumSize = viper.GetInt("quantum")
	config.FrameDuration = milliseconds("framedurationms")
	config.BufferLatency = milliseconds("bufferlatencyms")
	config.FramedCapacity = viper.GetInt("framedcapacity")
	config.EncodePollInterval = milliseconds("encodepollms")
	config.DecodePollInterval = milliseconds("decodepollms")
	config.NetworkPollInterval = milliseconds("networkpollms")
	config.Codec = codec
	config.DTXThreshold = viper.GetInt("dtxthreshold")
	return config, config.Validate()
}

func TransportConfig() transport.Config {
	return transport.Config{ICEServers: viper.GetStringSlice("iceservers")}
}

func ControlConfig(pipelineConfig pipeline.Config) control.Config {
	config := control.DefaultConfig(viper.GetString("transport"), TransportConfig())
	config.PollInterval = pipelineConfig.NetworkPollInterval
	config.ConnectTimeout = time.Duration(viper.GetInt("connecttimeout")) * time.Second
	return config
}

func AudioAPIConfig(pipelineConfig pipeline.Config) audioapi.VirtualAPIConfig {
	return audioapi.VirtualAPIConfig{
		Properties: audiodevice.DeviceProperties{
			SampleRate:  pipelineConfig.SampleRate,
			NumChannels: pipelineConfig.ChannelCount,
		},
		Quantum:       pipelineConfig.QuantumSize,
		ToneFrequency: viper.GetFloat64("tonefrequency"),
		ToneAmplitude: float32(viper.GetFloat64("toneamplitude")),
		InputFile:     viper.GetString("inputfile"),
		LoopInput:     viper.GetBool("loopinput"),
		OutputFile:    viper.GetString("outputfile"),
	}
}

func ServerConfig() protocol.ServerConfig {
	return protocol.ServerConfig{
		Password:    viper.GetString("serverpassword"),
		WelcomeText: viper.GetString("welcometext"),
		Channels:    viper.GetStringSlice("serverchannels"),
		EchoAudio:   viper.GetBool("echoaudio"),
	}
}
