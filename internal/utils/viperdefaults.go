package utils

import "github.com/spf13/viper"

// Set the viper defaults for a voicering client
// For use in cmd/client and cmd/echoserver, as well as tests.
func SetViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")

	// Audio format and real-time quantum
	viper.SetDefault("samplerate", 48000)
	viper.SetDefault("channels", 2)
	viper.SetDefault("quantum", 128)
	viper.SetDefault("framedurationms", 10)
	viper.SetDefault("bufferlatencyms", 200)
	viper.SetDefault("framedcapacity", 4096*3)

	// Worker polling intervals
	viper.SetDefault("encodepollms", 50)
	viper.SetDefault("decodepollms", 50)
	viper.SetDefault("networkpollms", 30)

	viper.SetDefault("codec", "CodecMulaw8000")
	viper.SetDefault("dtxthreshold", 3)

	// Network
	viper.SetDefault("server", "ws://localhost:64738/voice")
	viper.SetDefault("username", "")
	viper.SetDefault("password", "")
	viper.SetDefault("connecttimeout", 10)
	viper.SetDefault("transport", "websocket")
	viper.SetDefault("iceservers", []string{})
	viper.SetDefault("metricsaddress", "")
	viper.SetDefault("statsintervalms", 5000)

	// Devices. Without an input file the tone is captured; without an output file playback is discarded.
	viper.SetDefault("tonefrequency", 440.0)
	viper.SetDefault("toneamplitude", 0.3)
	viper.SetDefault("inputfile", "")
	viper.SetDefault("loopinput", true)
	viper.SetDefault("outputfile", "")

	// Reference server
	viper.SetDefault("localaddress", ":64738")
	viper.SetDefault("serverpassword", "")
	viper.SetDefault("welcometext", "")
	viper.SetDefault("serverchannels", []string{"Lobby"})
	viper.SetDefault("echoaudio", true)
}
