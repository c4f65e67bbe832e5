package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/cmd/application"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/cmd/config"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/audioapi"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configFilePath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "voicering",
		Short:         "A voice client streaming audio through lock-free ring buffers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadConfig(configFilePath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configFilePath, "configFilePath", "config.yaml", "Set the file path to the config file.")

	rootCmd.AddCommand(runCmd(), devicesCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to a server and stream audio until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	cmd.Flags().String("server", "", "Address of the server, e.g. ws://localhost:64738/voice")
	cmd.Flags().String("username", "", "Name to connect with")
	cmd.Flags().String("password", "", "Server password, if it has one")
	cmd.Flags().String("transport", "", "Transport to the server: websocket or webrtc")
	for _, name := range []string{"server", "username", "password", "transport"} {
		viper.BindPFlag(name, cmd.Flags().Lookup(name))
	}
	return cmd
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the audio devices available with the current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			pipelineConfig, err := config.PipelineConfig()
			if err != nil {
				return err
			}
			api := audioapi.NewVirtualAudioIODeviceAPI(config.AudioAPIConfig(pipelineConfig))

			fmt.Println("Input devices:")
			for _, d := range api.InputDevices() {
				fmt.Println(d)
			}
			fmt.Println("Output devices:")
			for _, d := range api.OutputDevices() {
				fmt.Println(d)
			}
			return nil
		},
	}
}

func run(ctx context.Context) error {
	logFilePointer, err := config.ConfigureLogger()
	if err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	pipelineConfig, err := config.PipelineConfig()
	if err != nil {
		return err
	}
	username := viper.GetString("username")
	if username == "" {
		username, _ = os.Hostname()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --------------------------------------------------------------------------------

	stats := &pipeline.Stats{}
	if address := viper.GetString("metricsaddress"); address != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		if err := stats.Register(registry); err != nil {
			return err
		}
		go serveMetrics(address, registry)
	}

	app, err := application.NewApp(
		ctx,
		pipelineConfig,
		config.ControlConfig(pipelineConfig),
		audioapi.NewVirtualAudioIODeviceAPI(config.AudioAPIConfig(pipelineConfig)),
		stats,
	)
	if err != nil {
		return err
	}
	defer app.Close()

	server := viper.GetString("server")
	reply, err := app.Network().Connect(ctx, server, username, viper.GetString("password"))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", server, err)
	}
	slog.Info("connected",
		"server", server,
		"session", reply.Session,
		"users", len(reply.Users),
		"welcome", reply.Welcome,
	)

	err = app.Run(ctx, time.Duration(viper.GetInt("statsintervalms"))*time.Millisecond)

	disconnectCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	app.Network().Disconnect(disconnectCtx)
	return err
}

func serveMetrics(address string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	slog.Info("serving metrics", "address", address)
	if err := http.ListenAndServe(address, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("error during metrics listen and serve", "err", err)
	}
}
