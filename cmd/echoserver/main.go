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

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/cmd/config"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/protocol"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configFilePath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "echoserver",
		Short:         "A reference voice server that relays audio to everyone in a channel, including the sender",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadConfig(configFilePath); err != nil {
				return err
			}
			return serve(cmd.Context())
		},
	}
	rootCmd.Flags().StringVar(&configFilePath, "configFilePath", "config.yaml", "Set the file path to the config file.")
	rootCmd.Flags().String("localaddress", "", "Address to listen on")
	viper.BindPFlag("localaddress", rootCmd.Flags().Lookup("localaddress"))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	logFilePointer, err := config.ConfigureLogger()
	if err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --------------------------------------------------------------------------------

	server := protocol.NewServer(config.ServerConfig())

	mux := http.NewServeMux()
	mux.Handle("GET /voice", transport.NewWebSocketHandler(server))
	mux.Handle("POST /signal", transport.NewWebRTCHandler(ctx, server, config.TransportConfig().ICEServers))

	listenAddress := viper.GetString("localaddress")
	httpServer := &http.Server{Addr: listenAddress, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("echo server listening", "listenAddress", listenAddress)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
