package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/audioapi"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/control"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/pipeline"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/rpc"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/ringbuf"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	errDeviceMismatch = errors.New("device properties do not match the pipeline")
	errWorkerFailed   = errors.New("pipeline worker failed")
)

const spawnTimeout = 5 * time.Second

// The main application representation for the client.
//
// Holds the pipeline topology and the contexts at each of its stages:
// the audio input and output devices (capture and playback), the encode and decode workers,
// and the network worker, along with the parameter rings used to adjust capture and playback.
//
// Audio Data Flow
//
//	input device -> CaptureProcessor -> [capture.samples] -> encode worker -> [capture.framed] -> network worker
//	network worker -> [playback.framed] -> decode worker -> [playback.samples] -> PlaybackProcessor -> output device
type App struct {
	logger *slog.Logger
	config pipeline.Config
	stats  *pipeline.Stats

	topology *pipeline.Topology

	// --------------------------------------------------------------------------------
	// Workers, each owned through the parent end of its control channel

	encode        *rpc.Caller
	decode        *rpc.Caller
	networkCaller *rpc.Caller
	network       *control.Client

	// --------------------------------------------------------------------------------
	// Audio Input, Output, API, and Devices

	// The audio device API used to open the input and output devices
	audioIODeviceAPI  audioapi.AudioIODeviceAPI
	audioInputDevice  audiodevice.AudioInputDevice
	audioOutputDevice audiodevice.AudioOutputDevice

	captureParams  *ringbuf.ParameterWriter
	playbackParams *ringbuf.ParameterWriter
}

// --------------------------------------------------------------------------------
// Initialization of App

// Create the pipeline, spawn its workers, and start the default input and output devices of audioIODeviceAPI.
// If anything fails, everything created so far is closed again.
func NewApp(
	ctx context.Context,
	config pipeline.Config,
	controlConfig control.Config,
	audioIODeviceAPI audioapi.AudioIODeviceAPI,
	stats *pipeline.Stats,
) (_ *App, err error) {
	topology, err := pipeline.NewTopology(config)
	if err != nil {
		return nil, err
	}

	app := &App{
		logger:           slog.Default().With("application uuid", uuid.New()),
		config:           config,
		stats:            stats,
		topology:         topology,
		audioIODeviceAPI: audioIODeviceAPI,
	}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, spawnTimeout)
	defer cancel()

	if app.encode, err = app.spawn(ctx, pipeline.ContextEncode, pipeline.NewEncodeWorker(config, stats).Run); err != nil {
		return nil, err
	}
	if app.decode, err = app.spawn(ctx, pipeline.ContextDecode, pipeline.NewDecodeWorker(config, stats).Run); err != nil {
		return nil, err
	}
	if app.networkCaller, err = app.spawn(ctx, pipeline.ContextNetwork, control.NewWorker(controlConfig, stats).Run); err != nil {
		return nil, err
	}
	app.network = control.NewClient(app.networkCaller, controlConfig.ConnectTimeout)

	if err := app.claimParameters(); err != nil {
		return nil, err
	}
	if err := app.startCapture(); err != nil {
		return nil, err
	}
	if err := app.startPlayback(); err != nil {
		return nil, err
	}

	if unclaimed := topology.Unclaimed(); len(unclaimed) > 0 {
		app.logger.Warn("pipeline has unclaimed buffers", "buffers", unclaimed)
	}
	return app, nil
}

func (app *App) spawn(ctx context.Context, name string, run func(rpc.Port)) (*rpc.Caller, error) {
	buffers, err := app.topology.ClaimAll(name)
	if err != nil {
		return nil, err
	}
	return pipeline.Spawn(ctx, name, run, app.config.WorkerConfig(buffers))
}

func (app *App) claimParameters() error {
	buffers, err := app.topology.ClaimAll(pipeline.ContextControl)
	if err != nil {
		return err
	}
	captureRing, errCapture := ringbuf.New[uint8](buffers[pipeline.BufferCaptureParams])
	playbackRing, errPlayback := ringbuf.New[uint8](buffers[pipeline.BufferPlaybackParams])
	if err := errors.Join(errCapture, errPlayback); err != nil {
		return err
	}

	if app.captureParams, err = ringbuf.NewParameterWriter(captureRing); err != nil {
		return err
	}
	app.playbackParams, err = ringbuf.NewParameterWriter(playbackRing)
	return err
}

func (app *App) checkDevice(properties audiodevice.DeviceProperties) error {
	if properties.SampleRate != app.config.SampleRate || properties.NumChannels != app.config.ChannelCount {
		return fmt.Errorf("%w: device has %d Hz x %d channels, pipeline %d Hz x %d channels", errDeviceMismatch,
			properties.SampleRate, properties.NumChannels, app.config.SampleRate, app.config.ChannelCount)
	}
	return nil
}

func (app *App) startCapture() error {
	buffers, err := app.topology.ClaimAll(pipeline.ContextCapture)
	if err != nil {
		return err
	}
	processor, err := pipeline.NewCaptureProcessor(app.config,
		buffers[pipeline.BufferCaptureSamples], buffers[pipeline.BufferCaptureParams], app.stats)
	if err != nil {
		return err
	}

	inputDevice, err := app.audioIODeviceAPI.InitDefaultInputDevice()
	if err != nil {
		return fmt.Errorf("opening input device: %w", err)
	}
	if err := app.checkDevice(inputDevice.GetDeviceProperties()); err != nil {
		inputDevice.Close()
		return err
	}
	app.audioInputDevice = inputDevice
	return inputDevice.Start(processor.Process)
}

func (app *App) startPlayback() error {
	buffers, err := app.topology.ClaimAll(pipeline.ContextPlayback)
	if err != nil {
		return err
	}
	processor, err := pipeline.NewPlaybackProcessor(app.config,
		buffers[pipeline.BufferPlaybackSamples], buffers[pipeline.BufferPlaybackParams], app.stats)
	if err != nil {
		return err
	}

	outputDevice, err := app.audioIODeviceAPI.InitDefaultOutputDevice()
	if err != nil {
		return fmt.Errorf("opening output device: %w", err)
	}
	if err := app.checkDevice(outputDevice.GetDeviceProperties()); err != nil {
		outputDevice.Close()
		return err
	}
	app.audioOutputDevice = outputDevice
	return outputDevice.Start(processor.Process)
}

// --------------------------------------------------------------------------------
// Running the App

// Run until ctx is done or a worker fails, logging network events and dropped audio every statsInterval.
// Run returns once everything it started has stopped; it does not close the App.
func (app *App) Run(ctx context.Context, statsInterval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return app.watchWorker(ctx, pipeline.ContextEncode, app.encode) })
	g.Go(func() error { return app.watchWorker(ctx, pipeline.ContextDecode, app.decode) })
	g.Go(func() error { return app.logNetworkEvents(ctx) })
	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		var previous pipeline.StatsSnapshot
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				snapshot := app.stats.Snapshot()
				snapshot.LogIfDropped(app.logger, previous)
				previous = snapshot
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Return an error once the worker reports a failure
func (app *App) watchWorker(ctx context.Context, name string, caller *rpc.Caller) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-caller.Events():
			if !ok {
				return nil
			}
			if m.Type == pipeline.EventWorkerFailed {
				app.logger.Error("worker failed", "worker", name, "reason", m.Data)
				return fmt.Errorf("%w: %s: %v", errWorkerFailed, name, m.Data)
			}
		}
	}
}

func (app *App) logNetworkEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-app.network.Events():
			if !ok {
				return nil
			}
			data, _ := m.Data.(control.EventData)
			switch m.Type {
			case control.EventError:
				app.logger.Warn("network error", "reason", data.Reason)
			case control.EventDisconnected:
				app.logger.Info("disconnected from server", "reason", data.Reason)
			default:
				app.logger.Info(m.Type, "user", data.User.Name, "session", data.User.Session, "channel", data.Channel.Name)
			}
		}
	}
}

// --------------------------------------------------------------------------------
// Getters and Setters for App

// The network worker, to connect to a server and query it
func (app *App) Network() *control.Client {
	return app.network
}

func (app *App) Stats() *pipeline.Stats {
	return app.stats
}

// Set the gain applied to captured audio before it is encoded.
// Returns false if the capture processor has too many changes pending to accept another.
func (app *App) SetInputGain(gain float32) bool {
	return app.captureParams.EnqueueChange(pipeline.ParameterGain, gain)
}

func (app *App) SetInputMuted(muted bool) bool {
	return app.captureParams.EnqueueChange(pipeline.ParameterMute, boolParameter(muted))
}

// Set the gain applied to received audio before it is played.
func (app *App) SetOutputGain(gain float32) bool {
	return app.playbackParams.EnqueueChange(pipeline.ParameterGain, gain)
}

func (app *App) SetOutputMuted(muted bool) bool {
	return app.playbackParams.EnqueueChange(pipeline.ParameterMute, boolParameter(muted))
}

func boolParameter(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

// Close and cleanup the application.
//
// Devices are stopped first so that no callback runs against a worker that has gone,
// then every worker's control channel is closed, which stops it.
// After calling close, the app should be discarded.
func (app *App) Close() {
	if app.audioInputDevice != nil {
		app.audioInputDevice.Close()
	}
	if app.audioOutputDevice != nil {
		app.audioOutputDevice.Close()
	}
	for _, caller := range []*rpc.Caller{app.networkCaller, app.encode, app.decode} {
		if caller != nil {
			caller.Close()
		}
	}
	app.logger.Debug("application closed")
}
