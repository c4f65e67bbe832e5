package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/rpc"
	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/ringbuf"
)

// The reply a worker gives to a readiness check once it has prepared its internal state
const ReadyToken = "ready"

const (
	CommandReadinessCheck = "readiness_check"
	CommandConfigure      = "configure"

	// Emitted by a worker that has stopped because of an unrecoverable error
	EventWorkerFailed = "worker_failed"

	configParam    = "config"
	spawnPortSize  = 16
	configuredData = "configured"
)

var (
	ErrSpawnFailed = errors.New("worker failed to start")

	errNotReady          = errors.New("worker did not answer with the ready token")
	errUnexpectedMessage = errors.New("unexpected message during bootstrap")
	errMissingConfig     = errors.New("configure message carries no worker configuration")
	errMissingBuffer     = errors.New("worker configuration lacks buffer")
	errUnexpectedStorage = errors.New("buffer has unexpected element kind")
)

// Sent to a worker in the second phase of its bootstrap
type WorkerConfig struct {
	SampleRate   int
	ChannelCount int
	// Samples per channel in one codec frame
	FrameSize int
	Buffers   map[string]ringbuf.Storage
}

func (c Config) WorkerConfig(buffers map[string]ringbuf.Storage) WorkerConfig {
	return WorkerConfig{
		SampleRate:   c.SampleRate,
		ChannelCount: c.ChannelCount,
		FrameSize:    c.FrameSize(),
		Buffers:      buffers,
	}
}

// Look up buffer name, which must hold elements of kind.
func (c WorkerConfig) Buffer(name string, kind ringbuf.Kind) (ringbuf.Storage, error) {
	storage, ok := c.Buffers[name]
	if !ok {
		return ringbuf.Storage{}, fmt.Errorf("%w %s", errMissingBuffer, name)
	}
	if storage.Kind() != kind {
		return ringbuf.Storage{}, fmt.Errorf("%w: %s holds %s, expected %s", errUnexpectedStorage, name, storage.Kind(), kind)
	}
	return storage, nil
}

// Start a worker and take it through its bootstrap.
//
// run is started on its own goroutine with the worker's end of a new control channel.
// Spawn then asks the worker whether it is ready, and once it answers with ReadyToken,
// sends it config. Any failure, or ctx expiring, aborts the spawn: the control channel is
// closed, which a worker must take as a signal to stop.
//
// On success the returned Caller is the parent's end of the control channel.
func Spawn(ctx context.Context, name string, run func(port rpc.Port), config WorkerConfig) (*rpc.Caller, error) {
	parentPort, workerPort := rpc.NewPipe(spawnPortSize)
	go run(workerPort)

	caller := rpc.NewCaller(parentPort)
	if err := bootstrap(ctx, caller, config); err != nil {
		caller.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawnFailed, name, err)
	}
	slog.Debug("worker spawned", "worker", name)
	return caller, nil
}

func bootstrap(ctx context.Context, caller *rpc.Caller, config WorkerConfig) error {
	reply, err := caller.Request(ctx, rpc.Message{Command: CommandReadinessCheck})
	if err != nil {
		return err
	}
	if token, _ := reply.Data.(string); token != ReadyToken {
		return fmt.Errorf("%w: got %v", errNotReady, reply.Data)
	}

	_, err = caller.Request(ctx, rpc.Message{
		Command: CommandConfigure,
		Params:  map[string]any{configParam: config},
	})
	return err
}

// The worker side of Spawn.
//
// Waits for the readiness check and calls prepare, answering with ReadyToken if it succeeds.
// Then waits for the configuration and calls configure with it, acknowledging if it succeeds.
// A failure of either is reported to the parent and returned.
//
// The returned Dispatcher answers on port; the worker uses it for everything after bootstrap.
func AwaitConfiguration(
	ctx context.Context,
	port rpc.Port,
	prepare func() error,
	configure func(WorkerConfig) error,
) (*rpc.Dispatcher, error) {
	dispatcher := rpc.NewDispatcher(port)

	request, err := receive(ctx, port)
	if err != nil {
		return nil, err
	}
	if request.Command != CommandReadinessCheck {
		err := fmt.Errorf("%w: %q before readiness check", errUnexpectedMessage, request.Name())
		dispatcher.ReplyError(ctx, request.Tag, err)
		return nil, err
	}
	if err := prepare(); err != nil {
		dispatcher.ReplyError(ctx, request.Tag, err)
		return nil, err
	}
	if err := dispatcher.Reply(ctx, request.Tag, ReadyToken); err != nil {
		return nil, err
	}

	request, err = receive(ctx, port)
	if err != nil {
		return nil, err
	}
	if request.Command != CommandConfigure {
		err := fmt.Errorf("%w: %q instead of configuration", errUnexpectedMessage, request.Name())
		dispatcher.ReplyError(ctx, request.Tag, err)
		return nil, err
	}
	config, ok := request.Params[configParam].(WorkerConfig)
	if !ok {
		dispatcher.ReplyError(ctx, request.Tag, errMissingConfig)
		return nil, errMissingConfig
	}
	if err := configure(config); err != nil {
		dispatcher.ReplyError(ctx, request.Tag, err)
		return nil, err
	}
	if err := dispatcher.Reply(ctx, request.Tag, configuredData); err != nil {
		return nil, err
	}
	return dispatcher, nil
}

// Wait for the next request on port, skipping events
func receive(ctx context.Context, port rpc.Port) (rpc.Message, error) {
	for {
		select {
		case m := <-port.Receive():
			if m.IsEvent() {
				continue
			}
			return m, nil
		case <-port.Done():
			return rpc.Message{}, rpc.ErrClosed
		case <-ctx.Done():
			return rpc.Message{}, ctx.Err()
		}
	}
}
