package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/internal/rpc"
)

// A worker that, once configured, periodically drains its input
type pollingWorker interface {
	prepare() error
	configure(WorkerConfig) error
	// Process everything currently available. An error stops the worker.
	drain() error
}

// Bootstrap w over port, then drain it every interval until port closes or drain fails.
// A failure is reported to the parent as an EventWorkerFailed event.
func runPolling(port rpc.Port, logger *slog.Logger, interval time.Duration, w pollingWorker) {
	ctx := context.Background()

	dispatcher, err := AwaitConfiguration(ctx, port, w.prepare, w.configure)
	if err != nil {
		logger.Error("worker bootstrap failed", "err", err)
		return
	}
	logger.Debug("worker configured", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-port.Done():
			logger.Debug("worker stopping")
			return
		case m := <-port.Receive():
			dispatcher.Dispatch(ctx, m)
		case <-ticker.C:
			if err := w.drain(); err != nil {
				logger.Error("worker stopped", "err", err)
				dispatcher.Emit(ctx, EventWorkerFailed, err.Error())
				return
			}
		}
	}
}
