package utils

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// A logger for conditions that may repeat many times a second, such as dropped audio.
//
// At most burst messages are written per interval; the rest are counted, and the count of
// suppressed messages is attached to the next message that gets through.
// Safe for concurrent use.
type RateLimitedLogger struct {
	logger     *slog.Logger
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

func NewRateLimitedLogger(logger *slog.Logger, interval time.Duration, burst int) *RateLimitedLogger {
	return &RateLimitedLogger{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(interval), burst),
	}
}

func (l *RateLimitedLogger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args)
}

func (l *RateLimitedLogger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args)
}

// Number of messages suppressed since the last one written
func (l *RateLimitedLogger) Suppressed() int64 {
	return l.suppressed.Load()
}

func (l *RateLimitedLogger) log(level slog.Level, msg string, args []any) {
	if !l.limiter.Allow() {
		l.suppressed.Add(1)
		return
	}
	if n := l.suppressed.Swap(0); n > 0 {
		args = append(args, "suppressed", n)
	}
	l.logger.Log(context.Background(), level, msg, args...)
}
