package cachefn

import (
	"context"
	"log/slog"
	"time"
)

// Observer receives events for wrapper operations.
// It is called after each invoke, call, refresh or delete completes.
type Observer interface {
	OnCacheOp(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver)

// OnCacheOp implements Observer.
func (f ObserverFunc) OnCacheOp(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver) {
	if f == nil {
		return
	}
	f(ctx, op, key, hit, err, dur, driver)
}

// LogObserver writes one structured record per operation. Failures log at
// warn level, everything else at debug.
func LogObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return ObserverFunc(func(ctx context.Context, op, key string, hit bool, err error, dur time.Duration, driver Driver) {
		attrs := []slog.Attr{
			slog.String("op", op),
			slog.String("key", key),
			slog.Bool("hit", hit),
			slog.Duration("duration", dur),
			slog.String("driver", string(driver)),
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
			logger.LogAttrs(ctx, slog.LevelWarn, "cachefn operation failed", attrs...)
			return
		}
		logger.LogAttrs(ctx, slog.LevelDebug, "cachefn operation", attrs...)
	})
}
