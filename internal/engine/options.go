package engine

import (
	"log/slog"
	"os"
	"time"
)

// options holds settings shared by the Dispatcher, Recorder and Replayer.
// Each constructor reads only the fields that apply to it.
type options struct {
	logger         *slog.Logger
	stallAfter     time.Duration
	onEnd          func()
	exit           func(code int)
	collisionCheck bool
}

// Option configures an engine component.
type Option func(*options)

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		onEnd:  func() {},
		exit:   os.Exit,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithStallWarning makes a waiting replay goroutine log a warning every d
// without progress. It never causes a wait to end.
//
// Default: 0 (disabled).
func WithStallWarning(d time.Duration) Option {
	return func(o *options) {
		o.stallAfter = d
	}
}

// WithOnEnd sets the callback run exactly once when the replay trace is
// exhausted, before the exit function. The callback must not call back into
// the Replayer.
func WithOnEnd(fn func()) Option {
	return func(o *options) {
		if fn != nil {
			o.onEnd = fn
		}
	}
}

// WithExit replaces os.Exit as the end-of-trace action. If fn returns, the
// Replayer finishes instead of terminating the process.
func WithExit(fn func(code int)) Option {
	return func(o *options) {
		if fn != nil {
			o.exit = fn
		}
	}
}

// WithCollisionCheck makes the Dispatcher report distinct labels that hash
// to the same call id (see callid.Registry).
func WithCollisionCheck() Option {
	return func(o *options) {
		o.collisionCheck = true
	}
}
