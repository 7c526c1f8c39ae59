package sessionstore

import (
	"log/slog"
)

// Option is a functional option for configuring a Store.
type Option func(*storeOptions)

// storeOptions holds optional collaborators of a Store.
type storeOptions struct {
	logger  *slog.Logger
	metrics *Metrics
}

// WithLogger sets the logger used by the store.
func WithLogger(logger *slog.Logger) Option {
	return func(o *storeOptions) {
		o.logger = logger
	}
}

// WithMetrics records operation metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(o *storeOptions) {
		o.metrics = m
	}
}

func applyOptions(opts []Option) storeOptions {
	o := storeOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}
