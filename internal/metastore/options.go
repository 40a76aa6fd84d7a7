package metastore

import (
	"log/slog"
	"time"

	"github.com/roach88/metavault/internal/metrics"
	"github.com/roach88/metavault/internal/reconcile"
)

// Option configures a MetadataStore or AddressBookStore.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
	readEpoch     time.Time
	remoteTimeout time.Duration
}

func defaultOptions() options {
	return options{
		logger:        slog.Default(),
		now:           time.Now,
		remoteTimeout: reconcile.DefaultRemoteTimeout,
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock sets the time function for testing.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithReadTrackingEpoch treats every transaction older than epoch as read.
func WithReadTrackingEpoch(epoch time.Time) Option {
	return func(o *options) {
		o.readEpoch = epoch
	}
}

// WithRemoteTimeout bounds each remote call.
func WithRemoteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.remoteTimeout = d
	}
}

func (o options) engineOptions() []reconcile.Option {
	return []reconcile.Option{
		reconcile.WithLogger(o.logger),
		reconcile.WithMetrics(o.metrics),
		reconcile.WithRemoteTimeout(o.remoteTimeout),
	}
}
