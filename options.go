package swrcache

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultBatchSize = 3

// Option is a function for configuring caches and coordinators.
type Option func(*options)

type options struct {
	name       string
	logger     ILogger
	now        func() time.Time
	maxEntries int
	batchSize  int
	listKey    Key
	tracer     trace.Tracer
}

func newOptions(opts []Option) options {
	op := options{
		name:       "swrcache",
		logger:     nil,
		now:        time.Now,
		maxEntries: 0,
		batchSize:  defaultBatchSize,
		listKey:    Key{"list"},
		tracer:     noop.NewTracerProvider().Tracer("swrcache"),
	}

	for _, opt := range opts {
		opt(&op)
	}

	return op
}

// WithLogger sets a logger for fetch failures and cache hit/miss ratio.
// By default, the logger is nil.
func WithLogger(name string, logger ILogger) Option {
	return func(c *options) {
		c.name = name
		c.logger = logger
	}
}

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *options) {
		c.now = now
	}
}

// WithMaxEntries bounds the number of stored entries.
// When the bound is reached the entry written longest ago is dropped, even if it is still fresh.
// By default, or with n <= 0, the store is unbounded and entries leave only by age.
func WithMaxEntries(n int) Option {
	return func(c *options) {
		c.maxEntries = n
	}
}

// WithBatchSize sets how many detail fetches run concurrently in one batch.
func WithBatchSize(n int) Option {
	return func(c *options) {
		c.batchSize = n
	}
}

// WithListKey sets the key under which a List stores its collection.
func WithListKey(key Key) Option {
	return func(c *options) {
		c.listKey = key
	}
}

// WithTracer sets the tracer used for remote fetch spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *options) {
		c.tracer = tracer
	}
}
