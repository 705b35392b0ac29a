package server

import (
	"github.com/rs/zerolog"

	"github.com/TritonDataCenter/node-fast-messages/event"
)

// Options holds the constructor configuration for a Server, assembled by
// applying a chain of Option funcs over a zero value.
type Options struct {
	logger    zerolog.Logger
	hasLogger bool
	idGen     func() string
	metrics   *Metrics
}

// Option configures a Server at construction time.
type Option func(*Options) error

// WithLogger sets the logger the server writes diagnostics to. Defaults to a
// no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *Options) error {
		o.logger = log
		o.hasLogger = true
		return nil
	}
}

// WithIDGenerator overrides how the server mints req_ids for events and pings
// that arrive without one. Defaults to event.NewReqID (ULID-based).
func WithIDGenerator(gen func() string) Option {
	return func(o *Options) error {
		if gen == nil {
			return ErrNilIDGenerator
		}
		o.idGen = gen
		return nil
	}
}

// WithMetrics attaches a prometheus-backed Metrics recorder. Nil by default,
// in which case metrics are skipped entirely.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) error {
		o.metrics = m
		return nil
	}
}

// NewOptions applies opts over a zero-value Options and fills in defaults for
// anything left unset.
func NewOptions(opts ...Option) (*Options, error) {
	o := &Options{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	o.setDefaults()
	return o, nil
}

func (o *Options) setDefaults() {
	if !o.hasLogger {
		o.logger = zerolog.Nop()
	}
	if o.idGen == nil {
		o.idGen = event.NewReqID
	}
}
