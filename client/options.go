package client

import "github.com/rs/zerolog"

// Options holds the constructor configuration for a Client.
type Options struct {
	logger    zerolog.Logger
	hasLogger bool
	handlers  Handlers
}

// Option configures a Client at construction time.
type Option func(*Options) error

// WithLogger sets the logger the client writes diagnostics to. Defaults to a
// no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *Options) error {
		o.logger = log
		o.hasLogger = true
		return nil
	}
}

// WithHandlers registers the lifecycle callbacks fired by the FSM.
func WithHandlers(h Handlers) Option {
	return func(o *Options) error {
		o.handlers = h
		return nil
	}
}

// NewOptions applies opts over a zero-value Options and fills in defaults.
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
}
