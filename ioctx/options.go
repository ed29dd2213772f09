package ioctx

import "github.com/joeycumines/logiface"

type contextOptions struct {
	logger         *logiface.Logger[logiface.Event]
	strictFairness bool
}

// Option configures an IoContext (and, through the pool constructor, every
// context of an IoContextPool).
type Option interface {
	applyContext(*contextOptions)
}

type optionImpl struct {
	fn func(*contextOptions)
}

func (o *optionImpl) applyContext(c *contextOptions) { o.fn(c) }

// WithLogger attaches a structured logger to the context, its reactor, and
// its scheduler. Nil is valid and disables logging.
func WithLogger(l *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(c *contextOptions) { c.logger = l }}
}

// WithStrictFairness selects the stricter loop-kick rule: resumptions only
// count towards re-admitting the I/O loop when the resumed fiber sits
// strictly below MainNiceLevel and more than one fiber remains ready. The
// default counts every resumption while the loop is parked.
func WithStrictFairness(enabled bool) Option {
	return &optionImpl{func(c *contextOptions) { c.strictFairness = enabled }}
}

func resolveOptions(opts []Option) *contextOptions {
	cfg := &contextOptions{}
	for _, o := range opts {
		if o != nil {
			o.applyContext(cfg)
		}
	}
	return cfg
}
