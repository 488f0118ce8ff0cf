package fan

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Option configures a Fan.
type Option func(*Fan)

// WithLogger sets the logger used for destination failures.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fan) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithTracer sets the tracer used for call and delivery spans. The global
// provider's tracer is used otherwise.
func WithTracer(tracer trace.Tracer) Option {
	return func(f *Fan) {
		if tracer != nil {
			f.tracer = tracer
		}
	}
}

// WithClock overrides the time source used to stamp buffered calls.
func WithClock(now func() time.Time) Option {
	return func(f *Fan) {
		if now != nil {
			f.now = now
		}
	}
}

// WithDefaultPageContext sets the page context used by Page calls that do
// not carry their own.
func WithDefaultPageContext(pc PageContext) Option {
	return func(f *Fan) { f.page = pc }
}

// CallOption configures a single Identify, Page or Track call.
type CallOption func(*callConfig)

type callConfig struct {
	callback func()
	page     PageContext
}

// WithCallback registers a hook run once after the call's fan-out settles,
// whether or not a destination failed.
//
// Deprecated: use the returned error instead.
func WithCallback(fn func()) CallOption {
	return func(c *callConfig) { c.callback = fn }
}

// WithPageContext sets the page a Page call was made from.
func WithPageContext(pc PageContext) CallOption {
	return func(c *callConfig) { c.page = pc }
}
