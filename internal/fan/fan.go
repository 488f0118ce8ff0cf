// Package fan sends identify, page and track calls to every loaded analytics
// destination.
//
// Each call is delivered to all eligible destinations concurrently and the
// call returns once every delivery has finished. One destination failing
// never stops delivery to the others. There is no timeout: a destination
// that never returns holds up the call that reached it, unless it honours
// the caller's context.
//
// A Fan is safe for concurrent use, but calls made concurrently have no
// defined order relative to each other. Callers that need identify, page
// and track to reach destinations in a strict order must wait for each
// call before making the next.
package fan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vincentbai/eventfan/internal/destination"
	"github.com/vincentbai/eventfan/internal/history"
	"github.com/vincentbai/eventfan/internal/mapping"
	"github.com/vincentbai/eventfan/internal/models"
)

const tracerName = "github.com/vincentbai/eventfan"

// DeliveryError reports a failed handler call on one destination.
type DeliveryError struct {
	Destination string
	Call        string
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s to %s: %v", e.Call, e.Destination, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Fan dispatches calls to a fixed list of destinations and keeps the
// history they replay from. Create one with New.
type Fan struct {
	destinations []destination.Destination
	history      *history.Buffer
	logger       *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time
	page         PageContext

	mu   sync.RWMutex
	user *models.User
}

// New creates a Fan and initialises every destination once, in order. ctx
// is handed to each destination's Initialise and bounds any background
// loading it starts.
func New(ctx context.Context, destinations []destination.Destination, opts ...Option) *Fan {
	f := &Fan{
		history: history.New(),
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}

	for _, d := range destinations {
		if d == nil {
			continue
		}
		f.destinations = append(f.destinations, d)
	}
	for _, d := range f.destinations {
		d.Initialise(ctx, f.history)
	}
	return f
}

// Identify replaces the current user and sends it to every loaded
// destination that accepts identify calls. Traits are not merged with any
// previous user's.
func (f *Fan) Identify(ctx context.Context, userID string, traits models.Properties, options models.Options, opts ...CallOption) error {
	cfg := newCallConfig(opts)
	defer f.finish(cfg)

	user := models.User{UserID: userID, Traits: traits, Options: options}.Clone()
	f.mu.Lock()
	f.user = &user
	f.mu.Unlock()

	ctx, span := f.startCall(ctx, "identify", attribute.String("eventfan.user_id", userID))
	defer span.End()

	targets := f.loaded(destination.CapabilityIdentify)
	err := f.fanOut(ctx, "identify", targets, func(ctx context.Context, i int) error {
		return targets[i].(destination.Identifier).Identify(ctx, user.Clone())
	})
	endCall(span, err)
	return err
}

// Page records a page view and sends it to every loaded destination that
// accepts page calls. An empty name defaults to the hosting page's title.
// properties are applied over the title, url and path defaults.
func (f *Fan) Page(ctx context.Context, name string, properties models.Properties, options models.Options, opts ...CallOption) error {
	cfg := newCallConfig(opts)
	defer f.finish(cfg)

	pc := cfg.page
	if pc == nil {
		pc = f.page
	}
	if name == "" && pc != nil {
		name = pc.Title()
	}
	page := models.PageView{
		Name:       name,
		Properties: models.Merge(pageDefaults(name, pc), properties),
		Options:    options,
	}.Clone()

	ctx, span := f.startCall(ctx, "page", attribute.String("eventfan.page", name))
	defer span.End()

	var targets []destination.Destination
	entry := f.history.AppendPage(page, f.now(), func() {
		targets = f.loaded(destination.CapabilityPage)
	})
	ctx = destination.WithCallInfo(ctx, destination.CallInfo{MessageID: entry.MessageID})

	err := f.fanOut(ctx, "page", targets, func(ctx context.Context, i int) error {
		return targets[i].(destination.Pager).Page(ctx, page.Clone())
	})
	endCall(span, err)
	return err
}

// Track records an event and sends it to every loaded destination, each
// receiving the output of its own mapping for the event name, or the event
// itself when there is none or the mapping fails.
func (f *Fan) Track(ctx context.Context, name string, properties models.Properties, options models.Options, opts ...CallOption) error {
	cfg := newCallConfig(opts)
	defer f.finish(cfg)

	event := models.TrackEvent{Name: name, Properties: properties, Options: options}.Clone()

	ctx, span := f.startCall(ctx, "track", attribute.String("eventfan.event", name))
	defer span.End()

	var targets []destination.Destination
	entry := f.history.AppendTrack(event, f.now(), func() {
		targets = f.loaded(destination.CapabilityTrack)
	})
	ctx = destination.WithCallInfo(ctx, destination.CallInfo{MessageID: entry.MessageID})

	user := f.User()
	events := make([]models.TrackEvent, len(targets))
	for i, d := range targets {
		mapped, outcome, err := mapping.Resolve(d.EventMappings(), event, user)
		if outcome == mapping.OutcomeFallback {
			f.logger.Warn("event mapping failed, sending original event",
				slog.String("destination", d.Name()),
				slog.String("event", name),
				slog.String("error", err.Error()),
			)
		}
		events[i] = mapped.Clone()
	}

	err := f.fanOut(ctx, "track", targets, func(ctx context.Context, i int) error {
		return targets[i].Track(ctx, events[i])
	})
	endCall(span, err)
	return err
}

// User returns a copy of the current user, or nil before any Identify.
func (f *Fan) User() *models.User {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.user == nil {
		return nil
	}
	u := f.user.Clone()
	return &u
}

// History returns the read-only buffer of page and track calls.
func (f *Fan) History() history.Reader { return f.history }

// Destinations returns the destinations in dispatch order.
func (f *Fan) Destinations() []destination.Destination {
	return append([]destination.Destination(nil), f.destinations...)
}

// loaded returns, in list order, the destinations loaded right now that
// support c.
func (f *Fan) loaded(c destination.Capability) []destination.Destination {
	var out []destination.Destination
	for _, d := range f.destinations {
		if d.IsLoaded() && destination.Supports(d, c) {
			out = append(out, d)
		}
	}
	return out
}

// fanOut starts send for every target in order and waits for all of them.
// Every failure is logged; the first one is returned.
func (f *Fan) fanOut(ctx context.Context, call string, targets []destination.Destination, send func(ctx context.Context, i int) error) error {
	var g errgroup.Group
	for i, d := range targets {
		g.Go(func() error {
			return f.deliver(ctx, call, d, func(ctx context.Context) error {
				return send(ctx, i)
			})
		})
	}
	return g.Wait()
}

func (f *Fan) deliver(ctx context.Context, call string, d destination.Destination, send func(context.Context) error) (err error) {
	ctx, span := f.tracer.Start(ctx, "eventfan."+call+".deliver",
		trace.WithAttributes(attribute.String("eventfan.destination", d.Name())),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("destination panicked: %v", r)
		}
		if err == nil {
			span.SetStatus(codes.Ok, "")
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.logger.Warn("destination call failed",
			slog.String("destination", d.Name()),
			slog.String("call", call),
			slog.String("error", err.Error()),
		)
		err = &DeliveryError{Destination: d.Name(), Call: call, Err: err}
	}()

	return send(ctx)
}

func (f *Fan) startCall(ctx context.Context, call string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return f.tracer.Start(ctx, "eventfan."+call,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func endCall(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// finish runs the deprecated completion callback. A panicking callback is
// logged and swallowed so it cannot change the call's result.
func (f *Fan) finish(cfg callConfig) {
	if cfg.callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("completion callback panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()
	cfg.callback()
}

func newCallConfig(opts []CallOption) callConfig {
	var cfg callConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// IsDeliveryError reports whether err came from a destination handler
// rather than the dispatcher itself.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}
