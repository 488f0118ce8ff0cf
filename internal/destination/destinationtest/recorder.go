// Package destinationtest provides recording destinations for tests.
package destinationtest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vincentbai/eventfan/internal/destination"
	"github.com/vincentbai/eventfan/internal/history"
	"github.com/vincentbai/eventfan/internal/mapping"
	"github.com/vincentbai/eventfan/internal/models"
)

var (
	_ destination.Destination = (*TrackOnly)(nil)
	_ destination.Destination = (*Recorder)(nil)
	_ destination.Identifier  = (*Recorder)(nil)
	_ destination.Pager       = (*Recorder)(nil)
)

// TrackOnly implements only the required handlers.
type TrackOnly struct {
	name     string
	loaded   atomic.Bool
	inits    atomic.Int32
	mappings mapping.Table

	// OnTrack, when set, runs instead of the default nil return.
	OnTrack func(ctx context.Context, event models.TrackEvent) error

	mu      sync.Mutex
	reader  history.Reader
	tracked []models.TrackEvent
}

func NewTrackOnly(name string, loaded bool) *TrackOnly {
	d := &TrackOnly{name: name}
	d.loaded.Store(loaded)
	return d
}

func (d *TrackOnly) Name() string { return d.name }

func (d *TrackOnly) Initialise(_ context.Context, h history.Reader) {
	d.inits.Add(1)
	d.mu.Lock()
	d.reader = h
	d.mu.Unlock()
}

func (d *TrackOnly) IsLoaded() bool { return d.loaded.Load() }

func (d *TrackOnly) SetLoaded(v bool) { d.loaded.Store(v) }

// Initialised returns how many times Initialise ran.
func (d *TrackOnly) Initialised() int { return int(d.inits.Load()) }

// History returns the reader passed to Initialise.
func (d *TrackOnly) History() history.Reader {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reader
}

func (d *TrackOnly) SetMappings(t mapping.Table) { d.mappings = t }

func (d *TrackOnly) EventMappings() mapping.Table { return d.mappings }

func (d *TrackOnly) Track(ctx context.Context, event models.TrackEvent) error {
	d.mu.Lock()
	d.tracked = append(d.tracked, event)
	d.mu.Unlock()
	if d.OnTrack != nil {
		return d.OnTrack(ctx, event)
	}
	return nil
}

func (d *TrackOnly) Tracked() []models.TrackEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.TrackEvent(nil), d.tracked...)
}

// Recorder implements every handler and records what it receives.
type Recorder struct {
	*TrackOnly

	OnIdentify func(ctx context.Context, user models.User) error
	OnPage     func(ctx context.Context, page models.PageView) error

	mu         sync.Mutex
	identified []models.User
	paged      []models.PageView
}

func NewRecorder(name string, loaded bool) *Recorder {
	return &Recorder{TrackOnly: NewTrackOnly(name, loaded)}
}

func (r *Recorder) Identify(ctx context.Context, user models.User) error {
	r.mu.Lock()
	r.identified = append(r.identified, user)
	r.mu.Unlock()
	if r.OnIdentify != nil {
		return r.OnIdentify(ctx, user)
	}
	return nil
}

func (r *Recorder) Page(ctx context.Context, page models.PageView) error {
	r.mu.Lock()
	r.paged = append(r.paged, page)
	r.mu.Unlock()
	if r.OnPage != nil {
		return r.OnPage(ctx, page)
	}
	return nil
}

func (r *Recorder) Identified() []models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.User(nil), r.identified...)
}

func (r *Recorder) Paged() []models.PageView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.PageView(nil), r.paged...)
}
