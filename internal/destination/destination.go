// Package destination defines the contract analytics destinations implement.
//
// Track is the only required handler. Identify and Page are separate
// interfaces so a destination opts in only to the calls its vendor
// understands; Supports reports which ones a destination has.
package destination

import (
	"context"

	"github.com/vincentbai/eventfan/internal/history"
	"github.com/vincentbai/eventfan/internal/mapping"
	"github.com/vincentbai/eventfan/internal/models"
)

// Destination is the base interface all destinations must implement.
type Destination interface {
	// Name returns a unique human-readable name for the destination.
	Name() string

	// Initialise is called exactly once, when the dispatcher is built. It
	// starts whatever loading the destination needs and must not block on
	// it. The reader stays valid for the dispatcher's lifetime and is the
	// source for replaying calls made before the destination loaded.
	Initialise(ctx context.Context, h history.Reader)

	// IsLoaded reports whether the destination can receive calls now. It
	// is read while the history is locked and must not call the reader.
	IsLoaded() bool

	// Track delivers one event. For page and track calls ctx carries the
	// history entry's CallInfo.
	Track(ctx context.Context, event models.TrackEvent) error

	// EventMappings returns the per-event transforms for this destination.
	// It may return nil. Live calls pass the current user to a transform;
	// calls replayed from history pass nil, since identify calls are not
	// buffered, so transforms must not depend on the user being set.
	EventMappings() mapping.Table
}

// Identifier is implemented by destinations that accept identify calls.
type Identifier interface {
	Identify(ctx context.Context, user models.User) error
}

// Pager is implemented by destinations that accept page calls.
type Pager interface {
	Page(ctx context.Context, page models.PageView) error
}

type Capability string

const (
	CapabilityIdentify Capability = "identify"
	CapabilityPage     Capability = "page"
	CapabilityTrack    Capability = "track"
)

// Supports reports whether d handles calls of the given kind.
func Supports(d Destination, c Capability) bool {
	switch c {
	case CapabilityIdentify:
		_, ok := d.(Identifier)
		return ok
	case CapabilityPage:
		_, ok := d.(Pager)
		return ok
	case CapabilityTrack:
		return d != nil
	}
	return false
}
