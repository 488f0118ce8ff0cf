// Package mapping resolves the per-destination, per-event transforms applied
// to track events before delivery.
package mapping

import (
	"errors"
	"fmt"

	"github.com/vincentbai/eventfan/internal/models"
)

// Func converts a canonical track event into a destination's shape. user is
// nil until identify has been called. Returning nil means "send the
// original".
type Func func(event models.TrackEvent, user *models.User) (*models.TrackEvent, error)

// Table maps event names to transforms. A nil or empty Table is valid.
type Table map[string]Func

type Outcome int

const (
	// OutcomeUnmapped means no transform is registered for the event name.
	OutcomeUnmapped Outcome = iota
	// OutcomeMapped means the transform's result is delivered.
	OutcomeMapped
	// OutcomeFallback means the transform failed and the original is delivered.
	OutcomeFallback
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnmapped:
		return "unmapped"
	case OutcomeMapped:
		return "mapped"
	case OutcomeFallback:
		return "fallback"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

var (
	ErrNoResult     = errors.New("mapping returned no event")
	ErrInvalidEvent = errors.New("mapping returned an invalid event")
)

// Resolve returns the event a destination should receive. The transform is
// handed a deep copy, so it cannot alter event or user. When the transform
// errors, panics, returns nil or returns an event without a name, the
// original event is returned with OutcomeFallback and the cause in err.
func Resolve(table Table, event models.TrackEvent, user *models.User) (out models.TrackEvent, outcome Outcome, err error) {
	fn, ok := table[event.Name]
	if !ok || fn == nil {
		return event, OutcomeUnmapped, nil
	}

	mapped, err := call(fn, event, user)
	if err != nil {
		return event, OutcomeFallback, err
	}
	if mapped == nil {
		return event, OutcomeFallback, ErrNoResult
	}
	if !mapped.Valid() {
		return event, OutcomeFallback, ErrInvalidEvent
	}
	return *mapped, OutcomeMapped, nil
}

func call(fn Func, event models.TrackEvent, user *models.User) (mapped *models.TrackEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			mapped = nil
			err = fmt.Errorf("mapping panicked: %v", r)
		}
	}()

	var u *models.User
	if user != nil {
		c := user.Clone()
		u = &c
	}
	return fn(event.Clone(), u)
}
