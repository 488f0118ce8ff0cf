package destination

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/vincentbai/eventfan/internal/history"
	"github.com/vincentbai/eventfan/internal/mapping"
	"github.com/vincentbai/eventfan/internal/models"
)

// Loader tracks a destination's loaded state and replays buffered history
// once it loads. Destinations embed it; the zero value is unloaded.
type Loader struct {
	loaded atomic.Bool
}

func (l *Loader) IsLoaded() bool { return l.loaded.Load() }

// Load marks the destination loaded and replays, through d, every call
// buffered before that moment. Calls buffered afterwards reach d live from
// the dispatcher, so nothing is delivered twice or missed. Load is a no-op
// after the first call. Replay continues past failures; they are returned
// joined.
func (l *Loader) Load(ctx context.Context, h history.Reader, d Destination) error {
	if h == nil {
		l.loaded.Store(true)
		return nil
	}

	cutoff := -1
	h.Snapshot(func(n int) {
		if l.loaded.CompareAndSwap(false, true) {
			cutoff = n
		}
	})
	if cutoff <= 0 {
		return nil
	}

	entries := h.Since(0)
	if len(entries) > cutoff {
		entries = entries[:cutoff]
	}
	return Replay(ctx, entries, d)
}

// Replay sends entries through d in order. Track entries go through d's
// event mappings exactly as live calls do; page entries are skipped when d
// is not a Pager. The user passed to mappings is nil because identify calls
// are not buffered. Each handler's context carries the entry's CallInfo
// with Replay set.
func Replay(ctx context.Context, entries []models.HistoryEntry, d Destination) error {
	var errs []error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		callCtx := WithCallInfo(ctx, CallInfo{MessageID: entry.MessageID, Replay: true})
		switch {
		case entry.Page != nil:
			p, ok := d.(Pager)
			if !ok {
				continue
			}
			if err := p.Page(callCtx, *entry.Page); err != nil {
				errs = append(errs, fmt.Errorf("replay page %s: %w", entry.MessageID, err))
			}
		case entry.Track != nil:
			event, _, _ := mapping.Resolve(d.EventMappings(), *entry.Track, nil)
			if err := d.Track(callCtx, event); err != nil {
				errs = append(errs, fmt.Errorf("replay track %s: %w", entry.MessageID, err))
			}
		}
	}
	return errors.Join(errs...)
}
