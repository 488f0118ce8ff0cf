// Package history buffers page and track calls so destinations that finish
// loading late can replay what they missed.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vincentbai/eventfan/internal/models"
)

// Reader is the read-only view of a Buffer handed to destinations.
type Reader interface {
	Len() int
	Entries() []models.HistoryEntry
	Since(n int) []models.HistoryEntry
	// Snapshot runs fn while no entry can be appended. n is the number of
	// entries at that moment.
	Snapshot(fn func(n int))
}

// Buffer is an append-only, ordered log of page and track calls. Entries
// are never removed or mutated. The zero value is ready to use.
type Buffer struct {
	mu      sync.RWMutex
	entries []models.HistoryEntry
}

var _ Reader = (*Buffer)(nil)

func New() *Buffer {
	return &Buffer{}
}

// AppendPage records a page view and returns the stored entry. If during is
// non-nil it runs before any other append or Snapshot can proceed; the
// dispatcher uses it to pick the loaded destinations atomically with the
// append.
func (b *Buffer) AppendPage(page models.PageView, now time.Time, during func()) models.HistoryEntry {
	page = page.Clone()
	ts := stamp(&page.Options, now)
	return b.append(models.HistoryEntry{OriginalTimestamp: ts, Page: &page}, during)
}

// AppendTrack records a track event and returns the stored entry. during
// behaves as in AppendPage.
func (b *Buffer) AppendTrack(event models.TrackEvent, now time.Time, during func()) models.HistoryEntry {
	event = event.Clone()
	ts := stamp(&event.Options, now)
	return b.append(models.HistoryEntry{OriginalTimestamp: ts, Track: &event}, during)
}

func (b *Buffer) append(entry models.HistoryEntry, during func()) models.HistoryEntry {
	entry.MessageID = uuid.NewString()

	b.mu.Lock()
	b.entries = append(b.entries, entry)
	if during != nil {
		during()
	}
	b.mu.Unlock()

	return entry.Clone()
}

func (b *Buffer) Snapshot(fn func(n int)) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fn(len(b.entries))
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Entries returns a copy of every entry in submission order.
func (b *Buffer) Entries() []models.HistoryEntry {
	return b.Since(0)
}

// Since returns a copy of the entries from index n onward. Destinations
// remember how far they have replayed and pass that index back in.
func (b *Buffer) Since(n int) []models.HistoryEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n < 0 {
		n = 0
	}
	if n >= len(b.entries) {
		return nil
	}
	out := make([]models.HistoryEntry, 0, len(b.entries)-n)
	for _, e := range b.entries[n:] {
		out = append(out, e.Clone())
	}
	return out
}

// stamp makes sure opts carries originalTimestamp and returns its value.
// A caller-supplied timestamp wins over now.
func stamp(opts *models.Options, now time.Time) time.Time {
	if ts, ok := models.OriginalTimestamp(*opts); ok {
		return ts
	}
	if *opts == nil {
		*opts = models.Options{}
	}
	(*opts)[models.OriginalTimestampKey] = now
	return now
}
