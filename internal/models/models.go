package models

import (
	"maps"
	"time"
)

// OriginalTimestampKey is the options key carrying the time a call was made.
const OriginalTimestampKey = "originalTimestamp"

type Properties map[string]any

type Options map[string]any

type User struct {
	UserID  string     `json:"userId"`
	Traits  Properties `json:"traits,omitempty"`
	Options Options    `json:"options,omitempty"`
}

type PageView struct {
	Name       string     `json:"name"`
	Properties Properties `json:"properties"`
	Options    Options    `json:"options,omitempty"`
}

type TrackEvent struct {
	Name       string     `json:"name"`
	Properties Properties `json:"properties,omitempty"`
	Options    Options    `json:"options,omitempty"`
}

// Valid reports whether the event has the fields every destination relies on.
func (e TrackEvent) Valid() bool {
	return e.Name != ""
}

// Clone returns a deep copy so transforms cannot reach the canonical record.
func (e TrackEvent) Clone() TrackEvent {
	return TrackEvent{
		Name:       e.Name,
		Properties: Properties(cloneMap(e.Properties)),
		Options:    Options(cloneMap(e.Options)),
	}
}

func (p PageView) Clone() PageView {
	return PageView{
		Name:       p.Name,
		Properties: Properties(cloneMap(p.Properties)),
		Options:    Options(cloneMap(p.Options)),
	}
}

func (u User) Clone() User {
	return User{
		UserID:  u.UserID,
		Traits:  Properties(cloneMap(u.Traits)),
		Options: Options(cloneMap(u.Options)),
	}
}

// HistoryEntry is one buffered page or track call. Exactly one of Page and
// Track is set.
type HistoryEntry struct {
	MessageID         string      `json:"messageId"`
	OriginalTimestamp time.Time   `json:"originalTimestamp"`
	Page              *PageView   `json:"page,omitempty"`
	Track             *TrackEvent `json:"track,omitempty"`
}

// Kind returns "page" or "track".
func (h HistoryEntry) Kind() string {
	if h.Page != nil {
		return "page"
	}
	return "track"
}

func (h HistoryEntry) Clone() HistoryEntry {
	out := h
	if h.Page != nil {
		p := h.Page.Clone()
		out.Page = &p
	}
	if h.Track != nil {
		t := h.Track.Clone()
		out.Track = &t
	}
	return out
}

// OriginalTimestamp reads options["originalTimestamp"], accepting a
// time.Time or an RFC 3339 string. ok is false when absent or unparseable.
func OriginalTimestamp(opts Options) (ts time.Time, ok bool) {
	raw, found := opts[OriginalTimestampKey]
	if !found {
		return time.Time{}, false
	}
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

// cloneMap copies nested maps and slices so the result shares no mutable
// state with the input.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Properties:
		return Properties(cloneMap(t))
	case Options:
		return Options(cloneMap(t))
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i := range t {
			out[i] = cloneMap(t[i])
		}
		return out
	}
	return v
}

// Merge returns a copy of base with over applied on top.
func Merge(base, over Properties) Properties {
	out := make(Properties, len(base)+len(over))
	maps.Copy(out, base)
	maps.Copy(out, over)
	return out
}
