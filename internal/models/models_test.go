package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestTrackEventValid(t *testing.T) {
	tests := []struct {
		name  string
		event TrackEvent
		want  bool
	}{
		{name: "zero event", event: TrackEvent{}, want: false},
		{name: "empty name", event: TrackEvent{Properties: Properties{"a": 1}}, want: false},
		{name: "named event", event: TrackEvent{Name: "Signed Up"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrackEventCloneIsDeep(t *testing.T) {
	original := TrackEvent{
		Name: "Order Completed",
		Properties: Properties{
			"total":    49.99,
			"products": []any{map[string]any{"sku": "a"}},
			"nested":   map[string]any{"k": "v"},
		},
	}

	clone := original.Clone()
	clone.Properties["total"] = 1.0
	clone.Properties["nested"].(map[string]any)["k"] = "changed"
	clone.Properties["products"].([]any)[0].(map[string]any)["sku"] = "b"

	if original.Properties["total"] != 49.99 {
		t.Errorf("top-level property leaked: %v", original.Properties["total"])
	}
	if original.Properties["nested"].(map[string]any)["k"] != "v" {
		t.Error("nested map leaked into original")
	}
	if original.Properties["products"].([]any)[0].(map[string]any)["sku"] != "a" {
		t.Error("slice element leaked into original")
	}
}

func TestOriginalTimestamp(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		opts   Options
		want   time.Time
		wantOK bool
	}{
		{name: "absent", opts: nil, wantOK: false},
		{name: "time value", opts: Options{OriginalTimestampKey: fixed}, want: fixed, wantOK: true},
		{name: "rfc3339 string", opts: Options{OriginalTimestampKey: "2024-03-01T12:00:00Z"}, want: fixed, wantOK: true},
		{name: "garbage string", opts: Options{OriginalTimestampKey: "yesterday"}, wantOK: false},
		{name: "wrong type", opts: Options{OriginalTimestampKey: 42}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := OriginalTimestamp(tt.opts)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("timestamp = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeOverridesBase(t *testing.T) {
	base := Properties{"title": "Home", "url": "https://x.test/a"}
	merged := Merge(base, Properties{"title": "Custom", "extra": true})

	if merged["title"] != "Custom" {
		t.Errorf("title = %v, want Custom", merged["title"])
	}
	if merged["url"] != "https://x.test/a" {
		t.Errorf("url = %v", merged["url"])
	}
	if base["title"] != "Home" {
		t.Error("Merge mutated base")
	}
}

func TestHistoryEntryKind(t *testing.T) {
	page := HistoryEntry{Page: &PageView{Name: "Home"}}
	track := HistoryEntry{Track: &TrackEvent{Name: "Clicked"}}

	if page.Kind() != "page" {
		t.Errorf("page kind = %s", page.Kind())
	}
	if track.Kind() != "track" {
		t.Errorf("track kind = %s", track.Kind())
	}
}

func TestBatchDecoding(t *testing.T) {
	body := `{"calls":[
		{"type":"identify","identify":{"userId":"u1","traits":{"plan":"pro"}}},
		{"type":"page","page":{"title":"Home","url":"https://x.test/a"}},
		{"type":"track","track":{"name":"Signed Up"}}
	]}`

	var batch Batch
	if err := json.Unmarshal([]byte(body), &batch); err != nil {
		t.Fatalf("Failed to decode batch: %v", err)
	}
	if len(batch.Calls) != 3 {
		t.Fatalf("Expected 3 calls, got %d", len(batch.Calls))
	}
	if batch.Calls[0].Identify == nil || batch.Calls[0].Identify.UserID != "u1" {
		t.Errorf("identify payload not decoded: %+v", batch.Calls[0])
	}
	if batch.Calls[1].Page == nil || batch.Calls[1].Page.URL != "https://x.test/a" {
		t.Errorf("page payload not decoded: %+v", batch.Calls[1])
	}
	if batch.Calls[2].Track == nil || batch.Calls[2].Track.Name != "Signed Up" {
		t.Errorf("track payload not decoded: %+v", batch.Calls[2])
	}
}

func TestCallValidate(t *testing.T) {
	tests := []struct {
		name    string
		call    Call
		wantErr error
		anyErr  bool
	}{
		{name: "valid identify", call: Call{Type: "identify", Identify: &IdentifyRequest{UserID: "u1"}}},
		{name: "identify without user", call: Call{Type: "identify", Identify: &IdentifyRequest{}}, wantErr: ErrMissingUserID},
		{name: "identify without payload", call: Call{Type: "identify"}, wantErr: ErrMissingPayload},
		{name: "empty page", call: Call{Type: "page", Page: &PageRequest{}}},
		{name: "page without payload", call: Call{Type: "page"}, wantErr: ErrMissingPayload},
		{name: "valid track", call: Call{Type: "track", Track: &TrackRequest{Name: "Signed Up"}}},
		{name: "track without name", call: Call{Type: "track", Track: &TrackRequest{}}, wantErr: ErrMissingEventName},
		{name: "unknown type", call: Call{Type: "alias"}, anyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call.Validate()
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
				}
			case tt.anyErr:
				if err == nil {
					t.Error("Validate() = nil, want error")
				}
			default:
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
			}
		})
	}
}
