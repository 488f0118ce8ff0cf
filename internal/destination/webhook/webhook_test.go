package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vincentbai/eventfan/internal/destination"
	"github.com/vincentbai/eventfan/internal/history"
	"github.com/vincentbai/eventfan/internal/mapping"
	"github.com/vincentbai/eventfan/internal/models"
)

type collector struct {
	mu       sync.Mutex
	payloads []Payload
	up       atomic.Bool
	status   int
}

func newCollector(t *testing.T, up bool) (*collector, *httptest.Server) {
	t.Helper()
	c := &collector{status: http.StatusNoContent}
	c.up.Store(up)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.up.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.payloads = append(c.payloads, p)
		status := c.status
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return c, server
}

func (c *collector) received() []Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Payload(nil), c.payloads...)
}

func waitReady(t *testing.T, w *Webhook) {
	t.Helper()
	select {
	case <-w.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("webhook did not finish loading")
	}
}

func TestSendsEachCallType(t *testing.T) {
	c, server := newCollector(t, true)
	w := New(Config{Endpoint: server.URL}, nil)
	ctx := context.Background()

	if err := w.Identify(ctx, models.User{UserID: "u1", Traits: models.Properties{"plan": "pro"}}); err != nil {
		t.Fatalf("Identify() error: %v", err)
	}
	if err := w.Page(ctx, models.PageView{Name: "Home", Properties: models.Properties{"path": "/"}}); err != nil {
		t.Fatalf("Page() error: %v", err)
	}
	if err := w.Track(ctx, models.TrackEvent{Name: "Signed Up"}); err != nil {
		t.Fatalf("Track() error: %v", err)
	}

	got := c.received()
	if len(got) != 3 {
		t.Fatalf("Expected 3 payloads, got %d", len(got))
	}
	if got[0].Type != "identify" || got[0].UserID != "u1" || got[0].Traits["plan"] != "pro" {
		t.Errorf("identify payload = %+v", got[0])
	}
	if got[1].Type != "page" || got[1].Name != "Home" {
		t.Errorf("page payload = %+v", got[1])
	}
	if got[2].Type != "track" || got[2].Name != "Signed Up" || got[2].SentAt.IsZero() {
		t.Errorf("track payload = %+v", got[2])
	}
	for _, p := range got {
		if p.MessageID != "" || p.Replay {
			t.Errorf("Expected no message ID without call info, got %+v", p)
		}
	}
}

func TestSendCarriesCallInfo(t *testing.T) {
	c, server := newCollector(t, true)
	w := New(Config{Endpoint: server.URL}, nil)
	ctx := destination.WithCallInfo(context.Background(), destination.CallInfo{MessageID: "m-1"})

	if err := w.Track(ctx, models.TrackEvent{Name: "Signed Up"}); err != nil {
		t.Fatalf("Track() error: %v", err)
	}

	got := c.received()
	if len(got) != 1 || got[0].MessageID != "m-1" || got[0].Replay {
		t.Errorf("payloads = %+v", got)
	}
}

func TestRejectedCallReturnsError(t *testing.T) {
	c, server := newCollector(t, true)
	c.mu.Lock()
	c.status = http.StatusBadRequest
	c.mu.Unlock()
	w := New(Config{Endpoint: server.URL}, nil)

	if err := w.Track(context.Background(), models.TrackEvent{Name: "Signed Up"}); err == nil {
		t.Fatal("Expected error for 400 response")
	}
}

func TestLoadsWhenCollectorComesUp(t *testing.T) {
	c, server := newCollector(t, false)

	buf := history.New()
	entry := buf.AppendTrack(models.TrackEvent{Name: "Order Completed", Properties: models.Properties{"total": 2.0}}, time.Now(), nil)

	w := New(Config{
		Name:          "collector",
		Endpoint:      server.URL,
		ProbeInterval: 10 * time.Millisecond,
		Mappings: mapping.Table{
			"Order Completed": func(e models.TrackEvent, _ *models.User) (*models.TrackEvent, error) {
				return &models.TrackEvent{Name: "purchase", Properties: e.Properties}, nil
			},
		},
	}, nil)
	w.Initialise(context.Background(), buf)

	time.Sleep(30 * time.Millisecond)
	if w.IsLoaded() {
		t.Fatal("Expected webhook to stay unloaded while collector is down")
	}

	c.up.Store(true)
	waitReady(t, w)

	if !w.IsLoaded() {
		t.Fatal("Expected webhook to be loaded")
	}
	got := c.received()
	if len(got) != 1 || got[0].Name != "purchase" {
		t.Fatalf("replayed payloads = %+v", got)
	}
	if got[0].MessageID != entry.MessageID || !got[0].Replay {
		t.Errorf("replayed payload messageId = %q replay = %v, want %q true", got[0].MessageID, got[0].Replay, entry.MessageID)
	}
}

func TestInitialiseGivesUpWithContext(t *testing.T) {
	_, server := newCollector(t, false)
	w := New(Config{Endpoint: server.URL, ProbeInterval: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	w.Initialise(ctx, history.New())
	cancel()
	waitReady(t, w)

	if w.IsLoaded() {
		t.Error("Expected webhook to stay unloaded")
	}
}

func TestDefaults(t *testing.T) {
	w := New(Config{Endpoint: "http://127.0.0.1:1"}, nil)

	if w.Name() != "webhook" {
		t.Errorf("Name() = %s, want webhook", w.Name())
	}
	if w.cfg.ProbeInterval != defaultProbeInterval {
		t.Errorf("ProbeInterval = %v", w.cfg.ProbeInterval)
	}
	if w.cfg.MaxProbeInterval != defaultMaxProbeInterval {
		t.Errorf("MaxProbeInterval = %v", w.cfg.MaxProbeInterval)
	}
	if w.EventMappings() != nil {
		t.Error("Expected no mappings")
	}
}

func TestMaxProbeIntervalNeverBelowInitial(t *testing.T) {
	w := New(Config{Endpoint: "http://127.0.0.1:1", ProbeInterval: time.Minute}, nil)

	if w.cfg.MaxProbeInterval != time.Minute {
		t.Errorf("MaxProbeInterval = %v, want 1m", w.cfg.MaxProbeInterval)
	}
}

func TestProbeBacksOff(t *testing.T) {
	var mu sync.Mutex
	var probes []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		probes = append(probes, time.Now())
		n := len(probes)
		mu.Unlock()
		if n < 4 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	w := New(Config{Endpoint: server.URL, ProbeInterval: 20 * time.Millisecond}, nil)
	w.Initialise(context.Background(), history.New())
	waitReady(t, w)

	if !w.IsLoaded() {
		t.Fatal("Expected webhook to load after the collector recovered")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(probes) != 4 {
		t.Fatalf("Expected 4 probes, got %d", len(probes))
	}
	// Waits of 20ms, 30ms and 45ms, each randomised by 50%, sum to at least 47ms.
	if elapsed := probes[3].Sub(probes[0]); elapsed < 40*time.Millisecond {
		t.Errorf("Expected growing waits between probes, total %v", elapsed)
	}
}
