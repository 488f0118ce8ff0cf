// Package webhook is a destination that posts calls as JSON to an HTTP
// collector.
//
// The destination counts as loaded once the collector answers a probe, so
// calls made while the collector is unreachable are buffered by the
// dispatcher and replayed when it comes up.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/vincentbai/eventfan/internal/destination"
	"github.com/vincentbai/eventfan/internal/history"
	"github.com/vincentbai/eventfan/internal/mapping"
	"github.com/vincentbai/eventfan/internal/models"
)

var (
	_ destination.Destination = (*Webhook)(nil)
	_ destination.Identifier  = (*Webhook)(nil)
	_ destination.Pager       = (*Webhook)(nil)
)

const (
	defaultProbeInterval    = time.Second
	defaultMaxProbeInterval = 30 * time.Second
)

type Config struct {
	Name     string
	Endpoint string
	Client   *http.Client
	// ProbeInterval is the wait before the second load probe. Later waits
	// grow exponentially up to MaxProbeInterval. Defaults to 1s and 30s.
	ProbeInterval    time.Duration
	MaxProbeInterval time.Duration
	Mappings         mapping.Table
}

// Payload is the JSON body posted for every call.
type Payload struct {
	Type       string            `json:"type"`
	MessageID  string            `json:"messageId,omitempty"`
	Replay     bool              `json:"replay,omitempty"`
	UserID     string            `json:"userId,omitempty"`
	Name       string            `json:"name,omitempty"`
	Traits     models.Properties `json:"traits,omitempty"`
	Properties models.Properties `json:"properties,omitempty"`
	Options    models.Options    `json:"options,omitempty"`
	SentAt     time.Time         `json:"sentAt"`
}

type Webhook struct {
	destination.Loader

	cfg    Config
	client *http.Client
	logger *slog.Logger
	ready  chan struct{}
}

func New(cfg Config, logger *slog.Logger) *Webhook {
	if cfg.Name == "" {
		cfg.Name = "webhook"
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	if cfg.MaxProbeInterval < cfg.ProbeInterval {
		cfg.MaxProbeInterval = max(defaultMaxProbeInterval, cfg.ProbeInterval)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{cfg: cfg, client: client, logger: logger, ready: make(chan struct{})}
}

func (w *Webhook) Name() string { return w.cfg.Name }

func (w *Webhook) EventMappings() mapping.Table { return w.cfg.Mappings }

// Initialise probes the collector in the background until it answers or
// ctx ends, then marks the destination loaded and replays history.
func (w *Webhook) Initialise(ctx context.Context, h history.Reader) {
	go func() {
		defer close(w.ready)
		if err := w.waitForCollector(ctx); err != nil {
			w.logger.Warn("webhook never loaded",
				slog.String("destination", w.cfg.Name),
				slog.String("error", err.Error()),
			)
			return
		}
		if err := w.Load(ctx, h, w); err != nil {
			w.logger.Warn("webhook replay incomplete",
				slog.String("destination", w.cfg.Name),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Ready is closed when loading has finished or been abandoned.
func (w *Webhook) Ready() <-chan struct{} { return w.ready }

// waitForCollector probes with exponential backoff until the collector
// answers or ctx ends.
func (w *Webhook) waitForCollector(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.cfg.ProbeInterval
	policy.MaxInterval = w.cfg.MaxProbeInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, w.probe(ctx)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			w.logger.Debug("webhook probe failed",
				slog.String("destination", w.cfg.Name),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", next),
			)
		}),
	)
	return err
}

// probe succeeds on any response below 500.
func (w *Webhook) probe(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe: %w", err)
	}
	response, err := w.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)
	if response.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("collector unavailable: %s", response.Status)
	}
	return nil
}

func (w *Webhook) Identify(ctx context.Context, user models.User) error {
	return w.send(ctx, Payload{
		Type:    "identify",
		UserID:  user.UserID,
		Traits:  user.Traits,
		Options: user.Options,
	})
}

func (w *Webhook) Page(ctx context.Context, page models.PageView) error {
	return w.send(ctx, Payload{
		Type:       "page",
		Name:       page.Name,
		Properties: page.Properties,
		Options:    page.Options,
	})
}

func (w *Webhook) Track(ctx context.Context, event models.TrackEvent) error {
	return w.send(ctx, Payload{
		Type:       "track",
		Name:       event.Name,
		Properties: event.Properties,
		Options:    event.Options,
	})
}

// send posts payload, tagged with the message ID of the history entry
// behind the call when there is one.
func (w *Webhook) send(ctx context.Context, payload Payload) error {
	if info, ok := destination.CallInfoFrom(ctx); ok {
		payload.MessageID = info.MessageID
		payload.Replay = info.Replay
	}
	payload.SentAt = time.Now().UTC()
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", payload.Type, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := w.client.Do(request)
	if err != nil {
		return fmt.Errorf("failed to post %s: %w", payload.Type, err)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("collector rejected %s: %s", payload.Type, response.Status)
	}
	return nil
}
