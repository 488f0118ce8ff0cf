// Package warehouse is a destination that keeps every call in a local
// SQLite database.
package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/vincentbai/eventfan/internal/destination"
	"github.com/vincentbai/eventfan/internal/history"
	"github.com/vincentbai/eventfan/internal/mapping"
	"github.com/vincentbai/eventfan/internal/models"
)

var (
	_ destination.Destination = (*Warehouse)(nil)
	_ destination.Identifier  = (*Warehouse)(nil)
	_ destination.Pager       = (*Warehouse)(nil)
)

// DefaultName names the warehouse every agent keeps in its data directory.
const DefaultName = "warehouse"

type Warehouse struct {
	destination.Loader

	name   string
	db     *sql.DB
	logger *slog.Logger
	ready  chan struct{}
}

// New opens the database at databasePath, creating the schema if needed.
// An empty name defaults to DefaultName.
func New(name, databasePath string, logger *slog.Logger) (*Warehouse, error) {
	if name == "" {
		name = DefaultName
	}

	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Warehouse{name: name, db: db, logger: logger, ready: make(chan struct{})}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS identifies(
	  id           INTEGER PRIMARY KEY,
	  ts_utc       INTEGER NOT NULL,
	  user_id      TEXT    NOT NULL,
	  traits_json  TEXT    NOT NULL CHECK (json_valid(traits_json)),
	  options_json TEXT    NOT NULL CHECK (json_valid(options_json))
	);
	CREATE TABLE IF NOT EXISTS pages(
	  id              INTEGER PRIMARY KEY,
	  ts_utc          INTEGER NOT NULL,
	  name            TEXT    NOT NULL,
	  url             TEXT,
	  path            TEXT,
	  properties_json TEXT    NOT NULL CHECK (json_valid(properties_json)),
	  options_json    TEXT    NOT NULL CHECK (json_valid(options_json))
	);
	CREATE TABLE IF NOT EXISTS tracks(
	  id              INTEGER PRIMARY KEY,
	  ts_utc          INTEGER NOT NULL,
	  name            TEXT    NOT NULL,
	  properties_json TEXT    NOT NULL CHECK (json_valid(properties_json)),
	  options_json    TEXT    NOT NULL CHECK (json_valid(options_json))
	);
	CREATE INDEX IF NOT EXISTS idx_identifies_user ON identifies(user_id);
	CREATE INDEX IF NOT EXISTS idx_pages_ts        ON pages(ts_utc);
	CREATE INDEX IF NOT EXISTS idx_tracks_ts       ON tracks(ts_utc);
	CREATE INDEX IF NOT EXISTS idx_tracks_name     ON tracks(name);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (w *Warehouse) Name() string { return w.name }

// Initialise loads the warehouse in the background and replays the calls
// buffered so far. Ready is closed once that replay is done.
func (w *Warehouse) Initialise(ctx context.Context, h history.Reader) {
	go func() {
		defer close(w.ready)
		if err := w.Load(ctx, h, w); err != nil {
			w.logger.Warn("warehouse replay incomplete", slog.String("error", err.Error()))
		}
	}()
}

func (w *Warehouse) Ready() <-chan struct{} { return w.ready }

func (w *Warehouse) EventMappings() mapping.Table { return nil }

func (w *Warehouse) Close() error {
	return w.db.Close()
}

func (w *Warehouse) Identify(ctx context.Context, user models.User) error {
	if user.UserID == "" {
		return fmt.Errorf("user ID cannot be empty")
	}
	traits, err := marshal(user.Traits)
	if err != nil {
		return err
	}
	options, err := marshal(user.Options)
	if err != nil {
		return err
	}
	_, err = w.db.ExecContext(ctx,
		`INSERT INTO identifies(ts_utc, user_id, traits_json, options_json) VALUES(?,?,json(?),json(?))`,
		timestamp(user.Options), user.UserID, traits, options)
	if err != nil {
		return fmt.Errorf("failed to insert identify: %w", err)
	}
	return nil
}

func (w *Warehouse) Page(ctx context.Context, page models.PageView) error {
	properties, err := marshal(page.Properties)
	if err != nil {
		return err
	}
	options, err := marshal(page.Options)
	if err != nil {
		return err
	}
	_, err = w.db.ExecContext(ctx,
		`INSERT INTO pages(ts_utc, name, url, path, properties_json, options_json) VALUES(?,?,?,?,json(?),json(?))`,
		timestamp(page.Options), page.Name, stringProperty(page.Properties, "url"),
		stringProperty(page.Properties, "path"), properties, options)
	if err != nil {
		return fmt.Errorf("failed to insert page: %w", err)
	}
	return nil
}

func (w *Warehouse) Track(ctx context.Context, event models.TrackEvent) error {
	if event.Name == "" {
		return fmt.Errorf("event name cannot be empty")
	}
	properties, err := marshal(event.Properties)
	if err != nil {
		return err
	}
	options, err := marshal(event.Options)
	if err != nil {
		return err
	}
	_, err = w.db.ExecContext(ctx,
		`INSERT INTO tracks(ts_utc, name, properties_json, options_json) VALUES(?,?,json(?),json(?))`,
		timestamp(event.Options), event.Name, properties, options)
	if err != nil {
		return fmt.Errorf("failed to insert track: %w", err)
	}
	return nil
}

// Tracks returns the stored track events, oldest first.
func (w *Warehouse) Tracks(ctx context.Context) ([]models.TrackEvent, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT name, properties_json FROM tracks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	var events []models.TrackEvent
	for rows.Next() {
		var name, propertiesJSON string
		if err := rows.Scan(&name, &propertiesJSON); err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		event := models.TrackEvent{Name: name}
		if err := json.Unmarshal([]byte(propertiesJSON), &event.Properties); err != nil {
			return nil, fmt.Errorf("failed to decode track properties: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Count returns the number of rows in one of the identifies, pages or
// tracks tables.
func (w *Warehouse) Count(ctx context.Context, table string) (int, error) {
	switch table {
	case "identifies", "pages", "tracks":
	default:
		return 0, fmt.Errorf("unknown table: %s", table)
	}
	var count int
	if err := w.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}

func marshal(v map[string]any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event data: %w", err)
	}
	return string(data), nil
}

func timestamp(opts models.Options) int64 {
	if ts, ok := models.OriginalTimestamp(opts); ok {
		return ts.UnixMilli()
	}
	return time.Now().UnixMilli()
}

func stringProperty(p models.Properties, key string) string {
	s, _ := p[key].(string)
	return s
}
