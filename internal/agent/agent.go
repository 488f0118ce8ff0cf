// Package agent wires configuration, destinations, the dispatcher and the
// HTTP server into the eventfan-agent process.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vincentbai/eventfan/internal/config"
	"github.com/vincentbai/eventfan/internal/destination"
	"github.com/vincentbai/eventfan/internal/destination/drip"
	"github.com/vincentbai/eventfan/internal/destination/warehouse"
	"github.com/vincentbai/eventfan/internal/destination/webhook"
	"github.com/vincentbai/eventfan/internal/fan"
	"github.com/vincentbai/eventfan/internal/server"
	"github.com/vincentbai/eventfan/internal/telemetry"
)

const serviceName = "eventfan-agent"

// BuildDestinations returns the built-in warehouse followed by the declared
// destinations, in file order. The returned closer releases every
// warehouse.
func BuildDestinations(dataDir string, declared []config.Destination, logger *slog.Logger) ([]destination.Destination, io.Closer, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := warehouse.New(warehouse.DefaultName, filepath.Join(dataDir, "events.db"), logger)
	if err != nil {
		return nil, nil, err
	}

	stores := closers{store}
	dests := []destination.Destination{store}
	for _, d := range declared {
		switch d.Type {
		case "warehouse":
			path := d.Path
			if !filepath.IsAbs(path) {
				path = filepath.Join(dataDir, path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				stores.Close()
				return nil, nil, fmt.Errorf("destination %s: %w", d.Name, err)
			}
			extra, err := warehouse.New(d.Name, path, logger)
			if err != nil {
				stores.Close()
				return nil, nil, fmt.Errorf("destination %s: %w", d.Name, err)
			}
			stores = append(stores, extra)
			dests = append(dests, extra)
		case "webhook":
			dests = append(dests, webhook.New(webhook.Config{Name: d.Name, Endpoint: d.Endpoint}, logger))
		case "drip":
			dests = append(dests, drip.New(d.Name, d.Endpoint, nil, logger))
		default:
			stores.Close()
			return nil, nil, fmt.Errorf("unknown destination type %q", d.Type)
		}
	}
	return dests, stores, nil
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for _, closer := range c {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

// Run serves the agent until ctx is done.
func Run(ctx context.Context, cfg config.Config, stderr io.Writer) (err error) {
	level, err := telemetry.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := telemetry.NewLogger(stderr, level)

	shutdown, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		err = errors.Join(err, shutdown(context.Background()))
	}()

	declared, err := config.LoadDestinations(cfg.DestinationsFile)
	if err != nil {
		return err
	}
	dests, closer, err := BuildDestinations(cfg.DataDir, declared, logger)
	if err != nil {
		return err
	}
	defer closer.Close()

	var opts []fan.Option
	opts = append(opts, fan.WithLogger(logger))
	if cfg.DefaultTitle != "" || cfg.DefaultURL != "" {
		opts = append(opts, fan.WithDefaultPageContext(fan.StaticPage{PageTitle: cfg.DefaultTitle, Href: cfg.DefaultURL}))
	}
	dispatcher := fan.New(ctx, dests, opts...)

	names := make([]string, 0, len(dests))
	for _, d := range dispatcher.Destinations() {
		names = append(names, d.Name())
	}
	logger.Info("destinations initialised", slog.Any("destinations", names))

	return server.NewServer(dispatcher, cfg.Address, logger).Start(ctx)
}
