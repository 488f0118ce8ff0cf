// Package main starts the EventFan agent: a local HTTP endpoint that fans
// identify, page and track calls out to the configured analytics
// destinations.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/vincentbai/eventfan/internal/agent"
	"github.com/vincentbai/eventfan/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		config.Exitf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := agent.Run(ctx, cfg, os.Stderr); err != nil {
		stop()
		config.Exitf("agent: %v", err)
	}
}
