package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run is the single entrypoint used by cmd/plume.
// It loads config, builds the app, and blocks until SIGINT/SIGTERM.
func Run() error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel)

	a, err := New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.Run(ctx)
}
