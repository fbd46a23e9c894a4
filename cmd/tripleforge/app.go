package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/tripleforge/config"
	"github.com/c360studio/tripleforge/notify"
	"github.com/c360studio/tripleforge/pipeline"
)

// App wires configuration, logging and the optional NATS connection into a
// run context.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	publisher *notify.NATSPublisher
	rc        *pipeline.RunContext
}

// loadApp loads the layered configuration, lets apply override it from
// flags, and builds the run context.
func loadApp(g *globalFlags, logger *slog.Logger, apply func(*config.Config)) (*App, error) {
	cfg, err := config.NewLoader(logger).Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if apply != nil {
		apply(cfg)
	}
	rc, err := pipeline.NewRunContext(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, logger: logger, rc: rc}, nil
}

// Start connects to NATS when notifications are configured. A connection
// failure disables notifications for this run.
func (a *App) Start(ctx context.Context) error {
	if a.cfg.Notify.URL == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	pub, err := notify.Connect(a.cfg.Notify.URL, appName, a.cfg.Notify.Timeout)
	if err != nil {
		a.logger.Warn("Notifications disabled", "url", a.cfg.Notify.URL, "error", err)
		return nil
	}
	a.publisher = pub
	a.rc.Notifier = notify.NewNotifier(pub, a.cfg.Notify.Subject, a.logger)
	a.logger.Debug("Connected to NATS", "url", a.cfg.Notify.URL)
	return nil
}

// Close drains the NATS connection, if any.
func (a *App) Close() {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn("Failed to close NATS connection", "error", err)
	}
}
