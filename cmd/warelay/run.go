package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"warelay/internal/bus"
	"warelay/internal/domain"
	"warelay/internal/relay"
	"warelay/internal/session"
	"warelay/internal/status"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect the session and relay its events",
		RunE:  runRelay,
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Sinks.Secret == "" {
		logger.Info("no shared secret configured, deliveries are unsigned")
	}

	eventBus := bus.NewEventBus(logger)

	timeout := time.Duration(cfg.Sinks.TimeoutSeconds) * time.Second
	pipeline := relay.New(relay.Config{
		IngestURL: cfg.Sinks.IngestURL,
		QRURL:     cfg.Sinks.QRURL,
		Secret:    cfg.Sinks.Secret,
		Whitelist: cfg.Filter.Groups,

		DownloadTimeout: timeout,
		Dispatcher: relay.NewDispatcher(relay.DispatcherConfig{
			Client: relay.NewHTTPClient(timeout),
			Logger: logger,
		}),
		Logger: logger,
	})

	// In-flight events finish on their own timeouts after a shutdown signal.
	handlerCtx := context.WithoutCancel(ctx)
	eventBus.On(bus.Wildcard, func(ev domain.SessionEvent) {
		pipeline.Handle(handlerCtx, ev)
	})

	if cfg.Status.Enabled {
		statusSrv := status.New(status.Config{Addr: cfg.Status.Addr, Logger: logger})
		eventBus.On(domain.KindQr, statusSrv.Observe)
		eventBus.On(domain.KindReady, statusSrv.Observe)
		go func() {
			if err := statusSrv.Start(ctx); err != nil {
				logger.Error("status server error", "err", err)
			}
		}()
	}

	container, err := session.OpenStore(ctx, cfg.Session.DBPath, logger)
	if err != nil {
		return err
	}
	defer container.Close()

	source := session.NewSource(session.SourceConfig{Container: container, Logger: logger})
	if err := source.Start(ctx, eventBus.Publish); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	logger.Info("relay started. Press Ctrl+C to stop.",
		"ingest", cfg.Sinks.IngestURL,
		"qr", cfg.Sinks.QRURL,
		"groups", len(cfg.Filter.Groups),
	)

	<-ctx.Done()
	logger.Info("shutting down relay...")

	if err := source.Stop(); err != nil {
		logger.Warn("session stop", "err", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		eventBus.Wait()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}
