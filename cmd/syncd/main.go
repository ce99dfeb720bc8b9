package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/coastal-report-sync/internal/adapter/hazardapi"
	"github.com/couchcryptid/coastal-report-sync/internal/adapter/httpapi"
	kafkaadapter "github.com/couchcryptid/coastal-report-sync/internal/adapter/kafka"
	"github.com/couchcryptid/coastal-report-sync/internal/config"
	"github.com/couchcryptid/coastal-report-sync/internal/events"
	"github.com/couchcryptid/coastal-report-sync/internal/netcheck"
	"github.com/couchcryptid/coastal-report-sync/internal/observability"
	"github.com/couchcryptid/coastal-report-sync/internal/store"
	"github.com/couchcryptid/coastal-report-sync/internal/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	st, err := store.Open(cfg, clock, logger, metrics)
	if err != nil {
		logger.Error("failed to open pending report store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}

	checker := netcheck.New(cfg, clock, logger, metrics)

	// Sink selection: HTTPS multipart to the hazard API, or direct publish
	// to the raw-reports topic for stations on the ingest LAN.
	var (
		submitter syncer.Submitter
		closeSink func() error
	)
	switch cfg.Sink {
	case config.SinkKafka:
		writer := kafkaadapter.NewWriter(cfg, logger)
		submitter = writer
		closeSink = writer.Close
		logger.Info("kafka sink selected", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	default:
		submitter = hazardapi.NewClient(cfg, logger)
		closeSink = func() error { return nil }
		logger.Info("hazard API sink selected", "url", cfg.HazardAPIURL)
	}

	bus := events.NewBus(logger)
	engine := syncer.NewEngine(st, submitter, checker, bus, logger, metrics, syncer.EngineOptions{
		MaxRetries:     cfg.MaxRetries,
		AttemptTimeout: cfg.SubmitTimeout,
	})
	coordinator := syncer.NewCoordinator(engine, syncer.CoordinatorConfig{
		Interval:     cfg.SyncInterval,
		StartupDelay: cfg.StartupDelay,
		SettleDelay:  cfg.SettleDelay,
		Transitions:  checker.Transitions(),
		Clock:        clock,
	}, logger, metrics)

	srv := httpapi.NewServer(cfg, st, coordinator, checker, bus, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checker.Start(ctx)
	coordinator.Start(ctx)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Stop producing triggers first so no new pass starts, then end the
	// event streams so the HTTP drain below is not held open by them.
	coordinator.Stop()
	checker.Stop()
	bus.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := closeSink(); err != nil {
		logger.Error("sink close error", "error", err)
	}
	if err := st.Close(); err != nil {
		logger.Error("store close error", "error", err)
	}

	logger.Info("shutdown complete")
}
