package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/21Micheal/netsec/internal/api"
	"github.com/21Micheal/netsec/internal/archive"
	"github.com/21Micheal/netsec/internal/config"
	"github.com/21Micheal/netsec/internal/database"
	"github.com/21Micheal/netsec/internal/diff"
	"github.com/21Micheal/netsec/internal/dispatch"
	"github.com/21Micheal/netsec/internal/eventbus"
	"github.com/21Micheal/netsec/internal/observability"
	"github.com/21Micheal/netsec/internal/orchestrator"
	"github.com/21Micheal/netsec/internal/repository"
	"github.com/21Micheal/netsec/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.ServiceName, cfg.LogLevel)
	metrics := observability.NewPromMetrics("netsec", prometheus.DefaultRegisterer)

	logger.Info("starting service",
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
		"version", cfg.Version,
	)
	metrics.IncrementCounter("application_starts", nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := initializeDependencies(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		log.Fatalf("initialization failed: %v", err)
	}
	defer deps.close(logger)

	app := buildApplication(cfg, deps, logger, metrics)

	if cfg.Scheduler.TickInterval > 0 {
		go app.scheduler.Loop(ctx, cfg.Scheduler.TickInterval, cfg.Scheduler.TickLimit)
	}

	runServer(ctx, cfg, app, logger)
}

// dependencies holds the infrastructure components.
type dependencies struct {
	db         database.Database
	dispatcher *dispatch.AMQPDispatcher
	archiver   *archive.Archiver
	bus        *eventbus.Bus
}

func (d *dependencies) close(logger observability.Logger) {
	if err := d.dispatcher.Close(); err != nil {
		logger.Warn("dispatcher close failed", "error", err)
	}
	if err := d.db.Close(); err != nil {
		logger.Warn("database close failed", "error", err)
	}
}

// application holds the assembled engine.
type application struct {
	server    *api.Server
	scheduler *scheduler.Scheduler
}

func initializeDependencies(ctx context.Context, cfg *config.Config, logger observability.Logger, metrics observability.Metrics) (*dependencies, error) {
	db, err := database.NewPostgres(&cfg.Database, logger, metrics)
	if err != nil {
		return nil, err
	}
	if err := repository.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	dispatcher, err := dispatch.NewAMQPDispatcher(&cfg.Queue, logger, metrics)
	if err != nil {
		db.Close()
		return nil, err
	}

	archiver, err := archive.NewFromConfig(&cfg.Archive, logger, metrics)
	if err != nil {
		dispatcher.Close()
		db.Close()
		return nil, err
	}
	if archiver == nil {
		logger.Info("report archival disabled")
	}

	return &dependencies{
		db:         db,
		dispatcher: dispatcher,
		archiver:   archiver,
		bus:        eventbus.New(cfg.EventBus.SendBuffer, logger, metrics),
	}, nil
}

func buildApplication(cfg *config.Config, deps *dependencies, logger observability.Logger, metrics observability.Metrics) *application {
	jobs := repository.NewScanJobs(deps.db, logger, metrics)
	assets := repository.NewAssets(deps.db, logger, metrics)
	vulns := repository.NewVulnerabilities(deps.db, logger, metrics)
	playbooks := repository.NewPlaybooks(deps.db, logger, metrics)
	reports := repository.NewDiffReports(deps.db, logger, metrics)

	// The orchestrator's Archiver parameter is an interface; pass nil
	// explicitly when archival is off so the hook is skipped.
	var archiver orchestrator.Archiver
	if deps.archiver != nil {
		archiver = deps.archiver
	}

	orch := orchestrator.New(jobs, assets, vulns, deps.bus, deps.dispatcher, archiver, logger, metrics)
	sched := scheduler.New(playbooks, orch, logger, metrics)
	differ := diff.New(jobs, reports, logger, metrics)

	server := api.NewServer(orch, sched, differ, deps.bus,
		jobs, assets, vulns, playbooks, reports,
		deps.db, logger, metrics)

	return &application{server: server, scheduler: sched}
}

func runServer(ctx context.Context, cfg *config.Config, app *application, logger observability.Logger) {
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      app.server.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			log.Fatalf("http server failed: %v", err)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}
