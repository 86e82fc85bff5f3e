// Package api exposes the orchestration engine over HTTP and
// WebSocket.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/21Micheal/netsec/internal/database"
	"github.com/21Micheal/netsec/internal/diff"
	"github.com/21Micheal/netsec/internal/eventbus"
	"github.com/21Micheal/netsec/internal/observability"
	"github.com/21Micheal/netsec/internal/orchestrator"
	"github.com/21Micheal/netsec/internal/repository"
	"github.com/21Micheal/netsec/internal/scheduler"
)

// Server wires the HTTP surface to the engine's components.
type Server struct {
	orch      *orchestrator.Orchestrator
	scheduler *scheduler.Scheduler
	differ    *diff.Engine
	bus       *eventbus.Bus

	jobs      repository.ScanJobs
	assets    repository.Assets
	vulns     repository.Vulnerabilities
	playbooks repository.Playbooks
	reports   repository.DiffReports

	db      database.Database
	logger  observability.Logger
	metrics observability.Metrics
}

// NewServer builds the API server.
func NewServer(
	orch *orchestrator.Orchestrator,
	sched *scheduler.Scheduler,
	differ *diff.Engine,
	bus *eventbus.Bus,
	jobs repository.ScanJobs,
	assets repository.Assets,
	vulns repository.Vulnerabilities,
	playbooks repository.Playbooks,
	reports repository.DiffReports,
	db database.Database,
	logger observability.Logger,
	metrics observability.Metrics,
) *Server {
	return &Server{
		orch:      orch,
		scheduler: sched,
		differ:    differ,
		bus:       bus,
		jobs:      jobs,
		assets:    assets,
		vulns:     vulns,
		playbooks: playbooks,
		reports:   reports,
		db:        db,
		logger:    logger,
		metrics:   metrics,
	}
}

// Router assembles all routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Route("/scans", func(r chi.Router) {
			r.Post("/", s.handleCreateScan)
			r.Get("/", s.handleListScans)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetScan)
				r.Get("/logs", s.handleScanLogs)
				r.Get("/insights", s.handleScanInsights)
				r.Post("/progress", s.handleScanProgress)
				r.Post("/complete", s.handleScanComplete)
				r.Post("/retry", s.handleRetryScan)
				r.Post("/cancel", s.handleCancelScan)
			})
		})

		r.Route("/playbooks", func(r chi.Router) {
			r.Post("/", s.handleCreatePlaybook)
			r.Get("/", s.handleListPlaybooks)
			r.Post("/run-due", s.handleRunDue)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/run", s.handleRunPlaybook)
				r.Patch("/", s.handleUpdatePlaybook)
			})
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/diff", s.handleDiff)
			r.Get("/", s.handleListReports)
		})

		r.Route("/assets", func(r chi.Router) {
			r.Get("/", s.handleListAssets)
			r.Get("/{id}", s.handleGetAsset)
			r.Get("/{id}/vulnerabilities", s.handleAssetVulnerabilities)
		})

		r.Patch("/vulnerabilities/{id}/status", s.handleVulnerabilityStatus)
	})

	return r
}

// requestLogger records one structured line and a latency sample per
// request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", elapsed.Milliseconds(),
		)
		s.metrics.RecordHistogram("http_request_duration_seconds", elapsed.Seconds(),
			map[string]string{"method": r.Method})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]string{"status": "degraded", "database": err.Error()})
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"status":      "ok",
		"connections": s.bus.Connections(),
	})
}
