// Package scheduler evaluates playbooks and launches the scans that
// are due. It owns the last_run bookkeeping; scan lifecycle stays with
// the orchestrator.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"

	"github.com/21Micheal/netsec/internal/domain"
	"github.com/21Micheal/netsec/internal/observability"
	"github.com/21Micheal/netsec/internal/orchestrator"
	"github.com/21Micheal/netsec/internal/repository"
)

// DefaultRunLimit bounds how many playbooks a single evaluation pass
// may launch when the caller does not say.
const DefaultRunLimit = 20

// JobCreator launches a scan job. Satisfied by the orchestrator.
type JobCreator interface {
	Create(ctx context.Context, req orchestrator.CreateRequest) (*domain.ScanJob, error)
}

// PlaybookRequest carries the caller-supplied fields for a new playbook.
type PlaybookRequest struct {
	Name            string
	Target          string
	Profile         string
	ScanType        domain.ScanType
	IntervalMinutes int
	Enabled         bool
	Tags            []string
}

// Scheduler launches playbook runs, most overdue first.
type Scheduler struct {
	playbooks repository.Playbooks
	jobs      JobCreator
	logger    observability.Logger
	metrics   observability.Metrics
	now       func() time.Time
}

// New builds a scheduler.
func New(playbooks repository.Playbooks, jobs JobCreator, logger observability.Logger, metrics observability.Metrics) *Scheduler {
	return &Scheduler{
		playbooks: playbooks,
		jobs:      jobs,
		logger:    logger,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreatePlaybook validates and persists a playbook. Intervals outside
// the allowed range are clamped, not rejected.
func (s *Scheduler) CreatePlaybook(ctx context.Context, req PlaybookRequest) (*domain.Playbook, error) {
	name := strings.TrimSpace(req.Name)
	target := strings.TrimSpace(req.Target)
	if name == "" {
		return nil, fmt.Errorf("%w: playbook name is required", domain.ErrInvalidRequest)
	}
	if target == "" {
		return nil, fmt.Errorf("%w: playbook target is required", domain.ErrInvalidRequest)
	}
	if !req.ScanType.Valid() {
		return nil, fmt.Errorf("%w: unknown scan type %q", domain.ErrInvalidRequest, req.ScanType)
	}

	interval := req.IntervalMinutes
	if interval < domain.PlaybookMinIntervalMinutes {
		interval = domain.PlaybookMinIntervalMinutes
	}
	if interval > domain.PlaybookMaxIntervalMinutes {
		interval = domain.PlaybookMaxIntervalMinutes
	}

	profile := strings.ToLower(strings.TrimSpace(req.Profile))
	if profile == "" {
		profile = "default"
	}

	playbook := &domain.Playbook{
		ID:              uuid.New(),
		Name:            name,
		Target:          target,
		Profile:         profile,
		ScanType:        req.ScanType,
		IntervalMinutes: interval,
		Enabled:         req.Enabled,
		CreatedAt:       s.now(),
	}
	if len(req.Tags) > 0 {
		raw, err := json.Marshal(req.Tags)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding tags: %v", domain.ErrInvalidRequest, err)
		}
		playbook.Tags = types.JSONText(raw)
	}

	if err := s.playbooks.Create(ctx, playbook); err != nil {
		return nil, fmt.Errorf("persisting playbook: %w", err)
	}
	s.metrics.IncrementCounter("playbooks_created", nil)
	s.logger.Info("playbook created", "playbook_id", playbook.ID, "name", playbook.Name, "interval_minutes", interval)
	return playbook, nil
}

// SetEnabled flips a playbook's enabled flag.
func (s *Scheduler) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*domain.Playbook, error) {
	playbook, err := s.playbooks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	playbook.Enabled = enabled
	if err := s.playbooks.Update(ctx, playbook); err != nil {
		return nil, fmt.Errorf("persisting playbook: %w", err)
	}
	return playbook, nil
}

// RunPlaybook launches one playbook immediately, regardless of its
// schedule or enabled flag. last_run moves only when the launch
// succeeds.
func (s *Scheduler) RunPlaybook(ctx context.Context, id uuid.UUID) (*domain.ScanJob, error) {
	playbook, err := s.playbooks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.launch(ctx, playbook)
}

// RunDue evaluates all enabled playbooks and launches the due ones,
// most overdue first, up to limit. It returns the jobs it launched. A
// failed launch is logged and skipped; the playbook stays due for the
// next pass.
func (s *Scheduler) RunDue(ctx context.Context, limit int) ([]*domain.ScanJob, error) {
	if limit <= 0 {
		limit = DefaultRunLimit
	}

	enabled, err := s.playbooks.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing playbooks: %w", err)
	}

	now := s.now()
	var due []*domain.Playbook
	for _, p := range enabled {
		if p.Due(now) {
			due = append(due, p)
		}
	}

	// Never-run playbooks go first, oldest definition first; the rest
	// by how far past their schedule they are.
	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if (a.LastRunAt == nil) != (b.LastRunAt == nil) {
			return a.LastRunAt == nil
		}
		if a.LastRunAt == nil {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Overdue(now) > b.Overdue(now)
	})

	if len(due) > limit {
		due = due[:limit]
	}

	var launched []*domain.ScanJob
	for _, p := range due {
		job, err := s.launch(ctx, p)
		if err != nil {
			s.logger.Error("playbook launch failed", "playbook_id", p.ID, "name", p.Name, "error", err)
			s.metrics.IncrementCounter("playbook_launch_failures", nil)
			continue
		}
		launched = append(launched, job)
	}

	s.metrics.RecordGauge("playbooks_due", float64(len(due)), nil)
	if len(launched) > 0 {
		s.logger.Info("playbook pass complete", "due", len(due), "launched", len(launched))
	}
	return launched, nil
}

// launch creates the scan job and, on success, stamps the playbook.
// The job config records which playbook launched it.
func (s *Scheduler) launch(ctx context.Context, playbook *domain.Playbook) (*domain.ScanJob, error) {
	provenance, err := json.Marshal(map[string]string{
		"playbook_id":   playbook.ID.String(),
		"playbook_name": playbook.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding playbook provenance: %w", err)
	}

	job, err := s.jobs.Create(ctx, orchestrator.CreateRequest{
		Target:   playbook.Target,
		Profile:  playbook.Profile,
		ScanType: playbook.ScanType,
		Config:   provenance,
	})
	if err != nil {
		return nil, fmt.Errorf("launching scan: %w", err)
	}

	now := s.now()
	playbook.LastRunAt = &now
	playbook.LastJobID = &job.ID
	if err := s.playbooks.Update(ctx, playbook); err != nil {
		// The scan is already queued; a lost stamp means the playbook
		// may fire again next pass. At-least-once is acceptable here.
		s.logger.Error("failed to stamp playbook run", "playbook_id", playbook.ID, "error", err)
	}

	s.metrics.IncrementCounter("playbook_runs", map[string]string{"playbook": playbook.Name})
	s.logger.Info("playbook launched", "playbook_id", playbook.ID, "name", playbook.Name, "job_id", job.ID)
	return job, nil
}

// Loop runs RunDue on a fixed tick until the context ends. Callers
// that drive scheduling externally skip this and call RunDue directly.
func (s *Scheduler) Loop(ctx context.Context, tick time.Duration, limit int) {
	if tick <= 0 {
		return
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	s.logger.Info("scheduler loop started", "tick", tick.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler loop stopped")
			return
		case <-ticker.C:
			if _, err := s.RunDue(ctx, limit); err != nil {
				s.logger.Error("scheduled pass failed", "error", err)
			}
		}
	}
}
