// Package diff compares the findings of two finished scan jobs and
// persists the result as an immutable report.
package diff

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"

	"github.com/21Micheal/netsec/internal/domain"
	"github.com/21Micheal/netsec/internal/observability"
	"github.com/21Micheal/netsec/internal/repository"
)

// Engine computes finding deltas between scan runs.
type Engine struct {
	jobs    repository.ScanJobs
	reports repository.DiffReports
	logger  observability.Logger
	metrics observability.Metrics
	now     func() time.Time
}

// New builds a diff engine.
func New(jobs repository.ScanJobs, reports repository.DiffReports, logger observability.Logger, metrics observability.Metrics) *Engine {
	return &Engine{
		jobs:    jobs,
		reports: reports,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Compare diffs the findings of two jobs, persists a fresh report and
// returns the delta. Both jobs must be finished and scan the same
// target; otherwise the pair is not comparable. Each call recomputes
// from the stored results, never from a cached report.
func (e *Engine) Compare(ctx context.Context, oldJobID, newJobID uuid.UUID) (*domain.FindingsDelta, error) {
	oldJob, err := e.jobs.Get(ctx, oldJobID)
	if err != nil {
		return nil, err
	}
	newJob, err := e.jobs.Get(ctx, newJobID)
	if err != nil {
		return nil, err
	}

	if oldJob.Status != domain.JobStatusFinished || newJob.Status != domain.JobStatusFinished {
		return nil, fmt.Errorf("%w: both jobs must be finished", domain.ErrNotComparable)
	}
	if oldJob.Target != newJob.Target {
		return nil, fmt.Errorf("%w: jobs scanned different targets (%q vs %q)",
			domain.ErrNotComparable, oldJob.Target, newJob.Target)
	}

	oldFindings, err := decodeFindings(oldJob)
	if err != nil {
		return nil, err
	}
	newFindings, err := decodeFindings(newJob)
	if err != nil {
		return nil, err
	}

	delta := compute(oldFindings, newFindings)
	delta.OldJobID = oldJob.ID
	delta.NewJobID = newJob.ID
	delta.GeneratedAt = e.now()
	delta.RiskLevel = domain.RiskLevelChange{
		Old: riskLevel(oldJob.Insights),
		New: riskLevel(newJob.Insights),
	}

	raw, err := json.Marshal(delta)
	if err != nil {
		return nil, fmt.Errorf("encoding report: %w", err)
	}
	report := &domain.DiffReport{
		ID:        uuid.New(),
		OldJobID:  oldJob.ID,
		NewJobID:  newJob.ID,
		Report:    types.JSONText(raw),
		CreatedAt: delta.GeneratedAt,
	}
	if err := e.reports.Create(ctx, report); err != nil {
		return nil, fmt.Errorf("persisting report: %w", err)
	}

	e.metrics.IncrementCounter("diff_reports_generated", nil)
	e.logger.Info("diff report generated",
		"old_job_id", oldJob.ID,
		"new_job_id", newJob.ID,
		"added", len(delta.Added),
		"removed", len(delta.Removed),
		"changed", len(delta.Changed),
	)
	return delta, nil
}

// compute matches findings by their stable key and buckets them.
func compute(oldFindings, newFindings []domain.Finding) *domain.FindingsDelta {
	oldByKey := make(map[string]domain.Finding, len(oldFindings))
	for _, f := range oldFindings {
		oldByKey[f.Key()] = f
	}

	delta := &domain.FindingsDelta{
		Added:   []domain.Finding{},
		Removed: []domain.Finding{},
		Changed: []domain.SeverityChange{},
	}

	seen := make(map[string]struct{}, len(newFindings))
	for _, f := range newFindings {
		key := f.Key()
		seen[key] = struct{}{}
		prev, ok := oldByKey[key]
		if !ok {
			delta.Added = append(delta.Added, f)
			continue
		}
		if !equalSeverity(prev.Severity, f.Severity) {
			delta.Changed = append(delta.Changed, domain.SeverityChange{
				Key:         key,
				Title:       f.Title,
				OldSeverity: normalizeSeverity(prev.Severity),
				NewSeverity: normalizeSeverity(f.Severity),
			})
			continue
		}
		delta.Unchanged++
	}
	for _, f := range oldFindings {
		if _, ok := seen[f.Key()]; !ok {
			delta.Removed = append(delta.Removed, f)
		}
	}
	return delta
}

// decodeFindings reads the verbatim findings payload stored on the job.
// A job with no recorded findings diffs as an empty set.
func decodeFindings(job *domain.ScanJob) ([]domain.Finding, error) {
	if len(job.VulnerabilityResults) == 0 {
		return nil, nil
	}
	var findings []domain.Finding
	if err := json.Unmarshal(job.VulnerabilityResults, &findings); err != nil {
		return nil, fmt.Errorf("%w: job %s has malformed results", domain.ErrNotComparable, job.ID)
	}
	return findings, nil
}

// riskLevel extracts summary.risk_level from a job's insights blob, or
// empty when absent.
func riskLevel(insights types.JSONText) string {
	if len(insights) == 0 {
		return ""
	}
	var doc struct {
		Summary struct {
			RiskLevel string `json:"risk_level"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(insights, &doc); err != nil {
		return ""
	}
	return doc.Summary.RiskLevel
}

func normalizeSeverity(s string) string {
	if s == "" {
		return domain.SeverityLow
	}
	return strings.ToUpper(s)
}

func equalSeverity(a, b string) bool {
	return normalizeSeverity(a) == normalizeSeverity(b)
}
