package repository

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/21Micheal/netsec/internal/database"
	"github.com/21Micheal/netsec/internal/domain"
	"github.com/21Micheal/netsec/internal/observability"
)

type scanJobRepository struct {
	baseRepository
}

// NewScanJobs creates the PostgreSQL-backed scan job store.
func NewScanJobs(db database.Database, logger observability.Logger, metrics observability.Metrics) ScanJobs {
	return &scanJobRepository{newBaseRepository(db, logger, metrics, "scan_jobs")}
}

func (r *scanJobRepository) Create(ctx context.Context, job *domain.ScanJob) error {
	r.count("create")

	query := r.qb.Insert(r.table).
		Columns("id", "target", "scan_type", "profile", "status", "progress",
			"created_at", "updated_at", "log", "config", "parent_scan_id").
		Values(job.ID, job.Target, job.ScanType, job.Profile, job.Status, job.Progress,
			job.CreatedAt, job.UpdatedAt, job.Log, jsonOrNil(job.Config), job.ParentScanID)

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := r.db.Execute(ctx, sql, args...); err != nil {
		r.countError("create")
		return fmt.Errorf("create scan job: %w", err)
	}
	return nil
}

func (r *scanJobRepository) Get(ctx context.Context, id uuid.UUID) (*domain.ScanJob, error) {
	r.count("get")

	query := r.qb.Select("*").From(r.table).Where(squirrel.Eq{"id": id})

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var job domain.ScanJob
	if err := r.db.Get(ctx, &job, sql, args...); err != nil {
		return nil, mapNotFound(err)
	}
	return &job, nil
}

func (r *scanJobRepository) Update(ctx context.Context, job *domain.ScanJob) error {
	r.count("update")

	query := r.qb.Update(r.table).
		Set("status", job.Status).
		Set("progress", job.Progress).
		Set("updated_at", job.UpdatedAt).
		Set("log", job.Log).
		Where(squirrel.Eq{"id": job.ID})

	// Nullable fields are written only once populated.
	if job.FinishedAt != nil {
		query = query.Set("finished_at", *job.FinishedAt)
	}
	if job.Error != nil {
		query = query.Set("error", *job.Error)
	}
	if job.ErrorMessage != nil {
		query = query.Set("error_message", *job.ErrorMessage)
	}
	if job.Insights != nil {
		query = query.Set("insights", job.Insights)
	}
	if job.VulnerabilityResults != nil {
		query = query.Set("vulnerability_results", job.VulnerabilityResults)
	}
	if job.Config != nil {
		query = query.Set("config", job.Config)
	}
	if job.AssetID != nil {
		query = query.Set("asset_id", *job.AssetID)
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	result, err := r.db.Execute(ctx, sql, args...)
	if err != nil {
		r.countError("update")
		return fmt.Errorf("update scan job: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *scanJobRepository) List(ctx context.Context, filter JobFilter) ([]*domain.ScanJob, error) {
	r.count("list")

	query := r.qb.Select("*").From(r.table).OrderBy("created_at DESC")
	if filter.Status != "" {
		query = query.Where(squirrel.Eq{"status": filter.Status})
	}
	if filter.Profile != "" {
		query = query.Where(squirrel.Eq{"profile": filter.Profile})
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query = query.Limit(uint64(limit))

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var jobs []domain.ScanJob
	if err := r.db.Select(ctx, &jobs, sql, args...); err != nil {
		r.countError("list")
		return nil, fmt.Errorf("list scan jobs: %w", err)
	}

	result := make([]*domain.ScanJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}
