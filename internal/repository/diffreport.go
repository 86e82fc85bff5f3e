package repository

import (
	"context"
	"fmt"

	"github.com/21Micheal/netsec/internal/database"
	"github.com/21Micheal/netsec/internal/domain"
	"github.com/21Micheal/netsec/internal/observability"
)

type diffReportRepository struct {
	baseRepository
}

// NewDiffReports creates the PostgreSQL-backed diff report store.
func NewDiffReports(db database.Database, logger observability.Logger, metrics observability.Metrics) DiffReports {
	return &diffReportRepository{newBaseRepository(db, logger, metrics, "diff_reports")}
}

func (r *diffReportRepository) Create(ctx context.Context, report *domain.DiffReport) error {
	r.count("create")

	query := r.qb.Insert(r.table).
		Columns("id", "old_job_id", "new_job_id", "report", "created_at").
		Values(report.ID, report.OldJobID, report.NewJobID, report.Report, report.CreatedAt)

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := r.db.Execute(ctx, sql, args...); err != nil {
		r.countError("create")
		return fmt.Errorf("create diff report: %w", err)
	}
	return nil
}

func (r *diffReportRepository) List(ctx context.Context, limit int) ([]*domain.DiffReport, error) {
	r.count("list")

	if limit <= 0 {
		limit = 100
	}
	query := r.qb.Select("*").From(r.table).OrderBy("created_at DESC").Limit(uint64(limit))

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var reports []domain.DiffReport
	if err := r.db.Select(ctx, &reports, sql, args...); err != nil {
		r.countError("list")
		return nil, fmt.Errorf("list diff reports: %w", err)
	}

	result := make([]*domain.DiffReport, len(reports))
	for i := range reports {
		result[i] = &reports[i]
	}
	return result, nil
}
