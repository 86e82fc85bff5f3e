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

type playbookRepository struct {
	baseRepository
}

// NewPlaybooks creates the PostgreSQL-backed playbook store.
func NewPlaybooks(db database.Database, logger observability.Logger, metrics observability.Metrics) Playbooks {
	return &playbookRepository{newBaseRepository(db, logger, metrics, "playbooks")}
}

func (r *playbookRepository) Create(ctx context.Context, playbook *domain.Playbook) error {
	r.count("create")

	query := r.qb.Insert(r.table).
		Columns("id", "name", "target", "profile", "scan_type", "interval_minutes",
			"enabled", "tags", "created_at").
		Values(playbook.ID, playbook.Name, playbook.Target, playbook.Profile, playbook.ScanType,
			playbook.IntervalMinutes, playbook.Enabled, jsonOrNil(playbook.Tags), playbook.CreatedAt)

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := r.db.Execute(ctx, sql, args...); err != nil {
		r.countError("create")
		return fmt.Errorf("create playbook: %w", err)
	}
	return nil
}

func (r *playbookRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Playbook, error) {
	r.count("get")

	query := r.qb.Select("*").From(r.table).Where(squirrel.Eq{"id": id})

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var playbook domain.Playbook
	if err := r.db.Get(ctx, &playbook, sql, args...); err != nil {
		return nil, mapNotFound(err)
	}
	return &playbook, nil
}

func (r *playbookRepository) Update(ctx context.Context, playbook *domain.Playbook) error {
	r.count("update")

	query := r.qb.Update(r.table).
		Set("name", playbook.Name).
		Set("target", playbook.Target).
		Set("profile", playbook.Profile).
		Set("scan_type", playbook.ScanType).
		Set("interval_minutes", playbook.IntervalMinutes).
		Set("enabled", playbook.Enabled).
		Where(squirrel.Eq{"id": playbook.ID})

	if playbook.LastRunAt != nil {
		query = query.Set("last_run_at", *playbook.LastRunAt)
	}
	if playbook.LastJobID != nil {
		query = query.Set("last_job_id", *playbook.LastJobID)
	}
	if playbook.Tags != nil {
		query = query.Set("tags", playbook.Tags)
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	result, err := r.db.Execute(ctx, sql, args...)
	if err != nil {
		r.countError("update")
		return fmt.Errorf("update playbook: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *playbookRepository) List(ctx context.Context) ([]*domain.Playbook, error) {
	return r.list(ctx, nil)
}

func (r *playbookRepository) ListEnabled(ctx context.Context) ([]*domain.Playbook, error) {
	return r.list(ctx, squirrel.Eq{"enabled": true})
}

func (r *playbookRepository) list(ctx context.Context, where squirrel.Eq) ([]*domain.Playbook, error) {
	r.count("list")

	query := r.qb.Select("*").From(r.table).OrderBy("created_at DESC")
	if where != nil {
		query = query.Where(where)
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var playbooks []domain.Playbook
	if err := r.db.Select(ctx, &playbooks, sql, args...); err != nil {
		r.countError("list")
		return nil, fmt.Errorf("list playbooks: %w", err)
	}

	result := make([]*domain.Playbook, len(playbooks))
	for i := range playbooks {
		result[i] = &playbooks[i]
	}
	return result, nil
}
