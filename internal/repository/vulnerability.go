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

type vulnerabilityRepository struct {
	baseRepository
}

// NewVulnerabilities creates the PostgreSQL-backed vulnerability store.
func NewVulnerabilities(db database.Database, logger observability.Logger, metrics observability.Metrics) Vulnerabilities {
	return &vulnerabilityRepository{newBaseRepository(db, logger, metrics, "vulnerabilities")}
}

func (r *vulnerabilityRepository) CreateBatch(ctx context.Context, vulns []*domain.Vulnerability) error {
	if len(vulns) == 0 {
		return nil
	}
	r.count("create_batch")

	query := r.qb.Insert(r.table).
		Columns("id", "asset_id", "scan_job_id", "cve_id", "title", "description",
			"severity", "cvss_score", "port", "protocol", "proof", "status", "discovered_at")
	for _, v := range vulns {
		query = query.Values(v.ID, v.AssetID, v.ScanJobID, v.CVEID, v.Title, v.Description,
			v.Severity, v.CVSSScore, v.Port, v.Protocol, jsonOrNil(v.Proof), v.Status, v.DiscoveredAt)
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := r.db.Execute(ctx, sql, args...); err != nil {
		r.countError("create_batch")
		return fmt.Errorf("create vulnerabilities: %w", err)
	}
	return nil
}

func (r *vulnerabilityRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Vulnerability, error) {
	r.count("get")

	query := r.qb.Select("*").From(r.table).Where(squirrel.Eq{"id": id})

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var vuln domain.Vulnerability
	if err := r.db.Get(ctx, &vuln, sql, args...); err != nil {
		return nil, mapNotFound(err)
	}
	return &vuln, nil
}

func (r *vulnerabilityRepository) Update(ctx context.Context, vuln *domain.Vulnerability) error {
	r.count("update")

	query := r.qb.Update(r.table).
		Set("status", vuln.Status).
		Where(squirrel.Eq{"id": vuln.ID})
	if vuln.FixedAt != nil {
		query = query.Set("fixed_at", *vuln.FixedAt)
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	result, err := r.db.Execute(ctx, sql, args...)
	if err != nil {
		r.countError("update")
		return fmt.Errorf("update vulnerability: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *vulnerabilityRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*domain.Vulnerability, error) {
	return r.list(ctx, squirrel.Eq{"scan_job_id": jobID})
}

func (r *vulnerabilityRepository) ListByAsset(ctx context.Context, assetID uuid.UUID) ([]*domain.Vulnerability, error) {
	return r.list(ctx, squirrel.Eq{"asset_id": assetID})
}

func (r *vulnerabilityRepository) list(ctx context.Context, where squirrel.Eq) ([]*domain.Vulnerability, error) {
	r.count("list")

	query := r.qb.Select("*").From(r.table).Where(where).OrderBy("discovered_at DESC")

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var vulns []domain.Vulnerability
	if err := r.db.Select(ctx, &vulns, sql, args...); err != nil {
		r.countError("list")
		return nil, fmt.Errorf("list vulnerabilities: %w", err)
	}

	result := make([]*domain.Vulnerability, len(vulns))
	for i := range vulns {
		result[i] = &vulns[i]
	}
	return result, nil
}
