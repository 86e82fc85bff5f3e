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

type assetRepository struct {
	baseRepository
}

// NewAssets creates the PostgreSQL-backed asset store.
func NewAssets(db database.Database, logger observability.Logger, metrics observability.Metrics) Assets {
	return &assetRepository{newBaseRepository(db, logger, metrics, "assets")}
}

func (r *assetRepository) Create(ctx context.Context, asset *domain.Asset) error {
	r.count("create")

	query := r.qb.Insert(r.table).
		Columns("id", "ip_address", "hostname", "domain", "first_seen", "last_seen", "risk_score", "tags").
		Values(asset.ID, asset.IPAddress, asset.Hostname, asset.Domain,
			asset.FirstSeen, asset.LastSeen, asset.RiskScore, jsonOrNil(asset.Tags))

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := r.db.Execute(ctx, sql, args...); err != nil {
		r.countError("create")
		return fmt.Errorf("create asset: %w", err)
	}
	return nil
}

func (r *assetRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Asset, error) {
	r.count("get")

	query := r.qb.Select("*").From(r.table).Where(squirrel.Eq{"id": id})

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var asset domain.Asset
	if err := r.db.Get(ctx, &asset, sql, args...); err != nil {
		return nil, mapNotFound(err)
	}
	return &asset, nil
}

func (r *assetRepository) FindByAddress(ctx context.Context, ipAddress, hostname string) (*domain.Asset, error) {
	r.count("find_by_address")

	query := r.qb.Select("*").From(r.table).Limit(1)
	if ipAddress != "" {
		query = query.Where(squirrel.Eq{"ip_address": ipAddress})
	} else {
		query = query.Where(squirrel.Eq{"hostname": hostname})
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var asset domain.Asset
	if err := r.db.Get(ctx, &asset, sql, args...); err != nil {
		return nil, mapNotFound(err)
	}
	return &asset, nil
}

func (r *assetRepository) Update(ctx context.Context, asset *domain.Asset) error {
	r.count("update")

	query := r.qb.Update(r.table).
		Set("last_seen", asset.LastSeen).
		Set("risk_score", asset.RiskScore).
		Where(squirrel.Eq{"id": asset.ID})

	if asset.Hostname != nil {
		query = query.Set("hostname", *asset.Hostname)
	}
	if asset.Domain != nil {
		query = query.Set("domain", *asset.Domain)
	}
	if asset.Tags != nil {
		query = query.Set("tags", asset.Tags)
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	result, err := r.db.Execute(ctx, sql, args...)
	if err != nil {
		r.countError("update")
		return fmt.Errorf("update asset: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *assetRepository) List(ctx context.Context) ([]*domain.Asset, error) {
	r.count("list")

	query := r.qb.Select("*").From(r.table).OrderBy("last_seen DESC")

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var assets []domain.Asset
	if err := r.db.Select(ctx, &assets, sql, args...); err != nil {
		r.countError("list")
		return nil, fmt.Errorf("list assets: %w", err)
	}

	result := make([]*domain.Asset, len(assets))
	for i := range assets {
		result[i] = &assets[i]
	}
	return result, nil
}
