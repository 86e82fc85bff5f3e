// Package repository persists the orchestration engine's entities in
// PostgreSQL. It is the only place SQL lives; callers work with the
// interfaces below and the domain error taxonomy (sql.ErrNoRows is
// mapped to domain.ErrNotFound here).
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/21Micheal/netsec/internal/domain"
)

// JobFilter narrows ListJobs. Zero values mean "no constraint".
type JobFilter struct {
	Status  domain.JobStatus
	Profile string
	Limit   int
}

// ScanJobs is the durable record of every scan job.
type ScanJobs interface {
	Create(ctx context.Context, job *domain.ScanJob) error
	Get(ctx context.Context, id uuid.UUID) (*domain.ScanJob, error)
	Update(ctx context.Context, job *domain.ScanJob) error
	List(ctx context.Context, filter JobFilter) ([]*domain.ScanJob, error)
}

// Assets tracks targets observed across jobs.
type Assets interface {
	Create(ctx context.Context, asset *domain.Asset) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Asset, error)
	// FindByAddress looks an asset up by IP address or hostname,
	// whichever is non-empty.
	FindByAddress(ctx context.Context, ipAddress, hostname string) (*domain.Asset, error)
	Update(ctx context.Context, asset *domain.Asset) error
	List(ctx context.Context) ([]*domain.Asset, error)
}

// Vulnerabilities stores findings tied to assets and jobs.
type Vulnerabilities interface {
	CreateBatch(ctx context.Context, vulns []*domain.Vulnerability) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Vulnerability, error)
	Update(ctx context.Context, vuln *domain.Vulnerability) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*domain.Vulnerability, error)
	ListByAsset(ctx context.Context, assetID uuid.UUID) ([]*domain.Vulnerability, error)
}

// Playbooks stores recurring scan definitions.
type Playbooks interface {
	Create(ctx context.Context, playbook *domain.Playbook) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Playbook, error)
	Update(ctx context.Context, playbook *domain.Playbook) error
	List(ctx context.Context) ([]*domain.Playbook, error)
	ListEnabled(ctx context.Context) ([]*domain.Playbook, error)
}

// DiffReports stores immutable scan comparisons.
type DiffReports interface {
	Create(ctx context.Context, report *domain.DiffReport) error
	List(ctx context.Context, limit int) ([]*domain.DiffReport, error)
}
