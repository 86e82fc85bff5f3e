package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// DiffReport is a persisted comparison of findings between two finished
// jobs on the same asset. Rows are immutable; re-requesting the same
// pair recomputes and inserts a fresh report.
type DiffReport struct {
	ID        uuid.UUID      `db:"id" json:"id"`
	OldJobID  uuid.UUID      `db:"old_job_id" json:"old_job_id"`
	NewJobID  uuid.UUID      `db:"new_job_id" json:"new_job_id"`
	Report    types.JSONText `db:"report" json:"report"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// SeverityChange records a finding present in both jobs whose severity
// moved between them.
type SeverityChange struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	OldSeverity string `json:"old_severity"`
	NewSeverity string `json:"new_severity"`
}

// FindingsDelta is the structured body of a diff report.
type FindingsDelta struct {
	OldJobID    uuid.UUID        `json:"old_job_id"`
	NewJobID    uuid.UUID        `json:"new_job_id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Added       []Finding        `json:"added"`
	Removed     []Finding        `json:"removed"`
	Changed     []SeverityChange `json:"changed"`
	Unchanged   int              `json:"unchanged"`
	RiskLevel   RiskLevelChange  `json:"risk_level"`
}

// RiskLevelChange carries the insight summary risk level of both jobs.
type RiskLevelChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}
