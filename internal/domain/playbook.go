package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// Interval bounds for playbook schedules, in minutes. Values outside
// the range are clamped on create.
const (
	PlaybookMinIntervalMinutes = 5
	PlaybookMaxIntervalMinutes = 10080 // one week
)

// Playbook is a named recurring scan definition evaluated by the
// scheduler. Only the scheduler writes LastRunAt/LastJobID.
type Playbook struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	Name            string         `db:"name" json:"name"`
	Target          string         `db:"target" json:"target"`
	Profile         string         `db:"profile" json:"profile"`
	ScanType        ScanType       `db:"scan_type" json:"scan_type"`
	IntervalMinutes int            `db:"interval_minutes" json:"interval_minutes"`
	Enabled         bool           `db:"enabled" json:"enabled"`
	LastRunAt       *time.Time     `db:"last_run_at" json:"last_run_at,omitempty"`
	LastJobID       *uuid.UUID     `db:"last_job_id" json:"last_job_id,omitempty"`
	Tags            types.JSONText `db:"tags" json:"tags,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

// Due reports whether the playbook should run at the given instant.
// A playbook that has never run is always due.
func (p *Playbook) Due(now time.Time) bool {
	if !p.Enabled {
		return false
	}
	if p.LastRunAt == nil {
		return true
	}
	return now.Sub(*p.LastRunAt) >= time.Duration(p.IntervalMinutes)*time.Minute
}

// Overdue returns how far past its schedule the playbook is. Never-run
// playbooks report their age since creation, which sorts them ahead of
// recently lapsed ones.
func (p *Playbook) Overdue(now time.Time) time.Duration {
	if p.LastRunAt == nil {
		return now.Sub(p.CreatedAt)
	}
	return now.Sub(p.LastRunAt.Add(time.Duration(p.IntervalMinutes) * time.Minute))
}
