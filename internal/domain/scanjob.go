package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// JobStatus is the lifecycle state of a scan job. Transitions are owned
// exclusively by the orchestrator: queued -> running -> finished|failed,
// with cancelled reachable from queued or running.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusFinished  JobStatus = "finished"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further mutation is accepted for this status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusFinished, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ScanType is the closed enumeration of supported scan kinds.
type ScanType string

const (
	ScanTypeNetwork     ScanType = "network_scan"
	ScanTypeServiceEnum ScanType = "service_enumeration"
	ScanTypeVulnAssess  ScanType = "vulnerability_assessment"
	ScanTypeCredTesting ScanType = "credential_testing"
	ScanTypeWeb         ScanType = "web_scan"
	ScanTypeSSL         ScanType = "ssl_analysis"
	ScanTypeCombined    ScanType = "combined"
)

// Valid reports whether t is one of the recognized scan kinds.
func (t ScanType) Valid() bool {
	switch t {
	case ScanTypeNetwork, ScanTypeServiceEnum, ScanTypeVulnAssess,
		ScanTypeCredTesting, ScanTypeWeb, ScanTypeSSL, ScanTypeCombined:
		return true
	}
	return false
}

// ScanJob is one execution attempt of a scan against a target.
type ScanJob struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Target       string     `db:"target" json:"target"`
	ScanType     ScanType   `db:"scan_type" json:"scan_type"`
	Profile      string     `db:"profile" json:"profile"`
	Status       JobStatus  `db:"status" json:"status"`
	Progress     int        `db:"progress" json:"progress"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	FinishedAt   *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	Log          string     `db:"log" json:"log"`
	Error        *string    `db:"error" json:"error,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`

	Insights             types.JSONText `db:"insights" json:"insights,omitempty"`
	VulnerabilityResults types.JSONText `db:"vulnerability_results" json:"vulnerability_results,omitempty"`
	Config               types.JSONText `db:"config" json:"config,omitempty"`

	AssetID      *uuid.UUID `db:"asset_id" json:"asset_id,omitempty"`
	ParentScanID *uuid.UUID `db:"parent_scan_id" json:"parent_scan_id,omitempty"`
}

// Duration returns the elapsed time between creation and completion,
// or zero while the job is still live.
func (j *ScanJob) Duration() time.Duration {
	if j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(j.CreatedAt)
}

// ErrorText collapses the two error columns kept for compatibility with
// older rows into a single presentable string.
func (j *ScanJob) ErrorText() string {
	if j.Error != nil && *j.Error != "" {
		return *j.Error
	}
	if j.ErrorMessage != nil {
		return *j.ErrorMessage
	}
	return ""
}
