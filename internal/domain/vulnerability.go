package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// Severity levels reported by the scanning tools.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
)

// VulnStatus is the triage state of a vulnerability. It is mutated only
// by explicit status-transition actions, never by the scanning pipeline.
type VulnStatus string

const (
	VulnStatusOpen          VulnStatus = "open"
	VulnStatusFixed         VulnStatus = "fixed"
	VulnStatusRiskAccepted  VulnStatus = "risk_accepted"
	VulnStatusFalsePositive VulnStatus = "false_positive"
)

// Valid reports whether s is a recognized triage state.
func (s VulnStatus) Valid() bool {
	switch s {
	case VulnStatusOpen, VulnStatusFixed, VulnStatusRiskAccepted, VulnStatusFalsePositive:
		return true
	}
	return false
}

// Vulnerability is a persisted finding tied to one asset and the scan
// job that discovered it.
type Vulnerability struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	AssetID      uuid.UUID      `db:"asset_id" json:"asset_id"`
	ScanJobID    uuid.UUID      `db:"scan_job_id" json:"scan_job_id"`
	CVEID        *string        `db:"cve_id" json:"cve_id,omitempty"`
	Title        string         `db:"title" json:"title"`
	Description  *string        `db:"description" json:"description,omitempty"`
	Severity     string         `db:"severity" json:"severity"`
	CVSSScore    *float64       `db:"cvss_score" json:"cvss_score,omitempty"`
	Port         *int           `db:"port" json:"port,omitempty"`
	Protocol     *string        `db:"protocol" json:"protocol,omitempty"`
	Proof        types.JSONText `db:"proof" json:"proof,omitempty"`
	Status       VulnStatus     `db:"status" json:"status"`
	DiscoveredAt time.Time      `db:"discovered_at" json:"discovered_at"`
	FixedAt      *time.Time     `db:"fixed_at" json:"fixed_at,omitempty"`
}

// Finding is the tool-agnostic shape a scan run reports for each
// vulnerability it discovered. The orchestrator persists the payload
// verbatim on the job and fans individual findings out into
// Vulnerability rows.
type Finding struct {
	CVEID       string          `json:"cve_id,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Severity    string          `json:"severity"`
	CVSSScore   float64         `json:"cvss_score,omitempty"`
	Port        int             `json:"port,omitempty"`
	Protocol    string          `json:"protocol,omitempty"`
	Proof       json.RawMessage `json:"proof,omitempty"`
}

// Key returns the stable identity used to match findings across scans:
// the CVE id when present, otherwise a composite of title, port and
// protocol.
func (f Finding) Key() string {
	if f.CVEID != "" {
		return f.CVEID
	}
	return fmt.Sprintf("%s|%d|%s", strings.ToLower(f.Title), f.Port, strings.ToLower(f.Protocol))
}
