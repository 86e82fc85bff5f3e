package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// Asset is a target host or domain observed across scan jobs. It is
// created on first observation and updated whenever a scan touches it.
type Asset struct {
	ID        uuid.UUID      `db:"id" json:"id"`
	IPAddress string         `db:"ip_address" json:"ip_address"`
	Hostname  *string        `db:"hostname" json:"hostname,omitempty"`
	Domain    *string        `db:"domain" json:"domain,omitempty"`
	FirstSeen time.Time      `db:"first_seen" json:"first_seen"`
	LastSeen  time.Time      `db:"last_seen" json:"last_seen"`
	RiskScore int            `db:"risk_score" json:"risk_score"`
	Tags      types.JSONText `db:"tags" json:"tags,omitempty"`
}
