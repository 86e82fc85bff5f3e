package repository

import (
	"context"
	"fmt"

	"github.com/21Micheal/netsec/internal/database"
)

// EnsureSchema creates the tables and indexes the engine needs. Every
// statement is idempotent so the call is safe on every startup.
func EnsureSchema(ctx context.Context, db database.Database) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS assets (
			id UUID PRIMARY KEY,
			ip_address VARCHAR(45) NOT NULL DEFAULT '',
			hostname VARCHAR(255),
			domain VARCHAR(255),
			first_seen TIMESTAMP NOT NULL DEFAULT NOW(),
			last_seen TIMESTAMP NOT NULL DEFAULT NOW(),
			risk_score INTEGER NOT NULL DEFAULT 0,
			tags JSONB
		);`,

		`CREATE TABLE IF NOT EXISTS scan_jobs (
			id UUID PRIMARY KEY,
			target TEXT NOT NULL,
			scan_type VARCHAR(50) NOT NULL DEFAULT 'network_scan',
			profile TEXT NOT NULL DEFAULT 'default',
			status VARCHAR(20) NOT NULL DEFAULT 'queued',
			progress INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMP,
			log TEXT NOT NULL DEFAULT '',
			error TEXT,
			error_message TEXT,
			insights JSONB,
			vulnerability_results JSONB,
			config JSONB,
			asset_id UUID REFERENCES assets(id),
			parent_scan_id UUID REFERENCES scan_jobs(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_scan_jobs_status_created ON scan_jobs (status, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_scan_jobs_scan_type ON scan_jobs (scan_type);`,

		`CREATE TABLE IF NOT EXISTS vulnerabilities (
			id UUID PRIMARY KEY,
			asset_id UUID NOT NULL REFERENCES assets(id),
			scan_job_id UUID NOT NULL REFERENCES scan_jobs(id),
			cve_id VARCHAR(50),
			title VARCHAR(500) NOT NULL,
			description TEXT,
			severity VARCHAR(20) NOT NULL,
			cvss_score DOUBLE PRECISION,
			port INTEGER,
			protocol VARCHAR(10),
			proof JSONB,
			status VARCHAR(20) NOT NULL DEFAULT 'open',
			discovered_at TIMESTAMP NOT NULL DEFAULT NOW(),
			fixed_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_vulnerabilities_asset ON vulnerabilities (asset_id);`,
		`CREATE INDEX IF NOT EXISTS idx_vulnerabilities_job ON vulnerabilities (scan_job_id);`,

		`CREATE TABLE IF NOT EXISTS playbooks (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			target TEXT NOT NULL,
			profile TEXT NOT NULL DEFAULT 'default',
			scan_type VARCHAR(50) NOT NULL DEFAULT 'network_scan',
			interval_minutes INTEGER NOT NULL DEFAULT 60,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			last_run_at TIMESTAMP,
			last_job_id UUID,
			tags JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_playbooks_enabled ON playbooks (enabled);`,

		`CREATE TABLE IF NOT EXISTS diff_reports (
			id UUID PRIMARY KEY,
			old_job_id UUID NOT NULL REFERENCES scan_jobs(id),
			new_job_id UUID NOT NULL REFERENCES scan_jobs(id),
			report JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);`,
	}

	for _, q := range queries {
		if _, err := db.Execute(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
