package config

import (
	"fmt"
	"strings"
)

// Validate validates the entire configuration
func (c *Config) Validate() error {
	var errors []string

	if c.ServiceName == "" {
		errors = append(errors, "SERVICE_NAME is required")
	}
	if c.HTTP.Addr == "" {
		errors = append(errors, "HTTP_ADDR is required")
	}

	if err := c.Database.Validate(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.Archive.Validate(); err != nil {
		errors = append(errors, err.Error())
	}

	if c.EventBus.SendBuffer < 1 {
		errors = append(errors, "EVENTBUS_SEND_BUFFER must be at least 1")
	}
	if c.Scheduler.TickLimit < 1 {
		errors = append(errors, "SCHEDULER_TICK_LIMIT must be at least 1")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// Validate checks the database section.
func (c *DatabaseConfig) Validate() error {
	var errors []string

	if c.Host == "" {
		errors = append(errors, "DB_HOST is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		errors = append(errors, "DB_PORT must be a valid port")
	}
	if c.Database == "" {
		errors = append(errors, "DB_NAME is required")
	}
	if c.MaxOpenConns < 1 {
		errors = append(errors, "DB_MAX_OPEN_CONNS must be at least 1")
	}

	if len(errors) > 0 {
		return fmt.Errorf("database: %s", strings.Join(errors, "; "))
	}
	return nil
}

// Validate checks the archive section. Backend-specific settings are
// only required when archival is enabled.
func (c *ArchiveConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch c.Backend {
	case "fs":
		if c.BasePath == "" {
			return fmt.Errorf("archive: ARCHIVE_BASE_PATH is required for the fs backend")
		}
	case "s3":
		if c.Bucket == "" {
			return fmt.Errorf("archive: ARCHIVE_BUCKET is required for the s3 backend")
		}
		if c.Region == "" {
			return fmt.Errorf("archive: ARCHIVE_S3_REGION is required for the s3 backend")
		}
	default:
		return fmt.Errorf("archive: unknown backend %q (expected fs or s3)", c.Backend)
	}
	return nil
}
