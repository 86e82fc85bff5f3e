// Package config loads the server configuration from environment
// variables, with optional .env files for local development.
package config

import "time"

// Config is the full server configuration.
type Config struct {
	ServiceName string
	Environment string
	LogLevel    string
	Version     string

	HTTP      HTTPConfig
	Database  DatabaseConfig
	Queue     QueueConfig
	EventBus  EventBusConfig
	Scheduler SchedulerConfig
	Archive   ArchiveConfig
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig configures the PostgreSQL job store.
type DatabaseConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string

	MaxOpenConns int
	MaxIdleConns int
}

// QueueConfig configures the RabbitMQ task dispatch channel to the
// scan-execution workers.
type QueueConfig struct {
	URL             string
	TaskQueue       string
	ControlExchange string
}

// EventBusConfig tunes the in-process event fan-out.
type EventBusConfig struct {
	// SendBuffer is the per-subscriber event buffer. A subscriber that
	// falls further behind than this starts losing events rather than
	// blocking the publisher.
	SendBuffer int
}

// SchedulerConfig tunes the playbook dispatcher.
type SchedulerConfig struct {
	// TickInterval is how often due playbooks are evaluated when the
	// built-in ticker is enabled. Zero disables the ticker; run-due can
	// still be invoked through the API.
	TickInterval time.Duration

	// TickLimit bounds how many jobs one tick may create.
	TickLimit int
}

// ArchiveConfig configures completed-scan report archival.
type ArchiveConfig struct {
	Enabled bool
	Backend string // "fs" or "s3"
	Bucket  string

	// Filesystem backend
	BasePath string

	// S3 backend
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}
