package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "netsec-orchestrator", cfg.ServiceName)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "scan_tasks", cfg.Queue.TaskQueue)
	assert.Equal(t, "scan_control", cfg.Queue.ControlExchange)
	assert.Equal(t, 64, cfg.EventBus.SendBuffer)
	assert.False(t, cfg.Archive.Enabled)
	assert.Equal(t, "fs", cfg.Archive.Backend)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("DB_NAME", "netsec_test")
	t.Setenv("AMQP_TASK_QUEUE", "scan_tasks_test")
	t.Setenv("SCHEDULER_TICK_INTERVAL", "2m")
	t.Setenv("EVENTBUS_SEND_BUFFER", "128")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "netsec_test", cfg.Database.Database)
	assert.Equal(t, "scan_tasks_test", cfg.Queue.TaskQueue)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.TickInterval)
	assert.Equal(t, 128, cfg.EventBus.SendBuffer)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("DB_PORT", "99999")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PORT")
}

func TestBadDurationFallsBackToDefault(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "not-a-duration")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ReadTimeout)
}

func TestArchiveValidation(t *testing.T) {
	t.Setenv("ARCHIVE_ENABLED", "true")
	t.Setenv("ARCHIVE_BACKEND", "tape")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")

	t.Setenv("ARCHIVE_BACKEND", "s3")
	t.Setenv("ARCHIVE_BUCKET", "")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ARCHIVE_BUCKET")

	t.Setenv("ARCHIVE_BUCKET", "reports")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3", cfg.Archive.Backend)
}
