// Package archive writes the final report of each finished scan to
// object storage, keyed by completion date and job id.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/21Micheal/netsec/internal/config"
	"github.com/21Micheal/netsec/internal/domain"
	"github.com/21Micheal/netsec/internal/observability"
)

// ErrObjectNotFound is returned when a requested archive object does
// not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage is the minimal object store surface the archiver needs.
type ObjectStorage interface {
	Put(ctx context.Context, key string, reader io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// report is the archived document for one finished scan.
type report struct {
	JobID       string          `json:"job_id"`
	Target      string          `json:"target"`
	ScanType    string          `json:"scan_type"`
	Profile     string          `json:"profile"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	DurationSec float64         `json:"duration_seconds"`
	Insights    json.RawMessage `json:"insights,omitempty"`
	Findings    json.RawMessage `json:"findings,omitempty"`
	Log         string          `json:"log,omitempty"`
}

// Archiver stores scan reports. It satisfies the orchestrator's
// archival hook.
type Archiver struct {
	storage ObjectStorage
	logger  observability.Logger
	metrics observability.Metrics
}

// New builds an archiver over the given object storage.
func New(storage ObjectStorage, logger observability.Logger, metrics observability.Metrics) *Archiver {
	return &Archiver{storage: storage, logger: logger, metrics: metrics}
}

// NewFromConfig builds the configured storage backend and wraps it in
// an archiver. Returns nil when archival is disabled.
func NewFromConfig(cfg *config.ArchiveConfig, logger observability.Logger, metrics observability.Metrics) (*Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var (
		storage ObjectStorage
		err     error
	)
	switch cfg.Backend {
	case "s3":
		logger.Info("creating S3 archive backend", "bucket", cfg.Bucket, "region", cfg.Region)
		storage, err = NewS3Storage(cfg, logger, metrics)
	case "fs":
		logger.Info("creating filesystem archive backend", "path", cfg.BasePath)
		storage, err = NewFSStorage(cfg.BasePath, logger, metrics)
	default:
		return nil, fmt.Errorf("unsupported archive backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return New(storage, logger, metrics), nil
}

// ArchiveJob writes the job's report. The key embeds the completion
// date so stores stay browsable by day.
func (a *Archiver) ArchiveJob(ctx context.Context, job *domain.ScanJob) error {
	startTime := time.Now()

	doc := report{
		JobID:       job.ID.String(),
		Target:      job.Target,
		ScanType:    string(job.ScanType),
		Profile:     job.Profile,
		Status:      string(job.Status),
		CreatedAt:   job.CreatedAt,
		FinishedAt:  job.FinishedAt,
		DurationSec: job.Duration().Seconds(),
		Log:         job.Log,
	}
	if len(job.Insights) > 0 {
		doc.Insights = json.RawMessage(job.Insights)
	}
	if len(job.VulnerabilityResults) > 0 {
		doc.Findings = json.RawMessage(job.VulnerabilityResults)
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	key := ReportKey(job)
	if err := a.storage.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		a.metrics.IncrementCounter("archive_put_errors", nil)
		return fmt.Errorf("failed to store report: %w", err)
	}

	a.logger.Info("scan report archived",
		"job_id", job.ID,
		"key", key,
		"size_bytes", len(body),
		"duration_ms", time.Since(startTime).Milliseconds())
	a.metrics.IncrementCounter("archive_put_success", nil)
	return nil
}

// FetchReport reads a previously archived report back.
func (a *Archiver) FetchReport(ctx context.Context, job *domain.ScanJob) (io.ReadCloser, error) {
	return a.storage.Get(ctx, ReportKey(job))
}

// ReportKey returns the storage key for a job's report.
func ReportKey(job *domain.ScanJob) string {
	when := job.CreatedAt
	if job.FinishedAt != nil {
		when = *job.FinishedAt
	}
	return fmt.Sprintf("reports/%s/%s.json", when.Format("2006/01/02"), job.ID)
}
