// Package orchestrator owns the scan job lifecycle. All status and
// progress transitions go through it; the repositories never encode
// lifecycle rules and the execution collaborator never writes state
// directly.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"

	"github.com/21Micheal/netsec/internal/domain"
	"github.com/21Micheal/netsec/internal/eventbus"
	"github.com/21Micheal/netsec/internal/observability"
	"github.com/21Micheal/netsec/internal/repository"
	"github.com/21Micheal/netsec/internal/risk"
)

// Log buffers are bounded; the front is evicted once a job's log
// outgrows this.
const logCapBytes = 64 << 10

const lockStripes = 64

// Dispatcher hands jobs to the scan execution collaborator.
type Dispatcher interface {
	// DispatchScan enqueues the job for execution.
	DispatchScan(ctx context.Context, job *domain.ScanJob) error
	// StopScan asks the collaborator to abandon a running job. Best
	// effort; the job is already terminal when this is called.
	StopScan(ctx context.Context, jobID uuid.UUID) error
}

// Archiver stores the final report of a successfully finished job.
type Archiver interface {
	ArchiveJob(ctx context.Context, job *domain.ScanJob) error
}

// Publisher receives lifecycle events for fan-out to live viewers.
type Publisher interface {
	Publish(event eventbus.Event)
}

// CreateRequest carries the caller-supplied fields of a new scan job.
type CreateRequest struct {
	Target   string
	Profile  string
	ScanType domain.ScanType
	Config   json.RawMessage
}

// Outcome is the result payload the execution collaborator reports on
// completion.
type Outcome struct {
	Success  bool
	Error    string
	Insights json.RawMessage
	Findings []domain.Finding
}

// Orchestrator is the single writer of scan job state.
type Orchestrator struct {
	jobs       repository.ScanJobs
	assets     repository.Assets
	vulns      repository.Vulnerabilities
	bus        Publisher
	dispatcher Dispatcher
	archiver   Archiver
	logger     observability.Logger
	metrics    observability.Metrics

	now   func() time.Time
	locks [lockStripes]sync.Mutex
}

// New wires an orchestrator. The archiver may be nil when report
// archival is disabled.
func New(
	jobs repository.ScanJobs,
	assets repository.Assets,
	vulns repository.Vulnerabilities,
	bus Publisher,
	dispatcher Dispatcher,
	archiver Archiver,
	logger observability.Logger,
	metrics observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		jobs:       jobs,
		assets:     assets,
		vulns:      vulns,
		bus:        bus,
		dispatcher: dispatcher,
		archiver:   archiver,
		logger:     logger,
		metrics:    metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// lockFor serializes mutations per job. Jobs hash onto a fixed set of
// stripes, so unrelated jobs rarely contend.
func (o *Orchestrator) lockFor(id uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(id[:])
	return &o.locks[h.Sum32()%lockStripes]
}

// Create validates the request, persists the job in queued state and
// schedules execution. Dispatch happens asynchronously; a dispatch
// failure is recorded on the job, never returned to the caller.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*domain.ScanJob, error) {
	target := strings.TrimSpace(req.Target)
	if target == "" {
		return nil, fmt.Errorf("%w: target is required", domain.ErrInvalidRequest)
	}
	if !req.ScanType.Valid() {
		return nil, fmt.Errorf("%w: unknown scan type %q", domain.ErrInvalidRequest, req.ScanType)
	}

	profile := strings.ToLower(strings.TrimSpace(req.Profile))
	if profile == "" {
		profile = "default"
	}

	now := o.now()
	job := &domain.ScanJob{
		ID:        uuid.New(),
		Target:    target,
		ScanType:  req.ScanType,
		Profile:   profile,
		Status:    domain.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(req.Config) > 0 {
		job.Config = types.JSONText(req.Config)
	}

	return o.enqueue(ctx, job)
}

// enqueue persists a queued job, announces it and hands it to the
// dispatcher in the background. Shared by Create and Retry.
func (o *Orchestrator) enqueue(ctx context.Context, job *domain.ScanJob) (*domain.ScanJob, error) {
	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("persisting job: %w", err)
	}

	o.metrics.IncrementCounter("scans_created", map[string]string{
		"scan_type": string(job.ScanType),
		"profile":   job.Profile,
	})
	o.logger.Info("scan job queued",
		"job_id", job.ID,
		"target", job.Target,
		"scan_type", job.ScanType,
	)
	o.bus.Publish(eventbus.JobUpdate(job))

	go o.dispatch(job)
	return job, nil
}

func (o *Orchestrator) dispatch(job *domain.ScanJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := o.dispatcher.DispatchScan(ctx, job); err != nil {
		o.logger.Error("scan dispatch failed", "job_id", job.ID, "error", err)
		o.metrics.IncrementCounter("scan_dispatch_failures", map[string]string{
			"scan_type": string(job.ScanType),
		})
		if _, ferr := o.Complete(ctx, job.ID, Outcome{
			Error: fmt.Sprintf("dispatch failed: %v", err),
		}); ferr != nil {
			o.logger.Error("failed to record dispatch failure", "job_id", job.ID, "error", ferr)
		}
	}
}

// ReportProgress applies a progress update and optional log line from
// the execution collaborator. The first report moves a queued job to
// running. Reports against a terminal job are dropped without error;
// out-of-range or decreasing progress is rejected.
func (o *Orchestrator) ReportProgress(ctx context.Context, jobID uuid.UUID, progress int, line string) error {
	mu := o.lockFor(jobID)
	mu.Lock()
	defer mu.Unlock()

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		o.metrics.IncrementCounter("scan_updates_after_terminal", nil)
		return nil
	}
	if progress < 0 || progress > 100 {
		return fmt.Errorf("%w: progress %d out of range", domain.ErrInvalidRequest, progress)
	}
	if progress < job.Progress {
		return fmt.Errorf("%w: progress cannot decrease from %d to %d",
			domain.ErrInvalidTransition, job.Progress, progress)
	}

	if job.Status == domain.JobStatusQueued {
		job.Status = domain.JobStatusRunning
		o.metrics.IncrementCounter("scans_started", map[string]string{
			"scan_type": string(job.ScanType),
		})
	}
	job.Progress = progress
	if line != "" {
		job.Log = appendLog(job.Log, line)
	}
	job.UpdatedAt = o.now()

	if err := o.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("persisting progress: %w", err)
	}

	o.bus.Publish(eventbus.JobUpdate(job))
	if line != "" {
		o.bus.Publish(eventbus.JobLog(job, line))
	}
	return nil
}

// Complete finalizes a job with the collaborator's outcome. Completing
// an already terminal job is a no-op that returns the recorded state,
// so redelivered completions and completions racing a cancel are
// absorbed. On success the job's findings are fanned out into
// vulnerability rows, the target asset is upserted and rescored, and
// the report is archived.
func (o *Orchestrator) Complete(ctx context.Context, jobID uuid.UUID, out Outcome) (*domain.ScanJob, error) {
	mu := o.lockFor(jobID)
	mu.Lock()
	defer mu.Unlock()

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	now := o.now()
	job.UpdatedAt = now
	job.FinishedAt = &now
	job.Progress = 100
	if out.Success {
		job.Status = domain.JobStatusFinished
	} else {
		job.Status = domain.JobStatusFailed
		msg := out.Error
		if msg == "" {
			msg = "scan execution failed"
		}
		job.Error = &msg
	}
	if len(out.Insights) > 0 {
		job.Insights = types.JSONText(out.Insights)
	}
	if len(out.Findings) > 0 {
		raw, merr := json.Marshal(out.Findings)
		if merr != nil {
			return nil, fmt.Errorf("encoding findings: %w", merr)
		}
		job.VulnerabilityResults = types.JSONText(raw)
	}

	var asset *domain.Asset
	if out.Success {
		asset, err = o.attachAsset(ctx, job)
		if err != nil {
			o.logger.Error("asset tracking failed", "job_id", job.ID, "error", err)
		}
	}

	if err := o.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("persisting completion: %w", err)
	}

	if out.Success && asset != nil && len(out.Findings) > 0 {
		if err := o.recordFindings(ctx, job, asset, out.Findings); err != nil {
			o.logger.Error("recording findings failed", "job_id", job.ID, "error", err)
		}
	}
	if out.Success && o.archiver != nil {
		if err := o.archiver.ArchiveJob(ctx, job); err != nil {
			o.logger.Error("report archival failed", "job_id", job.ID, "error", err)
		}
	}

	o.metrics.IncrementCounter("scans_completed", map[string]string{
		"status":    string(job.Status),
		"scan_type": string(job.ScanType),
	})
	o.metrics.RecordHistogram("scan_duration_seconds", job.Duration().Seconds(), map[string]string{
		"scan_type": string(job.ScanType),
	})
	o.logger.Info("scan job completed",
		"job_id", job.ID,
		"status", job.Status,
		"duration", job.Duration().String(),
		"findings", len(out.Findings),
	)

	o.bus.Publish(eventbus.JobUpdate(job))
	o.bus.Publish(eventbus.JobComplete(job))
	return job, nil
}

// Retry creates a fresh queued job copying the definition of a
// terminal one. The source row is never reset; lineage is kept via
// parent_scan_id. Finished jobs may be retried as a manual rescan.
func (o *Orchestrator) Retry(ctx context.Context, jobID uuid.UUID) (*domain.ScanJob, error) {
	source, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if source.Status != domain.JobStatusFailed && source.Status != domain.JobStatusFinished {
		return nil, fmt.Errorf("%w: cannot retry a %s job", domain.ErrInvalidTransition, source.Status)
	}

	now := o.now()
	parentID := source.ID
	job := &domain.ScanJob{
		ID:           uuid.New(),
		Target:       source.Target,
		ScanType:     source.ScanType,
		Profile:      source.Profile,
		Status:       domain.JobStatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
		Config:       source.Config,
		ParentScanID: &parentID,
	}

	o.metrics.IncrementCounter("scans_retried", map[string]string{
		"source_status": string(source.Status),
	})
	return o.enqueue(ctx, job)
}

// Cancel moves a queued or running job to cancelled and signals the
// collaborator to stop. Cancelling a terminal job is an error.
func (o *Orchestrator) Cancel(ctx context.Context, jobID uuid.UUID) error {
	mu := o.lockFor(jobID)
	mu.Lock()
	defer mu.Unlock()

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: job is already %s", domain.ErrInvalidTransition, job.Status)
	}

	wasRunning := job.Status == domain.JobStatusRunning
	now := o.now()
	job.Status = domain.JobStatusCancelled
	job.UpdatedAt = now
	job.FinishedAt = &now
	cancelled := "cancelled"
	job.Error = &cancelled
	job.Log = appendLog(job.Log, "Cancelled by user request.")

	if err := o.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("persisting cancellation: %w", err)
	}

	o.metrics.IncrementCounter("scans_cancelled", map[string]string{
		"scan_type": string(job.ScanType),
	})
	o.logger.Info("scan job cancelled", "job_id", job.ID, "was_running", wasRunning)

	o.bus.Publish(eventbus.JobUpdate(job))
	o.bus.Publish(eventbus.JobComplete(job))

	if wasRunning {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := o.dispatcher.StopScan(ctx, jobID); err != nil {
				o.logger.Warn("stop signal failed", "job_id", jobID, "error", err)
			}
		}()
	}
	return nil
}

// attachAsset links the job to the asset record for its target,
// creating the record on first observation and refreshing last_seen.
func (o *Orchestrator) attachAsset(ctx context.Context, job *domain.ScanJob) (*domain.Asset, error) {
	ip, hostname := splitTarget(job.Target)

	asset, err := o.assets.FindByAddress(ctx, ip, hostname)
	switch {
	case err == nil:
		asset.LastSeen = o.now()
		if asset.Hostname == nil && hostname != "" {
			asset.Hostname = &hostname
		}
		if err := o.assets.Update(ctx, asset); err != nil {
			return nil, fmt.Errorf("refreshing asset: %w", err)
		}
	case errors.Is(err, domain.ErrNotFound):
		now := o.now()
		asset = &domain.Asset{
			ID:        uuid.New(),
			IPAddress: ip,
			FirstSeen: now,
			LastSeen:  now,
		}
		if hostname != "" {
			asset.Hostname = &hostname
		}
		if asset.IPAddress == "" {
			asset.IPAddress = hostname
		}
		if err := o.assets.Create(ctx, asset); err != nil {
			return nil, fmt.Errorf("creating asset: %w", err)
		}
		o.metrics.IncrementCounter("assets_discovered", nil)
	default:
		return nil, fmt.Errorf("looking up asset: %w", err)
	}

	job.AssetID = &asset.ID
	return asset, nil
}

// recordFindings fans the outcome's findings out into vulnerability
// rows and rescores the asset from its full vulnerability set.
func (o *Orchestrator) recordFindings(ctx context.Context, job *domain.ScanJob, asset *domain.Asset, findings []domain.Finding) error {
	now := o.now()
	rows := make([]*domain.Vulnerability, 0, len(findings))
	for _, f := range findings {
		row := &domain.Vulnerability{
			ID:           uuid.New(),
			AssetID:      asset.ID,
			ScanJobID:    job.ID,
			Title:        f.Title,
			Severity:     strings.ToUpper(f.Severity),
			Status:       domain.VulnStatusOpen,
			DiscoveredAt: now,
		}
		if f.CVEID != "" {
			cve := f.CVEID
			row.CVEID = &cve
		}
		if f.Description != "" {
			desc := f.Description
			row.Description = &desc
		}
		if f.CVSSScore > 0 {
			score := f.CVSSScore
			row.CVSSScore = &score
		}
		if f.Port > 0 {
			port := f.Port
			row.Port = &port
		}
		if f.Protocol != "" {
			proto := f.Protocol
			row.Protocol = &proto
		}
		if len(f.Proof) > 0 {
			row.Proof = types.JSONText(f.Proof)
		}
		rows = append(rows, row)
	}
	if err := o.vulns.CreateBatch(ctx, rows); err != nil {
		return fmt.Errorf("persisting vulnerabilities: %w", err)
	}
	o.metrics.IncrementCounter("vulnerabilities_recorded", map[string]string{
		"scan_type": string(job.ScanType),
	})

	all, err := o.vulns.ListByAsset(ctx, asset.ID)
	if err != nil {
		return fmt.Errorf("listing asset vulnerabilities: %w", err)
	}
	asset.RiskScore = risk.AssetScore(all)
	if err := o.assets.Update(ctx, asset); err != nil {
		return fmt.Errorf("rescoring asset: %w", err)
	}
	o.metrics.RecordGauge("asset_risk_score", float64(asset.RiskScore), map[string]string{
		"asset": asset.IPAddress,
	})
	return nil
}

// appendLog appends one line to a job log, evicting from the front at
// a line boundary once the buffer exceeds the cap.
func appendLog(log, line string) string {
	log += line + "\n"
	if len(log) <= logCapBytes {
		return log
	}
	cut := log[len(log)-logCapBytes:]
	if idx := strings.IndexByte(cut, '\n'); idx >= 0 && idx+1 < len(cut) {
		cut = cut[idx+1:]
	}
	return cut
}

// splitTarget extracts the host from a target string, which may be a
// bare IP, a hostname or a URL, and classifies it.
func splitTarget(target string) (ip, hostname string) {
	host := target
	if strings.Contains(host, "://") {
		if u, err := url.Parse(host); err == nil && u.Hostname() != "" {
			host = u.Hostname()
		}
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if net.ParseIP(host) != nil {
		return host, ""
	}
	return "", host
}
