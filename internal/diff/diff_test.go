package diff

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/21Micheal/netsec/internal/domain"
	"github.com/21Micheal/netsec/internal/observability"
	"github.com/21Micheal/netsec/internal/repository"
)

type jobStore struct {
	rows map[uuid.UUID]*domain.ScanJob
}

func (s *jobStore) Create(_ context.Context, job *domain.ScanJob) error {
	s.rows[job.ID] = job
	return nil
}

func (s *jobStore) Get(_ context.Context, id uuid.UUID) (*domain.ScanJob, error) {
	job, ok := s.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (s *jobStore) Update(_ context.Context, job *domain.ScanJob) error {
	s.rows[job.ID] = job
	return nil
}

func (s *jobStore) List(_ context.Context, _ repository.JobFilter) ([]*domain.ScanJob, error) {
	return nil, nil
}

type reportStore struct {
	mu   sync.Mutex
	rows []*domain.DiffReport
}

func (s *reportStore) Create(_ context.Context, report *domain.DiffReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, report)
	return nil
}

func (s *reportStore) List(_ context.Context, _ int) ([]*domain.DiffReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, nil
}

func finishedJob(target string, findings []domain.Finding, insights string) *domain.ScanJob {
	now := time.Now().UTC()
	job := &domain.ScanJob{
		ID:         uuid.New(),
		Target:     target,
		ScanType:   domain.ScanTypeVulnAssess,
		Profile:    "default",
		Status:     domain.JobStatusFinished,
		Progress:   100,
		CreatedAt:  now.Add(-time.Hour),
		FinishedAt: &now,
	}
	if findings != nil {
		raw, _ := json.Marshal(findings)
		job.VulnerabilityResults = types.JSONText(raw)
	}
	if insights != "" {
		job.Insights = types.JSONText(insights)
	}
	return job
}

func newEngine() (*Engine, *jobStore, *reportStore) {
	jobs := &jobStore{rows: make(map[uuid.UUID]*domain.ScanJob)}
	reports := &reportStore{}
	return New(jobs, reports, observability.NewNopLogger(), observability.NewNopMetrics()), jobs, reports
}

func TestCompareBucketsFindings(t *testing.T) {
	engine, jobs, reports := newEngine()
	ctx := context.Background()

	oldJob := finishedJob("10.0.0.5", []domain.Finding{
		{CVEID: "CVE-2024-0001", Title: "OpenSSH RCE", Severity: "HIGH", Port: 22, Protocol: "tcp"},
		{Title: "Directory listing", Severity: "MEDIUM", Port: 80, Protocol: "tcp"},
	}, `{"summary":{"risk_level":"MEDIUM"}}`)
	newJob := finishedJob("10.0.0.5", []domain.Finding{
		{CVEID: "CVE-2024-0001", Title: "OpenSSH RCE", Severity: "CRITICAL", Port: 22, Protocol: "tcp"},
		{Title: "Expired certificate", Severity: "LOW", Port: 443, Protocol: "tcp"},
	}, `{"summary":{"risk_level":"HIGH"}}`)
	require.NoError(t, jobs.Create(ctx, oldJob))
	require.NoError(t, jobs.Create(ctx, newJob))

	delta, err := engine.Compare(ctx, oldJob.ID, newJob.ID)
	require.NoError(t, err)

	require.Len(t, delta.Added, 1)
	assert.Equal(t, "Expired certificate", delta.Added[0].Title)

	require.Len(t, delta.Removed, 1)
	assert.Equal(t, "Directory listing", delta.Removed[0].Title)

	require.Len(t, delta.Changed, 1)
	assert.Equal(t, "CVE-2024-0001", delta.Changed[0].Key)
	assert.Equal(t, "HIGH", delta.Changed[0].OldSeverity)
	assert.Equal(t, "CRITICAL", delta.Changed[0].NewSeverity)

	assert.Equal(t, 0, delta.Unchanged)
	assert.Equal(t, "MEDIUM", delta.RiskLevel.Old)
	assert.Equal(t, "HIGH", delta.RiskLevel.New)

	stored, _ := reports.List(ctx, 0)
	require.Len(t, stored, 1)
	assert.Equal(t, oldJob.ID, stored[0].OldJobID)
	assert.Equal(t, newJob.ID, stored[0].NewJobID)
}

func TestCompareMatchesCompositeKeys(t *testing.T) {
	engine, jobs, _ := newEngine()
	ctx := context.Background()

	oldJob := finishedJob("10.0.0.5", []domain.Finding{
		{Title: "Weak Cipher Suite", Severity: "low", Port: 443, Protocol: "TCP"},
	}, "")
	newJob := finishedJob("10.0.0.5", []domain.Finding{
		{Title: "weak cipher suite", Severity: "LOW", Port: 443, Protocol: "tcp"},
	}, "")
	require.NoError(t, jobs.Create(ctx, oldJob))
	require.NoError(t, jobs.Create(ctx, newJob))

	delta, err := engine.Compare(ctx, oldJob.ID, newJob.ID)
	require.NoError(t, err)
	assert.Empty(t, delta.Added)
	assert.Empty(t, delta.Removed)
	assert.Empty(t, delta.Changed)
	assert.Equal(t, 1, delta.Unchanged)
}

func TestCompareRejectsBadPairs(t *testing.T) {
	engine, jobs, _ := newEngine()
	ctx := context.Background()

	finished := finishedJob("10.0.0.5", nil, "")
	otherTarget := finishedJob("10.0.0.9", nil, "")
	running := finishedJob("10.0.0.5", nil, "")
	running.Status = domain.JobStatusRunning
	require.NoError(t, jobs.Create(ctx, finished))
	require.NoError(t, jobs.Create(ctx, otherTarget))
	require.NoError(t, jobs.Create(ctx, running))

	_, err := engine.Compare(ctx, finished.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = engine.Compare(ctx, finished.ID, running.ID)
	assert.ErrorIs(t, err, domain.ErrNotComparable)

	_, err = engine.Compare(ctx, finished.ID, otherTarget.ID)
	assert.ErrorIs(t, err, domain.ErrNotComparable)
}

func TestCompareRecomputesEachRequest(t *testing.T) {
	engine, jobs, reports := newEngine()
	ctx := context.Background()

	oldJob := finishedJob("10.0.0.5", nil, "")
	newJob := finishedJob("10.0.0.5", nil, "")
	require.NoError(t, jobs.Create(ctx, oldJob))
	require.NoError(t, jobs.Create(ctx, newJob))

	_, err := engine.Compare(ctx, oldJob.ID, newJob.ID)
	require.NoError(t, err)

	// Results appended after the first comparison show up in the next.
	raw, _ := json.Marshal([]domain.Finding{{Title: "New issue", Severity: "HIGH", Port: 8080, Protocol: "tcp"}})
	newJob.VulnerabilityResults = types.JSONText(raw)
	require.NoError(t, jobs.Update(ctx, newJob))

	delta, err := engine.Compare(ctx, oldJob.ID, newJob.ID)
	require.NoError(t, err)
	assert.Len(t, delta.Added, 1)

	stored, _ := reports.List(ctx, 0)
	assert.Len(t, stored, 2, "every request persists a fresh report")
}
