package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/21Micheal/netsec/internal/domain"
	"github.com/21Micheal/netsec/internal/observability"
	"github.com/21Micheal/netsec/internal/orchestrator"
)

type playbookStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]domain.Playbook
}

func newPlaybookStore() *playbookStore {
	return &playbookStore{rows: make(map[uuid.UUID]domain.Playbook)}
}

func (s *playbookStore) Create(_ context.Context, p *domain.Playbook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[p.ID] = *p
	return nil
}

func (s *playbookStore) Get(_ context.Context, id uuid.UUID) (*domain.Playbook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := row
	return &copied, nil
}

func (s *playbookStore) Update(_ context.Context, p *domain.Playbook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[p.ID]; !ok {
		return domain.ErrNotFound
	}
	s.rows[p.ID] = *p
	return nil
}

func (s *playbookStore) List(_ context.Context) ([]*domain.Playbook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Playbook, 0, len(s.rows))
	for _, row := range s.rows {
		copied := row
		out = append(out, &copied)
	}
	return out, nil
}

func (s *playbookStore) ListEnabled(_ context.Context) ([]*domain.Playbook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Playbook
	for _, row := range s.rows {
		if row.Enabled {
			copied := row
			out = append(out, &copied)
		}
	}
	return out, nil
}

type stubCreator struct {
	mu        sync.Mutex
	created   []orchestrator.CreateRequest
	createErr error
}

func (c *stubCreator) Create(_ context.Context, req orchestrator.CreateRequest) (*domain.ScanJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return nil, c.createErr
	}
	c.created = append(c.created, req)
	return &domain.ScanJob{
		ID:       uuid.New(),
		Target:   req.Target,
		ScanType: req.ScanType,
		Profile:  req.Profile,
		Status:   domain.JobStatusQueued,
	}, nil
}

func (c *stubCreator) targets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.created))
	for _, req := range c.created {
		out = append(out, req.Target)
	}
	return out
}

func newScheduler(t *testing.T) (*Scheduler, *playbookStore, *stubCreator) {
	t.Helper()
	store := newPlaybookStore()
	creator := &stubCreator{}
	s := New(store, creator, observability.NewNopLogger(), observability.NewNopMetrics())
	return s, store, creator
}

func seedPlaybook(t *testing.T, store *playbookStore, target string, overdueBy time.Duration, enabled bool) *domain.Playbook {
	t.Helper()
	interval := 30 * time.Minute
	lastRun := time.Now().UTC().Add(-interval - overdueBy)
	p := &domain.Playbook{
		ID:              uuid.New(),
		Name:            "playbook-" + target,
		Target:          target,
		Profile:         "default",
		ScanType:        domain.ScanTypeNetwork,
		IntervalMinutes: 30,
		Enabled:         enabled,
		LastRunAt:       &lastRun,
		CreatedAt:       time.Now().UTC().Add(-24 * time.Hour),
	}
	require.NoError(t, store.Create(context.Background(), p))
	return p
}

func TestCreatePlaybookValidatesAndClamps(t *testing.T) {
	s, _, _ := newScheduler(t)
	ctx := context.Background()

	_, err := s.CreatePlaybook(ctx, PlaybookRequest{Target: "10.0.0.1", ScanType: domain.ScanTypeNetwork})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = s.CreatePlaybook(ctx, PlaybookRequest{Name: "nightly", ScanType: domain.ScanTypeNetwork})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	p, err := s.CreatePlaybook(ctx, PlaybookRequest{
		Name:            "nightly",
		Target:          "10.0.0.1",
		ScanType:        domain.ScanTypeNetwork,
		IntervalMinutes: 1,
		Enabled:         true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PlaybookMinIntervalMinutes, p.IntervalMinutes)

	p, err = s.CreatePlaybook(ctx, PlaybookRequest{
		Name:            "yearly",
		Target:          "10.0.0.2",
		ScanType:        domain.ScanTypeNetwork,
		IntervalMinutes: 1_000_000,
		Enabled:         true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PlaybookMaxIntervalMinutes, p.IntervalMinutes)
}

func TestCreatePlaybookEncodesTags(t *testing.T) {
	s, store, _ := newScheduler(t)
	ctx := context.Background()

	tags := []string{"env:\"prod\"", `team\red`, "pci"}
	p, err := s.CreatePlaybook(ctx, PlaybookRequest{
		Name:     "tagged",
		Target:   "10.0.0.3",
		ScanType: domain.ScanTypeNetwork,
		Enabled:  true,
		Tags:     tags,
	})
	require.NoError(t, err)
	require.True(t, json.Valid(p.Tags))

	stored, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	var got []string
	require.NoError(t, json.Unmarshal(stored.Tags, &got))
	assert.Equal(t, tags, got)
}

func TestRunDueOrdersByOverdueAndHonorsLimit(t *testing.T) {
	s, store, creator := newScheduler(t)

	seedPlaybook(t, store, "host-5m", 5*time.Minute, true)
	seedPlaybook(t, store, "host-120m", 120*time.Minute, true)
	seedPlaybook(t, store, "host-60m", 60*time.Minute, true)

	launched, err := s.RunDue(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, launched, 2)

	assert.Equal(t, []string{"host-120m", "host-60m"}, creator.targets())

	creator.mu.Lock()
	defer creator.mu.Unlock()
	for _, req := range creator.created {
		var cfg map[string]string
		require.NoError(t, json.Unmarshal(req.Config, &cfg))
		assert.NotEmpty(t, cfg["playbook_id"], "launched job must name its playbook")
		assert.Equal(t, "playbook-"+req.Target, cfg["playbook_name"])
	}
}

func TestRunDueSkipsDisabledAndNotDue(t *testing.T) {
	s, store, creator := newScheduler(t)

	seedPlaybook(t, store, "disabled", time.Hour, false)
	fresh := seedPlaybook(t, store, "fresh", 0, true)
	// Push fresh within its interval.
	now := time.Now().UTC()
	fresh.LastRunAt = &now
	require.NoError(t, store.Update(context.Background(), fresh))

	launched, err := s.RunDue(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, launched)
	assert.Empty(t, creator.targets())
}

func TestRunDuePrefersNeverRunPlaybooks(t *testing.T) {
	s, store, creator := newScheduler(t)

	seedPlaybook(t, store, "lapsed", 6*time.Hour, true)
	neverRun := &domain.Playbook{
		ID:              uuid.New(),
		Name:            "new-playbook",
		Target:          "never-run",
		Profile:         "default",
		ScanType:        domain.ScanTypeNetwork,
		IntervalMinutes: 30,
		Enabled:         true,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.Create(context.Background(), neverRun))

	launched, err := s.RunDue(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, launched, 1)
	assert.Equal(t, []string{"never-run"}, creator.targets())
}

func TestRunStampsPlaybookOnlyOnSuccess(t *testing.T) {
	s, store, creator := newScheduler(t)
	ctx := context.Background()

	p := seedPlaybook(t, store, "host-a", time.Hour, true)
	before := *p.LastRunAt

	creator.createErr = fmt.Errorf("broker down")
	launched, err := s.RunDue(ctx, 0)
	require.NoError(t, err, "launch failures are skipped, not returned")
	assert.Empty(t, launched)

	stored, _ := store.Get(ctx, p.ID)
	assert.True(t, stored.LastRunAt.Equal(before), "failed launch must not move last_run")

	creator.createErr = nil
	launched, err = s.RunDue(ctx, 0)
	require.NoError(t, err)
	require.Len(t, launched, 1)

	stored, _ = store.Get(ctx, p.ID)
	assert.True(t, stored.LastRunAt.After(before))
	require.NotNil(t, stored.LastJobID)
	assert.Equal(t, launched[0].ID, *stored.LastJobID)
}

func TestRunPlaybookIgnoresSchedule(t *testing.T) {
	s, store, _ := newScheduler(t)
	ctx := context.Background()

	p := seedPlaybook(t, store, "manual", 0, false)
	now := time.Now().UTC()
	p.LastRunAt = &now
	require.NoError(t, store.Update(ctx, p))

	job, err := s.RunPlaybook(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "manual", job.Target)

	_, err = s.RunPlaybook(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
