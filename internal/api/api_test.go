package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/21Micheal/netsec/internal/database"
	"github.com/21Micheal/netsec/internal/diff"
	"github.com/21Micheal/netsec/internal/domain"
	"github.com/21Micheal/netsec/internal/eventbus"
	"github.com/21Micheal/netsec/internal/observability"
	"github.com/21Micheal/netsec/internal/orchestrator"
	"github.com/21Micheal/netsec/internal/repository"
	"github.com/21Micheal/netsec/internal/scheduler"
)

// In-memory stores shared by the handler tests.

type memStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]domain.ScanJob
	assets    map[uuid.UUID]domain.Asset
	vulns     []domain.Vulnerability
	playbooks map[uuid.UUID]domain.Playbook
	reports   []domain.DiffReport
}

func newMemStore() *memStore {
	return &memStore{
		jobs:      make(map[uuid.UUID]domain.ScanJob),
		assets:    make(map[uuid.UUID]domain.Asset),
		playbooks: make(map[uuid.UUID]domain.Playbook),
	}
}

type memJobs struct{ s *memStore }

func (m memJobs) Create(_ context.Context, job *domain.ScanJob) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.jobs[job.ID] = *job
	return nil
}

func (m memJobs) Get(_ context.Context, id uuid.UUID) (*domain.ScanJob, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	row, ok := m.s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := row
	return &copied, nil
}

func (m memJobs) Update(_ context.Context, job *domain.ScanJob) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.jobs[job.ID]; !ok {
		return domain.ErrNotFound
	}
	m.s.jobs[job.ID] = *job
	return nil
}

func (m memJobs) List(_ context.Context, filter repository.JobFilter) ([]*domain.ScanJob, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*domain.ScanJob
	for _, row := range m.s.jobs {
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		if filter.Profile != "" && row.Profile != filter.Profile {
			continue
		}
		copied := row
		out = append(out, &copied)
	}
	return out, nil
}

type memAssets struct{ s *memStore }

func (m memAssets) Create(_ context.Context, asset *domain.Asset) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.assets[asset.ID] = *asset
	return nil
}

func (m memAssets) Get(_ context.Context, id uuid.UUID) (*domain.Asset, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	row, ok := m.s.assets[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := row
	return &copied, nil
}

func (m memAssets) FindByAddress(_ context.Context, ip, hostname string) (*domain.Asset, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, row := range m.s.assets {
		if ip != "" && row.IPAddress == ip {
			copied := row
			return &copied, nil
		}
		if hostname != "" && row.Hostname != nil && *row.Hostname == hostname {
			copied := row
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m memAssets) Update(_ context.Context, asset *domain.Asset) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.assets[asset.ID] = *asset
	return nil
}

func (m memAssets) List(_ context.Context) ([]*domain.Asset, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*domain.Asset
	for _, row := range m.s.assets {
		copied := row
		out = append(out, &copied)
	}
	return out, nil
}

type memVulns struct{ s *memStore }

func (m memVulns) CreateBatch(_ context.Context, vulns []*domain.Vulnerability) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, v := range vulns {
		m.s.vulns = append(m.s.vulns, *v)
	}
	return nil
}

func (m memVulns) Get(_ context.Context, id uuid.UUID) (*domain.Vulnerability, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, row := range m.s.vulns {
		if row.ID == id {
			copied := row
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m memVulns) Update(_ context.Context, vuln *domain.Vulnerability) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for i, row := range m.s.vulns {
		if row.ID == vuln.ID {
			m.s.vulns[i] = *vuln
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m memVulns) ListByJob(_ context.Context, jobID uuid.UUID) ([]*domain.Vulnerability, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*domain.Vulnerability
	for _, row := range m.s.vulns {
		if row.ScanJobID == jobID {
			copied := row
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m memVulns) ListByAsset(_ context.Context, assetID uuid.UUID) ([]*domain.Vulnerability, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*domain.Vulnerability
	for _, row := range m.s.vulns {
		if row.AssetID == assetID {
			copied := row
			out = append(out, &copied)
		}
	}
	return out, nil
}

type memPlaybooks struct{ s *memStore }

func (m memPlaybooks) Create(_ context.Context, p *domain.Playbook) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.playbooks[p.ID] = *p
	return nil
}

func (m memPlaybooks) Get(_ context.Context, id uuid.UUID) (*domain.Playbook, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	row, ok := m.s.playbooks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := row
	return &copied, nil
}

func (m memPlaybooks) Update(_ context.Context, p *domain.Playbook) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.playbooks[p.ID]; !ok {
		return domain.ErrNotFound
	}
	m.s.playbooks[p.ID] = *p
	return nil
}

func (m memPlaybooks) List(_ context.Context) ([]*domain.Playbook, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*domain.Playbook
	for _, row := range m.s.playbooks {
		copied := row
		out = append(out, &copied)
	}
	return out, nil
}

func (m memPlaybooks) ListEnabled(_ context.Context) ([]*domain.Playbook, error) {
	all, _ := m.List(context.Background())
	var out []*domain.Playbook
	for _, p := range all {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

type memReports struct{ s *memStore }

func (m memReports) Create(_ context.Context, report *domain.DiffReport) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.reports = append(m.s.reports, *report)
	return nil
}

func (m memReports) List(_ context.Context, _ int) ([]*domain.DiffReport, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*domain.DiffReport
	for _, row := range m.s.reports {
		copied := row
		out = append(out, &copied)
	}
	return out, nil
}

type noopDispatcher struct{}

func (noopDispatcher) DispatchScan(context.Context, *domain.ScanJob) error { return nil }
func (noopDispatcher) StopScan(context.Context, uuid.UUID) error           { return nil }

type stubDB struct{ pingErr error }

func (d stubDB) Execute(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, nil
}
func (d stubDB) Query(context.Context, string, ...interface{}) (*sql.Rows, error) { return nil, nil }
func (d stubDB) QueryRow(context.Context, string, ...interface{}) *sql.Row        { return nil }
func (d stubDB) Get(context.Context, interface{}, string, ...interface{}) error   { return nil }
func (d stubDB) Select(context.Context, interface{}, string, ...interface{}) error {
	return nil
}
func (d stubDB) Transaction(context.Context, func(tx database.Transaction) error) error {
	return nil
}
func (d stubDB) Ping(context.Context) error { return d.pingErr }
func (d stubDB) Close() error               { return nil }

type apiFixture struct {
	server *httptest.Server
	store  *memStore
	bus    *eventbus.Bus
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store := newMemStore()
	logger := observability.NewNopLogger()
	metrics := observability.NewNopMetrics()
	bus := eventbus.New(64, logger, metrics)

	jobs := memJobs{store}
	assets := memAssets{store}
	vulns := memVulns{store}
	playbooks := memPlaybooks{store}
	reports := memReports{store}

	orch := orchestrator.New(jobs, assets, vulns, bus, noopDispatcher{}, nil, logger, metrics)
	sched := scheduler.New(playbooks, orch, logger, metrics)
	differ := diff.New(jobs, reports, logger, metrics)

	srv := NewServer(orch, sched, differ, bus, jobs, assets, vulns, playbooks, reports, stubDB{}, logger, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &apiFixture{server: ts, store: store, bus: bus}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		decoded = nil
	}
	resp.Body.Close()
	return resp, decoded
}

func (f *apiFixture) createScan(t *testing.T, target string) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/scans", map[string]interface{}{
		"target":    target,
		"scan_type": "network_scan",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

func TestScanLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createScan(t, "10.1.2.3")

	resp, body := f.do(t, http.MethodGet, "/api/scans/"+id, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "queued", body["status"])

	resp, _ = f.do(t, http.MethodPost, "/api/scans/"+id+"/progress", map[string]interface{}{
		"progress": 35,
		"line":     "probing 10.1.2.3",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/scans/"+id+"/logs", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["log"], "probing 10.1.2.3")
	assert.EqualValues(t, 35, body["progress"])

	resp, body = f.do(t, http.MethodPost, "/api/scans/"+id+"/complete", map[string]interface{}{
		"success":  true,
		"insights": map[string]interface{}{"summary": map[string]string{"risk_level": "LOW"}},
		"findings": []map[string]interface{}{
			{"title": "Open telnet", "severity": "HIGH", "port": 23, "protocol": "tcp"},
		},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "finished", body["status"])
	assert.EqualValues(t, 100, body["progress"])

	resp, body = f.do(t, http.MethodGet, "/api/assets", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])
}

func TestScanValidationOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/scans", map[string]interface{}{
		"target":    "",
		"scan_type": "network_scan",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "target")

	resp, _ = f.do(t, http.MethodGet, "/api/scans/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/scans/not-a-uuid", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelConflictOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createScan(t, "10.1.2.3")

	resp, _ := f.do(t, http.MethodPost, "/api/scans/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/scans/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/scans/"+id+"/retry", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "cancelled jobs are not retryable")
}

func TestRetryOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createScan(t, "10.1.2.3")

	resp, _ := f.do(t, http.MethodPost, "/api/scans/"+id+"/complete", map[string]interface{}{
		"success": false,
		"error":   "tool crashed",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, "/api/scans/"+id+"/retry", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, id, body["parent_scan_id"])
	assert.Equal(t, "queued", body["status"])
}

func TestDiffOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	finish := func(id string, findings []map[string]interface{}) {
		resp, _ := f.do(t, http.MethodPost, "/api/scans/"+id+"/complete", map[string]interface{}{
			"success":  true,
			"findings": findings,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	oldID := f.createScan(t, "10.1.2.3")
	finish(oldID, []map[string]interface{}{
		{"title": "Old issue", "severity": "HIGH", "port": 80, "protocol": "tcp"},
	})
	newID := f.createScan(t, "10.1.2.3")
	finish(newID, []map[string]interface{}{
		{"title": "New issue", "severity": "LOW", "port": 443, "protocol": "tcp"},
	})

	resp, body := f.do(t, http.MethodGet, fmt.Sprintf("/api/reports/diff?old=%s&new=%s", oldID, newID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["added"], 1)
	assert.Len(t, body["removed"], 1)

	otherID := f.createScan(t, "192.168.0.9")
	finish(otherID, nil)
	resp, _ = f.do(t, http.MethodGet, fmt.Sprintf("/api/reports/diff?old=%s&new=%s", oldID, otherID), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/reports/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])
}

func TestPlaybooksOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/playbooks", map[string]interface{}{
		"name":             "nightly sweep",
		"target":           "10.1.2.0",
		"scan_type":        "network_scan",
		"interval_minutes": 60,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	playbookID := body["id"].(string)
	assert.Equal(t, true, body["enabled"])

	resp, body = f.do(t, http.MethodPost, "/api/playbooks/run-due", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"], "never-run playbook is due immediately")

	resp, body = f.do(t, http.MethodPost, "/api/playbooks/run-due", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["count"], "freshly run playbook is not due")

	resp, body = f.do(t, http.MethodPatch, "/api/playbooks/"+playbookID, map[string]interface{}{
		"enabled": false,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["enabled"])

	resp, _ = f.do(t, http.MethodPost, "/api/playbooks/"+playbookID+"/run", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode, "manual run ignores the enabled flag")
}

func TestVulnerabilityTriageOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createScan(t, "10.1.2.3")

	resp, _ := f.do(t, http.MethodPost, "/api/scans/"+id+"/complete", map[string]interface{}{
		"success": true,
		"findings": []map[string]interface{}{
			{"title": "Open telnet", "severity": "HIGH", "port": 23, "protocol": "tcp"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f.store.mu.Lock()
	require.Len(t, f.store.vulns, 1)
	vulnID := f.store.vulns[0].ID
	f.store.mu.Unlock()

	resp, body := f.do(t, http.MethodPatch, "/api/vulnerabilities/"+vulnID.String()+"/status", map[string]interface{}{
		"status": "fixed",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fixed", body["status"])
	assert.NotNil(t, body["fixed_at"])

	resp, _ = f.do(t, http.MethodPatch, "/api/vulnerabilities/"+vulnID.String()+"/status", map[string]interface{}{
		"status": "bogus",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	resp, body := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsExposed(t *testing.T) {
	f := newAPIFixture(t)
	resp, err := f.server.Client().Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
}

func TestScanListFilters(t *testing.T) {
	f := newAPIFixture(t)
	runningID := f.createScan(t, "10.1.2.3")
	doneID := f.createScan(t, "10.1.2.4")

	resp, _ := f.do(t, http.MethodPost, "/api/scans/"+doneID+"/complete", map[string]interface{}{"success": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.do(t, http.MethodGet, "/api/scans/?status=queued", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])
	scans := body["scans"].([]interface{})
	assert.Equal(t, runningID, scans[0].(map[string]interface{})["id"])

	// settle async dispatch goroutines before teardown
	time.Sleep(20 * time.Millisecond)
}
