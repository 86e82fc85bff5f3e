package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/render"

	"github.com/21Micheal/netsec/internal/domain"
	"github.com/21Micheal/netsec/internal/orchestrator"
	"github.com/21Micheal/netsec/internal/repository"
)

type createScanRequest struct {
	Target   string          `json:"target"`
	Profile  string          `json:"profile"`
	ScanType domain.ScanType `json:"scan_type"`
	Config   json.RawMessage `json:"config,omitempty"`
}

func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	var req createScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.renderError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidRequest))
		return
	}

	job, err := s.orch.Create(r.Context(), orchestrator.CreateRequest{
		Target:   req.Target,
		Profile:  req.Profile,
		ScanType: req.ScanType,
		Config:   req.Config,
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, job)
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	filter := repository.JobFilter{
		Status:  domain.JobStatus(r.URL.Query().Get("status")),
		Profile: strings.ToLower(r.URL.Query().Get("profile")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.renderError(w, r, fmt.Errorf("%w: bad limit %q", domain.ErrInvalidRequest, raw))
			return
		}
		filter.Limit = limit
	}

	jobs, err := s.jobs.List(r.Context(), filter)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"scans": jobs, "count": len(jobs)})
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

func (s *Server) handleScanLogs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"job_id":   job.ID,
		"status":   job.Status,
		"progress": job.Progress,
		"log":      job.Log,
	})
}

func (s *Server) handleScanInsights(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	var insights interface{}
	if len(job.Insights) > 0 {
		insights = json.RawMessage(job.Insights)
	}
	var findings interface{}
	if len(job.VulnerabilityResults) > 0 {
		findings = json.RawMessage(job.VulnerabilityResults)
	}
	render.JSON(w, r, map[string]interface{}{
		"job_id":   job.ID,
		"status":   job.Status,
		"insights": insights,
		"findings": findings,
	})
}

type progressRequest struct {
	Progress int    `json:"progress"`
	Line     string `json:"line,omitempty"`
}

// handleScanProgress is the callback the execution workers post
// progress and log lines to.
func (s *Server) handleScanProgress(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.renderError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidRequest))
		return
	}

	if err := s.orch.ReportProgress(r.Context(), id, req.Progress, req.Line); err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"status": "accepted"})
}

type completeRequest struct {
	Success  bool             `json:"success"`
	Error    string           `json:"error,omitempty"`
	Insights json.RawMessage  `json:"insights,omitempty"`
	Findings []domain.Finding `json:"findings,omitempty"`
}

// handleScanComplete is the callback the execution workers post the
// final outcome to.
func (s *Server) handleScanComplete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.renderError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidRequest))
		return
	}

	job, err := s.orch.Complete(r.Context(), id, orchestrator.Outcome{
		Success:  req.Success,
		Error:    req.Error,
		Insights: req.Insights,
		Findings: req.Findings,
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

func (s *Server) handleRetryScan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	job, err := s.orch.Retry(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, job)
}

func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := s.orch.Cancel(r.Context(), id); err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"status": "cancelled"})
}
