package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/render"

	"github.com/21Micheal/netsec/internal/domain"
	"github.com/21Micheal/netsec/internal/scheduler"
)

type createPlaybookRequest struct {
	Name            string          `json:"name"`
	Target          string          `json:"target"`
	Profile         string          `json:"profile"`
	ScanType        domain.ScanType `json:"scan_type"`
	IntervalMinutes int             `json:"interval_minutes"`
	Enabled         *bool           `json:"enabled,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
}

func (s *Server) handleCreatePlaybook(w http.ResponseWriter, r *http.Request) {
	var req createPlaybookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.renderError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidRequest))
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	playbook, err := s.scheduler.CreatePlaybook(r.Context(), scheduler.PlaybookRequest{
		Name:            req.Name,
		Target:          req.Target,
		Profile:         req.Profile,
		ScanType:        req.ScanType,
		IntervalMinutes: req.IntervalMinutes,
		Enabled:         enabled,
		Tags:            req.Tags,
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, playbook)
}

func (s *Server) handleListPlaybooks(w http.ResponseWriter, r *http.Request) {
	playbooks, err := s.playbooks.List(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"playbooks": playbooks, "count": len(playbooks)})
}

type updatePlaybookRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleUpdatePlaybook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	var req updatePlaybookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		s.renderError(w, r, fmt.Errorf("%w: enabled flag is required", domain.ErrInvalidRequest))
		return
	}

	playbook, err := s.scheduler.SetEnabled(r.Context(), id, *req.Enabled)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, playbook)
}

func (s *Server) handleRunPlaybook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	job, err := s.scheduler.RunPlaybook(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, job)
}

// handleRunDue triggers one evaluation pass. Deployments without an
// internal scheduler tick drive scheduling through this endpoint.
func (s *Server) handleRunDue(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.renderError(w, r, fmt.Errorf("%w: bad limit %q", domain.ErrInvalidRequest, raw))
			return
		}
		limit = parsed
	}

	launched, err := s.scheduler.RunDue(r.Context(), limit)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"launched": launched, "count": len(launched)})
}
