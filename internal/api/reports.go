package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/21Micheal/netsec/internal/domain"
)

// handleDiff compares two finished scans of the same target:
// GET /api/reports/diff?old=<job-id>&new=<job-id>
func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	oldID, err := uuid.Parse(r.URL.Query().Get("old"))
	if err != nil {
		s.renderError(w, r, fmt.Errorf("%w: old job id is required", domain.ErrInvalidRequest))
		return
	}
	newID, err := uuid.Parse(r.URL.Query().Get("new"))
	if err != nil {
		s.renderError(w, r, fmt.Errorf("%w: new job id is required", domain.ErrInvalidRequest))
		return
	}

	delta, err := s.differ.Compare(r.Context(), oldID, newID)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, delta)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.renderError(w, r, fmt.Errorf("%w: bad limit %q", domain.ErrInvalidRequest, raw))
			return
		}
		limit = parsed
	}

	reports, err := s.reports.List(r.Context(), limit)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"reports": reports, "count": len(reports)})
}
