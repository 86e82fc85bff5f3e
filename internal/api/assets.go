package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/21Micheal/netsec/internal/domain"
)

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.assets.List(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"assets": assets, "count": len(assets)})
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	asset, err := s.assets.Get(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, asset)
}

func (s *Server) handleAssetVulnerabilities(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if _, err := s.assets.Get(r.Context(), id); err != nil {
		s.renderError(w, r, err)
		return
	}

	vulns, err := s.vulns.ListByAsset(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"vulnerabilities": vulns, "count": len(vulns)})
}

type vulnStatusRequest struct {
	Status domain.VulnStatus `json:"status"`
}

// handleVulnerabilityStatus moves a finding through triage. Marking a
// finding fixed stamps fixed_at; moving it back clears the stamp.
func (s *Server) handleVulnerabilityStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	var req vulnStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.renderError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidRequest))
		return
	}
	if !req.Status.Valid() {
		s.renderError(w, r, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, req.Status))
		return
	}

	vuln, err := s.vulns.Get(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	vuln.Status = req.Status
	if req.Status == domain.VulnStatusFixed {
		now := time.Now().UTC()
		vuln.FixedAt = &now
	} else {
		vuln.FixedAt = nil
	}
	if err := s.vulns.Update(r.Context(), vuln); err != nil {
		s.renderError(w, r, err)
		return
	}

	s.metrics.IncrementCounter("vulnerability_status_changes",
		map[string]string{"status": string(req.Status)})
	render.JSON(w, r, vuln)
}
