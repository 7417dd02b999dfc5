// ABOUTME: Handlers for activation, bulk operations, health history and credential versions
// ABOUTME: Credential routes return references and metadata, never secret values

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
)

// defaultHealthWindow is the history returned when since is omitted.
const defaultHealthWindow = 24 * time.Hour

type bulkBody struct {
	IDs    []string           `json:"ids"`
	Status store.ServerStatus `json:"status,omitempty"`
}

type healthResponse struct {
	ID             string             `json:"id"`
	Status         store.ServerStatus `json:"status"`
	CheckedAt      time.Time          `json:"checkedAt"`
	ResponseTimeMs int64              `json:"responseTimeMs"`
	ErrorMessage   string             `json:"errorMessage,omitempty"`
	Details        json.RawMessage    `json:"details,omitempty"`
}

func toHealthResponse(hc *store.HealthCheck) healthResponse {
	out := healthResponse{
		ID:             hc.ID,
		Status:         hc.Status,
		CheckedAt:      hc.CheckedAt,
		ResponseTimeMs: hc.ResponseTimeMs,
		ErrorMessage:   hc.ErrorMessage,
	}
	if len(hc.Details) > 0 {
		out.Details = hc.Details
	}
	return out
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ActivateServer(r.Context(), caller(r), pathID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeactivateServer(r.Context(), caller(r), pathID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBulkStatus(w http.ResponseWriter, r *http.Request) {
	var body bulkBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.svc.BulkUpdateStatus(r.Context(), caller(r), body.IDs, body.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var body bulkBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Status != "" {
		s.writeError(w, r, errs.Validation("status is not accepted by bulk delete"))
		return
	}
	n, err := s.svc.BulkDeleteServers(r.Context(), caller(r), body.IDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) handleNameAvailable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	taken, err := s.svc.ServerNameTaken(r.Context(), caller(r), q.Get("name"), q.Get("excludeId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": !taken})
}

func (s *Server) handleHealthHistory(w http.ResponseWriter, r *http.Request) {
	since, err := parseTime(r.URL.Query().Get("since"), "since")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if since.IsZero() {
		since = time.Now().Add(-defaultHealthWindow)
	}
	checks, err := s.svc.HealthHistory(r.Context(), caller(r), pathID(r), since)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]healthResponse, 0, len(checks))
	for _, hc := range checks {
		out = append(out, toHealthResponse(hc))
	}
	writeJSON(w, http.StatusOK, map[string]any{"checks": out})
}

func (s *Server) handleLatestHealth(w http.ResponseWriter, r *http.Request) {
	hc, err := s.svc.LatestHealth(r.Context(), caller(r), pathID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHealthResponse(hc))
}

func (s *Server) handleCredentialInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.CredentialInfo(r.Context(), caller(r), pathID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	ref, err := s.svc.RotateServerCredentials(r.Context(), caller(r), pathID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (s *Server) handleCredentialVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.DescribeCredentialVersion(r.Context(), caller(r), pathID(r), r.PathValue("version"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDisableVersion(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DisableCredentialVersion(r.Context(), caller(r), pathID(r), r.PathValue("version")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
