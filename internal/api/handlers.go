// ABOUTME: Request handlers translating JSON payloads to gateway calls
// ABOUTME: Server responses never include credential material

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/gateway"
	"github.com/2389/mcp-gateway/internal/registry"
	"github.com/2389/mcp-gateway/internal/store"
	"github.com/2389/mcp-gateway/internal/vault"
)

type registerBody struct {
	Name           string                   `json:"name"`
	Description    string                   `json:"description"`
	URL            string                   `json:"url"`
	ServerType     store.ServerType         `json:"serverType"`
	AuthType       store.AuthType           `json:"authType"`
	ConnectionInfo *registry.ConnectionInfo `json:"connectionInfo,omitempty"`
	Capabilities   json.RawMessage          `json:"capabilities,omitempty"`
	Credentials    *vault.Credentials       `json:"credentials,omitempty"`
}

type updateBody struct {
	Name           *string                  `json:"name,omitempty"`
	Description    *string                  `json:"description,omitempty"`
	URL            *string                  `json:"url,omitempty"`
	ServerType     *store.ServerType        `json:"serverType,omitempty"`
	AuthType       *store.AuthType          `json:"authType,omitempty"`
	ConnectionInfo *registry.ConnectionInfo `json:"connectionInfo,omitempty"`
	Capabilities   json.RawMessage          `json:"capabilities,omitempty"`
	Credentials    *vault.Credentials       `json:"credentials,omitempty"`
}

type invokeBody struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type serverResponse struct {
	ID              string                   `json:"id"`
	Name            string                   `json:"name"`
	Description     string                   `json:"description,omitempty"`
	URL             string                   `json:"url"`
	ServerType      store.ServerType         `json:"serverType"`
	AuthType        store.AuthType           `json:"authType"`
	HasCredentials  bool                     `json:"hasCredentials"`
	ConnectionInfo  *registry.ConnectionInfo `json:"connectionInfo,omitempty"`
	Capabilities    json.RawMessage          `json:"capabilities,omitempty"`
	Status          store.ServerStatus       `json:"status"`
	IsActive        bool                     `json:"isActive"`
	OrganizationID  string                   `json:"organizationId"`
	CreatedBy       string                   `json:"createdBy,omitempty"`
	CreatedAt       time.Time                `json:"createdAt"`
	UpdatedAt       time.Time                `json:"updatedAt"`
	LastHealthCheck *time.Time               `json:"lastHealthCheck,omitempty"`
}

type listResponse struct {
	Servers  []serverResponse `json:"servers"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
}

func toResponse(srv *store.Server) serverResponse {
	out := serverResponse{
		ID:              srv.ID,
		Name:            srv.Name,
		Description:     srv.Description,
		URL:             srv.URL,
		ServerType:      srv.ServerType,
		AuthType:        srv.AuthType,
		HasCredentials:  len(srv.Credentials) > 0,
		Status:          srv.Status,
		IsActive:        srv.IsActive,
		OrganizationID:  srv.OrganizationID,
		CreatedBy:       srv.CreatedBy,
		CreatedAt:       srv.CreatedAt,
		UpdatedAt:       srv.UpdatedAt,
		LastHealthCheck: srv.LastHealthCheck,
	}
	if len(srv.Capabilities) > 0 {
		out.Capabilities = srv.Capabilities
	}
	// Headers may hold tokens; only the shape is echoed.
	if ci, err := registry.DecodeConnectionInfo(srv); err == nil && ci != nil {
		redacted := *ci
		if len(ci.Headers) > 0 {
			redacted.Headers = make(map[string]string, len(ci.Headers))
			for k := range ci.Headers {
				redacted.Headers[k] = "***"
			}
		}
		out.ConnectionInfo = &redacted
	}
	return out
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	srv, err := s.svc.RegisterServer(r.Context(), caller(r), gateway.RegisterRequest{
		RegisterRequest: registry.RegisterRequest{
			Name:           body.Name,
			Description:    body.Description,
			URL:            body.URL,
			ServerType:     body.ServerType,
			AuthType:       body.AuthType,
			ConnectionInfo: body.ConnectionInfo,
			Capabilities:   body.Capabilities,
		},
		Credentials: body.Credentials,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/servers/"+srv.ID)
	writeJSON(w, http.StatusCreated, toResponse(srv))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ServerFilter{
		Search:   q.Get("search"),
		SortBy:   q.Get("sort"),
		SortDesc: q.Get("order") == "desc",
	}
	var err error
	if f.Page, err = intParam(q.Get("page"), "page"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.PageSize, err = intParam(q.Get("pageSize"), "pageSize"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.IsActive, err = boolParam(q.Get("active"), "active"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if v := q.Get("status"); v != "" {
		st := store.ServerStatus(v)
		f.Status = &st
	}
	if v := q.Get("type"); v != "" {
		st := store.ServerType(v)
		f.ServerType = &st
	}

	servers, total, err := s.svc.ListServers(r.Context(), caller(r), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, size := store.NormalizePage(f.Page, f.PageSize)
	resp := listResponse{Servers: make([]serverResponse, 0, len(servers)), Total: total, Page: page, PageSize: size}
	for _, srv := range servers {
		resp.Servers = append(resp.Servers, toResponse(srv))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	srv, err := s.svc.GetServer(r.Context(), caller(r), pathID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(srv))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var body updateBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	srv, err := s.svc.UpdateServer(r.Context(), caller(r), pathID(r), gateway.UpdateRequest{
		UpdateRequest: registry.UpdateRequest{
			Name:           body.Name,
			Description:    body.Description,
			URL:            body.URL,
			ServerType:     body.ServerType,
			AuthType:       body.AuthType,
			ConnectionInfo: body.ConnectionInfo,
			Capabilities:   body.Capabilities,
		},
		Credentials: body.Credentials,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(srv))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteServer(r.Context(), caller(r), pathID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var body invokeBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Invoke(r.Context(), caller(r), pathID(r), body.Tool, body.Arguments)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.svc.ListTools(r.Context(), caller(r), pathID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"), "from")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseTime(q.Get("to"), "to")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if from.IsZero() && !to.IsZero() {
		s.writeError(w, r, errs.Validation("to requires from"))
		return
	}

	stats, err := s.svc.Statistics(r.Context(), caller(r), pathID(r), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
