// ABOUTME: HTTP routing, JSON helpers and middleware assembly for the API
// ABOUTME: Wraps the gateway service behind bearer-token authentication

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/mcp-gateway/internal/auth"
	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/gateway"
	"github.com/2389/mcp-gateway/internal/mcp"
	"github.com/2389/mcp-gateway/internal/metrics"
	"github.com/2389/mcp-gateway/internal/registry"
	"github.com/2389/mcp-gateway/internal/store"
	"github.com/2389/mcp-gateway/internal/vault"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Service is the gateway surface the API exposes.
type Service interface {
	Invoke(ctx context.Context, caller *auth.Identity, serverID, tool string, args map[string]any) (*mcp.Result, error)
	ListTools(ctx context.Context, caller *auth.Identity, serverID string) ([]mcp.Tool, error)
	RegisterServer(ctx context.Context, caller *auth.Identity, req gateway.RegisterRequest) (*store.Server, error)
	UpdateServer(ctx context.Context, caller *auth.Identity, id string, req gateway.UpdateRequest) (*store.Server, error)
	DeleteServer(ctx context.Context, caller *auth.Identity, id string) error
	GetServer(ctx context.Context, caller *auth.Identity, id string) (*store.Server, error)
	ListServers(ctx context.Context, caller *auth.Identity, f store.ServerFilter) ([]*store.Server, int, error)
	Statistics(ctx context.Context, caller *auth.Identity, id string, from, to time.Time) (*registry.Statistics, error)

	ActivateServer(ctx context.Context, caller *auth.Identity, id string) error
	DeactivateServer(ctx context.Context, caller *auth.Identity, id string) error
	BulkUpdateStatus(ctx context.Context, caller *auth.Identity, ids []string, status store.ServerStatus) (int64, error)
	BulkDeleteServers(ctx context.Context, caller *auth.Identity, ids []string) (int64, error)
	ServerNameTaken(ctx context.Context, caller *auth.Identity, name, excludeID string) (bool, error)
	HealthHistory(ctx context.Context, caller *auth.Identity, id string, since time.Time) ([]*store.HealthCheck, error)
	LatestHealth(ctx context.Context, caller *auth.Identity, id string) (*store.HealthCheck, error)

	CredentialInfo(ctx context.Context, caller *auth.Identity, id string) (*gateway.CredentialInfo, error)
	DescribeCredentialVersion(ctx context.Context, caller *auth.Identity, id, version string) (*gateway.CredentialVersion, error)
	RotateServerCredentials(ctx context.Context, caller *auth.Identity, id string) (*vault.Reference, error)
	DisableCredentialVersion(ctx context.Context, caller *auth.Identity, id, version string) error
}

// Server holds the API's dependencies.
type Server struct {
	svc         Service
	verifier    auth.TokenVerifier
	metrics     *metrics.Metrics
	metricsPath string
	logger      *slog.Logger
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithMetrics mounts the exposition endpoint and instruments every route.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithMetricsPath moves the exposition endpoint from /metrics.
func WithMetricsPath(p string) Option { return func(s *Server) { s.metricsPath = p } }

func New(svc Service, verifier auth.TokenVerifier, opts ...Option) *Server {
	s := &Server{svc: svc, verifier: verifier, metricsPath: "/metrics", logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "api")
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	authed := auth.Middleware(s.verifier, s.logger)
	// Authentication wraps each route so the mux records its own pattern
	// on the request before the middleware copies it.
	route := func(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authed(h))
	}

	mux := http.NewServeMux()
	route(mux, "POST /api/servers", s.handleRegister)
	route(mux, "GET /api/servers", s.handleList)
	route(mux, "GET /api/servers/{id}", s.handleGet)
	route(mux, "PUT /api/servers/{id}", s.handleUpdate)
	route(mux, "DELETE /api/servers/{id}", s.handleDelete)
	route(mux, "POST /api/servers/{id}/invoke", s.handleInvoke)
	route(mux, "GET /api/servers/{id}/tools", s.handleTools)
	route(mux, "GET /api/servers/{id}/statistics", s.handleStatistics)
	route(mux, "GET /api/servers/name-available", s.handleNameAvailable)
	route(mux, "POST /api/servers/bulk/status", s.handleBulkStatus)
	route(mux, "POST /api/servers/bulk/delete", s.handleBulkDelete)
	route(mux, "POST /api/servers/{id}/activate", s.handleActivate)
	route(mux, "POST /api/servers/{id}/deactivate", s.handleDeactivate)
	route(mux, "GET /api/servers/{id}/health", s.handleHealthHistory)
	route(mux, "GET /api/servers/{id}/health/latest", s.handleLatestHealth)
	route(mux, "GET /api/servers/{id}/credentials", s.handleCredentialInfo)
	route(mux, "POST /api/servers/{id}/credentials/rotate", s.handleRotate)
	route(mux, "GET /api/servers/{id}/credentials/versions/{version}", s.handleCredentialVersion)
	route(mux, "POST /api/servers/{id}/credentials/versions/{version}/disable", s.handleDisableVersion)

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET "+s.metricsPath, s.metrics.Handler())
	}

	if s.metrics != nil {
		return s.metrics.Instrument(mux)
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v, rejecting unknown fields and trailing data.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return errs.Validation("request body exceeds %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			return errs.Validation("request body is empty")
		default:
			return errs.Validation("malformed request body: %v", err)
		}
	}
	if dec.More() {
		return errs.Validation("request body has trailing data")
	}
	return nil
}

func parseTime(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errs.Validation("%s must be RFC 3339: %v", name, err)
	}
	return t, nil
}

func caller(r *http.Request) *auth.Identity {
	return auth.FromContext(r.Context())
}

func pathID(r *http.Request) string {
	return r.PathValue("id")
}

func boolParam(raw, name string) (*bool, error) {
	switch raw {
	case "":
		return nil, nil
	case "true", "1":
		v := true
		return &v, nil
	case "false", "0":
		v := false
		return &v, nil
	}
	return nil, errs.Validation("%s must be true or false", name)
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errs.Validation("%s must be a non-negative integer", name)
	}
	return n, nil
}
