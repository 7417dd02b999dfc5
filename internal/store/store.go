// ABOUTME: Store interface and data types for mcp-gateway persistence
// ABOUTME: Defines server, health, execution, permission and secret records

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a uniqueness constraint
var ErrConflict = errors.New("conflict")

// ErrHasHistory is returned by a non-cascading delete of a server that has
// health or execution records. It wraps ErrConflict.
var ErrHasHistory = fmt.Errorf("%w: server has health or execution history", ErrConflict)

// ServerStatus is the lifecycle state of a registered server.
type ServerStatus string

const (
	StatusUnknown     ServerStatus = "unknown"
	StatusHealthy     ServerStatus = "healthy"
	StatusDegraded    ServerStatus = "degraded"
	StatusUnhealthy   ServerStatus = "unhealthy"
	StatusDeactivated ServerStatus = "deactivated"
)

// Valid reports whether s is a known status.
func (s ServerStatus) Valid() bool {
	switch s {
	case StatusUnknown, StatusHealthy, StatusDegraded, StatusUnhealthy, StatusDeactivated:
		return true
	}
	return false
}

// ServerType is the transport a registered server speaks.
type ServerType string

const (
	ServerTypeHTTP       ServerType = "http"
	ServerTypeSSE        ServerType = "sse"
	ServerTypeWebSocket  ServerType = "websocket"
	ServerTypeStdioProxy ServerType = "stdio-proxy"
)

// AuthType selects the credential shape used for outbound calls.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthAPIKey AuthType = "api_key"
	AuthBearer AuthType = "bearer"
	AuthOAuth  AuthType = "oauth"
	AuthBasic  AuthType = "basic"
)

// Server is a registered MCP server. Credentials, ConnectionInfo and
// Capabilities are opaque serialized payloads decoded by their owners.
type Server struct {
	ID              string
	Name            string
	Description     string
	URL             string
	ServerType      ServerType
	AuthType        AuthType
	Credentials     []byte // vault reference, JSON
	ConnectionInfo  []byte // JSON
	Capabilities    []byte // JSON
	Status          ServerStatus
	IsActive        bool
	OrganizationID  string
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastHealthCheck *time.Time
}

// ServerFilter selects servers for ListServers. Page is 1-indexed.
type ServerFilter struct {
	OrganizationID string
	ServerType     *ServerType
	Status         *ServerStatus
	IsActive       *bool
	Search         string // case-insensitive match on name or description
	Page           int
	PageSize       int
	SortBy         string // name, created_at, updated_at, status, server_type
	SortDesc       bool
}

// HealthCheck is one probe result. Rows are append-only.
type HealthCheck struct {
	ID             string
	ServerID       string
	Status         ServerStatus
	CheckedAt      time.Time
	ResponseTimeMs int64
	ErrorMessage   string
	Details        []byte // JSON
}

// ToolExecution is one dispatched tool call.
type ToolExecution struct {
	ID         string
	ServerID   string
	ToolName   string
	CallerID   string
	Success    bool
	DurationMs int64
	ErrorKind  string
	ExecutedAt time.Time
}

// ServerCounters are the running totals for a server.
type ServerCounters struct {
	ServerID           string
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	TotalDurationMs    int64
	LastExecutedAt     *time.Time
}

// ExecutionStats aggregates the execution log over a window.
type ExecutionStats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	AvgDurationMs      float64
}

// ServerStore persists servers, health history and execution statistics.
type ServerStore interface {
	CreateServer(ctx context.Context, srv *Server) error
	GetServer(ctx context.Context, id string) (*Server, error)
	UpdateServer(ctx context.Context, srv *Server) error
	DeleteServer(ctx context.Context, id string, cascade bool) error
	ListServers(ctx context.Context, f ServerFilter) ([]*Server, int, error)
	ServerExists(ctx context.Context, orgID, id string) (bool, error)
	ServerNameExists(ctx context.Context, orgID, name, excludeID string) (bool, error)
	SetServerCredentials(ctx context.Context, id string, ref []byte) error
	SetServerStatus(ctx context.Context, id string, from, to ServerStatus, checkedAt *time.Time) (bool, error)
	BulkUpdateStatus(ctx context.Context, orgID string, ids []string, status ServerStatus) (int64, error)
	BulkDeleteServers(ctx context.Context, orgID string, ids []string, cascade bool) (int64, error)
	DeactivateStale(ctx context.Context, cutoff time.Time) (int64, error)

	InsertHealthCheck(ctx context.Context, hc *HealthCheck) error
	ListHealthChecks(ctx context.Context, serverID string, since time.Time) ([]*HealthCheck, error)
	RecentHealthChecks(ctx context.Context, serverID string, n int) ([]*HealthCheck, error)

	RecordToolExecution(ctx context.Context, exec *ToolExecution) error
	GetServerCounters(ctx context.Context, serverID string) (*ServerCounters, error)
	GetExecutionStats(ctx context.Context, serverID string, from, to time.Time) (*ExecutionStats, error)
}

// Store is the complete persistence surface.
type Store interface {
	ServerStore
	PermissionStore
	SecretStore
	AuditStore
	Close() error
}
