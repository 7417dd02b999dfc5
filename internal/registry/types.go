// ABOUTME: Request, configuration and statistics types for the registry
// ABOUTME: ConnectionInfo is the decoded form of the server's connection payload

package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/mcp-gateway/internal/store"
)

// DeletePolicy decides what happens to a server's history on delete.
type DeletePolicy string

const (
	DeleteCascade DeletePolicy = "cascade"
	DeleteReject  DeletePolicy = "reject"
)

// Config holds the registry's policy knobs.
type Config struct {
	HealthyThreshold   int
	UnhealthyThreshold int
	DegradedLatency    time.Duration
	DeletePolicy       DeletePolicy
}

// DefaultConfig returns the shipped defaults.
func DefaultConfig() Config {
	return Config{
		HealthyThreshold:   2,
		UnhealthyThreshold: 3,
		DegradedLatency:    2 * time.Second,
		DeletePolicy:       DeleteCascade,
	}
}

// ConnectionInfo is per-server dispatch configuration.
type ConnectionInfo struct {
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	HealthPath     string            `json:"healthPath,omitempty"`
}

// Timeout returns the per-server timeout, or fallback when unset.
func (c *ConnectionInfo) Timeout(fallback time.Duration) time.Duration {
	if c == nil || c.TimeoutSeconds <= 0 {
		return fallback
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DecodeConnectionInfo parses a server's connection payload. An empty
// payload yields an empty ConnectionInfo.
func DecodeConnectionInfo(srv *store.Server) (*ConnectionInfo, error) {
	var ci ConnectionInfo
	if len(srv.ConnectionInfo) == 0 {
		return &ci, nil
	}
	if err := json.Unmarshal(srv.ConnectionInfo, &ci); err != nil {
		return nil, fmt.Errorf("decoding connection info for %s: %w", srv.ID, err)
	}
	return &ci, nil
}

// RegisterRequest describes a new server.
type RegisterRequest struct {
	Name           string
	Description    string
	URL            string
	ServerType     store.ServerType
	AuthType       store.AuthType
	ConnectionInfo *ConnectionInfo
	Capabilities   json.RawMessage
	OrganizationID string
	CreatedBy      string
}

// UpdateRequest changes the non-nil fields of a server.
type UpdateRequest struct {
	Name           *string
	Description    *string
	URL            *string
	ServerType     *store.ServerType
	AuthType       *store.AuthType
	ConnectionInfo *ConnectionInfo
	Capabilities   json.RawMessage
}

// Statistics summarizes executions over [PeriodStart, PeriodEnd).
// SuccessRate is a percentage and is 0 when there were no requests.
type Statistics struct {
	ServerID           string    `json:"serverId"`
	PeriodStart        time.Time `json:"periodStart"`
	PeriodEnd          time.Time `json:"periodEnd"`
	TotalRequests      int64     `json:"totalRequests"`
	SuccessfulRequests int64     `json:"successfulRequests"`
	FailedRequests     int64     `json:"failedRequests"`
	AvgResponseTimeMs  float64   `json:"avgResponseTimeMs"`
	SuccessRate        float64   `json:"successRate"`
}

func successRate(successful, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(successful) / float64(total) * 100
}
