// ABOUTME: Append-only health check history for registered servers
// ABOUTME: Rows are inserted once and read back by time window or recency

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertHealthCheck appends a health check record.
func (s *SQLStore) InsertHealthCheck(ctx context.Context, hc *HealthCheck) error {
	if hc.ID == "" {
		hc.ID = uuid.New().String()
	}
	if hc.CheckedAt.IsZero() {
		hc.CheckedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, s.db, `
		INSERT INTO server_health_checks (id, server_id, status, checked_at, response_time_ms, error_message, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		hc.ID,
		hc.ServerID,
		string(hc.Status),
		formatTime(hc.CheckedAt),
		hc.ResponseTimeMs,
		nullString(hc.ErrorMessage),
		nullBytes(hc.Details),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("health check for server %s: %w", hc.ServerID, ErrNotFound)
		}
		return fmt.Errorf("inserting health check: %w", err)
	}
	return nil
}

// ListHealthChecks returns checks at or after since, oldest first.
func (s *SQLStore) ListHealthChecks(ctx context.Context, serverID string, since time.Time) ([]*HealthCheck, error) {
	return s.listHealthChecks(ctx, `
		SELECT id, server_id, status, checked_at, response_time_ms, error_message, details
		FROM server_health_checks
		WHERE server_id = ? AND checked_at >= ?
		ORDER BY checked_at ASC, id ASC`,
		serverID, formatTime(since),
	)
}

// RecentHealthChecks returns the newest n checks, newest first.
func (s *SQLStore) RecentHealthChecks(ctx context.Context, serverID string, n int) ([]*HealthCheck, error) {
	if n <= 0 {
		n = 1
	}
	return s.listHealthChecks(ctx, `
		SELECT id, server_id, status, checked_at, response_time_ms, error_message, details
		FROM server_health_checks
		WHERE server_id = ?
		ORDER BY checked_at DESC, id DESC
		LIMIT ?`,
		serverID, n,
	)
}

func (s *SQLStore) listHealthChecks(ctx context.Context, query string, args ...any) ([]*HealthCheck, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying health checks: %w", err)
	}
	defer rows.Close()

	var checks []*HealthCheck
	for rows.Next() {
		var hc HealthCheck
		var status, checkedAt string
		var errMsg, details sql.NullString

		if err := rows.Scan(&hc.ID, &hc.ServerID, &status, &checkedAt, &hc.ResponseTimeMs, &errMsg, &details); err != nil {
			return nil, fmt.Errorf("scanning health check row: %w", err)
		}
		hc.Status = ServerStatus(status)
		hc.ErrorMessage = errMsg.String
		if details.Valid {
			hc.Details = []byte(details.String)
		}
		if hc.CheckedAt, err = parseTime(checkedAt); err != nil {
			return nil, fmt.Errorf("parsing checked_at: %w", err)
		}
		checks = append(checks, &hc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating health check rows: %w", err)
	}
	return checks, nil
}
