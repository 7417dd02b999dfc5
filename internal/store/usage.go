// ABOUTME: Tool execution log and per-server running counters
// ABOUTME: Counters are incremented in SQL so concurrent recorders never lose updates

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordToolExecution appends the execution and bumps the server's counters
// in one transaction.
func (s *SQLStore) RecordToolExecution(ctx context.Context, e *ToolExecution) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now().UTC()
	}

	success, failed := 0, 1
	if e.Success {
		success, failed = 1, 0
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := s.exec(ctx, tx, `
			INSERT INTO tool_executions (id, server_id, tool_name, caller_id, success, duration_ms, error_kind, executed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID,
			e.ServerID,
			e.ToolName,
			e.CallerID,
			boolInt(e.Success),
			e.DurationMs,
			nullString(e.ErrorKind),
			formatTime(e.ExecutedAt),
		)
		if err != nil {
			if isConstraintViolation(err) {
				return fmt.Errorf("execution for server %s: %w", e.ServerID, ErrNotFound)
			}
			return fmt.Errorf("inserting tool execution: %w", err)
		}

		if _, err := s.exec(ctx, tx,
			`INSERT INTO server_counters (server_id) VALUES (?) ON CONFLICT (server_id) DO NOTHING`,
			e.ServerID,
		); err != nil {
			return fmt.Errorf("initializing counters: %w", err)
		}

		_, err = s.exec(ctx, tx, `
			UPDATE server_counters
			SET total_requests = total_requests + 1,
				successful_requests = successful_requests + ?,
				failed_requests = failed_requests + ?,
				total_duration_ms = total_duration_ms + ?,
				last_executed_at = ?
			WHERE server_id = ?`,
			success, failed, e.DurationMs, formatTime(e.ExecutedAt), e.ServerID,
		)
		if err != nil {
			return fmt.Errorf("updating counters: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("recorded tool execution",
		"server_id", e.ServerID,
		"tool", e.ToolName,
		"success", e.Success,
		"duration_ms", e.DurationMs,
	)
	return nil
}

// GetServerCounters returns the running counters for a server. A server with
// no executions yields zero counters.
func (s *SQLStore) GetServerCounters(ctx context.Context, serverID string) (*ServerCounters, error) {
	c := ServerCounters{ServerID: serverID}
	var last sql.NullString

	err := s.queryRow(ctx, s.db, `
		SELECT total_requests, successful_requests, failed_requests, total_duration_ms, last_executed_at
		FROM server_counters WHERE server_id = ?`,
		serverID,
	).Scan(&c.TotalRequests, &c.SuccessfulRequests, &c.FailedRequests, &c.TotalDurationMs, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return &c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying counters: %w", err)
	}
	if c.LastExecutedAt, err = parseTimePtr(last); err != nil {
		return nil, fmt.Errorf("parsing last_executed_at: %w", err)
	}
	return &c, nil
}

// GetExecutionStats aggregates executions in [from, to).
func (s *SQLStore) GetExecutionStats(ctx context.Context, serverID string, from, to time.Time) (*ExecutionStats, error) {
	var stats ExecutionStats
	var success sql.NullInt64
	var avg sql.NullFloat64

	err := s.queryRow(ctx, s.db, `
		SELECT COUNT(*), SUM(success), AVG(CAST(duration_ms AS DOUBLE PRECISION))
		FROM tool_executions
		WHERE server_id = ? AND executed_at >= ? AND executed_at < ?`,
		serverID, formatTime(from), formatTime(to),
	).Scan(&stats.TotalRequests, &success, &avg)
	if err != nil {
		return nil, fmt.Errorf("aggregating executions: %w", err)
	}

	stats.SuccessfulRequests = success.Int64
	stats.FailedRequests = stats.TotalRequests - stats.SuccessfulRequests
	stats.AvgDurationMs = avg.Float64
	return &stats, nil
}
