// ABOUTME: Audit log entity and store methods for tracking administrative actions
// ABOUTME: Records who registered, changed or removed servers and who granted permissions

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditRegisterServer    AuditAction = "register_server"
	AuditUpdateServer      AuditAction = "update_server"
	AuditDeleteServer      AuditAction = "delete_server"
	AuditBulkUpdateServers AuditAction = "bulk_update_servers"
	AuditBulkDeleteServers AuditAction = "bulk_delete_servers"
	AuditRotateCredentials AuditAction = "rotate_credentials"
	AuditCreatePermission  AuditAction = "create_permission"
	AuditDeletePermission  AuditAction = "delete_permission"
	AuditGrantPermission   AuditAction = "grant_permission"
	AuditRevokePermission  AuditAction = "revoke_permission"
	AuditCreatePolicy      AuditAction = "create_policy"
	AuditSetPolicyEnabled  AuditAction = "set_policy_enabled"
	AuditDeactivateStale   AuditAction = "deactivate_stale"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID         string
	ActorID    string
	OrgID      string
	Action     AuditAction
	TargetType string // "server", "permission", "policy", "secret"
	TargetID   string
	Timestamp  time.Time
	Detail     map[string]any
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since      *time.Time
	Until      *time.Time
	ActorID    string
	OrgID      string
	Action     AuditAction
	TargetType string
	TargetID   string
	Limit      int // default 100, max 1000
}

// AuditStore persists the audit trail.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON any
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		detailJSON = string(data)
	}

	_, err := s.exec(ctx, s.db, `
		INSERT INTO audit_log (audit_id, actor_id, org_id, action, target_type, target_id, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.ActorID,
		nullString(e.OrgID),
		string(e.Action),
		e.TargetType,
		e.TargetID,
		formatTime(e.Timestamp),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"actor", e.ActorID,
		"action", e.Action,
		"target", e.TargetType+"/"+e.TargetID,
	)
	return nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// ListAuditLog returns audit entries matching the filter criteria.
// Results are returned newest first (DESC by timestamp).
func (s *SQLStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		clauses = append(clauses, clause)
		args = append(args, v)
	}
	if f.Since != nil {
		add("ts >= ?", formatTime(*f.Since))
	}
	if f.Until != nil {
		add("ts <= ?", formatTime(*f.Until))
	}
	if f.ActorID != "" {
		add("actor_id = ?", f.ActorID)
	}
	if f.OrgID != "" {
		add("org_id = ?", f.OrgID)
	}
	if f.Action != "" {
		add("action = ?", string(f.Action))
	}
	if f.TargetType != "" {
		add("target_type = ?", f.TargetType)
	}
	if f.TargetID != "" {
		add("target_id = ?", f.TargetID)
	}

	query := `SELECT audit_id, actor_id, org_id, action, target_type, target_id, ts, detail_json FROM audit_log`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY ts DESC, audit_id DESC LIMIT ?`
	args = append(args, normalizeAuditLimit(f.Limit))

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []AuditEntry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}

// scanAuditEntry scans a row into an AuditEntry.
func scanAuditEntry(scanner rowScanner) (AuditEntry, error) {
	var e AuditEntry
	var actionStr, tsStr string
	var orgID, detailJSON sql.NullString

	if err := scanner.Scan(
		&e.ID,
		&e.ActorID,
		&orgID,
		&actionStr,
		&e.TargetType,
		&e.TargetID,
		&tsStr,
		&detailJSON,
	); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.OrgID = orgID.String
	e.Action = AuditAction(actionStr)
	var err error
	e.Timestamp, err = parseTime(tsStr)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}

	if err := unmarshalJSON(detailJSON, &e.Detail); err != nil {
		return e, fmt.Errorf("unmarshaling detail: %w", err)
	}
	return e, nil
}
