// ABOUTME: Server registry persistence: CRUD, filtered listing, bulk operations
// ABOUTME: Name uniqueness per organization is enforced by the servers UNIQUE constraint

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const serverColumns = `id, name, description, url, server_type, auth_type, credentials, connection_info,
	capabilities, status, is_active, organization_id, created_by, created_at, updated_at, last_health_check`

// CreateServer inserts a server. Returns ErrConflict if the name is taken
// within the organization.
func (s *SQLStore) CreateServer(ctx context.Context, srv *Server) error {
	if srv.ID == "" {
		srv.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if srv.CreatedAt.IsZero() {
		srv.CreatedAt = now
	}
	if srv.UpdatedAt.IsZero() {
		srv.UpdatedAt = srv.CreatedAt
	}
	if srv.Status == "" {
		srv.Status = StatusUnknown
	}

	query := `INSERT INTO servers (` + serverColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.exec(ctx, s.db, query,
		srv.ID,
		srv.Name,
		srv.Description,
		srv.URL,
		string(srv.ServerType),
		string(srv.AuthType),
		nullBytes(srv.Credentials),
		nullBytes(srv.ConnectionInfo),
		nullBytes(srv.Capabilities),
		string(srv.Status),
		boolInt(srv.IsActive),
		srv.OrganizationID,
		srv.CreatedBy,
		formatTime(srv.CreatedAt),
		formatTime(srv.UpdatedAt),
		formatTimePtr(srv.LastHealthCheck),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("server %q in organization %q: %w", srv.Name, srv.OrganizationID, ErrConflict)
		}
		return fmt.Errorf("inserting server: %w", err)
	}

	s.logger.Debug("created server", "id", srv.ID, "name", srv.Name, "org", srv.OrganizationID)
	return nil
}

// GetServer retrieves a server by ID.
// Returns ErrNotFound if the server doesn't exist.
func (s *SQLStore) GetServer(ctx context.Context, id string) (*Server, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)
	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying server: %w", err)
	}
	return srv, nil
}

// UpdateServer writes a server's descriptive fields. Status, activity,
// credentials and health timestamps have their own writers and are left
// untouched, so a concurrent deactivation survives an edit.
func (s *SQLStore) UpdateServer(ctx context.Context, srv *Server) error {
	srv.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE servers
		SET name = ?, description = ?, url = ?, server_type = ?, auth_type = ?,
			connection_info = ?, capabilities = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.exec(ctx, s.db, query,
		srv.Name,
		srv.Description,
		srv.URL,
		string(srv.ServerType),
		string(srv.AuthType),
		nullBytes(srv.ConnectionInfo),
		nullBytes(srv.Capabilities),
		formatTime(srv.UpdatedAt),
		srv.ID,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("server %q in organization %q: %w", srv.Name, srv.OrganizationID, ErrConflict)
		}
		return fmt.Errorf("updating server: %w", err)
	}
	if err := expectRow(result); err != nil {
		return err
	}

	s.logger.Debug("updated server", "id", srv.ID)
	return nil
}

// SetServerCredentials replaces the stored credential reference. A nil ref
// clears it.
func (s *SQLStore) SetServerCredentials(ctx context.Context, id string, ref []byte) error {
	result, err := s.exec(ctx, s.db,
		`UPDATE servers SET credentials = ?, updated_at = ? WHERE id = ?`,
		nullBytes(ref), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating server credentials: %w", err)
	}
	return expectRow(result)
}

func expectRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteServer removes a server. With cascade its history goes in the same
// transaction; without it, existing history returns ErrHasHistory.
func (s *SQLStore) DeleteServer(ctx context.Context, id string, cascade bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := s.deleteServers(ctx, tx, "", []string{id}, cascade)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		s.logger.Debug("deleted server", "id", id, "cascade", cascade)
		return nil
	})
}

// BulkDeleteServers deletes the servers in ids owned by orgID. Unknown or
// foreign ids are skipped. Returns the number deleted.
func (s *SQLStore) BulkDeleteServers(ctx context.Context, orgID string, ids []string, cascade bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := s.deleteServers(ctx, tx, orgID, ids, cascade)
		deleted = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *SQLStore) deleteServers(ctx context.Context, tx *sql.Tx, orgID string, ids []string, cascade bool) (int64, error) {
	in, args := inClause(ids)
	scope := `id IN ` + in
	if orgID != "" {
		scope += ` AND organization_id = ?`
		args = append(args, orgID)
	}

	rows, err := s.query(ctx, tx, `SELECT id FROM servers WHERE `+scope, args...)
	if err != nil {
		return 0, fmt.Errorf("selecting servers: %w", err)
	}
	var owned []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning server id: %w", err)
		}
		owned = append(owned, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating server ids: %w", err)
	}
	if len(owned) == 0 {
		return 0, nil
	}

	ownedIn, ownedArgs := inClause(owned)
	if !cascade {
		var history int64
		err := s.queryRow(ctx, tx, `
			SELECT (SELECT COUNT(*) FROM server_health_checks WHERE server_id IN `+ownedIn+`)
			     + (SELECT COUNT(*) FROM tool_executions WHERE server_id IN `+ownedIn+`)`,
			append(append([]any{}, ownedArgs...), ownedArgs...)...,
		).Scan(&history)
		if err != nil {
			return 0, fmt.Errorf("counting server history: %w", err)
		}
		if history > 0 {
			return 0, ErrHasHistory
		}
	}

	for _, table := range []string{"server_health_checks", "tool_executions", "server_counters"} {
		if _, err := s.exec(ctx, tx, `DELETE FROM `+table+` WHERE server_id IN `+ownedIn, ownedArgs...); err != nil {
			return 0, fmt.Errorf("deleting from %s: %w", table, err)
		}
	}
	result, err := s.exec(ctx, tx, `DELETE FROM servers WHERE id IN `+ownedIn, ownedArgs...)
	if err != nil {
		return 0, fmt.Errorf("deleting servers: %w", err)
	}
	return result.RowsAffected()
}

// ListServers returns one page of servers matching f and the total match count.
func (s *SQLStore) ListServers(ctx context.Context, f ServerFilter) ([]*Server, int, error) {
	where, args := serverWhere(f)
	page, size := NormalizePage(f.Page, f.PageSize)

	var total int
	if err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM servers`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting servers: %w", err)
	}

	direction := "ASC"
	if f.SortDesc {
		direction = "DESC"
	}
	query := `SELECT ` + serverColumns + ` FROM servers` + where +
		` ORDER BY ` + sortColumn(f.SortBy) + ` ` + direction + `, id ASC LIMIT ? OFFSET ?`
	args = append(args, size, (page-1)*size)

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying servers: %w", err)
	}
	defer rows.Close()

	var servers []*Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning server row: %w", err)
		}
		servers = append(servers, srv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating server rows: %w", err)
	}

	return servers, total, nil
}

func serverWhere(f ServerFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.OrganizationID != "" {
		clauses = append(clauses, "organization_id = ?")
		args = append(args, f.OrganizationID)
	}
	if f.ServerType != nil {
		clauses = append(clauses, "server_type = ?")
		args = append(args, string(*f.ServerType))
	}
	if f.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.IsActive != nil {
		clauses = append(clauses, "is_active = ?")
		args = append(args, boolInt(*f.IsActive))
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
		clauses = append(clauses, `(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// sortColumn maps a requested sort field to a column, defaulting to name.
func sortColumn(field string) string {
	switch strings.ToLower(field) {
	case "created_at", "createdat":
		return "created_at"
	case "updated_at", "updatedat":
		return "updated_at"
	case "status":
		return "status"
	case "server_type", "servertype", "type":
		return "server_type"
	case "last_health_check", "lasthealthcheck":
		return "last_health_check"
	default:
		return "name"
	}
}

// normalizePage applies page >= 1 and a page size default of 20, capped at 100.
// Page sizes outside [1, MaxPageSize] are clamped by NormalizePage.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NormalizePage applies the 1-indexed page and page-size defaults.
func NormalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// ServerExists reports whether id exists in orgID.
func (s *SQLStore) ServerExists(ctx context.Context, orgID, id string) (bool, error) {
	var n int
	err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM servers WHERE id = ? AND organization_id = ?`, id, orgID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking server existence: %w", err)
	}
	return n > 0, nil
}

// ServerNameExists reports whether name is taken in orgID by a server other
// than excludeID.
func (s *SQLStore) ServerNameExists(ctx context.Context, orgID, name, excludeID string) (bool, error) {
	var n int
	err := s.queryRow(ctx, s.db,
		`SELECT COUNT(*) FROM servers WHERE organization_id = ? AND name = ? AND id <> ?`,
		orgID, name, excludeID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking server name: %w", err)
	}
	return n > 0, nil
}

// SetServerStatus moves a server from status from to status to and, when
// checkedAt is set, records the health check time. It reports false without
// writing when the stored status is no longer from.
func (s *SQLStore) SetServerStatus(ctx context.Context, id string, from, to ServerStatus, checkedAt *time.Time) (bool, error) {
	query := `UPDATE servers SET status = ?, updated_at = ?, last_health_check = COALESCE(?, last_health_check)
		WHERE id = ? AND status = ?`
	result, err := s.exec(ctx, s.db, query, string(to), formatTime(time.Now()), formatTimePtr(checkedAt), id, string(from))
	if err != nil {
		return false, fmt.Errorf("updating server status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return n > 0, nil
}

// BulkUpdateStatus sets status on the servers in ids owned by orgID.
// Deactivated also clears is_active; any other status sets it.
func (s *SQLStore) BulkUpdateStatus(ctx context.Context, orgID string, ids []string, status ServerStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	in, idArgs := inClause(ids)
	args := []any{string(status), boolInt(status != StatusDeactivated), formatTime(time.Now())}
	args = append(args, idArgs...)
	args = append(args, orgID)

	result, err := s.exec(ctx, s.db,
		`UPDATE servers SET status = ?, is_active = ?, updated_at = ? WHERE id IN `+in+` AND organization_id = ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("bulk updating status: %w", err)
	}
	return result.RowsAffected()
}

// DeactivateStale deactivates active servers whose last health check (or
// creation time, if never checked) is before cutoff.
func (s *SQLStore) DeactivateStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.exec(ctx, s.db, `
		UPDATE servers
		SET status = ?, is_active = 0, updated_at = ?
		WHERE is_active = 1 AND COALESCE(last_health_check, created_at) < ?`,
		string(StatusDeactivated), formatTime(time.Now()), formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("deactivating stale servers: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Info("deactivated stale servers", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (*Server, error) {
	var srv Server
	var serverType, authType, status string
	var creds, connInfo, caps, lastCheck sql.NullString
	var isActive int
	var createdAt, updatedAt string

	err := row.Scan(
		&srv.ID,
		&srv.Name,
		&srv.Description,
		&srv.URL,
		&serverType,
		&authType,
		&creds,
		&connInfo,
		&caps,
		&status,
		&isActive,
		&srv.OrganizationID,
		&srv.CreatedBy,
		&createdAt,
		&updatedAt,
		&lastCheck,
	)
	if err != nil {
		return nil, err
	}

	srv.ServerType = ServerType(serverType)
	srv.AuthType = AuthType(authType)
	srv.Status = ServerStatus(status)
	srv.IsActive = isActive != 0
	if creds.Valid {
		srv.Credentials = []byte(creds.String)
	}
	if connInfo.Valid {
		srv.ConnectionInfo = []byte(connInfo.String)
	}
	if caps.Valid {
		srv.Capabilities = []byte(caps.String)
	}

	if srv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if srv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if srv.LastHealthCheck, err = parseTimePtr(lastCheck); err != nil {
		return nil, fmt.Errorf("parsing last_health_check: %w", err)
	}
	return &srv, nil
}
