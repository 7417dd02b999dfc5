// ABOUTME: SQL implementation of the Store interface for SQLite (modernc.org/sqlite) and Postgres (pgx)
// ABOUTME: Handles connection setup, dialect placeholders, schema creation and shared helpers

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

var _ Store = (*SQLStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Per-connection pragmas go in the DSN so every pooled connection gets them
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := newSQLStore(db, dialectSQLite)
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// NewPostgresStore connects to Postgres through the pgx stdlib driver.
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := newSQLStore(db, dialectPostgres)
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("Postgres store initialized")
	return s, nil
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: d,
		logger:  slog.Default().With("component", "store", "dialect", d.String()),
	}
}

// createSchema creates the database tables if they don't exist. The DDL is
// portable between SQLite and Postgres: booleans are INTEGER 0/1 and
// timestamps are fixed-width TEXT.
func (s *SQLStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS servers (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			description       TEXT NOT NULL DEFAULT '',
			url               TEXT NOT NULL,
			server_type       TEXT NOT NULL,
			auth_type         TEXT NOT NULL,
			credentials       TEXT,
			connection_info   TEXT,
			capabilities      TEXT,
			status            TEXT NOT NULL,
			is_active         INTEGER NOT NULL DEFAULT 1,
			organization_id   TEXT NOT NULL,
			created_by        TEXT NOT NULL,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL,
			last_health_check TEXT,
			UNIQUE (name, organization_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_servers_org ON servers(organization_id)`,
		`CREATE INDEX IF NOT EXISTS idx_servers_status ON servers(status)`,

		`CREATE TABLE IF NOT EXISTS server_health_checks (
			id               TEXT PRIMARY KEY,
			server_id        TEXT NOT NULL REFERENCES servers(id),
			status           TEXT NOT NULL,
			checked_at       TEXT NOT NULL,
			response_time_ms BIGINT NOT NULL,
			error_message    TEXT,
			details          TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_health_server_checked ON server_health_checks(server_id, checked_at)`,

		`CREATE TABLE IF NOT EXISTS tool_executions (
			id          TEXT PRIMARY KEY,
			server_id   TEXT NOT NULL REFERENCES servers(id),
			tool_name   TEXT NOT NULL,
			caller_id   TEXT NOT NULL,
			success     INTEGER NOT NULL,
			duration_ms BIGINT NOT NULL,
			error_kind  TEXT,
			executed_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_server_time ON tool_executions(server_id, executed_at)`,

		`CREATE TABLE IF NOT EXISTS server_counters (
			server_id           TEXT PRIMARY KEY REFERENCES servers(id),
			total_requests      BIGINT NOT NULL DEFAULT 0,
			successful_requests BIGINT NOT NULL DEFAULT 0,
			failed_requests     BIGINT NOT NULL DEFAULT 0,
			total_duration_ms   BIGINT NOT NULL DEFAULT 0,
			last_executed_at    TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS permissions (
			id              TEXT PRIMARY KEY,
			resource        TEXT NOT NULL,
			action          TEXT NOT NULL,
			effect          TEXT NOT NULL,
			resource_id     TEXT,
			conditions      TEXT,
			organization_id TEXT,
			description     TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,
			CHECK (effect IN ('allow', 'deny'))
		)`,
		`CREATE TABLE IF NOT EXISTS role_permissions (
			role          TEXT NOT NULL,
			permission_id TEXT NOT NULL REFERENCES permissions(id),
			assigned_by   TEXT NOT NULL,
			assigned_at   TEXT NOT NULL,
			PRIMARY KEY (role, permission_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_permissions (
			user_id       TEXT NOT NULL,
			permission_id TEXT NOT NULL REFERENCES permissions(id),
			assigned_by   TEXT NOT NULL,
			assigned_at   TEXT NOT NULL,
			expires_at    TEXT,
			PRIMARY KEY (user_id, permission_id)
		)`,
		`CREATE TABLE IF NOT EXISTS resource_permissions (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			resource    TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			action      TEXT NOT NULL,
			effect      TEXT NOT NULL,
			conditions  TEXT,
			granted_by  TEXT NOT NULL,
			granted_at  TEXT NOT NULL,
			expires_at  TEXT,
			CHECK (effect IN ('allow', 'deny'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_resource_permissions_lookup ON resource_permissions(user_id, resource, action)`,
		`CREATE TABLE IF NOT EXISTS authorization_policies (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL UNIQUE,
			description       TEXT NOT NULL DEFAULT '',
			organization_id   TEXT,
			is_enabled        INTEGER NOT NULL DEFAULT 1,
			required_claims   TEXT,
			allowed_resources TEXT,
			allowed_actions   TEXT,
			conditions        TEXT,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS secrets (
			name       TEXT NOT NULL,
			version    INTEGER NOT NULL,
			value      TEXT NOT NULL,
			enabled    INTEGER NOT NULL DEFAULT 1,
			tags       TEXT,
			expires_at TEXT,
			created_at TEXT NOT NULL,
			PRIMARY KEY (name, version)
		)`,

		`CREATE TABLE IF NOT EXISTS audit_log (
			audit_id    TEXT PRIMARY KEY,
			actor_id    TEXT NOT NULL,
			org_id      TEXT,
			action      TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id   TEXT NOT NULL,
			ts          TEXT NOT NULL,
			detail_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_log(target_type, target_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

// withTx runs fn in a transaction, rolling back on error.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// isConstraintViolation checks if an error is a uniqueness or FK violation.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation || pgErr.Code == pgErrForeignKeyViolation
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// inClause returns "(?, ?, ...)" and the args for ids.
func inClause(ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return "(" + strings.Join(placeholders, ", ") + ")", args
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func ptrToString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
