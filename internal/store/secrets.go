// ABOUTME: Versioned secret storage backing the local vault provider
// ABOUTME: Each write appends a new version; values arrive already encrypted

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SecretVersion is one immutable version of a named secret. Value is opaque
// to the store (the vault writes encrypted envelopes).
type SecretVersion struct {
	Name      string
	Version   int
	Value     string
	Enabled   bool
	Tags      map[string]string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// SecretStore persists secret versions.
type SecretStore interface {
	PutSecretVersion(ctx context.Context, sv *SecretVersion) error
	GetSecretVersion(ctx context.Context, name string, version int) (*SecretVersion, error)
	LatestSecretVersion(ctx context.Context, name string) (*SecretVersion, error)
	ListSecretVersions(ctx context.Context, name string) ([]*SecretVersion, error)
	DisableSecretVersion(ctx context.Context, name string, version int) error
	DeleteSecret(ctx context.Context, name string) (int64, error)
}

const maxVersionAttempts = 5

// PutSecretVersion stores sv as the next version of sv.Name and sets
// sv.Version. Concurrent writers race on the primary key and retry.
func (s *SQLStore) PutSecretVersion(ctx context.Context, sv *SecretVersion) error {
	if sv.CreatedAt.IsZero() {
		sv.CreatedAt = time.Now().UTC()
	}
	tags, err := marshalJSON(sv.Tags)
	if err != nil {
		return fmt.Errorf("marshaling tags: %w", err)
	}

	for attempt := 0; attempt < maxVersionAttempts; attempt++ {
		err = s.withTx(ctx, func(tx *sql.Tx) error {
			var current int
			if err := s.queryRow(ctx, tx,
				`SELECT COALESCE(MAX(version), 0) FROM secrets WHERE name = ?`, sv.Name,
			).Scan(&current); err != nil {
				return fmt.Errorf("reading current version: %w", err)
			}

			next := current + 1
			if _, err := s.exec(ctx, tx, `
				INSERT INTO secrets (name, version, value, enabled, tags, expires_at, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				sv.Name, next, sv.Value, boolInt(sv.Enabled), tags, formatTimePtr(sv.ExpiresAt), formatTime(sv.CreatedAt),
			); err != nil {
				if isConstraintViolation(err) {
					return ErrConflict
				}
				return fmt.Errorf("inserting secret version: %w", err)
			}
			sv.Version = next
			return nil
		})
		if !errors.Is(err, ErrConflict) {
			break
		}
	}
	if err != nil {
		return err
	}

	s.logger.Debug("stored secret version", "name", sv.Name, "version", sv.Version)
	return nil
}

// GetSecretVersion returns a specific version, enabled or not.
func (s *SQLStore) GetSecretVersion(ctx context.Context, name string, version int) (*SecretVersion, error) {
	row := s.queryRow(ctx, s.db, `
		SELECT name, version, value, enabled, tags, expires_at, created_at
		FROM secrets WHERE name = ? AND version = ?`,
		name, version,
	)
	return s.scanSecretRow(row)
}

// LatestSecretVersion returns the newest enabled version.
func (s *SQLStore) LatestSecretVersion(ctx context.Context, name string) (*SecretVersion, error) {
	row := s.queryRow(ctx, s.db, `
		SELECT name, version, value, enabled, tags, expires_at, created_at
		FROM secrets WHERE name = ? AND enabled = 1
		ORDER BY version DESC LIMIT 1`,
		name,
	)
	return s.scanSecretRow(row)
}

func (s *SQLStore) scanSecretRow(row *sql.Row) (*SecretVersion, error) {
	sv, err := scanSecretVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying secret: %w", err)
	}
	return sv, nil
}

// ListSecretVersions returns every version of name, newest first.
func (s *SQLStore) ListSecretVersions(ctx context.Context, name string) ([]*SecretVersion, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT name, version, value, enabled, tags, expires_at, created_at
		FROM secrets WHERE name = ?
		ORDER BY version DESC`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("querying secret versions: %w", err)
	}
	defer rows.Close()

	var versions []*SecretVersion
	for rows.Next() {
		sv, err := scanSecretVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning secret version: %w", err)
		}
		versions = append(versions, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating secret versions: %w", err)
	}
	return versions, nil
}

// DisableSecretVersion marks a version disabled. It stays readable by
// explicit version.
func (s *SQLStore) DisableSecretVersion(ctx context.Context, name string, version int) error {
	result, err := s.exec(ctx, s.db, `UPDATE secrets SET enabled = 0 WHERE name = ? AND version = ?`, name, version)
	if err != nil {
		return fmt.Errorf("disabling secret version: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSecret removes every version of name and returns how many were removed.
func (s *SQLStore) DeleteSecret(ctx context.Context, name string) (int64, error) {
	result, err := s.exec(ctx, s.db, `DELETE FROM secrets WHERE name = ?`, name)
	if err != nil {
		return 0, fmt.Errorf("deleting secret: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	s.logger.Debug("deleted secret", "name", name, "versions", n)
	return n, nil
}

func scanSecretVersion(row rowScanner) (*SecretVersion, error) {
	var sv SecretVersion
	var enabled int
	var tags, expiresAt sql.NullString
	var createdAt string

	if err := row.Scan(&sv.Name, &sv.Version, &sv.Value, &enabled, &tags, &expiresAt, &createdAt); err != nil {
		return nil, err
	}
	sv.Enabled = enabled != 0

	var err error
	if err = unmarshalJSON(tags, &sv.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	if sv.ExpiresAt, err = parseTimePtr(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if sv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &sv, nil
}
