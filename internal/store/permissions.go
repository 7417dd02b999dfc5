// ABOUTME: Permission, user grant, resource override and policy persistence
// ABOUTME: Rows are read by the authorization engine and written only through grant/revoke

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Effect is the outcome a matching permission contributes.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Permission is a class-level (ResourceID nil) or instance-level rule for a
// resource/action pair. OrganizationID nil means global.
type Permission struct {
	ID             string
	Resource       string
	Action         string
	Effect         Effect
	ResourceID     *string
	Conditions     map[string]any
	OrganizationID *string
	Description    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UserPermission assigns a Permission directly to a user.
type UserPermission struct {
	UserID       string
	PermissionID string
	AssignedBy   string
	AssignedAt   time.Time
	ExpiresAt    *time.Time
	Permission   *Permission // populated by ListUserPermissions
}

// ResourcePermission is an instance-scoped override for one user.
type ResourcePermission struct {
	ID         string
	UserID     string
	Resource   string
	ResourceID string
	Action     string
	Effect     Effect
	Conditions map[string]any
	GrantedBy  string
	GrantedAt  time.Time
	ExpiresAt  *time.Time
}

// AuthorizationPolicy is a claim-keyed rule evaluated after explicit grants.
type AuthorizationPolicy struct {
	ID               string
	Name             string
	Description      string
	OrganizationID   *string
	IsEnabled        bool
	RequiredClaims   map[string]string
	AllowedResources []string
	AllowedActions   []string
	Conditions       map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PermissionStore persists authorization data.
type PermissionStore interface {
	CreatePermission(ctx context.Context, p *Permission) error
	GetPermission(ctx context.Context, id string) (*Permission, error)
	DeletePermission(ctx context.Context, id string) error

	AssignRolePermission(ctx context.Context, rp *RolePermission) error
	RemoveRolePermission(ctx context.Context, role, permissionID string) error
	ListRolePermissions(ctx context.Context, roles []string) ([]*RolePermission, error)

	GrantUserPermission(ctx context.Context, up *UserPermission) error
	RevokeUserPermission(ctx context.Context, userID, permissionID string) error
	ListUserPermissions(ctx context.Context, userID string) ([]*UserPermission, error)

	CreateResourcePermission(ctx context.Context, rp *ResourcePermission) error
	DeleteResourcePermission(ctx context.Context, id string) error
	ListResourcePermissions(ctx context.Context, userID, resource, action string) ([]*ResourcePermission, error)

	CreatePolicy(ctx context.Context, p *AuthorizationPolicy) error
	SetPolicyEnabled(ctx context.Context, id string, enabled bool) error
	ListPolicies(ctx context.Context, orgID string) ([]*AuthorizationPolicy, error)
}

const permissionColumns = `p.id, p.resource, p.action, p.effect, p.resource_id, p.conditions,
	p.organization_id, p.description, p.created_at, p.updated_at`

// CreatePermission inserts a permission.
func (s *SQLStore) CreatePermission(ctx context.Context, p *Permission) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt

	conditions, err := marshalJSON(p.Conditions)
	if err != nil {
		return fmt.Errorf("marshaling conditions: %w", err)
	}

	_, err = s.exec(ctx, s.db, `
		INSERT INTO permissions (id, resource, action, effect, resource_id, conditions, organization_id, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Resource,
		p.Action,
		string(p.Effect),
		nullString(ptrToString(p.ResourceID)),
		conditions,
		nullString(ptrToString(p.OrganizationID)),
		p.Description,
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("permission %s: %w", p.ID, ErrConflict)
		}
		return fmt.Errorf("inserting permission: %w", err)
	}

	s.logger.Debug("created permission", "id", p.ID, "resource", p.Resource, "action", p.Action, "effect", p.Effect)
	return nil
}

// GetPermission retrieves a permission by ID.
func (s *SQLStore) GetPermission(ctx context.Context, id string) (*Permission, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+permissionColumns+` FROM permissions p WHERE p.id = ?`, id)
	p, err := scanPermission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying permission: %w", err)
	}
	return p, nil
}

// DeletePermission removes a permission and every assignment of it.
func (s *SQLStore) DeletePermission(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"role_permissions", "user_permissions"} {
			if _, err := s.exec(ctx, tx, `DELETE FROM `+table+` WHERE permission_id = ?`, id); err != nil {
				return fmt.Errorf("deleting from %s: %w", table, err)
			}
		}
		result, err := s.exec(ctx, tx, `DELETE FROM permissions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting permission: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GrantUserPermission assigns a permission to a user. Re-granting replaces
// the assignment, including its expiry.
func (s *SQLStore) GrantUserPermission(ctx context.Context, up *UserPermission) error {
	if up.AssignedAt.IsZero() {
		up.AssignedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, s.db, `
		INSERT INTO user_permissions (user_id, permission_id, assigned_by, assigned_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, permission_id) DO UPDATE
		SET assigned_by = excluded.assigned_by, assigned_at = excluded.assigned_at, expires_at = excluded.expires_at`,
		up.UserID,
		up.PermissionID,
		up.AssignedBy,
		formatTime(up.AssignedAt),
		formatTimePtr(up.ExpiresAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("permission %s: %w", up.PermissionID, ErrNotFound)
		}
		return fmt.Errorf("granting user permission: %w", err)
	}

	s.logger.Debug("granted user permission", "user_id", up.UserID, "permission_id", up.PermissionID)
	return nil
}

// RevokeUserPermission removes a user assignment. Idempotent.
func (s *SQLStore) RevokeUserPermission(ctx context.Context, userID, permissionID string) error {
	if _, err := s.exec(ctx, s.db,
		`DELETE FROM user_permissions WHERE user_id = ? AND permission_id = ?`, userID, permissionID,
	); err != nil {
		return fmt.Errorf("revoking user permission: %w", err)
	}
	s.logger.Debug("revoked user permission", "user_id", userID, "permission_id", permissionID)
	return nil
}

// ListUserPermissions returns the user's assignments with their permissions,
// including expired ones. Callers decide expiry against their own clock.
func (s *SQLStore) ListUserPermissions(ctx context.Context, userID string) ([]*UserPermission, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT up.user_id, up.permission_id, up.assigned_by, up.assigned_at, up.expires_at, `+permissionColumns+`
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = ?
		ORDER BY p.created_at, p.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying user permissions: %w", err)
	}
	defer rows.Close()

	var result []*UserPermission
	for rows.Next() {
		var up UserPermission
		var assignedAt string
		var expiresAt sql.NullString
		p, err := scanPermission(rowFunc(func(dest ...any) error {
			head := []any{&up.UserID, &up.PermissionID, &up.AssignedBy, &assignedAt, &expiresAt}
			return rows.Scan(append(head, dest...)...)
		}))
		if err != nil {
			return nil, fmt.Errorf("scanning user permission: %w", err)
		}
		if up.AssignedAt, err = parseTime(assignedAt); err != nil {
			return nil, fmt.Errorf("parsing assigned_at: %w", err)
		}
		if up.ExpiresAt, err = parseTimePtr(expiresAt); err != nil {
			return nil, fmt.Errorf("parsing expires_at: %w", err)
		}
		up.Permission = p
		result = append(result, &up)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user permissions: %w", err)
	}
	return result, nil
}

// CreateResourcePermission inserts an instance-scoped override.
func (s *SQLStore) CreateResourcePermission(ctx context.Context, rp *ResourcePermission) error {
	if rp.ID == "" {
		rp.ID = uuid.New().String()
	}
	if rp.GrantedAt.IsZero() {
		rp.GrantedAt = time.Now().UTC()
	}
	conditions, err := marshalJSON(rp.Conditions)
	if err != nil {
		return fmt.Errorf("marshaling conditions: %w", err)
	}

	_, err = s.exec(ctx, s.db, `
		INSERT INTO resource_permissions (id, user_id, resource, resource_id, action, effect, conditions, granted_by, granted_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rp.ID,
		rp.UserID,
		rp.Resource,
		rp.ResourceID,
		rp.Action,
		string(rp.Effect),
		conditions,
		rp.GrantedBy,
		formatTime(rp.GrantedAt),
		formatTimePtr(rp.ExpiresAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("resource permission %s: %w", rp.ID, ErrConflict)
		}
		return fmt.Errorf("inserting resource permission: %w", err)
	}

	s.logger.Debug("created resource permission", "id", rp.ID, "user_id", rp.UserID, "resource", rp.Resource, "resource_id", rp.ResourceID)
	return nil
}

// DeleteResourcePermission removes an override.
func (s *SQLStore) DeleteResourcePermission(ctx context.Context, id string) error {
	result, err := s.exec(ctx, s.db, `DELETE FROM resource_permissions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting resource permission: %w", err)
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

// ListResourcePermissions returns the user's overrides for resource/action.
func (s *SQLStore) ListResourcePermissions(ctx context.Context, userID, resource, action string) ([]*ResourcePermission, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT id, user_id, resource, resource_id, action, effect, conditions, granted_by, granted_at, expires_at
		FROM resource_permissions
		WHERE user_id = ? AND resource = ? AND action = ?
		ORDER BY granted_at, id`,
		userID, resource, action,
	)
	if err != nil {
		return nil, fmt.Errorf("querying resource permissions: %w", err)
	}
	defer rows.Close()

	var result []*ResourcePermission
	for rows.Next() {
		var rp ResourcePermission
		var effect, grantedAt string
		var conditions, expiresAt sql.NullString
		if err := rows.Scan(&rp.ID, &rp.UserID, &rp.Resource, &rp.ResourceID, &rp.Action, &effect,
			&conditions, &rp.GrantedBy, &grantedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning resource permission: %w", err)
		}
		rp.Effect = Effect(effect)
		if err := unmarshalJSON(conditions, &rp.Conditions); err != nil {
			return nil, fmt.Errorf("decoding conditions: %w", err)
		}
		if rp.GrantedAt, err = parseTime(grantedAt); err != nil {
			return nil, fmt.Errorf("parsing granted_at: %w", err)
		}
		if rp.ExpiresAt, err = parseTimePtr(expiresAt); err != nil {
			return nil, fmt.Errorf("parsing expires_at: %w", err)
		}
		result = append(result, &rp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating resource permissions: %w", err)
	}
	return result, nil
}

// CreatePolicy inserts a policy. Names are unique.
func (s *SQLStore) CreatePolicy(ctx context.Context, p *AuthorizationPolicy) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt

	claims, err := marshalJSON(p.RequiredClaims)
	if err != nil {
		return fmt.Errorf("marshaling required claims: %w", err)
	}
	resources, err := marshalJSON(p.AllowedResources)
	if err != nil {
		return fmt.Errorf("marshaling allowed resources: %w", err)
	}
	actions, err := marshalJSON(p.AllowedActions)
	if err != nil {
		return fmt.Errorf("marshaling allowed actions: %w", err)
	}
	conditions, err := marshalJSON(p.Conditions)
	if err != nil {
		return fmt.Errorf("marshaling conditions: %w", err)
	}

	_, err = s.exec(ctx, s.db, `
		INSERT INTO authorization_policies
			(id, name, description, organization_id, is_enabled, required_claims, allowed_resources, allowed_actions, conditions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Name,
		p.Description,
		nullString(ptrToString(p.OrganizationID)),
		boolInt(p.IsEnabled),
		claims,
		resources,
		actions,
		conditions,
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("policy %q: %w", p.Name, ErrConflict)
		}
		return fmt.Errorf("inserting policy: %w", err)
	}

	s.logger.Debug("created policy", "id", p.ID, "name", p.Name, "enabled", p.IsEnabled)
	return nil
}

// SetPolicyEnabled toggles a policy.
func (s *SQLStore) SetPolicyEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.exec(ctx, s.db,
		`UPDATE authorization_policies SET is_enabled = ?, updated_at = ? WHERE id = ?`,
		boolInt(enabled), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating policy: %w", err)
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

// ListPolicies returns global policies plus those of orgID, enabled or not.
func (s *SQLStore) ListPolicies(ctx context.Context, orgID string) ([]*AuthorizationPolicy, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT id, name, description, organization_id, is_enabled, required_claims, allowed_resources,
			allowed_actions, conditions, created_at, updated_at
		FROM authorization_policies
		WHERE organization_id IS NULL OR organization_id = ?
		ORDER BY name`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying policies: %w", err)
	}
	defer rows.Close()

	var result []*AuthorizationPolicy
	for rows.Next() {
		var p AuthorizationPolicy
		var org, claims, resources, actions, conditions sql.NullString
		var enabled int
		var createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &org, &enabled, &claims, &resources,
			&actions, &conditions, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning policy: %w", err)
		}
		p.OrganizationID = stringPtr(org)
		p.IsEnabled = enabled != 0
		for _, f := range []struct {
			raw sql.NullString
			dst any
		}{{claims, &p.RequiredClaims}, {resources, &p.AllowedResources}, {actions, &p.AllowedActions}, {conditions, &p.Conditions}} {
			if err := unmarshalJSON(f.raw, f.dst); err != nil {
				return nil, fmt.Errorf("decoding policy %s: %w", p.Name, err)
			}
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating policies: %w", err)
	}
	return result, nil
}

// rowFunc adapts a closure to rowScanner.
type rowFunc func(dest ...any) error

func (f rowFunc) Scan(dest ...any) error { return f(dest...) }

func scanPermission(row rowScanner) (*Permission, error) {
	var p Permission
	var effect, createdAt, updatedAt string
	var resourceID, conditions, org sql.NullString

	if err := row.Scan(&p.ID, &p.Resource, &p.Action, &effect, &resourceID, &conditions,
		&org, &p.Description, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Effect = Effect(effect)
	p.ResourceID = stringPtr(resourceID)
	p.OrganizationID = stringPtr(org)

	var err error
	if err = unmarshalJSON(conditions, &p.Conditions); err != nil {
		return nil, fmt.Errorf("decoding conditions: %w", err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &p, nil
}

// marshalJSON encodes v, storing NULL for empty maps and slices.
func marshalJSON(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(t) == 0 {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalJSON(raw sql.NullString, dst any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dst)
}
