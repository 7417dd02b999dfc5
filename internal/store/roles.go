// ABOUTME: Role-to-permission assignments for the authorization engine
// ABOUTME: Roles are carried on caller identity; this table maps them to permissions

package store

import (
	"context"
	"fmt"
	"time"
)

// RolePermission assigns a Permission to every caller holding Role.
type RolePermission struct {
	Role         string
	PermissionID string
	AssignedBy   string
	AssignedAt   time.Time
	Permission   *Permission // populated by ListRolePermissions
}

// AssignRolePermission assigns a permission to a role. This operation is
// idempotent - assigning an existing pair succeeds silently.
func (s *SQLStore) AssignRolePermission(ctx context.Context, rp *RolePermission) error {
	if rp.AssignedAt.IsZero() {
		rp.AssignedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, s.db, `
		INSERT INTO role_permissions (role, permission_id, assigned_by, assigned_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (role, permission_id) DO NOTHING`,
		rp.Role,
		rp.PermissionID,
		rp.AssignedBy,
		formatTime(rp.AssignedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("permission %s: %w", rp.PermissionID, ErrNotFound)
		}
		return fmt.Errorf("assigning role permission: %w", err)
	}

	s.logger.Debug("assigned role permission", "role", rp.Role, "permission_id", rp.PermissionID)
	return nil
}

// RemoveRolePermission removes an assignment. This operation is idempotent.
func (s *SQLStore) RemoveRolePermission(ctx context.Context, role, permissionID string) error {
	_, err := s.exec(ctx, s.db, `DELETE FROM role_permissions WHERE role = ? AND permission_id = ?`, role, permissionID)
	if err != nil {
		return fmt.Errorf("removing role permission: %w", err)
	}

	s.logger.Debug("removed role permission", "role", role, "permission_id", permissionID)
	return nil
}

// ListRolePermissions returns the assignments for any of roles. Returns an
// empty slice when roles is empty.
func (s *SQLStore) ListRolePermissions(ctx context.Context, roles []string) ([]*RolePermission, error) {
	if len(roles) == 0 {
		return []*RolePermission{}, nil
	}
	in, args := inClause(roles)

	rows, err := s.query(ctx, s.db, `
		SELECT rp.role, rp.permission_id, rp.assigned_by, rp.assigned_at, `+permissionColumns+`
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role IN `+in+`
		ORDER BY rp.role, p.created_at, p.id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing role permissions: %w", err)
	}
	defer rows.Close()

	result := []*RolePermission{}
	for rows.Next() {
		var rp RolePermission
		var assignedAt string
		p, err := scanPermission(rowFunc(func(dest ...any) error {
			head := []any{&rp.Role, &rp.PermissionID, &rp.AssignedBy, &assignedAt}
			return rows.Scan(append(head, dest...)...)
		}))
		if err != nil {
			return nil, fmt.Errorf("scanning role permission: %w", err)
		}
		if rp.AssignedAt, err = parseTime(assignedAt); err != nil {
			return nil, fmt.Errorf("parsing assigned_at: %w", err)
		}
		rp.Permission = p
		result = append(result, &rp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating role permissions: %w", err)
	}

	return result, nil
}
