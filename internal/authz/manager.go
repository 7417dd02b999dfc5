// ABOUTME: Grant and revoke operations that write the rules the Engine reads
// ABOUTME: Every change is validated and audited; failures carry an error kind

package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
)

// Writer is the store surface the Manager needs.
type Writer interface {
	store.PermissionStore
	store.AuditStore
}

// Manager mutates permissions, assignments and policies.
type Manager struct {
	store  Writer
	logger *slog.Logger
}

func NewManager(s Writer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: s, logger: logger.With("component", "authz.manager")}
}

// Actor identifies who performs an administrative change.
type Actor struct {
	UserID         string
	OrganizationID string
}

// CreatePermission validates and stores p.
func (m *Manager) CreatePermission(ctx context.Context, actor Actor, p *store.Permission) error {
	if err := validatePermission(p); err != nil {
		return err
	}
	if err := m.store.CreatePermission(ctx, p); err != nil {
		return storeError(err, "creating permission")
	}
	m.audit(ctx, actor, store.AuditCreatePermission, "permission", p.ID, map[string]any{
		"resource": p.Resource, "action": p.Action, "effect": string(p.Effect),
	})
	return nil
}

func (m *Manager) DeletePermission(ctx context.Context, actor Actor, id string) error {
	if err := m.store.DeletePermission(ctx, id); err != nil {
		return storeError(err, "deleting permission %s", id)
	}
	m.audit(ctx, actor, store.AuditDeletePermission, "permission", id, nil)
	return nil
}

// AssignToRole gives every holder of role the permission.
func (m *Manager) AssignToRole(ctx context.Context, actor Actor, role, permissionID string) error {
	if strings.TrimSpace(role) == "" {
		return errs.Validation("role is required")
	}
	rp := &store.RolePermission{Role: role, PermissionID: permissionID, AssignedBy: actor.UserID}
	if err := m.store.AssignRolePermission(ctx, rp); err != nil {
		return storeError(err, "assigning permission %s to role %s", permissionID, role)
	}
	m.audit(ctx, actor, store.AuditGrantPermission, "permission", permissionID, map[string]any{"role": role})
	return nil
}

func (m *Manager) RemoveFromRole(ctx context.Context, actor Actor, role, permissionID string) error {
	if err := m.store.RemoveRolePermission(ctx, role, permissionID); err != nil {
		return storeError(err, "removing permission %s from role %s", permissionID, role)
	}
	m.audit(ctx, actor, store.AuditRevokePermission, "permission", permissionID, map[string]any{"role": role})
	return nil
}

// GrantToUser assigns a permission to a user, optionally expiring.
func (m *Manager) GrantToUser(ctx context.Context, actor Actor, userID, permissionID string, expiresAt *time.Time) error {
	if userID == "" {
		return errs.Validation("user id is required")
	}
	up := &store.UserPermission{
		UserID:       userID,
		PermissionID: permissionID,
		AssignedBy:   actor.UserID,
		ExpiresAt:    expiresAt,
	}
	if err := m.store.GrantUserPermission(ctx, up); err != nil {
		return storeError(err, "granting permission %s to %s", permissionID, userID)
	}
	detail := map[string]any{"user_id": userID}
	if expiresAt != nil {
		detail["expires_at"] = expiresAt.UTC().Format(time.RFC3339)
	}
	m.audit(ctx, actor, store.AuditGrantPermission, "permission", permissionID, detail)
	return nil
}

func (m *Manager) RevokeFromUser(ctx context.Context, actor Actor, userID, permissionID string) error {
	if err := m.store.RevokeUserPermission(ctx, userID, permissionID); err != nil {
		return storeError(err, "revoking permission %s from %s", permissionID, userID)
	}
	m.audit(ctx, actor, store.AuditRevokePermission, "permission", permissionID, map[string]any{"user_id": userID})
	return nil
}

// GrantResource creates an instance-scoped override.
func (m *Manager) GrantResource(ctx context.Context, actor Actor, rp *store.ResourcePermission) error {
	switch {
	case rp.UserID == "":
		return errs.Validation("user id is required")
	case rp.Resource == "" || rp.Action == "" || rp.ResourceID == "":
		return errs.Validation("resource, action and resource id are required")
	case rp.Effect != store.EffectAllow && rp.Effect != store.EffectDeny:
		return errs.Validation("effect must be allow or deny")
	}
	rp.GrantedBy = actor.UserID
	if err := m.store.CreateResourcePermission(ctx, rp); err != nil {
		return storeError(err, "granting resource permission")
	}
	m.audit(ctx, actor, store.AuditGrantPermission, "resource_permission", rp.ID, map[string]any{
		"user_id": rp.UserID, "resource": rp.Resource, "resource_id": rp.ResourceID,
		"action": rp.Action, "effect": string(rp.Effect),
	})
	return nil
}

func (m *Manager) RevokeResource(ctx context.Context, actor Actor, id string) error {
	if err := m.store.DeleteResourcePermission(ctx, id); err != nil {
		return storeError(err, "revoking resource permission %s", id)
	}
	m.audit(ctx, actor, store.AuditRevokePermission, "resource_permission", id, nil)
	return nil
}

// CreatePolicy validates and stores a claim policy.
func (m *Manager) CreatePolicy(ctx context.Context, actor Actor, p *store.AuthorizationPolicy) error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return errs.Validation("policy name is required")
	case len(p.AllowedResources) == 0 || len(p.AllowedActions) == 0:
		return errs.Validation("policy %q must allow at least one resource and one action", p.Name)
	}
	if err := m.store.CreatePolicy(ctx, p); err != nil {
		return storeError(err, "creating policy %q", p.Name)
	}
	m.audit(ctx, actor, store.AuditCreatePolicy, "policy", p.ID, map[string]any{"name": p.Name, "enabled": p.IsEnabled})
	return nil
}

func (m *Manager) SetPolicyEnabled(ctx context.Context, actor Actor, id string, enabled bool) error {
	if err := m.store.SetPolicyEnabled(ctx, id, enabled); err != nil {
		return storeError(err, "updating policy %s", id)
	}
	m.audit(ctx, actor, store.AuditSetPolicyEnabled, "policy", id, map[string]any{"enabled": enabled})
	return nil
}

// audit failures are logged, not returned: the change itself succeeded.
func (m *Manager) audit(ctx context.Context, actor Actor, action store.AuditAction, targetType, targetID string, detail map[string]any) {
	entry := &store.AuditEntry{
		ActorID:    actor.UserID,
		OrgID:      actor.OrganizationID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Detail:     detail,
	}
	if err := m.store.AppendAuditLog(ctx, entry); err != nil {
		m.logger.Error("failed to append audit log", "action", action, "target_id", targetID, "error", err)
	}
}

func validatePermission(p *store.Permission) error {
	switch {
	case strings.TrimSpace(p.Resource) == "":
		return errs.Validation("permission resource is required")
	case strings.TrimSpace(p.Action) == "":
		return errs.Validation("permission action is required")
	case p.Effect != store.EffectAllow && p.Effect != store.EffectDeny:
		return errs.Validation("permission effect must be allow or deny, got %q", p.Effect)
	case p.ResourceID != nil && *p.ResourceID == "":
		return errs.Validation("permission resource id must be omitted or non-empty")
	}
	return nil
}

func storeError(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errs.NotFound("%s", msg)
	case errors.Is(err, store.ErrConflict):
		return errs.Conflict("%s", msg)
	default:
		return errs.ServerError(0, err, "%s", msg)
	}
}
