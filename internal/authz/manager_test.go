// ABOUTME: Tests for grant/revoke validation, error kinds and audit entries
// ABOUTME: Uses the MockStore for both rules and the audit trail

package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
)

func TestManagerValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.manager.CreatePermission(ctx, f.admin, &store.Permission{Resource: "servers", Action: "read", Effect: "maybe"})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	err = f.manager.CreatePermission(ctx, f.admin, &store.Permission{Action: "read", Effect: store.EffectAllow})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	err = f.manager.GrantResource(ctx, f.admin, &store.ResourcePermission{UserID: "u", Resource: "servers", Action: "read", Effect: store.EffectAllow})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	err = f.manager.CreatePolicy(ctx, f.admin, &store.AuthorizationPolicy{Name: "empty"})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	err = f.manager.AssignToRole(ctx, f.admin, " ", "p")
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestManagerErrorKinds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.manager.GrantToUser(ctx, f.admin, "alice", "no-such-permission", nil)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	err = f.manager.SetPolicyEnabled(ctx, f.admin, "no-such-policy", true)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	pol := func() *store.AuthorizationPolicy {
		return &store.AuthorizationPolicy{Name: "dup", AllowedResources: []string{"servers"}, AllowedActions: []string{"read"}}
	}
	require.NoError(t, f.manager.CreatePolicy(ctx, f.admin, pol()))
	err = f.manager.CreatePolicy(ctx, f.admin, pol())
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestManagerAudits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.permission(t, "servers", "execute", store.EffectAllow, "")
	f.grant(t, "alice", p, nil)
	require.NoError(t, f.manager.RevokeFromUser(ctx, f.admin, "alice", p.ID))
	require.NoError(t, f.manager.DeletePermission(ctx, f.admin, p.ID))

	entries, err := f.store.ListAuditLog(ctx, store.AuditFilter{ActorID: "admin"})
	require.NoError(t, err)
	require.Len(t, entries, 4)

	actions := make(map[store.AuditAction]bool)
	for _, e := range entries {
		actions[e.Action] = true
		assert.Equal(t, "org-1", e.OrgID)
	}
	assert.True(t, actions[store.AuditCreatePermission])
	assert.True(t, actions[store.AuditGrantPermission])
	assert.True(t, actions[store.AuditRevokePermission])
	assert.True(t, actions[store.AuditDeletePermission])

	assert.False(t, f.authorize(t, executeCtx("alice", "srv")).Allowed)
}
