// ABOUTME: Tests for activation, bulk status and delete, name checks and health reads
// ABOUTME: Bulk calls must skip denied or foreign ids rather than act on them

package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcp-gateway/internal/authz"
	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
)

func (f *fixture) status(t *testing.T, id string) store.ServerStatus {
	t.Helper()
	srv, err := f.store.GetServer(context.Background(), id)
	if err != nil {
		t.Fatalf("GetServer failed: %v", err)
	}
	return srv.Status
}

func (f *fixture) deny(t *testing.T, caller string, id, action string) {
	t.Helper()
	rp := &store.ResourcePermission{UserID: caller, Resource: ResourceServers, ResourceID: id, Action: action, Effect: store.EffectDeny}
	if err := f.manager.GrantResource(context.Background(), authz.Actor{UserID: "admin"}, rp); err != nil {
		t.Fatalf("GrantResource failed: %v", err)
	}
}

func TestDeactivateAndActivateServer(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	srv := f.register(t, operator, "search", nil)

	assert.ErrorIs(t, f.gateway.DeactivateServer(ctx, viewer, srv.ID), errs.ErrUnauthorized)
	assert.ErrorIs(t, f.gateway.DeactivateServer(ctx, outsider, srv.ID), errs.ErrNotFound)

	require.NoError(t, f.gateway.DeactivateServer(ctx, operator, srv.ID))
	assert.Equal(t, store.StatusDeactivated, f.status(t, srv.ID))

	_, err := f.gateway.Invoke(ctx, operator, srv.ID, "lookup", nil)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, f.gateway.ActivateServer(ctx, operator, srv.ID))
	assert.Equal(t, store.StatusUnknown, f.status(t, srv.ID))

	_, err = f.gateway.Invoke(ctx, operator, srv.ID, "lookup", nil)
	require.NoError(t, err)
}

func TestBulkUpdateStatusSkipsDeniedAndForeignIDs(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	a := f.register(t, operator, "a", nil)
	b := f.register(t, operator, "b", nil)
	c := f.register(t, outsider, "c", nil)
	f.deny(t, operator.UserID, b.ID, ActionUpdate)

	n, err := f.gateway.BulkUpdateStatus(ctx, operator, []string{a.ID, b.ID, c.ID, a.ID, "missing"}, store.StatusDeactivated)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, store.StatusDeactivated, f.status(t, a.ID))
	assert.Equal(t, store.StatusUnknown, f.status(t, b.ID), "denied id must be skipped")
	assert.Equal(t, store.StatusUnknown, f.status(t, c.ID), "foreign id must be skipped")

	n, err = f.gateway.BulkUpdateStatus(ctx, operator, []string{a.ID}, store.StatusUnknown)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, store.StatusUnknown, f.status(t, a.ID))
}

func TestBulkUpdateStatusRejections(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	a := f.register(t, operator, "a", nil)

	_, err := f.gateway.BulkUpdateStatus(ctx, viewer, []string{a.ID}, store.StatusDeactivated)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = f.gateway.BulkUpdateStatus(ctx, operator, []string{a.ID}, store.StatusHealthy)
	assert.ErrorIs(t, err, errs.ErrValidation)

	ids := make([]string, MaxBulkIDs+1)
	for i := range ids {
		ids[i] = a.ID
	}
	_, err = f.gateway.BulkUpdateStatus(ctx, operator, ids, store.StatusDeactivated)
	assert.ErrorIs(t, err, errs.ErrValidation)

	n, err := f.gateway.BulkUpdateStatus(ctx, operator, nil, store.StatusDeactivated)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBulkDeleteServersRemovesOwnedCredentials(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	a := f.register(t, operator, "a", bearer("tok-a"))
	b := f.register(t, operator, "b", nil)
	c := f.register(t, outsider, "c", bearer("tok-c"))

	_, err := f.gateway.BulkDeleteServers(ctx, viewer, []string{a.ID})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	n, err := f.gateway.BulkDeleteServers(ctx, operator, []string{a.ID, b.ID, c.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, id := range []string{a.ID, b.ID} {
		_, err := f.gateway.GetServer(ctx, operator, id)
		assert.ErrorIs(t, err, errs.ErrNotFound)
	}
	creds, err := f.vault.GetCredentials(ctx, a.ID, "test")
	require.NoError(t, err)
	assert.Nil(t, creds)

	_, err = f.gateway.GetServer(ctx, outsider, c.ID)
	require.NoError(t, err)
	creds, err = f.vault.GetCredentials(ctx, c.ID, "test")
	require.NoError(t, err)
	require.NotNil(t, creds, "another organization's credentials must survive")
	assert.Equal(t, "tok-c", creds.Bearer.Token)
}

func TestServerNameTaken(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	srv := f.register(t, operator, "search", nil)

	taken, err := f.gateway.ServerNameTaken(ctx, viewer, "search", "")
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = f.gateway.ServerNameTaken(ctx, viewer, "search", srv.ID)
	require.NoError(t, err)
	assert.False(t, taken, "a server does not collide with itself")

	taken, err = f.gateway.ServerNameTaken(ctx, outsider, "search", "")
	require.NoError(t, err)
	assert.False(t, taken, "names are scoped per organization")

	_, err = f.gateway.ServerNameTaken(ctx, viewer, "", "")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestHealthHistoryAndLatest(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	srv := f.register(t, operator, "search", nil)

	_, err := f.gateway.LatestHealth(ctx, viewer, srv.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	start := time.Now().UTC().Add(-time.Hour)
	for i, status := range []store.ServerStatus{store.StatusHealthy, store.StatusDegraded} {
		_, err := f.registry.RecordHealthCheck(ctx, &store.HealthCheck{
			ServerID: srv.ID, Status: status, CheckedAt: start.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	history, err := f.gateway.HealthHistory(ctx, viewer, srv.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, store.StatusHealthy, history[0].Status)

	recent, err := f.gateway.HealthHistory(ctx, viewer, srv.ID, start.Add(30*time.Second))
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	latest, err := f.gateway.LatestHealth(ctx, viewer, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDegraded, latest.Status)

	_, err = f.gateway.HealthHistory(ctx, outsider, srv.ID, time.Time{})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
