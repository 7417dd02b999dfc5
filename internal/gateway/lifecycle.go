// ABOUTME: Authorized server lifecycle operations: activation, bulk changes and health reads
// ABOUTME: Bulk operations act only on the ids the caller may touch in its own organization

package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/2389/mcp-gateway/internal/auth"
	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
)

// MaxBulkIDs caps the ids accepted by one bulk request.
const MaxBulkIDs = 100

// ActivateServer returns a deactivated server to dispatch. Its status
// restarts at unknown until the next health check.
func (g *Gateway) ActivateServer(ctx context.Context, caller *auth.Identity, id string) error {
	srv, err := g.resolve(ctx, caller, ActionUpdate, id)
	if err != nil {
		return err
	}
	return g.registry.Activate(ctx, caller.OrganizationID, srv.ID, caller.UserID)
}

// DeactivateServer hides a server from dispatch without deleting it.
func (g *Gateway) DeactivateServer(ctx context.Context, caller *auth.Identity, id string) error {
	srv, err := g.resolve(ctx, caller, ActionUpdate, id)
	if err != nil {
		return err
	}
	if err := g.registry.Deactivate(ctx, caller.OrganizationID, srv.ID, caller.UserID); err != nil {
		return err
	}
	g.limiters.forget(srv.ID)
	return nil
}

// BulkUpdateStatus deactivates or reactivates ids. Ids the caller may not
// update are skipped; it fails only when none remain.
func (g *Gateway) BulkUpdateStatus(ctx context.Context, caller *auth.Identity, ids []string, status store.ServerStatus) (int64, error) {
	allowed, err := g.permitted(ctx, caller, ActionUpdate, ids)
	if err != nil || len(allowed) == 0 {
		return 0, err
	}
	n, err := g.registry.BulkUpdateStatus(ctx, caller.OrganizationID, allowed, status, caller.UserID)
	if err != nil {
		return 0, err
	}
	if status == store.StatusDeactivated {
		for _, id := range allowed {
			g.limiters.forget(id)
		}
	}
	return n, nil
}

// BulkDeleteServers deletes ids the caller may delete, then their
// credentials. Under the reject policy one server with history fails the batch.
func (g *Gateway) BulkDeleteServers(ctx context.Context, caller *auth.Identity, ids []string) (int64, error) {
	allowed, err := g.permitted(ctx, caller, ActionDelete, ids)
	if err != nil || len(allowed) == 0 {
		return 0, err
	}

	// Only ids in the caller's organization get their secrets removed.
	owned := allowed[:0]
	for _, id := range allowed {
		ok, err := g.registry.Exists(ctx, caller.OrganizationID, id)
		if err != nil {
			return 0, err
		}
		if ok {
			owned = append(owned, id)
		}
	}
	if len(owned) == 0 {
		return 0, nil
	}

	n, err := g.registry.BulkDelete(ctx, caller.OrganizationID, owned, caller.UserID)
	if err != nil {
		return 0, err
	}
	for _, id := range owned {
		g.limiters.forget(id)
		if err := g.vault.DeleteCredentials(ctx, id); err != nil {
			g.logger.Error("server deleted but credentials remain", "server_id", id, "error", err)
		}
	}
	return n, nil
}

// ServerNameTaken reports whether name is used by another server in the
// caller's organization. excludeID skips the server being renamed.
func (g *Gateway) ServerNameTaken(ctx context.Context, caller *auth.Identity, name, excludeID string) (bool, error) {
	if caller == nil {
		return false, errs.Unauthorized("no caller identity")
	}
	if name == "" {
		return false, errs.Validation("name is required")
	}
	if err := g.authorize(ctx, caller, ActionRead, "", nil); err != nil {
		return false, err
	}
	return g.registry.NameExists(ctx, caller.OrganizationID, name, excludeID)
}

// HealthHistory returns a server's health checks at or after since, oldest first.
func (g *Gateway) HealthHistory(ctx context.Context, caller *auth.Identity, id string, since time.Time) ([]*store.HealthCheck, error) {
	srv, err := g.resolve(ctx, caller, ActionRead, id)
	if err != nil {
		return nil, err
	}
	return g.registry.HealthHistory(ctx, srv.ID, since)
}

// LatestHealth returns a server's newest health check.
func (g *Gateway) LatestHealth(ctx context.Context, caller *auth.Identity, id string) (*store.HealthCheck, error) {
	srv, err := g.resolve(ctx, caller, ActionRead, id)
	if err != nil {
		return nil, err
	}
	return g.registry.LatestHealth(ctx, srv.ID)
}

// permitted filters ids down to those the caller may act on, dropping
// duplicates. A denial only surfaces when every id was denied.
func (g *Gateway) permitted(ctx context.Context, caller *auth.Identity, action string, ids []string) ([]string, error) {
	if caller == nil {
		return nil, errs.Unauthorized("no caller identity")
	}
	if len(ids) > MaxBulkIDs {
		return nil, errs.Validation("at most %d ids per request", MaxBulkIDs)
	}

	var (
		allowed []string
		denied  error
	)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if err := g.authorize(ctx, caller, action, id, nil); err != nil {
			if !errors.Is(err, errs.ErrUnauthorized) {
				return nil, err
			}
			denied = err
			continue
		}
		allowed = append(allowed, id)
	}
	if len(allowed) == 0 && denied != nil {
		return nil, denied
	}
	return allowed, nil
}
