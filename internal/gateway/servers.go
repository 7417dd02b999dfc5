// ABOUTME: Authorized server management writing through the registry and the vault
// ABOUTME: Registration rolls the server row back when its credentials cannot be stored

package gateway

import (
	"context"
	"time"

	"github.com/2389/mcp-gateway/internal/auth"
	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/registry"
	"github.com/2389/mcp-gateway/internal/store"
	"github.com/2389/mcp-gateway/internal/vault"
)

// RegisterRequest is a registration plus the credentials for its auth type.
type RegisterRequest struct {
	registry.RegisterRequest
	Credentials *vault.Credentials
}

// UpdateRequest is a registry update plus optional replacement credentials.
type UpdateRequest struct {
	registry.UpdateRequest
	Credentials *vault.Credentials
}

// RegisterServer creates a server in the caller's organization and stores
// its credentials. Either both land or neither does.
func (g *Gateway) RegisterServer(ctx context.Context, caller *auth.Identity, req RegisterRequest) (*store.Server, error) {
	if caller == nil {
		return nil, errs.Unauthorized("no caller identity")
	}
	if err := g.authorize(ctx, caller, ActionCreate, "", map[string]any{"server_type": string(req.ServerType)}); err != nil {
		return nil, err
	}
	if err := checkCredentials(req.AuthType, req.Credentials, g.now()); err != nil {
		return nil, err
	}

	req.OrganizationID = caller.OrganizationID
	req.CreatedBy = caller.UserID
	srv, err := g.registry.Create(ctx, req.RegisterRequest)
	if err != nil {
		return nil, err
	}
	if req.Credentials == nil {
		return srv, nil
	}

	ref, err := g.vault.StoreCredentials(ctx, srv.ID, req.Credentials)
	if err != nil {
		g.rollback(ctx, srv.ID, false)
		return nil, err
	}
	if srv.Credentials, err = g.saveRef(ctx, srv.ID, ref); err != nil {
		g.rollback(ctx, srv.ID, true)
		return nil, err
	}
	return srv, nil
}

// UpdateServer applies req to a server in the caller's organization.
// Switching to an auth type that needs credentials requires new ones;
// switching to none deletes the stored ones.
func (g *Gateway) UpdateServer(ctx context.Context, caller *auth.Identity, id string, req UpdateRequest) (*store.Server, error) {
	if caller == nil {
		return nil, errs.Unauthorized("no caller identity")
	}
	current, err := g.registry.Get(ctx, caller.OrganizationID, id)
	if err != nil {
		return nil, err
	}
	if err := g.authorize(ctx, caller, ActionUpdate, current.ID, nil); err != nil {
		return nil, err
	}

	authType := current.AuthType
	if req.AuthType != nil {
		authType = *req.AuthType
	}
	switch {
	case req.Credentials != nil:
		if err := checkCredentials(authType, req.Credentials, g.now()); err != nil {
			return nil, err
		}
	case authType != current.AuthType && authType != store.AuthNone:
		return nil, errs.Validation("changing auth type to %s requires new credentials", authType)
	}

	srv, err := g.registry.Update(ctx, caller.OrganizationID, id, caller.UserID, req.UpdateRequest)
	if err != nil {
		return nil, err
	}

	switch {
	case req.Credentials != nil:
		ref, err := g.vault.RotateCredentialsTo(ctx, srv.ID, req.Credentials)
		if err != nil {
			g.revertUpdate(ctx, current, nil)
			return nil, err
		}
		if srv.Credentials, err = g.saveRef(ctx, srv.ID, ref); err != nil {
			g.revertUpdate(ctx, current, ref)
			return nil, err
		}
	case authType == store.AuthNone && current.AuthType != store.AuthNone:
		if err := g.registry.SetCredentialsRef(ctx, srv.ID, nil); err != nil {
			g.revertUpdate(ctx, current, nil)
			return nil, err
		}
		srv.Credentials = nil
		// Nothing references the secret any more; a failed delete only orphans it.
		if err := g.vault.DeleteCredentials(ctx, srv.ID); err != nil {
			g.logger.Error("auth removed but credentials remain", "server_id", srv.ID, "error", err)
		}
	}
	return srv, nil
}

// DeleteServer removes a server and then its credentials.
func (g *Gateway) DeleteServer(ctx context.Context, caller *auth.Identity, id string) error {
	srv, err := g.resolve(ctx, caller, ActionDelete, id)
	if err != nil {
		return err
	}
	if err := g.registry.Delete(ctx, caller.OrganizationID, srv.ID, caller.UserID); err != nil {
		return err
	}
	g.limiters.forget(srv.ID)
	if err := g.vault.DeleteCredentials(ctx, srv.ID); err != nil {
		g.logger.Error("server deleted but credentials remain", "server_id", srv.ID, "error", err)
	}
	return nil
}

// GetServer returns one server the caller may read.
func (g *Gateway) GetServer(ctx context.Context, caller *auth.Identity, id string) (*store.Server, error) {
	return g.resolve(ctx, caller, ActionRead, id)
}

// resolve loads a server from the caller's organization and checks action
// on it. Servers of other organizations are reported as not found.
func (g *Gateway) resolve(ctx context.Context, caller *auth.Identity, action, id string) (*store.Server, error) {
	if caller == nil {
		return nil, errs.Unauthorized("no caller identity")
	}
	srv, err := g.registry.Get(ctx, caller.OrganizationID, id)
	if err != nil {
		return nil, err
	}
	if err := g.authorize(ctx, caller, action, srv.ID, nil); err != nil {
		return nil, err
	}
	return srv, nil
}

// ListServers lists servers in the caller's organization. The filter's
// organization is always replaced with the caller's.
func (g *Gateway) ListServers(ctx context.Context, caller *auth.Identity, f store.ServerFilter) ([]*store.Server, int, error) {
	if caller == nil {
		return nil, 0, errs.Unauthorized("no caller identity")
	}
	if err := g.authorize(ctx, caller, ActionRead, "", nil); err != nil {
		return nil, 0, err
	}
	f.OrganizationID = caller.OrganizationID
	return g.registry.List(ctx, f)
}

// Statistics aggregates a server's executions in [from, to). A zero from
// returns lifetime counters instead.
func (g *Gateway) Statistics(ctx context.Context, caller *auth.Identity, id string, from, to time.Time) (*registry.Statistics, error) {
	srv, err := g.GetServer(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if from.IsZero() {
		return g.registry.LifetimeStatistics(ctx, srv.ID)
	}
	return g.registry.Statistics(ctx, srv.ID, from, to)
}

func checkCredentials(authType store.AuthType, creds *vault.Credentials, now time.Time) error {
	if authType == store.AuthNone || authType == "" {
		if creds != nil && creds.AuthType != store.AuthNone {
			return errs.Validation("credentials given for a server without auth")
		}
		return nil
	}
	if creds == nil {
		return errs.Validation("auth type %s requires credentials", authType)
	}
	if creds.AuthType != authType {
		return errs.Validation("credentials are %s but server auth type is %s", creds.AuthType, authType)
	}
	return creds.Validate(now)
}

func (g *Gateway) saveRef(ctx context.Context, serverID string, ref *vault.Reference) ([]byte, error) {
	raw, err := ref.Marshal()
	if err != nil {
		return nil, errs.Vault(vault.CodeMalformed, nil, err, "encoding credential reference")
	}
	if err := g.registry.SetCredentialsRef(ctx, serverID, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// rollback hard-deletes a half-registered server. It runs detached from
// ctx so a cancelled request still cleans up.
func (g *Gateway) rollback(ctx context.Context, serverID string, secretWritten bool) {
	ctx = context.WithoutCancel(ctx)
	if secretWritten {
		if err := g.vault.DeleteCredentials(ctx, serverID); err != nil {
			g.logger.Error("rollback: deleting credentials failed", "server_id", serverID, "error", err)
		}
	}
	if err := g.registry.Purge(ctx, serverID); err != nil {
		g.logger.Error("rollback: purging server failed", "server_id", serverID, "error", err)
		return
	}
	g.logger.Warn("rolled back server registration", "server_id", serverID)
}

// revertUpdate puts prev back after its credentials could not be replaced.
// written is the version stored before the failure, if any.
func (g *Gateway) revertUpdate(ctx context.Context, prev *store.Server, written *vault.Reference) {
	ctx = context.WithoutCancel(ctx)
	if written != nil {
		g.discardVersion(ctx, prev.ID, len(prev.Credentials) > 0, written)
	}
	if err := g.registry.Restore(ctx, prev); err != nil {
		g.logger.Error("revert: restoring server failed", "server_id", prev.ID, "error", err)
	}
}

// discardVersion drops a version nothing references. With no earlier
// version to fall back to the whole secret goes.
func (g *Gateway) discardVersion(ctx context.Context, serverID string, hadEarlier bool, ref *vault.Reference) {
	var err error
	if hadEarlier {
		err = g.vault.DisableCredentialVersion(ctx, serverID, ref.Version)
	} else {
		err = g.vault.DeleteCredentials(ctx, serverID)
	}
	if err != nil {
		g.logger.Error("discarding credential version failed", "server_id", serverID, "version", ref.Version, "error", err)
	}
}
