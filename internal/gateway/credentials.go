// ABOUTME: Authorized credential lifecycle for registered servers
// ABOUTME: Exposes references, version metadata and rotation; never returns secret values

package gateway

import (
	"context"
	"time"

	"github.com/2389/mcp-gateway/internal/auth"
	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
	"github.com/2389/mcp-gateway/internal/vault"
)

// CredentialInfo describes where a server's credentials live.
type CredentialInfo struct {
	Reference   *vault.Reference       `json:"reference,omitempty"`
	Versions    []vault.SecretMetadata `json:"versions"`
	WrappingKey *vault.KeyMetadata     `json:"wrappingKey,omitempty"`
}

// CredentialVersion summarizes one decrypted version.
type CredentialVersion struct {
	Version   string         `json:"version"`
	AuthType  store.AuthType `json:"authType"`
	Valid     bool           `json:"valid"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
	Current   bool           `json:"current"`
}

// CredentialInfo returns the server's credential reference and version
// metadata, plus the key sealing them when values are wrapped.
func (g *Gateway) CredentialInfo(ctx context.Context, caller *auth.Identity, id string) (*CredentialInfo, error) {
	srv, err := g.resolve(ctx, caller, ActionRead, id)
	if err != nil {
		return nil, err
	}
	info := &CredentialInfo{Versions: []vault.SecretMetadata{}}
	if key := g.vault.WrappingKey(); key != nil {
		md := key.Metadata()
		info.WrappingKey = &md
	}
	if len(srv.Credentials) == 0 {
		return info, nil
	}
	if info.Reference, err = currentRef(srv); err != nil {
		return nil, err
	}
	if info.Versions, err = g.vault.ListCredentialVersions(ctx, srv.ID); err != nil {
		return nil, err
	}
	return info, nil
}

// DescribeCredentialVersion decrypts one version to report its auth type
// and expiry. Disabled versions fail with a vault error.
func (g *Gateway) DescribeCredentialVersion(ctx context.Context, caller *auth.Identity, id, version string) (*CredentialVersion, error) {
	srv, err := g.resolve(ctx, caller, ActionRead, id)
	if err != nil {
		return nil, err
	}
	creds, err := g.vault.GetCredentialsVersion(ctx, srv.ID, version)
	if err != nil {
		return nil, err
	}
	out := &CredentialVersion{
		Version:  version,
		AuthType: creds.AuthType,
		Valid:    g.vault.ValidateCredentials(creds),
	}
	if creds.OAuth != nil {
		out.ExpiresAt = creds.OAuth.ExpiresAt
	}
	if ref, err := currentRef(srv); err == nil && ref != nil {
		out.Current = ref.Version == version
	}
	return out, nil
}

// RotateServerCredentials re-seals the current credentials as a new version
// and points the server at it. Earlier versions stay readable.
func (g *Gateway) RotateServerCredentials(ctx context.Context, caller *auth.Identity, id string) (*vault.Reference, error) {
	srv, err := g.resolve(ctx, caller, ActionUpdate, id)
	if err != nil {
		return nil, err
	}
	if srv.AuthType == store.AuthNone || len(srv.Credentials) == 0 {
		return nil, errs.Validation("server %s has no credentials to rotate", srv.ID)
	}
	ref, err := g.vault.RotateCredentials(ctx, srv.ID)
	if err != nil {
		return nil, err
	}
	if _, err := g.saveRef(ctx, srv.ID, ref); err != nil {
		g.discardVersion(context.WithoutCancel(ctx), srv.ID, true, ref)
		return nil, err
	}
	return ref, nil
}

// DisableCredentialVersion retires an older version. The version the server
// currently references cannot be disabled.
func (g *Gateway) DisableCredentialVersion(ctx context.Context, caller *auth.Identity, id, version string) error {
	srv, err := g.resolve(ctx, caller, ActionUpdate, id)
	if err != nil {
		return err
	}
	if version == "" {
		return errs.Validation("version is required")
	}
	ref, err := currentRef(srv)
	if err != nil {
		return err
	}
	if ref == nil {
		return errs.NotFound("server %s has no credentials", srv.ID)
	}
	if ref.Version == version {
		return errs.Conflict("version %s is in use; rotate or replace the credentials first", version)
	}
	return g.vault.DisableCredentialVersion(ctx, srv.ID, version)
}

// currentRef decodes the reference the server row points at, nil if none.
func currentRef(srv *store.Server) (*vault.Reference, error) {
	ref, err := vault.ParseReference(srv.Credentials)
	if err != nil {
		return nil, errs.Vault(vault.CodeMalformed, nil, err, "server %s has an unreadable credential reference", srv.ID)
	}
	return ref, nil
}
