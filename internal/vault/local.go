// ABOUTME: Local provider storing versioned secrets in the gateway database
// ABOUTME: Values arrive sealed by the Service; this layer never sees plaintext

package vault

import (
	"context"
	"errors"
	"strconv"

	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
)

// LocalProvider keeps secrets in the store's secrets table.
type LocalProvider struct {
	secrets store.SecretStore
}

func NewLocalProvider(secrets store.SecretStore) *LocalProvider {
	return &LocalProvider{secrets: secrets}
}

func (p *LocalProvider) Type() ProviderType { return ProviderLocal }

func (p *LocalProvider) GetSecret(ctx context.Context, name, version string) (*KeyVaultSecret, error) {
	var (
		sv  *store.SecretVersion
		err error
	)
	if version == "" {
		sv, err = p.secrets.LatestSecretVersion(ctx, name)
	} else {
		n, perr := parseVersion(version)
		if perr != nil {
			return nil, perr
		}
		sv, err = p.secrets.GetSecretVersion(ctx, name, n)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound(ProviderLocal, name, version)
	}
	if err != nil {
		return nil, providerFailure(ProviderLocal, "", name, err)
	}
	return fromStore(sv), nil
}

func (p *LocalProvider) SetSecret(ctx context.Context, name, value string, opts SetOptions) (*SecretMetadata, error) {
	sv := &store.SecretVersion{
		Name:      name,
		Value:     value,
		Enabled:   true,
		Tags:      opts.Tags,
		ExpiresAt: opts.ExpiresAt,
	}
	if err := p.secrets.PutSecretVersion(ctx, sv); err != nil {
		return nil, providerFailure(ProviderLocal, "", name, err)
	}
	md := fromStore(sv).Metadata()
	return &md, nil
}

// DeleteSecret removes every version. Deleting an absent secret is not an error.
func (p *LocalProvider) DeleteSecret(ctx context.Context, name string) error {
	if _, err := p.secrets.DeleteSecret(ctx, name); err != nil {
		return providerFailure(ProviderLocal, "", name, err)
	}
	return nil
}

func (p *LocalProvider) ListVersions(ctx context.Context, name string) ([]SecretMetadata, error) {
	versions, err := p.secrets.ListSecretVersions(ctx, name)
	if err != nil {
		return nil, providerFailure(ProviderLocal, "", name, err)
	}
	out := make([]SecretMetadata, 0, len(versions))
	for _, sv := range versions {
		out = append(out, fromStore(sv).Metadata())
	}
	return out, nil
}

func (p *LocalProvider) DisableVersion(ctx context.Context, name, version string) error {
	n, err := parseVersion(version)
	if err != nil {
		return err
	}
	err = p.secrets.DisableSecretVersion(ctx, name, n)
	if errors.Is(err, store.ErrNotFound) {
		return notFound(ProviderLocal, name, version)
	}
	if err != nil {
		return providerFailure(ProviderLocal, "", name, err)
	}
	return nil
}

func parseVersion(version string) (int, error) {
	n, err := strconv.Atoi(version)
	if err != nil || n < 1 {
		return 0, errs.Vault(CodeInvalidVersion, map[string]any{"version": version}, nil, "invalid secret version %q", version)
	}
	return n, nil
}

func fromStore(sv *store.SecretVersion) *KeyVaultSecret {
	return &KeyVaultSecret{
		Name:      sv.Name,
		Value:     sv.Value,
		Version:   strconv.Itoa(sv.Version),
		Enabled:   sv.Enabled,
		ExpiresAt: sv.ExpiresAt,
		Tags:      sv.Tags,
		CreatedAt: sv.CreatedAt,
	}
}
