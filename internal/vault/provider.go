// ABOUTME: Provider interface shared by every secret backend
// ABOUTME: NewProvider selects the backend from configuration at startup

package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
)

// Provider codes attached to vault errors raised by this package.
const (
	CodeNotFound             = "not_found"
	CodeUnsupportedOperation = "unsupported_operation"
	CodeInvalidVersion       = "invalid_version"
	CodeVersionDisabled      = "version_disabled"
	CodeExpired              = "secret_expired"
	CodeMalformed            = "malformed_secret"
	CodeProviderFailure      = "provider_failure"
)

var (
	// ErrSecretNotFound is wrapped by vault errors for absent secrets or versions.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrUnsupported is wrapped by vault errors for operations a provider cannot perform.
	ErrUnsupported = errors.New("operation not supported by provider")
)

// Provider is a secret backend. An empty version means the newest enabled
// version. SetSecret always creates a new version.
type Provider interface {
	Type() ProviderType
	GetSecret(ctx context.Context, name, version string) (*KeyVaultSecret, error)
	SetSecret(ctx context.Context, name, value string, opts SetOptions) (*SecretMetadata, error)
	DeleteSecret(ctx context.Context, name string) error
	ListVersions(ctx context.Context, name string) ([]SecretMetadata, error)
	DisableVersion(ctx context.Context, name, version string) error
}

// NewProvider builds the configured provider. secrets backs the local provider
// and may be nil for the others.
func NewProvider(ctx context.Context, cfg Configuration, secrets store.SecretStore) (Provider, error) {
	switch cfg.Provider {
	case ProviderLocal, "":
		if secrets == nil {
			return nil, fmt.Errorf("local vault provider needs a secret store")
		}
		return NewLocalProvider(secrets), nil
	case ProviderMemory:
		return NewMemoryProvider(), nil
	case ProviderOnePassword:
		return NewOnePasswordProvider(ctx, cfg)
	case ProviderAWS:
		return NewAWSProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown vault provider %q", cfg.Provider)
	}
}

func notFound(p ProviderType, name, version string) error {
	return errs.Vault(CodeNotFound, details(p, name, version), ErrSecretNotFound, "secret %s not found", name)
}

func unsupported(p ProviderType, op string) error {
	return errs.Vault(CodeUnsupportedOperation, map[string]any{"provider": string(p), "operation": op},
		ErrUnsupported, "%s provider does not support %s", p, op)
}

func providerFailure(p ProviderType, code, name string, err error) error {
	if code == "" {
		code = CodeProviderFailure
	}
	return errs.Vault(code, details(p, name, ""), err, "%s provider failed for %s", p, name)
}

func details(p ProviderType, name, version string) map[string]any {
	d := map[string]any{"provider": string(p), "name": name}
	if version != "" {
		d["version"] = version
	}
	return d
}
