// ABOUTME: Read-only provider resolving secrets through the 1Password SDK
// ABOUTME: Names map to op://<vault>/<item>/<field> references

package vault

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/1password/onepassword-sdk-go"
)

// OPSecretsService is the slice of the 1Password client the provider uses.
type OPSecretsService interface {
	Resolve(ctx context.Context, secretReference string) (string, error)
}

const (
	defaultOPVault = "mcp-gateway"
	defaultOPField = "credential"
	opTimeout      = 5 * time.Second
)

// OnePasswordProvider resolves secret references. It cannot write, and it has
// no notion of versions beyond the current value.
type OnePasswordProvider struct {
	secrets OPSecretsService
	vault   string
	field   string
}

// NewOnePasswordProvider connects with the service account token in
// cfg.AuthParameters["service_account_token"]. Optional "vault" and "field"
// parameters shape the references built from secret names.
func NewOnePasswordProvider(ctx context.Context, cfg Configuration) (*OnePasswordProvider, error) {
	token := cfg.AuthParameters["service_account_token"]
	if token == "" {
		return nil, fmt.Errorf("onepassword provider requires auth_parameters.service_account_token")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	client, err := onepassword.NewClient(
		ctx,
		onepassword.WithServiceAccountToken(token),
		onepassword.WithIntegrationInfo(onepassword.DefaultIntegrationName, onepassword.DefaultIntegrationVersion),
	)
	if err != nil {
		return nil, fmt.Errorf("creating 1Password client: %w", err)
	}
	return NewOnePasswordProviderWithService(client.Secrets(), cfg.AuthParameters["vault"], cfg.AuthParameters["field"]), nil
}

// NewOnePasswordProviderWithService builds a provider over an existing
// secrets service. Empty vault or field fall back to defaults.
func NewOnePasswordProviderWithService(secrets OPSecretsService, vault, field string) *OnePasswordProvider {
	if vault == "" {
		vault = defaultOPVault
	}
	if field == "" {
		field = defaultOPField
	}
	return &OnePasswordProvider{secrets: secrets, vault: vault, field: field}
}

func (p *OnePasswordProvider) Type() ProviderType { return ProviderOnePassword }

// Reference returns the op:// reference for name. Names that already are
// references pass through.
func (p *OnePasswordProvider) Reference(name string) string {
	if strings.HasPrefix(name, "op://") {
		return name
	}
	return fmt.Sprintf("op://%s/%s/%s", p.vault, name, p.field)
}

func (p *OnePasswordProvider) GetSecret(ctx context.Context, name, version string) (*KeyVaultSecret, error) {
	if version != "" {
		return nil, unsupported(ProviderOnePassword, "versioned read")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	value, err := p.secrets.Resolve(ctx, p.Reference(name))
	if err != nil {
		if isOPNotFound(err) {
			return nil, notFound(ProviderOnePassword, name, "")
		}
		return nil, providerFailure(ProviderOnePassword, "", name, err)
	}
	return &KeyVaultSecret{
		Name:    name,
		Value:   value,
		Enabled: true,
	}, nil
}

func (p *OnePasswordProvider) SetSecret(context.Context, string, string, SetOptions) (*SecretMetadata, error) {
	return nil, unsupported(ProviderOnePassword, "write")
}

func (p *OnePasswordProvider) DeleteSecret(context.Context, string) error {
	return unsupported(ProviderOnePassword, "delete")
}

// ListVersions reports the single current version when the secret resolves.
func (p *OnePasswordProvider) ListVersions(ctx context.Context, name string) ([]SecretMetadata, error) {
	s, err := p.GetSecret(ctx, name, "")
	if err != nil {
		return nil, err
	}
	return []SecretMetadata{s.Metadata()}, nil
}

func (p *OnePasswordProvider) DisableVersion(context.Context, string, string) error {
	return unsupported(ProviderOnePassword, "disable version")
}

// The SDK reports missing items only through its error text.
func isOPNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "no item matched")
}
