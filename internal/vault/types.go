// ABOUTME: Provider-agnostic secret and key records plus vault configuration
// ABOUTME: Reference is the JSON blob persisted on a server row

package vault

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProviderType names a secret backend.
type ProviderType string

const (
	ProviderLocal       ProviderType = "local"
	ProviderOnePassword ProviderType = "onepassword"
	ProviderAWS         ProviderType = "aws"
	ProviderMemory      ProviderType = "memory"
)

// KeyType classifies a KeyVaultKey.
type KeyType string

const (
	KeyTypeRSA       KeyType = "RSA"
	KeyTypeEC        KeyType = "EC"
	KeyTypeSymmetric KeyType = "Symmetric"
)

// KeyOperation is an operation a key may be used for.
type KeyOperation string

const (
	KeyOpEncrypt KeyOperation = "encrypt"
	KeyOpDecrypt KeyOperation = "decrypt"
	KeyOpSign    KeyOperation = "sign"
	KeyOpVerify  KeyOperation = "verify"
	KeyOpWrap    KeyOperation = "wrap"
	KeyOpUnwrap  KeyOperation = "unwrap"
)

// KeyVaultSecret is one version of a named secret as returned by a provider.
type KeyVaultSecret struct {
	Name      string            `json:"name"`
	Value     string            `json:"value"`
	Version   string            `json:"version,omitempty"`
	Enabled   bool              `json:"enabled"`
	ExpiresAt *time.Time        `json:"expiresAt,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Metadata strips the value.
func (s *KeyVaultSecret) Metadata() SecretMetadata {
	return SecretMetadata{
		Name:      s.Name,
		Version:   s.Version,
		Enabled:   s.Enabled,
		ExpiresAt: s.ExpiresAt,
		Tags:      s.Tags,
		CreatedAt: s.CreatedAt,
	}
}

// Expired reports whether the secret has an expiry at or before now.
func (s *KeyVaultSecret) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}

// SecretMetadata describes a secret version without its value.
type SecretMetadata struct {
	Name      string            `json:"name"`
	Version   string            `json:"version,omitempty"`
	Enabled   bool              `json:"enabled"`
	ExpiresAt *time.Time        `json:"expiresAt,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// KeyVaultKey describes a key held by or on behalf of the vault.
type KeyVaultKey struct {
	Name       string            `json:"name"`
	Version    string            `json:"version,omitempty"`
	KeyType    KeyType           `json:"keyType"`
	Operations []KeyOperation    `json:"operations"`
	Enabled    bool              `json:"enabled"`
	ExpiresAt  *time.Time        `json:"expiresAt,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// Metadata returns the descriptive part of the key.
func (k *KeyVaultKey) Metadata() KeyMetadata {
	return KeyMetadata{
		Name:      k.Name,
		Version:   k.Version,
		KeyType:   k.KeyType,
		Enabled:   k.Enabled,
		ExpiresAt: k.ExpiresAt,
		Tags:      k.Tags,
	}
}

// Permits reports whether op is among the key's allowed operations.
func (k *KeyVaultKey) Permits(op KeyOperation) bool {
	for _, o := range k.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// KeyMetadata describes a key without its operations.
type KeyMetadata struct {
	Name      string            `json:"name"`
	Version   string            `json:"version,omitempty"`
	KeyType   KeyType           `json:"keyType"`
	Enabled   bool              `json:"enabled"`
	ExpiresAt *time.Time        `json:"expiresAt,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// SetOptions carries optional attributes for a new secret version.
type SetOptions struct {
	Tags      map[string]string
	ExpiresAt *time.Time
}

// Configuration selects a provider and its connection parameters.
type Configuration struct {
	Provider       ProviderType
	VaultURL       string
	Region         string
	ProjectID      string
	AuthParameters map[string]string

	EnableCaching bool
	CacheDuration time.Duration

	// WrapValues seals values with the crypto engine before they reach a
	// hosted provider. The local provider always wraps.
	WrapValues bool
}

// Reference locates the credentials of one server. It is what the registry
// persists in the server's credentials column.
type Reference struct {
	Provider ProviderType `json:"provider"`
	Name     string       `json:"name"`
	Version  string       `json:"version,omitempty"`
}

// Marshal encodes the reference for storage.
func (r *Reference) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// ParseReference decodes a stored reference. Empty input yields nil.
func ParseReference(data []byte) (*Reference, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var r Reference
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse credential reference: %w", err)
	}
	return &r, nil
}

// SecretName is the vault name for a server's credentials.
func SecretName(serverID string) string {
	return "mcp-server-" + serverID
}
