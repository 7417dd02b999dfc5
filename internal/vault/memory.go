// ABOUTME: In-process provider for development and tests
// ABOUTME: Versions are numbered from 1 and never reused

package vault

import (
	"context"
	"maps"
	"strconv"
	"sync"
	"time"
)

// MemoryProvider keeps secrets in a map. Nothing survives a restart.
type MemoryProvider struct {
	mu      sync.RWMutex
	secrets map[string][]*KeyVaultSecret // ascending version
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{secrets: make(map[string][]*KeyVaultSecret)}
}

func (p *MemoryProvider) Type() ProviderType { return ProviderMemory }

func (p *MemoryProvider) GetSecret(_ context.Context, name, version string) (*KeyVaultSecret, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	versions := p.secrets[name]
	if version == "" {
		for i := len(versions) - 1; i >= 0; i-- {
			if versions[i].Enabled {
				return copySecret(versions[i]), nil
			}
		}
		return nil, notFound(ProviderMemory, name, version)
	}

	n, err := parseVersion(version)
	if err != nil {
		return nil, err
	}
	if n > len(versions) {
		return nil, notFound(ProviderMemory, name, version)
	}
	return copySecret(versions[n-1]), nil
}

func (p *MemoryProvider) SetSecret(_ context.Context, name, value string, opts SetOptions) (*SecretMetadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := &KeyVaultSecret{
		Name:      name,
		Value:     value,
		Version:   strconv.Itoa(len(p.secrets[name]) + 1),
		Enabled:   true,
		ExpiresAt: opts.ExpiresAt,
		Tags:      maps.Clone(opts.Tags),
		CreatedAt: time.Now().UTC(),
	}
	p.secrets[name] = append(p.secrets[name], s)
	md := s.Metadata()
	return &md, nil
}

func (p *MemoryProvider) DeleteSecret(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.secrets, name)
	return nil
}

func (p *MemoryProvider) ListVersions(_ context.Context, name string) ([]SecretMetadata, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	versions := p.secrets[name]
	out := make([]SecretMetadata, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		out = append(out, versions[i].Metadata())
	}
	return out, nil
}

func (p *MemoryProvider) DisableVersion(_ context.Context, name, version string) error {
	n, err := parseVersion(version)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	versions := p.secrets[name]
	if n > len(versions) {
		return notFound(ProviderMemory, name, version)
	}
	versions[n-1].Enabled = false
	return nil
}

func copySecret(s *KeyVaultSecret) *KeyVaultSecret {
	c := *s
	c.Tags = maps.Clone(s.Tags)
	return &c
}
