// ABOUTME: Service is the credential API used by the gateway and registry
// ABOUTME: It seals values on write and caches provider reads until the next write

package vault

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/mcp-gateway/internal/crypto"
	"github.com/2389/mcp-gateway/internal/errs"
)

// providerTimeout bounds a shared provider read. Shared reads run detached
// from any single caller's cancellation.
const providerTimeout = 30 * time.Second

// Observer receives cache and provider outcomes, typically for metrics.
type Observer interface {
	CacheLookup(hit bool)
	ProviderCall(op string, err error)
}

type nopObserver struct{}

func (nopObserver) CacheLookup(bool)          {}
func (nopObserver) ProviderCall(string, error) {}

// Service stores and retrieves server credentials.
type Service struct {
	provider Provider
	engine   *crypto.Engine // nil when values are stored as plaintext JSON
	cache    Cache          // nil when caching is disabled
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
	observer Observer

	flight singleflight.Group

	genMu sync.Mutex
	gens  map[string]uint64
	clock uint64
	floor uint64 // generation of every name missing from gens
}

// Option configures a Service.
type Option func(*Service)

// WithEngine seals every value with e before it reaches the provider.
func WithEngine(e *crypto.Engine) Option { return func(s *Service) { s.engine = e } }

// WithCache enables caching of provider reads for ttl.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.ttl = ttl
	}
}

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithObserver(o Observer) Option { return func(s *Service) { s.observer = o } }

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New builds a Service over provider. The local provider requires an engine.
func New(provider Provider, opts ...Option) (*Service, error) {
	s := &Service{
		provider: provider,
		now:      time.Now,
		logger:   slog.Default(),
		observer: nopObserver{},
		gens:     make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "vault", "provider", string(provider.Type()))

	if provider.Type() == ProviderLocal && s.engine == nil {
		return nil, errors.New("local vault provider requires a crypto engine")
	}
	if s.cache != nil && s.ttl <= 0 {
		s.cache = nil
	}
	return s, nil
}

// ProviderType reports the active provider.
func (s *Service) ProviderType() ProviderType { return s.provider.Type() }

// GetCredentials returns the newest enabled credentials for serverID, or nil
// when none were ever stored.
func (s *Service) GetCredentials(ctx context.Context, serverID, callerID string) (*Credentials, error) {
	s.logger.Debug("credential access", "server_id", serverID, "caller_id", callerID)

	secret, err := s.fetch(ctx, SecretName(serverID), "")
	if errors.Is(err, ErrSecretNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.decode(secret)
}

// GetCredentialsVersion reads an explicit version, which must still be enabled.
func (s *Service) GetCredentialsVersion(ctx context.Context, serverID, version string) (*Credentials, error) {
	if version == "" {
		return nil, errs.Validation("version is required")
	}
	secret, err := s.fetch(ctx, SecretName(serverID), version)
	if err != nil {
		return nil, err
	}
	return s.decode(secret)
}

// StoreCredentials validates creds and writes them as a new version.
func (s *Service) StoreCredentials(ctx context.Context, serverID string, creds *Credentials) (*Reference, error) {
	if err := creds.Validate(s.now()); err != nil {
		return nil, err
	}
	ref, err := s.write(ctx, serverID, creds)
	if err != nil {
		return nil, err
	}
	s.logger.Info("stored credentials", "server_id", serverID, "version", ref.Version)
	return ref, nil
}

// DeleteCredentials removes every version. It succeeds when nothing was stored.
func (s *Service) DeleteCredentials(ctx context.Context, serverID string) error {
	name := SecretName(serverID)
	err := s.provider.DeleteSecret(ctx, name)
	s.observer.ProviderCall("delete", err)
	s.invalidate(ctx, name, true)
	if err != nil {
		return err
	}
	s.logger.Info("deleted credentials", "server_id", serverID)
	return nil
}

// RotateCredentials re-seals the current credentials as a new version with a
// fresh nonce. Older versions stay readable by explicit version.
func (s *Service) RotateCredentials(ctx context.Context, serverID string) (*Reference, error) {
	name := SecretName(serverID)
	secret, err := s.provider.GetSecret(ctx, name, "")
	s.observer.ProviderCall("get", err)
	if err != nil {
		return nil, err
	}
	creds, err := s.decode(secret)
	if err != nil {
		return nil, err
	}

	ref, err := s.write(ctx, serverID, creds)
	if err != nil {
		return nil, err
	}
	s.logger.Info("rotated credentials", "server_id", serverID, "from_version", secret.Version, "to_version", ref.Version)
	return ref, nil
}

// RotateCredentialsTo replaces the credentials with creds as a new version.
func (s *Service) RotateCredentialsTo(ctx context.Context, serverID string, creds *Credentials) (*Reference, error) {
	if err := creds.Validate(s.now()); err != nil {
		return nil, err
	}
	ref, err := s.write(ctx, serverID, creds)
	if err != nil {
		return nil, err
	}
	s.logger.Info("replaced credentials", "server_id", serverID, "version", ref.Version)
	return ref, nil
}

// ListCredentialVersions returns version metadata, newest first.
func (s *Service) ListCredentialVersions(ctx context.Context, serverID string) ([]SecretMetadata, error) {
	versions, err := s.provider.ListVersions(ctx, SecretName(serverID))
	s.observer.ProviderCall("list", err)
	return versions, err
}

// DisableCredentialVersion stops version from being served as latest or by explicit read.
func (s *Service) DisableCredentialVersion(ctx context.Context, serverID, version string) error {
	name := SecretName(serverID)
	err := s.provider.DisableVersion(ctx, name, version)
	s.observer.ProviderCall("disable", err)
	s.invalidate(ctx, name, false)
	return err
}

// ValidateCredentials reports whether creds are well formed and unexpired.
func (s *Service) ValidateCredentials(creds *Credentials) bool {
	return creds.Validate(s.now()) == nil
}

// WrappingKey describes the key sealing stored values, or nil when values
// are not wrapped.
func (s *Service) WrappingKey() *KeyVaultKey {
	if s.engine == nil {
		return nil
	}
	return &KeyVaultKey{
		Name:       "master-key",
		KeyType:    KeyTypeSymmetric,
		Operations: []KeyOperation{KeyOpEncrypt, KeyOpDecrypt, KeyOpWrap, KeyOpUnwrap},
		Enabled:    true,
		Tags:       map[string]string{"algorithm": crypto.AlgorithmName(s.engine.Version())},
	}
}

// Close releases the cache.
func (s *Service) Close() error {
	if s.cache != nil {
		return s.cache.Close()
	}
	return nil
}

func (s *Service) write(ctx context.Context, serverID string, creds *Credentials) (*Reference, error) {
	name := SecretName(serverID)
	plain, err := creds.marshal()
	if err != nil {
		return nil, errs.Vault(CodeMalformed, nil, err, "encoding credentials")
	}
	value, err := s.seal(plain)
	if err != nil {
		return nil, err
	}

	md, err := s.provider.SetSecret(ctx, name, value, SetOptions{Tags: map[string]string{"server_id": serverID}})
	s.observer.ProviderCall("set", err)
	// Invalidate even on failure: the provider may have applied the write.
	s.invalidate(ctx, name, false)
	if err != nil {
		return nil, err
	}
	return &Reference{Provider: s.provider.Type(), Name: name, Version: md.Version}, nil
}

// fetch reads through the cache. Concurrent misses for one key share a
// single provider call.
func (s *Service) fetch(ctx context.Context, name, version string) (*KeyVaultSecret, error) {
	key := CacheKey(name, version)
	if s.cache != nil {
		if secret, ok := s.cache.Get(ctx, key); ok {
			s.observer.CacheLookup(true)
			return secret, nil
		}
		s.observer.CacheLookup(false)
	}

	// Keying the flight by generation keeps callers arriving after a write
	// from joining a read that started before it.
	gen := s.generation(name)
	ch := s.flight.DoChan(key+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), providerTimeout)
		defer cancel()

		secret, err := s.provider.GetSecret(pctx, name, version)
		s.observer.ProviderCall("get", err)
		if err != nil {
			return nil, err
		}
		// A write that landed while we were reading makes this result stale.
		if s.cache != nil && s.generation(name) == gen {
			s.cache.Set(pctx, key, secret, s.ttl)
		}
		return secret, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return copySecret(res.Val.(*KeyVaultSecret)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) decode(secret *KeyVaultSecret) (*Credentials, error) {
	if !secret.Enabled {
		return nil, errs.Vault(CodeVersionDisabled, details(s.provider.Type(), secret.Name, secret.Version), nil,
			"secret %s version %s is disabled", secret.Name, secret.Version)
	}
	if secret.Expired(s.now()) {
		return nil, errs.Vault(CodeExpired, details(s.provider.Type(), secret.Name, secret.Version), nil,
			"secret %s has expired", secret.Name)
	}

	plain, err := s.open(secret.Value)
	if err != nil {
		return nil, err
	}
	creds, err := unmarshalCredentials(plain)
	if err != nil {
		return nil, errs.Vault(CodeMalformed, details(s.provider.Type(), secret.Name, secret.Version), err,
			"secret %s does not hold credentials", secret.Name)
	}
	return creds, nil
}

func (s *Service) seal(plain string) (string, error) {
	if s.engine == nil {
		return plain, nil
	}
	data, err := s.engine.EncryptString(plain)
	if err != nil {
		return "", err
	}
	out, err := data.Marshal()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (s *Service) open(value string) (string, error) {
	if s.engine == nil {
		return value, nil
	}
	data, err := crypto.Unmarshal([]byte(value))
	if err != nil {
		return "", err
	}
	return s.engine.DecryptString(data)
}

func (s *Service) generation(name string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if gen, ok := s.gens[name]; ok {
		return gen
	}
	return s.floor
}

// invalidate moves name past every read in flight. A dropped name leaves
// gens; raising the floor to the clock keeps its in-flight reads stale.
func (s *Service) invalidate(ctx context.Context, name string, drop bool) {
	s.genMu.Lock()
	s.clock++
	if drop {
		s.floor = s.clock
		delete(s.gens, name)
	} else {
		s.gens[name] = s.clock
	}
	s.genMu.Unlock()

	if s.cache != nil {
		s.cache.Invalidate(ctx, name)
	}
}
