// ABOUTME: Tests for the vault Service over the local provider
// ABOUTME: Covers sealing at rest, rotation, caching and invalidation

package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcp-gateway/internal/crypto"
	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
)

func newEngine(t *testing.T) *crypto.Engine {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	e, err := crypto.NewEngine(key)
	require.NoError(t, err)
	return e
}

func bearer(token string) *Credentials {
	return &Credentials{AuthType: store.AuthBearer, Bearer: &BearerCredentials{Token: token}}
}

// countingProvider counts GetSecret calls reaching the wrapped provider.
type countingProvider struct {
	Provider
	gets atomic.Int32
}

func (p *countingProvider) GetSecret(ctx context.Context, name, version string) (*KeyVaultSecret, error) {
	p.gets.Add(1)
	return p.Provider.GetSecret(ctx, name, version)
}

func newLocalService(t *testing.T, opts ...Option) (*Service, *store.MockStore) {
	t.Helper()
	ms := store.NewMockStore()
	opts = append([]Option{WithEngine(newEngine(t))}, opts...)
	svc, err := New(NewLocalProvider(ms), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc, ms
}

func TestLocalProviderRequiresEngine(t *testing.T) {
	_, err := New(NewLocalProvider(store.NewMockStore()))
	assert.Error(t, err)
}

func TestStoreAndGetCredentials(t *testing.T) {
	ctx := context.Background()
	svc, ms := newLocalService(t)

	ref, err := svc.StoreCredentials(ctx, "srv-1", bearer("super-secret-token"))
	if err != nil {
		t.Fatalf("StoreCredentials failed: %v", err)
	}
	assert.Equal(t, ProviderLocal, ref.Provider)
	assert.Equal(t, "mcp-server-srv-1", ref.Name)
	assert.Equal(t, "1", ref.Version)

	got, err := svc.GetCredentials(ctx, "srv-1", "caller")
	if err != nil {
		t.Fatalf("GetCredentials failed: %v", err)
	}
	require.NotNil(t, got.Bearer)
	assert.Equal(t, "super-secret-token", got.Bearer.Token)

	// The persisted value is a sealed envelope, not the token.
	sv, err := ms.LatestSecretVersion(ctx, ref.Name)
	require.NoError(t, err)
	assert.NotContains(t, sv.Value, "super-secret-token")
	assert.Contains(t, sv.Value, `"cipherText"`)
	assert.Equal(t, "srv-1", sv.Tags["server_id"])
}

func TestGetCredentialsAbsent(t *testing.T) {
	svc, _ := newLocalService(t)
	got, err := svc.GetCredentials(context.Background(), "missing", "caller")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreRejectsInvalidCredentials(t *testing.T) {
	svc, ms := newLocalService(t)
	_, err := svc.StoreCredentials(context.Background(), "srv", &Credentials{AuthType: store.AuthBearer})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	versions, err := ms.ListSecretVersions(context.Background(), SecretName("srv"))
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestRotateCredentials(t *testing.T) {
	ctx := context.Background()
	svc, ms := newLocalService(t)

	_, err := svc.StoreCredentials(ctx, "srv", bearer("t1"))
	require.NoError(t, err)
	before, err := ms.GetSecretVersion(ctx, SecretName("srv"), 1)
	require.NoError(t, err)

	ref, err := svc.RotateCredentials(ctx, "srv")
	if err != nil {
		t.Fatalf("RotateCredentials failed: %v", err)
	}
	assert.Equal(t, "2", ref.Version)

	after, err := ms.GetSecretVersion(ctx, SecretName("srv"), 2)
	require.NoError(t, err)
	assert.NotEqual(t, before.Value, after.Value, "rotation must re-seal with a fresh nonce")

	// Both versions decrypt to the same credentials.
	v1, err := svc.GetCredentialsVersion(ctx, "srv", "1")
	require.NoError(t, err)
	latest, err := svc.GetCredentials(ctx, "srv", "caller")
	require.NoError(t, err)
	assert.Equal(t, v1, latest)

	ref, err = svc.RotateCredentialsTo(ctx, "srv", bearer("t2"))
	require.NoError(t, err)
	assert.Equal(t, "3", ref.Version)

	latest, err = svc.GetCredentials(ctx, "srv", "caller")
	require.NoError(t, err)
	assert.Equal(t, "t2", latest.Bearer.Token)

	// An in-flight caller pinned to an older version can still read it.
	old, err := svc.GetCredentialsVersion(ctx, "srv", "1")
	require.NoError(t, err)
	assert.Equal(t, "t1", old.Bearer.Token)

	versions, err := svc.ListCredentialVersions(ctx, "srv")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "3", versions[0].Version)
}

func TestRotateMissingCredentials(t *testing.T) {
	svc, _ := newLocalService(t)
	_, err := svc.RotateCredentials(context.Background(), "nope")
	assert.Equal(t, errs.KindVaultError, errs.KindOf(err))
	assert.True(t, errors.Is(err, ErrSecretNotFound))
}

func TestDisabledVersion(t *testing.T) {
	ctx := context.Background()
	svc, _ := newLocalService(t)

	_, err := svc.StoreCredentials(ctx, "srv", bearer("t1"))
	require.NoError(t, err)
	_, err = svc.StoreCredentials(ctx, "srv", bearer("t2"))
	require.NoError(t, err)

	require.NoError(t, svc.DisableCredentialVersion(ctx, "srv", "2"))

	latest, err := svc.GetCredentials(ctx, "srv", "caller")
	require.NoError(t, err)
	assert.Equal(t, "t1", latest.Bearer.Token, "newest enabled version wins")

	_, err = svc.GetCredentialsVersion(ctx, "srv", "2")
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, CodeVersionDisabled, e.ProviderCode)
}

func TestDeleteCredentials(t *testing.T) {
	ctx := context.Background()
	svc, _ := newLocalService(t, WithCache(NewMemoryCache(16), time.Minute))

	_, err := svc.StoreCredentials(ctx, "srv", bearer("t1"))
	require.NoError(t, err)
	_, err = svc.GetCredentials(ctx, "srv", "caller")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteCredentials(ctx, "srv"))
	got, err := svc.GetCredentials(ctx, "srv", "caller")
	assert.NoError(t, err)
	assert.Nil(t, got, "delete must invalidate the cached entry")

	assert.NoError(t, svc.DeleteCredentials(ctx, "srv"), "deleting twice is not an error")
}

func TestDeleteCredentialsForgetsGeneration(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMockStore()
	cp := &countingProvider{Provider: NewLocalProvider(ms)}
	svc, err := New(cp, WithEngine(newEngine(t)), WithCache(NewMemoryCache(16), time.Minute))
	require.NoError(t, err)
	defer svc.Close()

	var before []uint64
	for i := range 20 {
		id := fmt.Sprintf("srv-%d", i)
		_, err := svc.StoreCredentials(ctx, id, bearer("t1"))
		require.NoError(t, err)
		before = append(before, svc.generation(SecretName(id)))
	}
	for i := range 20 {
		require.NoError(t, svc.DeleteCredentials(ctx, fmt.Sprintf("srv-%d", i)))
	}
	assert.Empty(t, svc.gens)

	// A read that started before the delete must not be cached after it.
	for i, gen := range before {
		assert.NotEqual(t, gen, svc.generation(SecretName(fmt.Sprintf("srv-%d", i))))
	}

	_, err = svc.StoreCredentials(ctx, "srv-0", bearer("t2"))
	require.NoError(t, err)
	gets := cp.gets.Load()
	for range 3 {
		got, err := svc.GetCredentials(ctx, "srv-0", "caller")
		require.NoError(t, err)
		assert.Equal(t, "t2", got.Bearer.Token)
	}
	assert.Equal(t, gets+1, cp.gets.Load(), "cache still serves repeated reads")
}

func TestTamperedSecretFailsClosed(t *testing.T) {
	ctx := context.Background()
	svc, ms := newLocalService(t)

	_, err := svc.StoreCredentials(ctx, "srv", bearer("t1"))
	require.NoError(t, err)

	sv, err := ms.LatestSecretVersion(ctx, SecretName("srv"))
	require.NoError(t, err)
	data, err := crypto.Unmarshal([]byte(sv.Value))
	require.NoError(t, err)
	data.CipherText[0] ^= 0x01
	tampered, err := data.Marshal()
	require.NoError(t, err)
	require.NoError(t, ms.PutSecretVersion(ctx, &store.SecretVersion{Name: sv.Name, Value: string(tampered), Enabled: true}))

	_, err = svc.GetCredentials(ctx, "srv", "caller")
	assert.Equal(t, errs.KindCryptographicFailure, errs.KindOf(err))
}

func TestCacheServesRepeatedReads(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMockStore()
	cp := &countingProvider{Provider: NewLocalProvider(ms)}
	svc, err := New(cp, WithEngine(newEngine(t)), WithCache(NewMemoryCache(16), time.Minute))
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.StoreCredentials(ctx, "srv", bearer("t1"))
	require.NoError(t, err)

	for range 5 {
		got, err := svc.GetCredentials(ctx, "srv", "caller")
		require.NoError(t, err)
		assert.Equal(t, "t1", got.Bearer.Token)
	}
	assert.Equal(t, int32(1), cp.gets.Load())

	// A write invalidates immediately.
	_, err = svc.RotateCredentialsTo(ctx, "srv", bearer("t2"))
	require.NoError(t, err)
	got, err := svc.GetCredentials(ctx, "srv", "caller")
	require.NoError(t, err)
	assert.Equal(t, "t2", got.Bearer.Token)
}

func TestCachedValuesStaySealed(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(16)
	svc, _ := newLocalService(t, WithCache(cache, time.Minute))

	_, err := svc.StoreCredentials(ctx, "srv", bearer("plaintext-token"))
	require.NoError(t, err)
	_, err = svc.GetCredentials(ctx, "srv", "caller")
	require.NoError(t, err)

	cached, ok := cache.Get(ctx, CacheKey(SecretName("srv"), ""))
	require.True(t, ok)
	assert.False(t, strings.Contains(cached.Value, "plaintext-token"))
}

func TestConcurrentReadsShareProviderCall(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMockStore()
	cp := &countingProvider{Provider: NewLocalProvider(ms)}
	svc, err := New(cp, WithEngine(newEngine(t)), WithCache(NewMemoryCache(16), time.Minute))
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.StoreCredentials(ctx, "srv", bearer("t1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.GetCredentials(ctx, "srv", "caller")
			assert.NoError(t, err)
			if assert.NotNil(t, got) {
				assert.Equal(t, "t1", got.Bearer.Token)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, cp.gets.Load(), int32(20))
	assert.GreaterOrEqual(t, cp.gets.Load(), int32(1))
}

func TestExpiredSecretIsRejected(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mp := NewMemoryProvider()
	svc, err := New(mp, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	exp := now.Add(-time.Second)
	plain, err := bearer("t").marshal()
	require.NoError(t, err)
	_, err = mp.SetSecret(ctx, SecretName("srv"), plain, SetOptions{ExpiresAt: &exp})
	require.NoError(t, err)

	_, err = svc.GetCredentials(ctx, "srv", "caller")
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, CodeExpired, e.ProviderCode)
}

func TestUnwrappedProviderStoresJSON(t *testing.T) {
	ctx := context.Background()
	mp := NewMemoryProvider()
	svc, err := New(mp)
	require.NoError(t, err)
	assert.Nil(t, svc.WrappingKey())

	_, err = svc.StoreCredentials(ctx, "srv", bearer("visible"))
	require.NoError(t, err)

	raw, err := mp.GetSecret(ctx, SecretName("srv"), "")
	require.NoError(t, err)
	assert.Contains(t, raw.Value, "visible")
}

func TestValidateCredentials(t *testing.T) {
	svc, _ := newLocalService(t)
	assert.True(t, svc.ValidateCredentials(bearer("t")))
	assert.False(t, svc.ValidateCredentials(&Credentials{AuthType: store.AuthBasic}))

	key := svc.WrappingKey()
	require.NotNil(t, key)
	assert.Equal(t, KeyTypeSymmetric, key.KeyType)
	assert.True(t, key.Permits(KeyOpUnwrap))
	assert.False(t, key.Permits(KeyOpSign))
	assert.Equal(t, crypto.AlgorithmAES256GCM, key.Tags["algorithm"])
}
