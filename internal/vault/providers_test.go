// ABOUTME: Tests for the memory, 1Password and AWS providers using fakes
// ABOUTME: Every failure must surface as a vault error with a provider code

package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
)

func TestMemoryProviderVersions(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	_, err := p.GetSecret(ctx, "a", "")
	assert.True(t, errors.Is(err, ErrSecretNotFound))

	for i := 1; i <= 3; i++ {
		md, err := p.SetSecret(ctx, "a", fmt.Sprintf("v%d", i), SetOptions{})
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), md.Version)
	}
	require.NoError(t, p.DisableVersion(ctx, "a", "3"))

	s, err := p.GetSecret(ctx, "a", "")
	require.NoError(t, err)
	assert.Equal(t, "v2", s.Value)

	s, err = p.GetSecret(ctx, "a", "3")
	require.NoError(t, err)
	assert.False(t, s.Enabled)

	_, err = p.GetSecret(ctx, "a", "9")
	assert.True(t, errors.Is(err, ErrSecretNotFound))

	_, err = p.GetSecret(ctx, "a", "zero")
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidVersion, e.ProviderCode)

	versions, err := p.ListVersions(ctx, "a")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "3", versions[0].Version)

	require.NoError(t, p.DeleteSecret(ctx, "a"))
	versions, err = p.ListVersions(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestLocalProviderAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLiteStore(t.TempDir() + "/vault.db")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	p := NewLocalProvider(s)
	md, err := p.SetSecret(ctx, "n", "sealed-value", SetOptions{Tags: map[string]string{"k": "v"}})
	require.NoError(t, err)
	assert.Equal(t, "1", md.Version)

	got, err := p.GetSecret(ctx, "n", "1")
	require.NoError(t, err)
	assert.Equal(t, "sealed-value", got.Value)
	assert.Equal(t, "v", got.Tags["k"])

	err = p.DisableVersion(ctx, "n", "7")
	assert.True(t, errors.Is(err, ErrSecretNotFound))
}

type fakeOPSecrets struct {
	values map[string]string
	err    error
	refs   []string
}

func (f *fakeOPSecrets) Resolve(_ context.Context, ref string) (string, error) {
	f.refs = append(f.refs, ref)
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.values[ref]
	if !ok {
		return "", errors.New("error resolving secret reference: no item matched the secret reference query")
	}
	return v, nil
}

func TestOnePasswordProvider(t *testing.T) {
	ctx := context.Background()
	fake := &fakeOPSecrets{values: map[string]string{
		"op://Infra/mcp-server-1/credential": `{"authType":"bearer","bearer":{"token":"op-token"}}`,
	}}
	p := NewOnePasswordProviderWithService(fake, "Infra", "")

	s, err := p.GetSecret(ctx, "mcp-server-1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"op://Infra/mcp-server-1/credential"}, fake.refs)
	assert.True(t, s.Enabled)

	assert.Equal(t, "op://x/y/z", p.Reference("op://x/y/z"))

	_, err = p.GetSecret(ctx, "mcp-server-2", "")
	assert.True(t, errors.Is(err, ErrSecretNotFound))

	_, err = p.GetSecret(ctx, "mcp-server-1", "2")
	assert.True(t, errors.Is(err, ErrUnsupported))

	_, err = p.SetSecret(ctx, "mcp-server-1", "x", SetOptions{})
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindVaultError, e.Kind)
	assert.Equal(t, CodeUnsupportedOperation, e.ProviderCode)
	assert.True(t, errors.Is(p.DeleteSecret(ctx, "mcp-server-1"), ErrUnsupported))
	assert.True(t, errors.Is(p.DisableVersion(ctx, "mcp-server-1", "1"), ErrUnsupported))

	fake.err = errors.New("connection reset")
	_, err = p.GetSecret(ctx, "mcp-server-1", "")
	e, ok = errs.As(err)
	require.True(t, ok)
	assert.Equal(t, CodeProviderFailure, e.ProviderCode)
}

func TestServiceOverOnePassword(t *testing.T) {
	fake := &fakeOPSecrets{values: map[string]string{
		"op://mcp-gateway/mcp-server-s1/credential": `{"authType":"bearer","bearer":{"token":"op-token"}}`,
	}}
	svc, err := New(NewOnePasswordProviderWithService(fake, "", ""))
	require.NoError(t, err)

	creds, err := svc.GetCredentials(context.Background(), "s1", "caller")
	require.NoError(t, err)
	assert.Equal(t, "op-token", creds.Bearer.Token)

	_, err = svc.StoreCredentials(context.Background(), "s1", bearer("new"))
	assert.Equal(t, errs.KindVaultError, errs.KindOf(err))
}

// fakeSecretsManager is an in-memory Secrets Manager with staging labels.
type fakeSecretsManager struct {
	mu       sync.Mutex
	secrets  map[string][]*fakeVersion
	seq      int
	failWith error
}

type fakeVersion struct {
	id      string
	value   string
	stages  []string
	created time.Time
}

func newFakeSecretsManager() *fakeSecretsManager {
	return &fakeSecretsManager{secrets: make(map[string][]*fakeVersion)}
}

func notFoundErr() error {
	return &types.ResourceNotFoundException{Message: aws.String("Secrets Manager can't find the specified secret.")}
}

func (f *fakeSecretsManager) add(name, value string) string {
	f.seq++
	id := fmt.Sprintf("ver-%d", f.seq)
	for _, v := range f.secrets[name] {
		v.stages = nil
	}
	f.secrets[name] = append(f.secrets[name], &fakeVersion{
		id:      id,
		value:   value,
		stages:  []string{stageCurrent},
		created: time.Date(2026, 1, 1, 0, 0, f.seq, 0, time.UTC),
	})
	return id
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	for _, v := range f.secrets[aws.ToString(in.SecretId)] {
		match := in.VersionId != nil && v.id == *in.VersionId
		if in.VersionStage != nil {
			for _, s := range v.stages {
				if s == *in.VersionStage {
					match = true
				}
			}
		}
		if match {
			created := v.created
			return &secretsmanager.GetSecretValueOutput{
				SecretString:  aws.String(v.value),
				VersionId:     aws.String(v.id),
				VersionStages: v.stages,
				CreatedDate:   &created,
			}, nil
		}
	}
	return nil, notFoundErr()
}

func (f *fakeSecretsManager) CreateSecret(_ context.Context, in *secretsmanager.CreateSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.add(aws.ToString(in.Name), aws.ToString(in.SecretString))
	return &secretsmanager.CreateSecretOutput{VersionId: aws.String(id)}, nil
}

func (f *fakeSecretsManager) PutSecretValue(_ context.Context, in *secretsmanager.PutSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.SecretId)
	if _, ok := f.secrets[name]; !ok {
		return nil, notFoundErr()
	}
	id := f.add(name, aws.ToString(in.SecretString))
	return &secretsmanager.PutSecretValueOutput{VersionId: aws.String(id)}, nil
}

func (f *fakeSecretsManager) DeleteSecret(_ context.Context, in *secretsmanager.DeleteSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.SecretId)
	if _, ok := f.secrets[name]; !ok {
		return nil, notFoundErr()
	}
	delete(f.secrets, name)
	return &secretsmanager.DeleteSecretOutput{}, nil
}

func (f *fakeSecretsManager) ListSecretVersionIds(_ context.Context, in *secretsmanager.ListSecretVersionIdsInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretVersionIdsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	versions, ok := f.secrets[aws.ToString(in.SecretId)]
	if !ok {
		return nil, notFoundErr()
	}
	out := &secretsmanager.ListSecretVersionIdsOutput{}
	for _, v := range versions {
		created := v.created
		out.Versions = append(out.Versions, types.SecretVersionsListEntry{
			VersionId:     aws.String(v.id),
			VersionStages: v.stages,
			CreatedDate:   &created,
		})
	}
	return out, nil
}

func (f *fakeSecretsManager) UpdateSecretVersionStage(_ context.Context, in *secretsmanager.UpdateSecretVersionStageInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.secrets[aws.ToString(in.SecretId)] {
		if v.id != aws.ToString(in.RemoveFromVersionId) {
			continue
		}
		kept := v.stages[:0]
		for _, s := range v.stages {
			if s != aws.ToString(in.VersionStage) {
				kept = append(kept, s)
			}
		}
		v.stages = kept
	}
	return &secretsmanager.UpdateSecretVersionStageOutput{}, nil
}

func TestAWSProvider(t *testing.T) {
	ctx := context.Background()
	fake := newFakeSecretsManager()
	p := NewAWSProviderWithClient(fake)

	_, err := p.GetSecret(ctx, "s", "")
	assert.True(t, errors.Is(err, ErrSecretNotFound))

	md1, err := p.SetSecret(ctx, "s", "one", SetOptions{Tags: map[string]string{"server_id": "x"}})
	require.NoError(t, err)
	md2, err := p.SetSecret(ctx, "s", "two", SetOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, md1.Version, md2.Version)

	latest, err := p.GetSecret(ctx, "s", "")
	require.NoError(t, err)
	assert.Equal(t, "two", latest.Value)
	assert.Equal(t, md2.Version, latest.Version)

	old, err := p.GetSecret(ctx, "s", md1.Version)
	require.NoError(t, err)
	assert.Equal(t, "one", old.Value)
	assert.False(t, old.Enabled, "superseded versions carry no staging label")

	versions, err := p.ListVersions(ctx, "s")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, md2.Version, versions[0].Version)

	err = p.DisableVersion(ctx, "s", md2.Version)
	assert.True(t, errors.Is(err, ErrUnsupported), "AWSCURRENT cannot be disabled")
	assert.True(t, errors.Is(p.DisableVersion(ctx, "s", "ver-missing"), ErrSecretNotFound))

	require.NoError(t, p.DeleteSecret(ctx, "s"))
	require.NoError(t, p.DeleteSecret(ctx, "s"))
	versions, err = p.ListVersions(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestAWSProviderMapsAPIErrors(t *testing.T) {
	fake := newFakeSecretsManager()
	fake.failWith = &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "denied"}
	p := NewAWSProviderWithClient(fake)

	_, err := p.GetSecret(context.Background(), "s", "")
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindVaultError, e.Kind)
	assert.Equal(t, "AccessDeniedException", e.ProviderCode)
	assert.Equal(t, "aws", e.Details["provider"])
}

func TestServiceOverAWSWrapsValues(t *testing.T) {
	ctx := context.Background()
	fake := newFakeSecretsManager()
	svc, err := New(NewAWSProviderWithClient(fake), WithEngine(newEngine(t)))
	require.NoError(t, err)

	ref, err := svc.StoreCredentials(ctx, "srv", bearer("aws-token"))
	require.NoError(t, err)
	assert.Equal(t, ProviderAWS, ref.Provider)

	raw := fake.secrets[SecretName("srv")][0].value
	assert.NotContains(t, raw, "aws-token")

	got, err := svc.GetCredentials(ctx, "srv", "caller")
	require.NoError(t, err)
	assert.Equal(t, "aws-token", got.Bearer.Token)
}

func TestNewProviderSelection(t *testing.T) {
	ctx := context.Background()

	p, err := NewProvider(ctx, Configuration{Provider: ProviderMemory}, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderMemory, p.Type())

	p, err = NewProvider(ctx, Configuration{Provider: ProviderLocal}, store.NewMockStore())
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, p.Type())

	_, err = NewProvider(ctx, Configuration{Provider: ProviderLocal}, nil)
	assert.Error(t, err)

	_, err = NewProvider(ctx, Configuration{Provider: ProviderOnePassword}, nil)
	assert.Error(t, err, "missing service account token")

	_, err = NewProvider(ctx, Configuration{Provider: "hashicorp"}, nil)
	assert.Error(t, err)
}
