// ABOUTME: Tests for credential info, version reads, rotation and version retirement
// ABOUTME: Responses carry metadata only; the referenced version cannot be disabled

package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcp-gateway/internal/authz"
	"github.com/2389/mcp-gateway/internal/crypto"
	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
	"github.com/2389/mcp-gateway/internal/vault"
)

func TestRotateServerCredentials(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	srv := f.register(t, operator, "search", bearer("tok"))

	_, err := f.gateway.RotateServerCredentials(ctx, viewer, srv.ID)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	ref, err := f.gateway.RotateServerCredentials(ctx, operator, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, "2", ref.Version)

	got, err := f.gateway.GetServer(ctx, operator, srv.ID)
	require.NoError(t, err)
	stored, err := vault.ParseReference(got.Credentials)
	require.NoError(t, err)
	assert.Equal(t, "2", stored.Version)

	info, err := f.gateway.CredentialInfo(ctx, viewer, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, "2", info.Reference.Version)
	assert.Len(t, info.Versions, 2)
	assert.Nil(t, info.WrappingKey, "values are not wrapped without an engine")

	_, err = f.gateway.Invoke(ctx, operator, srv.ID, "lookup", nil)
	require.NoError(t, err)
	assert.Equal(t, "tok", f.dispatcher.last().target.Credentials.Bearer.Token)

	plain := f.register(t, operator, "plain", nil)
	_, err = f.gateway.RotateServerCredentials(ctx, operator, plain.ID)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestCredentialVersionLifecycle(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	srv := f.register(t, operator, "search", bearer("tok"))
	_, err := f.gateway.RotateServerCredentials(ctx, operator, srv.ID)
	require.NoError(t, err)

	v1, err := f.gateway.DescribeCredentialVersion(ctx, viewer, srv.ID, "1")
	require.NoError(t, err)
	assert.Equal(t, store.AuthBearer, v1.AuthType)
	assert.True(t, v1.Valid)
	assert.False(t, v1.Current)

	v2, err := f.gateway.DescribeCredentialVersion(ctx, viewer, srv.ID, "2")
	require.NoError(t, err)
	assert.True(t, v2.Current)

	err = f.gateway.DisableCredentialVersion(ctx, operator, srv.ID, "2")
	assert.ErrorIs(t, err, errs.ErrConflict)

	assert.ErrorIs(t, f.gateway.DisableCredentialVersion(ctx, viewer, srv.ID, "1"), errs.ErrUnauthorized)
	require.NoError(t, f.gateway.DisableCredentialVersion(ctx, operator, srv.ID, "1"))

	_, err = f.gateway.DescribeCredentialVersion(ctx, viewer, srv.ID, "1")
	assert.ErrorIs(t, err, errs.ErrVaultError)

	_, err = f.gateway.Invoke(ctx, operator, srv.ID, "lookup", nil)
	require.NoError(t, err, "the referenced version keeps serving")

	_, err = f.gateway.DescribeCredentialVersion(ctx, outsider, srv.ID, "2")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCredentialInfoReportsWrappingKey(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	engine, err := crypto.NewEngine(key)
	require.NoError(t, err)
	v, err := vault.New(vault.NewMemoryProvider(), vault.WithEngine(engine))
	require.NoError(t, err)
	gw := New(f.registry, v, authz.NewEngine(f.store), f.dispatcher, Config{})

	plain := f.register(t, operator, "plain", nil)
	info, err := gw.CredentialInfo(ctx, viewer, plain.ID)
	require.NoError(t, err)
	assert.Nil(t, info.Reference)
	assert.Empty(t, info.Versions)
	require.NotNil(t, info.WrappingKey)
	assert.Equal(t, vault.KeyTypeSymmetric, info.WrappingKey.KeyType)
	assert.True(t, info.WrappingKey.Enabled)
	assert.NotEmpty(t, info.WrappingKey.Tags["algorithm"])
}
