// ABOUTME: Tests for the Crypto Engine: round-trip, tamper detection, versions
// ABOUTME: Also covers key derivation determinism and encoding round-trips

package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcp-gateway/internal/errs"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	e, err := NewEngine(key, opts...)
	require.NoError(t, err)
	return e
}

func TestRoundTrip(t *testing.T) {
	for _, version := range []int{VersionAES256GCM, VersionChaCha20Poly1305} {
		e := newTestEngine(t, WithVersion(version))
		key, err := e.GenerateKey()
		require.NoError(t, err)

		for _, plain := range [][]byte{nil, []byte("x"), []byte("a longer secret value with spaces"), bytes.Repeat([]byte{0xff}, 4096)} {
			data, err := e.Encrypt(plain, key)
			require.NoError(t, err)
			assert.Len(t, data.Nonce, NonceSize)
			assert.Len(t, data.Tag, TagSize)
			assert.Equal(t, version, data.Version)

			got, err := e.Decrypt(data, key)
			require.NoError(t, err)
			assert.Equal(t, string(plain), string(got))
		}
	}
}

func TestNonceIsFreshPerCall(t *testing.T) {
	e := newTestEngine(t)
	a, err := e.Seal([]byte("same"))
	require.NoError(t, err)
	b, err := e.Seal([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.CipherText, b.CipherText)
}

func TestTamperDetection(t *testing.T) {
	e := newTestEngine(t)
	data, err := e.Seal([]byte("top secret credentials"))
	require.NoError(t, err)

	fields := map[string]func(d *EncryptedData) []byte{
		"cipherText": func(d *EncryptedData) []byte { return d.CipherText },
		"nonce":      func(d *EncryptedData) []byte { return d.Nonce },
		"tag":        func(d *EncryptedData) []byte { return d.Tag },
	}
	for name, field := range fields {
		for i := range len(field(data)) * 8 {
			tampered := clone(data)
			buf := field(tampered)
			buf[i/8] ^= 1 << (i % 8)

			_, err := e.Open(tampered)
			require.Error(t, err, "%s bit %d", name, i)
			assert.True(t, errors.Is(err, ErrDecryptionFailed))
			assert.Equal(t, errs.KindCryptographicFailure, errs.KindOf(err))
		}
	}
}

func TestDecryptFailsClosed(t *testing.T) {
	e := newTestEngine(t)
	data, err := e.Seal([]byte("value"))
	require.NoError(t, err)

	cases := map[string]func(d *EncryptedData){
		"truncated nonce":   func(d *EncryptedData) { d.Nonce = d.Nonce[:8] },
		"truncated tag":     func(d *EncryptedData) { d.Tag = d.Tag[:15] },
		"unknown version":   func(d *EncryptedData) { d.Version = 99 },
		"algorithm renamed": func(d *EncryptedData) { d.Algorithm = AlgorithmChaCha20Poly1305 },
		"empty ciphertext":  func(d *EncryptedData) { d.CipherText = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := clone(data)
			mutate(d)
			_, err := e.Open(d)
			assert.Equal(t, ErrDecryptionFailed, err)
		})
	}

	other := newTestEngine(t)
	_, err = other.Open(data)
	assert.Equal(t, ErrDecryptionFailed, err, "wrong key")

	_, err = e.Open(nil)
	assert.Equal(t, ErrDecryptionFailed, err)
}

func TestVersionMigration(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	oldEngine, err := NewEngine(key, WithVersion(VersionAES256GCM))
	require.NoError(t, err)
	newEngine, err := NewEngine(key, WithVersion(VersionChaCha20Poly1305))
	require.NoError(t, err)

	stored, err := oldEngine.EncryptString("legacy")
	require.NoError(t, err)

	got, err := newEngine.DecryptString(stored)
	require.NoError(t, err)
	assert.Equal(t, "legacy", got)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	data, err := e.Seal([]byte("persist me"))
	require.NoError(t, err)

	decoded, err := data.Encode().Decode()
	require.NoError(t, err)
	assert.Equal(t, data, decoded)

	raw, err := data.Marshal()
	require.NoError(t, err)
	parsed, err := Unmarshal(raw)
	require.NoError(t, err)
	plain, err := e.Open(parsed)
	require.NoError(t, err)
	assert.Equal(t, "persist me", string(plain))
}

func TestDecodeRejectsBadBase64(t *testing.T) {
	_, err := Encoded{CipherText: "!!", Nonce: "", Tag: "", Algorithm: AlgorithmAES256GCM, Version: 1}.Decode()
	assert.Equal(t, ErrDecryptionFailed, err)

	_, err = Unmarshal([]byte("{not json"))
	assert.Equal(t, ErrDecryptionFailed, err)
}

func TestDeriveKey(t *testing.T) {
	a, err := DeriveKey([]byte("hunter2"), []byte("salt"), 1000)
	require.NoError(t, err)
	b, err := DeriveKey([]byte("hunter2"), []byte("salt"), 1000)
	require.NoError(t, err)
	c, err := DeriveKey([]byte("hunter2"), []byte("pepper"), 1000)
	require.NoError(t, err)

	assert.Len(t, a, KeySize)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err = DeriveKey(nil, []byte("salt"), 1000)
	assert.Error(t, err)
	_, err = DeriveKey([]byte("pw"), nil, 1000)
	assert.Error(t, err)
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)

	key, _ := GenerateKey()
	_, err = NewEngine(key, WithVersion(7))
	assert.Error(t, err)
}

func clone(d *EncryptedData) *EncryptedData {
	return &EncryptedData{
		CipherText: append([]byte(nil), d.CipherText...),
		Nonce:      append([]byte(nil), d.Nonce...),
		Tag:        append([]byte(nil), d.Tag...),
		Algorithm:  d.Algorithm,
		Version:    d.Version,
	}
}
