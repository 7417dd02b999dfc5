// ABOUTME: Crypto Engine: AEAD encrypt/decrypt with per-call random nonces
// ABOUTME: Also provides key generation and PBKDF2 password-based key derivation

package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/2389/mcp-gateway/internal/errs"
)

// DefaultIterations is the PBKDF2 iteration count used when none is configured.
const DefaultIterations = 100_000

// ErrDecryptionFailed is the only error Decrypt returns for bad input.
var ErrDecryptionFailed error = errs.Cryptographic()

// ErrInvalidKey is returned when a key is not KeySize bytes.
var ErrInvalidKey = errors.New("crypto: key must be 32 bytes")

// Engine encrypts and decrypts values. It holds no per-call state.
type Engine struct {
	masterKey  []byte
	version    int
	iterations int
	rand       io.Reader
}

// Option configures an Engine.
type Option func(*Engine)

// WithVersion selects the envelope version used for new encryptions.
func WithVersion(v int) Option { return func(e *Engine) { e.version = v } }

// WithIterations sets the PBKDF2 iteration count for DeriveKey.
func WithIterations(n int) Option { return func(e *Engine) { e.iterations = n } }

// WithRandom replaces the nonce/key source. Tests only.
func WithRandom(r io.Reader) Option { return func(e *Engine) { e.rand = r } }

// NewEngine creates an engine around masterKey. The key is copied.
func NewEngine(masterKey []byte, opts ...Option) (*Engine, error) {
	if len(masterKey) != KeySize {
		return nil, ErrInvalidKey
	}
	e := &Engine{
		masterKey:  append([]byte(nil), masterKey...),
		version:    CurrentVersion,
		iterations: DefaultIterations,
		rand:       rand.Reader,
	}
	for _, opt := range opts {
		opt(e)
	}
	if !SupportedVersion(e.version) {
		return nil, fmt.Errorf("crypto: unsupported envelope version %d", e.version)
	}
	if e.iterations <= 0 {
		e.iterations = DefaultIterations
	}
	return e, nil
}

// Version returns the envelope version used for new encryptions.
func (e *Engine) Version() int { return e.version }

// Seal encrypts plainText with the master key.
func (e *Engine) Seal(plainText []byte) (*EncryptedData, error) {
	return e.Encrypt(plainText, e.masterKey)
}

// Open decrypts data with the master key.
func (e *Engine) Open(data *EncryptedData) ([]byte, error) {
	return e.Decrypt(data, e.masterKey)
}

// Encrypt encrypts plainText under key with a fresh random nonce.
func (e *Engine) Encrypt(plainText, key []byte) (*EncryptedData, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	alg := algorithms[e.version]
	aead, err := alg.newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	nonce := make([]byte, alg.nonceSize)
	if _, err := io.ReadFull(e.rand, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plainText, nil)
	split := len(sealed) - alg.tagSize
	return &EncryptedData{
		CipherText: sealed[:split:split],
		Nonce:      nonce,
		Tag:        append([]byte(nil), sealed[split:]...),
		Algorithm:  alg.name,
		Version:    e.version,
	}, nil
}

// Decrypt authenticates and decrypts data under key. The version is checked
// first and selects the algorithm; every failure is ErrDecryptionFailed.
func (e *Engine) Decrypt(data *EncryptedData, key []byte) ([]byte, error) {
	if data == nil || len(key) != KeySize {
		return nil, ErrDecryptionFailed
	}
	alg, ok := algorithms[data.Version]
	if !ok {
		return nil, ErrDecryptionFailed
	}
	nameOK := subtle.ConstantTimeCompare([]byte(data.Algorithm), []byte(alg.name)) == 1
	if !nameOK || len(data.Nonce) != alg.nonceSize || len(data.Tag) != alg.tagSize {
		return nil, ErrDecryptionFailed
	}
	aead, err := alg.newAEAD(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	sealed := make([]byte, 0, len(data.CipherText)+len(data.Tag))
	sealed = append(sealed, data.CipherText...)
	sealed = append(sealed, data.Tag...)
	plain, err := aead.Open(nil, data.Nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}

// EncryptString seals s with the master key.
func (e *Engine) EncryptString(s string) (*EncryptedData, error) {
	return e.Seal([]byte(s))
}

// DecryptString opens data with the master key.
func (e *Engine) DecryptString(data *EncryptedData) (string, error) {
	plain, err := e.Open(data)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// GenerateKey returns a new random KeySize key.
func (e *Engine) GenerateKey() ([]byte, error) {
	return generateKey(e.rand)
}

// DeriveKey turns a password into a KeySize key with PBKDF2-HMAC-SHA256.
func (e *Engine) DeriveKey(password, salt []byte) ([]byte, error) {
	return DeriveKey(password, salt, e.iterations)
}

// GenerateKey returns a new random KeySize key from crypto/rand.
func GenerateKey() ([]byte, error) {
	return generateKey(rand.Reader)
}

func generateKey(r io.Reader) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// DeriveKey derives a KeySize key. Salt must be non-empty.
func DeriveKey(password, salt []byte, iterations int) ([]byte, error) {
	if len(password) == 0 {
		return nil, errors.New("crypto: password is required")
	}
	if len(salt) == 0 {
		return nil, errors.New("crypto: salt is required")
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return pbkdf2.Key(password, salt, iterations, KeySize, sha256.New), nil
}
