// ABOUTME: EncryptedData envelope and algorithm table for versioned AEAD encryption
// ABOUTME: Fields are carried as base64 so they round-trip through text columns and JSON

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the symmetric key size in bytes for every supported algorithm.
	KeySize = 32
	// NonceSize is the nonce size in bytes for every supported algorithm.
	NonceSize = 12
	// TagSize is the authentication tag size in bytes for every supported algorithm.
	TagSize = 16
)

// Algorithm names as persisted in EncryptedData.Algorithm.
const (
	AlgorithmAES256GCM        = "AES-256-GCM"
	AlgorithmChaCha20Poly1305 = "ChaCha20-Poly1305"
)

// Format versions.
const (
	VersionAES256GCM        = 1
	VersionChaCha20Poly1305 = 2

	// CurrentVersion is used when no version is configured.
	CurrentVersion = VersionAES256GCM
)

// algorithm describes one envelope version.
type algorithm struct {
	name      string
	nonceSize int
	tagSize   int
	newAEAD   func(key []byte) (cipher.AEAD, error)
}

var algorithms = map[int]algorithm{
	VersionAES256GCM: {
		name:      AlgorithmAES256GCM,
		nonceSize: NonceSize,
		tagSize:   TagSize,
		newAEAD: func(key []byte) (cipher.AEAD, error) {
			block, err := aes.NewCipher(key)
			if err != nil {
				return nil, err
			}
			return cipher.NewGCMWithTagSize(block, TagSize)
		},
	},
	VersionChaCha20Poly1305: {
		name:      AlgorithmChaCha20Poly1305,
		nonceSize: chacha20poly1305.NonceSize,
		tagSize:   chacha20poly1305.Overhead,
		newAEAD:   chacha20poly1305.New,
	},
}

// SupportedVersion reports whether v names a known envelope version.
func SupportedVersion(v int) bool {
	_, ok := algorithms[v]
	return ok
}

// AlgorithmName returns the persisted name for version v, or "" if unknown.
func AlgorithmName(v int) string {
	return algorithms[v].name
}

// EncryptedData is one encrypted value. CipherText, Nonce and Tag are raw
// bytes in memory and base64 in JSON.
type EncryptedData struct {
	CipherText []byte `json:"cipherText"`
	Nonce      []byte `json:"nonce"`
	Tag        []byte `json:"tag"`
	Algorithm  string `json:"algorithm"`
	Version    int    `json:"version"`
}

// Encoded is the text form of EncryptedData used by storage columns.
type Encoded struct {
	CipherText string
	Nonce      string
	Tag        string
	Algorithm  string
	Version    int
}

// Encode returns the base64 text form.
func (d *EncryptedData) Encode() Encoded {
	return Encoded{
		CipherText: base64.StdEncoding.EncodeToString(d.CipherText),
		Nonce:      base64.StdEncoding.EncodeToString(d.Nonce),
		Tag:        base64.StdEncoding.EncodeToString(d.Tag),
		Algorithm:  d.Algorithm,
		Version:    d.Version,
	}
}

// Decode parses the text form. Malformed base64 yields ErrDecryptionFailed so
// callers cannot distinguish encoding errors from authentication failures.
func (e Encoded) Decode() (*EncryptedData, error) {
	ct, err := base64.StdEncoding.DecodeString(e.CipherText)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	nonce, err := base64.StdEncoding.DecodeString(e.Nonce)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	tag, err := base64.StdEncoding.DecodeString(e.Tag)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return &EncryptedData{CipherText: ct, Nonce: nonce, Tag: tag, Algorithm: e.Algorithm, Version: e.Version}, nil
}

// Marshal serializes the envelope as JSON.
func (d *EncryptedData) Marshal() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}
	return data, nil
}

// Unmarshal parses a JSON envelope. Any parse failure is ErrDecryptionFailed.
func Unmarshal(data []byte) (*EncryptedData, error) {
	var d EncryptedData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, ErrDecryptionFailed
	}
	return &d, nil
}
