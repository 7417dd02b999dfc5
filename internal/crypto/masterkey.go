// ABOUTME: Master key loading from config, OS keyring, or password derivation
// ABOUTME: The key is resolved once at startup and handed to NewEngine

package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// Master key sources.
const (
	SourceStatic   = "static"
	SourceKeyring  = "keyring"
	SourcePassword = "password"
)

const (
	keyringService = "mcp-gateway"
	keyringUser    = "master-key"
)

// MasterKeyConfig describes where the master key comes from.
type MasterKeyConfig struct {
	Source     string
	Key        string // base64, for SourceStatic
	Password   string // for SourcePassword
	Salt       string // for SourcePassword
	Iterations int
}

// Keyring is the subset of the OS keyring used for the master key.
type Keyring interface {
	Get(service, user string) (string, error)
	Set(service, user, secret string) error
}

type osKeyring struct{}

func (osKeyring) Get(service, user string) (string, error) { return keyring.Get(service, user) }
func (osKeyring) Set(service, user, secret string) error   { return keyring.Set(service, user, secret) }

// LoadMasterKey resolves the master key using the OS keyring when needed.
func LoadMasterKey(cfg MasterKeyConfig) ([]byte, error) {
	return LoadMasterKeyWith(cfg, osKeyring{})
}

// LoadMasterKeyWith resolves the master key using kr for SourceKeyring. A
// missing keyring entry is generated and stored.
func LoadMasterKeyWith(cfg MasterKeyConfig, kr Keyring) ([]byte, error) {
	switch cfg.Source {
	case SourceStatic, "":
		if cfg.Key == "" {
			return nil, errors.New("crypto: master key is not configured")
		}
		return decodeKey(cfg.Key)
	case SourceKeyring:
		encoded, err := kr.Get(keyringService, keyringUser)
		if errors.Is(err, keyring.ErrNotFound) {
			key, genErr := GenerateKey()
			if genErr != nil {
				return nil, genErr
			}
			if err := kr.Set(keyringService, keyringUser, base64.StdEncoding.EncodeToString(key)); err != nil {
				return nil, fmt.Errorf("storing master key in keyring: %w", err)
			}
			return key, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading master key from keyring: %w", err)
		}
		return decodeKey(encoded)
	case SourcePassword:
		return DeriveKey([]byte(cfg.Password), []byte(cfg.Salt), cfg.Iterations)
	default:
		return nil, fmt.Errorf("crypto: unknown master key source %q", cfg.Source)
	}
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding master key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return key, nil
}
