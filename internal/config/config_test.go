// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading with env var expansion and defaults

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:9090"

database:
  driver: "sqlite"
  path: "./test.db"

auth:
  jwt_secret: "`+testSecret+`"

crypto:
  master_key: "a2V5"
  algorithm_version: 2

vault:
  provider: "aws"
  region: "us-east-1"
  enable_caching: true
  cache_duration: "90s"
  wrap_values: false
  cache:
    backend: "redis"
    redis_addr: "localhost:6379"

gateway:
  default_timeout: "5s"
  rate_limit:
    rps: 10
    burst: 20

registry:
  healthy_threshold: 4
  degraded_latency: "750ms"
  delete_policy: "reject"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:9090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:9090")
	}
	if cfg.Crypto.AlgorithmVersion != 2 {
		t.Errorf("Crypto.AlgorithmVersion = %d, want 2", cfg.Crypto.AlgorithmVersion)
	}
	if cfg.Vault.CacheDuration != 90*time.Second {
		t.Errorf("Vault.CacheDuration = %v, want 90s", cfg.Vault.CacheDuration)
	}
	if cfg.Vault.WrapValues == nil || *cfg.Vault.WrapValues {
		t.Errorf("Vault.WrapValues = %v, want false", cfg.Vault.WrapValues)
	}
	if cfg.Vault.Cache.Backend != "redis" {
		t.Errorf("Vault.Cache.Backend = %q, want redis", cfg.Vault.Cache.Backend)
	}
	if cfg.Gateway.DefaultTimeout != 5*time.Second {
		t.Errorf("Gateway.DefaultTimeout = %v, want 5s", cfg.Gateway.DefaultTimeout)
	}
	if cfg.Gateway.RateLimit.RPS != 10 || cfg.Gateway.RateLimit.Burst != 20 {
		t.Errorf("Gateway.RateLimit = %+v, want 10/20", cfg.Gateway.RateLimit)
	}
	if cfg.Registry.HealthyThreshold != 4 {
		t.Errorf("Registry.HealthyThreshold = %d, want 4", cfg.Registry.HealthyThreshold)
	}
	if cfg.Registry.UnhealthyThreshold != 3 {
		t.Errorf("Registry.UnhealthyThreshold = %d, want default 3", cfg.Registry.UnhealthyThreshold)
	}
	if cfg.Registry.DegradedLatency != 750*time.Millisecond {
		t.Errorf("Registry.DegradedLatency = %v, want 750ms", cfg.Registry.DegradedLatency)
	}
	if cfg.Registry.DeletePolicy != "reject" {
		t.Errorf("Registry.DeletePolicy = %q, want reject", cfg.Registry.DeletePolicy)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
auth:
  jwt_secret: "`+testSecret+`"
crypto:
  master_key: "a2V5"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Vault.Provider != "local" {
		t.Errorf("Vault.Provider = %q, want local", cfg.Vault.Provider)
	}
	if cfg.Vault.WrapValues == nil || !*cfg.Vault.WrapValues {
		t.Error("Vault.WrapValues should default to true")
	}
	if cfg.Gateway.DefaultTimeout != 30*time.Second {
		t.Errorf("Gateway.DefaultTimeout = %v, want 30s", cfg.Gateway.DefaultTimeout)
	}
	if cfg.Crypto.Iterations != 100_000 {
		t.Errorf("Crypto.Iterations = %d, want 100000", cfg.Crypto.Iterations)
	}
	if cfg.Registry.DeletePolicy != "cascade" {
		t.Errorf("Registry.DeletePolicy = %q, want cascade", cfg.Registry.DeletePolicy)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[database]
driver = "postgres"
dsn = "postgres://localhost/mcp"

[auth]
jwt_secret = "`+testSecret+`"

[crypto]
master_key_source = "keyring"

[gateway]
default_timeout = "12s"

[vault]
provider = "onepassword"
[vault.auth_parameters]
service_account_token = "ops_token"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Gateway.DefaultTimeout != 12*time.Second {
		t.Errorf("Gateway.DefaultTimeout = %v, want 12s", cfg.Gateway.DefaultTimeout)
	}
	if cfg.Vault.AuthParameters["service_account_token"] != "ops_token" {
		t.Errorf("Vault.AuthParameters = %v", cfg.Vault.AuthParameters)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_MCP_SECRET", testSecret)
	t.Setenv("TEST_MCP_KEY", "bWFzdGVy")

	path := writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
auth:
  jwt_secret: "${TEST_MCP_SECRET}"
crypto:
  master_key: "${TEST_MCP_KEY}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("Auth.JWTSecret = %q, want expanded value", cfg.Auth.JWTSecret)
	}
	if cfg.Crypto.MasterKey != "bWFzdGVy" {
		t.Errorf("Crypto.MasterKey = %q, want bWFzdGVy", cfg.Crypto.MasterKey)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
gateway:
  default_timeout: "soon"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "gateway.default_timeout") {
		t.Errorf("error %q should name the field", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.Database.Path = "./x.db"
		cfg.Auth.JWTSecret = testSecret
		cfg.Crypto.MasterKey = "a2V5"
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "jwt_secret"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "database.dsn"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"static without key", func(c *Config) { c.Crypto.MasterKey = "" }, "crypto.master_key"},
		{"password without salt", func(c *Config) { c.Crypto.MasterKeySource = "password"; c.Crypto.Password = "pw" }, "crypto.password"},
		{"bad algorithm", func(c *Config) { c.Crypto.AlgorithmVersion = 3 }, "algorithm_version"},
		{"unknown provider", func(c *Config) { c.Vault.Provider = "gcp" }, "vault.provider"},
		{"aws without region", func(c *Config) { c.Vault.Provider = "aws" }, "vault.region"},
		{"redis without addr", func(c *Config) { c.Vault.Cache.Backend = "redis" }, "redis_addr"},
		{"bad delete policy", func(c *Config) { c.Registry.DeletePolicy = "archive" }, "delete_policy"},
		{"negative rate", func(c *Config) { c.Gateway.RateLimit.RPS = -1 }, "rate_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultYAMLLoads(t *testing.T) {
	t.Setenv("MCP_GATEWAY_JWT_SECRET", testSecret)
	t.Setenv("MCP_GATEWAY_MASTER_KEY", "a2V5")

	path := writeConfig(t, "config.yaml", DefaultYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(DefaultYAML) error = %v", err)
	}
	if cfg.Registry.StaleAfter != 168*time.Hour {
		t.Errorf("Registry.StaleAfter = %v, want 168h", cfg.Registry.StaleAfter)
	}
}
