// ABOUTME: Tests for credential shape validation per auth type
// ABOUTME: Expired OAuth tokens and mismatched variants are rejected

package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
)

func TestCredentialsValidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	tests := []struct {
		name    string
		creds   *Credentials
		wantErr bool
	}{
		{"nil", nil, true},
		{"none", &Credentials{AuthType: store.AuthNone}, false},
		{"none with payload", &Credentials{AuthType: store.AuthNone, Bearer: &BearerCredentials{Token: "t"}}, true},
		{"api key header", &Credentials{AuthType: store.AuthAPIKey, APIKey: &APIKeyCredentials{Key: "k", HeaderName: "X-Key"}}, false},
		{"api key query", &Credentials{AuthType: store.AuthAPIKey, APIKey: &APIKeyCredentials{Key: "k", QueryParam: "key"}}, false},
		{"api key both placements", &Credentials{AuthType: store.AuthAPIKey, APIKey: &APIKeyCredentials{Key: "k", HeaderName: "X", QueryParam: "q"}}, true},
		{"api key blank", &Credentials{AuthType: store.AuthAPIKey, APIKey: &APIKeyCredentials{Key: "  "}}, true},
		{"api key wrong variant", &Credentials{AuthType: store.AuthAPIKey, Bearer: &BearerCredentials{Token: "t"}}, true},
		{"bearer", &Credentials{AuthType: store.AuthBearer, Bearer: &BearerCredentials{Token: "t"}}, false},
		{"bearer extra variant", &Credentials{AuthType: store.AuthBearer, Bearer: &BearerCredentials{Token: "t"}, Basic: &BasicCredentials{Username: "u"}}, true},
		{"oauth unexpired", &Credentials{AuthType: store.AuthOAuth, OAuth: &OAuthCredentials{AccessToken: "a", ExpiresAt: &future}}, false},
		{"oauth no expiry", &Credentials{AuthType: store.AuthOAuth, OAuth: &OAuthCredentials{AccessToken: "a"}}, false},
		{"oauth expired", &Credentials{AuthType: store.AuthOAuth, OAuth: &OAuthCredentials{AccessToken: "a", ExpiresAt: &past}}, true},
		{"basic", &Credentials{AuthType: store.AuthBasic, Basic: &BasicCredentials{Username: "u", Password: "p"}}, false},
		{"basic no user", &Credentials{AuthType: store.AuthBasic, Basic: &BasicCredentials{Password: "p"}}, true},
		{"unknown type", &Credentials{AuthType: "kerberos"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.creds.Validate(now)
			if tt.wantErr {
				assert.Equal(t, errs.KindValidation, errs.KindOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCredentialHelpers(t *testing.T) {
	assert.Equal(t, DefaultAPIKeyHeader, (&APIKeyCredentials{Key: "k"}).Header())
	assert.Equal(t, "X-Custom", (&APIKeyCredentials{Key: "k", HeaderName: "X-Custom"}).Header())
	assert.Equal(t, "", (&APIKeyCredentials{Key: "k", QueryParam: "key"}).Header())

	assert.Equal(t, "Bearer", (&OAuthCredentials{AccessToken: "a"}).Scheme())
	assert.Equal(t, "MAC", (&OAuthCredentials{AccessToken: "a", TokenType: "MAC"}).Scheme())
}

func TestReferenceRoundTrip(t *testing.T) {
	ref := &Reference{Provider: ProviderLocal, Name: SecretName("abc"), Version: "3"}
	data, err := ref.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	got, err := ParseReference(data)
	if err != nil {
		t.Fatalf("ParseReference failed: %v", err)
	}
	assert.Equal(t, ref, got)
	assert.Equal(t, "mcp-server-abc", got.Name)

	none, err := ParseReference(nil)
	assert.NoError(t, err)
	assert.Nil(t, none)

	_, err = ParseReference([]byte("{"))
	assert.Error(t, err)
}
