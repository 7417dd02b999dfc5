// ABOUTME: Credential tagged union keyed by the server's auth type
// ABOUTME: Validate enforces shape; exactly one variant matches the tag

package vault

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
)

// Credentials is a tagged union. AuthType selects which variant is populated.
type Credentials struct {
	AuthType store.AuthType     `json:"authType"`
	APIKey   *APIKeyCredentials `json:"apiKey,omitempty"`
	Bearer   *BearerCredentials `json:"bearer,omitempty"`
	OAuth    *OAuthCredentials  `json:"oauth,omitempty"`
	Basic    *BasicCredentials  `json:"basic,omitempty"`
}

// APIKeyCredentials sends Key either as a header or as a query parameter.
// HeaderName defaults to X-API-Key when neither is set.
type APIKeyCredentials struct {
	Key        string `json:"key"`
	HeaderName string `json:"headerName,omitempty"`
	QueryParam string `json:"queryParam,omitempty"`
}

type BearerCredentials struct {
	Token string `json:"token"`
}

// OAuthCredentials holds an already-issued token. Refreshing is left to
// whoever rotates the credentials.
type OAuthCredentials struct {
	AccessToken  string     `json:"accessToken"`
	TokenType    string     `json:"tokenType,omitempty"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

type BasicCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// DefaultAPIKeyHeader is used when an api_key credential names no header or parameter.
const DefaultAPIKeyHeader = "X-API-Key"

// Header returns the header name the key is sent in, or "" for query placement.
func (c *APIKeyCredentials) Header() string {
	if c.QueryParam != "" {
		return ""
	}
	if c.HeaderName == "" {
		return DefaultAPIKeyHeader
	}
	return c.HeaderName
}

// Scheme returns the Authorization scheme, Bearer unless TokenType says otherwise.
func (c *OAuthCredentials) Scheme() string {
	if c.TokenType == "" {
		return "Bearer"
	}
	return c.TokenType
}

// Validate checks that the populated variant matches AuthType and is complete.
func (c *Credentials) Validate(now time.Time) error {
	if c == nil {
		return errs.Validation("credentials are required")
	}
	populated := 0
	for _, set := range []bool{c.APIKey != nil, c.Bearer != nil, c.OAuth != nil, c.Basic != nil} {
		if set {
			populated++
		}
	}

	switch c.AuthType {
	case store.AuthNone:
		if populated != 0 {
			return errs.Validation("auth type none carries no credentials")
		}
		return nil
	case store.AuthAPIKey:
		if c.APIKey == nil || populated != 1 {
			return errs.Validation("api_key credentials require only the apiKey variant")
		}
		if strings.TrimSpace(c.APIKey.Key) == "" {
			return errs.Validation("api key is empty")
		}
		if c.APIKey.HeaderName != "" && c.APIKey.QueryParam != "" {
			return errs.Validation("api key goes in a header or a query parameter, not both")
		}
	case store.AuthBearer:
		if c.Bearer == nil || populated != 1 {
			return errs.Validation("bearer credentials require only the bearer variant")
		}
		if strings.TrimSpace(c.Bearer.Token) == "" {
			return errs.Validation("bearer token is empty")
		}
	case store.AuthOAuth:
		if c.OAuth == nil || populated != 1 {
			return errs.Validation("oauth credentials require only the oauth variant")
		}
		if strings.TrimSpace(c.OAuth.AccessToken) == "" {
			return errs.Validation("oauth access token is empty")
		}
		if c.OAuth.ExpiresAt != nil && !c.OAuth.ExpiresAt.After(now) {
			return errs.Validation("oauth access token expired at %s", c.OAuth.ExpiresAt.Format(time.RFC3339))
		}
	case store.AuthBasic:
		if c.Basic == nil || populated != 1 {
			return errs.Validation("basic credentials require only the basic variant")
		}
		if c.Basic.Username == "" {
			return errs.Validation("basic auth username is empty")
		}
	default:
		return errs.Validation("unknown auth type %q", c.AuthType)
	}
	return nil
}

func (c *Credentials) marshal() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalCredentials(s string) (*Credentials, error) {
	var c Credentials
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, err
	}
	return &c, nil
}
