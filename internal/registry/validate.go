// ABOUTME: Registration input validation
// ABOUTME: Names are slug-safe, URLs absolute, and types drawn from known sets

package registry

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 1000
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9 ._-]+$`)

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errs.Validation("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return errs.Validation("name must be at most %d characters", maxNameLength)
	}
	if !namePattern.MatchString(name) {
		return errs.Validation("name %q may only contain letters, digits, spaces, '.', '_' and '-'", name)
	}
	return nil
}

func validateDescription(d string) error {
	if utf8.RuneCountInString(d) > maxDescriptionLength {
		return errs.Validation("description must be at most %d characters", maxDescriptionLength)
	}
	return nil
}

// validateURL requires an absolute http(s) URL; websocket servers may also
// use ws or wss.
func validateURL(raw string, st store.ServerType) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return errs.Validation("url %q must be absolute", raw)
	}
	switch u.Scheme {
	case "http", "https":
		return nil
	case "ws", "wss":
		if st == store.ServerTypeWebSocket {
			return nil
		}
	}
	return errs.Validation("url %q has unsupported scheme %q", raw, u.Scheme)
}

func validateServerType(st store.ServerType) error {
	switch st {
	case store.ServerTypeHTTP, store.ServerTypeSSE, store.ServerTypeWebSocket, store.ServerTypeStdioProxy:
		return nil
	}
	return errs.Validation("unknown server type %q", st)
}

func validateAuthType(at store.AuthType) error {
	switch at {
	case store.AuthNone, store.AuthAPIKey, store.AuthBearer, store.AuthOAuth, store.AuthBasic:
		return nil
	}
	return errs.Validation("unknown auth type %q", at)
}

func validateCapabilities(raw json.RawMessage) error {
	if len(raw) > 0 && !json.Valid(raw) {
		return errs.Validation("capabilities must be valid JSON")
	}
	return nil
}

func validateConnectionInfo(ci *ConnectionInfo) error {
	if ci == nil {
		return nil
	}
	if ci.TimeoutSeconds < 0 {
		return errs.Validation("timeoutSeconds must not be negative")
	}
	if ci.HealthPath != "" && !strings.HasPrefix(ci.HealthPath, "/") {
		return errs.Validation("healthPath must start with '/'")
	}
	return nil
}

func (r *RegisterRequest) validate() error {
	if r.ServerType == "" {
		r.ServerType = store.ServerTypeHTTP
	}
	if r.AuthType == "" {
		r.AuthType = store.AuthNone
	}
	if strings.TrimSpace(r.OrganizationID) == "" {
		return errs.Validation("organization id is required")
	}
	for _, err := range []error{
		validateName(r.Name),
		validateDescription(r.Description),
		validateServerType(r.ServerType),
		validateAuthType(r.AuthType),
		validateURL(r.URL, r.ServerType),
		validateConnectionInfo(r.ConnectionInfo),
		validateCapabilities(r.Capabilities),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}
