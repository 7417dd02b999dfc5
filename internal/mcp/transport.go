// ABOUTME: RoundTripper chain for outbound MCP sessions
// ABOUTME: Applies vault credentials, records failing HTTP statuses and caps response size

package mcp

import (
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/2389/mcp-gateway/internal/store"
	"github.com/2389/mcp-gateway/internal/vault"
)

// maxResponseSize caps a single response body.
const maxResponseSize = 10 << 20

// credentialRoundTripper attaches the server's credentials and static headers.
type credentialRoundTripper struct {
	base    http.RoundTripper
	creds   *vault.Credentials
	headers map[string]string
}

func (c *credentialRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	applyCredentials(req, c.creds)
	return c.base.RoundTrip(req)
}

// applyCredentials sets the auth header or parameter for creds on req.
func applyCredentials(req *http.Request, creds *vault.Credentials) {
	if creds == nil {
		return
	}
	switch creds.AuthType {
	case store.AuthAPIKey:
		if creds.APIKey == nil {
			return
		}
		if h := creds.APIKey.Header(); h != "" {
			req.Header.Set(h, creds.APIKey.Key)
			return
		}
		q := req.URL.Query()
		q.Set(creds.APIKey.QueryParam, creds.APIKey.Key)
		req.URL.RawQuery = q.Encode()
	case store.AuthBearer:
		if creds.Bearer != nil {
			req.Header.Set("Authorization", "Bearer "+creds.Bearer.Token)
		}
	case store.AuthOAuth:
		if creds.OAuth != nil {
			req.Header.Set("Authorization", creds.OAuth.Scheme()+" "+creds.OAuth.AccessToken)
		}
	case store.AuthBasic:
		if creds.Basic != nil {
			req.SetBasicAuth(creds.Basic.Username, creds.Basic.Password)
		}
	}
}

// statusRecorder remembers the last non-2xx response of a session. The MCP
// SDK folds HTTP statuses into error strings; this keeps them typed.
type statusRecorder struct {
	base http.RoundTripper
	now  func() time.Time

	mu         sync.Mutex
	status     int
	retryAfter time.Duration
}

func (s *statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := s.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		s.mu.Lock()
		s.status = resp.StatusCode
		s.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), s.now())
		s.mu.Unlock()
	}
	resp.Body = struct {
		io.Reader
		io.Closer
	}{
		Reader: io.LimitReader(resp.Body, maxResponseSize),
		Closer: resp.Body,
	}
	return resp, nil
}

func (s *statusRecorder) failure() (int, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.retryAfter
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Unparseable or
// past values yield zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
