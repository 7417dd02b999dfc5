// Package mcp is the gateway's outbound MCP client.
//
// # Overview
//
// Each dispatch opens a short-lived MCP session against the target server,
// performs the initialize handshake, issues one request (tools/call, ping or
// tools/list) and closes the session. Streamable HTTP is used for http and
// stdio-proxy servers; the legacy HTTP+SSE transport is used for sse servers.
//
// # Authentication
//
// Credentials resolved from the vault are applied by an http.RoundTripper on
// every request of the session:
//
//   - api_key: the configured header (X-API-Key by default) or query parameter
//   - bearer: Authorization: Bearer <token>
//   - oauth: Authorization: <token type> <access token>
//   - basic: HTTP basic auth
//
// # Errors
//
// Failures are reported as errs kinds:
//
//   - HTTP 429 maps to RateLimitExceeded carrying the Retry-After delay
//   - any other non-2xx status maps to ServerError with the status code
//   - a JSON-RPC error response maps to ServerError
//   - an exceeded deadline maps to Timeout
//
// Cancellation of the caller's context is returned unclassified so callers
// can tell it apart from a timeout.
package mcp
