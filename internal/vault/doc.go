// Package vault stores MCP server credentials behind a pluggable provider.
//
// One Provider is active per deployment (local, onepassword, aws or memory).
// With an engine attached, values are sealed before they reach the provider.
// Reads may be served from a bounded-freshness cache. Credentials are a
// tagged union keyed by the server's auth type, stored under the secret name
// mcp-server-<serverID>. Every provider failure surfaces as an
// errs.KindVaultError.
package vault
