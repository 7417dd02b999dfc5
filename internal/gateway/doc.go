// Package gateway is the core of mcp-gateway: it turns an authenticated
// caller's request into a dispatched MCP tool call.
//
// # Invoke
//
// Every invocation runs the same ordered pipeline:
//
//  1. Resolve the server within the caller's organization. Deactivated and
//     foreign servers are NotFound.
//  2. Authorize servers:execute on the server id. The tool name and server
//     type are passed as context data for policy conditions.
//  3. Take a token from the server's local rate limiter.
//  4. Fetch credentials from the vault when the server's auth type needs them.
//  5. Dispatch with a deadline (connection info timeoutSeconds, else the
//     configured default).
//  6. Record the execution, unless the inbound request was cancelled first.
//
// Nothing reaches the target server before steps 2 through 4 succeed, and
// nothing is recorded before step 5 returns.
//
// # Server management
//
// RegisterServer, UpdateServer and DeleteServer authorize servers:create,
// servers:update and servers:delete and then write through the registry and
// the vault. A registration whose credentials cannot be stored is rolled
// back so no server row exists without its secret.
package gateway
