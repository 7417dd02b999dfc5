// Package registry owns the lifecycle of registered MCP servers.
//
// Registrations are validated and persisted here, and recorded health probes
// drive the status state machine (see transitions.go). Usage statistics come
// from the execution log for windowed queries and from running counters for
// lifetime totals. Store sentinels are mapped to errs kinds at this boundary.
package registry
