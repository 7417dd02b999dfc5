// Package store provides persistent storage for the gateway on SQLite or Postgres.
//
// # Architecture
//
// The store package uses an interface-driven architecture with specialized
// interfaces composed into Store:
//
//   - ServerStore: registered servers, health history, execution statistics
//   - PermissionStore: permissions, role/user grants, resource overrides, policies
//   - SecretStore: versioned secrets for the local vault provider
//   - AuditStore: administrative audit trail
//
// SQLStore implements all interfaces in a single struct for both dialects.
// Queries are written with ? placeholders and rebound to $n on Postgres.
// MockStore is an in-memory implementation with the same semantics for tests.
//
// # Storage Conventions
//
//   - Timestamps are fixed-width UTC TEXT so range filters compare lexically
//   - Booleans are INTEGER 0/1
//   - Serialized payloads (credentials, connection info, capabilities,
//     conditions) are JSON TEXT
//   - Server names are unique per organization via UNIQUE(name, organization_id)
//   - Health checks and tool executions are append-only
//   - Counters are incremented in SQL, never read-modify-written in Go
//
// # Errors
//
// ErrNotFound and ErrConflict are returned (possibly wrapped) for missing rows
// and uniqueness violations. ErrHasHistory wraps ErrConflict.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/mcp-gateway/gateway.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
package store
