// Package api is the HTTP adapter over the gateway core.
//
// Routes:
//
//	GET    /health                          liveness, unauthenticated
//	GET    /metrics                         Prometheus exposition, unauthenticated
//	POST   /api/servers                     register a server
//	GET    /api/servers                     list servers in the caller's organization
//	GET    /api/servers/{id}                fetch one server
//	PUT    /api/servers/{id}                update a server
//	DELETE /api/servers/{id}                delete a server
//	POST   /api/servers/{id}/invoke         call a tool
//	GET    /api/servers/{id}/tools          list the server's tools
//	GET    /api/servers/{id}/statistics     execution statistics
//	GET    /api/servers/name-available      ?name=&excludeId= name check
//	POST   /api/servers/bulk/status         {"ids": [...], "status": "deactivated"|"unknown"}
//	POST   /api/servers/bulk/delete         {"ids": [...]}
//	POST   /api/servers/{id}/activate       return a server to dispatch
//	POST   /api/servers/{id}/deactivate     hide a server from dispatch
//	GET    /api/servers/{id}/health         health checks since ?since= (default 24h)
//	GET    /api/servers/{id}/health/latest  newest health check
//	GET    /api/servers/{id}/credentials    reference, versions and wrapping key
//	POST   /api/servers/{id}/credentials/rotate
//	GET    /api/servers/{id}/credentials/versions/{version}
//	POST   /api/servers/{id}/credentials/versions/{version}/disable
//
// Every /api route requires a bearer JWT (see package auth).
//
// GET /api/servers accepts search, status, type, active, page, pageSize,
// sort and order=desc. Statistics accept RFC 3339 from and to; omitting
// both returns lifetime totals.
//
// Bulk routes skip ids the caller may not touch and report how many
// servers changed. Credential routes never return secret values; a
// version read reports only its auth type, validity and expiry.
//
// # Errors
//
// Failures are JSON objects {"error": kind, "message": ...} with a status
// chosen by error kind:
//
//	not_found              404
//	unauthorized           403
//	validation             400
//	conflict               409
//	rate_limit_exceeded    429 plus Retry-After
//	server_error           502
//	timeout                504
//	cryptographic_failure  500
//	vault_error            502
//
// Anything unclassified is a 500 with a generic message.
package api
