// Package metrics exposes Prometheus metrics for mcp-gateway.
//
// Collectors live on a private registry rather than the process default,
// so tests and multiple instances never collide. Metrics implements the
// observer interfaces of the vault, authz, health and gateway packages and
// is handed to each of them at wiring time.
//
// Series:
//
//	mcp_gateway_http_requests_total{method,route,status}
//	mcp_gateway_http_request_duration_seconds{method,route,status}
//	mcp_gateway_http_in_flight_requests
//	mcp_gateway_invocations_total{server_id,result}
//	mcp_gateway_invocation_duration_seconds{result}
//	mcp_gateway_authz_decisions_total{resource,action,rule,allowed}
//	mcp_gateway_vault_cache_lookups_total{result}
//	mcp_gateway_vault_provider_calls_total{op,result}
//	mcp_gateway_health_checks_total{probe,status}
//	mcp_gateway_health_check_latency_seconds
package metrics
