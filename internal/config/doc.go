// Package config handles configuration loading for mcp-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file (or TOML when the path ends in
// .toml). Environment references are expanded before parsing, then defaults
// are applied and the result is validated.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${MCP_GATEWAY_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	vault:
//	  cache_duration: "5m"
//	gateway:
//	  default_timeout: "30s"
//
// # Configuration Sections
//
//	server     HTTP listen address and shutdown timeout
//	database   sqlite path or postgres DSN
//	auth       JWT secret for caller tokens
//	crypto     master key source and envelope algorithm version
//	vault      secret provider, caching and value wrapping
//	gateway    dispatch timeout and per-server rate limit
//	registry   health thresholds, delete policy, stale cutoff
//	logging    level and format
//	metrics    Prometheus endpoint
//
// # Usage
//
//	cfg, err := config.Load("/etc/mcp-gateway/config.yaml")
//	if err != nil {
//	    return err
//	}
package config
