// Package health probes registered MCP servers and feeds the results into
// the registry's status state machine.
//
// A Prober lists every active server on each tick, pings them with bounded
// concurrency, retries transport failures with exponential backoff, and
// records one health check per server per round. Slow successes are recorded
// as degraded according to the registry's latency threshold. When a stale
// cutoff is configured, servers that have not been checked within it are
// deactivated after each round.
package health
