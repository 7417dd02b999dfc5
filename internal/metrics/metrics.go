// ABOUTME: Prometheus collectors for invocations, authz, vault, health and HTTP traffic
// ABOUTME: Implements the observer interfaces the core packages report through

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
	"github.com/2389/mcp-gateway/internal/vault"
)

const namespace = "mcp_gateway"

// Metrics owns a private registry and every collector on it.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	invocations        *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec

	authzDecisions *prometheus.CounterVec

	vaultCache *prometheus.CounterVec
	vaultCalls *prometheus.CounterVec

	healthChecks  *prometheus.CounterVec
	healthLatency prometheus.Histogram
}

// New creates and registers all collectors, plus the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Completed tool invocations by outcome.",
		}, []string{"server_id", "result"}),
		invocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Outbound tool call latency in seconds.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"result"}),
		authzDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authz_decisions_total",
			Help:      "Authorization decisions by deciding rule.",
		}, []string{"resource", "action", "rule", "allowed"}),
		vaultCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vault_cache_lookups_total",
			Help:      "Credential cache lookups by result.",
		}, []string{"result"}),
		vaultCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vault_provider_calls_total",
			Help:      "Secret provider calls by operation and result.",
		}, []string{"op", "result"}),
		healthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_checks_total",
			Help:      "Recorded health checks by probe result and resulting server status.",
		}, []string{"probe", "status"}),
		healthLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "health_check_latency_seconds",
			Help:      "Health probe latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		m.invocations, m.invocationDuration,
		m.authzDecisions,
		m.vaultCache, m.vaultCalls,
		m.healthChecks, m.healthLatency,
	)
	return m
}

// Registry returns the private registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveInvocation implements gateway.Observer.
func (m *Metrics) ObserveInvocation(serverID, _ string, kind string, elapsed time.Duration) {
	result := kind
	if result == "" {
		result = "ok"
	}
	m.invocations.WithLabelValues(serverID, result).Inc()
	m.invocationDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// ObserveDecision implements authz.DecisionObserver.
func (m *Metrics) ObserveDecision(resource, action, rule string, allowed bool) {
	m.authzDecisions.WithLabelValues(resource, action, rule, strconv.FormatBool(allowed)).Inc()
}

// CacheLookup implements vault.Observer.
func (m *Metrics) CacheLookup(hit bool) {
	if hit {
		m.vaultCache.WithLabelValues("hit").Inc()
		return
	}
	m.vaultCache.WithLabelValues("miss").Inc()
}

// ProviderCall implements vault.Observer. A not-found read is a normal
// outcome and is counted apart from failures.
func (m *Metrics) ProviderCall(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if e, ok := errs.As(err); ok && e.ProviderCode == vault.CodeNotFound {
			result = "not_found"
		}
	}
	m.vaultCalls.WithLabelValues(op, result).Inc()
}

// ObserveHealthCheck implements health.Observer.
func (m *Metrics) ObserveHealthCheck(probe, server store.ServerStatus, latency time.Duration) {
	m.healthChecks.WithLabelValues(string(probe), string(server)).Inc()
	m.healthLatency.Observe(latency.Seconds())
}
