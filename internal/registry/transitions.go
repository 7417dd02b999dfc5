// ABOUTME: Health status state machine driven by recorded probe outcomes
// ABOUTME: Unknown -> Healthy <-> Degraded <-> Unhealthy; Deactivated is terminal

package registry

import (
	"time"

	"github.com/2389/mcp-gateway/internal/store"
)

// ClassifyProbe turns one probe result into the status recorded for it.
func (c Config) ClassifyProbe(ok bool, latency time.Duration) store.ServerStatus {
	switch {
	case !ok:
		return store.StatusUnhealthy
	case c.DegradedLatency > 0 && latency > c.DegradedLatency:
		return store.StatusDegraded
	default:
		return store.StatusHealthy
	}
}

// NextStatus computes the server status after the newest probe. recent is
// newest first and holds at least the newest probe.
//
// Moves only go between adjacent states: a healthy server that fails first
// becomes degraded, and an unhealthy one that recovers first becomes
// degraded. A server never probed before may jump straight to unhealthy
// once the failure threshold is reached.
func (c Config) NextStatus(current store.ServerStatus, recent []*store.HealthCheck) store.ServerStatus {
	if current == store.StatusDeactivated || len(recent) == 0 {
		return current
	}

	newest := recent[0].Status
	failures, successes := streaks(recent)

	switch current {
	case store.StatusUnknown:
		if failures >= c.UnhealthyThreshold {
			return store.StatusUnhealthy
		}
		if successes >= c.HealthyThreshold {
			return newest
		}
		return store.StatusUnknown

	case store.StatusHealthy:
		if newest != store.StatusHealthy {
			return store.StatusDegraded
		}
		return store.StatusHealthy

	case store.StatusDegraded:
		if failures >= c.UnhealthyThreshold {
			return store.StatusUnhealthy
		}
		if successes >= c.HealthyThreshold && newest == store.StatusHealthy {
			return store.StatusHealthy
		}
		return store.StatusDegraded

	case store.StatusUnhealthy:
		if successes >= c.HealthyThreshold {
			return store.StatusDegraded
		}
		return store.StatusUnhealthy
	}
	return current
}

// streaks counts consecutive failures and successes from the newest probe.
// Exactly one of them is non-zero.
func streaks(recent []*store.HealthCheck) (failures, successes int) {
	failed := recent[0].Status == store.StatusUnhealthy
	for _, hc := range recent {
		if (hc.Status == store.StatusUnhealthy) != failed {
			break
		}
		if failed {
			failures++
		} else {
			successes++
		}
	}
	return failures, successes
}

func (c Config) window() int {
	return max(c.HealthyThreshold, c.UnhealthyThreshold, 1)
}
