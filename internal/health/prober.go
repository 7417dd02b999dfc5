// ABOUTME: Periodic health prober for registered MCP servers
// ABOUTME: Pings with backoff retries and bounded concurrency, then records results

package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/mcp"
	"github.com/2389/mcp-gateway/internal/registry"
	"github.com/2389/mcp-gateway/internal/store"
	"github.com/2389/mcp-gateway/internal/vault"
)

// Pinger checks that a server answers.
type Pinger interface {
	Ping(ctx context.Context, t mcp.Target) error
}

// CredentialSource resolves credentials for a server.
type CredentialSource interface {
	GetCredentials(ctx context.Context, serverID, callerID string) (*vault.Credentials, error)
}

// Config tunes the prober. Zero values take the defaults.
type Config struct {
	Interval    time.Duration // between rounds, default 1m
	Timeout     time.Duration // per probe attempt, default 10s
	Concurrency int           // parallel probes, default 8
	MaxRetries  uint          // retries of transport failures, default 2
	RetryDelay  time.Duration // first backoff delay, default 500ms
	StaleAfter  time.Duration // deactivate servers unchecked this long; 0 disables
}

const callerID = "health-prober"

// Observer is told the probe status and resulting server status of each
// recorded check.
type Observer interface {
	ObserveHealthCheck(probe, server store.ServerStatus, latency time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveHealthCheck(store.ServerStatus, store.ServerStatus, time.Duration) {}

// Prober runs health rounds.
type Prober struct {
	registry *registry.Registry
	creds    CredentialSource
	pinger   Pinger
	cfg      Config
	now      func() time.Time
	observer Observer
	logger   *slog.Logger
}

type Option func(*Prober)

func WithClock(now func() time.Time) Option { return func(p *Prober) { p.now = now } }

func WithLogger(l *slog.Logger) Option { return func(p *Prober) { p.logger = l } }

func WithObserver(o Observer) Option { return func(p *Prober) { p.observer = o } }

func NewProber(reg *registry.Registry, creds CredentialSource, pinger Pinger, cfg Config, opts ...Option) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}

	p := &Prober{registry: reg, creds: creds, pinger: pinger, cfg: cfg, now: time.Now, observer: nopObserver{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "health")
	return p
}

// Run probes every Interval until ctx is cancelled. The first round starts
// immediately.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.Round(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("health round failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Round probes every active server once and returns how many were checked.
// A failure to probe one server does not stop the others.
func (p *Prober) Round(ctx context.Context) (int, error) {
	servers, err := p.activeServers(ctx)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, srv := range servers {
		g.Go(func() error {
			if _, err := p.Check(gctx, srv); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				p.logger.Warn("health check not recorded", "server_id", srv.ID, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if p.cfg.StaleAfter > 0 {
		if _, err := p.registry.DeactivateStale(ctx, p.now().Add(-p.cfg.StaleAfter)); err != nil {
			return len(servers), fmt.Errorf("deactivating stale servers: %w", err)
		}
	}
	return len(servers), nil
}

func (p *Prober) activeServers(ctx context.Context) ([]*store.Server, error) {
	active := true
	var all []*store.Server
	for page := 1; ; page++ {
		servers, total, err := p.registry.List(ctx, store.ServerFilter{IsActive: &active, Page: page, PageSize: 100})
		if err != nil {
			return nil, fmt.Errorf("listing servers: %w", err)
		}
		all = append(all, servers...)
		if len(servers) == 0 || len(all) >= total {
			return all, nil
		}
	}
}

// Check probes one server and records the outcome. It returns the server's
// status after the transition.
func (p *Prober) Check(ctx context.Context, srv *store.Server) (store.ServerStatus, error) {
	target, err := p.target(ctx, srv)
	if err != nil {
		// Unresolvable credentials or config make the server unusable.
		return p.record(ctx, srv.ID, store.StatusUnhealthy, 0, err)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = p.cfg.RetryDelay
	expBackoff.MaxInterval = 20 * p.cfg.RetryDelay

	var latency time.Duration
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()

		start := p.now()
		err := p.pinger.Ping(attemptCtx, target)
		latency = p.now().Sub(start)
		if err != nil && !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(p.cfg.MaxRetries+1),
		backoff.WithNotify(func(err error, d time.Duration) {
			p.logger.Debug("retrying health probe", "server_id", srv.ID, "after", d, "error", err)
		}),
	)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	status := p.registry.Config().ClassifyProbe(err == nil, latency)
	return p.record(ctx, srv.ID, status, latency, err)
}

func (p *Prober) record(ctx context.Context, serverID string, status store.ServerStatus, latency time.Duration, probeErr error) (store.ServerStatus, error) {
	hc := &store.HealthCheck{
		ServerID:       serverID,
		Status:         status,
		CheckedAt:      p.now().UTC(),
		ResponseTimeMs: latency.Milliseconds(),
	}
	if probeErr != nil {
		hc.ErrorMessage = probeErr.Error()
	}
	next, err := p.registry.RecordHealthCheck(ctx, hc)
	if err != nil {
		return next, err
	}
	p.observer.ObserveHealthCheck(status, next, latency)
	return next, nil
}

func (p *Prober) target(ctx context.Context, srv *store.Server) (mcp.Target, error) {
	ci, err := registry.DecodeConnectionInfo(srv)
	if err != nil {
		return mcp.Target{}, err
	}
	t := mcp.Target{ServerID: srv.ID, URL: srv.URL, ServerType: srv.ServerType, Headers: ci.Headers}
	if ci.HealthPath != "" {
		t.URL = joinPath(srv.URL, ci.HealthPath)
	}
	if srv.AuthType == store.AuthNone {
		return t, nil
	}
	creds, err := p.creds.GetCredentials(ctx, srv.ID, callerID)
	if err != nil {
		return mcp.Target{}, err
	}
	if creds == nil {
		return mcp.Target{}, errs.Vault(vault.CodeNotFound, nil, nil, "no credentials stored for server %s", srv.ID)
	}
	t.Credentials = creds
	return t, nil
}

// retryable reports whether a probe failure is worth another attempt:
// transport failures and timeouts are, upstream answers are not.
func retryable(err error) bool {
	var e *errs.Error
	if !errors.As(err, &e) {
		return true
	}
	switch e.Kind {
	case errs.KindTimeout:
		return true
	case errs.KindServerError:
		return e.StatusCode == 0 || e.StatusCode >= 500
	}
	return false
}
