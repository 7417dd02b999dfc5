// ABOUTME: Wires store, vault, authz, registry, gateway and HTTP API from config
// ABOUTME: Runs the HTTP server and health prober until shutdown is signalled

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/mcp-gateway/internal/api"
	"github.com/2389/mcp-gateway/internal/auth"
	"github.com/2389/mcp-gateway/internal/authz"
	"github.com/2389/mcp-gateway/internal/config"
	"github.com/2389/mcp-gateway/internal/crypto"
	"github.com/2389/mcp-gateway/internal/gateway"
	"github.com/2389/mcp-gateway/internal/health"
	"github.com/2389/mcp-gateway/internal/mcp"
	"github.com/2389/mcp-gateway/internal/metrics"
	"github.com/2389/mcp-gateway/internal/registry"
	"github.com/2389/mcp-gateway/internal/store"
	"github.com/2389/mcp-gateway/internal/vault"
)

// app owns every long-lived component of a running gateway.
type app struct {
	cfg        *config.Config
	store      *store.SQLStore
	vault      *vault.Service
	prober     *health.Prober
	httpServer *http.Server
	logger     *slog.Logger
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (*store.SQLStore, error) {
	switch cfg.Driver {
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.DSN)
	default:
		return store.NewSQLiteStore(cfg.Path)
	}
}

func newEngine(cfg config.CryptoConfig) (*crypto.Engine, error) {
	key, err := crypto.LoadMasterKey(crypto.MasterKeyConfig{
		Source:     cfg.MasterKeySource,
		Key:        cfg.MasterKey,
		Password:   cfg.Password,
		Salt:       cfg.Salt,
		Iterations: cfg.Iterations,
	})
	if err != nil {
		return nil, fmt.Errorf("loading master key: %w", err)
	}
	return crypto.NewEngine(key, crypto.WithVersion(cfg.AlgorithmVersion), crypto.WithIterations(cfg.Iterations))
}

// newVault builds the configured provider and cache. The engine seals values
// for the local provider always and for hosted providers when wrap_values is set.
func newVault(ctx context.Context, cfg config.VaultConfig, engine *crypto.Engine, secrets store.SecretStore, m *metrics.Metrics, logger *slog.Logger) (*vault.Service, error) {
	provider, err := vault.NewProvider(ctx, vault.Configuration{
		Provider:       vault.ProviderType(cfg.Provider),
		VaultURL:       cfg.VaultURL,
		Region:         cfg.Region,
		ProjectID:      cfg.ProjectID,
		AuthParameters: cfg.AuthParameters,
		EnableCaching:  cfg.EnableCaching,
		CacheDuration:  cfg.CacheDuration,
		WrapValues:     *cfg.WrapValues,
	}, secrets)
	if err != nil {
		return nil, fmt.Errorf("creating vault provider: %w", err)
	}

	opts := []vault.Option{vault.WithLogger(logger), vault.WithObserver(m)}
	if provider.Type() == vault.ProviderLocal || *cfg.WrapValues {
		opts = append(opts, vault.WithEngine(engine))
	}
	var cache vault.Cache
	if cfg.EnableCaching {
		switch cfg.Cache.Backend {
		case "redis":
			rc, err := vault.DialRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPrefix)
			if err != nil {
				return nil, fmt.Errorf("connecting to redis cache: %w", err)
			}
			cache = rc
		default:
			cache = vault.NewMemoryCache(cfg.Cache.MaxEntries)
		}
		opts = append(opts, vault.WithCache(cache, cfg.CacheDuration))
	}
	svc, err := vault.New(provider, opts...)
	if err != nil && cache != nil {
		_ = cache.Close()
	}
	return svc, err
}

// newApp wires the gateway. On error everything opened so far is closed.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger.With("component", "server")}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.store, err = openStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	engine, err := newEngine(cfg.Crypto)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	a.vault, err = newVault(ctx, cfg.Vault, engine, a.store, m, logger)
	if err != nil {
		return nil, err
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	reg := registry.New(a.store, registry.Config{
		HealthyThreshold:   cfg.Registry.HealthyThreshold,
		UnhealthyThreshold: cfg.Registry.UnhealthyThreshold,
		DegradedLatency:    cfg.Registry.DegradedLatency,
		DeletePolicy:       registry.DeletePolicy(cfg.Registry.DeletePolicy),
	}, registry.WithLogger(logger))

	engineAuthz := authz.NewEngine(a.store, authz.WithLogger(logger), authz.WithObserver(m))
	client := mcp.NewClient(mcp.WithLogger(logger), mcp.WithClientInfo("mcp-gateway", version))

	gw := gateway.New(reg, a.vault, engineAuthz, client, gateway.Config{
		DefaultTimeout: cfg.Gateway.DefaultTimeout,
		RateLimit: gateway.RateLimit{
			RPS:   cfg.Gateway.RateLimit.RPS,
			Burst: cfg.Gateway.RateLimit.Burst,
		},
	}, gateway.WithLogger(logger), gateway.WithObserver(m))

	a.prober = health.NewProber(reg, a.vault, client, health.Config{
		Interval:   cfg.Registry.HealthCheckInterval,
		StaleAfter: cfg.Registry.StaleAfter,
	}, health.WithLogger(logger), health.WithObserver(m))

	apiOpts := []api.Option{api.WithLogger(logger)}
	if cfg.Metrics.Enabled {
		apiOpts = append(apiOpts, api.WithMetrics(m), api.WithMetricsPath(cfg.Metrics.Path))
	}
	a.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.New(gw, verifier, apiOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return a, nil
}

// Run serves until ctx is cancelled or the server fails, then shuts down.
func (a *app) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.HTTPAddr)
	if err != nil {
		a.close()
		return fmt.Errorf("listening on %s: %w", a.cfg.Server.HTTPAddr, err)
	}

	proberCtx, stopProber := context.WithCancel(ctx)
	proberDone := make(chan struct{})
	go func() {
		defer close(proberDone)
		if err := a.prober.Run(proberCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("health prober stopped", "error", err)
		}
	}()

	errCh := a.startServer(ln)
	serverErr := a.waitForShutdownSignal(ctx, errCh)

	stopProber()
	<-proberDone
	shutdownErr := a.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func (a *app) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

func (a *app) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		a.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown uses a fresh context since the run context is already done.
func (a *app) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	a.logger.Info("shutting down gateway")
	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// close releases the vault cache and the store.
func (a *app) close() error {
	var errs []error
	if a.vault != nil {
		if err := a.vault.Close(); err != nil {
			errs = append(errs, fmt.Errorf("vault close: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	return errors.Join(errs...)
}
