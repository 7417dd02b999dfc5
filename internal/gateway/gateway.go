// ABOUTME: Gateway service dispatching authorized tool calls to MCP servers
// ABOUTME: Invoke resolves, authorizes, rate limits, fetches credentials, dispatches and records

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/mcp-gateway/internal/auth"
	"github.com/2389/mcp-gateway/internal/authz"
	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/mcp"
	"github.com/2389/mcp-gateway/internal/registry"
	"github.com/2389/mcp-gateway/internal/store"
	"github.com/2389/mcp-gateway/internal/vault"
)

// DefaultTimeout bounds a dispatch when the server sets no timeout.
const DefaultTimeout = 30 * time.Second

// Resource and actions checked by the gateway.
const (
	ResourceServers = "servers"

	ActionExecute = "execute"
	ActionCreate  = "create"
	ActionRead    = "read"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
)

// Authorizer decides whether a caller may perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, ac *authz.Context) (*authz.Result, error)
}

// Vault is the slice of the secret vault the gateway uses.
type Vault interface {
	GetCredentials(ctx context.Context, serverID, callerID string) (*vault.Credentials, error)
	StoreCredentials(ctx context.Context, serverID string, creds *vault.Credentials) (*vault.Reference, error)
	RotateCredentialsTo(ctx context.Context, serverID string, creds *vault.Credentials) (*vault.Reference, error)
	RotateCredentials(ctx context.Context, serverID string) (*vault.Reference, error)
	DeleteCredentials(ctx context.Context, serverID string) error

	GetCredentialsVersion(ctx context.Context, serverID, version string) (*vault.Credentials, error)
	ListCredentialVersions(ctx context.Context, serverID string) ([]vault.SecretMetadata, error)
	DisableCredentialVersion(ctx context.Context, serverID, version string) error
	ValidateCredentials(creds *vault.Credentials) bool
	WrappingKey() *vault.KeyVaultKey
}

// Dispatcher performs the outbound MCP calls.
type Dispatcher interface {
	CallTool(ctx context.Context, t mcp.Target, tool string, args map[string]any) (*mcp.Result, error)
	ListTools(ctx context.Context, t mcp.Target) ([]mcp.Tool, error)
}

// Observer is notified once per completed invocation. kind is "" on
// success and "tool_error" when the tool reported a failure.
type Observer interface {
	ObserveInvocation(serverID, tool, kind string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveInvocation(string, string, string, time.Duration) {}

// KindToolError marks executions whose tool returned isError.
const KindToolError = "tool_error"

// Config holds gateway knobs.
type Config struct {
	DefaultTimeout time.Duration
	RateLimit      RateLimit
}

// Gateway is safe for concurrent use.
type Gateway struct {
	registry   *registry.Registry
	vault      Vault
	authz      Authorizer
	dispatcher Dispatcher
	limiters   *limiters
	timeout    time.Duration
	now        func() time.Time
	observer   Observer
	logger     *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

func WithClock(now func() time.Time) Option { return func(g *Gateway) { g.now = now } }

func WithLogger(l *slog.Logger) Option { return func(g *Gateway) { g.logger = l } }

func WithObserver(o Observer) Option { return func(g *Gateway) { g.observer = o } }

// New wires a Gateway.
func New(reg *registry.Registry, v Vault, az Authorizer, d Dispatcher, cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		registry:   reg,
		vault:      v,
		authz:      az,
		dispatcher: d,
		timeout:    cfg.DefaultTimeout,
		now:        time.Now,
		observer:   nopObserver{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	g.limiters = newLimiters(cfg.RateLimit)
	g.logger = g.logger.With("component", "gateway")
	return g
}

// Invoke dispatches tool on serverID for caller. A tool that ran and
// reported a failure returns a Result with IsError set and a nil error.
func (g *Gateway) Invoke(ctx context.Context, caller *auth.Identity, serverID, tool string, args map[string]any) (*mcp.Result, error) {
	if caller == nil {
		return nil, errs.Unauthorized("no caller identity")
	}
	if tool == "" {
		return nil, errs.Validation("tool name is required")
	}

	srv, err := g.registry.GetActive(ctx, caller.OrganizationID, serverID)
	if err != nil {
		return nil, err
	}

	if err := g.authorize(ctx, caller, ActionExecute, srv.ID, map[string]any{
		"tool":        tool,
		"server_type": string(srv.ServerType),
	}); err != nil {
		return nil, err
	}

	if wait := g.limiters.take(srv.ID, g.now()); wait > 0 {
		g.logger.Debug("rate limited", "server_id", srv.ID, "retry_after", wait)
		return nil, errs.RateLimited(wait)
	}

	target, ci, err := g.target(ctx, srv, caller.UserID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, ci.Timeout(g.timeout))
	defer cancel()

	start := g.now()
	res, callErr := g.dispatcher.CallTool(callCtx, target, tool, args)
	elapsed := g.now().Sub(start)

	// A cancelled request leaves no execution behind.
	if ctx.Err() != nil {
		g.logger.Debug("invocation cancelled", "server_id", srv.ID, "tool", tool)
		if callErr == nil {
			callErr = ctx.Err()
		}
		return nil, callErr
	}

	kind := string(errs.KindOf(callErr))
	if callErr != nil && kind == "" {
		kind = string(errs.KindServerError)
	}
	if callErr == nil && res.IsError {
		kind = KindToolError
	}
	g.record(ctx, &store.ToolExecution{
		ServerID:   srv.ID,
		ToolName:   tool,
		CallerID:   caller.UserID,
		Success:    kind == "",
		DurationMs: elapsed.Milliseconds(),
		ErrorKind:  kind,
	})
	g.observer.ObserveInvocation(srv.ID, tool, kind, elapsed)

	if callErr != nil {
		g.logger.Warn("invocation failed", "server_id", srv.ID, "tool", tool, "kind", kind, "error", callErr)
		return nil, callErr
	}
	g.logger.Info("invocation completed", "server_id", srv.ID, "tool", tool, "caller", caller.UserID, "duration_ms", elapsed.Milliseconds())
	return res, nil
}

// ListTools returns the tools the server advertises. It needs servers:read.
func (g *Gateway) ListTools(ctx context.Context, caller *auth.Identity, serverID string) ([]mcp.Tool, error) {
	if caller == nil {
		return nil, errs.Unauthorized("no caller identity")
	}
	srv, err := g.registry.GetActive(ctx, caller.OrganizationID, serverID)
	if err != nil {
		return nil, err
	}
	if err := g.authorize(ctx, caller, ActionRead, srv.ID, nil); err != nil {
		return nil, err
	}
	target, ci, err := g.target(ctx, srv, caller.UserID)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, ci.Timeout(g.timeout))
	defer cancel()
	return g.dispatcher.ListTools(callCtx, target)
}

// target resolves connection info and credentials for srv.
func (g *Gateway) target(ctx context.Context, srv *store.Server, callerID string) (mcp.Target, *registry.ConnectionInfo, error) {
	ci, err := registry.DecodeConnectionInfo(srv)
	if err != nil {
		return mcp.Target{}, nil, errs.ServerError(0, err, "server %s has unreadable connection info", srv.ID)
	}
	t := mcp.Target{
		ServerID:   srv.ID,
		URL:        srv.URL,
		ServerType: srv.ServerType,
		Headers:    ci.Headers,
	}
	if srv.AuthType == store.AuthNone || srv.AuthType == "" {
		return t, ci, nil
	}

	creds, err := g.vault.GetCredentials(ctx, srv.ID, callerID)
	if err != nil {
		return mcp.Target{}, nil, err
	}
	if creds == nil {
		return mcp.Target{}, nil, errs.Vault(vault.CodeNotFound, map[string]any{"server_id": srv.ID}, nil,
			"no credentials stored for server %s", srv.ID)
	}
	t.Credentials = creds
	return t, ci, nil
}

func (g *Gateway) authorize(ctx context.Context, caller *auth.Identity, action, resourceID string, data map[string]any) error {
	res, err := g.authz.Authorize(ctx, &authz.Context{
		UserID:         caller.UserID,
		OrganizationID: caller.OrganizationID,
		Roles:          caller.Roles,
		Resource:       ResourceServers,
		Action:         action,
		ResourceID:     resourceID,
		Claims:         caller.Claims,
		Data:           data,
	})
	if err != nil {
		return err
	}
	if !res.Allowed {
		g.logger.Info("request denied", "user", caller.UserID, "action", action, "resource_id", resourceID, "reason", res.Reason)
	}
	return res.Err()
}

// record stores an execution. Failing to record never fails the call.
func (g *Gateway) record(ctx context.Context, exec *store.ToolExecution) {
	if err := g.registry.RecordExecution(ctx, exec); err != nil && !errors.Is(err, context.Canceled) {
		g.logger.Error("failed to record execution", "server_id", exec.ServerID, "tool", exec.ToolName, "error", err)
	}
}
