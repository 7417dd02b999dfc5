// ABOUTME: Registry service: server CRUD, health recording, statistics and bulk operations
// ABOUTME: Name uniqueness is backed by the storage constraint, not only the pre-check

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
)

// Store is the persistence surface the registry needs.
type Store interface {
	store.ServerStore
	store.AuditStore
}

// Registry manages registered servers.
type Registry struct {
	store  Store
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.logger = l } }

// New builds a Registry. Zero thresholds fall back to the defaults.
func New(s Store, cfg Config, opts ...Option) *Registry {
	def := DefaultConfig()
	if cfg.HealthyThreshold <= 0 {
		cfg.HealthyThreshold = def.HealthyThreshold
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = def.UnhealthyThreshold
	}
	if cfg.DeletePolicy == "" {
		cfg.DeletePolicy = def.DeletePolicy
	}

	r := &Registry{store: s, cfg: cfg, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Config returns the effective configuration.
func (r *Registry) Config() Config { return r.cfg }

// Create validates and registers a server. A duplicate name within the
// organization is a Conflict, including when two registrations race.
func (r *Registry) Create(ctx context.Context, req RegisterRequest) (*store.Server, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	taken, err := r.store.ServerNameExists(ctx, req.OrganizationID, req.Name, "")
	if err != nil {
		return nil, storeError(err, "checking server name")
	}
	if taken {
		return nil, errs.Conflict("server %q already exists in organization %s", req.Name, req.OrganizationID)
	}

	srv := &store.Server{
		Name:           req.Name,
		Description:    req.Description,
		URL:            req.URL,
		ServerType:     req.ServerType,
		AuthType:       req.AuthType,
		Capabilities:   req.Capabilities,
		Status:         store.StatusUnknown,
		IsActive:       true,
		OrganizationID: req.OrganizationID,
		CreatedBy:      req.CreatedBy,
	}
	if req.ConnectionInfo != nil {
		if srv.ConnectionInfo, err = json.Marshal(req.ConnectionInfo); err != nil {
			return nil, errs.Validation("connection info: %v", err)
		}
	}

	if err := r.store.CreateServer(ctx, srv); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, errs.Conflict("server %q already exists in organization %s", req.Name, req.OrganizationID)
		}
		return nil, storeError(err, "creating server")
	}

	r.logger.Info("registered server", "server_id", srv.ID, "name", srv.Name, "org", srv.OrganizationID)
	r.audit(ctx, req.CreatedBy, srv.OrganizationID, store.AuditRegisterServer, srv.ID, map[string]any{"name": srv.Name, "url": srv.URL})
	return srv, nil
}

// Get returns a server visible to orgID. An empty orgID skips the
// organization check (internal callers only).
func (r *Registry) Get(ctx context.Context, orgID, id string) (*store.Server, error) {
	srv, err := r.store.GetServer(ctx, id)
	if err != nil {
		return nil, storeError(err, "server %s", id)
	}
	if orgID != "" && srv.OrganizationID != orgID {
		return nil, errs.NotFound("server %s", id)
	}
	return srv, nil
}

// GetActive is Get that also hides deactivated servers.
func (r *Registry) GetActive(ctx context.Context, orgID, id string) (*store.Server, error) {
	srv, err := r.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if !srv.IsActive || srv.Status == store.StatusDeactivated {
		return nil, errs.NotFound("server %s", id)
	}
	return srv, nil
}

// Update applies the non-nil fields of req.
func (r *Registry) Update(ctx context.Context, orgID, id, actorID string, req UpdateRequest) (*store.Server, error) {
	srv, err := r.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	changed := map[string]any{}
	if req.Name != nil {
		if err := validateName(*req.Name); err != nil {
			return nil, err
		}
		if *req.Name != srv.Name {
			taken, err := r.store.ServerNameExists(ctx, srv.OrganizationID, *req.Name, srv.ID)
			if err != nil {
				return nil, storeError(err, "checking server name")
			}
			if taken {
				return nil, errs.Conflict("server %q already exists in organization %s", *req.Name, srv.OrganizationID)
			}
		}
		srv.Name = *req.Name
		changed["name"] = srv.Name
	}
	if req.Description != nil {
		if err := validateDescription(*req.Description); err != nil {
			return nil, err
		}
		srv.Description = *req.Description
		changed["description"] = true
	}
	if req.ServerType != nil {
		if err := validateServerType(*req.ServerType); err != nil {
			return nil, err
		}
		srv.ServerType = *req.ServerType
		changed["server_type"] = string(srv.ServerType)
	}
	if req.URL != nil {
		srv.URL = *req.URL
		changed["url"] = srv.URL
	}
	if req.URL != nil || req.ServerType != nil {
		if err := validateURL(srv.URL, srv.ServerType); err != nil {
			return nil, err
		}
	}
	if req.AuthType != nil {
		if err := validateAuthType(*req.AuthType); err != nil {
			return nil, err
		}
		srv.AuthType = *req.AuthType
		changed["auth_type"] = string(srv.AuthType)
	}
	if req.ConnectionInfo != nil {
		if err := validateConnectionInfo(req.ConnectionInfo); err != nil {
			return nil, err
		}
		if srv.ConnectionInfo, err = json.Marshal(req.ConnectionInfo); err != nil {
			return nil, errs.Validation("connection info: %v", err)
		}
		changed["connection_info"] = true
	}
	if req.Capabilities != nil {
		if err := validateCapabilities(req.Capabilities); err != nil {
			return nil, err
		}
		srv.Capabilities = req.Capabilities
		changed["capabilities"] = true
	}

	if err := r.store.UpdateServer(ctx, srv); err != nil {
		return nil, storeError(err, "updating server %s", id)
	}
	r.audit(ctx, actorID, srv.OrganizationID, store.AuditUpdateServer, srv.ID, changed)
	return srv, nil
}

// SetCredentialsRef records where the server's credentials live. A nil ref
// clears it.
func (r *Registry) SetCredentialsRef(ctx context.Context, id string, ref []byte) error {
	if err := r.store.SetServerCredentials(ctx, id, ref); err != nil {
		return storeError(err, "updating credentials of server %s", id)
	}
	return nil
}

// Restore writes back the descriptive fields of prev, undoing an Update
// whose follow-up work failed. Status and credentials are not touched.
func (r *Registry) Restore(ctx context.Context, prev *store.Server) error {
	if err := r.store.UpdateServer(ctx, prev); err != nil {
		return storeError(err, "restoring server %s", prev.ID)
	}
	r.logger.Warn("restored server after failed update", "server_id", prev.ID)
	return nil
}

// Delete removes a server according to the delete policy. Under reject, a
// server with history is a Conflict.
func (r *Registry) Delete(ctx context.Context, orgID, id, actorID string) error {
	srv, err := r.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if err := r.store.DeleteServer(ctx, id, r.cfg.DeletePolicy == DeleteCascade); err != nil {
		if errors.Is(err, store.ErrHasHistory) {
			return errs.Conflict("server %s has health or execution history; deactivate it instead", id)
		}
		return storeError(err, "deleting server %s", id)
	}
	r.logger.Info("deleted server", "server_id", id, "policy", r.cfg.DeletePolicy)
	r.audit(ctx, actorID, srv.OrganizationID, store.AuditDeleteServer, id, map[string]any{"policy": string(r.cfg.DeletePolicy)})
	return nil
}

// Purge hard-deletes a server with cascade regardless of policy. It is used
// to roll back a registration whose credentials could not be stored.
func (r *Registry) Purge(ctx context.Context, id string) error {
	if err := r.store.DeleteServer(ctx, id, true); err != nil {
		return storeError(err, "purging server %s", id)
	}
	return nil
}

// List returns one page of servers matching f and the total match count.
func (r *Registry) List(ctx context.Context, f store.ServerFilter) ([]*store.Server, int, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, 0, errs.Validation("unknown status %q", *f.Status)
	}
	if f.Page < 0 || f.PageSize < 0 {
		return nil, 0, errs.Validation("page and page size must not be negative")
	}
	servers, total, err := r.store.ListServers(ctx, f)
	if err != nil {
		return nil, 0, storeError(err, "listing servers")
	}
	return servers, total, nil
}

func (r *Registry) Exists(ctx context.Context, orgID, id string) (bool, error) {
	ok, err := r.store.ServerExists(ctx, orgID, id)
	if err != nil {
		return false, storeError(err, "checking server")
	}
	return ok, nil
}

func (r *Registry) NameExists(ctx context.Context, orgID, name, excludeID string) (bool, error) {
	ok, err := r.store.ServerNameExists(ctx, orgID, name, excludeID)
	if err != nil {
		return false, storeError(err, "checking server name")
	}
	return ok, nil
}

// Activate reactivates a deactivated server. Its status restarts at unknown.
func (r *Registry) Activate(ctx context.Context, orgID, id, actorID string) error {
	return r.setActive(ctx, orgID, id, actorID, store.StatusUnknown)
}

// Deactivate soft-deletes a server: the row stays but it is hidden from dispatch.
func (r *Registry) Deactivate(ctx context.Context, orgID, id, actorID string) error {
	return r.setActive(ctx, orgID, id, actorID, store.StatusDeactivated)
}

func (r *Registry) setActive(ctx context.Context, orgID, id, actorID string, status store.ServerStatus) error {
	srv, err := r.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if _, err := r.store.BulkUpdateStatus(ctx, srv.OrganizationID, []string{id}, status); err != nil {
		return storeError(err, "updating server %s", id)
	}
	r.audit(ctx, actorID, srv.OrganizationID, store.AuditUpdateServer, id, map[string]any{"status": string(status)})
	return nil
}

// BulkUpdateStatus deactivates (StatusDeactivated) or reactivates
// (StatusUnknown) the ids owned by orgID. Other statuses only come from
// health checks. Unknown or foreign ids are skipped; the count actually
// updated is returned.
func (r *Registry) BulkUpdateStatus(ctx context.Context, orgID string, ids []string, status store.ServerStatus, actorID string) (int64, error) {
	if status != store.StatusDeactivated && status != store.StatusUnknown {
		return 0, errs.Validation("status %q is set by health checks; only deactivated or unknown may be assigned", status)
	}
	if orgID == "" {
		return 0, errs.Validation("organization id is required")
	}
	n, err := r.store.BulkUpdateStatus(ctx, orgID, ids, status)
	if err != nil {
		return 0, storeError(err, "bulk status update")
	}
	r.audit(ctx, actorID, orgID, store.AuditBulkUpdateServers, "", map[string]any{
		"requested": len(ids), "updated": n, "status": string(status),
	})
	return n, nil
}

// BulkDelete deletes the ids owned by orgID under the delete policy. Under
// reject, the whole batch fails if any server has history.
func (r *Registry) BulkDelete(ctx context.Context, orgID string, ids []string, actorID string) (int64, error) {
	if orgID == "" {
		return 0, errs.Validation("organization id is required")
	}
	n, err := r.store.BulkDeleteServers(ctx, orgID, ids, r.cfg.DeletePolicy == DeleteCascade)
	if err != nil {
		if errors.Is(err, store.ErrHasHistory) {
			return 0, errs.Conflict("one or more servers have history; nothing was deleted")
		}
		return 0, storeError(err, "bulk delete")
	}
	r.audit(ctx, actorID, orgID, store.AuditBulkDeleteServers, "", map[string]any{"requested": len(ids), "deleted": n})
	return n, nil
}

// DeactivateStale deactivates servers whose last health check (or creation,
// if never checked) predates cutoff.
func (r *Registry) DeactivateStale(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := r.store.DeactivateStale(ctx, cutoff)
	if err != nil {
		return 0, storeError(err, "deactivating stale servers")
	}
	if n > 0 {
		r.logger.Info("deactivated stale servers", "count", n, "cutoff", cutoff)
		r.audit(ctx, "system", "", store.AuditDeactivateStale, "", map[string]any{"count": n, "cutoff": cutoff.UTC().Format(time.RFC3339)})
	}
	return n, nil
}

// statusRetries bounds how often RecordHealthCheck re-reads a server whose
// status moved underneath it.
const statusRetries = 5

// RecordHealthCheck appends a probe result and advances the server's status.
// It returns the status after the transition. The status write only lands on
// the status it was computed from, so a concurrent deactivation is never
// overwritten.
func (r *Registry) RecordHealthCheck(ctx context.Context, hc *store.HealthCheck) (store.ServerStatus, error) {
	if !hc.Status.Valid() || hc.Status == store.StatusUnknown || hc.Status == store.StatusDeactivated {
		return "", errs.Validation("health check status must be healthy, degraded or unhealthy")
	}
	if hc.CheckedAt.IsZero() {
		hc.CheckedAt = r.now().UTC()
	}

	if _, err := r.store.GetServer(ctx, hc.ServerID); err != nil {
		return "", storeError(err, "server %s", hc.ServerID)
	}
	if err := r.store.InsertHealthCheck(ctx, hc); err != nil {
		return "", storeError(err, "recording health check")
	}

	for range statusRetries {
		srv, err := r.store.GetServer(ctx, hc.ServerID)
		if err != nil {
			return "", storeError(err, "server %s", hc.ServerID)
		}
		recent, err := r.store.RecentHealthChecks(ctx, hc.ServerID, r.cfg.window())
		if err != nil {
			return "", storeError(err, "loading health history")
		}
		next := r.cfg.NextStatus(srv.Status, recent)

		// Deactivated servers keep their status; only the check time moves.
		ok, err := r.store.SetServerStatus(ctx, srv.ID, srv.Status, next, &hc.CheckedAt)
		if err != nil {
			return "", storeError(err, "updating server status")
		}
		if !ok {
			continue
		}
		if next != srv.Status {
			r.logger.Info("server status changed", "server_id", srv.ID, "from", srv.Status, "to", next)
		}
		return next, nil
	}
	return "", errs.Conflict("server %s status kept changing while recording a health check", hc.ServerID)
}

// HealthHistory returns checks at or after since, oldest first.
func (r *Registry) HealthHistory(ctx context.Context, id string, since time.Time) ([]*store.HealthCheck, error) {
	checks, err := r.store.ListHealthChecks(ctx, id, since)
	if err != nil {
		return nil, storeError(err, "listing health checks")
	}
	return checks, nil
}

// LatestHealth returns the newest check, or NotFound if none exist.
func (r *Registry) LatestHealth(ctx context.Context, id string) (*store.HealthCheck, error) {
	checks, err := r.store.RecentHealthChecks(ctx, id, 1)
	if err != nil {
		return nil, storeError(err, "loading latest health check")
	}
	if len(checks) == 0 {
		return nil, errs.NotFound("no health checks for server %s", id)
	}
	return checks[0], nil
}

// RecordExecution logs one tool execution and bumps the running counters.
func (r *Registry) RecordExecution(ctx context.Context, exec *store.ToolExecution) error {
	if exec.ExecutedAt.IsZero() {
		exec.ExecutedAt = r.now().UTC()
	}
	if err := r.store.RecordToolExecution(ctx, exec); err != nil {
		return storeError(err, "recording tool execution")
	}
	return nil
}

// Statistics aggregates executions in [from, to). A zero to means now.
func (r *Registry) Statistics(ctx context.Context, id string, from, to time.Time) (*Statistics, error) {
	if to.IsZero() {
		to = r.now().UTC()
	}
	if !from.Before(to) {
		return nil, errs.Validation("period start must be before period end")
	}
	st, err := r.store.GetExecutionStats(ctx, id, from, to)
	if err != nil {
		return nil, storeError(err, "loading statistics")
	}
	return &Statistics{
		ServerID:           id,
		PeriodStart:        from,
		PeriodEnd:          to,
		TotalRequests:      st.TotalRequests,
		SuccessfulRequests: st.SuccessfulRequests,
		FailedRequests:     st.FailedRequests,
		AvgResponseTimeMs:  st.AvgDurationMs,
		SuccessRate:        successRate(st.SuccessfulRequests, st.TotalRequests),
	}, nil
}

// LifetimeStatistics reads the running counters.
func (r *Registry) LifetimeStatistics(ctx context.Context, id string) (*Statistics, error) {
	c, err := r.store.GetServerCounters(ctx, id)
	if err != nil {
		return nil, storeError(err, "loading counters")
	}
	st := &Statistics{
		ServerID:           id,
		PeriodEnd:          r.now().UTC(),
		TotalRequests:      c.TotalRequests,
		SuccessfulRequests: c.SuccessfulRequests,
		FailedRequests:     c.FailedRequests,
		SuccessRate:        successRate(c.SuccessfulRequests, c.TotalRequests),
	}
	if c.TotalRequests > 0 {
		st.AvgResponseTimeMs = float64(c.TotalDurationMs) / float64(c.TotalRequests)
	}
	return st, nil
}

func (r *Registry) audit(ctx context.Context, actorID, orgID string, action store.AuditAction, targetID string, detail map[string]any) {
	entry := &store.AuditEntry{
		ActorID:    actorID,
		OrgID:      orgID,
		Action:     action,
		TargetType: "server",
		TargetID:   targetID,
		Detail:     detail,
	}
	if err := r.store.AppendAuditLog(ctx, entry); err != nil {
		r.logger.Error("failed to append audit log", "action", action, "target_id", targetID, "error", err)
	}
}

// storeError maps store sentinels to error kinds. Anything else is a
// storage failure surfaced as ServerError.
func storeError(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errs.NotFound("%s", msg)
	case errors.Is(err, store.ErrConflict):
		return errs.Conflict("%s", msg)
	default:
		return errs.ServerError(0, err, "%s", msg)
	}
}
