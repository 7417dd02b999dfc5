// ABOUTME: Permission Engine evaluating an ordered rule list per request
// ABOUTME: Deny overrides allow; instance grants outrank class grants; default is deny

package authz

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
)

// Wildcard matches any resource or action in a permission or policy.
const Wildcard = "*"

// Reader is the read side of the permission store.
type Reader interface {
	ListRolePermissions(ctx context.Context, roles []string) ([]*store.RolePermission, error)
	ListUserPermissions(ctx context.Context, userID string) ([]*store.UserPermission, error)
	ListResourcePermissions(ctx context.Context, userID, resource, action string) ([]*store.ResourcePermission, error)
	ListPolicies(ctx context.Context, orgID string) ([]*store.AuthorizationPolicy, error)
}

// DecisionObserver is told about every decision.
type DecisionObserver interface {
	ObserveDecision(resource, action, rule string, allowed bool)
}

// Engine evaluates authorization requests.
type Engine struct {
	reader   Reader
	now      func() time.Time
	logger   *slog.Logger
	observer DecisionObserver
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) EngineOption { return func(e *Engine) { e.now = now } }

func WithLogger(l *slog.Logger) EngineOption { return func(e *Engine) { e.logger = l } }

func WithObserver(o DecisionObserver) EngineOption { return func(e *Engine) { e.observer = o } }

func NewEngine(reader Reader, opts ...EngineOption) *Engine {
	e := &Engine{
		reader: reader,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "authz")
	return e
}

// candidate is one applicable explicit grant, normalized across the three
// grant sources.
type candidate struct {
	effect   store.Effect
	instance bool
	perm     *store.Permission
	rp       *store.ResourcePermission
}

// rule is one step of the evaluation order.
type rule struct {
	name    string
	allowed bool
	matches func(c candidate) bool
}

var explicitRules = []rule{
	{RuleExplicitDeny, false, func(c candidate) bool { return c.effect == store.EffectDeny }},
	{RuleInstanceAllow, true, func(c candidate) bool { return c.effect == store.EffectAllow && c.instance }},
	{RuleClassAllow, true, func(c candidate) bool { return c.effect == store.EffectAllow && !c.instance }},
}

// Authorize evaluates ac. A storage failure is returned as an error, never
// as a decision.
func (e *Engine) Authorize(ctx context.Context, ac *Context) (*Result, error) {
	candidates, err := e.candidates(ctx, ac)
	if err != nil {
		return nil, errs.ServerError(0, err, "loading permissions")
	}

	result := e.evaluateExplicit(candidates)
	if result == nil {
		policies, err := e.reader.ListPolicies(ctx, ac.OrganizationID)
		if err != nil {
			return nil, errs.ServerError(0, err, "loading policies")
		}
		result = evaluatePolicies(policies, ac)
	}
	if result == nil {
		result = &Result{Allowed: false, Reason: ReasonNoMatch, Rule: RuleDefaultDeny}
	}

	e.logger.Debug("authorization decision",
		"user_id", ac.UserID,
		"resource", ac.Resource,
		"action", ac.Action,
		"resource_id", ac.ResourceID,
		"allowed", result.Allowed,
		"rule", result.Rule,
	)
	if e.observer != nil {
		e.observer.ObserveDecision(ac.Resource, ac.Action, result.Rule, result.Allowed)
	}
	return result, nil
}

func (e *Engine) evaluateExplicit(candidates []candidate) *Result {
	for _, r := range explicitRules {
		for _, c := range candidates {
			if !r.matches(c) {
				continue
			}
			return &Result{
				Allowed:            r.allowed,
				Reason:             c.reason(r.allowed),
				Rule:               r.name,
				Permission:         c.perm,
				ResourcePermission: c.rp,
			}
		}
	}
	return nil
}

// candidates gathers every unexpired grant that applies to ac and whose
// conditions hold.
func (e *Engine) candidates(ctx context.Context, ac *Context) ([]candidate, error) {
	now := e.now()
	var out []candidate

	addPermission := func(p *store.Permission) {
		if p == nil || !permissionApplies(p, ac) || !conditionsHold(p.Conditions, ac) {
			return
		}
		out = append(out, candidate{
			effect:   p.Effect,
			instance: p.ResourceID != nil,
			perm:     p,
		})
	}

	if ac.UserID != "" {
		grants, err := e.reader.ListUserPermissions(ctx, ac.UserID)
		if err != nil {
			return nil, fmt.Errorf("listing user permissions: %w", err)
		}
		for _, g := range grants {
			if expired(g.ExpiresAt, now) {
				continue
			}
			addPermission(g.Permission)
		}
	}

	if len(ac.Roles) > 0 {
		grants, err := e.reader.ListRolePermissions(ctx, ac.Roles)
		if err != nil {
			return nil, fmt.Errorf("listing role permissions: %w", err)
		}
		for _, g := range grants {
			addPermission(g.Permission)
		}
	}

	if ac.UserID != "" && ac.ResourceID != "" {
		overrides, err := e.reader.ListResourcePermissions(ctx, ac.UserID, ac.Resource, ac.Action)
		if err != nil {
			return nil, fmt.Errorf("listing resource permissions: %w", err)
		}
		for _, rp := range overrides {
			if expired(rp.ExpiresAt, now) || rp.ResourceID != ac.ResourceID || !conditionsHold(rp.Conditions, ac) {
				continue
			}
			out = append(out, candidate{
				effect:   rp.Effect,
				instance: true,
				rp:       rp,
			})
		}
	}
	return out, nil
}

func evaluatePolicies(policies []*store.AuthorizationPolicy, ac *Context) *Result {
	for _, p := range policies {
		if !p.IsEnabled {
			continue
		}
		if p.OrganizationID != nil && *p.OrganizationID != ac.OrganizationID {
			continue
		}
		if !claimsSatisfied(p.RequiredClaims, ac.Claims) {
			continue
		}
		if !listMatches(p.AllowedResources, ac.Resource) || !listMatches(p.AllowedActions, ac.Action) {
			continue
		}
		if !conditionsHold(p.Conditions, ac) {
			continue
		}
		return &Result{
			Allowed: true,
			Reason:  fmt.Sprintf("allowed by policy %q", p.Name),
			Rule:    RulePolicy,
			Policy:  p,
		}
	}
	return nil
}

func permissionApplies(p *store.Permission, ac *Context) bool {
	if !matchesName(p.Resource, ac.Resource) || !matchesName(p.Action, ac.Action) {
		return false
	}
	if p.ResourceID != nil && *p.ResourceID != ac.ResourceID {
		return false
	}
	if p.OrganizationID != nil && *p.OrganizationID != ac.OrganizationID {
		return false
	}
	return p.Effect == store.EffectAllow || p.Effect == store.EffectDeny
}

// claimsSatisfied requires every claim to be present; a required value of
// "*" accepts any value.
func claimsSatisfied(required, claims map[string]string) bool {
	for k, want := range required {
		got, ok := claims[k]
		if !ok || (want != Wildcard && got != want) {
			return false
		}
	}
	return true
}

func listMatches(allowed []string, name string) bool {
	return slices.Contains(allowed, name) || slices.Contains(allowed, Wildcard)
}

func matchesName(pattern, name string) bool {
	return pattern == Wildcard || pattern == name
}

func expired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && !expiresAt.After(now)
}

func (c candidate) reason(allowed bool) string {
	verb := "denied"
	if allowed {
		verb = "allowed"
	}
	switch {
	case c.rp != nil:
		return fmt.Sprintf("%s by resource permission %s on %s %s", verb, c.rp.ID, c.rp.Resource, c.rp.ResourceID)
	case c.perm.ResourceID != nil:
		return fmt.Sprintf("%s by permission %s on %s %s", verb, c.perm.ID, c.perm.Resource, *c.perm.ResourceID)
	default:
		return fmt.Sprintf("%s by permission %s (%s:%s)", verb, c.perm.ID, c.perm.Resource, c.perm.Action)
	}
}
