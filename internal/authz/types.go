// ABOUTME: Authorization request context and evaluation result
// ABOUTME: A denied Result converts to an errs.Unauthorized carrying its reason

package authz

import (
	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
)

// Context is built once per inbound call and discarded with it.
type Context struct {
	UserID         string
	OrganizationID string
	Roles          []string

	Resource   string
	Action     string
	ResourceID string

	// Claims are verified identity claims. Data is free-form request context.
	Claims map[string]string
	Data   map[string]any
}

// Result is the outcome of one evaluation. At most one of Permission,
// ResourcePermission and Policy is set; default deny sets none.
type Result struct {
	Allowed            bool
	Reason             string
	Rule               string
	Permission         *store.Permission
	ResourcePermission *store.ResourcePermission
	Policy             *store.AuthorizationPolicy
}

// Err returns nil when allowed and an Unauthorized error otherwise.
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}
	return errs.Unauthorized(r.Reason)
}

// Rule names reported in Result.Rule.
const (
	RuleExplicitDeny  = "explicit_deny"
	RuleInstanceAllow = "instance_allow"
	RuleClassAllow    = "class_allow"
	RulePolicy        = "policy"
	RuleDefaultDeny   = "default_deny"
)

// ReasonNoMatch is the default-deny reason.
const ReasonNoMatch = "no matching permission"
