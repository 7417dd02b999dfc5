// Package authz implements deny-overrides-allow permission evaluation.
//
// Rules are evaluated in a fixed order: explicit deny, instance-scoped allow,
// class-level allow, enabled claim policies, and finally default deny. The
// Engine is read-only and safe for concurrent use. Manager writes the grants
// the Engine reads and audits each change.
package authz
