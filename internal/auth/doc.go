// Package auth authenticates inbound API callers.
//
// # Tokens
//
// Callers present an HS256 JWT signed with the configured auth.jwt_secret:
//
//	Authorization: Bearer <token>
//
// Recognized claims:
//
//   - sub: the caller's user id (required)
//   - org: the organization the caller acts in (required)
//   - roles: array of role names, matched against role_permissions
//
// Every other string-valued claim is copied into Identity.Claims, where
// authorization policies can require it.
//
// # Identity
//
// Middleware verifies the token and attaches an *Identity to the request
// context. Handlers read it with FromContext. Authentication only
// establishes who the caller is; what they may do is decided per call by
// the authz engine.
package auth
