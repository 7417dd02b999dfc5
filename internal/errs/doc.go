// Package errs defines the error kinds shared by every gateway component.
//
// Components return *Error values (or wrap them) instead of ad-hoc strings so
// that the API boundary can map a failure to a stable status code without
// inspecting messages:
//
//	if errs.KindOf(err) == errs.KindUnauthorized { ... }
//	if errors.Is(err, errs.ErrTimeout) { ... }
//
// Cryptographic failures never carry detail about which input was invalid.
package errs
