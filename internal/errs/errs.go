// ABOUTME: Error kind taxonomy for the gateway core (not found, unauthorized, timeout, ...)
// ABOUTME: Errors carry a kind plus optional retry/status/provider detail and match via errors.Is

package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure for callers and the API boundary.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindUnauthorized         Kind = "unauthorized"
	KindValidation           Kind = "validation"
	KindConflict             Kind = "conflict"
	KindRateLimitExceeded    Kind = "rate_limit_exceeded"
	KindServerError          Kind = "server_error"
	KindTimeout              Kind = "timeout"
	KindCryptographicFailure Kind = "cryptographic_failure"
	KindVaultError           Kind = "vault_error"
)

// Kind sentinels for errors.Is matching. An *Error matches the sentinel of its kind.
var (
	ErrNotFound             = &Error{Kind: KindNotFound, Message: "not found"}
	ErrUnauthorized         = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrValidation           = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrConflict             = &Error{Kind: KindConflict, Message: "conflict"}
	ErrRateLimitExceeded    = &Error{Kind: KindRateLimitExceeded, Message: "rate limit exceeded"}
	ErrServerError          = &Error{Kind: KindServerError, Message: "server error"}
	ErrTimeout              = &Error{Kind: KindTimeout, Message: "timeout"}
	ErrCryptographicFailure = &Error{Kind: KindCryptographicFailure, Message: "decryption failed"}
	ErrVaultError           = &Error{Kind: KindVaultError, Message: "vault error"}
)

// Error is a classified gateway error.
type Error struct {
	Kind    Kind
	Message string

	// Reason is the human-readable authorization reason for KindUnauthorized.
	Reason string
	// RetryAfter is set for KindRateLimitExceeded.
	RetryAfter time.Duration
	// StatusCode is the upstream status for KindServerError, zero if unknown.
	StatusCode int
	// ProviderCode and Details are set for KindVaultError.
	ProviderCode string
	Details      map[string]any

	Err error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the kind sentinel (or any *Error) of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized builds a deny error carrying the evaluation reason.
func Unauthorized(reason string) *Error {
	return &Error{Kind: KindUnauthorized, Message: "access denied", Reason: reason}
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimitExceeded,
		Message:    fmt.Sprintf("retry after %d seconds", RetryAfterSeconds(retryAfter)),
		RetryAfter: retryAfter,
	}
}

// ServerError wraps an upstream or storage failure. statusCode is zero when unknown.
func ServerError(statusCode int, err error, format string, args ...any) *Error {
	return &Error{Kind: KindServerError, StatusCode: statusCode, Message: fmt.Sprintf(format, args...), Err: err}
}

func Timeout(err error, format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...), Err: err}
}

// Cryptographic returns the single opaque decryption failure. The cause is
// deliberately dropped.
func Cryptographic() *Error {
	return &Error{Kind: KindCryptographicFailure, Message: "decryption failed"}
}

// Vault wraps a provider failure.
func Vault(providerCode string, details map[string]any, err error, format string, args ...any) *Error {
	return &Error{
		Kind:         KindVaultError,
		Message:      fmt.Sprintf(format, args...),
		ProviderCode: providerCode,
		Details:      details,
		Err:          err,
	}
}

// RetryAfterSeconds rounds d up to whole seconds, minimum 1.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	return max(secs, 1)
}
