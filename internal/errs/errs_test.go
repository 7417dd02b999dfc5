// ABOUTME: Tests for error kinds, errors.Is matching and retry-after rounding
// ABOUTME: Ensures wrapped kinds survive fmt.Errorf chains

package errs

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindMatchingThroughWrap(t *testing.T) {
	err := fmt.Errorf("loading server: %w", NotFound("server %s", "abc"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
}

func TestUnauthorizedCarriesReason(t *testing.T) {
	err := Unauthorized("no matching permission")
	e, ok := As(fmt.Errorf("invoke: %w", err))
	assert.True(t, ok)
	assert.Equal(t, "no matching permission", e.Reason)
}

func TestServerErrorUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := ServerError(0, cause, "dispatch failed")
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrServerError)
}

func TestCryptographicIsOpaque(t *testing.T) {
	err := Cryptographic()
	assert.Equal(t, "cryptographic_failure: decryption failed", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 1, RetryAfterSeconds(300*time.Millisecond))
	assert.Equal(t, 2, RetryAfterSeconds(1500*time.Millisecond))
	assert.Equal(t, 5, RetryAfterSeconds(5*time.Second))
}
