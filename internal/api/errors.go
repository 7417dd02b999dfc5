// ABOUTME: Maps gateway error kinds to HTTP statuses and JSON error bodies
// ABOUTME: Rate limit responses carry Retry-After in whole seconds

package api

import (
	"net/http"
	"strconv"

	"github.com/2389/mcp-gateway/internal/errs"
)

type errorBody struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	Reason       string `json:"reason,omitempty"`
	RetryAfter   int    `json:"retryAfter,omitempty"`
	StatusCode   int    `json:"upstreamStatus,omitempty"`
	ProviderCode string `json:"providerCode,omitempty"`
}

var kindStatus = map[errs.Kind]int{
	errs.KindNotFound:             http.StatusNotFound,
	errs.KindUnauthorized:         http.StatusForbidden,
	errs.KindValidation:           http.StatusBadRequest,
	errs.KindConflict:             http.StatusConflict,
	errs.KindRateLimitExceeded:    http.StatusTooManyRequests,
	errs.KindServerError:          http.StatusBadGateway,
	errs.KindTimeout:              http.StatusGatewayTimeout,
	errs.KindCryptographicFailure: http.StatusInternalServerError,
	errs.KindVaultError:           http.StatusBadGateway,
}

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	if status, ok := kindStatus[errs.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	e, ok := errs.As(err)
	if !ok {
		s.logger.Error("unclassified error", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, status, errorBody{Error: "internal", Message: "internal error"})
		return
	}

	body := errorBody{Error: string(e.Kind), Message: e.Message, Reason: e.Reason}
	switch e.Kind {
	case errs.KindRateLimitExceeded:
		body.RetryAfter = errs.RetryAfterSeconds(e.RetryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
	case errs.KindServerError:
		body.StatusCode = e.StatusCode
	case errs.KindVaultError:
		// Details can name secrets; only the code goes out.
		body.ProviderCode = e.ProviderCode
	case errs.KindCryptographicFailure:
		body.Message = "decryption failed"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "method", r.Method, "path", r.URL.Path, "kind", e.Kind, "error", err)
	}
	writeJSON(w, status, body)
}
