package adapters

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/af-corp/relay-gateway/internal/types"
)

const maxErrorBody = 64 << 10

// StatusError is a non-2xx reply from an HTTP backend.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func newStatusError(provider string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
}

// classifyStatus maps an HTTP status code onto the failure taxonomy.
func classifyStatus(code int) types.FailureClass {
	switch code {
	case http.StatusTooManyRequests:
		return types.FailureRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.FailureAuth
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return types.FailureBadRequest
	default:
		return types.FailureOther
	}
}

// classifyHTTPError classifies errors produced by the HTTP-based backends.
// Transport failures, timeouts and cancellations are all Other.
func classifyHTTPError(err error) types.FailureClass {
	var serr *StatusError
	if errors.As(err, &serr) {
		return classifyStatus(serr.StatusCode)
	}
	var strErr *streamError
	if errors.As(err, &strErr) {
		return strErr.class()
	}
	return types.FailureOther
}

// streamError is an error event delivered inside an otherwise successful
// event stream.
type streamError struct {
	Type    string
	Message string
}

func (e *streamError) Error() string {
	return fmt.Sprintf("stream error %s: %s", e.Type, e.Message)
}

func (e *streamError) class() types.FailureClass {
	switch e.Type {
	case "rate_limit_error", "overloaded_error", "rate_limit_exceeded":
		return types.FailureRateLimited
	case "authentication_error", "permission_error", "invalid_api_key":
		return types.FailureAuth
	case "invalid_request_error", "not_found_error":
		return types.FailureBadRequest
	default:
		return types.FailureOther
	}
}
