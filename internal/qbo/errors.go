// Package qbo provides an HTTP client for the external accounting provider's
// company-scoped REST API: query by natural key, create, and read by id.
// The client does not retry; callers wrap calls in the retry package.
package qbo

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, qbo.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("qbo: bad request")
	ErrUnauthorized = errors.New("qbo: unauthorized")
	ErrForbidden    = errors.New("qbo: forbidden")
	ErrNotFound     = errors.New("qbo: not found")
	ErrConflict     = errors.New("qbo: conflict")
	ErrThrottled    = errors.New("qbo: throttled")
	ErrServerError  = errors.New("qbo: server error")
	ErrUnexpected   = errors.New("qbo: unexpected status")
)

// APIError wraps a sentinel error with the HTTP status code, the provider's
// request id (intuit_tid header), and the fault detail from the body.
type APIError struct {
	StatusCode int
	RequestID  string
	Code       string // provider fault code, e.g. "6240" for duplicate name
	FaultType  string // e.g. "ValidationFault", "AuthenticationFault"
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("qbo: HTTP %d (intuit_tid: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("qbo: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// HTTPStatus exposes the status for typed classification in syncerr.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// TransportError is a request that never produced an HTTP response
// (DNS failure, connection reset, client timeout). It classifies as status 0.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("qbo: %s %s: transport failure: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPStatus is always 0: no response was received.
func (e *TransportError) HTTPStatus() int {
	return 0
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		if code >= http.StatusOK && code < http.StatusMultipleChoices {
			return nil
		}

		return ErrUnexpected
	}
}

// fault mirrors the provider's error envelope:
//
//	{"Fault":{"Error":[{"Message":"...","Detail":"...","code":"6240"}],"type":"ValidationFault"}}
type fault struct {
	Fault struct {
		Error []struct {
			Message string `json:"Message"`
			Detail  string `json:"Detail"`
			Code    string `json:"code"`
		} `json:"Error"`
		Type string `json:"type"`
	} `json:"Fault"`
}
