// Package syncerr defines the closed error taxonomy used by the sync engine.
// Every I/O boundary (provider HTTP client, token refresh, adapters) returns
// errors that classify into one Kind by typed match, never by message text.
package syncerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind is a classified error type.
type Kind int

const (
	KindUnknown Kind = iota
	KindTokenExpired
	KindConnectivity
	KindCustomerError
	KindMaxRetriesExceeded
	KindMissingDependency
	KindMissingConnection
)

func (k Kind) String() string {
	switch k {
	case KindTokenExpired:
		return "TokenExpired"
	case KindConnectivity:
		return "Connectivity"
	case KindCustomerError:
		return "CustomerError"
	case KindMaxRetriesExceeded:
		return "MaxRetriesExceeded"
	case KindMissingDependency:
		return "MissingDependency"
	case KindMissingConnection:
		return "MissingConnection"
	default:
		return "Unknown"
	}
}

// User-facing categories. The UI and the retry sweeper key off these values,
// and they are what gets persisted in sync_records.error_type.
const (
	CategoryTokenExpired  = "token-expired"
	CategoryCustomerError = "customer-error"
	CategoryConnectivity  = "connectivity"
	CategoryUnknown       = "unknown"
)

// Error is a classified error. Op names the operation that failed
// (e.g. "adapter.bill.create"), Err is the underlying cause.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	switch {
	case e.Kind == KindMaxRetriesExceeded:
		return fmt.Sprintf("%s: max retries exceeded after %d attempts: %s", e.Op, e.Attempts, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	default:
		return msg
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf returns a classified error with a formatted message and no cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// statusCoder is implemented by HTTP-boundary errors (qbo.APIError,
// qbo.TransportError). A status of 0 means the request never got a response.
type statusCoder interface {
	HTTPStatus() int
}

// Classify maps err to a Kind. A *Error anywhere in the chain wins; otherwise
// the HTTP status of the nearest status-carrying error decides.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return classifyStatus(sc.HTTPStatus())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindConnectivity
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindConnectivity
	}

	return KindUnknown
}

// classifyStatus maps an HTTP status code to a Kind.
func classifyStatus(code int) Kind {
	switch {
	case code == 0:
		return KindConnectivity
	case code == http.StatusUnauthorized:
		return KindTokenExpired
	case code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return KindConnectivity
	default:
		return KindCustomerError
	}
}

// Retryable reports whether the retry policy engine may attempt the
// operation again after this error.
func Retryable(err error) bool {
	return Classify(err) == KindConnectivity
}

// Category maps err to one of the four user-facing categories.
// MissingDependency takes the category of its cause so that a bill blocked by
// a vendor validation error is not retried forever.
func Category(err error) string {
	if err == nil {
		return ""
	}

	switch Classify(err) {
	case KindTokenExpired, KindMissingConnection:
		return CategoryTokenExpired
	case KindCustomerError:
		return CategoryCustomerError
	case KindConnectivity, KindMaxRetriesExceeded:
		return CategoryConnectivity
	case KindMissingDependency:
		var se *Error
		if errors.As(err, &se) && se.Err != nil {
			return Category(se.Err)
		}

		return CategoryUnknown
	default:
		return CategoryUnknown
	}
}

// AutoRetryable reports whether the retry sweeper may re-enqueue a record
// whose persisted error category is category.
func AutoRetryable(category string) bool {
	return category != CategoryCustomerError && category != CategoryTokenExpired
}

// UserMessage renders a human message for a category, used by the trigger
// surface when the raw error text is not meant for end users.
func UserMessage(category string) string {
	switch category {
	case CategoryTokenExpired:
		return "The accounting connection has expired. Reconnect to continue syncing."
	case CategoryCustomerError:
		return "The accounting system rejected this record. Fix the record and retry."
	case CategoryConnectivity:
		return "The accounting system could not be reached. The sync will be retried."
	default:
		return "The sync failed unexpectedly. It will be retried."
	}
}
