package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so callers can branch on it instead of matching messages.
type Kind int

const (
	// KindUnknown is reported for errors that did not originate from this module.
	KindUnknown Kind = iota
	// KindUnauthorized means a missing, invalid or expired token or app secret.
	KindUnauthorized
	// KindBadRequest means malformed parameters; retrying the same request cannot succeed.
	KindBadRequest
	// KindIO means the local source file could not be opened or read.
	KindIO
	// KindTransport covers network failures and non-2xx responses.
	KindTransport
	// KindStoreInconsistency means a success response lacked a value it must carry, e.g. an ETag.
	KindStoreInconsistency
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindBadRequest:
		return "bad request"
	case KindIO:
		return "io"
	case KindTransport:
		return "transport"
	case KindStoreInconsistency:
		return "store inconsistency"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
	ErrIO           = errors.New("io failure")
	ErrTransport    = errors.New("transport failure")
)

// Error is a classified failure of a single operation.
type Error struct {
	Op         string
	Kind       Kind
	StatusCode int
	Err        error
}

// NewError ...
func NewError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels. A store inconsistency is reported as a transport failure.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized
	case ErrBadRequest:
		return e.Kind == KindBadRequest
	case ErrIO:
		return e.Kind == KindIO
	case ErrTransport:
		return e.Kind == KindTransport || e.Kind == KindStoreInconsistency
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// Retryable reports whether repeating the failed operation may succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindUnauthorized, KindBadRequest, KindIO:
		return false
	default:
		return true
	}
}

// KindForStatus maps an HTTP status code of a failed response to a kind.
func KindForStatus(statusCode int) Kind {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindUnauthorized
	case http.StatusBadRequest:
		return KindBadRequest
	default:
		return KindTransport
	}
}

// StatusForKind maps a kind to the HTTP status the coordinator answers with.
func StatusForKind(kind Kind) int {
	switch kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindBadRequest:
		return http.StatusBadRequest
	case KindTransport, KindStoreInconsistency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
