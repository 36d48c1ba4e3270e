// Package errs defines the closed set of error kinds Marlin's components
// recover to HTTP status codes per the error handling design in spec.md §7.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error kinds enumerated in spec.md §7.
type Kind string

const (
	ConfigInvalid         Kind = "ConfigInvalid"
	PortUnavailable       Kind = "PortUnavailable"
	PrefixConflict        Kind = "PrefixConflict"
	AlreadyRegistered     Kind = "AlreadyRegistered"
	NotConfigured         Kind = "NotConfigured"
	HasSubsites           Kind = "HasSubsites"
	NotFound              Kind = "NotFound"
	AuthRequired          Kind = "AuthRequired"
	AuthFailed            Kind = "AuthFailed"
	MethodNotAllowed      Kind = "MethodNotAllowed"
	UnsupportedMediaType  Kind = "UnsupportedMediaType"
	BadRequest            Kind = "BadRequest"
	HandlerFault          Kind = "HandlerFault"
	StreamGone            Kind = "StreamGone"
	Timeout               Kind = "Timeout"
	BackendUnavailable    Kind = "BackendUnavailable"
	Unknown               Kind = "Unknown"
)

// statusByKind maps each recoverable kind to the HTTP status it produces.
// ConfigInvalid/PortUnavailable/PrefixConflict are startup-time failures
// with no HTTP status of their own (they prevent a site from starting).
var statusByKind = map[Kind]int{
	NotFound:             http.StatusNotFound,
	AuthRequired:         http.StatusUnauthorized,
	AuthFailed:           http.StatusUnauthorized,
	MethodNotAllowed:     http.StatusMethodNotAllowed,
	UnsupportedMediaType: http.StatusUnsupportedMediaType,
	BadRequest:           http.StatusBadRequest,
	HandlerFault:         http.StatusInternalServerError,
	Timeout:              http.StatusGatewayTimeout,
	BackendUnavailable:   http.StatusBadGateway,
	Unknown:              http.StatusInternalServerError,
}

// Error is a Marlin error: a kind plus an opaque operator-facing message.
// Callers writing an HTTP response from an *Error use Status(err) for the
// code and a fixed phrase for the body; Message/Internal are for logs only.
type Error struct {
	K        Kind
	Message  string
	Internal error
}

func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s: %v", e.K, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.K, e.Message)
}

func (e *Error) Unwrap() error { return e.Internal }

// Is makes errors.Is match by kind against an *Error target, so
// errors.Is(err, errs.Sentinel(errs.NotFound)) holds for every NotFound
// error whatever its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.K == t.K
}

// New constructs an *Error of the given kind.
func New(k Kind, message string) *Error {
	return &Error{K: k, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping an underlying cause.
func Wrap(k Kind, message string, cause error) *Error {
	return &Error{K: k, Message: message, Internal: cause}
}

// Sentinel returns a zero-message *Error of kind k, suitable as the
// target of errors.Is(err, errs.Sentinel(errs.NotFound)).
func Sentinel(k Kind) *Error { return &Error{K: k} }

// Status returns the HTTP status code an error recovers to. Errors whose
// kind has no HTTP mapping (startup-time kinds), and errors that are not
// an *Error, return 500.
func Status(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if s, ok := statusByKind[e.K]; ok {
			return s
		}
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// KindOf extracts the Kind of err, or Unknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.K
	}
	return Unknown
}
