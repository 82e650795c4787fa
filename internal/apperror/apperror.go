// Package apperror defines the tagged failure kinds surfaced by the
// synchronization core. Every failing operation returns exactly one *Error
// whose Kind callers can branch on with errors.Is against the sentinels below
// or by reading KindOf.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindUnauthenticated     Kind = "unauthenticated"
	KindDependencyMissing   Kind = "dependency_missing"
	KindLocationUnavailable Kind = "location_unavailable"
	KindTransportFailure    Kind = "transport_failure"
	KindServerRejected      Kind = "server_rejected"
	KindMalformedResponse   Kind = "malformed_response"
	KindStoreFailure        Kind = "store_failure"
	// KindInvalidInput is caller input rejected before the pipeline starts.
	KindInvalidInput        Kind = "invalid_input"
)

// Sentinels matched by errors.Is for each kind.
var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrDependencyMissing   = errors.New("dependency missing")
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrTransportFailure    = errors.New("transport failure")
	ErrServerRejected      = errors.New("server rejected")
	ErrMalformedResponse   = errors.New("malformed response")
	ErrStoreFailure        = errors.New("store failure")
	ErrInvalidInput        = errors.New("invalid input")
)

var sentinels = map[Kind]error{
	KindUnauthenticated:     ErrUnauthenticated,
	KindDependencyMissing:   ErrDependencyMissing,
	KindLocationUnavailable: ErrLocationUnavailable,
	KindTransportFailure:    ErrTransportFailure,
	KindServerRejected:      ErrServerRejected,
	KindMalformedResponse:   ErrMalformedResponse,
	KindStoreFailure:        ErrStoreFailure,
	KindInvalidInput:        ErrInvalidInput,
}

// Error is a structured failure: kind, human-readable message and optional
// detail from the remote side.
type Error struct {
	Kind    Kind
	Message string // safe to show to users
	Status  int    // upstream HTTP status, when one was received
	Payload map[string]any
	Stage   string // pipeline stage reached when the failure occurred
	Err     error  // underlying cause
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s, ok := sentinels[e.Kind]; ok {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// New builds an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap builds an *Error of the given kind around cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func Unauthenticated(msg string) *Error { return New(KindUnauthenticated, msg) }

func DependencyMissing(what string) *Error {
	return New(KindDependencyMissing, what+" is not available")
}

func LocationUnavailable(msg string, cause error) *Error {
	return Wrap(KindLocationUnavailable, msg, cause)
}

func StoreFailure(op string, cause error) *Error {
	return Wrap(KindStoreFailure, "document store "+op+" failed", cause)
}

// InvalidInput tags a validation error. cause stays reachable through
// errors.Is.
func InvalidInput(cause error) *Error {
	return Wrap(KindInvalidInput, cause.Error(), cause)
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns the kind carried by err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return ""
}
