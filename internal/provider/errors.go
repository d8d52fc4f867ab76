package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind tells the orchestrator how to react to a failed call.
type Kind int

const (
	// KindTransient failures may succeed when retried: rate limits,
	// timeouts, overloaded or unreachable service.
	KindTransient Kind = iota + 1
	// KindAuth means the credential was rejected.
	KindAuth
	// KindInvalid means the request itself was rejected.
	KindInvalid
	// KindBlocked means the service refused to produce content.
	KindBlocked
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindInvalid:
		return "invalid"
	case KindBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind   Kind
	Status int // HTTP status when known
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s (%d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(err error) error { return &Error{Kind: KindTransient, Err: err} }

// Auth wraps err as a credential failure.
func Auth(err error) error { return &Error{Kind: KindAuth, Err: err} }

// Invalid wraps err as a non-retryable request failure.
func Invalid(err error) error { return &Error{Kind: KindInvalid, Err: err} }

// Blocked wraps err as a content refusal.
func Blocked(err error) error { return &Error{Kind: KindBlocked, Err: err} }

// FromStatus classifies an HTTP status code.
func FromStatus(status int, err error) error {
	kind := KindInvalid
	switch {
	case status == 401 || status == 403:
		kind = KindAuth
	case status == 408 || status == 429 || status >= 500:
		kind = KindTransient
	}
	return &Error{Kind: kind, Status: status, Err: err}
}

// KindOf returns the kind of err. Unclassified network timeouts are
// transient; anything else unclassified is invalid.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return KindTransient
	}
	return KindInvalid
}

// IsTransient reports whether retrying err may help.
func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// IsAuth reports whether err means the credential was rejected.
func IsAuth(err error) bool {
	return err != nil && KindOf(err) == KindAuth
}
