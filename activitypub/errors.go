package activitypub

import (
	"errors"
	"fmt"
)

var (
	// ErrCircularReference signals that a resolution chain tried to
	// dereference a URI it already consumed.
	ErrCircularReference = errors.New("circular reference")

	// ErrFragmentNotFound signals that a fragment URI resolved its base
	// document but no node in it carried the fragment id.
	ErrFragmentNotFound = errors.New("fragment not found")

	// ErrTypeNotAllowed signals that an activity or object does not
	// match the supported vocabulary at the current dispatch point. The
	// inbox processor filters it out instead of failing the batch.
	ErrTypeNotAllowed = errors.New("type not allowed")

	// ErrNotFound signals that a required entity (actor, note, inbox,
	// key) is absent.
	ErrNotFound = errors.New("not found")
)

// IdentityMismatchError is returned when a fetched document declares an
// id that disagrees with the URI used to fetch it, or when an
// activity's claimed actor disagrees with the authenticated caller.
type IdentityMismatchError struct {
	Expected string
	Got      string
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("identity mismatch: expected %q, got %q", e.Expected, e.Got)
}

// TransportError wraps a failed outbound HTTP operation. Temporary
// marks it retry-eligible: network-level failures and a handful of
// status codes that signal overload rather than rejection.
type TransportError struct {
	URI        string
	StatusCode int // 0 for network-level failures
	Temporary  bool
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport error for %s: status %d", e.URI, e.StatusCode)
	}
	return fmt.Sprintf("transport error for %s: %v", e.URI, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTemporary reports whether err (anywhere in its chain) is a
// retry-eligible transport failure.
func IsTemporary(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Temporary
	}
	return false
}
