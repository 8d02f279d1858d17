package analysis

import (
	"errors"
	"fmt"
)

// Kind classifies an analysis failure.
type Kind string

const (
	KindMissingCredential Kind = "missing_credential"
	KindUpstream          Kind = "upstream"
	KindTimeout           Kind = "timeout"
	KindRateLimited       Kind = "rate_limited"
	KindEmptyResponse     Kind = "empty_response"
)

// Error is a typed analysis failure. Reason is meant for humans and ends up
// in the delivered alert in place of the analysis text.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("analysis failed (%s): %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrMissingCredential) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// ErrMissingCredential is returned when no endpoint has an API key.
var ErrMissingCredential = &Error{Kind: KindMissingCredential, Reason: "no API key configured"}

// KindOf returns the Kind of err, or KindUpstream for untyped errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUpstream
}
