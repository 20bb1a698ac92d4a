package auth

import (
	"errors"
	"fmt"
)

// ErrInvalidCredentials marks a login rejected by the identity provider,
// as opposed to the provider being unreachable or misbehaving. Callers can
// use errors.Is to decide between re-prompting and retrying.
var ErrInvalidCredentials = errors.New("invalid username or password")

// ProviderUnavailableError indicates the OIDC discovery endpoint could not
// be reached or returned a non-2xx status.
type ProviderUnavailableError struct {
	Status int
	Err    error
}

func (e *ProviderUnavailableError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("identity provider unavailable (status %d)", e.Status)
	case e.Err != nil:
		return fmt.Sprintf("identity provider unavailable: %v", e.Err)
	default:
		return "identity provider unavailable"
	}
}

func (e *ProviderUnavailableError) Unwrap() error {
	return e.Err
}

// Error is a generic token-flow failure, optionally carrying the HTTP
// status of the failing provider call.
type Error struct {
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}
