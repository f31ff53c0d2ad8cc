package cloak

import (
	"errors"
	"net/http"
)

// ErrUnresolvable is returned by Resolve when a reference cannot be turned
// into an absolute URL.
var ErrUnresolvable = errors.New("unresolvable url reference")

// ValidationError rejects a request before any network call is made.
type ValidationError struct {
	Status int
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func badRequest(reason string) *ValidationError {
	return &ValidationError{Status: http.StatusBadRequest, Reason: reason}
}

func domainNotAllowed(host string) *ValidationError {
	return &ValidationError{Status: http.StatusForbidden, Reason: "Domain not allowed: " + host}
}

// FetchError is a transport-level failure talking to the target. HTTP error
// statuses from the target are not FetchErrors.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return "error fetching site: " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
