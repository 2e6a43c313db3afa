package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAuthentication   = errors.New("authentication failed")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionNotLive   = errors.New("session controller is not live")
	ErrMalformedResult  = errors.New("fragment returned a non-mapping result")
	ErrCapabilityDenied = errors.New("capability not permitted")
)

// ResolutionError reports an explicit session id that could not be used.
type ResolutionError struct {
	SessionID SessionID
	Err       error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve session %q: %v", e.SessionID, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// ExecutionError carries the message a fragment raised. Error returns the
// message verbatim so callers see exactly what the fragment threw.
type ExecutionError struct {
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	return e.Message
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

type CapabilityError struct {
	Name string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %q is not permitted in this sandbox", e.Name)
}

func (e *CapabilityError) Is(target error) bool {
	return target == ErrCapabilityDenied
}
