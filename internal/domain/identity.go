package domain

type SessionID string
type ScopeID string
type JobID string

// Identity is the two-level key sessions are resolved by.
type Identity struct {
	ScopeID ScopeID
	JobID   JobID
}
