package domain

import (
	"errors"
	"strings"
)

type RetentionPolicy string

const (
	PolicyKeepNothing RetentionPolicy = "keep_nothing"
	PolicyKeepScope   RetentionPolicy = "keep_scope"
	PolicyKeepAll     RetentionPolicy = "keep_all"
)

func (p RetentionPolicy) Valid() bool {
	switch p {
	case PolicyKeepNothing, PolicyKeepScope, PolicyKeepAll:
		return true
	default:
		return false
	}
}

// Retention is derived once from the caller's flags. Keeping pages always
// keeps the context that owns them.
type Retention struct {
	KeepContext bool
	KeepPages   bool
}

func NewRetention(wantsContext, wantsPages bool) Retention {
	return Retention{
		KeepContext: wantsContext || wantsPages,
		KeepPages:   wantsPages,
	}
}

func (r Retention) Policy() RetentionPolicy {
	switch {
	case r.KeepPages:
		return PolicyKeepAll
	case r.KeepContext:
		return PolicyKeepScope
	default:
		return PolicyKeepNothing
	}
}

type ExecutionMetadata struct {
	ScopeID                 ScopeID
	ScopeName               string
	JobID                   JobID
	CallerID                string
	CallerName              string
	WantsRetentionOfContext bool
	WantsRetentionOfPages   bool
	ExplicitSessionID       SessionID
	ExplicitContextName     string
	AutoCapture             bool
}

func (m ExecutionMetadata) Identity() Identity {
	return Identity{ScopeID: m.ScopeID, JobID: m.JobID}
}

type ExecutionRequest struct {
	Code      string
	Inputs    []Batch
	Metadata  ExecutionMetadata
	Retention Retention
}

var ErrEmptyCode = errors.New("code is required")

func NewExecutionRequest(code string, inputs []Batch, metadata ExecutionMetadata) (ExecutionRequest, error) {
	if strings.TrimSpace(code) == "" {
		return ExecutionRequest{}, ErrEmptyCode
	}

	metadata.ScopeID = ScopeID(strings.TrimSpace(string(metadata.ScopeID)))
	metadata.JobID = JobID(strings.TrimSpace(string(metadata.JobID)))
	metadata.ExplicitSessionID = SessionID(strings.TrimSpace(string(metadata.ExplicitSessionID)))
	metadata.ExplicitContextName = strings.TrimSpace(metadata.ExplicitContextName)

	return ExecutionRequest{
		Code:      code,
		Inputs:    inputs,
		Metadata:  metadata,
		Retention: NewRetention(metadata.WantsRetentionOfContext, metadata.WantsRetentionOfPages),
	}, nil
}

// SessionView is the read-only description of a session handed to a running
// fragment.
type SessionView struct {
	SessionID   SessionID
	ScopeID     ScopeID
	ScopeName   string
	JobID       JobID
	CallerID    string
	CallerName  string
	KeepContext bool
	KeepPages   bool
	Persistent  bool
	Reused      bool
	ContextName string
}
