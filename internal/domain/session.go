package domain

import "time"

type ContextMetadata struct {
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// SessionInfo is a point-in-time snapshot of a registry entry.
type SessionInfo struct {
	ID            SessionID
	ScopeID       ScopeID
	JobID         JobID
	LastJobID     JobID
	Persistent    bool
	Live          bool
	Contexts      int
	Pages         int
	NamedContexts []string
	CreatedAt     time.Time
	LastUsedAt    time.Time
}

const HealthStatusOK = "ok"

type Health struct {
	Status    string
	Timestamp time.Time
	Version   string
	Sessions  int
}
