package application

import (
	"sync"
	"time"

	"github.com/bnema/rexd/internal/domain"
	"github.com/bnema/rexd/internal/ports"
)

// Session binds an identity to one controller. The exec mutex is held by a
// Lease from resolution until retention has been applied.
type Session struct {
	exec sync.Mutex

	id         domain.SessionID
	scopeID    domain.ScopeID
	jobID      domain.JobID
	persistent bool
	createdAt  time.Time

	// guarded by Registry.mu
	controller ports.Controller
	lastJobID  domain.JobID
	lastUsedAt time.Time
	evicted    bool

	book          sync.Mutex
	primary       ports.BrowsingContext
	namedContexts map[string]ports.BrowsingContext
	contextMeta   map[string]domain.ContextMetadata

	closeOnce sync.Once
	closeErr  error
}

func newSession(id domain.SessionID, scopeID domain.ScopeID, jobID domain.JobID, persistent bool, now time.Time) *Session {
	return &Session{
		id:            id,
		scopeID:       scopeID,
		jobID:         jobID,
		persistent:    persistent,
		createdAt:     now,
		lastJobID:     jobID,
		lastUsedAt:    now,
		namedContexts: map[string]ports.BrowsingContext{},
		contextMeta:   map[string]domain.ContextMetadata{},
	}
}

// ID is empty for ephemeral sessions.
func (s *Session) ID() domain.SessionID {
	return s.id
}

func (s *Session) ScopeID() domain.ScopeID {
	return s.scopeID
}

// Identity is the (scope, job) pair the session was created for.
func (s *Session) Identity() domain.Identity {
	return domain.Identity{ScopeID: s.scopeID, JobID: s.jobID}
}

func (s *Session) JobID() domain.JobID {
	return s.jobID
}

func (s *Session) Persistent() bool {
	return s.persistent
}

// closeController closes the controller at most once, whichever path gets
// there first.
func (s *Session) closeController(controller ports.Controller) error {
	if controller == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closeErr = controller.Close()
	})
	return s.closeErr
}

func (s *Session) primaryContext() ports.BrowsingContext {
	s.book.Lock()
	defer s.book.Unlock()
	return s.primary
}

func (s *Session) setPrimary(bc ports.BrowsingContext) {
	s.book.Lock()
	s.primary = bc
	s.book.Unlock()
}

func (s *Session) namedContextNames() []string {
	s.book.Lock()
	defer s.book.Unlock()

	names := make([]string, 0, len(s.namedContexts))
	for name, bc := range s.namedContexts {
		if !bc.IsClosed() {
			names = append(names, name)
		}
	}
	return names
}

// refreshBookkeeping points primary at the first live context and forgets
// named contexts whose backing resource is gone.
func (s *Session) refreshBookkeeping(controller ports.Controller) {
	var first ports.BrowsingContext
	if controller != nil && controller.IsConnected() {
		for _, bc := range controller.Contexts() {
			if !bc.IsClosed() {
				first = bc
				break
			}
		}
	}

	s.book.Lock()
	defer s.book.Unlock()

	s.primary = first
	for name, bc := range s.namedContexts {
		if bc.IsClosed() {
			delete(s.namedContexts, name)
			delete(s.contextMeta, name)
		}
	}
}
