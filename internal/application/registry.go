package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/bnema/rexd/internal/domain"
	"github.com/bnema/rexd/internal/ports"
)

var ErrRegistryClosed = errors.New("session registry is closed")

// Query is the input of session resolution.
type Query struct {
	domain.Identity
	ExplicitSessionID domain.SessionID
	WantsRetention    bool
}

// Registry owns every live session of the process. It is constructed once at
// startup and shared by all connection handlers.
type Registry struct {
	factory ports.ControllerFactory
	clock   ports.Clock
	logger  *zap.Logger
	newID   func() domain.SessionID

	mu       sync.Mutex
	sessions []*Session
	byID     map[domain.SessionID]*Session
	closed   bool
}

func NewRegistry(factory ports.ControllerFactory, clock ports.Clock, logger *zap.Logger) *Registry {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		factory: factory,
		clock:   clock,
		logger:  logger.Named("registry"),
		newID:   func() domain.SessionID { return domain.SessionID(uuid.NewString()) },
		byID:    map[domain.SessionID]*Session{},
	}
}

// Lease is exclusive access to a resolved session. Release must be called
// once retention has been applied.
type Lease struct {
	Session    *Session
	Controller ports.Controller
	Reused     bool

	releaseOnce sync.Once
}

func (l *Lease) Release() {
	l.releaseOnce.Do(l.Session.exec.Unlock)
}

// Acquire resolves q to a session and locks it. A resolver that wakes up on a
// session evicted while it waited starts over, except for explicit ids which
// never fall back to another session.
func (r *Registry) Acquire(ctx context.Context, q Query) (*Lease, error) {
	for {
		session, created, err := r.resolve(q)
		if err != nil {
			return nil, err
		}

		if created {
			controller, err := r.launch(ctx, session)
			if err != nil {
				session.exec.Unlock()
				return nil, err
			}
			return &Lease{Session: session, Controller: controller}, nil
		}

		session.exec.Lock()
		controller, err := r.revalidate(session, q)
		if err != nil {
			session.exec.Unlock()
			return nil, err
		}
		if controller == nil {
			session.exec.Unlock()
			continue
		}
		return &Lease{Session: session, Controller: controller, Reused: true}, nil
	}
}

// resolve returns an existing candidate, or a new session that is already
// inserted and locked by the caller.
func (r *Registry) resolve(q Query) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false, ErrRegistryClosed
	}

	if q.ExplicitSessionID != "" {
		session, ok := r.byID[q.ExplicitSessionID]
		if !ok {
			return nil, false, &domain.ResolutionError{SessionID: q.ExplicitSessionID, Err: domain.ErrSessionNotFound}
		}
		if !liveOrPending(session) {
			r.discardLocked(session)
			return nil, false, &domain.ResolutionError{SessionID: q.ExplicitSessionID, Err: domain.ErrSessionNotLive}
		}
		return session, false, nil
	}

	for _, session := range slices.Clone(r.sessions) {
		if !liveOrPending(session) {
			r.discardLocked(session)
		}
	}

	for _, session := range r.sessions {
		if session.Identity() == q.Identity && liveOrPending(session) {
			return session, false, nil
		}
	}

	if q.WantsRetention {
		for _, session := range r.sessions {
			if session.persistent && session.scopeID == q.ScopeID && liveOrPending(session) {
				return session, false, nil
			}
		}
	}

	var id domain.SessionID
	if q.WantsRetention {
		id = r.newID()
	}
	session := newSession(id, q.ScopeID, q.JobID, q.WantsRetention, r.clock.Now())
	session.exec.Lock()
	r.sessions = append(r.sessions, session)
	if id != "" {
		r.byID[id] = session
	}
	return session, true, nil
}

// launch runs without the registry lock; only the new session is held.
func (r *Registry) launch(ctx context.Context, session *Session) (ports.Controller, error) {
	controller, err := r.factory.Launch(ctx)
	if err != nil {
		r.mu.Lock()
		r.evictLocked(session)
		r.mu.Unlock()
		return nil, fmt.Errorf("launch controller: %w", err)
	}

	r.mu.Lock()
	evicted := session.evicted
	if !evicted {
		session.controller = controller
	}
	r.mu.Unlock()

	if evicted {
		if closeErr := session.closeController(controller); closeErr != nil {
			r.logger.Warn("close controller launched during shutdown", zap.Error(closeErr))
		}
		return nil, ErrRegistryClosed
	}

	r.logger.Info("session created",
		zap.String("session_id", string(session.id)),
		zap.String("scope_id", string(session.scopeID)),
		zap.String("job_id", string(session.jobID)),
		zap.Bool("persistent", session.persistent),
	)
	return controller, nil
}

// revalidate runs with the session locked. A nil controller without error
// means resolution has to start over.
func (r *Registry) revalidate(session *Session, q Query) (ports.Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session.evicted {
		if q.ExplicitSessionID != "" {
			return nil, &domain.ResolutionError{SessionID: q.ExplicitSessionID, Err: domain.ErrSessionNotFound}
		}
		return nil, nil
	}
	if session.controller == nil || !session.controller.IsConnected() {
		r.discardLocked(session)
		if q.ExplicitSessionID != "" {
			return nil, &domain.ResolutionError{SessionID: q.ExplicitSessionID, Err: domain.ErrSessionNotLive}
		}
		return nil, nil
	}

	if q.JobID != "" {
		session.lastJobID = q.JobID
	}
	session.lastUsedAt = r.clock.Now()
	return session.controller, nil
}

func liveOrPending(session *Session) bool {
	return session.controller == nil || session.controller.IsConnected()
}

func (r *Registry) evictLocked(session *Session) {
	if session.evicted {
		return
	}
	session.evicted = true
	r.sessions = slices.DeleteFunc(r.sessions, func(s *Session) bool { return s == session })
	if session.id != "" {
		delete(r.byID, session.id)
	}
}

// discardLocked evicts a dead session and closes what is left of its
// controller in the background.
func (r *Registry) discardLocked(session *Session) {
	r.evictLocked(session)
	controller := session.controller
	go func() {
		if err := session.closeController(controller); err != nil {
			r.logger.Warn("close dead controller", zap.String("session_id", string(session.id)), zap.Error(err))
		}
	}()
	r.logger.Info("dead session evicted", zap.String("session_id", string(session.id)))
}

// Evict removes the session and closes its controller. Close failures are
// logged and returned.
func (r *Registry) Evict(session *Session) error {
	r.mu.Lock()
	r.evictLocked(session)
	controller := session.controller
	r.mu.Unlock()

	if err := session.closeController(controller); err != nil {
		r.logger.Warn("close controller", zap.String("session_id", string(session.id)), zap.Error(err))
		return fmt.Errorf("close controller: %w", err)
	}
	return nil
}

// Lookup finds the session registered for an exact identity.
func (r *Registry) Lookup(identity domain.Identity) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, session := range r.sessions {
		if session.Identity() == identity {
			return session, true
		}
	}
	return nil, false
}

func (r *Registry) Get(id domain.SessionID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.byID[id]
	return session, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) Snapshot() []domain.SessionInfo {
	type entry struct {
		session    *Session
		controller ports.Controller
		info       domain.SessionInfo
	}

	r.mu.Lock()
	entries := make([]entry, 0, len(r.sessions))
	for _, session := range r.sessions {
		entries = append(entries, entry{
			session:    session,
			controller: session.controller,
			info: domain.SessionInfo{
				ID:         session.id,
				ScopeID:    session.scopeID,
				JobID:      session.jobID,
				LastJobID:  session.lastJobID,
				Persistent: session.persistent,
				CreatedAt:  session.createdAt,
				LastUsedAt: session.lastUsedAt,
			},
		})
	}
	r.mu.Unlock()

	infos := make([]domain.SessionInfo, 0, len(entries))
	for _, e := range entries {
		info := e.info
		if e.controller != nil && e.controller.IsConnected() {
			info.Live = true
			contexts := e.controller.Contexts()
			info.Contexts = len(contexts)
			for _, bc := range contexts {
				info.Pages += len(bc.Pages())
			}
		}
		info.NamedContexts = e.session.namedContextNames()
		slices.Sort(info.NamedContexts)
		infos = append(infos, info)
	}
	return infos
}

// CloseAll evicts every session and closes the controllers in parallel
// without waiting for in-flight executions. Later Acquire calls fail.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	r.closed = true
	sessions := r.sessions
	r.sessions = nil
	r.byID = map[domain.SessionID]*Session{}
	controllers := make([]ports.Controller, len(sessions))
	for i, session := range sessions {
		session.evicted = true
		controllers[i] = session.controller
	}
	r.mu.Unlock()

	p := pool.New().WithErrors()
	for i, session := range sessions {
		controller := controllers[i]
		p.Go(func() error {
			if err := session.closeController(controller); err != nil {
				r.logger.Warn("close controller on shutdown", zap.String("session_id", string(session.id)), zap.Error(err))
				return err
			}
			return nil
		})
	}
	err := p.Wait()

	r.logger.Info("registry closed", zap.Int("sessions", len(sessions)))
	return err
}
