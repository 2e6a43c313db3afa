package application

import (
	"go.uber.org/zap"

	"github.com/bnema/rexd/internal/domain"
)

// LifecycleManager applies the retention policy after every execution
// attempt. It runs while the caller still holds the lease.
type LifecycleManager struct {
	registry *Registry
	logger   *zap.Logger
}

func NewLifecycleManager(registry *Registry, logger *zap.Logger) *LifecycleManager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LifecycleManager{registry: registry, logger: logger.Named("lifecycle")}
}

// Apply returns the policy that was actually applied. Ephemeral sessions are
// always torn down.
func (m *LifecycleManager) Apply(lease *Lease, policy domain.RetentionPolicy) domain.RetentionPolicy {
	session := lease.Session
	if !session.Persistent() || !policy.Valid() {
		policy = domain.PolicyKeepNothing
	}

	switch policy {
	case domain.PolicyKeepNothing:
		m.closeContexts(lease)
		_ = m.registry.Evict(session)
	case domain.PolicyKeepScope:
		m.closePages(lease)
	case domain.PolicyKeepAll:
	}

	if policy != domain.PolicyKeepNothing {
		session.refreshBookkeeping(lease.Controller)
	}

	m.logger.Debug("retention applied",
		zap.String("session_id", string(session.ID())),
		zap.String("scope_id", string(session.ScopeID())),
		zap.String("policy", string(policy)),
	)
	return policy
}

func (m *LifecycleManager) closePages(lease *Lease) {
	if lease.Controller == nil || !lease.Controller.IsConnected() {
		return
	}
	for _, bc := range lease.Controller.Contexts() {
		for _, page := range bc.Pages() {
			if err := page.Close(); err != nil {
				m.logger.Warn("close page", zap.String("session_id", string(lease.Session.ID())), zap.Error(err))
			}
		}
	}
}

func (m *LifecycleManager) closeContexts(lease *Lease) {
	if lease.Controller == nil || !lease.Controller.IsConnected() {
		return
	}
	m.closePages(lease)
	for _, bc := range lease.Controller.Contexts() {
		if err := bc.Close(); err != nil {
			m.logger.Warn("close context", zap.String("session_id", string(lease.Session.ID())), zap.Error(err))
		}
	}
}
