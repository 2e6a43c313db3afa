package application

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bnema/rexd/internal/domain"
	"github.com/bnema/rexd/internal/ports"
)

type ExecutionService struct {
	registry  *Registry
	lifecycle *LifecycleManager
	capture   *CaptureHook
	sandbox   ports.Sandbox
	clock     ports.Clock
	logger    *zap.Logger
	version   string
}

func NewExecutionService(registry *Registry, sandbox ports.Sandbox, clock ports.Clock, logger *zap.Logger, version string) *ExecutionService {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ExecutionService{
		registry:  registry,
		lifecycle: NewLifecycleManager(registry, logger),
		capture:   NewCaptureHook(logger),
		sandbox:   sandbox,
		clock:     clock,
		logger:    logger.Named("execute"),
		version:   version,
	}
}

// Execute runs one fragment against the session its metadata resolves to.
// Retention is applied on every path before the lease is released.
func (s *ExecutionService) Execute(ctx context.Context, req domain.ExecutionRequest) (result domain.Result, err error) {
	meta := req.Metadata
	lease, err := s.registry.Acquire(ctx, Query{
		Identity:          meta.Identity(),
		ExplicitSessionID: meta.ExplicitSessionID,
		WantsRetention:    req.Retention.KeepContext,
	})
	if err != nil {
		s.logger.Info("session resolution failed",
			zap.String("scope_id", string(meta.ScopeID)),
			zap.String("job_id", string(meta.JobID)),
			zap.String("explicit_session_id", string(meta.ExplicitSessionID)),
			zap.Error(err),
		)
		return domain.Result{}, err
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("execution panicked", zap.Any("panic", recovered))
			result = domain.Result{}
			err = &domain.ExecutionError{Message: fmt.Sprint(recovered)}
		}
		s.lifecycle.Apply(lease, req.Retention.Policy())
		lease.Release()
	}()

	job := ports.SandboxJob{
		Code:       req.Code,
		Inputs:     req.Inputs,
		Controller: lease.Controller,
		Session: domain.SessionView{
			SessionID:   lease.Session.ID(),
			ScopeID:     meta.ScopeID,
			ScopeName:   meta.ScopeName,
			JobID:       meta.JobID,
			CallerID:    meta.CallerID,
			CallerName:  meta.CallerName,
			KeepContext: req.Retention.KeepContext,
			KeepPages:   req.Retention.KeepPages,
			Persistent:  lease.Session.Persistent(),
			Reused:      lease.Reused,
			ContextName: meta.ExplicitContextName,
		},
		Contexts: NewSessionContexts(lease, s.clock, meta.ExplicitContextName),
	}

	result, err = s.sandbox.Run(ctx, job)
	if err != nil {
		fields := []zap.Field{
			zap.String("scope_id", string(meta.ScopeID)),
			zap.String("job_id", string(meta.JobID)),
			zap.String("session_id", string(lease.Session.ID())),
		}
		s.logger.Info("fragment failed", append(fields, zap.Error(err))...)
		if meta.AutoCapture {
			s.capture.LogPages(lease.Controller, fields...)
		}
		return domain.Result{}, err
	}

	if meta.AutoCapture {
		s.capture.Apply(lease.Controller, &result)
	}
	if req.Retention.KeepContext && lease.Session.ID() != "" {
		result.SessionID = lease.Session.ID()
	}
	return result, nil
}

func (s *ExecutionService) Health(context.Context) domain.Health {
	return domain.Health{
		Status:    domain.HealthStatusOK,
		Timestamp: s.clock.Now(),
		Version:   s.version,
		Sessions:  s.registry.Len(),
	}
}

func (s *ExecutionService) Sessions(context.Context) []domain.SessionInfo {
	return s.registry.Snapshot()
}

// Shutdown force-closes every session. Close failures are logged by the
// registry and returned joined.
func (s *ExecutionService) Shutdown() error {
	return s.registry.CloseAll()
}
