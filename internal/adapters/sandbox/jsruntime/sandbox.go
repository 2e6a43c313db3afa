// Package jsruntime runs caller fragments in an isolated goja runtime. Each
// run gets a fresh runtime whose only reach into the host is the session's
// controller and a fixed capability table.
package jsruntime

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/bnema/rexd/internal/domain"
	"github.com/bnema/rexd/internal/ports"
)

var _ ports.Sandbox = (*Sandbox)(nil)

var errInterrupted = errors.New("execution interrupted")

type Sandbox struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Sandbox {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sandbox{logger: logger.Named("fragment")}
}

// Run executes job.Code as the body of an async function. Whatever the
// fragment does, Run returns either a result or an *domain.ExecutionError.
func (s *Sandbox) Run(ctx context.Context, job ports.SandboxJob) (result domain.Result, err error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	r := newRun(ctx, vm, job, s.logger.With(
		zap.String("scope_id", string(job.Session.ScopeID)),
		zap.String("job_id", string(job.Session.JobID)),
		zap.String("session_id", string(job.Session.SessionID)),
	))

	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("sandbox panicked", zap.Any("panic", recovered))
			result = domain.Result{}
			err = &domain.ExecutionError{Message: fmt.Sprintf("sandbox failure: %v", recovered)}
		}
	}()

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(errInterrupted)
	})
	defer stop()

	if err := r.install(); err != nil {
		return domain.Result{}, &domain.ExecutionError{Message: fmt.Sprintf("prepare sandbox: %v", err), Err: err}
	}

	value, err := vm.RunString(wrapFragment(job.Code))
	if err != nil {
		return domain.Result{}, r.executionError(err)
	}

	promise, ok := value.Export().(*goja.Promise)
	if !ok {
		return r.coerceResult(value), nil
	}

	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return r.coerceResult(promise.Result()), nil
	case goja.PromiseStateRejected:
		return domain.Result{}, r.errorFromValue(promise.Result())
	default:
		return domain.Result{}, &domain.ExecutionError{Message: "fragment never settled: it awaited a promise that nothing resolves"}
	}
}

func wrapFragment(code string) string {
	return "(async function() {\n" + code + "\n})()"
}

func (r *run) executionError(err error) error {
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return r.errorFromValue(exception.Value())
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		cause := r.ctx.Err()
		if cause == nil {
			cause = errInterrupted
		}
		return &domain.ExecutionError{Message: errInterrupted.Error(), Err: cause}
	}

	return &domain.ExecutionError{Message: err.Error(), Err: err}
}

// errorFromValue keeps the thrown message verbatim and, for errors raised by
// host functions, the underlying Go error.
func (r *run) errorFromValue(value goja.Value) error {
	execErr := &domain.ExecutionError{Message: describeThrown(value)}

	if obj, ok := value.(*goja.Object); ok {
		if inner := obj.Get("value"); inner != nil {
			if goErr, ok := inner.Export().(error); ok {
				execErr.Err = goErr
			}
		}
	}
	return execErr
}

func describeThrown(value goja.Value) string {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return "fragment threw " + fmt.Sprint(value)
	}
	if obj, ok := value.(*goja.Object); ok {
		if message := obj.Get("message"); message != nil && !goja.IsUndefined(message) {
			return message.String()
		}
	}
	return value.String()
}
