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

// run is the state of one fragment execution. goja runtimes are not safe for
// concurrent use, so a run never outlives its Run call.
type run struct {
	ctx    context.Context
	vm     *goja.Runtime
	job    ports.SandboxJob
	logger *zap.Logger

	modules  map[string]goja.Value
	contexts map[ports.BrowsingContext]*goja.Object
	pages    map[ports.Page]*goja.Object
}

func newRun(ctx context.Context, vm *goja.Runtime, job ports.SandboxJob, logger *zap.Logger) *run {
	return &run{
		ctx:      ctx,
		vm:       vm,
		job:      job,
		logger:   logger,
		modules:  map[string]goja.Value{},
		contexts: map[ports.BrowsingContext]*goja.Object{},
		pages:    map[ports.Page]*goja.Object{},
	}
}

func (r *run) install() error {
	session, err := r.sessionObject()
	if err != nil {
		return err
	}

	inputs := make([]any, 0, len(r.job.Inputs))
	for _, batch := range r.job.Inputs {
		inputs = append(inputs, r.batchValue(batch))
	}
	items := r.vm.NewArray()
	if len(r.job.Inputs) > 0 {
		items = r.batchValue(r.job.Inputs[0])
	}

	globals := []struct {
		name  string
		value any
	}{
		{"browser", r.require("browser")},
		{"session", session},
		{"inputs", r.vm.NewArray(inputs...)},
		{"items", items},
		{"require", r.require},
		{"console", r.consoleObject()},
	}
	for _, global := range globals {
		if err := r.vm.Set(global.name, global.value); err != nil {
			return fmt.Errorf("set global %s: %w", global.name, err)
		}
	}
	return nil
}

// require is the only way a fragment reaches host functionality.
func (r *run) require(name string) goja.Value {
	if module, ok := r.modules[name]; ok {
		return module
	}

	load, ok := capabilities[name]
	if !ok {
		panic(r.vm.NewGoError(&domain.CapabilityError{Name: name}))
	}
	module := load(r)
	r.modules[name] = module
	return module
}

func (r *run) sessionObject() (*goja.Object, error) {
	view := r.job.Session
	obj := r.vm.NewObject()

	var sessionID any
	if view.SessionID != "" {
		sessionID = string(view.SessionID)
	}
	fields := []struct {
		name  string
		value any
	}{
		{"sessionId", sessionID},
		{"scopeId", string(view.ScopeID)},
		{"scopeName", view.ScopeName},
		{"jobId", string(view.JobID)},
		{"callerId", view.CallerID},
		{"callerName", view.CallerName},
		{"keepContext", view.KeepContext},
		{"keepPages", view.KeepPages},
		{"persistent", view.Persistent},
		{"reused", view.Reused},
		{"contextName", view.ContextName},
	}
	for _, field := range fields {
		if err := obj.Set(field.name, field.value); err != nil {
			return nil, err
		}
	}

	freeze, ok := goja.AssertFunction(r.vm.Get("Object").ToObject(r.vm).Get("freeze"))
	if !ok {
		return nil, errors.New("freeze is not callable")
	}
	if _, err := freeze(goja.Undefined(), obj); err != nil {
		return nil, fmt.Errorf("freeze session: %w", err)
	}
	return obj, nil
}

func (r *run) batchValue(batch domain.Batch) *goja.Object {
	items := make([]any, 0, len(batch))
	for _, record := range batch {
		item := r.vm.NewObject()
		_ = item.Set("data", r.toJS(mapOrEmpty(record.Data)))
		_ = item.Set("attachments", r.toJS(mapOrEmpty(record.Attachments)))
		items = append(items, item)
	}
	return r.vm.NewArray(items...)
}

func (r *run) consoleObject() *goja.Object {
	console := r.vm.NewObject()
	levels := map[string]func(string, ...zap.Field){
		"log":   r.logger.Info,
		"info":  r.logger.Info,
		"debug": r.logger.Debug,
		"warn":  r.logger.Warn,
		"error": r.logger.Error,
	}
	for name, logFn := range levels {
		_ = console.Set(name, func(call goja.FunctionCall) goja.Value {
			logFn(r.format(call.Arguments))
			return goja.Undefined()
		})
	}
	return console
}

func mapOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
