package jsruntime

import (
	"errors"

	"github.com/dop251/goja"

	"github.com/bnema/rexd/internal/ports"
)

var errNoContexts = errors.New("named contexts are not available in this session")

func (r *run) controllerModule() goja.Value {
	controller := r.job.Controller
	obj := r.vm.NewObject()

	_ = obj.Set("isConnected", func() bool {
		return controller != nil && controller.IsConnected()
	})
	_ = obj.Set("newContext", func() (goja.Value, error) {
		bc, err := controller.NewContext()
		if err != nil {
			return nil, err
		}
		return r.contextObject(bc), nil
	})
	_ = obj.Set("contexts", func() goja.Value {
		live := controller.Contexts()
		out := make([]any, 0, len(live))
		for _, bc := range live {
			out = append(out, r.contextObject(bc))
		}
		return r.vm.NewArray(out...)
	})
	_ = obj.Set("newPage", func() (goja.Value, error) {
		bc, err := r.acquireContext("", false)
		if err != nil {
			return nil, err
		}
		page, err := bc.NewPage()
		if err != nil {
			return nil, err
		}
		return r.pageObject(page), nil
	})
	return obj
}

func (r *run) contextsModule() goja.Value {
	obj := r.vm.NewObject()

	_ = obj.Set("acquire", func(call goja.FunctionCall) goja.Value {
		var name string
		if arg := call.Argument(0); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
			name = arg.String()
		}
		fresh := false
		if opts, ok := call.Argument(1).(*goja.Object); ok {
			fresh = opts.Get("fresh") != nil && opts.Get("fresh").ToBoolean()
		}

		bc, err := r.acquireContext(name, fresh)
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		return r.contextObject(bc)
	})
	_ = obj.Set("names", func() goja.Value {
		var names []any
		if r.job.Contexts != nil {
			for _, name := range r.job.Contexts.Names() {
				names = append(names, name)
			}
		}
		return r.vm.NewArray(names...)
	})
	return obj
}

func (r *run) acquireContext(name string, fresh bool) (ports.BrowsingContext, error) {
	if r.job.Contexts == nil {
		return nil, errNoContexts
	}
	return r.job.Contexts.Acquire(name, fresh)
}

func (r *run) contextObject(bc ports.BrowsingContext) *goja.Object {
	if obj, ok := r.contexts[bc]; ok {
		return obj
	}

	obj := r.vm.NewObject()
	_ = obj.Set("newPage", func() (goja.Value, error) {
		page, err := bc.NewPage()
		if err != nil {
			return nil, err
		}
		return r.pageObject(page), nil
	})
	_ = obj.Set("pages", func() goja.Value {
		open := bc.Pages()
		out := make([]any, 0, len(open))
		for _, page := range open {
			out = append(out, r.pageObject(page))
		}
		return r.vm.NewArray(out...)
	})
	_ = obj.Set("isClosed", bc.IsClosed)
	_ = obj.Set("close", bc.Close)

	r.contexts[bc] = obj
	return obj
}

func (r *run) pageObject(page ports.Page) *goja.Object {
	if obj, ok := r.pages[page]; ok {
		return obj
	}

	obj := r.vm.NewObject()
	_ = obj.Set("goto", func(url string, opts goja.Value) error {
		return page.Goto(url, timeoutOf(opts))
	})
	_ = obj.Set("click", func(selector string, opts goja.Value) error {
		return page.Click(selector, timeoutOf(opts))
	})
	_ = obj.Set("fill", func(selector, value string, opts goja.Value) error {
		return page.Fill(selector, value, timeoutOf(opts))
	})
	_ = obj.Set("waitForSelector", func(selector string, opts goja.Value) error {
		return page.WaitForSelector(selector, timeoutOf(opts))
	})
	_ = obj.Set("textContent", func(selector string, opts goja.Value) (string, error) {
		return page.TextContent(selector, timeoutOf(opts))
	})
	_ = obj.Set("evaluate", func(expression goja.Value) (goja.Value, error) {
		out, err := page.Evaluate(expression.String())
		if err != nil {
			return nil, err
		}
		return r.toJS(out), nil
	})
	_ = obj.Set("screenshot", func() (goja.Value, error) {
		data, err := page.Screenshot()
		if err != nil {
			return nil, err
		}
		return r.vm.ToValue(r.vm.NewArrayBuffer(data)), nil
	})
	_ = obj.Set("content", page.Content)
	_ = obj.Set("title", page.Title)
	_ = obj.Set("url", page.URL)
	_ = obj.Set("isClosed", page.IsClosed)
	_ = obj.Set("close", page.Close)

	r.pages[page] = obj
	return obj
}

// timeoutOf accepts either a bare number of milliseconds or {timeout: ms}.
func timeoutOf(opts goja.Value) float64 {
	if opts == nil || goja.IsUndefined(opts) || goja.IsNull(opts) {
		return 0
	}
	if obj, ok := opts.(*goja.Object); ok {
		timeout := obj.Get("timeout")
		if timeout == nil || goja.IsUndefined(timeout) {
			return 0
		}
		return timeout.ToFloat()
	}
	return opts.ToFloat()
}
