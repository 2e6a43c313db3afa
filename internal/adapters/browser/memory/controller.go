// Package memory is an in-process automation controller. It keeps the same
// context/page ownership rules as a real browser without launching anything.
package memory

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/bnema/rexd/internal/ports"
)

var (
	ErrDisconnected = errors.New("controller is disconnected")
	ErrClosed       = errors.New("target is closed")
)

var blankPNG = mustDecode("iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=")

func mustDecode(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

var (
	_ ports.ControllerFactory = (*Factory)(nil)
	_ ports.Controller        = (*Controller)(nil)
	_ ports.BrowsingContext   = (*Context)(nil)
	_ ports.Page              = (*Page)(nil)
)

type Factory struct {
	mu             sync.Mutex
	launchErr      error
	launched       []*Controller
	holdEvaluation bool
}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Launch(ctx context.Context) (ports.Controller, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.launchErr != nil {
		return nil, fmt.Errorf("launch controller: %w", f.launchErr)
	}
	controller := NewController()
	controller.holdEvaluation = f.holdEvaluation
	f.launched = append(f.launched, controller)
	return controller, nil
}

// FailLaunches makes every following Launch return err. A nil err restores
// normal launches.
func (f *Factory) FailLaunches(err error) {
	f.mu.Lock()
	f.launchErr = err
	f.mu.Unlock()
}

// HoldEvaluations makes Evaluate on pages of controllers launched afterwards
// block until the page is closed, like a script awaiting a promise that never
// settles.
func (f *Factory) HoldEvaluations() {
	f.mu.Lock()
	f.holdEvaluation = true
	f.mu.Unlock()
}

func (f *Factory) Launched() []*Controller {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Controller(nil), f.launched...)
}

func (f *Factory) Close() error {
	return nil
}

type Controller struct {
	mu             sync.Mutex
	contexts       []*Context
	connected      bool
	closeCount     int
	closeErr       error
	holdEvaluation bool
}

func NewController() *Controller {
	return &Controller{connected: true}
}

func (c *Controller) NewContext() (ports.BrowsingContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, ErrDisconnected
	}
	bc := &Context{owner: c}
	c.contexts = append(c.contexts, bc)
	return bc, nil
}

func (c *Controller) Contexts() []ports.BrowsingContext {
	c.mu.Lock()
	all := append([]*Context(nil), c.contexts...)
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	out := make([]ports.BrowsingContext, 0, len(all))
	for _, bc := range all {
		if !bc.closedLocal() {
			out = append(out, bc)
		}
	}
	return out
}

func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close tears down every context. It records each call so tests can assert
// a controller was closed exactly once.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closeCount++
	c.connected = false
	all := append([]*Context(nil), c.contexts...)
	err := c.closeErr
	c.mu.Unlock()

	for _, bc := range all {
		_ = bc.Close()
	}
	return err
}

// Disconnect simulates the controller dying underneath its owner.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *Controller) FailClose(err error) {
	c.mu.Lock()
	c.closeErr = err
	c.mu.Unlock()
}

func (c *Controller) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

// PageCount counts open pages across live contexts.
func (c *Controller) PageCount() int {
	total := 0
	for _, bc := range c.Contexts() {
		total += len(bc.Pages())
	}
	return total
}

type Context struct {
	mu     sync.Mutex
	owner  *Controller
	pages  []*Page
	closed bool
}

func (bc *Context) NewPage() (ports.Page, error) {
	if bc.IsClosed() {
		return nil, ErrClosed
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.owner.mu.Lock()
	hold := bc.owner.holdEvaluation
	bc.owner.mu.Unlock()

	page := &Page{url: "about:blank", fields: map[string]string{}, done: make(chan struct{}), hold: hold}
	bc.pages = append(bc.pages, page)
	return page, nil
}

func (bc *Context) Pages() []ports.Page {
	bc.mu.Lock()
	all := append([]*Page(nil), bc.pages...)
	bc.mu.Unlock()

	out := make([]ports.Page, 0, len(all))
	for _, page := range all {
		if !page.IsClosed() {
			out = append(out, page)
		}
	}
	return out
}

func (bc *Context) IsClosed() bool {
	return bc.closedLocal() || !bc.owner.IsConnected()
}

func (bc *Context) closedLocal() bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.closed
}

func (bc *Context) Close() error {
	bc.mu.Lock()
	bc.closed = true
	all := append([]*Page(nil), bc.pages...)
	bc.mu.Unlock()

	for _, page := range all {
		_ = page.Close()
	}
	return nil
}

type Page struct {
	mu            sync.Mutex
	url           string
	title         string
	fields        map[string]string
	closed        bool
	done          chan struct{}
	hold          bool
	screenshotErr error
}

func (p *Page) Goto(url string, _ float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.url = url
	p.title = url
	return nil
}

func (p *Page) Click(string, float64) error {
	return p.checkOpen()
}

func (p *Page) Fill(selector string, value string, _ float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.fields[selector] = value
	return nil
}

func (p *Page) WaitForSelector(string, float64) error {
	return p.checkOpen()
}

// TextContent returns whatever was last filled into selector.
func (p *Page) TextContent(selector string, _ float64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", ErrClosed
	}
	return p.fields[selector], nil
}

func (p *Page) Evaluate(string) (any, error) {
	if p.hold {
		<-p.done
		return nil, ErrClosed
	}
	return nil, p.checkOpen()
}

func (p *Page) Content() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", ErrClosed
	}
	return fmt.Sprintf("<html><head><title>%s</title></head><body></body></html>", p.title), nil
}

func (p *Page) Title() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", ErrClosed
	}
	return p.title, nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Screenshot() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if p.screenshotErr != nil {
		return nil, p.screenshotErr
	}
	return append([]byte(nil), blankPNG...), nil
}

func (p *Page) FailScreenshots(err error) {
	p.mu.Lock()
	p.screenshotErr = err
	p.mu.Unlock()
}

func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

func (p *Page) checkOpen() error {
	if p.IsClosed() {
		return ErrClosed
	}
	return nil
}
