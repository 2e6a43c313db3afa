package playwright

import (
	"fmt"
	"slices"
	"sync"

	pw "github.com/playwright-community/playwright-go"

	"github.com/bnema/rexd/internal/ports"
)

// controller wraps one browser. Wrappers are cached so a context or page
// keeps the same identity across calls.
type controller struct {
	browser pw.Browser

	mu       sync.Mutex
	contexts map[pw.BrowserContext]*browsingContext
}

func newController(browser pw.Browser) *controller {
	return &controller{browser: browser, contexts: make(map[pw.BrowserContext]*browsingContext)}
}

func (c *controller) NewContext() (ports.BrowsingContext, error) {
	bc, err := c.browser.NewContext()
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	return c.wrap(bc), nil
}

// Contexts lists live contexts and drops cached wrappers for closed ones.
func (c *controller) Contexts() []ports.BrowsingContext {
	if !c.browser.IsConnected() {
		return nil
	}
	live := c.browser.Contexts()

	c.mu.Lock()
	defer c.mu.Unlock()

	for raw := range c.contexts {
		if !slices.Contains(live, raw) {
			delete(c.contexts, raw)
		}
	}

	out := make([]ports.BrowsingContext, 0, len(live))
	for _, raw := range live {
		out = append(out, c.wrapLocked(raw))
	}
	return out
}

func (c *controller) IsConnected() bool {
	return c.browser.IsConnected()
}

func (c *controller) Close() error {
	if err := c.browser.Close(); err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

func (c *controller) wrap(raw pw.BrowserContext) *browsingContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wrapLocked(raw)
}

func (c *controller) wrapLocked(raw pw.BrowserContext) *browsingContext {
	if wrapped, ok := c.contexts[raw]; ok {
		return wrapped
	}
	wrapped := &browsingContext{owner: c, raw: raw, pages: make(map[pw.Page]*page)}
	c.contexts[raw] = wrapped
	return wrapped
}

type browsingContext struct {
	owner *controller
	raw   pw.BrowserContext

	mu    sync.Mutex
	pages map[pw.Page]*page
}

func (bc *browsingContext) NewPage() (ports.Page, error) {
	raw, err := bc.raw.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	return bc.wrap(raw), nil
}

func (bc *browsingContext) Pages() []ports.Page {
	live := bc.raw.Pages()

	bc.mu.Lock()
	defer bc.mu.Unlock()

	out := make([]ports.Page, 0, len(live))
	for _, raw := range live {
		if raw.IsClosed() {
			continue
		}
		out = append(out, bc.wrapLocked(raw))
	}
	for raw := range bc.pages {
		if raw.IsClosed() {
			delete(bc.pages, raw)
		}
	}
	return out
}

// IsClosed reports whether the browser no longer lists this context.
func (bc *browsingContext) IsClosed() bool {
	if !bc.owner.browser.IsConnected() {
		return true
	}
	return !slices.Contains(bc.owner.browser.Contexts(), bc.raw)
}

func (bc *browsingContext) Close() error {
	if err := bc.raw.Close(); err != nil {
		return fmt.Errorf("close context: %w", err)
	}
	return nil
}

func (bc *browsingContext) wrap(raw pw.Page) *page {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.wrapLocked(raw)
}

func (bc *browsingContext) wrapLocked(raw pw.Page) *page {
	if wrapped, ok := bc.pages[raw]; ok {
		return wrapped
	}
	wrapped := &page{raw: raw}
	bc.pages[raw] = wrapped
	return wrapped
}
