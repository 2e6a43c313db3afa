// Package playwright drives real browsers through playwright-go.
package playwright

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pw "github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/bnema/rexd/internal/ports"
)

const (
	EngineChromium = "chromium"
	EngineFirefox  = "firefox"
	EngineWebKit   = "webkit"
)

var (
	ErrUnknownEngine = errors.New("unknown browser engine")
	ErrFactoryClosed = errors.New("browser factory is closed")
)

type Options struct {
	Engine   string
	Headless bool
	Args     []string
}

// Factory launches one browser per session. The playwright driver is
// started on the first launch and shared until Close.
type Factory struct {
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	driver *pw.Playwright
	closed bool
}

var _ ports.ControllerFactory = (*Factory)(nil)

func NewFactory(opts Options, logger *zap.Logger) (*Factory, error) {
	if opts.Engine == "" {
		opts.Engine = EngineChromium
	}
	if !knownEngine(opts.Engine) {
		return nil, fmt.Errorf("%w %q", ErrUnknownEngine, opts.Engine)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Factory{opts: opts, logger: logger.Named("playwright")}, nil
}

func (f *Factory) Launch(ctx context.Context) (ports.Controller, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	driver, err := f.start()
	if err != nil {
		return nil, err
	}

	browser, err := engine(driver, f.opts.Engine).Launch(pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(f.opts.Headless),
		Args:     f.opts.Args,
	})
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", f.opts.Engine, err)
	}

	f.logger.Debug("browser launched", zap.String("engine", f.opts.Engine), zap.String("version", browser.Version()))
	return newController(browser), nil
}

func (f *Factory) start() (*pw.Playwright, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrFactoryClosed
	}
	if f.driver != nil {
		return f.driver, nil
	}

	driver, err := pw.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright driver: %w", err)
	}
	f.driver = driver
	f.logger.Info("playwright driver started")
	return driver, nil
}

// Close stops the driver. Browsers still open are torn down with it.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	if f.driver == nil {
		return nil
	}
	driver := f.driver
	f.driver = nil
	if err := driver.Stop(); err != nil {
		return fmt.Errorf("stop playwright driver: %w", err)
	}
	return nil
}

// Install downloads the driver and the browser for engine.
func Install(engineName string, verbose bool) error {
	if !knownEngine(engineName) {
		return fmt.Errorf("%w %q", ErrUnknownEngine, engineName)
	}
	if err := pw.Install(&pw.RunOptions{Browsers: []string{engineName}, Verbose: verbose}); err != nil {
		return fmt.Errorf("install %s: %w", engineName, err)
	}
	return nil
}

func knownEngine(name string) bool {
	switch name {
	case EngineChromium, EngineFirefox, EngineWebKit:
		return true
	default:
		return false
	}
}

func engine(driver *pw.Playwright, name string) pw.BrowserType {
	switch name {
	case EngineFirefox:
		return driver.Firefox
	case EngineWebKit:
		return driver.WebKit
	default:
		return driver.Chromium
	}
}
