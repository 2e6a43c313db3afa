package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bnema/rexd/internal/adapters/browser/memory"
	"github.com/bnema/rexd/internal/adapters/browser/playwright"
	chainstore "github.com/bnema/rexd/internal/adapters/secrets/chain"
	"github.com/bnema/rexd/internal/adapters/transport/rpc"
	"github.com/bnema/rexd/internal/application"
	"github.com/bnema/rexd/internal/config"
	"github.com/bnema/rexd/internal/logging"
	"github.com/bnema/rexd/internal/ports"
)

var errNothingToInstall = errors.New("the memory engine needs no browser install")

// app carries what every command shares. Configuration is loaded on first
// use so the persistent --config flag has been parsed by then.
type app struct {
	viper      *viper.Viper
	configPath string
	cfg        *config.Config
	now        func() time.Time
}

type controllerFactory interface {
	ports.ControllerFactory
	Close() error
}

func newApp() *app {
	return &app{viper: viper.New(), now: time.Now}
}

func (a *app) config() (config.Config, error) {
	if a.cfg != nil {
		return *a.cfg, nil
	}
	cfg, err := config.Load(a.viper, a.configPath)
	if err != nil {
		return config.Config{}, err
	}
	a.cfg = &cfg
	return cfg, nil
}

func (a *app) logger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("wire logger: %w", err)
	}
	return logger, nil
}

func (a *app) secrets(cfg config.Config) (*application.SecretService, error) {
	store, err := chainstore.NewPassFirstWithFileFallback(cfg.SecretDir)
	if err != nil {
		return nil, fmt.Errorf("wire secret store chain: %w", err)
	}
	return application.NewSecretService(store), nil
}

// sharedSecret is the literal secret, or the one behind secret_ref.
func (a *app) sharedSecret(ctx context.Context, cfg config.Config) (string, error) {
	if cfg.SecretRef == "" {
		return cfg.Secret, nil
	}
	secrets, err := a.secrets(cfg)
	if err != nil {
		return "", err
	}
	return secrets.Resolve(ctx, cfg.SecretRef)
}

func newControllerFactory(cfg config.Config, logger *zap.Logger) (controllerFactory, error) {
	if cfg.Browser.Engine == config.EngineMemory {
		return memory.NewFactory(), nil
	}
	factory, err := playwright.NewFactory(playwright.Options{
		Engine:   cfg.Browser.Engine,
		Headless: cfg.Browser.Headless,
		Args:     cfg.Browser.Args,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("wire controller factory: %w", err)
	}
	return factory, nil
}

// clientAddr is the explicit --addr, or the configured port on loopback
// when the server binds every interface.
func clientAddr(cfg config.Config, explicit string) string {
	if explicit != "" {
		return explicit
	}
	host := cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Port))
}

func (a *app) dial(ctx context.Context, addr string) (*rpc.Client, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	secret, err := a.sharedSecret(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return rpc.Dial(ctx, clientAddr(cfg, addr), secret, cfg.AuthTimeout)
}
