package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bnema/rexd/internal/adapters/sandbox/jsruntime"
	"github.com/bnema/rexd/internal/adapters/transport/auth"
	"github.com/bnema/rexd/internal/adapters/transport/rpc"
	"github.com/bnema/rexd/internal/adapters/transport/tcp"
	"github.com/bnema/rexd/internal/application"
	"github.com/bnema/rexd/internal/version"
)

func newServeCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the execution server until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.config()
			if err != nil {
				return err
			}

			logger, err := app.logger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cfg.UsesDefaultSecret() {
				logger.Warn("serving with the default shared secret; set REXD_SECRET or secret_ref")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			secret, err := app.sharedSecret(ctx, cfg)
			if err != nil {
				return err
			}

			factory, err := newControllerFactory(cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := factory.Close(); err != nil {
					logger.Warn("release browser driver", zap.Error(err))
				}
			}()

			registry := application.NewRegistry(factory, nil, logger)
			service := application.NewExecutionService(registry, jsruntime.New(logger), nil, logger, version.Version)

			server, err := tcp.Listen(cfg.Addr(),
				auth.NewGate(secret, cfg.AuthTimeout, logger),
				rpc.NewServer(service, cfg.IdleTimeout, logger),
				cfg.ShutdownGrace,
				logger,
			)
			if err != nil {
				return err
			}

			server.RegisterOnShutdown(func() {
				if err := service.Shutdown(); err != nil {
					logger.Warn("some sessions did not close cleanly", zap.Error(err))
				}
			})

			logger.Info("rexd started",
				zap.String("version", version.Version),
				zap.String("addr", server.Addr().String()),
				zap.String("engine", cfg.Browser.Engine),
				zap.String("config", cfg.File),
			)

			serveErr := server.Serve(ctx)

			logger.Info("shutting down", zap.Int("sessions", registry.Len()))
			if err := service.Shutdown(); err != nil {
				logger.Warn("some sessions did not close cleanly", zap.Error(err))
			}

			if serveErr != nil {
				return fmt.Errorf("serve: %w", serveErr)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("host", "", "address to bind (overrides host)")
	flags.Int("port", 0, "port to listen on (overrides port)")
	flags.String("browser", "", "browser engine: chromium, firefox, webkit or memory (overrides browser.engine)")
	flags.String("log-level", "", "log level (overrides log.level)")
	flags.String("log-format", "", "log format: json or console (overrides log.format)")

	_ = app.viper.BindPFlag("host", flags.Lookup("host"))
	_ = app.viper.BindPFlag("port", flags.Lookup("port"))
	_ = app.viper.BindPFlag("browser.engine", flags.Lookup("browser"))
	_ = app.viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = app.viper.BindPFlag("log.format", flags.Lookup("log-format"))

	return cmd
}
