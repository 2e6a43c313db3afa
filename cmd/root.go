package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	app := newApp()

	rootCmd := &cobra.Command{
		Use:           "rexd",
		Short:         "rexd: remote stateful execution service",
		Long:          "rexd accepts authenticated connections, runs caller-supplied JavaScript fragments against long-lived browser sessions, and keeps or tears down those sessions according to each caller's retention policy.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/rexd/config.toml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(app),
		newHealthCmd(app),
		newExecCmd(app),
		newSessionsCmd(app),
		newConfigCmd(app),
		newSecretCmd(app),
		newInstallBrowsersCmd(app),
	)

	return rootCmd
}
