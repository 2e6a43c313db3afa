package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/rexd/internal/adapters/browser/playwright"
	"github.com/bnema/rexd/internal/config"
)

func newInstallBrowsersCmd(app *app) *cobra.Command {
	var engine string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "install-browsers",
		Short: "Download the Playwright driver and browser used by serve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if engine == "" {
				cfg, err := app.config()
				if err != nil {
					return err
				}
				engine = cfg.Browser.Engine
			}
			if engine == config.EngineMemory {
				return errNothingToInstall
			}

			if err := playwright.Install(engine, verbose); err != nil {
				return err
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "installed %s\n", engine)
			return err
		},
	}

	cmd.Flags().StringVar(&engine, "browser", "", "engine to install (default browser.engine from config)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "show driver download progress")
	return cmd
}
