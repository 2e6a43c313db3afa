package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	sessionsview "github.com/bnema/rexd/internal/adapters/render/sessions"
	"github.com/bnema/rexd/internal/adapters/transport/rpc"
)

const defaultCallTimeout = 30 * time.Second

func newHealthCmd(app *app) *cobra.Command {
	var addr string
	var asJSON bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that a rexd server answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client, err := app.dial(ctx, addr)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			status, err := client.Health(ctx)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, status)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s version=%s sessions=%d time=%s\n",
				status.Status, status.Version, status.Sessions, status.Timestamp)
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "server address host:port (default derived from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultCallTimeout, "give up after this long")

	return cmd
}

func newSessionsCmd(app *app) *cobra.Command {
	var addr string
	var asJSON bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List the sessions a rexd server keeps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client, err := app.dial(ctx, addr)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			sessions, err := client.Sessions(ctx)
			if err != nil {
				return err
			}
			if sessions == nil {
				sessions = []rpc.SessionSummary{}
			}

			if asJSON {
				return writeJSON(cmd, sessions)
			}

			cfg, err := app.config()
			if err != nil {
				return err
			}
			output, err := sessionsview.Render(sessions, sessionsview.RenderOptions{Now: app.now(), Addr: clientAddr(cfg, addr)})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), output)
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "server address host:port (default derived from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print sessions as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultCallTimeout, "give up after this long")

	return cmd
}

func writeJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
