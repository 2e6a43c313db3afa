package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errNoSecretRef = errors.New("no secret reference: pass --ref or set secret_ref")

func newSecretCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage the shared secret held in pass or the secret directory",
	}

	cmd.AddCommand(newSecretGenerateCmd(app), newSecretDeleteCmd(app))
	return cmd
}

func newSecretGenerateCmd(app *app) *cobra.Command {
	var ref string
	var force bool
	var printSecret bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a random shared secret and store it under a reference",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.config()
			if err != nil {
				return err
			}
			if ref == "" {
				ref = cfg.SecretRef
			}
			if ref == "" {
				return errNoSecretRef
			}

			secrets, err := app.secrets(cfg)
			if err != nil {
				return err
			}

			secret, err := secrets.Generate(cmd.Context(), ref, force)
			if err != nil {
				return err
			}

			if printSecret {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), secret)
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "stored secret %s\n", ref)
			return err
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "", "secret reference (default secret_ref from config)")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing secret")
	cmd.Flags().BoolVar(&printSecret, "print", false, "print the generated secret")
	return cmd
}

func newSecretDeleteCmd(app *app) *cobra.Command {
	var ref string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a stored shared secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.config()
			if err != nil {
				return err
			}
			if ref == "" {
				ref = cfg.SecretRef
			}
			if ref == "" {
				return errNoSecretRef
			}

			secrets, err := app.secrets(cfg)
			if err != nil {
				return err
			}
			if err := secrets.Delete(cmd.Context(), ref); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted secret %s\n", ref)
			return err
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "", "secret reference (default secret_ref from config)")
	return cmd
}
