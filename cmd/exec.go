package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/rexd/internal/adapters/transport/rpc"
)

type execOptions struct {
	addr       string
	inputsPath string
	timeout    time.Duration
	spinner    bool
	metadata   rpc.Metadata
}

func newExecCmd(app *app) *cobra.Command {
	opts := execOptions{}

	cmd := &cobra.Command{
		Use:   "exec <file.js|->",
		Short: "Run a JavaScript fragment on a rexd server and print the result",
		Long:  "exec sends the fragment in the given file (or stdin for -) as one execute call. The fragment body runs inside an async function; its return value is printed as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readSource(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			inputs, err := readInputs(opts.inputsPath)
			if err != nil {
				return err
			}

			params := rpc.ExecuteParams{Code: code, Inputs: inputs, Metadata: opts.metadata}

			ctx := cmd.Context()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}

			var result rpc.ExecuteResult
			call := func(ctx context.Context) error {
				client, err := app.dial(ctx, opts.addr)
				if err != nil {
					return err
				}
				defer func() { _ = client.Close() }()

				result, err = client.Execute(ctx, params)
				return err
			}

			if opts.spinner {
				err = runExecuteWithProgress(ctx, cmd.ErrOrStderr(), opts.metadata, app.now, call)
			} else {
				err = call(ctx)
			}
			if err != nil {
				return err
			}

			return writeJSON(cmd, result)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", "", "server address host:port (default derived from config)")
	flags.StringVar(&opts.inputsPath, "inputs", "", "JSON file holding input batches: [[{\"data\":{...},\"attachments\":{...}}]]")
	flags.DurationVar(&opts.timeout, "timeout", 0, "give up waiting after this long (0 waits for the fragment)")
	flags.BoolVar(&opts.spinner, "spinner", true, "show a spinner on stderr while waiting")
	flags.StringVar(&opts.metadata.ScopeID, "scope", "", "scope id sessions are shared within")
	flags.StringVar(&opts.metadata.ScopeName, "scope-name", "", "human readable scope name")
	flags.StringVar(&opts.metadata.JobID, "job", "", "job id")
	flags.StringVar(&opts.metadata.CallerID, "caller", "", "caller id")
	flags.StringVar(&opts.metadata.CallerName, "caller-name", "", "human readable caller name")
	flags.BoolVar(&opts.metadata.WantsRetentionOfContext, "keep-context", false, "keep the session and its contexts after the call")
	flags.BoolVar(&opts.metadata.WantsRetentionOfPages, "keep-pages", false, "also keep open pages (implies --keep-context)")
	flags.StringVar(&opts.metadata.ExplicitSessionID, "session", "", "run in this existing session")
	flags.StringVar(&opts.metadata.ExplicitContextName, "context", "", "default context name for contexts.acquire()")
	flags.BoolVar(&opts.metadata.AutoCapture, "capture", false, "attach screenshots of every open page to the result")

	return cmd
}

func readSource(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read fragment: %w", err)
	}
	return string(data), nil
}

func readInputs(path string) ([][]rpc.Item, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}

	var inputs [][]rpc.Item
	if err := json.Unmarshal(data, &inputs); err != nil {
		var single []rpc.Item
		if json.Unmarshal(data, &single) != nil {
			return nil, fmt.Errorf("decode inputs: %w", err)
		}
		inputs = [][]rpc.Item{single}
	}
	if inputs == nil {
		return nil, errors.New("decode inputs: expected an array of batches")
	}
	return inputs, nil
}
