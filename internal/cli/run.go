package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/relgraph/internal/harness"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run one scenario on a fresh in-memory database",
		Long: `Run one scenario on a fresh in-memory database and print what each
transaction did. --backend overrides the scenario's backend.

Example:
  relgraph run ./scenarios/author_cascade.yaml --backend badger`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(rootOpts, args[0], cmd)
		},
	}
}

func runScenarioFile(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	s, err := harness.LoadScenario(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, "failed to load scenario", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := harness.Run(ctx, s, scenarioOptions(opts, opts.Backend, cmd.ErrOrStderr())...)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeDatabase, "scenario execution failed", err)
	}

	if err := formatter.Render(result, func(w io.Writer) {
		writeScenarioResult(w, s.Name, result)
	}); err != nil {
		return err
	}
	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", s.Name))
	}
	return nil
}

// scenarioOptions logs harness databases to w only with --verbose.
func scenarioOptions(opts *RootOptions, backend string, w io.Writer) []harness.Option {
	var hopts []harness.Option
	if backend != "" {
		hopts = append(hopts, harness.WithBackend(backend))
	}
	if opts.Verbose {
		logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
		hopts = append(hopts, harness.WithLogger(logger))
	}
	return hopts
}

func writeScenarioResult(w io.Writer, name string, result *harness.Result) {
	fmt.Fprintf(w, "scenario %s (%s)\n", name, result.Backend)
	for i, tx := range result.Transactions {
		fmt.Fprintf(w, "  [%d] %s\n", i, tx.Outcome)
		line := func(label string, items []string) {
			if len(items) > 0 {
				fmt.Fprintf(w, "      %s: %s\n", label, strings.Join(items, ", "))
			}
		}
		line("deleted", tx.Deleted)
		line("cascaded", tx.Cascaded)
		line("inserted", tx.EdgesInserted)
		line("removed", tx.EdgesRemoved)
		line("discarded", tx.EdgesDiscarded)
		line("notify", tx.Notifications)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
	if result.Pass {
		fmt.Fprintln(w, "\u2713 pass")
	} else {
		fmt.Fprintln(w, "\u2717 fail")
	}
}
