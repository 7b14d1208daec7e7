package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/relgraph/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Golden string // golden directory; empty skips golden comparison
	Update bool   // regenerate golden files
	Filter string // scenario name filter (glob pattern)
}

// ScenarioResult holds the result of one scenario on one backend.
type ScenarioResult struct {
	Name    string   `json:"name"`
	Backend string   `json:"backend"`
	Pass    bool     `json:"pass"`
	Errors  []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run every scenario in a directory",
		Long: `Run every *.yaml scenario in a directory on each backend, checking
expectations, final-state assertions and, with --golden, the golden
snapshot <golden>/<name>.golden. --backend restricts the run to one
backend.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  relgraph test ./scenarios
  relgraph test ./scenarios --golden ./golden
  relgraph test ./scenarios --golden ./golden --update
  relgraph test ./scenarios --filter "author*" --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Golden, "golden", "", "golden snapshot directory")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.Update && opts.Golden == "" {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, "--update requires --golden", nil)
	}
	if _, err := os.Stat(dir); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, "scenarios directory not found", err)
	}
	if opts.Filter != "" {
		if _, err := filepath.Match(opts.Filter, ""); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid filter pattern", err)
		}
	}

	scenarios, err := harness.LoadDir(dir)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, "failed to load scenarios", err)
	}

	backends := []string{harness.BackendSQLite, harness.BackendBadger}
	if opts.Backend != "" {
		backends = []string{opts.Backend}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := TestResult{Scenarios: []ScenarioResult{}}
	for _, s := range scenarios {
		if opts.Filter != "" {
			if ok, _ := filepath.Match(opts.Filter, s.Name); !ok {
				continue
			}
		}
		for _, backend := range backends {
			sr := runOne(ctx, opts, s, backend, cmd.ErrOrStderr())
			result.Scenarios = append(result.Scenarios, sr)
			result.Total++
			if sr.Pass {
				result.Passed++
			} else {
				result.Failed++
			}
		}
	}

	if err := formatter.Render(result, func(w io.Writer) {
		writeTestText(w, result)
	}); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario run(s) failed", result.Failed))
	}
	return nil
}

func runOne(ctx context.Context, opts *TestOptions, s *harness.Scenario, backend string, errW io.Writer) ScenarioResult {
	sr := ScenarioResult{Name: s.Name, Backend: backend}

	result, err := harness.Run(ctx, s, scenarioOptions(opts.RootOptions, backend, errW)...)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return sr
	}
	sr.Errors = append(sr.Errors, result.Errors...)

	if opts.Golden != "" {
		if err := checkGolden(opts, s.Name, result); err != nil {
			sr.Errors = append(sr.Errors, err.Error())
		}
	}
	sr.Pass = result.Pass && len(sr.Errors) == 0
	return sr
}

// checkGolden compares the scenario snapshot with its golden file, or
// rewrites the file with --update.
func checkGolden(opts *TestOptions, name string, result *harness.Result) error {
	data, err := harness.Snapshot(name, result)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	path := filepath.Join(opts.Golden, name+".golden")

	if opts.Update {
		if err := os.MkdirAll(opts.Golden, 0o755); err != nil {
			return fmt.Errorf("failed to create golden directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write golden file: %w", err)
		}
		return nil
	}

	want, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(want, data) {
		return fmt.Errorf("golden file mismatch (run with --update to regenerate)")
	}
	return nil
}

func writeTestText(w io.Writer, result TestResult) {
	for _, sr := range result.Scenarios {
		if sr.Pass {
			fmt.Fprintf(w, "\u2713 %s [%s]\n", sr.Name, sr.Backend)
			continue
		}
		fmt.Fprintf(w, "\u2717 %s [%s]\n", sr.Name, sr.Backend)
		for _, e := range sr.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if result.Failed == 0 {
		fmt.Fprintln(w, "\u2713 All scenarios passed")
	}
}
