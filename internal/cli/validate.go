package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/relgraph/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Edges  []schema.Decl     `json:"edges,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError is one schema error with its source position.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Validate CUE edge declarations",
		Long: `Compile the CUE edge declarations in a directory and list them.

Each declaration names an edge and its delete rule, optionally
restricting the source and destination collections:

  edge: owns: {
      source:      "Author"
      destination: "Book"
      rule:        "delete_destination_if_source_deleted"
  }`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	sch, err := schema.LoadDir(dir)
	if err != nil {
		result := ValidationResult{Valid: false, Errors: []ValidationError{toValidationError(err)}}
		if outErr := formatter.Render(result, func(w io.Writer) {
			fmt.Fprintf(w, "\u2717 %s\n", dir)
			for _, e := range result.Errors {
				if e.Line > 0 {
					fmt.Fprintf(w, "  %s:%d: %s: %s\n", e.File, e.Line, e.Field, e.Message)
				} else {
					fmt.Fprintf(w, "  %s: %s\n", e.Field, e.Message)
				}
			}
		}); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "schema validation failed", err)
	}

	decls := sch.Decls()
	formatter.VerboseLog("Compiled %d edge declaration(s) from %s", len(decls), dir)
	result := ValidationResult{Valid: true, Edges: decls}
	return formatter.Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "\u2713 %s: %d edge declaration(s)\n", dir, len(decls))
		for _, d := range decls {
			fmt.Fprintf(w, "  %s(%s -> %s) %s\n", d.Name, orAny(d.Source), orAny(d.Destination), d.Rule)
		}
	})
}

func toValidationError(err error) ValidationError {
	var ce *schema.CompileError
	if errors.As(err, &ce) {
		ve := ValidationError{Field: ce.Field, Message: ce.Message}
		if ce.Pos.IsValid() {
			ve.File = ce.Pos.Filename()
			ve.Line = ce.Pos.Line()
		}
		return ve
	}
	return ValidationError{Field: "load", Message: err.Error()}
}

func orAny(collection string) string {
	if collection == "" {
		return "*"
	}
	return collection
}
