package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/roach88/relgraph/internal/db"
	"github.com/roach88/relgraph/internal/graph"
	"github.com/roach88/relgraph/internal/ir"
)

// withSession opens the database, runs fn and reports its error in the
// configured format.
func withSession(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, s *session, f *OutputFormatter) error) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	s, err := openSession(opts, cmd.ErrOrStderr())
	if err != nil {
		if outErr := f.Error(ErrCodeConfig, err.Error(), nil); outErr != nil {
			return outErr
		}
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := fn(ctx, s, f); err != nil {
		// Commands report their own ExitErrors.
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		code, exit := failureCode(err)
		return f.Fail(exit, code, cmd.Name()+" failed", err)
	}
	return nil
}

// commit writes the resolution of a successful transaction.
func commit(ctx context.Context, s *session, f *OutputFormatter, fn func(tx *db.Transaction, g *graph.Tx) error) error {
	res, err := s.write(ctx, fn)
	if err != nil {
		return err
	}
	out := newResolutionOutput(res)
	return f.Render(out, func(w io.Writer) {
		fmt.Fprintln(w, "committed")
		writeResolution(w, out)
	})
}

func parseNodes(args []string) ([]ir.Node, error) {
	nodes := make([]ir.Node, 0, len(args))
	for _, a := range args {
		n, err := ir.ParseNode(a)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid node %q", a), err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <Collection/key> [json]",
		Short: "Create or replace a record",
		Long: `Create or replace a record. The value is a JSON document; it
defaults to {}.

Example:
  relgraph --db ./library.db set Author/frank '{"name":"Frank Herbert"}'`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := parseNodes(args[:1])
			if err != nil {
				return err
			}
			raw := "{}"
			if len(args) == 2 {
				raw = args[1]
			}
			var value any
			if err := sonic.ConfigStd.UnmarshalFromString(raw, &value); err != nil {
				return WrapExitError(ExitCommandError, "invalid JSON value", err)
			}
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session, f *OutputFormatter) error {
				return commit(ctx, s, f, func(tx *db.Transaction, _ *graph.Tx) error {
					return tx.SetObject(ctx, nodes[0], value)
				})
			})
		},
	}
}

// LinkOptions holds flags for the link command.
type LinkOptions struct {
	*RootOptions
	Rule string
}

// NewLinkCommand creates the link command.
func NewLinkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LinkOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "link <name> <source> <destination>",
		Short: "Add an edge",
		Long: `Add a named edge between two records. Without --rule the edge
schema supplies the rule, or the edge gets rule "none".

Both records must exist when the transaction commits; otherwise the
edge is discarded and reported.

Example:
  relgraph --db ./library.db link owns Author/frank Book/dune \
    --rule delete_destination_if_source_deleted`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := edgeFromArgs(args, ir.DeleteRule(opts.Rule))
			if err != nil {
				return err
			}
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session, f *OutputFormatter) error {
				return commit(ctx, s, f, func(_ *db.Transaction, g *graph.Tx) error {
					return g.Add(ctx, e)
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Rule, "rule", "", "delete rule")
	return cmd
}

// NewUnlinkCommand creates the unlink command.
func NewUnlinkCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "unlink <name> <source> <destination>",
		Short:         "Remove an edge",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := edgeFromArgs(args, "")
			if err != nil {
				return err
			}
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session, f *OutputFormatter) error {
				return commit(ctx, s, f, func(_ *db.Transaction, g *graph.Tx) error {
					return g.RemoveEdge(ctx, e)
				})
			})
		},
	}
}

func edgeFromArgs(args []string, rule ir.DeleteRule) (ir.Edge, error) {
	nodes, err := parseNodes(args[1:])
	if err != nil {
		return ir.Edge{}, err
	}
	return ir.Edge{Name: args[0], Source: nodes[0], Destination: nodes[1], Rule: rule}, nil
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <Collection/key>...",
		Short: "Remove records and resolve delete rules",
		Long: `Remove records in one transaction. When it commits, delete rules
remove every record they reach, edges touching removed records are
pruned, and notify-only edges report the removed endpoint.

Example:
  relgraph --db ./library.db remove Author/frank`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := parseNodes(args)
			if err != nil {
				return err
			}
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session, f *OutputFormatter) error {
				return commit(ctx, s, f, func(tx *db.Transaction, _ *graph.Tx) error {
					for _, n := range nodes {
						if err := tx.Remove(ctx, n); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
}
