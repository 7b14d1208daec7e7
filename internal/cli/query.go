package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/relgraph/internal/db"
	"github.com/roach88/relgraph/internal/graph"
	"github.com/roach88/relgraph/internal/ir"
)

// EdgesOptions holds flags for the edges command.
type EdgesOptions struct {
	*RootOptions
	Source      string
	Destination string
	Name        string
}

// NewEdgesCommand creates the edges command.
func NewEdgesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EdgesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "edges",
		Short: "List stored edges",
		Long: `List stored edges, optionally filtered by source, destination or
name. At most one filter may be given.

Examples:
  relgraph --db ./library.db edges
  relgraph --db ./library.db edges --source Author/frank
  relgraph --db ./library.db edges --name owns --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := opts.query()
			if err != nil {
				return err
			}
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session, f *OutputFormatter) error {
				var edges []ir.Edge
				err := s.read(ctx, func(_ *db.Transaction, g *graph.Tx) error {
					var err error
					edges, err = query(ctx, g)
					return err
				})
				if err != nil {
					return err
				}

				out := make([]EdgeOutput, 0, len(edges))
				for _, e := range edges {
					out = append(out, newEdgeOutput(e))
				}
				return f.Render(out, func(w io.Writer) {
					for _, e := range out {
						fmt.Fprintln(w, e)
					}
					f.VerboseLog("%d edge(s)", len(out))
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", "", "only edges from this record")
	cmd.Flags().StringVar(&opts.Destination, "destination", "", "only edges to this record")
	cmd.Flags().StringVar(&opts.Name, "name", "", "only edges with this name")
	cmd.MarkFlagsMutuallyExclusive("source", "destination", "name")
	return cmd
}

type edgeQuery func(ctx context.Context, g *graph.Tx) ([]ir.Edge, error)

func (o *EdgesOptions) query() (edgeQuery, error) {
	switch {
	case o.Source != "":
		nodes, err := parseNodes([]string{o.Source})
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, g *graph.Tx) ([]ir.Edge, error) {
			return g.EdgesWithSource(ctx, nodes[0])
		}, nil
	case o.Destination != "":
		nodes, err := parseNodes([]string{o.Destination})
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, g *graph.Tx) ([]ir.Edge, error) {
			return g.EdgesWithDestination(ctx, nodes[0])
		}, nil
	case o.Name != "":
		return func(ctx context.Context, g *graph.Tx) ([]ir.Edge, error) {
			return g.EdgesNamed(ctx, o.Name)
		}, nil
	default:
		return func(ctx context.Context, g *graph.Tx) ([]ir.Edge, error) {
			return g.AllEdges(ctx)
		}, nil
	}
}

// CheckResult reports edges whose endpoints are missing.
type CheckResult struct {
	Edges    int          `json:"edges"`
	Dangling []EdgeOutput `json:"dangling"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that every stored edge joins existing records",
		Long: `Verify that every stored edge joins two existing records.

Exit codes:
  0 - No dangling edges
  1 - One or more dangling edges
  2 - Command error`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session, f *OutputFormatter) error {
				result, err := checkEdges(ctx, s)
				if err != nil {
					return err
				}
				if err := f.Render(result, func(w io.Writer) {
					for _, e := range result.Dangling {
						fmt.Fprintf(w, "dangling: %s\n", e)
					}
					fmt.Fprintf(w, "%d edge(s), %d dangling\n", result.Edges, len(result.Dangling))
				}); err != nil {
					return err
				}
				if len(result.Dangling) > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("%d dangling edge(s)", len(result.Dangling)))
				}
				return nil
			})
		},
	}
}

func checkEdges(ctx context.Context, s *session) (CheckResult, error) {
	result := CheckResult{Dangling: []EdgeOutput{}}
	err := s.read(ctx, func(tx *db.Transaction, g *graph.Tx) error {
		edges, err := g.AllEdges(ctx)
		if err != nil {
			return err
		}
		result.Edges = len(edges)
		for _, e := range edges {
			for _, n := range []ir.Node{e.Source, e.Destination} {
				ok, err := tx.Exists(ctx, n)
				if err != nil {
					return err
				}
				if !ok {
					result.Dangling = append(result.Dangling, newEdgeOutput(e))
					break
				}
			}
		}
		return nil
	})
	return result, err
}
