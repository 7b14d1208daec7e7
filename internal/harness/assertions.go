package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/relgraph/internal/db"
	"github.com/roach88/relgraph/internal/ir"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion in one read transaction and
// returns the failure messages.
func EvaluateAssertions(ctx context.Context, d *db.Database, assertions []Assertion) []string {
	if len(assertions) == 0 {
		return nil
	}

	var failures []string
	err := d.Read(ctx, func(tx *db.Transaction) error {
		for i, a := range assertions {
			if err := evaluate(ctx, tx, a); err != nil {
				failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
			}
		}
		return nil
	})
	if err != nil {
		failures = append(failures, fmt.Sprintf("assertions: %v", err))
	}
	return failures
}

func evaluate(ctx context.Context, tx *db.Transaction, a Assertion) error {
	switch a.Type {
	case AssertExists, AssertAbsent:
		return assertNode(ctx, tx, a)
	case AssertEdgeExists, AssertEdgeAbsent:
		return assertEdge(ctx, tx, a)
	case AssertEdgeCount:
		return assertEdgeCount(ctx, tx, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertNode(ctx context.Context, tx *db.Transaction, a Assertion) error {
	n, err := ir.ParseNode(a.Node)
	if err != nil {
		return err
	}
	ok, err := tx.Exists(ctx, n)
	if err != nil {
		return err
	}
	want := a.Type == AssertExists
	if ok != want {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s %s", n, presence(want)),
			Actual:   presence(ok),
		}
	}
	return nil
}

func assertEdge(ctx context.Context, tx *db.Transaction, a Assertion) error {
	e, err := a.Edge.Edge()
	if err != nil {
		return err
	}
	stored, ok, err := tx.Edges().Edge(ctx, e.ID())
	if err != nil {
		return err
	}
	want := a.Type == AssertEdgeExists
	if ok != want {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s %s", e, presence(want)),
			Actual:   presence(ok),
		}
	}
	if ok && e.Rule != "" && stored.Rule != e.Rule {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s with rule %s", e, e.Rule),
			Actual:   fmt.Sprintf("rule %s", stored.Rule),
		}
	}
	return nil
}

func assertEdgeCount(ctx context.Context, tx *db.Transaction, a Assertion) error {
	var (
		edges []ir.Edge
		err   error
	)
	if a.Name != "" {
		edges, err = tx.Edges().EdgesNamed(ctx, a.Name)
	} else {
		edges, err = tx.Edges().AllEdges(ctx)
	}
	if err != nil {
		return err
	}
	if len(edges) != a.Count {
		labels := make([]string, 0, len(edges))
		for _, e := range edges {
			labels = append(labels, e.String())
		}
		what := "edges"
		if a.Name != "" {
			what = fmt.Sprintf("%q edges", a.Name)
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s", a.Count, what),
			Actual:   fmt.Sprintf("%d: %s", len(edges), strings.Join(labels, ", ")),
		}
	}
	return nil
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "absent"
}
