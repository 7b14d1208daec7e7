package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/relgraph/internal/ir"
)

// Snapshot renders a result as canonical JSON for golden comparison.
// The backend is left out so every backend shares one golden file.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	txs := make([]any, len(result.Transactions))
	for i, tx := range result.Transactions {
		m := map[string]any{"outcome": tx.Outcome}
		if tx.Outcome == OutcomeCommitted {
			m["deleted"] = orEmpty(tx.Deleted)
			m["cascaded"] = orEmpty(tx.Cascaded)
			m["edges_inserted"] = orEmpty(tx.EdgesInserted)
			m["edges_removed"] = orEmpty(tx.EdgesRemoved)
			m["edges_discarded"] = orEmpty(tx.EdgesDiscarded)
			m["notifications"] = orEmpty(tx.Notifications)
			m["steps"] = tx.Steps
		}
		txs[i] = m
	}
	return ir.MarshalCanonical(map[string]any{
		"scenario":     scenarioName,
		"transactions": txs,
	})
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// RunWithGolden runs the scenario and compares its snapshot with
// testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, s *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), s, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, s.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
