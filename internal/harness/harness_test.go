package harness

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relgraph/internal/ir"
)

var backends = []string{BackendSQLite, BackendBadger}

func TestScenarios(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)

	for _, s := range scenarios {
		for _, backend := range backends {
			t.Run(s.Name+"/"+backend, func(t *testing.T) {
				result, err := RunWithGolden(t, s, WithBackend(backend))
				require.NoError(t, err)
				assert.True(t, result.Pass, "errors: %v", result.Errors)
				assert.Equal(t, backend, result.Backend)
			})
		}
	}
}

func cascadeScenario() *Scenario {
	return &Scenario{
		Name:        "inline",
		Description: "author owns book",
		Transactions: []TxStep{
			{Steps: []Step{
				{Set: "Author/a"},
				{Set: "Book/b", Value: map[string]any{"title": "Dune"}},
				{AddEdge: &EdgeSpec{
					Name:        "owns",
					Source:      "Author/a",
					Destination: "Book/b",
					Rule:        string(ir.RuleDeleteDestinationIfSourceDeleted),
				}},
			}},
			{Steps: []Step{{Remove: "Author/a"}}},
		},
	}
}

func TestRun_Resolution(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			result, err := Run(context.Background(), cascadeScenario(), WithBackend(backend))
			require.NoError(t, err)
			require.True(t, result.Pass, "errors: %v", result.Errors)
			require.Len(t, result.Transactions, 2)

			tx := result.Transactions[1]
			assert.Equal(t, OutcomeCommitted, tx.Outcome)
			assert.Equal(t, []string{"Author/a", "Book/b"}, tx.Deleted)
			assert.Equal(t, []string{"Book/b"}, tx.Cascaded)
			assert.Equal(t, []string{"owns(Author/a -> Book/b)"}, tx.EdgesRemoved)
			assert.Equal(t, 2, tx.Steps)

			require.NotNil(t, tx.Resolution)
			assert.Equal(t, []ir.Node{ir.N("Book", "b")}, tx.Resolution.Cascaded)
		})
	}
}

func TestRun_Rollback(t *testing.T) {
	s := cascadeScenario()
	s.Transactions[1].Rollback = true
	s.Assertions = []Assertion{
		{Type: AssertExists, Node: "Book/b"},
		{Type: AssertEdgeExists, Edge: &EdgeSpec{
			Name:        "owns",
			Source:      "Author/a",
			Destination: "Book/b",
			Rule:        string(ir.RuleDeleteDestinationIfSourceDeleted),
		}},
		{Type: AssertEdgeCount, Name: "owns", Count: 1},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, TxResult{Outcome: OutcomeRolledBack}, result.Transactions[1])
}

func TestRun_ExpectMismatch(t *testing.T) {
	s := cascadeScenario()
	s.Transactions[1].Expect = &ExpectClause{
		Deleted:  []string{"Author/a"},
		Cascaded: []string{"Book/b"},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "transactions[1].expect.deleted")
}

func TestRun_StepErrors(t *testing.T) {
	s := &Scenario{
		Name:        "step_errors",
		Description: "step error reporting",
		Transactions: []TxStep{{Steps: []Step{
			{Set: "Author/a"},
			// Succeeds although a failure is expected.
			{AddEdge: &EdgeSpec{Name: "self", Source: "Author/a", Destination: "Author/a"}, Error: "INVALID_EDGE_REFERENCE"},
			// Fails although no failure is expected.
			{AddEdge: &EdgeSpec{Source: "Author/a", Destination: "Author/a"}},
			// Fails as expected.
			{AddEdge: &EdgeSpec{Source: "Author/a", Destination: "Author/a"}, Error: "INVALID_EDGE_REFERENCE"},
		}}},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "transactions[0].steps[1]: expected INVALID_EDGE_REFERENCE")
	assert.Contains(t, result.Errors[1], "transactions[0].steps[2]")

	// The transaction still commits.
	assert.Equal(t, []string{"self(Author/a -> Author/a)"}, result.Transactions[0].EdgesInserted)
}

func TestRun_AssertionFailures(t *testing.T) {
	s := cascadeScenario()
	s.Assertions = []Assertion{
		{Type: AssertExists, Node: "Book/b"},
		{Type: AssertAbsent, Node: "Author/a"},
		{Type: AssertEdgeCount, Count: 3},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "assertions[0]: Assertion failed: exists")
	assert.Contains(t, result.Errors[1], "Expected: 3 edges")
}

func TestRun_EdgeRuleAssertion(t *testing.T) {
	s := cascadeScenario()
	s.Transactions = s.Transactions[:1]
	s.Assertions = []Assertion{
		{Type: AssertEdgeExists, Edge: &EdgeSpec{
			Name:        "owns",
			Source:      "Author/a",
			Destination: "Book/b",
			Rule:        string(ir.RuleNone),
		}},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "rule delete_destination_if_source_deleted")
}

func TestRun_UnknownBackend(t *testing.T) {
	_, err := Run(context.Background(), cascadeScenario(), WithBackend("postgres"))
	assert.ErrorContains(t, err, `unknown backend "postgres"`)
}

func TestRun_BadSchema(t *testing.T) {
	s := cascadeScenario()
	s.Schema = t.TempDir()
	_, err := Run(context.Background(), s)
	assert.ErrorContains(t, err, "load schema")
}

func TestRun_Logger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := Run(context.Background(), cascadeScenario(), WithLogger(logger))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "scenario=inline")
	assert.Contains(t, buf.String(), "scenario finished")
}
