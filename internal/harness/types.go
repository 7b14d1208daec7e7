package harness

import (
	"fmt"

	"github.com/roach88/relgraph/internal/graph"
)

// Transaction outcomes.
const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
)

// TxResult is what one scenario transaction did. Nodes are written as
// Collection/key and edges as name(Source -> Destination); every list is
// sorted.
type TxResult struct {
	Outcome        string   `json:"outcome"`
	Deleted        []string `json:"deleted,omitempty"`
	Cascaded       []string `json:"cascaded,omitempty"`
	EdgesInserted  []string `json:"edges_inserted,omitempty"`
	EdgesRemoved   []string `json:"edges_removed,omitempty"`
	EdgesDiscarded []string `json:"edges_discarded,omitempty"`
	Notifications  []string `json:"notifications,omitempty"`
	Steps          int      `json:"steps,omitempty"`

	// Resolution is the commit's raw resolution; nil when rolled back.
	Resolution *graph.Resolution `json:"-"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Backend is the record store the scenario ran on.
	Backend string `json:"backend"`

	// Transactions holds one entry per scenario transaction, in order.
	Transactions []TxResult `json:"transactions"`

	// Errors holds failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult(backend string) *Result {
	return &Result{
		Pass:         true,
		Backend:      backend,
		Transactions: []TxResult{},
		Errors:       []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddErrorf is AddError with formatting.
func (r *Result) AddErrorf(format string, args ...any) {
	r.AddError(fmt.Sprintf(format, args...))
}
