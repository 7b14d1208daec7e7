package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relgraph/internal/db"
	"github.com/roach88/relgraph/internal/ir"
)

// Backend names accepted in scenarios.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Scenario is a sequence of transactions against a fresh database,
// followed by assertions on the final state.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// Backend is the record store. Default: sqlite.
	Backend string `yaml:"backend,omitempty"`

	// Order is the resolver frontier order. Default: fifo.
	Order string `yaml:"order,omitempty"`

	// Schema is a CUE edge schema directory. LoadScenario resolves it
	// relative to the scenario file.
	Schema string `yaml:"schema,omitempty"`

	Transactions []TxStep    `yaml:"transactions"`
	Assertions   []Assertion `yaml:"assertions,omitempty"`
}

// TxStep is one transaction.
type TxStep struct {
	Steps []Step `yaml:"steps"`

	// Rollback discards the transaction instead of committing it.
	Rollback bool `yaml:"rollback,omitempty"`

	// Expect checks the commit's resolution.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// Step is a single operation. Exactly one operation field is set.
type Step struct {
	Set        string         `yaml:"set,omitempty"`
	Remove     string         `yaml:"remove,omitempty"`
	RemoveAll  string         `yaml:"remove_all,omitempty"`
	AddEdge    *EdgeSpec      `yaml:"add_edge,omitempty"`
	RemoveEdge *EdgeSpec      `yaml:"remove_edge,omitempty"`
	Value      map[string]any `yaml:"value,omitempty"`

	// Error is the error code the step must fail with, e.g.
	// INVALID_EDGE_REFERENCE.
	Error string `yaml:"error,omitempty"`
}

// EdgeSpec names an edge in a scenario. Rule may be empty when a schema
// supplies it, and is ignored by remove_edge.
type EdgeSpec struct {
	Name        string `yaml:"name"`
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	Rule        string `yaml:"rule,omitempty"`
}

// Edge parses the endpoints into an ir.Edge.
func (s EdgeSpec) Edge() (ir.Edge, error) {
	src, err := ir.ParseNode(s.Source)
	if err != nil {
		return ir.Edge{}, fmt.Errorf("source: %w", err)
	}
	dst, err := ir.ParseNode(s.Destination)
	if err != nil {
		return ir.Edge{}, fmt.Errorf("destination: %w", err)
	}
	return ir.Edge{Name: s.Name, Source: src, Destination: dst, Rule: ir.DeleteRule(s.Rule)}, nil
}

// ExpectClause checks a committed transaction. Nil lists are not checked;
// an empty list must match exactly.
type ExpectClause struct {
	Deleted       []string `yaml:"deleted,omitempty"`
	Cascaded      []string `yaml:"cascaded,omitempty"`
	Notifications []string `yaml:"notifications,omitempty"`
	Discarded     []string `yaml:"discarded,omitempty"`
}

// Assertion checks the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Node is the record checked by exists and absent.
	Node string `yaml:"node,omitempty"`

	// Edge is the edge checked by edge_exists and edge_absent.
	Edge *EdgeSpec `yaml:"edge,omitempty"`

	// Name restricts edge_count to edges with this name.
	Name string `yaml:"name,omitempty"`

	// Count is the expected edge_count.
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertExists     = "exists"
	AssertAbsent     = "absent"
	AssertEdgeExists = "edge_exists"
	AssertEdgeAbsent = "edge_absent"
	AssertEdgeCount  = "edge_count"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if s.Schema != "" && !filepath.IsAbs(s.Schema) {
		s.Schema = filepath.Join(filepath.Dir(path), s.Schema)
	}

	if err := Validate(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenarios in %s", dir)
	}
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Validate checks that required fields are present and well formed.
func Validate(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch s.Backend {
	case "", BackendSQLite, BackendBadger:
	default:
		return fmt.Errorf("backend: unknown %q", s.Backend)
	}
	switch s.Order {
	case "", "fifo", "lifo":
	default:
		return fmt.Errorf("order: unknown %q", s.Order)
	}
	if len(s.Transactions) == 0 {
		return fmt.Errorf("transactions list is required and must be non-empty")
	}

	for i, tx := range s.Transactions {
		if len(tx.Steps) == 0 {
			return fmt.Errorf("transactions[%d]: steps list is required and must be non-empty", i)
		}
		if tx.Rollback && tx.Expect != nil {
			return fmt.Errorf("transactions[%d]: expect cannot be used with rollback", i)
		}
		for j, step := range tx.Steps {
			if err := validateStep(step); err != nil {
				return fmt.Errorf("transactions[%d].steps[%d]: %w", i, j, err)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	ops := 0
	for _, set := range []bool{
		step.Set != "", step.Remove != "", step.RemoveAll != "",
		step.AddEdge != nil, step.RemoveEdge != nil,
	} {
		if set {
			ops++
		}
	}
	if ops != 1 {
		return fmt.Errorf("exactly one of set, remove, remove_all, add_edge, remove_edge is required")
	}
	if step.Value != nil && step.Set == "" {
		return fmt.Errorf("value is only valid with set")
	}

	for _, n := range []string{step.Set, step.Remove} {
		if n == "" {
			continue
		}
		if _, err := ir.ParseNode(n); err != nil {
			return err
		}
	}
	for _, e := range []*EdgeSpec{step.AddEdge, step.RemoveEdge} {
		if e == nil {
			continue
		}
		if _, err := e.Edge(); err != nil {
			return fmt.Errorf("edge %q: %w", e.Name, err)
		}
	}

	switch db.ErrorCode(step.Error) {
	case "", db.ErrCodeInvalidEdgeReference, db.ErrCodeInvalidNode:
	default:
		return fmt.Errorf("error: unsupported code %q", step.Error)
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertExists, AssertAbsent:
		if _, err := ir.ParseNode(a.Node); err != nil {
			return fmt.Errorf("%s: %w", a.Type, err)
		}
	case AssertEdgeExists, AssertEdgeAbsent:
		if a.Edge == nil {
			return fmt.Errorf("%s: edge is required", a.Type)
		}
		if _, err := a.Edge.Edge(); err != nil {
			return fmt.Errorf("%s: %w", a.Type, err)
		}
	case AssertEdgeCount:
		if a.Count < 0 {
			return fmt.Errorf("edge_count: count must be non-negative")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
