package ir

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// DeleteRule decides what happens to one endpoint of an edge when the
// other endpoint is deleted.
type DeleteRule string

const (
	// RuleNone prunes the edge without touching the surviving endpoint.
	RuleNone DeleteRule = "none"

	// RuleDeleteDestinationIfSourceDeleted deletes the destination when the
	// source is deleted.
	RuleDeleteDestinationIfSourceDeleted DeleteRule = "delete_destination_if_source_deleted"

	// RuleDeleteSourceIfDestinationDeleted deletes the source when the
	// destination is deleted.
	RuleDeleteSourceIfDestinationDeleted DeleteRule = "delete_source_if_destination_deleted"

	// RuleDeleteDestinationIfAllSourcesDeleted deletes the destination once
	// every edge with the same name and rule pointing at it has lost its source.
	RuleDeleteDestinationIfAllSourcesDeleted DeleteRule = "delete_destination_if_all_sources_deleted"

	// RuleDeleteSourceIfAllDestinationsDeleted deletes the source once every
	// edge with the same name and rule leaving it has lost its destination.
	RuleDeleteSourceIfAllDestinationsDeleted DeleteRule = "delete_source_if_all_destinations_deleted"

	// RuleNotifyIfSourceDeleted reports the source deletion to the
	// extension's notify hook; the destination is kept.
	RuleNotifyIfSourceDeleted DeleteRule = "notify_if_source_deleted"

	// RuleNotifyIfDestinationDeleted reports the destination deletion to the
	// extension's notify hook; the source is kept.
	RuleNotifyIfDestinationDeleted DeleteRule = "notify_if_destination_deleted"
)

// DeleteRules lists every known rule in declaration order.
var DeleteRules = []DeleteRule{
	RuleNone,
	RuleDeleteDestinationIfSourceDeleted,
	RuleDeleteSourceIfDestinationDeleted,
	RuleDeleteDestinationIfAllSourcesDeleted,
	RuleDeleteSourceIfAllDestinationsDeleted,
	RuleNotifyIfSourceDeleted,
	RuleNotifyIfDestinationDeleted,
}

// Valid reports whether r is a known rule.
func (r DeleteRule) Valid() bool {
	return slices.Contains(DeleteRules, r)
}

// Edge is a directed, named, rule-bearing relationship between two nodes.
// Names are not unique; identity is (name, source, destination).
type Edge struct {
	Name        string     `json:"name" yaml:"name"`
	Source      Node       `json:"source" yaml:"source"`
	Destination Node       `json:"destination" yaml:"destination"`
	Rule        DeleteRule `json:"rule" yaml:"rule"`
}

// ID returns the content-addressed identity of the edge.
func (e Edge) ID() string {
	return EdgeID(e.Name, e.Source, e.Destination)
}

// Touches reports whether n is either endpoint of e.
func (e Edge) Touches(n Node) bool {
	return e.Source == n || e.Destination == n
}

// Validate checks that the edge is well formed. Callers fill in an empty
// rule before validating.
func (e Edge) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("edge name is empty")
	}
	if !utf8.ValidString(e.Name) {
		return fmt.Errorf("edge name %q: invalid UTF-8", e.Name)
	}
	if strings.ContainsRune(e.Name, 0) {
		return fmt.Errorf("edge name %q contains NUL byte", e.Name)
	}
	if err := e.Source.Validate(); err != nil {
		return fmt.Errorf("edge %q source: %w", e.Name, err)
	}
	if err := e.Destination.Validate(); err != nil {
		return fmt.Errorf("edge %q destination: %w", e.Name, err)
	}
	if !e.Rule.Valid() {
		return fmt.Errorf("edge %q: unknown delete rule %q", e.Name, e.Rule)
	}
	return nil
}

// String renders the edge for logs: name(Source -> Destination).
func (e Edge) String() string {
	return fmt.Sprintf("%s(%s -> %s)", e.Name, e.Source, e.Destination)
}

// SortEdges orders edges by identity for deterministic output.
// Each ID is hashed once.
func SortEdges(edges []Edge) {
	if len(edges) < 2 {
		return
	}
	ids := make(map[Edge]string, len(edges))
	for _, e := range edges {
		ids[e] = e.ID()
	}
	slices.SortFunc(edges, func(a, b Edge) int {
		return strings.Compare(ids[a], ids[b])
	})
}
