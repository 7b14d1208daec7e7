package graph

import (
	"slices"
	"strings"

	"github.com/roach88/relgraph/internal/ir"
)

type objectState uint8

const (
	objectSet objectState = iota + 1
	objectRemoved
)

type edgeState struct {
	edge    ir.Edge
	removed bool
}

// keyedEdge is an edge with its identity computed once.
type keyedEdge struct {
	id   string
	edge ir.Edge
}

func compareKeyed(a, b keyedEdge) int { return strings.Compare(a.id, b.id) }

// Delta records one transaction's object and edge changes.
// Later changes to the same node or edge identity replace earlier ones.
// Accessors never mutate the delta and return results in a fixed order.
// Added edges are indexed by source and destination.
type Delta struct {
	objects map[ir.Node]objectState
	edges   map[string]edgeState

	addedBySource      map[ir.Node]map[string]ir.Edge
	addedByDestination map[ir.Node]map[string]ir.Edge
}

// NewDelta returns an empty delta.
func NewDelta() *Delta {
	return &Delta{
		objects:            make(map[ir.Node]objectState),
		edges:              make(map[string]edgeState),
		addedBySource:      make(map[ir.Node]map[string]ir.Edge),
		addedByDestination: make(map[ir.Node]map[string]ir.Edge),
	}
}

// SetObject marks n as set, replacing an earlier removal.
func (d *Delta) SetObject(n ir.Node) {
	d.objects[n] = objectSet
}

// RemoveObject marks n as removed, replacing an earlier set.
func (d *Delta) RemoveObject(n ir.Node) {
	d.objects[n] = objectRemoved
}

// AddEdge marks e as added under its identity, replacing an earlier
// removal or an earlier add with a different rule.
func (d *Delta) AddEdge(e ir.Edge) {
	id := e.ID()
	d.unindex(id)
	d.edges[id] = edgeState{edge: e}
	index(d.addedBySource, e.Source, id, e)
	index(d.addedByDestination, e.Destination, id, e)
}

// RemoveEdge marks the identity as removed, replacing an earlier add.
func (d *Delta) RemoveEdge(id string) {
	d.unindex(id)
	d.edges[id] = edgeState{removed: true}
}

func (d *Delta) unindex(id string) {
	s, ok := d.edges[id]
	if !ok || s.removed {
		return
	}
	unindex(d.addedBySource, s.edge.Source, id)
	unindex(d.addedByDestination, s.edge.Destination, id)
}

func index(m map[ir.Node]map[string]ir.Edge, n ir.Node, id string, e ir.Edge) {
	byID, ok := m[n]
	if !ok {
		byID = make(map[string]ir.Edge)
		m[n] = byID
	}
	byID[id] = e
}

func unindex(m map[ir.Node]map[string]ir.Edge, n ir.Node, id string) {
	byID := m[n]
	delete(byID, id)
	if len(byID) == 0 {
		delete(m, n)
	}
}

// RemovedNodes returns the nodes whose last change was a removal.
func (d *Delta) RemovedNodes() []ir.Node {
	var out []ir.Node
	for n, s := range d.objects {
		if s == objectRemoved {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, ir.CompareNodes)
	return out
}

// SetNodes returns the nodes whose last change was a set.
func (d *Delta) SetNodes() []ir.Node {
	var out []ir.Node
	for n, s := range d.objects {
		if s == objectSet {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, ir.CompareNodes)
	return out
}

// AddedEdges returns the edges whose last change was an add, by identity.
func (d *Delta) AddedEdges() []ir.Edge {
	return edgesOf(d.added())
}

// AddedWithSource returns the added edges whose source is n, by identity.
func (d *Delta) AddedWithSource(n ir.Node) []ir.Edge {
	return edgesOf(keyed(d.addedBySource[n]))
}

// AddedWithDestination returns the added edges whose destination is n, by
// identity.
func (d *Delta) AddedWithDestination(n ir.Node) []ir.Edge {
	return edgesOf(keyed(d.addedByDestination[n]))
}

func (d *Delta) added() []keyedEdge {
	var out []keyedEdge
	for id, s := range d.edges {
		if !s.removed {
			out = append(out, keyedEdge{id: id, edge: s.edge})
		}
	}
	slices.SortFunc(out, compareKeyed)
	return out
}

func keyed(byID map[string]ir.Edge) []keyedEdge {
	out := make([]keyedEdge, 0, len(byID))
	for id, e := range byID {
		out = append(out, keyedEdge{id: id, edge: e})
	}
	slices.SortFunc(out, compareKeyed)
	return out
}

func edgesOf(ks []keyedEdge) []ir.Edge {
	out := make([]ir.Edge, len(ks))
	for i, k := range ks {
		out[i] = k.edge
	}
	return out
}

// RemovedEdgeIDs returns the identities whose last change was a removal.
func (d *Delta) RemovedEdgeIDs() []string {
	var out []string
	for id, s := range d.edges {
		if s.removed {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Added returns the added edge with the given identity.
func (d *Delta) Added(id string) (ir.Edge, bool) {
	s, ok := d.edges[id]
	if !ok || s.removed {
		return ir.Edge{}, false
	}
	return s.edge, true
}

// EdgeRemoved reports whether the identity's last change was a removal.
func (d *Delta) EdgeRemoved(id string) bool {
	s, ok := d.edges[id]
	return ok && s.removed
}

// IsEmpty reports whether nothing was recorded.
func (d *Delta) IsEmpty() bool {
	return len(d.objects) == 0 && len(d.edges) == 0
}

// Reset discards everything recorded.
func (d *Delta) Reset() {
	clear(d.objects)
	clear(d.edges)
	clear(d.addedBySource)
	clear(d.addedByDestination)
}
