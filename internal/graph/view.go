package graph

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/relgraph/internal/db"
	"github.com/roach88/relgraph/internal/ir"
)

// View is the working edge set: persisted edges with a delta applied.
// An added edge replaces a persisted edge of the same identity, so a rule
// change is visible before commit. Lookups against the persisted table
// are cached; the view assumes the table does not change underneath it.
type View struct {
	table db.EdgeReader
	delta *Delta

	bySource      map[ir.Node][]keyedEdge
	byDestination map[ir.Node][]keyedEdge
}

// NewView returns the working view of table with delta applied.
func NewView(table db.EdgeReader, delta *Delta) *View {
	return &View{
		table:         table,
		delta:         delta,
		bySource:      make(map[ir.Node][]keyedEdge),
		byDestination: make(map[ir.Node][]keyedEdge),
	}
}

// EdgesWithSource returns working edges whose source is n, by identity.
func (v *View) EdgesWithSource(ctx context.Context, n ir.Node) ([]ir.Edge, error) {
	persisted, ok := v.bySource[n]
	if !ok {
		edges, err := v.table.EdgesWithSource(ctx, n)
		if err != nil {
			return nil, db.NewStoreIOError("edges with source", n, err)
		}
		persisted = keyEdges(edges)
		v.bySource[n] = persisted
	}
	return v.merge(persisted, keyed(v.delta.addedBySource[n])), nil
}

// EdgesWithDestination returns working edges whose destination is n, by
// identity.
func (v *View) EdgesWithDestination(ctx context.Context, n ir.Node) ([]ir.Edge, error) {
	persisted, ok := v.byDestination[n]
	if !ok {
		edges, err := v.table.EdgesWithDestination(ctx, n)
		if err != nil {
			return nil, db.NewStoreIOError("edges with destination", n, err)
		}
		persisted = keyEdges(edges)
		v.byDestination[n] = persisted
	}
	return v.merge(persisted, keyed(v.delta.addedByDestination[n])), nil
}

// EdgesNamed returns working edges with the given name, by identity.
func (v *View) EdgesNamed(ctx context.Context, name string) ([]ir.Edge, error) {
	persisted, err := v.table.EdgesNamed(ctx, name)
	if err != nil {
		return nil, db.NewStoreIOError(fmt.Sprintf("edges named %q", name), ir.Node{}, err)
	}
	var added []keyedEdge
	for _, k := range v.delta.added() {
		if k.edge.Name == name {
			added = append(added, k)
		}
	}
	return v.merge(keyEdges(persisted), added), nil
}

// All returns every working edge, by identity.
func (v *View) All(ctx context.Context) ([]ir.Edge, error) {
	persisted, err := v.table.AllEdges(ctx)
	if err != nil {
		return nil, db.NewStoreIOError("all edges", ir.Node{}, err)
	}
	return v.merge(keyEdges(persisted), v.delta.added()), nil
}

// Edge returns the working edge with the given identity.
func (v *View) Edge(ctx context.Context, id string) (ir.Edge, bool, error) {
	if e, ok := v.delta.Added(id); ok {
		return e, true, nil
	}
	if v.delta.EdgeRemoved(id) {
		return ir.Edge{}, false, nil
	}
	return v.Persisted(ctx, id)
}

// Persisted reports the stored version of an edge, ignoring the delta.
func (v *View) Persisted(ctx context.Context, id string) (ir.Edge, bool, error) {
	e, ok, err := v.table.Edge(ctx, id)
	if err != nil {
		return ir.Edge{}, false, db.NewEdgeStoreIOError("edge", id, err)
	}
	return e, ok, nil
}

// merge overlays the delta on persisted edges and adds the matching added
// edges that are not yet stored. Both inputs carry their identities.
func (v *View) merge(persisted, added []keyedEdge) []ir.Edge {
	out := make([]keyedEdge, 0, len(persisted)+len(added))
	seen := make(map[string]bool, len(persisted))
	for _, k := range persisted {
		seen[k.id] = true
		if v.delta.EdgeRemoved(k.id) {
			continue
		}
		if e, ok := v.delta.Added(k.id); ok {
			k.edge = e
		}
		out = append(out, k)
	}
	for _, k := range added {
		if !seen[k.id] {
			out = append(out, k)
		}
	}
	slices.SortFunc(out, compareKeyed)
	return edgesOf(out)
}

func keyEdges(edges []ir.Edge) []keyedEdge {
	out := make([]keyedEdge, len(edges))
	for i, e := range edges {
		out[i] = keyedEdge{id: e.ID(), edge: e}
	}
	return out
}
