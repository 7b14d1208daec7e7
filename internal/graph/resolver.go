package graph

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/relgraph/internal/db"
	"github.com/roach88/relgraph/internal/ir"
)

// Order selects how the resolver pops its frontier. The resolved set is
// the same for every order.
type Order int

const (
	// FIFO processes nodes in the order they were reached.
	FIFO Order = iota
	// LIFO processes the most recently reached node first.
	LIFO
)

func (o Order) String() string {
	switch o {
	case FIFO:
		return "fifo"
	case LIFO:
		return "lifo"
	default:
		return fmt.Sprintf("Order(%d)", int(o))
	}
}

// ParseOrder parses "fifo" or "lifo". The empty string is FIFO.
func ParseOrder(s string) (Order, error) {
	switch s {
	case "", "fifo":
		return FIFO, nil
	case "lifo":
		return LIFO, nil
	default:
		return FIFO, fmt.Errorf("unknown order %q", s)
	}
}

// Notification reports a deleted endpoint of a notify-only edge whose
// other endpoint survived the commit.
type Notification struct {
	Edge    ir.Edge `json:"edge" yaml:"edge"`
	Deleted ir.Node `json:"deleted" yaml:"deleted"`
}

// Resolution describes what one commit did to records and edges.
// Every slice is sorted.
type Resolution struct {
	// Deleted holds every node removed by the transaction, explicitly or
	// by cascade.
	Deleted []ir.Node `json:"deleted" yaml:"deleted"`
	// Cascaded is the subset of Deleted that the caller did not remove.
	Cascaded []ir.Node `json:"cascaded" yaml:"cascaded"`
	// EdgesInserted holds identities written to the edge table.
	EdgesInserted []string `json:"edges_inserted" yaml:"edges_inserted"`
	// EdgesRemoved holds identities pruned from the edge table.
	EdgesRemoved []string `json:"edges_removed" yaml:"edges_removed"`
	// EdgesDiscarded holds added edges that were never persisted because
	// an endpoint was deleted or does not exist.
	EdgesDiscarded []string `json:"edges_discarded" yaml:"edges_discarded"`
	// Notifications lists notify-only edges that fired.
	Notifications []Notification `json:"notifications" yaml:"notifications"`
	// Steps is the number of frontier pops.
	Steps int `json:"steps" yaml:"steps"`
}

// normalize replaces nil slices with empty ones so encoded resolutions
// are stable.
func (r *Resolution) normalize() {
	if r.Deleted == nil {
		r.Deleted = []ir.Node{}
	}
	if r.Cascaded == nil {
		r.Cascaded = []ir.Node{}
	}
	if r.EdgesInserted == nil {
		r.EdgesInserted = []string{}
	}
	if r.EdgesRemoved == nil {
		r.EdgesRemoved = []string{}
	}
	if r.EdgesDiscarded == nil {
		r.EdgesDiscarded = []string{}
	}
	if r.Notifications == nil {
		r.Notifications = []Notification{}
	}
}

// Closure is the result of the closure phase, before anything is written.
type Closure struct {
	removed map[ir.Node]bool
	seed    map[ir.Node]bool

	// watch collects notify-only edges whose watched endpoint is in R.
	watch []Notification

	steps int
}

// Contains reports whether n is in the resolved set.
func (c *Closure) Contains(n ir.Node) bool { return c.removed[n] }

// Nodes returns the resolved set, sorted.
func (c *Closure) Nodes() []ir.Node {
	out := make([]ir.Node, 0, len(c.removed))
	for n := range c.removed {
		out = append(out, n)
	}
	slices.SortFunc(out, ir.CompareNodes)
	return out
}

// Cascaded returns the resolved nodes that were not in the seed, sorted.
func (c *Closure) Cascaded() []ir.Node {
	var out []ir.Node
	for n := range c.removed {
		if !c.seed[n] {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, ir.CompareNodes)
	return out
}

// Steps returns the number of frontier pops.
func (c *Closure) Steps() int { return c.steps }

// Notifications returns the notify-only edges whose surviving endpoint
// was not deleted, ordered by edge identity.
func (c *Closure) Notifications() []Notification {
	type keyed struct {
		id string
		n  Notification
	}
	var fired []keyed
	for _, w := range c.watch {
		other := w.Edge.Source
		if other == w.Deleted {
			other = w.Edge.Destination
		}
		if !c.removed[other] {
			fired = append(fired, keyed{id: w.Edge.ID(), n: w})
		}
	}
	slices.SortFunc(fired, func(a, b keyed) int {
		return strings.Compare(a.id, b.id)
	})
	out := make([]Notification, len(fired))
	for i, k := range fired {
		out[i] = k.n
	}
	return out
}

// edgeSet is the part of the working view the closure needs.
type edgeSet interface {
	EdgesWithSource(ctx context.Context, n ir.Node) ([]ir.Edge, error)
	EdgesWithDestination(ctx context.Context, n ir.Node) ([]ir.Edge, error)
}

// Resolver computes cascades over a working edge set.
type Resolver struct {
	edges edgeSet
	order Order
}

// NewResolver returns a resolver over edges.
func NewResolver(edges edgeSet, order Order) *Resolver {
	return &Resolver{edges: edges, order: order}
}

// Close computes R, the closure of seed under the delete rules.
func (r *Resolver) Close(ctx context.Context, seed []ir.Node) (*Closure, error) {
	c := &Closure{
		removed: make(map[ir.Node]bool, len(seed)),
		seed:    make(map[ir.Node]bool, len(seed)),
	}

	frontier := make([]ir.Node, 0, len(seed))
	enqueue := func(n ir.Node) {
		if c.removed[n] {
			return
		}
		c.removed[n] = true
		frontier = append(frontier, n)
	}
	for _, n := range seed {
		c.seed[n] = true
		enqueue(n)
	}

	for len(frontier) > 0 {
		var n ir.Node
		if r.order == LIFO {
			n = frontier[len(frontier)-1]
			frontier = frontier[:len(frontier)-1]
		} else {
			n = frontier[0]
			frontier = frontier[1:]
		}
		c.steps++

		outgoing, err := r.edges.EdgesWithSource(ctx, n)
		if err != nil {
			return nil, err
		}
		for _, e := range outgoing {
			switch e.Rule {
			case ir.RuleDeleteDestinationIfSourceDeleted:
				enqueue(e.Destination)
			case ir.RuleDeleteDestinationIfAllSourcesDeleted:
				all, err := r.allGone(ctx, c, e, e.Destination, true)
				if err != nil {
					return nil, err
				}
				if all {
					enqueue(e.Destination)
				}
			case ir.RuleNotifyIfSourceDeleted:
				c.watch = append(c.watch, Notification{Edge: e, Deleted: n})
			}
		}

		incoming, err := r.edges.EdgesWithDestination(ctx, n)
		if err != nil {
			return nil, err
		}
		for _, e := range incoming {
			switch e.Rule {
			case ir.RuleDeleteSourceIfDestinationDeleted:
				enqueue(e.Source)
			case ir.RuleDeleteSourceIfAllDestinationsDeleted:
				all, err := r.allGone(ctx, c, e, e.Source, false)
				if err != nil {
					return nil, err
				}
				if all {
					enqueue(e.Source)
				}
			case ir.RuleNotifyIfDestinationDeleted:
				c.watch = append(c.watch, Notification{Edge: e, Deleted: n})
			}
		}
	}
	return c, nil
}

// allGone reports whether every working edge sharing e's name and rule
// that points at target (incoming when viaSource, outgoing otherwise) has
// its far endpoint in R.
func (r *Resolver) allGone(ctx context.Context, c *Closure, e ir.Edge, target ir.Node, viaSource bool) (bool, error) {
	if c.removed[target] {
		return false, nil
	}
	var (
		edges []ir.Edge
		err   error
	)
	if viaSource {
		edges, err = r.edges.EdgesWithDestination(ctx, target)
	} else {
		edges, err = r.edges.EdgesWithSource(ctx, target)
	}
	if err != nil {
		return false, err
	}
	for _, other := range edges {
		if other.Name != e.Name || other.Rule != e.Rule {
			continue
		}
		far := other.Destination
		if viaSource {
			far = other.Source
		}
		if !c.removed[far] {
			return false, nil
		}
	}
	return true, nil
}

// records is the part of the host transaction the apply phase uses.
// Removals go through the host so other extensions see them.
type records interface {
	Exists(ctx context.Context, n ir.Node) (bool, error)
	Remove(ctx context.Context, n ir.Node) error
}

// Apply writes a closure: deletes the records in R that still exist,
// prunes edges touching R, applies the delta's edge removals, and inserts
// the added edges that survive. Any error leaves the caller to roll back.
func Apply(ctx context.Context, c *Closure, delta *Delta, view *View, recs records, table db.EdgeWriter) (*Resolution, error) {
	res := &Resolution{
		Deleted:  c.Nodes(),
		Cascaded: c.Cascaded(),
		Steps:    c.steps,
	}

	for _, n := range res.Deleted {
		ok, err := recs.Exists(ctx, n)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := recs.Remove(ctx, n); err != nil {
				return nil, err
			}
		}
	}

	removed := make(map[string]bool)
	for _, n := range res.Deleted {
		for _, lookup := range []func(context.Context, ir.Node) ([]ir.Edge, error){table.EdgesWithSource, table.EdgesWithDestination} {
			stored, err := lookup(ctx, n)
			if err != nil {
				return nil, db.NewStoreIOError("prune edges", n, err)
			}
			for _, e := range stored {
				removed[e.ID()] = true
			}
		}
		if err := table.RemoveAllEdges(ctx, n); err != nil {
			return nil, db.NewStoreIOError("prune edges", n, err)
		}
	}

	for _, id := range delta.RemovedEdgeIDs() {
		if removed[id] {
			continue
		}
		_, ok, err := view.Persisted(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := table.RemoveEdge(ctx, id); err != nil {
			return nil, db.NewEdgeStoreIOError("remove edge", id, err)
		}
		removed[id] = true
	}

	for _, k := range delta.added() {
		id, e := k.id, k.edge
		keep, err := survives(ctx, c, recs, e)
		if err != nil {
			return nil, err
		}
		if !keep {
			if !removed[id] {
				res.EdgesDiscarded = append(res.EdgesDiscarded, id)
			}
			continue
		}

		stored, ok, err := view.Persisted(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok && stored.Rule == e.Rule {
			continue
		}
		if ok {
			if err := table.RemoveEdge(ctx, id); err != nil {
				return nil, db.NewEdgeStoreIOError("replace edge", id, err)
			}
		}
		if err := table.InsertEdge(ctx, e); err != nil {
			return nil, db.NewEdgeStoreIOError("insert edge", id, err)
		}
		res.EdgesInserted = append(res.EdgesInserted, id)
	}

	res.EdgesRemoved = sortedKeys(removed)
	res.Notifications = c.Notifications()
	res.normalize()
	return res, nil
}

// survives reports whether an added edge can be persisted: neither
// endpoint is in R and both exist.
func survives(ctx context.Context, c *Closure, recs records, e ir.Edge) (bool, error) {
	if c.Contains(e.Source) || c.Contains(e.Destination) {
		return false, nil
	}
	for _, n := range []ir.Node{e.Source, e.Destination} {
		ok, err := recs.Exists(ctx, n)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
