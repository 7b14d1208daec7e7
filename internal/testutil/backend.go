package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relgraph/internal/db"
	"github.com/roach88/relgraph/internal/ir"
)

// BackendFactory opens a fresh, empty backend. The factory registers any
// cleanup it needs with t.Cleanup.
type BackendFactory func(t *testing.T) db.Backend

// RunBackendContract runs the behaviour every db.Backend must share.
// Backend packages call it from their own tests:
//
//	func TestContract(t *testing.T) {
//	    testutil.RunBackendContract(t, func(t *testing.T) db.Backend { ... })
//	}
func RunBackendContract(t *testing.T, open BackendFactory) {
	t.Run("records", func(t *testing.T) { testRecords(t, open(t)) })
	t.Run("all_keys_sorted", func(t *testing.T) { testAllKeysSorted(t, open(t)) })
	t.Run("edge_insert_idempotent", func(t *testing.T) { testEdgeInsertIdempotent(t, open(t)) })
	t.Run("edge_lookups", func(t *testing.T) { testEdgeLookups(t, open(t)) })
	t.Run("edge_remove", func(t *testing.T) { testEdgeRemove(t, open(t)) })
	t.Run("rollback_discards", func(t *testing.T) { testRollbackDiscards(t, open(t)) })
	t.Run("commit_persists", func(t *testing.T) { testCommitPersists(t, open(t)) })
}

func write(t *testing.T, b db.Backend, fn func(ctx context.Context, w db.WriteTx)) {
	t.Helper()
	ctx := context.Background()
	w, err := b.BeginWrite(ctx)
	require.NoError(t, err)
	fn(ctx, w)
	require.NoError(t, w.Commit())
}

func read(t *testing.T, b db.Backend, fn func(ctx context.Context, r db.ReadTx)) {
	t.Helper()
	ctx := context.Background()
	r, err := b.BeginRead(ctx)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Rollback()) }()
	fn(ctx, r)
}

func testRecords(t *testing.T, b db.Backend) {
	a := ir.N("Author", "a")

	write(t, b, func(ctx context.Context, w db.WriteTx) {
		require.NoError(t, w.Set(ctx, a, []byte("v1")))

		// Own writes are visible.
		v, ok, err := w.Get(ctx, a)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v1"), v)

		require.NoError(t, w.Set(ctx, a, []byte("v2")))
		require.NoError(t, w.Remove(ctx, ir.N("Author", "missing")), "removing an absent record is a no-op")
	})

	read(t, b, func(ctx context.Context, r db.ReadTx) {
		v, ok, err := r.Get(ctx, a)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v2"), v)

		ok, err = r.Exists(ctx, ir.N("Author", "missing"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	write(t, b, func(ctx context.Context, w db.WriteTx) {
		require.NoError(t, w.Remove(ctx, a))
		ok, err := w.Exists(ctx, a)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func testAllKeysSorted(t *testing.T, b db.Backend) {
	write(t, b, func(ctx context.Context, w db.WriteTx) {
		for _, k := range []string{"c", "a", "B", "b"} {
			require.NoError(t, w.Set(ctx, ir.N("Book", k), []byte("{}")))
		}
		require.NoError(t, w.Set(ctx, ir.N("Books", "z"), []byte("{}")))
	})

	read(t, b, func(ctx context.Context, r db.ReadTx) {
		keys, err := r.AllKeys(ctx, "Book")
		require.NoError(t, err)
		assert.Equal(t, []string{"B", "a", "b", "c"}, keys)

		keys, err = r.AllKeys(ctx, "Empty")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func testEdgeInsertIdempotent(t *testing.T, b db.Backend) {
	e := ir.Edge{
		Name:        "wrote",
		Source:      ir.N("Author", "a"),
		Destination: ir.N("Book", "b"),
		Rule:        ir.RuleDeleteDestinationIfSourceDeleted,
	}

	write(t, b, func(ctx context.Context, w db.WriteTx) {
		require.NoError(t, w.InsertEdge(ctx, e))
		require.NoError(t, w.InsertEdge(ctx, e))

		// Same identity, different rule: the stored edge wins.
		changed := e
		changed.Rule = ir.RuleNone
		require.NoError(t, w.InsertEdge(ctx, changed))
	})

	read(t, b, func(ctx context.Context, r db.ReadTx) {
		all, err := r.AllEdges(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, e, all[0])

		got, ok, err := r.Edge(ctx, e.ID())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, e, got)

		_, ok, err = r.Edge(ctx, "unknown")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func testEdgeLookups(t *testing.T, b db.Backend) {
	a, b1, b2 := ir.N("Author", "a"), ir.N("Book", "1"), ir.N("Book", "2")
	edges := []ir.Edge{
		{Name: "wrote", Source: a, Destination: b1, Rule: ir.RuleDeleteDestinationIfSourceDeleted},
		{Name: "wrote", Source: a, Destination: b2, Rule: ir.RuleNone},
		{Name: "cites", Source: b2, Destination: b1, Rule: ir.RuleNone},
	}

	write(t, b, func(ctx context.Context, w db.WriteTx) {
		for _, e := range edges {
			require.NoError(t, w.InsertEdge(ctx, e))
		}
	})

	sorted := func(es ...ir.Edge) []ir.Edge {
		out := append([]ir.Edge(nil), es...)
		ir.SortEdges(out)
		return out
	}

	read(t, b, func(ctx context.Context, r db.ReadTx) {
		got, err := r.EdgesWithSource(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, sorted(edges[0], edges[1]), got)

		got, err = r.EdgesWithDestination(ctx, b1)
		require.NoError(t, err)
		assert.Equal(t, sorted(edges[0], edges[2]), got)

		got, err = r.EdgesNamed(ctx, "cites")
		require.NoError(t, err)
		assert.Equal(t, []ir.Edge{edges[2]}, got)

		got, err = r.EdgesWithSource(ctx, ir.N("Nobody", "x"))
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = r.AllEdges(ctx)
		require.NoError(t, err)
		assert.Equal(t, sorted(edges...), got)
	})
}

func testEdgeRemove(t *testing.T, b db.Backend) {
	a, bk, c := ir.N("Author", "a"), ir.N("Book", "b"), ir.N("Cover", "c")
	ab := ir.Edge{Name: "wrote", Source: a, Destination: bk, Rule: ir.RuleNone}
	bc := ir.Edge{Name: "has", Source: bk, Destination: c, Rule: ir.RuleNone}
	ac := ir.Edge{Name: "chose", Source: a, Destination: c, Rule: ir.RuleNone}

	write(t, b, func(ctx context.Context, w db.WriteTx) {
		for _, e := range []ir.Edge{ab, bc, ac} {
			require.NoError(t, w.InsertEdge(ctx, e))
		}
		require.NoError(t, w.RemoveEdge(ctx, "absent"), "removing an absent edge is a no-op")
		require.NoError(t, w.RemoveEdge(ctx, ac.ID()))
		require.NoError(t, w.RemoveAllEdges(ctx, bk))
	})

	read(t, b, func(ctx context.Context, r db.ReadTx) {
		all, err := r.AllEdges(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)

		// Index entries went with the edges.
		got, err := r.EdgesWithDestination(ctx, c)
		require.NoError(t, err)
		assert.Empty(t, got)
		got, err = r.EdgesNamed(ctx, "wrote")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func testRollbackDiscards(t *testing.T, b db.Backend) {
	ctx := context.Background()
	a := ir.N("Author", "a")

	w, err := b.BeginWrite(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Set(ctx, a, []byte("{}")))
	require.NoError(t, w.InsertEdge(ctx, ir.Edge{Name: "self", Source: a, Destination: a, Rule: ir.RuleNone}))
	require.NoError(t, w.Rollback())
	require.NoError(t, w.Rollback(), "second rollback is a no-op")

	read(t, b, func(ctx context.Context, r db.ReadTx) {
		ok, err := r.Exists(ctx, a)
		require.NoError(t, err)
		assert.False(t, ok)
		all, err := r.AllEdges(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func testCommitPersists(t *testing.T, b db.Backend) {
	ctx := context.Background()
	a := ir.N("Author", "a")

	w, err := b.BeginWrite(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Set(ctx, a, []byte(`{"name":"Ann"}`)))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Rollback(), "rollback after commit is a no-op")

	read(t, b, func(ctx context.Context, r db.ReadTx) {
		v, ok, err := r.Get(ctx, a)
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"name":"Ann"}`, string(v))
	})
}
