package graph_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/relgraph/internal/badgerstore"
	"github.com/roach88/relgraph/internal/db"
	"github.com/roach88/relgraph/internal/graph"
	"github.com/roach88/relgraph/internal/ir"
	"github.com/roach88/relgraph/internal/store"
)

var backends = []string{"sqlite", "badger"}

func openBackend(t *testing.T, kind string) db.Backend {
	t.Helper()
	switch kind {
	case "sqlite":
		s, err := store.Open(store.MemoryPath)
		require.NoError(t, err)
		return s
	case "badger":
		s, err := badgerstore.Open(badgerstore.InMemoryConfig())
		require.NoError(t, err)
		return s
	default:
		t.Fatalf("unknown backend %q", kind)
		return nil
	}
}

// fixture is a database with the relationship extension registered.
type fixture struct {
	t   *testing.T
	db  *db.Database
	ext *graph.Extension
}

func newFixture(t *testing.T, kind string, opts graph.Options) *fixture {
	t.Helper()
	return newFixtureOn(t, openBackend(t, kind), opts)
}

func newFixtureOn(t *testing.T, backend db.Backend, opts graph.Options) *fixture {
	t.Helper()
	d := db.Open(backend, db.WithIDGenerator(db.NewSequenceGenerator("tx")))
	t.Cleanup(func() { d.Close() })

	ext := graph.New(opts)
	require.NoError(t, d.Register(ext))
	return &fixture{t: t, db: d, ext: ext}
}

// write runs fn in a committed read-write transaction and returns the
// commit's resolution.
func (f *fixture) write(fn func(ctx context.Context, tx *db.Transaction, g *graph.Tx)) *graph.Resolution {
	f.t.Helper()
	ctx := context.Background()

	var g *graph.Tx
	err := f.db.ReadWrite(ctx, func(tx *db.Transaction) error {
		var err error
		g, err = graph.For(tx)
		require.NoError(f.t, err)
		fn(ctx, tx, g)
		return nil
	})
	require.NoError(f.t, err)
	require.NotNil(f.t, g.LastResolution())
	return g.LastResolution()
}

func (f *fixture) exists(n ir.Node) bool {
	f.t.Helper()
	var ok bool
	err := f.db.Read(context.Background(), func(tx *db.Transaction) error {
		var err error
		ok, err = tx.Exists(context.Background(), n)
		return err
	})
	require.NoError(f.t, err)
	return ok
}

func (f *fixture) edges() []ir.Edge {
	f.t.Helper()
	var edges []ir.Edge
	err := f.db.Read(context.Background(), func(tx *db.Transaction) error {
		var err error
		edges, err = tx.Edges().AllEdges(context.Background())
		return err
	})
	require.NoError(f.t, err)
	return edges
}

func set(t *testing.T, ctx context.Context, tx *db.Transaction, nodes ...ir.Node) {
	t.Helper()
	for _, n := range nodes {
		require.NoError(t, tx.Set(ctx, n, []byte("{}")))
	}
}

func add(t *testing.T, ctx context.Context, g *graph.Tx, edges ...ir.Edge) {
	t.Helper()
	for _, e := range edges {
		require.NoError(t, g.Add(ctx, e))
	}
}

func remove(t *testing.T, ctx context.Context, tx *db.Transaction, nodes ...ir.Node) {
	t.Helper()
	for _, n := range nodes {
		require.NoError(t, tx.Remove(ctx, n))
	}
}

func owns(src, dst ir.Node) ir.Edge {
	return ir.Edge{Name: "owns", Source: src, Destination: dst, Rule: ir.RuleDeleteDestinationIfSourceDeleted}
}

var (
	authorA   = ir.N("Author", "a")
	bookB     = ir.N("Book", "b")
	authorC   = ir.N("Author", "c")
	bookD     = ir.N("Book", "d")
	nodeE     = ir.N("Misc", "e")
	coverC    = ir.N("Cover", "c")
	unrelated = ir.N("Unrelated", "u")
)
