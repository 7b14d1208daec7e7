package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relgraph/internal/db"
	"github.com/roach88/relgraph/internal/ir"
	"github.com/roach88/relgraph/internal/testutil"
)

func TestContract_File(t *testing.T) {
	testutil.RunBackendContract(t, func(t *testing.T) db.Backend {
		return createTestStore(t)
	})
}

func TestContract_Memory(t *testing.T) {
	testutil.RunBackendContract(t, func(t *testing.T) db.Backend {
		s, err := Open(MemoryPath)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestTx_DataSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")
	e := ir.Edge{
		Name:        "wrote",
		Source:      ir.N("Author", "a"),
		Destination: ir.N("Book", "b"),
		Rule:        ir.RuleDeleteSourceIfDestinationDeleted,
	}

	s, err := Open(path)
	require.NoError(t, err)
	w, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Set(ctx, e.Source, nil))
	require.NoError(t, w.InsertEdge(ctx, e))
	require.NoError(t, w.Commit())
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	r, err := s.BeginRead(ctx)
	require.NoError(t, err)
	defer r.Rollback()

	v, ok, err := r.Get(ctx, e.Source)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, v, "nil values are stored as empty")

	got, ok, err := r.Edge(ctx, e.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e, got)
}

func TestTx_RuleRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	w, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	for i, rule := range ir.DeleteRules {
		e := ir.Edge{Name: string(rule), Source: ir.N("S", "s"), Destination: ir.N("D", string(rune('a'+i))), Rule: rule}
		require.NoError(t, w.InsertEdge(ctx, e))
	}
	require.NoError(t, w.Commit())

	r, err := s.BeginRead(ctx)
	require.NoError(t, err)
	defer r.Rollback()
	for _, rule := range ir.DeleteRules {
		got, err := r.EdgesNamed(ctx, string(rule))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, rule, got[0].Rule)
	}
}
