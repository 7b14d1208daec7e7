package db

import (
	"context"

	"github.com/roach88/relgraph/internal/ir"
)

// Backend is the record store the database runs on. Implementations own
// both the records and the persisted edge table, and must give read
// transactions a snapshot of committed state that is unaffected by a
// concurrent write transaction.
//
// Implemented by store.Store (SQLite) and badgerstore.Store (Badger).
type Backend interface {
	BeginWrite(ctx context.Context) (WriteTx, error)
	BeginRead(ctx context.Context) (ReadTx, error)
	Close() error
}

// EdgeReader looks up persisted edges.
// Multi-row results are returned in a deterministic order.
type EdgeReader interface {
	EdgesWithSource(ctx context.Context, n ir.Node) ([]ir.Edge, error)
	EdgesWithDestination(ctx context.Context, n ir.Node) ([]ir.Edge, error)
	EdgesNamed(ctx context.Context, name string) ([]ir.Edge, error)
	Edge(ctx context.Context, id string) (edge ir.Edge, found bool, err error)
	AllEdges(ctx context.Context) ([]ir.Edge, error)
}

// EdgeWriter maintains the persisted edge table. It performs no record
// deletion of its own.
type EdgeWriter interface {
	EdgeReader

	// InsertEdge is a no-op when an edge with the same ID is stored.
	InsertEdge(ctx context.Context, e ir.Edge) error
	// RemoveEdge is a no-op when no edge has the ID.
	RemoveEdge(ctx context.Context, id string) error
	// RemoveAllEdges removes every edge with n as source or destination.
	RemoveAllEdges(ctx context.Context, n ir.Node) error
}

// ReadTx reads records and edges from one snapshot.
type ReadTx interface {
	EdgeReader

	Exists(ctx context.Context, n ir.Node) (bool, error)
	Get(ctx context.Context, n ir.Node) (value []byte, found bool, err error)
	// AllKeys returns the keys of a collection in ascending order.
	AllKeys(ctx context.Context, collection string) ([]string, error)

	// Rollback releases the transaction. Safe to call after Commit.
	Rollback() error
}

// WriteTx is the single read-write transaction. Reads observe its own
// uncommitted writes.
type WriteTx interface {
	ReadTx
	EdgeWriter

	Set(ctx context.Context, n ir.Node, value []byte) error
	// Remove is a no-op when the record does not exist.
	Remove(ctx context.Context, n ir.Node) error

	Commit() error
}
