package db

import (
	"context"

	"github.com/roach88/relgraph/internal/ir"
)

// Extension is a named capability bound to a Database. Each transaction
// gets its own ExtensionTransaction, created when the transaction begins.
type Extension interface {
	Name() string
	NewTransaction(tx *Transaction) ExtensionTransaction
}

// ExtensionTransaction follows one host transaction.
//
// DidSetObject and DidRemoveObject are called after the record store has
// accepted the write. PrepareCommit runs before the durable commit point
// and may issue further writes through the host transaction; an error
// aborts the commit. Exactly one of DidCommit and DidRollback is called
// when the transaction ends.
type ExtensionTransaction interface {
	DidSetObject(ctx context.Context, n ir.Node)
	DidRemoveObject(ctx context.Context, n ir.Node)
	PrepareCommit(ctx context.Context) error
	DidCommit()
	DidRollback()
}

type extensionEntry struct {
	name string
	tx   ExtensionTransaction
}
