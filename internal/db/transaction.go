package db

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/relgraph/internal/ir"
)

var zeroNode ir.Node

// Transaction is a read or read-write transaction on a Database.
//
// A Transaction is used by one goroutine at a time. Writes are visible to
// the transaction's own reads immediately and to other transactions after
// Commit. Every write is reported to the registered extensions.
type Transaction struct {
	db     *Database
	id     string
	read   ReadTx
	write  WriteTx
	exts   []extensionEntry
	logger *slog.Logger

	// release frees the writer slot; nil for read transactions.
	release func()

	mu   sync.Mutex
	done bool
}

// ID returns the transaction ID used in log lines.
func (tx *Transaction) ID() string { return tx.id }

// ReadOnly reports whether tx was started with BeginRead.
func (tx *Transaction) ReadOnly() bool { return tx.write == nil }

// Closed reports whether tx was committed or rolled back.
func (tx *Transaction) Closed() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.done
}

// Logger returns a logger carrying the transaction ID.
func (tx *Transaction) Logger() *slog.Logger { return tx.logger }

// Database returns the database that started tx.
func (tx *Transaction) Database() *Database { return tx.db }

// Exists reports whether a record is stored at n.
func (tx *Transaction) Exists(ctx context.Context, n ir.Node) (bool, error) {
	if err := tx.checkOpen("exists"); err != nil {
		return false, err
	}
	ok, err := tx.read.Exists(ctx, n)
	if err != nil {
		return false, NewStoreIOError("exists", n, err)
	}
	return ok, nil
}

// Get returns the raw value stored at n.
func (tx *Transaction) Get(ctx context.Context, n ir.Node) ([]byte, bool, error) {
	if err := tx.checkOpen("get"); err != nil {
		return nil, false, err
	}
	v, ok, err := tx.read.Get(ctx, n)
	if err != nil {
		return nil, false, NewStoreIOError("get", n, err)
	}
	return v, ok, nil
}

// AllKeys returns the keys stored in collection, ascending.
func (tx *Transaction) AllKeys(ctx context.Context, collection string) ([]string, error) {
	if err := tx.checkOpen("all keys"); err != nil {
		return nil, err
	}
	keys, err := tx.read.AllKeys(ctx, collection)
	if err != nil {
		return nil, NewStoreIOError(fmt.Sprintf("all keys %q", collection), ir.Node{}, err)
	}
	return keys, nil
}

// GetObject decodes the value stored at n into v with the database codec.
func (tx *Transaction) GetObject(ctx context.Context, n ir.Node, v any) (bool, error) {
	data, ok, err := tx.Get(ctx, n)
	if err != nil || !ok {
		return false, err
	}
	if err := tx.db.codec.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("get object %s: %w", n, err)
	}
	return true, nil
}

// Set stores value at n, creating or replacing the record.
func (tx *Transaction) Set(ctx context.Context, n ir.Node, value []byte) error {
	if err := tx.checkWritable("set"); err != nil {
		return err
	}
	if err := n.Validate(); err != nil {
		return &Error{Code: ErrCodeInvalidNode, Op: "set", Node: n, Err: err}
	}
	if err := tx.write.Set(ctx, n, value); err != nil {
		return NewStoreIOError("set", n, err)
	}
	for _, e := range tx.exts {
		e.tx.DidSetObject(ctx, n)
	}
	return nil
}

// SetObject encodes v with the database codec and stores it at n.
func (tx *Transaction) SetObject(ctx context.Context, n ir.Node, v any) error {
	data, err := tx.db.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("set object %s: %w", n, err)
	}
	return tx.Set(ctx, n, data)
}

// Remove deletes the record at n. Removing an absent record is not an
// error; extensions are still told about it.
func (tx *Transaction) Remove(ctx context.Context, n ir.Node) error {
	if err := tx.checkWritable("remove"); err != nil {
		return err
	}
	if err := n.Validate(); err != nil {
		return &Error{Code: ErrCodeInvalidNode, Op: "remove", Node: n, Err: err}
	}
	if err := tx.write.Remove(ctx, n); err != nil {
		return NewStoreIOError("remove", n, err)
	}
	for _, e := range tx.exts {
		e.tx.DidRemoveObject(ctx, n)
	}
	return nil
}

// RemoveAll deletes every record in collection.
func (tx *Transaction) RemoveAll(ctx context.Context, collection string) error {
	if err := tx.checkWritable("remove all"); err != nil {
		return err
	}
	keys, err := tx.AllKeys(ctx, collection)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := tx.Remove(ctx, ir.N(collection, k)); err != nil {
			return err
		}
	}
	return nil
}

// Extension returns this transaction's handle for the extension registered
// under name.
func (tx *Transaction) Extension(name string) (ExtensionTransaction, error) {
	for _, e := range tx.exts {
		if e.name == name {
			return e.tx, nil
		}
	}
	return nil, NewMissingExtensionError(name, "is not registered")
}

// Edges returns the persisted edge table as of this transaction.
// Uncommitted edge changes held by extensions are not included.
func (tx *Transaction) Edges() EdgeReader {
	return tx.read
}

// EdgeWriter returns the persisted edge table for writing. Only the
// read-write transaction has one.
func (tx *Transaction) EdgeWriter() (EdgeWriter, error) {
	if err := tx.checkWritable("edge writer"); err != nil {
		return nil, err
	}
	return tx.write, nil
}

// Commit makes the transaction durable.
//
// For a read-write transaction each extension prepares in registration
// order, then the backend commits. If any step fails the transaction is
// rolled back and nothing it wrote is kept. Committing a read transaction
// just releases it.
func (tx *Transaction) Commit(ctx context.Context) error {
	if err := tx.checkOpen("commit"); err != nil {
		return err
	}

	if tx.write == nil {
		tx.finish()
		_ = tx.read.Rollback()
		for _, e := range tx.exts {
			e.tx.DidCommit()
		}
		tx.logger.Debug("transaction end", "outcome", "released")
		return nil
	}

	for _, e := range tx.exts {
		if err := e.tx.PrepareCommit(ctx); err != nil {
			tx.logger.Warn("commit aborted", "extension", e.name, "error", err)
			_ = tx.Rollback()
			return fmt.Errorf("commit: prepare %s: %w", e.name, err)
		}
	}

	tx.finish()
	defer tx.release()

	if err := tx.write.Commit(); err != nil {
		_ = tx.write.Rollback()
		for _, e := range tx.exts {
			e.tx.DidRollback()
		}
		tx.logger.Error("commit failed", "error", err)
		return NewStoreIOError("commit", zeroNode, err)
	}
	for _, e := range tx.exts {
		e.tx.DidCommit()
	}
	tx.logger.Debug("transaction end", "outcome", "committed")
	return nil
}

// Rollback discards the transaction. Safe to call more than once and after
// Commit.
func (tx *Transaction) Rollback() error {
	tx.mu.Lock()
	if tx.done {
		tx.mu.Unlock()
		return nil
	}
	tx.done = true
	tx.mu.Unlock()

	if tx.release != nil {
		defer tx.release()
	}
	err := tx.read.Rollback()
	for _, e := range tx.exts {
		e.tx.DidRollback()
	}
	tx.logger.Debug("transaction end", "outcome", "rolled back")
	if err != nil {
		return NewStoreIOError("rollback", zeroNode, err)
	}
	return nil
}

func (tx *Transaction) finish() {
	tx.mu.Lock()
	tx.done = true
	tx.mu.Unlock()
}

func (tx *Transaction) checkOpen(op string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return &Error{Code: ErrCodeTxClosed, Op: op, Message: "transaction " + tx.id + " is finished"}
	}
	return nil
}

func (tx *Transaction) checkWritable(op string) error {
	if err := tx.checkOpen(op); err != nil {
		return err
	}
	if tx.write == nil {
		return &Error{Code: ErrCodeReadOnly, Op: op, Message: "transaction " + tx.id + " is read-only"}
	}
	return nil
}
