package db

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Database binds a Backend to a set of registered extensions and hands out
// transactions.
//
// Concurrency model:
//   - at most one read-write transaction at a time (BeginReadWrite blocks,
//     honoring ctx, until the current writer commits or rolls back)
//   - any number of read transactions, each on a committed snapshot,
//     running alongside the writer
//
// The database is an explicit handle: callers open it, pass it to whatever
// issues transactions, and close it when done.
type Database struct {
	backend Backend
	logger  *slog.Logger
	ids     IDGenerator
	codec   Codec

	// writer admits the single read-write transaction.
	writer *semaphore.Weighted

	mu         sync.RWMutex
	extensions []Extension
	byName     map[string]Extension
}

// Option configures a Database.
type Option func(*Database)

// WithLogger sets the logger. The default discards all output.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Database) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithIDGenerator sets the transaction ID generator. Default: UUIDv7.
func WithIDGenerator(ids IDGenerator) Option {
	return func(d *Database) {
		if ids != nil {
			d.ids = ids
		}
	}
}

// WithCodec sets the codec used by SetObject and GetObject. Default: SonicCodec.
func WithCodec(c Codec) Option {
	return func(d *Database) {
		if c != nil {
			d.codec = c
		}
	}
}

// Open wraps backend in a Database. The database takes ownership of the
// backend; Close closes it.
func Open(backend Backend, opts ...Option) *Database {
	d := &Database{
		backend: backend,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		ids:     UUIDv7Generator{},
		codec:   SonicCodec{},
		writer:  semaphore.NewWeighted(1),
		byName:  make(map[string]Extension),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Close closes the backend. Transactions must be finished first.
func (d *Database) Close() error {
	if d.backend == nil {
		return nil
	}
	return d.backend.Close()
}

// Logger returns the database logger so extensions log consistently.
func (d *Database) Logger() *slog.Logger {
	return d.logger
}

// Register binds an extension to the database under ext.Name().
// Transactions begun afterwards get their own ExtensionTransaction.
// Extensions prepare for commit in registration order.
func (d *Database) Register(ext Extension) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := ext.Name()
	if name == "" {
		return &Error{Code: ErrCodeDuplicateExtension, Op: "register", Message: "extension name is empty"}
	}
	if _, ok := d.byName[name]; ok {
		return &Error{Code: ErrCodeDuplicateExtension, Op: "register", Message: fmt.Sprintf("%q already registered", name)}
	}
	d.byName[name] = ext
	d.extensions = append(d.extensions, ext)
	d.logger.Debug("extension registered", "extension", name)
	return nil
}

// RegisteredExtension returns the extension registered under name.
func (d *Database) RegisteredExtension(name string) (Extension, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ext, ok := d.byName[name]
	if !ok {
		return nil, NewMissingExtensionError(name, "is not registered")
	}
	return ext, nil
}

// BeginReadWrite starts the read-write transaction, waiting for any
// current writer to finish. Returns ctx.Err() if ctx ends first.
func (d *Database) BeginReadWrite(ctx context.Context) (*Transaction, error) {
	if err := d.writer.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("begin read-write: %w", err)
	}

	wtx, err := d.backend.BeginWrite(ctx)
	if err != nil {
		d.writer.Release(1)
		return nil, NewStoreIOError("begin read-write", zeroNode, err)
	}

	tx := d.newTransaction(wtx, wtx)
	tx.release = func() { d.writer.Release(1) }
	return tx, nil
}

// BeginRead starts a read-only transaction on the latest committed state.
// It does not take the writer slot. Whether it can start while a writer is
// open depends on the backend: file-backed SQLite and Badger read from a
// snapshot at once, but in-memory SQLite has a single connection, so the
// read waits until the writer commits or rolls back, or ctx is done.
func (d *Database) BeginRead(ctx context.Context) (*Transaction, error) {
	rtx, err := d.backend.BeginRead(ctx)
	if err != nil {
		return nil, NewStoreIOError("begin read", zeroNode, err)
	}
	return d.newTransaction(rtx, nil), nil
}

// ReadWrite runs fn in a read-write transaction. The transaction commits
// if fn returns nil and rolls back if fn returns an error or panics.
func (d *Database) ReadWrite(ctx context.Context, fn func(tx *Transaction) error) (err error) {
	tx, err := d.BeginReadWrite(ctx)
	if err != nil {
		return err
	}
	return runScoped(ctx, tx, fn)
}

// Read runs fn in a read-only transaction and releases it afterwards.
func (d *Database) Read(ctx context.Context, fn func(tx *Transaction) error) error {
	tx, err := d.BeginRead(ctx)
	if err != nil {
		return err
	}
	return runScoped(ctx, tx, fn)
}

func runScoped(ctx context.Context, tx *Transaction, fn func(tx *Transaction) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			tx.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

func (d *Database) newTransaction(read ReadTx, write WriteTx) *Transaction {
	d.mu.RLock()
	exts := make([]Extension, len(d.extensions))
	copy(exts, d.extensions)
	d.mu.RUnlock()

	id := d.ids.Generate()
	tx := &Transaction{
		db:     d,
		id:     id,
		read:   read,
		write:  write,
		logger: d.logger.With("tx", id),
	}
	tx.exts = make([]extensionEntry, 0, len(exts))
	for _, ext := range exts {
		tx.exts = append(tx.exts, extensionEntry{name: ext.Name(), tx: ext.NewTransaction(tx)})
	}

	mode := "read"
	if write != nil {
		mode = "read-write"
	}
	tx.logger.Debug("transaction begin", "mode", mode)
	return tx
}
