// Package badgerstore is the BadgerDB record store backend.
//
// Records and the edge table share one keyspace:
//
//	r\x00<collection>\x00<key>            record value
//	e\x00<edge id>                        edge, JSON
//	s\x00<collection>\x00<key>\x00<id>    source index
//	d\x00<collection>\x00<key>\x00<id>    destination index
//	n\x00<name>\x00<id>                   name index
//	m\x00format                           keyspace format version
//
// Badger iterates keys in byte order, so collection keys and edge IDs come
// back sorted without an explicit sort. Nodes and edge names never contain
// NUL, which keeps the prefixes unambiguous.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/semaphore"

	"github.com/roach88/relgraph/internal/db"
)

// Config holds configuration for a Badger-backed store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Zero disables it. Never runs for in-memory stores.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64
}

// DefaultConfig returns defaults for a durable on-disk store.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration for tests and scratch runs.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a BadgerDB-backed db.Backend.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	// writer admits one update transaction at a time so commits never
	// hit badger.ErrConflict.
	writer *semaphore.Weighted

	stopGC chan struct{}
	gcDone chan struct{}
}

var _ db.Backend = (*Store)(nil)

// Open opens a store with the given configuration.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Store{
		db:     bdb,
		logger: logger,
		writer: semaphore.NewWeighted(1),
	}
	if err := s.migrate(context.Background()); err != nil {
		bdb.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
		s.stopGC = nil
	}
	return s.db.Close()
}

// BeginWrite starts an update transaction, waiting for the current one.
func (s *Store) BeginWrite(ctx context.Context) (db.WriteTx, error) {
	if err := s.writer.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("begin write: %w", err)
	}
	return &Tx{txn: s.db.NewTransaction(true), release: func() { s.writer.Release(1) }}, nil
}

// BeginRead starts a read-only snapshot transaction.
func (s *Store) BeginRead(ctx context.Context) (db.ReadTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("begin read: %w", err)
	}
	return &Tx{txn: s.db.NewTransaction(false)}, nil
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means no GC was needed.
			err := s.db.RunValueLogGC(ratio)
			if err == nil {
				s.logger.Debug("badger value log GC completed")
			} else if !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}
