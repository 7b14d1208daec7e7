package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/relgraph/internal/badgerstore"
	"github.com/roach88/relgraph/internal/config"
	"github.com/roach88/relgraph/internal/db"
	"github.com/roach88/relgraph/internal/graph"
	"github.com/roach88/relgraph/internal/schema"
	"github.com/roach88/relgraph/internal/store"
)

// session is an open database with the relationship extension registered.
type session struct {
	cfg    *config.Config
	db     *db.Database
	logger *slog.Logger
}

// loadConfig reads .env, the config file and environment, then applies
// command-line overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	if err := config.LoadEnvFile(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.Path = opts.Database
	}
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger logs to w at the configured level, or debug with --verbose.
func newLogger(opts *RootOptions, cfg *config.Config, w io.Writer) *slog.Logger {
	level := cfg.Level()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openBackend opens the configured record store.
func openBackend(cfg *config.Config, logger *slog.Logger) (db.Backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return store.Open(cfg.Path)
	case config.BackendBadger:
		bcfg := badgerstore.DefaultConfig()
		bcfg.Path = cfg.Path
		bcfg.InMemory = cfg.InMemory()
		bcfg.SyncWrites = cfg.Badger.SyncWrites
		bcfg.GCInterval = cfg.Badger.GCInterval
		bcfg.Logger = logger.With("component", "badger")
		return badgerstore.Open(bcfg)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// openSession opens the configured database. Commands that read or write
// stored data require a path; an in-memory database would be empty.
func openSession(opts *RootOptions, errW io.Writer) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if cfg.InMemory() {
		return nil, NewExitError(ExitCommandError, "no database: set --db, path in the config file, or RELGRAPH_PATH")
	}

	logger := newLogger(opts, cfg, errW)
	backend, err := openBackend(cfg, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	s := &session{
		cfg:    cfg,
		db:     db.Open(backend, db.WithLogger(logger)),
		logger: logger,
	}

	order, err := graph.ParseOrder(cfg.Order)
	if err != nil {
		s.Close()
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	gopts := graph.Options{Order: order, OnNotify: s.onNotify}
	if cfg.Schema != "" {
		sch, err := schema.LoadDir(cfg.Schema)
		if err != nil {
			s.Close()
			return nil, WrapExitError(ExitCommandError, "failed to load schema", err)
		}
		gopts.Schema = sch
	}
	if err := s.db.Register(graph.New(gopts)); err != nil {
		s.Close()
		return nil, WrapExitError(ExitCommandError, "failed to register extension", err)
	}

	logger.Debug("database opened", "backend", cfg.Backend, "path", cfg.Path, "order", order.String())
	return s, nil
}

// onNotify logs notifications once their commit is durable.
func (s *session) onNotify(n graph.Notification) {
	s.logger.Info("edge notification", "edge", n.Edge.String(), "deleted", n.Deleted.String())
}

// write runs fn in one read-write transaction and returns the commit's
// resolution.
func (s *session) write(ctx context.Context, fn func(tx *db.Transaction, g *graph.Tx) error) (*graph.Resolution, error) {
	var g *graph.Tx
	err := s.db.ReadWrite(ctx, func(tx *db.Transaction) error {
		var err error
		g, err = graph.For(tx)
		if err != nil {
			return err
		}
		return fn(tx, g)
	})
	if err != nil {
		return nil, err
	}
	return g.LastResolution(), nil
}

// read runs fn in one read transaction.
func (s *session) read(ctx context.Context, fn func(tx *db.Transaction, g *graph.Tx) error) error {
	return s.db.Read(ctx, func(tx *db.Transaction) error {
		g, err := graph.For(tx)
		if err != nil {
			return err
		}
		return fn(tx, g)
	})
}

func (s *session) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
	}
}

// failureCode maps a database error to a JSON error code and exit code.
func failureCode(err error) (string, int) {
	switch {
	case db.HasCode(err, db.ErrCodeInvalidNode), db.IsInvalidEdgeReference(err):
		return ErrCodeInvalidInput, ExitCommandError
	default:
		return ErrCodeDatabase, ExitFailure
	}
}
