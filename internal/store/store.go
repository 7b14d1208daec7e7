package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/relgraph/internal/db"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (records, edges, source/destination indexes)
// 1 - Added index on edges.name
// 2 - Edge IDs hash raw field bytes (ir.DomainEdge v2)
const currentSchemaVersion = 2

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store is a SQLite-backed db.Backend.
type Store struct {
	writer *sql.DB
	reader *sql.DB
	memory bool
}

var _ db.Backend = (*Store)(nil)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	memory := path == MemoryPath || path == ""
	if memory {
		path = MemoryPath
	}

	writer, err := sql.Open("sqlite3", dsn(path, "_txlock=immediate"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, and an in-memory database
	// lives and dies with its single connection.
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)

	if err := applyPragmas(writer, memory); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(writer); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{writer: writer, reader: writer, memory: memory}
	if memory {
		return s, nil
	}

	reader, err := sql.Open("sqlite3", dsn(path, "_query_only=1", "_busy_timeout=5000", "_foreign_keys=1"))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to open read pool: %w", err)
	}
	if err := reader.Ping(); err != nil {
		reader.Close()
		writer.Close()
		return nil, fmt.Errorf("failed to connect read pool: %w", err)
	}
	s.reader = reader
	return s, nil
}

// Close closes both connection pools.
func (s *Store) Close() error {
	if s.writer == nil {
		return nil
	}
	var readerErr error
	if s.reader != s.writer {
		readerErr = s.reader.Close()
	}
	if err := s.writer.Close(); err != nil {
		return err
	}
	return readerErr
}

// DB returns the writer sql.DB for direct queries.
// Use with caution - prefer transactions.
func (s *Store) DB() *sql.DB {
	return s.writer
}

// BeginWrite starts the write transaction. The write lock is taken
// immediately.
func (s *Store) BeginWrite(ctx context.Context) (db.WriteTx, error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin write: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// BeginRead starts a read transaction and pins its snapshot with an
// initial read. An in-memory store shares the writer's connection, so
// the call blocks while a write transaction is open.
func (s *Store) BeginRead(ctx context.Context) (db.ReadTx, error) {
	tx, err := s.reader.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read: %w", err)
	}
	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master").Scan(&n); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("begin read: pin snapshot: %w", err)
	}
	return &Tx{tx: tx, readOnly: true}, nil
}

func dsn(path string, params ...string) string {
	if len(params) == 0 {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(conn *sql.DB, memory bool) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	if memory {
		// WAL is unavailable for in-memory databases.
		pragmas = pragmas[1:]
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(conn *sql.DB) error {
	if _, err := conn.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(conn); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(conn *sql.DB) error {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(conn); err != nil {
			return err
		}
	}
	if version < 2 {
		if err := migrateToV2(conn); err != nil {
			return err
		}
	}

	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the edge name index used by EdgesNamed.
func migrateToV1(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_edges_name
		ON edges(name)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// migrateToV2 recomputes every edge ID from its stored columns.
func migrateToV2(conn *sql.DB) error {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT ` + edgeColumns + ` FROM edges`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	edges, err := scanEdges(rows)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}

	for _, e := range edges {
		if _, err := tx.Exec(`
			UPDATE edges SET id = ?
			WHERE name = ? AND src_collection = ? AND src_key = ?
			  AND dst_collection = ? AND dst_key = ?
		`, e.ID(), e.Name, e.Source.Collection, e.Source.Key, e.Destination.Collection, e.Destination.Key); err != nil {
			return fmt.Errorf("migrate to v2: rewrite %s: %w", e, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.writer.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
