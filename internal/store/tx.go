package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/relgraph/internal/db"
	"github.com/roach88/relgraph/internal/ir"
)

// Tx wraps one SQLite transaction. BeginWrite hands it out as a
// db.WriteTx, BeginRead as a db.ReadTx.
type Tx struct {
	tx       *sql.Tx
	readOnly bool
}

var _ db.WriteTx = (*Tx)(nil)

const edgeColumns = `id, name, src_collection, src_key, dst_collection, dst_key, rule`

// Exists reports whether a record row exists for n.
func (t *Tx) Exists(ctx context.Context, n ir.Node) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx, `
		SELECT 1 FROM records WHERE collection = ? AND key = ?
	`, n.Collection, n.Key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", n, err)
	}
	return true, nil
}

// Get returns the value stored for n.
func (t *Tx) Get(ctx context.Context, n ir.Node) ([]byte, bool, error) {
	var value []byte
	err := t.tx.QueryRowContext(ctx, `
		SELECT value FROM records WHERE collection = ? AND key = ?
	`, n.Collection, n.Key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", n, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

// AllKeys returns the keys in collection ordered by key COLLATE BINARY.
// Returns an empty slice (not nil) for an empty collection.
func (t *Tx) AllKeys(ctx context.Context, collection string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT key FROM records
		WHERE collection = ?
		ORDER BY key COLLATE BINARY ASC
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// Set inserts or replaces the record for n.
func (t *Tx) Set(ctx context.Context, n ir.Node, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO records (collection, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET value = excluded.value
	`, n.Collection, n.Key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", n, err)
	}
	return nil
}

// Remove deletes the record for n. Missing rows are not an error.
func (t *Tx) Remove(ctx context.Context, n ir.Node) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM records WHERE collection = ? AND key = ?
	`, n.Collection, n.Key)
	if err != nil {
		return fmt.Errorf("remove %s: %w", n, err)
	}
	return nil
}

// EdgesWithSource returns stored edges whose source is n.
func (t *Tx) EdgesWithSource(ctx context.Context, n ir.Node) ([]ir.Edge, error) {
	return t.queryEdges(ctx, `
		SELECT `+edgeColumns+` FROM edges
		WHERE src_collection = ? AND src_key = ?
		ORDER BY id COLLATE BINARY ASC
	`, n.Collection, n.Key)
}

// EdgesWithDestination returns stored edges whose destination is n.
func (t *Tx) EdgesWithDestination(ctx context.Context, n ir.Node) ([]ir.Edge, error) {
	return t.queryEdges(ctx, `
		SELECT `+edgeColumns+` FROM edges
		WHERE dst_collection = ? AND dst_key = ?
		ORDER BY id COLLATE BINARY ASC
	`, n.Collection, n.Key)
}

// EdgesNamed returns stored edges with the given name.
func (t *Tx) EdgesNamed(ctx context.Context, name string) ([]ir.Edge, error) {
	return t.queryEdges(ctx, `
		SELECT `+edgeColumns+` FROM edges
		WHERE name = ?
		ORDER BY id COLLATE BINARY ASC
	`, name)
}

// AllEdges returns every stored edge.
func (t *Tx) AllEdges(ctx context.Context) ([]ir.Edge, error) {
	return t.queryEdges(ctx, `
		SELECT `+edgeColumns+` FROM edges
		ORDER BY id COLLATE BINARY ASC
	`)
}

// Edge returns the stored edge with the given identity.
func (t *Tx) Edge(ctx context.Context, id string) (ir.Edge, bool, error) {
	edges, err := t.queryEdges(ctx, `
		SELECT `+edgeColumns+` FROM edges WHERE id = ?
	`, id)
	if err != nil {
		return ir.Edge{}, false, err
	}
	if len(edges) == 0 {
		return ir.Edge{}, false, nil
	}
	return edges[0], true, nil
}

// InsertEdge stores e.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - an edge already stored
// under the same identity is left as is.
func (t *Tx) InsertEdge(ctx context.Context, e ir.Edge) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO edges (`+edgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID(),
		e.Name,
		e.Source.Collection,
		e.Source.Key,
		e.Destination.Collection,
		e.Destination.Key,
		string(e.Rule),
	)
	if err != nil {
		return fmt.Errorf("insert edge %s: %w", e, err)
	}
	return nil
}

// RemoveEdge deletes the edge with the given identity, if stored.
func (t *Tx) RemoveEdge(ctx context.Context, id string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM edges WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove edge %s: %w", id, err)
	}
	return nil
}

// RemoveAllEdges deletes every edge with n as source or destination.
func (t *Tx) RemoveAllEdges(ctx context.Context, n ir.Node) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM edges
		WHERE (src_collection = ? AND src_key = ?)
		   OR (dst_collection = ? AND dst_key = ?)
	`, n.Collection, n.Key, n.Collection, n.Key)
	if err != nil {
		return fmt.Errorf("remove all edges %s: %w", n, err)
	}
	return nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Returns nil if it already finished.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == nil || errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return fmt.Errorf("rollback: %w", err)
}

func (t *Tx) queryEdges(ctx context.Context, query string, args ...any) ([]ir.Edge, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	return scanEdges(rows)
}

// scanEdges reads every row and closes rows.
func scanEdges(rows *sql.Rows) ([]ir.Edge, error) {
	defer rows.Close()

	edges := []ir.Edge{}
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return edges, nil
}

func scanEdge(rows *sql.Rows) (ir.Edge, error) {
	var (
		id   string
		e    ir.Edge
		rule string
	)
	err := rows.Scan(
		&id,
		&e.Name,
		&e.Source.Collection,
		&e.Source.Key,
		&e.Destination.Collection,
		&e.Destination.Key,
		&rule,
	)
	if err != nil {
		return ir.Edge{}, fmt.Errorf("scan edge: %w", err)
	}
	e.Rule = ir.DeleteRule(rule)
	return e, nil
}
