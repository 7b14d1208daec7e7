package badgerstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/relgraph/internal/db"
	"github.com/roach88/relgraph/internal/ir"
)

const sep = "\x00"

var (
	prefixRecord      = []byte("r" + sep)
	prefixEdge        = []byte("e" + sep)
	prefixSource      = []byte("s" + sep)
	prefixDestination = []byte("d" + sep)
	prefixName        = []byte("n" + sep)
)

func recordKey(n ir.Node) []byte {
	return []byte("r" + sep + n.Collection + sep + n.Key)
}

func collectionPrefix(collection string) []byte {
	return []byte("r" + sep + collection + sep)
}

func edgeKey(id string) []byte {
	return append(bytes.Clone(prefixEdge), id...)
}

func nodeIndexPrefix(prefix []byte, n ir.Node) []byte {
	return []byte(string(prefix) + n.Collection + sep + n.Key + sep)
}

func nameIndexPrefix(name string) []byte {
	return []byte(string(prefixName) + name + sep)
}

// edgeCodec encodes stored edges. Index keys carry no value.
var edgeCodec db.Codec = db.SonicCodec{}

// Tx wraps one badger transaction. BeginWrite hands it out as a
// db.WriteTx, BeginRead as a db.ReadTx.
type Tx struct {
	txn     *badger.Txn
	release func()
	once    sync.Once
}

var _ db.WriteTx = (*Tx)(nil)

// Exists reports whether a record is stored for n.
func (t *Tx) Exists(_ context.Context, n ir.Node) (bool, error) {
	_, err := t.txn.Get(recordKey(n))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", n, err)
	}
	return true, nil
}

// Get returns the value stored for n.
func (t *Tx) Get(_ context.Context, n ir.Node) ([]byte, bool, error) {
	item, err := t.txn.Get(recordKey(n))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", n, err)
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", n, err)
	}
	if v == nil {
		v = []byte{}
	}
	return v, true, nil
}

// AllKeys returns the keys in collection in byte order.
func (t *Tx) AllKeys(_ context.Context, collection string) ([]string, error) {
	prefix := collectionPrefix(collection)
	keys := []string{}
	t.scan(prefix, func(suffix []byte) {
		keys = append(keys, string(suffix))
	})
	return keys, nil
}

// Set stores value for n.
func (t *Tx) Set(_ context.Context, n ir.Node, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if err := t.txn.Set(recordKey(n), value); err != nil {
		return fmt.Errorf("set %s: %w", n, err)
	}
	return nil
}

// Remove deletes the record for n. Missing records are not an error.
func (t *Tx) Remove(_ context.Context, n ir.Node) error {
	if err := t.txn.Delete(recordKey(n)); err != nil {
		return fmt.Errorf("remove %s: %w", n, err)
	}
	return nil
}

// EdgesWithSource returns stored edges whose source is n, ordered by id.
func (t *Tx) EdgesWithSource(ctx context.Context, n ir.Node) ([]ir.Edge, error) {
	return t.edgesByIndex(ctx, nodeIndexPrefix(prefixSource, n))
}

// EdgesWithDestination returns stored edges whose destination is n,
// ordered by id.
func (t *Tx) EdgesWithDestination(ctx context.Context, n ir.Node) ([]ir.Edge, error) {
	return t.edgesByIndex(ctx, nodeIndexPrefix(prefixDestination, n))
}

// EdgesNamed returns stored edges with the given name, ordered by id.
func (t *Tx) EdgesNamed(ctx context.Context, name string) ([]ir.Edge, error) {
	return t.edgesByIndex(ctx, nameIndexPrefix(name))
}

// AllEdges returns every stored edge, ordered by id.
func (t *Tx) AllEdges(ctx context.Context) ([]ir.Edge, error) {
	var ids []string
	t.scan(prefixEdge, func(suffix []byte) {
		ids = append(ids, string(suffix))
	})
	return t.loadEdges(ctx, ids)
}

// Edge returns the stored edge with the given identity.
func (t *Tx) Edge(_ context.Context, id string) (ir.Edge, bool, error) {
	item, err := t.txn.Get(edgeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ir.Edge{}, false, nil
	}
	if err != nil {
		return ir.Edge{}, false, fmt.Errorf("get edge %s: %w", id, err)
	}
	var e ir.Edge
	err = item.Value(func(val []byte) error {
		return edgeCodec.Unmarshal(val, &e)
	})
	if err != nil {
		return ir.Edge{}, false, fmt.Errorf("decode edge %s: %w", id, err)
	}
	return e, true, nil
}

// InsertEdge stores e and its index entries. An edge already stored under
// the same identity is left as is.
func (t *Tx) InsertEdge(ctx context.Context, e ir.Edge) error {
	id := e.ID()
	if _, ok, err := t.Edge(ctx, id); err != nil || ok {
		return err
	}

	data, err := edgeCodec.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode edge %s: %w", e, err)
	}
	writes := []struct {
		key   []byte
		value []byte
	}{
		{edgeKey(id), data},
		{append(nodeIndexPrefix(prefixSource, e.Source), id...), nil},
		{append(nodeIndexPrefix(prefixDestination, e.Destination), id...), nil},
		{append(nameIndexPrefix(e.Name), id...), nil},
	}
	for _, w := range writes {
		if err := t.txn.Set(w.key, w.value); err != nil {
			return fmt.Errorf("insert edge %s: %w", e, err)
		}
	}
	return nil
}

// RemoveEdge deletes the edge with the given identity and its index entries.
func (t *Tx) RemoveEdge(ctx context.Context, id string) error {
	e, ok, err := t.Edge(ctx, id)
	if err != nil || !ok {
		return err
	}
	keys := [][]byte{
		edgeKey(id),
		append(nodeIndexPrefix(prefixSource, e.Source), id...),
		append(nodeIndexPrefix(prefixDestination, e.Destination), id...),
		append(nameIndexPrefix(e.Name), id...),
	}
	for _, k := range keys {
		if err := t.txn.Delete(k); err != nil {
			return fmt.Errorf("remove edge %s: %w", id, err)
		}
	}
	return nil
}

// RemoveAllEdges deletes every edge with n as source or destination.
func (t *Tx) RemoveAllEdges(ctx context.Context, n ir.Node) error {
	var ids []string
	collect := func(suffix []byte) { ids = append(ids, string(suffix)) }
	t.scan(nodeIndexPrefix(prefixSource, n), collect)
	t.scan(nodeIndexPrefix(prefixDestination, n), collect)

	for _, id := range ids {
		if err := t.RemoveEdge(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Commit commits the transaction and frees the writer slot.
func (t *Tx) Commit() error {
	defer t.done()
	if err := t.txn.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards the transaction. Safe after Commit.
func (t *Tx) Rollback() error {
	t.txn.Discard()
	t.done()
	return nil
}

func (t *Tx) done() {
	t.once.Do(func() {
		if t.release != nil {
			t.release()
		}
	})
}

// scan calls fn with the remainder of every key under prefix, in key
// order. The iterator is closed before scan returns: an update
// transaction allows only one open iterator.
func (t *Tx) scan(prefix []byte, fn func(suffix []byte)) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := t.txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		key := it.Item().KeyCopy(nil)
		fn(key[len(prefix):])
	}
}

func (t *Tx) edgesByIndex(ctx context.Context, prefix []byte) ([]ir.Edge, error) {
	var ids []string
	t.scan(prefix, func(suffix []byte) {
		ids = append(ids, string(suffix))
	})
	return t.loadEdges(ctx, ids)
}

func (t *Tx) loadEdges(ctx context.Context, ids []string) ([]ir.Edge, error) {
	edges := make([]ir.Edge, 0, len(ids))
	for _, id := range ids {
		e, ok, err := t.Edge(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("index references missing edge %s", id)
		}
		edges = append(edges, e)
	}
	return edges, nil
}
