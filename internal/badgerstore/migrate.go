package badgerstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Format version tracking, stored under formatKey:
// absent - edge IDs from the canonical-JSON hash
// 2      - edge IDs hash raw field bytes (ir.DomainEdge v2)
const currentFormat byte = 2

var formatKey = []byte("m" + sep + "format")

// migrate brings the keyspace up to currentFormat.
func (s *Store) migrate(ctx context.Context) error {
	w, err := s.BeginWrite(ctx)
	if err != nil {
		return err
	}
	t := w.(*Tx)
	defer t.Rollback()

	version, err := t.format()
	if err != nil {
		return err
	}
	if version >= currentFormat {
		return nil
	}

	if err := t.rekeyEdges(ctx); err != nil {
		return err
	}
	if err := t.txn.Set(formatKey, []byte{currentFormat}); err != nil {
		return fmt.Errorf("set format: %w", err)
	}
	return t.Commit()
}

func (t *Tx) format() (byte, error) {
	item, err := t.txn.Get(formatKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get format: %w", err)
	}
	var version byte
	err = item.Value(func(val []byte) error {
		if len(val) != 1 {
			return fmt.Errorf("format value has %d bytes", len(val))
		}
		version = val[0]
		return nil
	})
	return version, err
}

// rekeyEdges rewrites every edge whose key does not match its identity.
func (t *Tx) rekeyEdges(ctx context.Context) error {
	var ids []string
	t.scan(prefixEdge, func(suffix []byte) {
		ids = append(ids, string(suffix))
	})
	for _, id := range ids {
		e, ok, err := t.Edge(ctx, id)
		if err != nil {
			return err
		}
		if !ok || e.ID() == id {
			continue
		}
		if err := t.RemoveEdge(ctx, id); err != nil {
			return err
		}
		if err := t.InsertEdge(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
