package db_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relgraph/internal/db"
	"github.com/roach88/relgraph/internal/ir"
	"github.com/roach88/relgraph/internal/store"
	"github.com/roach88/relgraph/internal/testutil"
)

func openDB(t *testing.T, opts ...db.Option) *db.Database {
	t.Helper()
	s, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	d := db.Open(s, opts...)
	t.Cleanup(func() { d.Close() })
	return d
}

// recording is an extension whose transactions log every callback.
type recording struct {
	name   string
	events []string
	// failPrepare makes PrepareCommit fail.
	failPrepare error
	// onPrepare runs during PrepareCommit with the host transaction.
	onPrepare func(ctx context.Context, tx *db.Transaction) error
}

func (r *recording) Name() string { return r.name }

func (r *recording) NewTransaction(tx *db.Transaction) db.ExtensionTransaction {
	r.events = append(r.events, "begin")
	return &recordingTx{ext: r, host: tx}
}

type recordingTx struct {
	ext  *recording
	host *db.Transaction
}

func (r *recordingTx) DidSetObject(_ context.Context, n ir.Node) {
	r.ext.events = append(r.ext.events, "set "+n.String())
}

func (r *recordingTx) DidRemoveObject(_ context.Context, n ir.Node) {
	r.ext.events = append(r.ext.events, "remove "+n.String())
}

func (r *recordingTx) PrepareCommit(ctx context.Context) error {
	r.ext.events = append(r.ext.events, "prepare")
	if r.ext.onPrepare != nil {
		if err := r.ext.onPrepare(ctx, r.host); err != nil {
			return err
		}
	}
	return r.ext.failPrepare
}

func (r *recordingTx) DidCommit()   { r.ext.events = append(r.ext.events, "commit") }
func (r *recordingTx) DidRollback() { r.ext.events = append(r.ext.events, "rollback") }

func TestRegister(t *testing.T) {
	d := openDB(t)

	require.NoError(t, d.Register(&recording{name: "audit"}))

	err := d.Register(&recording{name: "audit"})
	assert.True(t, db.HasCode(err, db.ErrCodeDuplicateExtension), "got %v", err)

	err = d.Register(&recording{})
	assert.True(t, db.HasCode(err, db.ErrCodeDuplicateExtension), "empty name: got %v", err)

	ext, err := d.RegisteredExtension("audit")
	require.NoError(t, err)
	assert.Equal(t, "audit", ext.Name())

	_, err = d.RegisteredExtension("nope")
	assert.True(t, db.IsMissingExtension(err))
}

func TestReadWrite_CommitNotifiesExtensions(t *testing.T) {
	d := openDB(t)
	first := &recording{name: "first"}
	second := &recording{name: "second"}
	require.NoError(t, d.Register(first))
	require.NoError(t, d.Register(second))

	ctx := context.Background()
	err := d.ReadWrite(ctx, func(tx *db.Transaction) error {
		require.NoError(t, tx.Set(ctx, ir.N("User", "u1"), []byte(`{}`)))
		return tx.Remove(ctx, ir.N("User", "u2"))
	})
	require.NoError(t, err)

	want := []string{"begin", "set User/u1", "remove User/u2", "prepare", "commit"}
	assert.Equal(t, want, first.events)
	assert.Equal(t, want, second.events)
}

func TestReadWrite_ErrorRollsBack(t *testing.T) {
	d := openDB(t)
	ext := &recording{name: "audit"}
	require.NoError(t, d.Register(ext))

	ctx := context.Background()
	boom := errors.New("boom")
	err := d.ReadWrite(ctx, func(tx *db.Transaction) error {
		require.NoError(t, tx.Set(ctx, ir.N("User", "u1"), []byte(`{}`)))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"begin", "set User/u1", "rollback"}, ext.events)
	assert.False(t, exists(t, d, ir.N("User", "u1")))
}

func TestReadWrite_PanicRollsBack(t *testing.T) {
	d := openDB(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = d.ReadWrite(ctx, func(tx *db.Transaction) error {
			require.NoError(t, tx.Set(ctx, ir.N("User", "u1"), []byte(`{}`)))
			panic("boom")
		})
	})
	assert.False(t, exists(t, d, ir.N("User", "u1")))

	// The writer slot was released.
	require.NoError(t, d.ReadWrite(ctx, func(*db.Transaction) error { return nil }))
}

func TestCommit_PrepareFailureRollsBack(t *testing.T) {
	d := openDB(t)
	boom := errors.New("invariant broken")
	first := &recording{name: "first", failPrepare: boom}
	second := &recording{name: "second"}
	require.NoError(t, d.Register(first))
	require.NoError(t, d.Register(second))

	ctx := context.Background()
	err := d.ReadWrite(ctx, func(tx *db.Transaction) error {
		return tx.Set(ctx, ir.N("User", "u1"), []byte(`{}`))
	})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "prepare first")

	assert.Equal(t, []string{"begin", "set User/u1", "prepare", "rollback"}, first.events)
	assert.Equal(t, []string{"begin", "set User/u1", "rollback"}, second.events, "later extensions never prepare")
	assert.False(t, exists(t, d, ir.N("User", "u1")))
}

// Writes issued during PrepareCommit are committed and seen by every
// extension.
func TestCommit_PrepareWritesThroughHost(t *testing.T) {
	d := openDB(t)
	ctx := context.Background()
	writer := &recording{name: "writer", onPrepare: func(ctx context.Context, tx *db.Transaction) error {
		return tx.Remove(ctx, ir.N("User", "u1"))
	}}
	watcher := &recording{name: "watcher"}
	require.NoError(t, d.Register(writer))
	require.NoError(t, d.Register(watcher))

	require.NoError(t, d.ReadWrite(ctx, func(tx *db.Transaction) error {
		return tx.Set(ctx, ir.N("User", "u1"), []byte(`{}`))
	}))

	assert.Equal(t, []string{"begin", "set User/u1", "remove User/u1", "prepare", "commit"}, watcher.events)
	assert.False(t, exists(t, d, ir.N("User", "u1")))
}

func TestBeginReadWrite_SingleWriter(t *testing.T) {
	d := openDB(t)
	ctx := context.Background()

	tx, err := d.BeginReadWrite(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = d.BeginReadWrite(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, tx.Commit(ctx))

	tx, err = d.BeginReadWrite(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
}

func TestBeginReadWrite_WaitsForWriter(t *testing.T) {
	d := openDB(t)
	ctx := context.Background()

	first, err := d.BeginReadWrite(ctx)
	require.NoError(t, err)

	started := make(chan *db.Transaction)
	go func() {
		tx, err := d.BeginReadWrite(ctx)
		if err != nil {
			close(started)
			return
		}
		started <- tx
	}()

	select {
	case <-started:
		t.Fatal("second writer started while the first was open")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, first.Rollback())
	second, ok := <-started
	require.True(t, ok, "second writer failed to start")
	require.NoError(t, second.Rollback())
}

func TestBeginRead_WhileWriterOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("file", func(t *testing.T) {
		s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		d := db.Open(s)
		t.Cleanup(func() { d.Close() })

		w, err := d.BeginReadWrite(ctx)
		require.NoError(t, err)
		defer w.Rollback()

		waitCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		r, err := d.BeginRead(waitCtx)
		require.NoError(t, err, "a file-backed read starts beside the writer")
		require.NoError(t, r.Rollback())
	})

	t.Run("memory", func(t *testing.T) {
		d := openDB(t)

		w, err := d.BeginReadWrite(ctx)
		require.NoError(t, err)

		waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err = d.BeginRead(waitCtx)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "an in-memory read waits for the writer's connection")

		require.NoError(t, w.Rollback())
		r, err := d.BeginRead(ctx)
		require.NoError(t, err)
		require.NoError(t, r.Rollback())
	})
}

func TestTransactionIDs(t *testing.T) {
	d := openDB(t, db.WithIDGenerator(testutil.NewFixedIDGenerator("")))
	tx, err := d.BeginRead(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	assert.Equal(t, "test-tx", tx.ID())
	assert.True(t, tx.ReadOnly())
	assert.Same(t, d, tx.Database())
	assert.NotNil(t, tx.Logger())
}

func exists(t *testing.T, d *db.Database, n ir.Node) bool {
	t.Helper()
	var ok bool
	err := d.Read(context.Background(), func(tx *db.Transaction) error {
		var err error
		ok, err = tx.Exists(context.Background(), n)
		return err
	})
	require.NoError(t, err)
	return ok
}
