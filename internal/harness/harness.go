package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/relgraph/internal/badgerstore"
	"github.com/roach88/relgraph/internal/db"
	"github.com/roach88/relgraph/internal/graph"
	"github.com/roach88/relgraph/internal/ir"
	"github.com/roach88/relgraph/internal/schema"
	"github.com/roach88/relgraph/internal/store"
	"github.com/roach88/relgraph/internal/testutil"
)

// Harness runs one scenario on one database.
type Harness struct {
	db     *db.Database
	logger *slog.Logger

	// labels maps edge identities seen in the scenario to their
	// human-readable form.
	labels map[string]string

	// notified collects notifications delivered by the current commit.
	notified []graph.Notification
}

// Option configures a run.
type Option func(*runConfig)

type runConfig struct {
	backend string
	logger  *slog.Logger
}

// WithBackend runs on the named backend instead of the scenario's.
func WithBackend(name string) Option {
	return func(c *runConfig) { c.backend = name }
}

// WithLogger sets the database logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) { c.logger = l }
}

// Run executes a scenario on a fresh in-memory database and returns what
// happened. An error means the scenario could not run at all; failed
// expectations are reported in Result.Errors.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{
		backend: s.Backend,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.backend == "" {
		cfg.backend = BackendSQLite
	}

	backend, err := openMemoryBackend(cfg.backend)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		db: db.Open(backend,
			db.WithLogger(cfg.logger),
			db.WithIDGenerator(testutil.NewFixedIDGenerator(s.Name)),
		),
		logger: cfg.logger.With("scenario", s.Name),
		labels: make(map[string]string),
	}
	defer h.db.Close()

	order, err := graph.ParseOrder(s.Order)
	if err != nil {
		return nil, err
	}
	gopts := graph.Options{OnNotify: h.onNotify, Order: order}
	if s.Schema != "" {
		sch, err := schema.LoadDir(s.Schema)
		if err != nil {
			return nil, fmt.Errorf("load schema: %w", err)
		}
		gopts.Schema = sch
	}
	if err := h.db.Register(graph.New(gopts)); err != nil {
		return nil, err
	}

	result := NewResult(cfg.backend)
	for i, txs := range s.Transactions {
		txr, err := h.runTransaction(ctx, i, txs, result)
		if err != nil {
			return nil, fmt.Errorf("transactions[%d]: %w", i, err)
		}
		result.Transactions = append(result.Transactions, txr)
		if txs.Expect != nil {
			checkExpect(i, txs.Expect, txr, result)
		}
	}

	for _, msg := range EvaluateAssertions(ctx, h.db, s.Assertions) {
		result.AddError(msg)
	}
	h.logger.Debug("scenario finished", "pass", result.Pass, "errors", len(result.Errors))
	return result, nil
}

// openMemoryBackend opens an empty in-memory record store.
func openMemoryBackend(name string) (db.Backend, error) {
	switch name {
	case BackendSQLite:
		return store.Open(store.MemoryPath)
	case BackendBadger:
		return badgerstore.Open(badgerstore.InMemoryConfig())
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

func (h *Harness) onNotify(n graph.Notification) {
	h.notified = append(h.notified, n)
}

func (h *Harness) runTransaction(ctx context.Context, index int, txs TxStep, result *Result) (TxResult, error) {
	h.notified = nil

	tx, err := h.db.BeginReadWrite(ctx)
	if err != nil {
		return TxResult{}, err
	}
	g, err := graph.For(tx)
	if err != nil {
		_ = tx.Rollback()
		return TxResult{}, err
	}

	for j, step := range txs.Steps {
		err := h.runStep(ctx, tx, g, step)
		switch {
		case step.Error != "" && !db.HasCode(err, db.ErrorCode(step.Error)):
			result.AddErrorf("transactions[%d].steps[%d]: expected %s, got %v", index, j, step.Error, err)
		case step.Error == "" && err != nil:
			if db.IsStoreIOFailure(err) {
				_ = tx.Rollback()
				return TxResult{}, fmt.Errorf("steps[%d]: %w", j, err)
			}
			result.AddErrorf("transactions[%d].steps[%d]: %v", index, j, err)
		}
	}

	if txs.Rollback {
		if err := tx.Rollback(); err != nil {
			return TxResult{}, err
		}
		return TxResult{Outcome: OutcomeRolledBack}, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return TxResult{}, err
	}
	res := g.LastResolution()
	return h.describe(res), nil
}

func (h *Harness) runStep(ctx context.Context, tx *db.Transaction, g *graph.Tx, step Step) error {
	switch {
	case step.Set != "":
		n, err := ir.ParseNode(step.Set)
		if err != nil {
			return err
		}
		value, err := encodeValue(step.Value)
		if err != nil {
			return fmt.Errorf("set %s: %w", n, err)
		}
		return tx.Set(ctx, n, value)
	case step.Remove != "":
		n, err := ir.ParseNode(step.Remove)
		if err != nil {
			return err
		}
		return tx.Remove(ctx, n)
	case step.RemoveAll != "":
		return tx.RemoveAll(ctx, step.RemoveAll)
	case step.AddEdge != nil:
		e, err := step.AddEdge.Edge()
		if err != nil {
			return err
		}
		h.labels[e.ID()] = e.String()
		return g.Add(ctx, e)
	case step.RemoveEdge != nil:
		e, err := step.RemoveEdge.Edge()
		if err != nil {
			return err
		}
		h.labels[e.ID()] = e.String()
		return g.RemoveEdge(ctx, e)
	default:
		return fmt.Errorf("empty step")
	}
}

// encodeValue stores scenario values as canonical JSON.
func encodeValue(v map[string]any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	obj, err := convertArgsToIRObject(v)
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(obj)
}

// describe renders a resolution with node and edge labels, sorted.
func (h *Harness) describe(res *graph.Resolution) TxResult {
	out := TxResult{Outcome: OutcomeCommitted, Resolution: res}
	if res == nil {
		return out
	}
	out.Deleted = nodeLabels(res.Deleted)
	out.Cascaded = nodeLabels(res.Cascaded)
	out.EdgesInserted = h.edgeLabels(res.EdgesInserted)
	out.EdgesRemoved = h.edgeLabels(res.EdgesRemoved)
	out.EdgesDiscarded = h.edgeLabels(res.EdgesDiscarded)
	out.Steps = res.Steps

	out.Notifications = make([]string, 0, len(h.notified))
	for _, n := range h.notified {
		out.Notifications = append(out.Notifications, notificationLabel(n))
	}
	slices.Sort(out.Notifications)
	return out
}

func notificationLabel(n graph.Notification) string {
	return fmt.Sprintf("%s deleted %s", n.Edge, n.Deleted)
}

func nodeLabels(nodes []ir.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.String())
	}
	slices.Sort(out)
	return out
}

func (h *Harness) edgeLabels(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if label, ok := h.labels[id]; ok {
			out = append(out, label)
		} else {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func checkExpect(index int, want *ExpectClause, got TxResult, result *Result) {
	check := func(field string, want, got []string) {
		if want == nil {
			return
		}
		w := slices.Clone(want)
		slices.Sort(w)
		if !slices.Equal(w, got) {
			result.AddErrorf("transactions[%d].expect.%s: expected %v, got %v", index, field, w, got)
		}
	}
	check("deleted", want.Deleted, got.Deleted)
	check("cascaded", want.Cascaded, got.Cascaded)
	check("notifications", want.Notifications, got.Notifications)
	check("discarded", want.Discarded, got.EdgesDiscarded)
}

// convertArgsToIRObject converts YAML-decoded values to an ir.IRObject.
func convertArgsToIRObject(args map[string]any) (ir.IRObject, error) {
	result := make(ir.IRObject, len(args))
	for key, val := range args {
		irVal, err := convertToIRValue(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		result[key] = irVal
	}
	return result, nil
}

// convertToIRValue converts a YAML-decoded value. Nulls and fractional
// numbers have no canonical form and are rejected.
func convertToIRValue(val any) (ir.IRValue, error) {
	switch v := val.(type) {
	case nil:
		return nil, fmt.Errorf("null values are not supported")
	case string:
		return ir.IRString(v), nil
	case int:
		return ir.IRInt(int64(v)), nil
	case int64:
		return ir.IRInt(v), nil
	case float64:
		if v == float64(int64(v)) {
			return ir.IRInt(int64(v)), nil
		}
		return nil, fmt.Errorf("floats are not supported: %v", v)
	case bool:
		return ir.IRBool(v), nil
	case []any:
		arr := make(ir.IRArray, len(v))
		for i, elem := range v {
			irElem, err := convertToIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = irElem
		}
		return arr, nil
	case map[string]any:
		return convertArgsToIRObject(v)
	default:
		return nil, fmt.Errorf("unsupported type %T", val)
	}
}
