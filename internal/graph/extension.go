package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/relgraph/internal/db"
	"github.com/roach88/relgraph/internal/ir"
)

// ExtensionName is the default registration name.
const ExtensionName = "relationships"

// EdgeSchema checks an edge before it is added and may fill in its rule.
// Implemented by schema.Schema.
type EdgeSchema interface {
	Resolve(e ir.Edge) (ir.Edge, error)
}

// Options configures an Extension.
type Options struct {
	// Name is the registration name. Default: ExtensionName.
	Name string

	// Schema, if set, validates every added edge.
	Schema EdgeSchema

	// OnNotify receives notify-only edges that fired, after the commit
	// is durable.
	OnNotify func(Notification)

	// Registerer receives the extension's metrics. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer

	// Logger defaults to the database logger.
	Logger *slog.Logger

	// Order is the resolver frontier order. Default: FIFO.
	Order Order
}

// Extension is the relationship extension. Register it on a db.Database,
// then reach each transaction's edges with For.
type Extension struct {
	opts    Options
	metrics *Metrics
}

var _ db.Extension = (*Extension)(nil)

// New creates the extension.
func New(opts Options) *Extension {
	if opts.Name == "" {
		opts.Name = ExtensionName
	}
	return &Extension{opts: opts, metrics: NewMetrics(opts.Registerer)}
}

// Name implements db.Extension.
func (x *Extension) Name() string { return x.opts.Name }

// Metrics returns the extension's collectors.
func (x *Extension) Metrics() *Metrics { return x.metrics }

// NewTransaction implements db.Extension.
func (x *Extension) NewTransaction(host *db.Transaction) db.ExtensionTransaction {
	logger := x.opts.Logger
	if logger == nil {
		logger = host.Logger()
	} else {
		logger = logger.With("tx", host.ID())
	}
	return &Tx{
		ext:    x,
		host:   host,
		delta:  NewDelta(),
		logger: logger.With("extension", x.opts.Name),
	}
}

// For returns the relationship handle of tx. The optional name selects an
// extension registered under a name other than ExtensionName.
func For(tx *db.Transaction, name ...string) (*Tx, error) {
	n := ExtensionName
	if len(name) > 0 && name[0] != "" {
		n = name[0]
	}
	et, err := tx.Extension(n)
	if err != nil {
		return nil, err
	}
	gtx, ok := et.(*Tx)
	if !ok {
		return nil, db.NewMissingExtensionError(n, fmt.Sprintf("is %T, not a relationship extension", et))
	}
	return gtx, nil
}

// Tx is the relationship extension's view of one host transaction.
//
// Edge changes stay in the delta until commit. Queries return the working
// view, which is what the resolver will act on.
type Tx struct {
	ext    *Extension
	host   *db.Transaction
	delta  *Delta
	logger *slog.Logger

	// resolving is set while the resolver deletes records through the
	// host, whose notifications come back here and must not re-enter the
	// delta.
	resolving bool

	last    *Resolution
	pending []Notification
}

var _ db.ExtensionTransaction = (*Tx)(nil)

// Add records e as added. Adding an identity twice is a no-op unless the
// rule changed, in which case the new rule wins.
//
// A malformed edge is rejected with INVALID_EDGE_REFERENCE and the
// transaction remains usable.
func (t *Tx) Add(ctx context.Context, e ir.Edge) error {
	if err := t.checkWritable("add edge"); err != nil {
		return err
	}
	if t.ext.opts.Schema != nil {
		resolved, err := t.ext.opts.Schema.Resolve(e)
		if err != nil {
			return db.NewInvalidEdgeError(e, err)
		}
		e = resolved
	}
	if e.Rule == "" {
		e.Rule = ir.RuleNone
	}
	if err := e.Validate(); err != nil {
		return db.NewInvalidEdgeError(e, err)
	}
	t.delta.AddEdge(e)
	t.logger.DebugContext(ctx, "edge added", "edge", e.String(), "rule", string(e.Rule))
	return nil
}

// Remove records the identity as removed. Removing an unknown identity is
// not an error.
func (t *Tx) Remove(ctx context.Context, id string) error {
	if err := t.checkWritable("remove edge"); err != nil {
		return err
	}
	t.delta.RemoveEdge(id)
	t.logger.DebugContext(ctx, "edge removed", "edge_id", id)
	return nil
}

// RemoveEdge removes e by identity.
func (t *Tx) RemoveEdge(ctx context.Context, e ir.Edge) error {
	return t.Remove(ctx, e.ID())
}

// EdgesWithSource returns working edges whose source is n.
func (t *Tx) EdgesWithSource(ctx context.Context, n ir.Node) ([]ir.Edge, error) {
	v, err := t.view()
	if err != nil {
		return nil, err
	}
	return v.EdgesWithSource(ctx, n)
}

// EdgesWithDestination returns working edges whose destination is n.
func (t *Tx) EdgesWithDestination(ctx context.Context, n ir.Node) ([]ir.Edge, error) {
	v, err := t.view()
	if err != nil {
		return nil, err
	}
	return v.EdgesWithDestination(ctx, n)
}

// EdgesNamed returns working edges with the given name.
func (t *Tx) EdgesNamed(ctx context.Context, name string) ([]ir.Edge, error) {
	v, err := t.view()
	if err != nil {
		return nil, err
	}
	return v.EdgesNamed(ctx, name)
}

// AllEdges returns every working edge.
func (t *Tx) AllEdges(ctx context.Context) ([]ir.Edge, error) {
	v, err := t.view()
	if err != nil {
		return nil, err
	}
	return v.All(ctx)
}

// Edge returns the working edge with the given identity.
func (t *Tx) Edge(ctx context.Context, id string) (ir.Edge, bool, error) {
	v, err := t.view()
	if err != nil {
		return ir.Edge{}, false, err
	}
	return v.Edge(ctx, id)
}

// Delta returns the transaction's pending changes. Callers must not
// mutate it.
func (t *Tx) Delta() *Delta { return t.delta }

// LastResolution returns what the commit did, or nil before a successful
// commit.
func (t *Tx) LastResolution() *Resolution { return t.last }

func (t *Tx) checkWritable(op string) error {
	if t.host.Closed() {
		return &db.Error{Code: db.ErrCodeTxClosed, Op: op, Message: "transaction " + t.host.ID() + " is finished"}
	}
	if t.host.ReadOnly() {
		return &db.Error{Code: db.ErrCodeReadOnly, Op: op, Message: "transaction " + t.host.ID() + " is read-only"}
	}
	return nil
}

func (t *Tx) view() (*View, error) {
	if t.host.Closed() {
		return nil, &db.Error{Code: db.ErrCodeTxClosed, Op: "edges", Message: "transaction " + t.host.ID() + " is finished"}
	}
	return NewView(t.host.Edges(), t.delta), nil
}

// DidSetObject implements db.ExtensionTransaction.
func (t *Tx) DidSetObject(_ context.Context, n ir.Node) {
	if !t.resolving {
		t.delta.SetObject(n)
	}
}

// DidRemoveObject implements db.ExtensionTransaction.
func (t *Tx) DidRemoveObject(_ context.Context, n ir.Node) {
	if !t.resolving {
		t.delta.RemoveObject(n)
	}
}

// PrepareCommit runs the resolver and writes its result through the host
// transaction. Read transactions have nothing to resolve.
func (t *Tx) PrepareCommit(ctx context.Context) error {
	if t.host.ReadOnly() {
		return nil
	}
	table, err := t.host.EdgeWriter()
	if err != nil {
		return err
	}

	t.resolving = true
	defer func() { t.resolving = false }()

	view := NewView(table, t.delta)
	closure, err := NewResolver(view, t.ext.opts.Order).Close(ctx, t.delta.RemovedNodes())
	if err != nil {
		return fmt.Errorf("resolve cascade: %w", err)
	}
	res, err := Apply(ctx, closure, t.delta, view, t.host, table)
	if err != nil {
		return fmt.Errorf("apply cascade: %w", err)
	}

	t.last = res
	t.pending = res.Notifications
	t.logger.DebugContext(ctx, "cascade resolved",
		"deleted", len(res.Deleted),
		"cascaded", len(res.Cascaded),
		"edges_inserted", len(res.EdgesInserted),
		"edges_removed", len(res.EdgesRemoved),
		"steps", res.Steps,
	)
	return nil
}

// DidCommit implements db.ExtensionTransaction.
func (t *Tx) DidCommit() {
	if t.last != nil {
		t.ext.metrics.Record(t.last)
	}
	if t.ext.opts.OnNotify != nil {
		for _, n := range t.pending {
			t.ext.opts.OnNotify(n)
		}
	}
	t.pending = nil
	t.delta.Reset()
}

// DidRollback implements db.ExtensionTransaction.
func (t *Tx) DidRollback() {
	t.last = nil
	t.pending = nil
	t.delta.Reset()
}
