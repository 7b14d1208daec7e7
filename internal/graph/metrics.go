package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "relgraph"

// Deletion causes for the deleted_nodes_total metric.
const (
	causeExplicit = "explicit"
	causeCascade  = "cascade"
)

// Metrics holds the extension's Prometheus collectors.
type Metrics struct {
	// Resolutions counts resolver runs, one per committed write transaction.
	Resolutions prometheus.Counter

	// DeletedNodes counts nodes deleted at commit.
	// Labels: cause (explicit, cascade)
	DeletedNodes *prometheus.CounterVec

	// EdgesInserted counts edges written to the edge table.
	EdgesInserted prometheus.Counter

	// EdgesRemoved counts edges pruned from the edge table.
	EdgesRemoved prometheus.Counter

	// FrontierSteps observes frontier pops per resolution.
	FrontierSteps prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Resolutions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "resolutions_total",
			Help:      "Cascade resolutions run at commit",
		}),
		DeletedNodes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deleted_nodes_total",
			Help:      "Nodes deleted at commit by cause",
		}, []string{"cause"}),
		EdgesInserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "edges_inserted_total",
			Help:      "Edges written to the edge table",
		}),
		EdgesRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "edges_removed_total",
			Help:      "Edges pruned from the edge table",
		}),
		FrontierSteps: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "cascade_frontier_steps",
			Help:      "Frontier pops per cascade resolution",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

// Record adds one resolution to the collectors.
func (m *Metrics) Record(res *Resolution) {
	m.Resolutions.Inc()
	explicit := len(res.Deleted) - len(res.Cascaded)
	m.DeletedNodes.WithLabelValues(causeExplicit).Add(float64(explicit))
	m.DeletedNodes.WithLabelValues(causeCascade).Add(float64(len(res.Cascaded)))
	m.EdgesInserted.Add(float64(len(res.EdgesInserted)))
	m.EdgesRemoved.Add(float64(len(res.EdgesRemoved)))
	m.FrontierSteps.Observe(float64(res.Steps))
}
