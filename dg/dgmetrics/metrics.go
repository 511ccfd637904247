// Package dgmetrics (Directed Graph METRICS) contains
// the prometheus collectors shared across the commit core.
//
// Collectors are created against a caller-provided registerer
// so that tests can use an isolated registry per fixture.
package dgmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decision type label values for [NodeMetrics.CommittedLeaders].
const (
	DecisionDirectCommit   = "direct-commit"
	DecisionDirectSkip     = "direct-skip"
	DecisionIndirectCommit = "indirect-commit"
	DecisionIndirectSkip   = "indirect-skip"
)

// NodeMetrics holds the collectors for one node's commit core.
type NodeMetrics struct {
	// Decided leader slots, labelled by the leader's authority hostname
	// and the decision type (direct/indirect commit/skip).
	CommittedLeaders *prometheus.CounterVec

	// Blocks certified on the fastpath.
	CertifiedBlocks prometheus.Counter

	// Current garbage collection round of the certifier state.
	CertifierGCRound prometheus.Gauge
}

// NewNodeMetrics registers and returns the commit core collectors.
func NewNodeMetrics(reg prometheus.Registerer) *NodeMetrics {
	factory := promauto.With(reg)

	return &NodeMetrics{
		CommittedLeaders: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "committed_leaders_total",
			Help: "Total number of (direct or indirect) committed and skipped leaders, by authority and decision type.",
		}, []string{"authority", "decision"}),

		CertifiedBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "certified_blocks_total",
			Help: "Total number of blocks certified on the transaction fastpath.",
		}),

		CertifierGCRound: factory.NewGauge(prometheus.GaugeOpts{
			Name: "certifier_gc_round",
			Help: "Round at or below which certifier vote state has been garbage collected.",
		}),
	}
}
