package dgconsensus

import "github.com/meridian-engine/meridian/dg/dgmetrics"

// Context carries the per-node facts every commit core component
// needs: which authority this node is, the committee it belongs to,
// and where to report metrics.
//
// Context fields are set once at construction and never mutated.
type Context struct {
	// This node's position in the committee.
	OwnIndex AuthorityIndex

	Committee *Committee

	// May be nil, in which case no metrics are reported.
	Metrics *dgmetrics.NodeMetrics
}
