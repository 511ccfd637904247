// Package dgconsensus (Directed Graph CONSENSUS) contains the core types
// for the DAG-based commit protocol: rounds, blocks and block references,
// the stake-weighted committee, and stake aggregation toward the
// quorum and validity thresholds.
//
// Types in this package carry no behavior beyond what can be derived
// from their own content; the commit rule itself lives in
// [github.com/meridian-engine/meridian/dg/dgcommit] and the fastpath
// transaction certifier in
// [github.com/meridian-engine/meridian/dg/dgcert].
package dgconsensus
