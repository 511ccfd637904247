// Package dgcommit (Directed Graph COMMIT) implements the leader
// decision rule of the commit core.
//
// A [BaseCommitter] decides the leader slots of a single linear
// pipeline: waves of wave-length consecutive rounds, each wave with a
// leader round, voting round(s) and a decision round. Decisions are
// made directly from quorum support or blame observed in the DAG, or
// indirectly through certified links reachable from later decided
// leaders.
//
// A [UniversalCommitter] owns one BaseCommitter per pipeline (offset
// so that every round is the leader round of exactly one pipeline when
// pipelining is enabled) and merges their decisions into one gapless,
// strictly round-ordered commit sequence.
//
// Neither type holds entity state of its own: every decision is
// re-derived from the [dgstore.DagState], which makes every operation
// here idempotent.
package dgcommit
