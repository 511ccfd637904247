package dgcommit_test

import (
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/meridian-engine/meridian/dg/dgcommit"
	"github.com/meridian-engine/meridian/dg/dgconsensus"
	"github.com/meridian-engine/meridian/dg/dgconsensus/dgconsensustest"
	"github.com/meridian-engine/meridian/dg/dgstore"
)

func newUniversalCommitter(t *testing.T, size int, pipeline bool) (
	*dgconsensus.Context,
	*dgstore.DagState,
	*dgcommit.UniversalCommitter,
) {
	t.Helper()

	ctx := dgconsensustest.NewContext(size)
	dag := dgstore.NewDagState(ctx)
	committer := dgcommit.NewUniversalCommitterBuilder(
		slogt.New(t),
		ctx,
		dgconsensus.NewRoundRobinSchedule(ctx.Committee),
		dag,
	).
		WithPipeline(pipeline).
		Build()
	return ctx, dag, committer
}

func TestUniversalCommitter_DirectCommit(t *testing.T) {
	t.Parallel()

	ctx, dag, committer := newUniversalCommitter(t, 4, false)

	dgconsensustest.BuildDag(ctx, dag, nil, 11)

	decided := committer.TryDecide(dgconsensus.Slot{})
	require.Len(t, decided, 3)
	for i, leader := range decided {
		require.True(t, leader.Committed())
		require.Equal(t, dgconsensus.Round(3*(i+1)), leader.Round())
		require.Equal(t, leader.Slot.Author, leader.Block.Author())
	}
}

func TestUniversalCommitter_EmptyDag(t *testing.T) {
	t.Parallel()

	_, _, committer := newUniversalCommitter(t, 4, false)

	require.Empty(t, committer.TryDecide(dgconsensus.Slot{}))
}

func TestUniversalCommitter_Idempotence(t *testing.T) {
	t.Parallel()

	ctx, dag, committer := newUniversalCommitter(t, 4, false)

	dgconsensustest.BuildDag(ctx, dag, nil, 11)

	first := committer.TryDecide(dgconsensus.Slot{})
	second := committer.TryDecide(dgconsensus.Slot{})
	require.Equal(t, first, second)

	// Resuming from an already-decided leader only returns the rest.
	rest := committer.TryDecide(first[0].Slot)
	require.Equal(t, first[1:], rest)

	// Nothing remains after the last decided leader.
	require.Empty(t, committer.TryDecide(first[len(first)-1].Slot))
}

func TestUniversalCommitter_PipelinedCommitsEveryRound(t *testing.T) {
	t.Parallel()

	ctx, dag, committer := newUniversalCommitter(t, 4, true)

	dgconsensustest.BuildDag(ctx, dag, nil, 8)

	// With pipelining every round is a leader round, and full
	// connectivity commits each leader whose decision round exists.
	decided := committer.TryDecide(dgconsensus.Slot{})
	require.Len(t, decided, 6)
	for i, leader := range decided {
		require.True(t, leader.Committed())
		require.Equal(t, dgconsensus.Round(i+1), leader.Round())
	}

	// And the sequence continues seamlessly as the DAG grows.
	last := decided[len(decided)-1]
	dgconsensustest.BuildDag(ctx, dag, refsAtRound(dag, 8), 11)
	more := committer.TryDecide(last.Slot)
	require.Len(t, more, 3)
	for i, leader := range more {
		require.True(t, leader.Committed())
		require.Equal(t, dgconsensus.Round(7+i), leader.Round())
	}
}

func TestUniversalCommitter_PipelinedFirstCommit(t *testing.T) {
	t.Parallel()

	ctx, dag, committer := newUniversalCommitter(t, 4, true)

	// Round 3 is the decision round of the first decidable leader,
	// the round-1 leader of the offset-1 pipeline.
	dgconsensustest.BuildDag(ctx, dag, nil, 3)

	decided := committer.TryDecide(dgconsensus.Slot{})
	require.Len(t, decided, 1)
	require.True(t, decided[0].Committed())
	require.Equal(t, dgconsensus.Round(1), decided[0].Round())

	leaders := committer.GetLeaders(1)
	require.Len(t, leaders, 1)
	require.Equal(t, leaders[0], decided[0].Slot)
}

func TestUniversalCommitter_NoGapsRoundByRound(t *testing.T) {
	t.Parallel()

	ctx, dag, committer := newUniversalCommitter(t, 4, true)

	// Grow the DAG one round at a time and poll after every round:
	// leaders must come out in strictly increasing rounds with no
	// round missing once decidable.
	last := dgconsensus.Slot{}
	next := dgconsensus.Round(1)
	var ancestors []dgconsensus.BlockRef
	for round := dgconsensus.Round(1); round <= 12; round++ {
		ancestors = dgconsensustest.BuildDag(ctx, dag, ancestors, round)

		for _, leader := range committer.TryDecide(last) {
			require.True(t, leader.Committed())
			require.Equal(t, next, leader.Round())
			next++
			last = leader.Slot
		}
	}

	// Rounds 1 through 10 are decidable with the DAG at round 12.
	require.Equal(t, dgconsensus.Round(11), next)
}

func TestUniversalCommitter_UndecidedLeaderHaltsIndirect(t *testing.T) {
	t.Parallel()

	ctx, dag, committer := newUniversalCommitter(t, 4, true)

	// Round-1 leader (authority 1): only two voters link it, so the
	// direct rule can neither commit nor skip.
	layer1 := dgconsensustest.BuildDag(ctx, dag, nil, 1)
	withoutLeader1 := withoutAuthor(layer1, 1)
	layer2 := dgconsensustest.BuildDagLayer(dag, 2, []dgconsensustest.Connection{
		{Author: 0, Ancestors: layer1},
		{Author: 1, Ancestors: layer1},
		{Author: 2, Ancestors: withoutLeader1},
		{Author: 3, Ancestors: withoutLeader1},
	})

	// Rounds 3 and 4 fully connected: their leaders commit directly.
	layer4 := dgconsensustest.BuildDag(ctx, dag, layer2, 4)

	// Round-4 leader (authority 0) is left undecided the same way.
	withoutLeader4 := withoutAuthor(layer4, 0)
	layer5 := dgconsensustest.BuildDagLayer(dag, 5, []dgconsensustest.Connection{
		{Author: 0, Ancestors: layer4},
		{Author: 1, Ancestors: layer4},
		{Author: 2, Ancestors: withoutLeader4},
		{Author: 3, Ancestors: withoutLeader4},
	})

	dgconsensustest.BuildDag(ctx, dag, layer5, 7)

	// The first anchor above round 1 is the undecided round-4 slot, so
	// round 1 must stay undecided as well. Anchoring on the committed
	// round-5 leader instead would let nodes with different DAG
	// horizons resolve round 1 through different anchors.
	require.Empty(t, committer.TryDecide(dgconsensus.Slot{}))
}

func TestUniversalCommitter_MultipleLeadersPerRound(t *testing.T) {
	t.Parallel()

	ctx := dgconsensustest.NewContext(4)
	dag := dgstore.NewDagState(ctx)
	committer := dgcommit.NewUniversalCommitterBuilder(
		slogt.New(t),
		ctx,
		dgconsensus.NewRoundRobinSchedule(ctx.Committee),
		dag,
	).
		WithNumberOfLeaders(2).
		Build()

	dgconsensustest.BuildDag(ctx, dag, nil, 8)

	// Each leader round elects two leaders, decided in leader-offset
	// order within the round.
	leaders := committer.GetLeaders(3)
	require.Len(t, leaders, 2)
	require.Equal(t, dgconsensus.Slot{Round: 3, Author: 3}, leaders[0])
	require.Equal(t, dgconsensus.Slot{Round: 3, Author: 0}, leaders[1])

	decided := committer.TryDecide(dgconsensus.Slot{})
	require.Len(t, decided, 4)
	for _, leader := range decided {
		require.True(t, leader.Committed())
		require.Equal(t, leader.Slot.Author, leader.Block.Author())
	}
	require.Equal(t, leaders[0], decided[0].Slot)
	require.Equal(t, leaders[1], decided[1].Slot)
	require.Equal(t, dgconsensus.Slot{Round: 6, Author: 2}, decided[2].Slot)
	require.Equal(t, dgconsensus.Slot{Round: 6, Author: 3}, decided[3].Slot)

	// Resuming mid-round continues with the round's remaining leader.
	require.Equal(t, decided[1:], committer.TryDecide(decided[0].Slot))
	require.Equal(t, decided[2:], committer.TryDecide(decided[1].Slot))
}

func refsAtRound(dag *dgstore.DagState, round dgconsensus.Round) []dgconsensus.BlockRef {
	var refs []dgconsensus.BlockRef
	for _, b := range dag.BlocksAtRound(round) {
		refs = append(refs, b.Ref())
	}
	return refs
}

func TestUniversalCommitter_EquivocatingLeaderSkipped(t *testing.T) {
	t.Parallel()

	ctx, dag, committer := newUniversalCommitter(t, 4, false)

	layer2 := dgconsensustest.BuildDag(ctx, dag, nil, 2)

	// The round-3 leader equivocates, sending a different block to
	// each authority.
	leaderAuthor := dgconsensus.AuthorityIndex(3)
	honest := dgconsensustest.BuildDagLayer(dag, 3, []dgconsensustest.Connection{
		{Author: 0, Ancestors: layer2},
		{Author: 1, Ancestors: layer2},
		{Author: 2, Ancestors: layer2},
	})
	var equivocations []dgconsensus.BlockRef
	for i := 0; i < 3; i++ {
		block := dgconsensustest.NewTestBlock(3, leaderAuthor).
			SetAncestors(layer2).
			SetTimestampMs(dgconsensus.BlockTimestampMs(3000 + i)).
			Build()
		dag.AcceptBlock(block)
		equivocations = append(equivocations, block.Ref())
	}

	// Each round-4 voter observed a different equivocating block, so
	// no single one gathers a quorum of votes, and no blame quorum
	// forms either.
	var votingConnections []dgconsensustest.Connection
	for i := 0; i < 4; i++ {
		ancestors := append(
			append([]dgconsensus.BlockRef{}, honest...),
			equivocations[i%3],
		)
		votingConnections = append(votingConnections, dgconsensustest.Connection{
			Author:    dgconsensus.AuthorityIndex(i),
			Ancestors: ancestors,
		})
	}
	votingLayer := dgconsensustest.BuildDagLayer(dag, 4, votingConnections)

	dgconsensustest.BuildDag(ctx, dag, votingLayer, 8)

	// The equivocating leader slot is skipped indirectly through the
	// committed round-6 anchor, and the sequence carries on.
	decided := committer.TryDecide(dgconsensus.Slot{})
	require.Len(t, decided, 2)

	skipped := decided[0]
	require.False(t, skipped.Committed())
	require.Nil(t, skipped.Block)
	require.Equal(t, dgconsensus.Slot{Round: 3, Author: leaderAuthor}, skipped.Slot)

	committed := decided[1]
	require.True(t, committed.Committed())
	require.Equal(t, dgconsensus.Round(6), committed.Round())
}

func TestUniversalCommitter_GetLeaders(t *testing.T) {
	t.Parallel()

	_, _, pipelined := newUniversalCommitter(t, 4, true)
	leaders := pipelined.GetLeaders(5)
	require.Len(t, leaders, 1)
	require.Equal(t, dgconsensus.Round(5), leaders[0].Round)
	require.Equal(t, dgconsensus.AuthorityIndex(1), leaders[0].Author)

	_, _, plain := newUniversalCommitter(t, 4, false)
	require.Empty(t, plain.GetLeaders(5))
	require.Len(t, plain.GetLeaders(6), 1)

	// The genesis round never has a leader.
	require.Empty(t, pipelined.GetLeaders(0))
	require.Empty(t, plain.GetLeaders(0))
}
