package dgcert

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-engine/meridian/dg/dgconsensus"
	"github.com/meridian-engine/meridian/dg/dgconsensus/dgconsensustest"
)

func votedWithoutRejects(blocks []*dgconsensus.VerifiedBlock) []VotedBlock {
	voted := make([]VotedBlock, len(blocks))
	for i, b := range blocks {
		voted[i] = VotedBlock{Block: b}
	}
	return voted
}

func sortCertified(certified []CertifiedBlock) {
	slices.SortFunc(certified, func(a, b CertifiedBlock) int {
		return a.Block.Ref().Compare(b.Block.Ref())
	})
}

func certifiedRefs(certified []CertifiedBlock) []dgconsensus.BlockRef {
	refs := make([]dgconsensus.BlockRef, len(certified))
	for i, c := range certified {
		refs[i] = c.Block.Ref()
	}
	return refs
}

func TestVoteInfo_Basic(t *testing.T) {
	t.Parallel()

	committee := dgconsensustest.NewCommittee(7)
	block := dgconsensustest.NewTestBlock(1, 1).SetNumTransactions(8).Build()

	t.Run("no accept votes", func(t *testing.T) {
		info := newVoteInfo()
		info.block = block

		_, ok := info.takeCertifiedOutput(committee)
		require.False(t, ok)
	})

	t.Run("accept votes below quorum", func(t *testing.T) {
		info := newVoteInfo()
		info.block = block
		for i := dgconsensus.AuthorityIndex(0); i < 4; i++ {
			info.addAcceptVote(i, committee)
		}

		_, ok := info.takeCertifiedOutput(committee)
		require.False(t, ok)
	})

	t.Run("quorum of accepts but no block", func(t *testing.T) {
		info := newVoteInfo()
		for i := dgconsensus.AuthorityIndex(0); i < 5; i++ {
			info.addAcceptVote(i, committee)
		}

		_, ok := info.takeCertifiedOutput(committee)
		require.False(t, ok)
	})

	t.Run("quorum of accepts and block", func(t *testing.T) {
		info := newVoteInfo()
		info.block = block
		for i := dgconsensus.AuthorityIndex(0); i < 4; i++ {
			info.addAcceptVote(i, committee)
		}

		_, ok := info.takeCertifiedOutput(committee)
		require.False(t, ok)

		info.addAcceptVote(4, committee)

		out, ok := info.takeCertifiedOutput(committee)
		require.True(t, ok)
		require.Equal(t, block.Ref(), out.Block.Ref())
		require.Empty(t, out.Rejected)

		// A certified block cannot be taken twice.
		_, ok = info.takeCertifiedOutput(committee)
		require.False(t, ok)
	})

	t.Run("quorum of accepts and rejects", func(t *testing.T) {
		info := newVoteInfo()
		info.block = block
		for i := dgconsensus.AuthorityIndex(0); i < 5; i++ {
			info.addAcceptVote(i, committee)
		}
		for txn := dgconsensus.TransactionIndex(3); txn < 8; txn++ {
			for i := dgconsensus.AuthorityIndex(0); i < 5; i++ {
				info.addRejectVote(txn, i, committee)
			}
		}

		out, ok := info.takeCertifiedOutput(committee)
		require.True(t, ok)
		require.Equal(t, []dgconsensus.TransactionIndex{3, 4, 5, 6, 7}, out.Rejected)

		_, ok = info.takeCertifiedOutput(committee)
		require.False(t, ok)
	})

	t.Run("transaction neither rejected nor settled", func(t *testing.T) {
		info := newVoteInfo()
		info.block = block
		for i := dgconsensus.AuthorityIndex(0); i < 5; i++ {
			info.addAcceptVote(i, committee)
		}
		for txn := dgconsensus.TransactionIndex(3); txn < 6; txn++ {
			for i := dgconsensus.AuthorityIndex(0); i < 5; i++ {
				info.addRejectVote(txn, i, committee)
			}
		}
		// Transaction 6 has rejects below quorum, and the block's
		// accept stake minus those rejects is below quorum too.
		for i := dgconsensus.AuthorityIndex(0); i < 4; i++ {
			info.addRejectVote(6, i, committee)
		}

		_, ok := info.takeCertifiedOutput(committee)
		require.False(t, ok)

		// One more reject settles transaction 6 as rejected.
		info.addRejectVote(6, 4, committee)

		out, ok := info.takeCertifiedOutput(committee)
		require.True(t, ok)
		require.Equal(t, []dgconsensus.TransactionIndex{3, 4, 5, 6}, out.Rejected)
	})
}

func TestCertifierState_Basic(t *testing.T) {
	t.Parallel()

	ctx := dgconsensustest.NewContext(4)

	var allBlocks []*dgconsensus.VerifiedBlock

	// Round 1: all authorities, fully connected to genesis.
	genesis := make([]dgconsensus.BlockRef, 0, 4)
	for _, g := range dgconsensus.GenesisBlocks(ctx.Committee) {
		genesis = append(genesis, g.Ref())
	}
	for i := dgconsensus.AuthorityIndex(0); i < 4; i++ {
		allBlocks = append(allBlocks, dgconsensustest.NewTestBlock(1, i).
			SetAncestors(genesis).
			SetNumTransactions(4).
			Build())
	}

	// Nothing certifies with round 1 alone.
	state := newCertifierState(ctx)
	require.Empty(t, state.addVotedBlocks(votedWithoutRejects(allBlocks)))

	// Round 2: the first three authorities link the first three
	// round-1 blocks; two of them reject transaction 2 of the
	// round-1 block by authority 2.
	round1ABC := []dgconsensus.BlockRef{
		allBlocks[0].Ref(), allBlocks[1].Ref(), allBlocks[2].Ref(),
	}
	rejectedRound1 := allBlocks[2].Ref()
	for i := dgconsensus.AuthorityIndex(0); i < 3; i++ {
		builder := dgconsensustest.NewTestBlock(2, i).
			SetAncestors(round1ABC).
			SetNumTransactions(4)
		if i < 2 {
			builder.SetTransactionVotes([]dgconsensus.BlockTransactionVotes{
				{BlockRef: rejectedRound1, Rejects: []dgconsensus.TransactionIndex{2}},
			})
		}
		allBlocks = append(allBlocks, builder.Build())
	}

	// With round 2 added, the round-1 blocks of authorities 0 and 1
	// certify; authority 2's block has transaction 2 unsettled.
	state = newCertifierState(ctx)
	certified := state.addVotedBlocks(votedWithoutRejects(allBlocks))
	sortCertified(certified)
	require.Equal(t, []dgconsensus.BlockRef{
		allBlocks[0].Ref(), allBlocks[1].Ref(),
	}, certifiedRefs(certified))

	// Round 3: every authority links the round-2 blocks plus the
	// round-1 block of authority 3, and rejects transaction 2 of the
	// round-2 block by authority 2. Authority 3 also rejects
	// transaction 2 of the unsettled round-1 block, and equivocates
	// with an extra block carrying no votes.
	rejectedRound2 := allBlocks[len(allBlocks)-1].Ref()
	round3Ancestors := []dgconsensus.BlockRef{
		allBlocks[3].Ref(),
		allBlocks[4].Ref(), allBlocks[5].Ref(), allBlocks[6].Ref(),
	}
	for i := dgconsensus.AuthorityIndex(0); i < 4; i++ {
		votes := []dgconsensus.BlockTransactionVotes{
			{BlockRef: rejectedRound2, Rejects: []dgconsensus.TransactionIndex{2}},
		}
		if i == 3 {
			votes = append(votes, dgconsensus.BlockTransactionVotes{
				BlockRef: rejectedRound1, Rejects: []dgconsensus.TransactionIndex{2},
			})
		}
		allBlocks = append(allBlocks, dgconsensustest.NewTestBlock(3, i).
			SetAncestors(round3Ancestors).
			SetNumTransactions(4).
			SetTransactionVotes(votes).
			Build())
	}
	allBlocks = append(allBlocks, dgconsensustest.NewTestBlock(3, 3).
		SetAncestors(round3Ancestors).
		SetNumTransactions(4).
		SetTimestampMs(3001).
		Build())

	// All round-1 and round-2 blocks of authorities 0-2 certify.
	// The round-1 block of authority 3 does not: its only links come
	// from two rounds above, which carry no accept votes.
	state = newCertifierState(ctx)
	certified = state.addVotedBlocks(votedWithoutRejects(allBlocks))
	sortCertified(certified)
	require.Equal(t, []dgconsensus.BlockRef{
		allBlocks[0].Ref(), allBlocks[1].Ref(), allBlocks[2].Ref(),
		allBlocks[4].Ref(), allBlocks[5].Ref(), allBlocks[6].Ref(),
	}, certifiedRefs(certified))

	// The unsettled transactions resolved as rejected.
	for _, c := range certified {
		switch c.Block.Ref() {
		case rejectedRound1, rejectedRound2:
			require.Equal(t, []dgconsensus.TransactionIndex{2}, c.Rejected)
		default:
			require.Empty(t, c.Rejected)
		}
	}
}

func TestCertifierState_OwnVotes(t *testing.T) {
	t.Parallel()

	ctx := dgconsensustest.NewContextAs(4, 3)

	genesis := make([]dgconsensus.BlockRef, 0, 4)
	for _, g := range dgconsensus.GenesisBlocks(ctx.Committee) {
		genesis = append(genesis, g.Ref())
	}

	var round1 []*dgconsensus.VerifiedBlock
	for i := dgconsensus.AuthorityIndex(0); i < 4; i++ {
		round1 = append(round1, dgconsensustest.NewTestBlock(1, i).
			SetAncestors(genesis).
			SetNumTransactions(4).
			Build())
	}
	round1Refs := []dgconsensus.BlockRef{
		round1[0].Ref(), round1[1].Ref(), round1[2].Ref(), round1[3].Ref(),
	}

	// Round 2 blocks from authorities 0-2; the first two reject
	// transactions of the round-1 blocks by authorities 1 and 2.
	var round2 []*dgconsensus.VerifiedBlock
	for i := dgconsensus.AuthorityIndex(0); i < 3; i++ {
		builder := dgconsensustest.NewTestBlock(2, i).
			SetAncestors(round1Refs).
			SetNumTransactions(4)
		if i < 2 {
			builder.SetTransactionVotes([]dgconsensus.BlockTransactionVotes{
				{BlockRef: round1[1].Ref(), Rejects: []dgconsensus.TransactionIndex{1, 2}},
				{BlockRef: round1[2].Ref(), Rejects: []dgconsensus.TransactionIndex{2, 3}},
			})
		}
		round2 = append(round2, builder.Build())
	}

	// Round 2 alone certifies nothing: the target blocks are unknown.
	state := newCertifierState(ctx)
	require.Empty(t, state.addVotedBlocks(votedWithoutRejects(round2)))

	// The round-1 block of authority 0 certifies as soon as it is
	// voted on: accepts from authorities 0-2 were waiting, and this
	// node's own vote completes the quorum.
	certified := state.addVotedBlocks([]VotedBlock{{Block: round1[0]}})
	require.Len(t, certified, 1)
	require.Equal(t, round1[0].Ref(), certified[0].Block.Ref())

	// Authority 1's block stays unsettled: own vote only rejects
	// transaction 1, leaving transaction 2 with rejects from two
	// authorities and accepts from three.
	certified = state.addVotedBlocks([]VotedBlock{{
		Block:      round1[1],
		OwnRejects: []dgconsensus.TransactionIndex{1},
	}})
	require.Empty(t, certified)

	// Authority 2's block settles fully once this node rejects the
	// same transactions a quorum rejected.
	certified = state.addVotedBlocks([]VotedBlock{{
		Block:      round1[2],
		OwnRejects: []dgconsensus.TransactionIndex{2, 3},
	}})
	require.Len(t, certified, 1)
	require.Equal(t, round1[2].Ref(), certified[0].Block.Ref())
	require.Equal(t, []dgconsensus.TransactionIndex{2, 3}, certified[0].Rejected)
}

func TestCertifierState_FullyConnected(t *testing.T) {
	t.Parallel()

	ctx := dgconsensustest.NewContext(7)
	const numRounds = 20

	builder := dgconsensustest.NewDagBuilder(ctx)
	builder.Layers(1, numRounds).Build()
	allBlocks := builder.AllBlocks()

	var expected []dgconsensus.BlockRef
	for _, b := range allBlocks {
		if b.Round() < numRounds {
			expected = append(expected, b.Ref())
		}
	}
	slices.SortFunc(expected, dgconsensus.BlockRef.Compare)

	rng := rand.New(rand.NewSource(17))
	rng.Shuffle(len(allBlocks), func(i, j int) {
		allBlocks[i], allBlocks[j] = allBlocks[j], allBlocks[i]
	})

	state := newCertifierState(ctx)
	certified := state.addVotedBlocks(votedWithoutRejects(allBlocks))
	for _, c := range certified {
		require.Empty(t, c.Rejected)
	}

	got := certifiedRefs(certified)
	slices.SortFunc(got, dgconsensus.BlockRef.Compare)
	require.Equal(t, expected, got)
}

func TestCertifierState_OrderIndependence(t *testing.T) {
	t.Parallel()

	ctx := dgconsensustest.NewContext(7)
	const numRounds = 50

	builder := dgconsensustest.NewDagBuilder(ctx)
	builder.Layers(1, numRounds).MinAncestorLinks(23).Build()
	allBlocks := builder.AllBlocks()

	state := newCertifierState(ctx)
	expected := state.addVotedBlocks(votedWithoutRejects(allBlocks))
	sortCertified(expected)

	rng := rand.New(rand.NewSource(29))
	for i := 0; i < 20; i++ {
		shuffled := slices.Clone(allBlocks)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		state := newCertifierState(ctx)
		certified := state.addVotedBlocks(votedWithoutRejects(shuffled))
		sortCertified(certified)

		require.Len(t, certified, len(expected))
		for j := range certified {
			require.Equal(t, expected[j].Block.Ref(), certified[j].Block.Ref())
			require.Equal(t, expected[j].Rejected, certified[j].Rejected)
		}
	}
}

func TestCertifierState_GCPurgesVotes(t *testing.T) {
	t.Parallel()

	ctx := dgconsensustest.NewContext(4)

	builder := dgconsensustest.NewDagBuilder(ctx)
	builder.Layers(1, 6).Build()
	allBlocks := builder.AllBlocks()

	state := newCertifierState(ctx)
	state.addVotedBlocks(votedWithoutRejects(allBlocks))
	require.NotEmpty(t, state.votes)

	state.updateGCRound(3)
	for ref := range state.votes {
		require.Greater(t, ref.Round, dgconsensus.Round(3))
	}

	// Blocks at or below the watermark are ignored afterwards.
	stale := dgconsensustest.NewTestBlock(3, 0).SetTimestampMs(1).Build()
	require.Empty(t, state.addVotedBlocks([]VotedBlock{{Block: stale}}))
	_, held := state.votes[stale.Ref()]
	require.False(t, held)

	// The watermark never moves backwards.
	state.updateGCRound(2)
	require.Equal(t, dgconsensus.Round(3), state.gcRound)
}
