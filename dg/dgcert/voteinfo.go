package dgcert

import (
	"slices"

	"github.com/meridian-engine/meridian/dg/dgconsensus"
)

// voteInfo accumulates the votes observed for a single block.
//
// A voteInfo may be created by a vote arriving before the block it
// votes on; the block field is filled in when the block itself is
// accepted. Once certified is set the block has been emitted and the
// entry only absorbs further votes without re-emitting.
type voteInfo struct {
	// The block being voted on. Nil until the block is accepted.
	block *dgconsensus.VerifiedBlock

	// Transactions this node's own block rejected, needed when
	// reporting the certified block.
	ownRejects []dgconsensus.TransactionIndex

	// Stake accepting the block as a whole.
	acceptVotes *dgconsensus.StakeAggregator

	// Stake rejecting individual transactions, keyed by index.
	rejectVotes map[dgconsensus.TransactionIndex]*dgconsensus.StakeAggregator

	// Whether the block has been emitted as certified.
	certified bool
}

func newVoteInfo() *voteInfo {
	return &voteInfo{
		acceptVotes: dgconsensus.NewStakeAggregator(dgconsensus.QuorumThreshold),
		rejectVotes: make(map[dgconsensus.TransactionIndex]*dgconsensus.StakeAggregator),
	}
}

func (v *voteInfo) addAcceptVote(voter dgconsensus.AuthorityIndex, committee *dgconsensus.Committee) {
	v.acceptVotes.AddUnique(voter, committee)
}

func (v *voteInfo) addRejectVote(
	txn dgconsensus.TransactionIndex,
	voter dgconsensus.AuthorityIndex,
	committee *dgconsensus.Committee,
) {
	agg, ok := v.rejectVotes[txn]
	if !ok {
		agg = dgconsensus.NewStakeAggregator(dgconsensus.QuorumThreshold)
		v.rejectVotes[txn] = agg
	}
	agg.AddUnique(voter, committee)
}

// takeCertifiedOutput returns the block as certified if the votes
// gathered so far settle every transaction, at most once per block.
//
// A transaction with a rejection quorum is reported rejected. A
// transaction is settled as accepted when rejection has become
// unreachable: the stake that accepted the block minus the stake that
// rejected the transaction is itself a quorum. Any transaction still
// in between keeps the whole block uncertified. The accept-minus-reject
// test under-counts, since rejecting stake may not be part of the
// accepting stake, but it can never certify a rejectable transaction.
func (v *voteInfo) takeCertifiedOutput(committee *dgconsensus.Committee) (CertifiedBlock, bool) {
	if v.certified || v.block == nil {
		return CertifiedBlock{}, false
	}
	if !v.acceptVotes.ReachedThreshold(committee) {
		return CertifiedBlock{}, false
	}

	quorum := committee.QuorumThreshold()
	accepted := v.acceptVotes.Stake()

	var rejected []dgconsensus.TransactionIndex
	for txn, agg := range v.rejectVotes {
		if agg.ReachedThreshold(committee) {
			rejected = append(rejected, txn)
			continue
		}
		remaining := dgconsensus.Stake(0)
		if r := agg.Stake(); accepted > r {
			remaining = accepted - r
		}
		if remaining < quorum {
			// Rejection is still reachable; wait for more votes.
			return CertifiedBlock{}, false
		}
	}

	slices.Sort(rejected)

	v.certified = true
	return CertifiedBlock{
		Block:    v.block,
		Rejected: rejected,
	}, true
}
