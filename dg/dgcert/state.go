package dgcert

import (
	"fmt"

	"github.com/meridian-engine/meridian/dg/dgconsensus"
)

// certifierState holds the vote tallies per block.
//
// Votes can accumulate before the block they target is received, so
// entries are created on first vote and completed when the block
// arrives. Access is serialized by [TransactionCertifier].
type certifierState struct {
	ctx *dgconsensus.Context

	votes map[dgconsensus.BlockRef]*voteInfo

	// Highest round already garbage collected; entries at or below
	// it are gone and new votes there are ignored.
	gcRound dgconsensus.Round
}

func newCertifierState(ctx *dgconsensus.Context) *certifierState {
	return &certifierState{
		ctx:     ctx,
		votes:   make(map[dgconsensus.BlockRef]*voteInfo),
		gcRound: dgconsensus.GenesisRound,
	}
}

func (s *certifierState) infoFor(ref dgconsensus.BlockRef) *voteInfo {
	info, ok := s.votes[ref]
	if !ok {
		info = newVoteInfo()
		s.votes[ref] = info
	}
	return info
}

func (s *certifierState) addVotedBlocks(votedBlocks []VotedBlock) []CertifiedBlock {
	var certified []CertifiedBlock
	for _, voted := range votedBlocks {
		certified = append(certified, s.addVotedBlock(voted.Block, voted.OwnRejects)...)
	}
	return certified
}

// addVotedBlock records this node's own vote on the block and the
// votes the block itself carries, and returns every block that became
// certified as a result.
func (s *certifierState) addVotedBlock(
	block *dgconsensus.VerifiedBlock,
	ownRejects []dgconsensus.TransactionIndex,
) []CertifiedBlock {
	if block.Round() <= s.gcRound {
		return nil
	}

	committee := s.ctx.Committee
	own := s.ctx.OwnIndex

	info := s.infoFor(block.Ref())
	if info.block != nil {
		// Already processed; votes for it keep accumulating elsewhere.
		return nil
	}
	info.block = block
	info.ownRejects = ownRejects

	var certified []CertifiedBlock

	for _, reject := range ownRejects {
		info.addRejectVote(reject, own, committee)
	}
	info.addAcceptVote(own, committee)

	// Earlier votes may already have been waiting on the block content.
	if out, ok := info.takeCertifiedOutput(committee); ok {
		certified = append(certified, out)
	}

	// Apply the block's reject votes before its accept votes, so that
	// no target certifies on accepts while a reject is in flight.
	for _, blockVotes := range block.TransactionVotes() {
		if blockVotes.BlockRef.Round <= s.gcRound {
			continue
		}
		target := s.infoFor(blockVotes.BlockRef)
		for _, reject := range blockVotes.Rejects {
			target.addRejectVote(reject, block.Author(), committee)
		}
		if out, ok := target.takeCertifiedOutput(committee); ok {
			certified = append(certified, out)
		}
	}

	// Only parent-round ancestors receive implicit accept votes.
	for _, ancestor := range block.Ancestors() {
		if ancestor.Round+1 != block.Round() || ancestor.Round <= s.gcRound {
			continue
		}
		target := s.infoFor(ancestor)
		target.addAcceptVote(block.Author(), committee)
		if out, ok := target.takeCertifiedOutput(committee); ok {
			certified = append(certified, out)
		}
	}

	return certified
}

// addProposedBlock records the second hop of implicit accept votes
// carried by this node's own proposal: every parent of the proposal
// has itself accepted its own parents, and those votes only become
// observable here once the proposal fixes its ancestry.
func (s *certifierState) addProposedBlock(proposed *dgconsensus.VerifiedBlock) []CertifiedBlock {
	committee := s.ctx.Committee

	var certified []CertifiedBlock
	for _, parent := range proposed.Ancestors() {
		if parent.Round+1 != proposed.Round() || parent.Round <= s.gcRound {
			continue
		}
		parentInfo, ok := s.votes[parent]
		if !ok || parentInfo.block == nil {
			panic(fmt.Sprintf(
				"dgcert: parent %s of own proposed block %s has not been voted on",
				parent, proposed.Ref(),
			))
		}
		parentBlock := parentInfo.block
		for _, grandparent := range parentBlock.Ancestors() {
			if grandparent.Round+1 != parentBlock.Round() || grandparent.Round <= s.gcRound {
				continue
			}
			target := s.infoFor(grandparent)
			target.addAcceptVote(parentBlock.Author(), committee)
			if out, ok := target.takeCertifiedOutput(committee); ok {
				certified = append(certified, out)
			}
		}
	}
	return certified
}

// updateGCRound drops all state at or below the round. The GC round
// never moves backwards.
func (s *certifierState) updateGCRound(gcRound dgconsensus.Round) {
	if gcRound <= s.gcRound {
		return
	}
	s.gcRound = gcRound
	for ref := range s.votes {
		if ref.Round <= gcRound {
			delete(s.votes, ref)
		}
	}
}
