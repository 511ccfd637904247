package dgcommit

import (
	"fmt"
	"log/slog"

	"github.com/meridian-engine/meridian/dg/dgconsensus"
	"github.com/meridian-engine/meridian/dg/dgstore"
)

// DefaultWaveLength is the default number of rounds per wave:
// leader round, voting round, decision round.
const DefaultWaveLength dgconsensus.Round = 3

// MinimumWaveLength is the shortest sound wave:
// a wave needs at least one voting round between leader and decision.
const MinimumWaveLength dgconsensus.Round = 3

// BaseCommitterOptions fixes one committer's position in the pipeline
// arrangement.
type BaseCommitterOptions struct {
	// Number of rounds per wave.
	WaveLength dgconsensus.Round

	// Rounds by which this committer's waves are shifted.
	// With pipelining, each pipeline index becomes a round offset.
	RoundOffset dgconsensus.Round

	// Which leader of a multi-leader round this committer decides.
	LeaderOffset uint32
}

// DefaultBaseCommitterOptions returns the options of an unpipelined,
// single-leader committer.
func DefaultBaseCommitterOptions() BaseCommitterOptions {
	return BaseCommitterOptions{WaveLength: DefaultWaveLength}
}

// BaseCommitter implements the direct and indirect decision rule for
// one pipeline. It holds no mutable state: all facts are re-read from
// the DAG state on every call, so methods are safe for concurrent use
// and idempotent.
type BaseCommitter struct {
	log *slog.Logger

	ctx *dgconsensus.Context

	schedule dgconsensus.LeaderSchedule

	dag *dgstore.DagState

	options BaseCommitterOptions
}

// BaseCommitterConfig holds the values required to construct a
// [BaseCommitter].
type BaseCommitterConfig struct {
	Log *slog.Logger

	Context *dgconsensus.Context

	Schedule dgconsensus.LeaderSchedule

	DagState *dgstore.DagState

	Options BaseCommitterOptions
}

// NewBaseCommitter returns a committer for the pipeline described by
// cfg.Options. It panics on options no wave arithmetic can satisfy,
// since those are configuration bugs.
func NewBaseCommitter(cfg BaseCommitterConfig) *BaseCommitter {
	opts := cfg.Options
	if opts.WaveLength < MinimumWaveLength {
		panic(fmt.Sprintf("dgcommit: wave length %d below minimum %d", opts.WaveLength, MinimumWaveLength))
	}
	if opts.RoundOffset >= opts.WaveLength {
		panic(fmt.Sprintf("dgcommit: round offset %d outside wave of length %d", opts.RoundOffset, opts.WaveLength))
	}

	return &BaseCommitter{
		log:      cfg.Log.With("committer", fmt.Sprintf("committer-%d-%d", opts.LeaderOffset, opts.RoundOffset)),
		ctx:      cfg.Context,
		schedule: cfg.Schedule,
		dag:      cfg.DagState,
		options:  opts,
	}
}

func (c *BaseCommitter) String() string {
	return fmt.Sprintf("committer-%d-%d", c.options.LeaderOffset, c.options.RoundOffset)
}

// WaveNumber returns the wave of this pipeline that the round
// belongs to.
func (c *BaseCommitter) WaveNumber(round dgconsensus.Round) dgconsensus.Round {
	if round < c.options.RoundOffset {
		return 0
	}
	return (round - c.options.RoundOffset) / c.options.WaveLength
}

// LeaderRound returns the first round of the given wave,
// where the wave's leader proposes.
func (c *BaseCommitter) LeaderRound(wave dgconsensus.Round) dgconsensus.Round {
	return wave*c.options.WaveLength + c.options.RoundOffset
}

// DecisionRound returns the last round of the given wave,
// whose blocks certify or blame the wave's leader.
func (c *BaseCommitter) DecisionRound(wave dgconsensus.Round) dgconsensus.Round {
	return wave*c.options.WaveLength + c.options.RoundOffset + c.options.WaveLength - 1
}

// ElectLeader returns the leader slot of the round, if the round is a
// leader round of this pipeline. The genesis round has no leader.
func (c *BaseCommitter) ElectLeader(round dgconsensus.Round) (dgconsensus.Slot, bool) {
	if round == dgconsensus.GenesisRound {
		return dgconsensus.Slot{}, false
	}
	wave := c.WaveNumber(round)
	if c.LeaderRound(wave) != round {
		return dgconsensus.Slot{}, false
	}

	return dgconsensus.Slot{
		Round:  round,
		Author: c.schedule.ElectLeader(round, c.options.LeaderOffset),
	}, true
}

// TryDirectDecide applies the direct decision rule to the leader slot:
// skip on a quorum of blame in the voting round, commit on a quorum of
// certificates in the decision round, otherwise undecided.
//
// Equivocating leader blocks are evaluated independently; at most one
// of them can ever gather a certificate quorum, and observing two is a
// broken BFT assumption and therefore fatal.
func (c *BaseCommitter) TryDirectDecide(leader dgconsensus.Slot) LeaderStatus {
	// Skip the leader if there is enough blame:
	// no quorum can certify it after the fact.
	votingRound := leader.Round + 1
	if c.enoughLeaderBlame(votingRound, leader.Author) {
		return skipStatus(leader)
	}

	decisionRound := c.DecisionRound(c.WaveNumber(leader.Round))
	var supported []*dgconsensus.VerifiedBlock
	for _, leaderBlock := range c.dag.BlocksAtSlot(leader) {
		if c.enoughLeaderSupport(decisionRound, leaderBlock) {
			supported = append(supported, leaderBlock)
		}
	}

	switch len(supported) {
	case 0:
		return undecidedStatus(leader)
	case 1:
		return commitStatus(supported[0])
	}
	panic(fmt.Sprintf(
		"dgcommit: multiple blocks at %s have enough support to commit, the BFT assumption is broken",
		leader,
	))
}

// TryIndirectDecide applies the indirect decision rule, using the
// already-decided statuses of later rounds (in increasing round order)
// as anchors. The first committed anchor at least a full wave above
// the leader settles the decision; an undecided anchor ends the search.
func (c *BaseCommitter) TryIndirectDecide(leader dgconsensus.Slot, decided []LeaderStatus) LeaderStatus {
	for _, anchor := range decided {
		if anchor.Round() < leader.Round+c.options.WaveLength {
			continue
		}

		switch anchor.Kind {
		case LeaderCommit:
			return c.decideLeaderFromAnchor(anchor.Block, leader)
		case LeaderSkip:
			// A skipped anchor carries no causal history; keep looking.
		case LeaderUndecided:
			return undecidedStatus(leader)
		}
	}
	return undecidedStatus(leader)
}

// enoughLeaderBlame reports whether a quorum of voting-round stake
// references no block of the leader authority at all.
func (c *BaseCommitter) enoughLeaderBlame(votingRound dgconsensus.Round, leader dgconsensus.AuthorityIndex) bool {
	blame := dgconsensus.NewStakeAggregator(dgconsensus.QuorumThreshold)
	for _, votingBlock := range c.dag.BlocksAtRound(votingRound) {
		references := false
		for _, ancestor := range votingBlock.Ancestors() {
			if ancestor.Author == leader {
				references = true
				break
			}
		}
		if references {
			continue
		}
		blame.AddUnique(votingBlock.Author(), c.ctx.Committee)
		if blame.ReachedThreshold(c.ctx.Committee) {
			return true
		}
	}
	return false
}

// enoughLeaderSupport reports whether a quorum of decision-round stake
// certifies the specific leader block.
func (c *BaseCommitter) enoughLeaderSupport(decisionRound dgconsensus.Round, leaderBlock *dgconsensus.VerifiedBlock) bool {
	votes := newVoteCache()
	support := dgconsensus.NewStakeAggregator(dgconsensus.QuorumThreshold)
	for _, decisionBlock := range c.dag.BlocksAtRound(decisionRound) {
		if !c.isCertificate(decisionBlock, leaderBlock, votes) {
			continue
		}
		support.AddUnique(decisionBlock.Author(), c.ctx.Committee)
		if support.ReachedThreshold(c.ctx.Committee) {
			return true
		}
	}
	return false
}

// decideLeaderFromAnchor resolves the leader slot through the causal
// history of a committed anchor: a single certified link commits the
// leader block it certifies, and the proven absence of any certified
// link skips the slot.
func (c *BaseCommitter) decideLeaderFromAnchor(anchor *dgconsensus.VerifiedBlock, leader dgconsensus.Slot) LeaderStatus {
	decisionRound := c.DecisionRound(c.WaveNumber(leader.Round))
	potentialCertificates := c.dag.AncestorsAtRound(anchor, decisionRound)

	votes := newVoteCache()
	var certified []*dgconsensus.VerifiedBlock
	for _, leaderBlock := range c.dag.BlocksAtSlot(leader) {
		for _, potentialCertificate := range potentialCertificates {
			if c.isCertificate(potentialCertificate, leaderBlock, votes) {
				certified = append(certified, leaderBlock)
				break
			}
		}
	}

	switch len(certified) {
	case 0:
		return skipStatus(leader)
	case 1:
		return commitStatus(certified[0])
	}
	panic(fmt.Sprintf(
		"dgcommit: multiple blocks at %s have certified links from anchor %s, the BFT assumption is broken",
		leader, anchor.Ref(),
	))
}

// voteCache memoizes, per decision, which leader-slot block each
// inspected block supports. A block supports at most one block per
// slot, so the cache is safe to share across equivocating leader
// blocks within one decision.
type voteCache map[dgconsensus.BlockRef]supportResult

type supportResult struct {
	ref dgconsensus.BlockRef
	ok  bool
}

func newVoteCache() voteCache {
	return make(voteCache)
}

// isCertificate reports whether potentialCertificate gathers a quorum
// of votes for leaderBlock among its ancestors.
func (c *BaseCommitter) isCertificate(
	potentialCertificate, leaderBlock *dgconsensus.VerifiedBlock,
	votes voteCache,
) bool {
	leaderRef := leaderBlock.Ref()
	leaderSlot := leaderRef.Slot()

	aggregator := dgconsensus.NewStakeAggregator(dgconsensus.QuorumThreshold)
	for _, ref := range potentialCertificate.Ancestors() {
		result, cached := votes[ref]
		if !cached {
			potentialVote, ok := c.dag.Block(ref)
			if !ok {
				panic(fmt.Sprintf("dgcommit: block %s not found in DAG state", ref))
			}
			result.ref, result.ok = c.findSupportedBlock(leaderSlot, potentialVote)
			votes[ref] = result
		}

		if !result.ok || result.ref != leaderRef {
			continue
		}
		aggregator.AddUnique(ref.Author, c.ctx.Committee)
		if aggregator.ReachedThreshold(c.ctx.Committee) {
			return true
		}
	}
	return false
}

// findSupportedBlock returns the first block at the leader slot
// reachable depth-first through from's ancestry. That block is the one
// from votes for; an equivocating author gets at most one vote per
// slot from any single block.
func (c *BaseCommitter) findSupportedBlock(
	leaderSlot dgconsensus.Slot,
	from *dgconsensus.VerifiedBlock,
) (dgconsensus.BlockRef, bool) {
	root := from.Ref()
	if root.Round < leaderSlot.Round {
		return dgconsensus.BlockRef{}, false
	}
	if root.Round == leaderSlot.Round {
		if root.Author == leaderSlot.Author {
			return root, true
		}
		return dgconsensus.BlockRef{}, false
	}

	for _, ancestor := range from.Ancestors() {
		block, ok := c.dag.Block(ancestor)
		if !ok {
			panic(fmt.Sprintf("dgcommit: block %s not found in DAG state", ancestor))
		}
		if ref, ok := c.findSupportedBlock(leaderSlot, block); ok {
			return ref, true
		}
	}
	return dgconsensus.BlockRef{}, false
}
