package dgcommit

import (
	"fmt"

	"github.com/meridian-engine/meridian/dg/dgconsensus"
)

// LeaderStatusKind is the outcome kind of evaluating one leader slot.
type LeaderStatusKind uint8

const (
	// No decision yet; retried once the DAG has grown.
	LeaderUndecided LeaderStatusKind = iota

	// A specific leader block will be committed.
	LeaderCommit

	// No block at this slot will ever be committed.
	LeaderSkip
)

// LeaderStatus is the outcome of evaluating one leader slot.
// It is a pure function of immutable DAG content,
// so re-evaluating the same slot always reproduces it.
type LeaderStatus struct {
	Kind LeaderStatusKind

	Slot dgconsensus.Slot

	// The committed block; set only when Kind is LeaderCommit.
	Block *dgconsensus.VerifiedBlock
}

func commitStatus(block *dgconsensus.VerifiedBlock) LeaderStatus {
	return LeaderStatus{Kind: LeaderCommit, Slot: block.Slot(), Block: block}
}

func skipStatus(slot dgconsensus.Slot) LeaderStatus {
	return LeaderStatus{Kind: LeaderSkip, Slot: slot}
}

func undecidedStatus(slot dgconsensus.Slot) LeaderStatus {
	return LeaderStatus{Kind: LeaderUndecided, Slot: slot}
}

// Round returns the slot's round.
func (s LeaderStatus) Round() dgconsensus.Round {
	return s.Slot.Round
}

// Authority returns the slot's expected leader.
func (s LeaderStatus) Authority() dgconsensus.AuthorityIndex {
	return s.Slot.Author
}

// Decided reports whether the status is a commit or a skip.
func (s LeaderStatus) Decided() bool {
	return s.Kind != LeaderUndecided
}

func (s LeaderStatus) String() string {
	switch s.Kind {
	case LeaderCommit:
		return fmt.Sprintf("Commit(%s)", s.Block.Ref())
	case LeaderSkip:
		return fmt.Sprintf("Skip(%s)", s.Slot)
	default:
		return fmt.Sprintf("Undecided(%s)", s.Slot)
	}
}

// DecidedLeader is one decided slot in a commit sequence:
// either a committed block or a skipped slot.
type DecidedLeader struct {
	Slot dgconsensus.Slot

	// Nil for a skipped slot.
	Block *dgconsensus.VerifiedBlock
}

// Committed reports whether the slot commits a block.
func (d DecidedLeader) Committed() bool {
	return d.Block != nil
}

// Round returns the slot's round.
func (d DecidedLeader) Round() dgconsensus.Round {
	return d.Slot.Round
}

// Authority returns the slot's expected leader.
func (d DecidedLeader) Authority() dgconsensus.AuthorityIndex {
	return d.Slot.Author
}

func (d DecidedLeader) String() string {
	if d.Committed() {
		return fmt.Sprintf("Commit(%s)", d.Block.Ref())
	}
	return fmt.Sprintf("Skip(%s)", d.Slot)
}

// intoDecided converts a decided status into its sequence form.
// It panics on an undecided status.
func (s LeaderStatus) intoDecided() DecidedLeader {
	switch s.Kind {
	case LeaderCommit:
		return DecidedLeader{Slot: s.Slot, Block: s.Block}
	case LeaderSkip:
		return DecidedLeader{Slot: s.Slot}
	}
	panic(fmt.Sprintf("dgcommit: undecided status for %s cannot enter a commit sequence", s.Slot))
}
