package dgconsensus

import "github.com/bits-and-blooms/bitset"

// Threshold selects which committee threshold a [StakeAggregator]
// accumulates toward.
type Threshold uint8

const (
	// QuorumThreshold is 2f+1 stake out of 3f+1.
	QuorumThreshold Threshold = iota

	// ValidityThreshold is f+1 stake out of 3f+1.
	ValidityThreshold
)

// StakeAggregator accumulates stake contributed by distinct
// authorities toward one committee threshold.
//
// The aggregator never double-counts an authority:
// repeated contributions from the same index have no effect.
// The zero-field aggregator from [NewStakeAggregator] is ready to use;
// it is not safe for concurrent use.
type StakeAggregator struct {
	threshold Threshold

	votes bitset.BitSet
	stake Stake
}

// NewStakeAggregator returns an empty aggregator toward t.
func NewStakeAggregator(t Threshold) *StakeAggregator {
	return &StakeAggregator{threshold: t}
}

// AddUnique records that authority contributed its stake,
// reporting whether this was the authority's first contribution.
// It panics on an out-of-range authority index,
// which indicates a bug in the caller, not a recoverable condition.
func (a *StakeAggregator) AddUnique(authority AuthorityIndex, c *Committee) bool {
	if !c.IsValidIndex(authority) {
		panic("dgconsensus: stake aggregator received an unknown authority index")
	}
	if a.votes.Test(uint(authority)) {
		return false
	}
	a.votes.Set(uint(authority))
	a.stake += c.Stake(authority)
	return true
}

// ReachedThreshold reports whether the accumulated stake meets the
// configured threshold of c.
func (a *StakeAggregator) ReachedThreshold(c *Committee) bool {
	switch a.threshold {
	case ValidityThreshold:
		return a.stake >= c.ValidityThreshold()
	default:
		return a.stake >= c.QuorumThreshold()
	}
}

// Stake returns the accumulated stake.
func (a *StakeAggregator) Stake() Stake {
	return a.stake
}

// Clear resets the aggregator to empty, keeping its threshold.
func (a *StakeAggregator) Clear() {
	a.votes.ClearAll()
	a.stake = 0
}
