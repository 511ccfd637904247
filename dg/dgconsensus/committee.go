package dgconsensus

import "fmt"

// Authority is one committee member's public description.
type Authority struct {
	// Voting weight. Must be positive.
	Stake Stake

	// Human-readable name, for logs and metrics only.
	Hostname string
}

// Committee is the fixed, ordered set of authorities for one epoch,
// together with the derived stake thresholds.
//
// With total stake 3f+1, safety arguments rely on at most f stake
// behaving arbitrarily; the quorum threshold is 2f+1 and the validity
// threshold (at least one honest contributor) is f+1.
type Committee struct {
	authorities []Authority
	totalStake  Stake
}

// NewCommittee returns a committee over the given authorities.
// It panics if the set is empty or any stake is zero,
// since a malformed committee is a configuration bug,
// not a runtime condition.
func NewCommittee(authorities []Authority) *Committee {
	if len(authorities) == 0 {
		panic("dgconsensus: committee must have at least one authority")
	}

	var total Stake
	for i, a := range authorities {
		if a.Stake == 0 {
			panic(fmt.Sprintf("dgconsensus: authority %d has zero stake", i))
		}
		total += a.Stake
	}

	return &Committee{
		authorities: append([]Authority(nil), authorities...),
		totalStake:  total,
	}
}

// Size returns the number of authorities.
func (c *Committee) Size() int {
	return len(c.authorities)
}

// TotalStake returns the sum of all authorities' stake.
func (c *Committee) TotalStake() Stake {
	return c.totalStake
}

// QuorumThreshold returns the minimum stake for any BFT-safe
// agreement: 2f+1 when total stake is 3f+1.
func (c *Committee) QuorumThreshold() Stake {
	return 2*c.totalStake/3 + 1
}

// ValidityThreshold returns the minimum stake guaranteeing at least
// one honest contributor: f+1 when total stake is 3f+1.
func (c *Committee) ValidityThreshold() Stake {
	return (c.totalStake + 2) / 3
}

// IsValidIndex reports whether i addresses a committee member.
func (c *Committee) IsValidIndex(i AuthorityIndex) bool {
	return int(i) < len(c.authorities)
}

// Stake returns the stake of authority i.
func (c *Committee) Stake(i AuthorityIndex) Stake {
	return c.authorities[i].Stake
}

// Authority returns the description of authority i.
func (c *Committee) Authority(i AuthorityIndex) Authority {
	return c.authorities[i]
}

// Hostname returns the configured name of authority i,
// or its letter form when no name was configured.
func (c *Committee) Hostname(i AuthorityIndex) string {
	if h := c.authorities[i].Hostname; h != "" {
		return h
	}
	return i.String()
}
