package dgconsensus

// LeaderSchedule determines which authority is expected to act as
// leader of a round. Schedules must be deterministic: every honest
// authority has to elect the identical leader for a round, with no
// further communication.
//
// The offset selects among leaders when a round has more than one
// (multi-leader configurations); offset 0 is the primary leader.
type LeaderSchedule interface {
	ElectLeader(round Round, offset uint32) AuthorityIndex
}

// RoundRobinSchedule elects leaders by rotating through the committee
// in authority order. It is the default schedule; reputation-based
// schedules can be swapped in without touching the commit rule.
type RoundRobinSchedule struct {
	committee *Committee
}

// NewRoundRobinSchedule returns a round-robin schedule over c.
func NewRoundRobinSchedule(c *Committee) *RoundRobinSchedule {
	return &RoundRobinSchedule{committee: c}
}

// ElectLeader returns authority (round + offset) mod committee size.
func (s *RoundRobinSchedule) ElectLeader(round Round, offset uint32) AuthorityIndex {
	return AuthorityIndex((round + offset) % uint32(s.committee.Size()))
}
