package dgcommit

import (
	"log/slog"
	"slices"

	"github.com/meridian-engine/meridian/dg/dgconsensus"
	"github.com/meridian-engine/meridian/dg/dgmetrics"
	"github.com/meridian-engine/meridian/dg/dgstore"
)

// UniversalCommitter drives a set of [BaseCommitter] pipelines over
// the shared DAG state and turns their per-slot decisions into a
// gap-free sequence of decided leaders.
type UniversalCommitter struct {
	log *slog.Logger

	ctx *dgconsensus.Context

	dag *dgstore.DagState

	committers []*BaseCommitter
}

// TryDecide returns the consecutive leader decisions following
// lastDecided. It walks leader rounds from the highest one whose
// decision round the DAG has reached, accumulating direct decisions
// and feeding them as anchors to the indirect rule for older rounds,
// and returns the longest decided prefix in increasing round order.
//
// The method reads the DAG but mutates nothing, so repeated calls with
// the same lastDecided return the same decisions. The committed-leader
// counters are incremented on every return, so callers are expected to
// advance lastDecided as decisions are externalized.
func (c *UniversalCommitter) TryDecide(lastDecided dgconsensus.Slot) []DecidedLeader {
	highestAccepted := c.dag.HighestAcceptedRound()
	if highestAccepted < 2 {
		return nil
	}

	// Leaders of later rounds cannot have reached their decision
	// round yet.
	highestDecidable := highestAccepted - 2

	var statuses []LeaderStatus
	var direct []bool

outer:
	for round := highestDecidable; ; round-- {
		// Committers in reverse so that the statuses end up in
		// increasing leader order once prepended. The indirect rule
		// depends on that order: it must anchor on the first decided
		// leader above the slot and stop at the first undecided one.
		for i := len(c.committers) - 1; i >= 0; i-- {
			committer := c.committers[i]

			leader, ok := committer.ElectLeader(round)
			if !ok {
				continue
			}
			if leader == lastDecided {
				break outer
			}

			status := committer.TryDirectDecide(leader)
			directly := status.Decided()
			if !directly {
				status = committer.TryIndirectDecide(leader, statuses)
			}
			c.log.Debug(
				"Decision attempt",
				"leader", leader,
				"status", status,
			)
			statuses = slices.Insert(statuses, 0, status)
			direct = slices.Insert(direct, 0, directly)
		}

		if round == lastDecided.Round || round == 0 {
			break
		}
	}

	// Only a gap-free prefix of decided leaders may be sequenced.
	var sequence []DecidedLeader
	for i, status := range statuses {
		if !status.Decided() {
			break
		}
		decided := status.intoDecided()

		if m := c.ctx.Metrics; m != nil {
			m.CommittedLeaders.WithLabelValues(
				c.ctx.Committee.Hostname(decided.Authority()),
				decisionLabel(decided.Committed(), direct[i]),
			).Inc()
		}

		sequence = append(sequence, decided)
	}
	if len(sequence) > 0 {
		c.log.Info(
			"Decided leaders",
			"count", len(sequence),
			"first", sequence[0],
			"last", sequence[len(sequence)-1],
		)
	}
	return sequence
}

// GetLeaders returns the leader slots of the round across all
// pipelines, in leader-offset order.
func (c *UniversalCommitter) GetLeaders(round dgconsensus.Round) []dgconsensus.Slot {
	var leaders []dgconsensus.Slot
	for _, committer := range c.committers {
		if leader, ok := committer.ElectLeader(round); ok {
			leaders = append(leaders, leader)
		}
	}
	return leaders
}

func decisionLabel(committed, direct bool) string {
	switch {
	case committed && direct:
		return dgmetrics.DecisionDirectCommit
	case committed:
		return dgmetrics.DecisionIndirectCommit
	case direct:
		return dgmetrics.DecisionDirectSkip
	default:
		return dgmetrics.DecisionIndirectSkip
	}
}

// UniversalCommitterBuilder assembles the pipeline arrangement of a
// [UniversalCommitter].
type UniversalCommitterBuilder struct {
	log *slog.Logger

	ctx *dgconsensus.Context

	schedule dgconsensus.LeaderSchedule

	dag *dgstore.DagState

	waveLength dgconsensus.Round

	numberOfLeaders uint32

	pipeline bool
}

// NewUniversalCommitterBuilder returns a builder producing an
// unpipelined, single-leader committer unless configured otherwise.
func NewUniversalCommitterBuilder(
	log *slog.Logger,
	ctx *dgconsensus.Context,
	schedule dgconsensus.LeaderSchedule,
	dag *dgstore.DagState,
) *UniversalCommitterBuilder {
	return &UniversalCommitterBuilder{
		log:             log,
		ctx:             ctx,
		schedule:        schedule,
		dag:             dag,
		waveLength:      DefaultWaveLength,
		numberOfLeaders: 1,
	}
}

// WithWaveLength overrides the number of rounds per wave.
func (b *UniversalCommitterBuilder) WithWaveLength(waveLength dgconsensus.Round) *UniversalCommitterBuilder {
	b.waveLength = waveLength
	return b
}

// WithNumberOfLeaders sets how many leaders each leader round elects.
func (b *UniversalCommitterBuilder) WithNumberOfLeaders(n uint32) *UniversalCommitterBuilder {
	b.numberOfLeaders = n
	return b
}

// WithPipeline enables one committer per round offset, making every
// round a leader round of exactly one pipeline.
func (b *UniversalCommitterBuilder) WithPipeline(pipeline bool) *UniversalCommitterBuilder {
	b.pipeline = pipeline
	return b
}

// Build constructs the committer and its pipelines.
func (b *UniversalCommitterBuilder) Build() *UniversalCommitter {
	pipelines := dgconsensus.Round(1)
	if b.pipeline {
		pipelines = b.waveLength
	}

	var committers []*BaseCommitter
	for roundOffset := dgconsensus.Round(0); roundOffset < pipelines; roundOffset++ {
		for leaderOffset := uint32(0); leaderOffset < b.numberOfLeaders; leaderOffset++ {
			committers = append(committers, NewBaseCommitter(BaseCommitterConfig{
				Log:      b.log,
				Context:  b.ctx,
				Schedule: b.schedule,
				DagState: b.dag,
				Options: BaseCommitterOptions{
					WaveLength:   b.waveLength,
					RoundOffset:  roundOffset,
					LeaderOffset: leaderOffset,
				},
			}))
		}
	}

	return &UniversalCommitter{
		log:        b.log,
		ctx:        b.ctx,
		dag:        b.dag,
		committers: committers,
	}
}
