package dgconsensustest

import (
	"fmt"
	"math/rand"
	"slices"

	"github.com/meridian-engine/meridian/dg/dgconsensus"
	"github.com/meridian-engine/meridian/dg/dgstore"
)

// Connection describes one block to add to a DAG layer: the authoring
// authority and the exact ancestors it links to.
type Connection struct {
	Author    dgconsensus.AuthorityIndex
	Ancestors []dgconsensus.BlockRef
}

// BuildDagLayer adds one block per connection to the DAG and returns
// their references in connection order.
func BuildDagLayer(dag *dgstore.DagState, round dgconsensus.Round, connections []Connection) []dgconsensus.BlockRef {
	refs := make([]dgconsensus.BlockRef, 0, len(connections))
	for _, conn := range connections {
		block := NewTestBlock(round, conn.Author).
			SetAncestors(conn.Ancestors).
			Build()
		dag.AcceptBlock(block)
		refs = append(refs, block.Ref())
	}
	return refs
}

// BuildDag adds fully connected layers to the DAG, one block per
// committee member per round, from the round after the given ancestors
// up to and including toRound. A nil ancestors starts from genesis.
// It returns the references of the final layer.
func BuildDag(
	ctx *dgconsensus.Context,
	dag *dgstore.DagState,
	ancestors []dgconsensus.BlockRef,
	toRound dgconsensus.Round,
) []dgconsensus.BlockRef {
	if ancestors == nil {
		ancestors = dag.GenesisRefs()
	}
	if len(ancestors) == 0 {
		panic("dgconsensustest: no ancestors to build on")
	}

	startRound := ancestors[0].Round + 1
	for _, a := range ancestors {
		if a.Round != ancestors[0].Round {
			panic(fmt.Sprintf(
				"dgconsensustest: ancestors span rounds %d and %d",
				ancestors[0].Round, a.Round,
			))
		}
	}

	for round := startRound; round <= toRound; round++ {
		next := make([]dgconsensus.BlockRef, 0, ctx.Committee.Size())
		for i := 0; i < ctx.Committee.Size(); i++ {
			block := NewTestBlock(round, dgconsensus.AuthorityIndex(i)).
				SetAncestors(ancestors).
				Build()
			dag.AcceptBlock(block)
			next = append(next, block.Ref())
		}
		ancestors = next
	}
	return ancestors
}

// DagBuilder grows a DAG round by round with configurable layers.
// The zero layer is genesis; each built layer links to the previous
// one.
type DagBuilder struct {
	ctx *dgconsensus.Context

	blocks []*dgconsensus.VerifiedBlock

	// References of the most recently built layer, the default
	// ancestors of the next.
	lastRefs []dgconsensus.BlockRef

	lastRound dgconsensus.Round
}

func NewDagBuilder(ctx *dgconsensus.Context) *DagBuilder {
	genesis := dgconsensus.GenesisBlocks(ctx.Committee)
	refs := make([]dgconsensus.BlockRef, len(genesis))
	for i, g := range genesis {
		refs[i] = g.Ref()
	}
	return &DagBuilder{
		ctx:      ctx,
		lastRefs: refs,
	}
}

// Layer starts configuring the given round. The round must be the one
// following the last built layer.
func (b *DagBuilder) Layer(round dgconsensus.Round) *LayerBuilder {
	if round != b.lastRound+1 {
		panic(fmt.Sprintf(
			"dgconsensustest: layer %d requested, next buildable layer is %d",
			round, b.lastRound+1,
		))
	}
	return &LayerBuilder{
		dag:    b,
		rounds: []dgconsensus.Round{round},
	}
}

// Layers configures every round from 'from' to 'to' inclusive with the
// same settings.
func (b *DagBuilder) Layers(from, to dgconsensus.Round) *LayerBuilder {
	if from != b.lastRound+1 || to < from {
		panic(fmt.Sprintf(
			"dgconsensustest: layers %d..%d requested, next buildable layer is %d",
			from, to, b.lastRound+1,
		))
	}
	lb := &LayerBuilder{dag: b}
	for r := from; r <= to; r++ {
		lb.rounds = append(lb.rounds, r)
	}
	return lb
}

// AllBlocks returns every non-genesis block built so far, in build
// order.
func (b *DagBuilder) AllBlocks() []*dgconsensus.VerifiedBlock {
	return slices.Clone(b.blocks)
}

// LastLayerRefs returns the references of the most recently built
// layer.
func (b *DagBuilder) LastLayerRefs() []dgconsensus.BlockRef {
	return slices.Clone(b.lastRefs)
}

// Persist accepts every built block into the DAG state.
func (b *DagBuilder) Persist(dag *dgstore.DagState) {
	dag.AcceptBlocks(b.blocks)
}

// LayerBuilder configures and builds one or more consecutive rounds.
type LayerBuilder struct {
	dag *DagBuilder

	rounds []dgconsensus.Round

	// Authorities producing blocks in these layers; nil means all.
	authorities []dgconsensus.AuthorityIndex

	// Authorities whose previous-layer blocks are not linked.
	skipLinks []dgconsensus.AuthorityIndex

	// Extra equivocating blocks per producing authority.
	equivocations int

	// If non-nil, each block links to a random quorum of the
	// previous layer instead of all of it.
	minAncestorRand *rand.Rand

	numTransactions int
}

// Authorities restricts which committee members produce blocks.
func (lb *LayerBuilder) Authorities(authorities ...dgconsensus.AuthorityIndex) *LayerBuilder {
	lb.authorities = authorities
	return lb
}

// SkipAuthorities excludes the listed members from producing blocks.
func (lb *LayerBuilder) SkipAuthorities(skipped ...dgconsensus.AuthorityIndex) *LayerBuilder {
	size := lb.dag.ctx.Committee.Size()
	lb.authorities = lb.authorities[:0]
	for i := 0; i < size; i++ {
		idx := dgconsensus.AuthorityIndex(i)
		if !slices.Contains(skipped, idx) {
			lb.authorities = append(lb.authorities, idx)
		}
	}
	return lb
}

// SkipAncestorLinks excludes previous-layer blocks of the listed
// authors from every block's ancestry.
func (lb *LayerBuilder) SkipAncestorLinks(authors ...dgconsensus.AuthorityIndex) *LayerBuilder {
	lb.skipLinks = authors
	return lb
}

// Equivocate makes every producing authority propose extra blocks in
// each layer, distinguished by timestamp.
func (lb *LayerBuilder) Equivocate(extra int) *LayerBuilder {
	lb.equivocations = extra
	return lb
}

// MinAncestorLinks makes each block link to a random quorum of the
// previous layer rather than all of it.
func (lb *LayerBuilder) MinAncestorLinks(seed int64) *LayerBuilder {
	lb.minAncestorRand = rand.New(rand.NewSource(seed))
	return lb
}

// NumTransactions fills every block with placeholder transactions.
func (lb *LayerBuilder) NumTransactions(n int) *LayerBuilder {
	lb.numTransactions = n
	return lb
}

// Build constructs the configured layers and advances the builder.
func (lb *LayerBuilder) Build() *DagBuilder {
	b := lb.dag
	for _, round := range lb.rounds {
		prev := b.lastRefs
		var next []dgconsensus.BlockRef

		authorities := lb.authorities
		if authorities == nil {
			for i := 0; i < b.ctx.Committee.Size(); i++ {
				authorities = append(authorities, dgconsensus.AuthorityIndex(i))
			}
		}

		for _, author := range authorities {
			copies := 1 + lb.equivocations
			for c := 0; c < copies; c++ {
				block := NewTestBlock(round, author).
					SetAncestors(lb.ancestorsFrom(prev)).
					SetTimestampMs(dgconsensus.BlockTimestampMs(round)*1000 + dgconsensus.BlockTimestampMs(c)).
					SetNumTransactions(lb.numTransactions).
					Build()
				b.blocks = append(b.blocks, block)
				next = append(next, block.Ref())
			}
		}

		b.lastRefs = next
		b.lastRound = round
	}
	return b
}

func (lb *LayerBuilder) ancestorsFrom(prev []dgconsensus.BlockRef) []dgconsensus.BlockRef {
	committee := lb.dag.ctx.Committee

	ancestors := make([]dgconsensus.BlockRef, 0, len(prev))
	for _, ref := range prev {
		if slices.Contains(lb.skipLinks, ref.Author) {
			continue
		}
		ancestors = append(ancestors, ref)
	}

	if lb.minAncestorRand == nil {
		return ancestors
	}

	// Keep dropping random ancestors while the rest still holds a
	// quorum of stake.
	lb.minAncestorRand.Shuffle(len(ancestors), func(i, j int) {
		ancestors[i], ancestors[j] = ancestors[j], ancestors[i]
	})
	stake := dgconsensus.Stake(0)
	quorum := committee.QuorumThreshold()
	cut := len(ancestors)
	for i, ref := range ancestors {
		if stake >= quorum {
			cut = i
			break
		}
		stake += committee.Stake(ref.Author)
	}
	return slices.Clone(ancestors[:cut])
}
