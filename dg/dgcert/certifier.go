package dgcert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/meridian-engine/meridian/dg/dgconsensus"
	"github.com/meridian-engine/meridian/dg/dgstore"
)

// VotedBlock pairs an accepted block with this node's reject votes on
// its transactions.
type VotedBlock struct {
	Block *dgconsensus.VerifiedBlock

	// Indices of the block's transactions this node rejects.
	OwnRejects []dgconsensus.TransactionIndex
}

// CertifiedBlock is a block whose transactions have been settled by a
// quorum ahead of commit.
type CertifiedBlock struct {
	Block *dgconsensus.VerifiedBlock

	// Indices of the block's transactions that gathered a rejection
	// quorum, in increasing order. All other transactions in the
	// block are certified.
	Rejected []dgconsensus.TransactionIndex
}

// CertifiedBlocksOutput is one batch of newly certified blocks.
type CertifiedBlocksOutput struct {
	Blocks []CertifiedBlock
}

// TransactionCertifier aggregates block and transaction votes and
// emits certified blocks for early execution.
//
// All methods are safe for concurrent use.
type TransactionCertifier struct {
	log *slog.Logger

	ctx *dgconsensus.Context

	dag *dgstore.DagState

	certifiedOut chan<- CertifiedBlocksOutput

	// Certified batches queue here without bound; the forwarder
	// goroutine drains them into certifiedOut at the receiver's pace,
	// so vote processing never blocks on a slow consumer.
	outMu    sync.Mutex
	outQueue []CertifiedBlocksOutput
	outReady chan struct{}

	mu    sync.Mutex
	state *certifierState
}

// TransactionCertifierConfig holds the values required to construct a
// [TransactionCertifier].
type TransactionCertifierConfig struct {
	Log *slog.Logger

	Context *dgconsensus.Context

	DagState *dgstore.DagState

	// Receives batches of newly certified blocks, in emission order.
	// May be nil, in which case certification state is still tracked
	// but nothing is emitted. Emitting never blocks: batches queue
	// without bound until the receiver takes them.
	CertifiedOut chan<- CertifiedBlocksOutput
}

// NewTransactionCertifier returns a certifier whose output forwarder
// runs until ctx is canceled.
func NewTransactionCertifier(ctx context.Context, cfg TransactionCertifierConfig) *TransactionCertifier {
	c := &TransactionCertifier{
		log:          cfg.Log,
		ctx:          cfg.Context,
		dag:          cfg.DagState,
		certifiedOut: cfg.CertifiedOut,
		outReady:     make(chan struct{}, 1),
		state:        newCertifierState(cfg.Context),
	}
	if c.certifiedOut != nil {
		go c.forwardCertified(ctx)
	}
	return c
}

// AddVotedBlocks processes this node's votes on newly accepted blocks
// together with the votes those blocks embed, and emits any blocks
// that became certified.
//
// Certified blocks too old relative to this node's next proposal round
// are suppressed: emitting a block at round R promises not to have
// proposed past R+2, so that every later block must link to one of the
// block's certificates.
func (c *TransactionCertifier) AddVotedBlocks(votedBlocks []VotedBlock) {
	c.mu.Lock()
	certified := c.state.addVotedBlocks(votedBlocks)
	c.mu.Unlock()
	if len(certified) == 0 {
		return
	}

	nextProposeRound := c.dag.NextProposeRound()
	fresh := certified[:0]
	for _, b := range certified {
		if b.Block.Round()+2 >= nextProposeRound {
			fresh = append(fresh, b)
		}
	}
	c.emit(fresh)
}

// AddProposedBlock processes the implicit accept votes that this
// node's own proposal makes observable: each parent's acceptance of
// its own parents. It panics if any parent of the proposal has not
// been through [TransactionCertifier.AddVotedBlocks] first.
//
// No proposal-round suppression applies here; the certified blocks
// are two rounds below the proposal by construction.
func (c *TransactionCertifier) AddProposedBlock(proposed *dgconsensus.VerifiedBlock) {
	c.mu.Lock()
	certified := c.state.addProposedBlock(proposed)
	c.mu.Unlock()
	c.emit(certified)
}

// Recover rebuilds certification state from the DAG after a restart.
// Blocks already linked from a proposal are known voted and re-enter
// with their recorded rejects; the rest are re-verified through the
// verifier to reconstruct this node's vote.
func (c *TransactionCertifier) Recover(verifier dgconsensus.BlockVerifier) error {
	gcRound := c.dag.GCRound()

	var votedBlocks []VotedBlock
	for i := 0; i < c.ctx.Committee.Size(); i++ {
		authority := dgconsensus.AuthorityIndex(i)
		for _, block := range c.dag.CachedBlocks(authority, gcRound+1) {
			var rejects []dgconsensus.TransactionIndex
			if !c.dag.IsHardLinked(block.Ref()) {
				var err error
				rejects, err = verifier.VerifyAndVote(block)
				if err != nil {
					return fmt.Errorf(
						"re-verifying block %s during recovery: %w",
						block.Ref(), err,
					)
				}
			}
			votedBlocks = append(votedBlocks, VotedBlock{
				Block:      block,
				OwnRejects: rejects,
			})
		}
	}

	c.mu.Lock()
	c.state.updateGCRound(gcRound)
	c.mu.Unlock()

	c.log.Info(
		"Recovering certifier state",
		"blocks", len(votedBlocks),
		"gc_round", gcRound,
	)
	c.AddVotedBlocks(votedBlocks)
	return nil
}

// UpdateGCRound advances the garbage collection watermark, dropping
// vote state for rounds at or below it.
func (c *TransactionCertifier) UpdateGCRound(gcRound dgconsensus.Round) {
	c.mu.Lock()
	c.state.updateGCRound(gcRound)
	current := c.state.gcRound
	c.mu.Unlock()

	if m := c.ctx.Metrics; m != nil {
		m.CertifierGCRound.Set(float64(current))
	}
}

func (c *TransactionCertifier) emit(certified []CertifiedBlock) {
	if len(certified) == 0 {
		return
	}
	if m := c.ctx.Metrics; m != nil {
		m.CertifiedBlocks.Add(float64(len(certified)))
	}
	if c.certifiedOut == nil {
		return
	}

	c.outMu.Lock()
	c.outQueue = append(c.outQueue, CertifiedBlocksOutput{Blocks: certified})
	c.outMu.Unlock()

	select {
	case c.outReady <- struct{}{}:
	default:
	}
}

func (c *TransactionCertifier) forwardCertified(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.outReady:
		}

		for {
			c.outMu.Lock()
			if len(c.outQueue) == 0 {
				c.outMu.Unlock()
				break
			}
			next := c.outQueue[0]
			c.outQueue = c.outQueue[1:]
			c.outMu.Unlock()

			select {
			case c.certifiedOut <- next:
			case <-ctx.Done():
				return
			}
		}
	}
}
