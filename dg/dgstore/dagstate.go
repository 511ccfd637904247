// Package dgstore (Directed Graph STORE) holds the in-memory DAG state
// consumed by the commit rule and the transaction certifier.
//
// DagState is the single source of truth for accepted blocks.
// It follows a many-readers-or-one-writer discipline behind one
// [sync.RWMutex]; the commit and certify algorithms only ever read it.
// Internal maps are never exposed across the package boundary,
// only query methods.
package dgstore

import (
	"fmt"
	"slices"
	"sync"

	"github.com/meridian-engine/meridian/dg/dgconsensus"
)

type blockEntry struct {
	block *dgconsensus.VerifiedBlock

	// Whether the block's own votes are already durably committed,
	// so certifier recovery need not re-verify it.
	hardLinked bool
}

// DagState is the authoritative in-memory view of the accepted DAG.
//
// All methods are safe for concurrent use.
type DagState struct {
	mu sync.RWMutex

	ctx *dgconsensus.Context

	// Genesis blocks, keyed by reference. Kept apart from accepted
	// blocks: they are implicit and never subject to GC.
	genesis map[dgconsensus.BlockRef]*dgconsensus.VerifiedBlock

	blocks map[dgconsensus.BlockRef]*blockEntry

	// Per-authority references of accepted blocks,
	// sorted ascending by (round, digest).
	refsByAuthority [][]dgconsensus.BlockRef

	highestAccepted dgconsensus.Round

	gcRound dgconsensus.Round
}

// NewDagState returns an empty DAG state seeded with the committee's
// genesis blocks.
func NewDagState(ctx *dgconsensus.Context) *DagState {
	genesis := make(map[dgconsensus.BlockRef]*dgconsensus.VerifiedBlock)
	for _, b := range dgconsensus.GenesisBlocks(ctx.Committee) {
		genesis[b.Ref()] = b
	}

	return &DagState{
		ctx:             ctx,
		genesis:         genesis,
		blocks:          make(map[dgconsensus.BlockRef]*blockEntry),
		refsByAuthority: make([][]dgconsensus.BlockRef, ctx.Committee.Size()),
	}
}

// AcceptBlock records one verified block. Re-accepting a block the
// state already holds, or a block at or below the GC round, is a no-op.
func (d *DagState) AcceptBlock(block *dgconsensus.VerifiedBlock) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acceptBlockLocked(block)
}

// AcceptBlocks records the given blocks, in order.
func (d *DagState) AcceptBlocks(blocks []*dgconsensus.VerifiedBlock) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range blocks {
		d.acceptBlockLocked(b)
	}
}

func (d *DagState) acceptBlockLocked(block *dgconsensus.VerifiedBlock) {
	ref := block.Ref()
	if ref.Round == dgconsensus.GenesisRound {
		panic(fmt.Sprintf("dgstore: attempt to accept genesis block %s", ref))
	}
	if ref.Round <= d.gcRound {
		return
	}
	if _, have := d.blocks[ref]; have {
		return
	}

	d.blocks[ref] = &blockEntry{block: block}

	refs := d.refsByAuthority[ref.Author]
	at, _ := slices.BinarySearchFunc(refs, ref, dgconsensus.BlockRef.Compare)
	d.refsByAuthority[ref.Author] = slices.Insert(refs, at, ref)

	if ref.Round > d.highestAccepted {
		d.highestAccepted = ref.Round
	}
}

// Block returns the block with the given reference, if the state holds
// it. Genesis references resolve to the implicit genesis blocks.
func (d *DagState) Block(ref dgconsensus.BlockRef) (*dgconsensus.VerifiedBlock, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.blockLocked(ref)
}

func (d *DagState) blockLocked(ref dgconsensus.BlockRef) (*dgconsensus.VerifiedBlock, bool) {
	if b, ok := d.genesis[ref]; ok {
		return b, true
	}
	if e, ok := d.blocks[ref]; ok {
		return e.block, true
	}
	return nil, false
}

// ContainsBlock reports whether the state holds the referenced block.
func (d *DagState) ContainsBlock(ref dgconsensus.BlockRef) bool {
	_, ok := d.Block(ref)
	return ok
}

// BlocksAtSlot returns every accepted block at the given slot,
// ordered by digest. More than one block means the slot's author
// equivocated.
func (d *DagState) BlocksAtSlot(slot dgconsensus.Slot) []*dgconsensus.VerifiedBlock {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var blocks []*dgconsensus.VerifiedBlock
	for _, ref := range d.refsByAuthority[slot.Author] {
		if ref.Round != slot.Round {
			continue
		}
		blocks = append(blocks, d.blocks[ref].block)
	}
	return blocks
}

// BlocksAtRound returns every accepted block of the given round,
// ordered by reference.
func (d *DagState) BlocksAtRound(round dgconsensus.Round) []*dgconsensus.VerifiedBlock {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var blocks []*dgconsensus.VerifiedBlock
	for _, refs := range d.refsByAuthority {
		for _, ref := range refs {
			if ref.Round == round {
				blocks = append(blocks, d.blocks[ref].block)
			}
		}
	}
	slices.SortFunc(blocks, func(a, b *dgconsensus.VerifiedBlock) int {
		return a.Ref().Compare(b.Ref())
	})
	return blocks
}

// AncestorsAtRound returns all blocks of earlierRound in the causal
// history of later, ordered by reference. Every traversed reference
// must resolve; a missing ancestor means the surrounding system handed
// the core an incomplete DAG, which is fatal.
func (d *DagState) AncestorsAtRound(
	later *dgconsensus.VerifiedBlock,
	earlierRound dgconsensus.Round,
) []*dgconsensus.VerifiedBlock {
	d.mu.RLock()
	defer d.mu.RUnlock()

	// Working set of linked references, sorted ascending,
	// expanded from the highest round downward.
	linked := slices.Clone(later.Ancestors())
	slices.SortFunc(linked, dgconsensus.BlockRef.Compare)
	linked = slices.CompactFunc(linked, func(a, b dgconsensus.BlockRef) bool { return a == b })

	for len(linked) > 0 {
		last := linked[len(linked)-1]
		if last.Round <= earlierRound {
			break
		}
		linked = linked[:len(linked)-1]

		block, ok := d.blockLocked(last)
		if !ok {
			panic(fmt.Sprintf("dgstore: ancestor %s missing from DAG", last))
		}
		for _, a := range block.Ancestors() {
			at, have := slices.BinarySearchFunc(linked, a, dgconsensus.BlockRef.Compare)
			if !have {
				linked = slices.Insert(linked, at, a)
			}
		}
	}

	var blocks []*dgconsensus.VerifiedBlock
	for _, ref := range linked {
		if ref.Round != earlierRound {
			continue
		}
		block, ok := d.blockLocked(ref)
		if !ok {
			panic(fmt.Sprintf("dgstore: ancestor %s missing from DAG", ref))
		}
		blocks = append(blocks, block)
	}
	return blocks
}

// CachedBlocks returns the accepted blocks of one authority with
// round >= start, in ascending reference order. Returned blocks are
// not guaranteed to be chained: equivocation leaves gaps and forks.
func (d *DagState) CachedBlocks(
	authority dgconsensus.AuthorityIndex,
	start dgconsensus.Round,
) []*dgconsensus.VerifiedBlock {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var blocks []*dgconsensus.VerifiedBlock
	for _, ref := range d.refsByAuthority[authority] {
		if ref.Round >= start {
			blocks = append(blocks, d.blocks[ref].block)
		}
	}
	return blocks
}

// LastBlockForAuthority returns the highest accepted block of the
// given authority, falling back to its genesis block.
func (d *DagState) LastBlockForAuthority(authority dgconsensus.AuthorityIndex) *dgconsensus.VerifiedBlock {
	d.mu.RLock()
	defer d.mu.RUnlock()

	refs := d.refsByAuthority[authority]
	if len(refs) > 0 {
		return d.blocks[refs[len(refs)-1]].block
	}
	for ref, b := range d.genesis {
		if ref.Author == authority {
			return b
		}
	}
	panic(fmt.Sprintf("dgstore: no genesis block for authority %s", authority))
}

// NextProposeRound returns the round immediately after this node's
// last proposed block.
func (d *DagState) NextProposeRound() dgconsensus.Round {
	return d.LastBlockForAuthority(d.ctx.OwnIndex).Round() + 1
}

// HighestAcceptedRound returns the highest round any accepted block
// occupies, or the genesis round when none has been accepted.
func (d *DagState) HighestAcceptedRound() dgconsensus.Round {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.highestAccepted
}

// GCRound returns the garbage collection watermark: state at or below
// it is purged and never re-created.
func (d *DagState) GCRound() dgconsensus.Round {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.gcRound
}

// SetGCRound advances the garbage collection watermark and evicts
// blocks at or below it. The watermark only moves forward; attempts
// to move it back are ignored.
func (d *DagState) SetGCRound(round dgconsensus.Round) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if round <= d.gcRound {
		return
	}
	d.gcRound = round

	for ref := range d.blocks {
		if ref.Round <= round {
			delete(d.blocks, ref)
		}
	}
	for i, refs := range d.refsByAuthority {
		d.refsByAuthority[i] = slices.DeleteFunc(refs, func(r dgconsensus.BlockRef) bool {
			return r.Round <= round
		})
	}
}

// IsHardLinked reports whether the referenced block's votes are
// already durably committed, so recovery need not re-derive them.
func (d *DagState) IsHardLinked(ref dgconsensus.BlockRef) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.blocks[ref]
	return ok && e.hardLinked
}

// MarkHardLinked flags the referenced block as durably committed.
// Unknown references are ignored: the block may already be GC'ed.
func (d *DagState) MarkHardLinked(ref dgconsensus.BlockRef) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.blocks[ref]; ok {
		e.hardLinked = true
	}
}

// GenesisRefs returns the references of the genesis blocks,
// in authority order.
func (d *DagState) GenesisRefs() []dgconsensus.BlockRef {
	d.mu.RLock()
	defer d.mu.RUnlock()

	refs := make([]dgconsensus.BlockRef, 0, len(d.genesis))
	for ref := range d.genesis {
		refs = append(refs, ref)
	}
	slices.SortFunc(refs, dgconsensus.BlockRef.Compare)
	return refs
}
