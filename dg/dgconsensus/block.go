package dgconsensus

import (
	"bytes"
	"fmt"
)

// Round identifies one layer of the block DAG.
// Every authority proposes at most one block per round
// (byzantine authorities may equivocate and propose several).
type Round = uint32

// GenesisRound is the round of the implicit genesis blocks.
// No leader is ever decided at the genesis round.
const GenesisRound Round = 0

// AuthorityIndex identifies one member of the fixed committee,
// as an index into the committee's authority ordering.
type AuthorityIndex uint32

// String formats small indices as single letters (A, B, C, ...)
// to match how DAG diagrams are usually drawn,
// falling back to the bracketed numeric index for larger committees.
func (i AuthorityIndex) String() string {
	if i < 26 {
		return string(rune('A' + i))
	}
	return fmt.Sprintf("[%d]", uint32(i))
}

// Stake is the voting weight of an authority, in arbitrary units.
type Stake = uint64

// TransactionIndex addresses one transaction within a single block.
type TransactionIndex = uint16

// BlockTimestampMs is a block timestamp in milliseconds since the unix epoch.
type BlockTimestampMs = uint64

// BlockDigest is the BLAKE2b-256 digest of a block's deterministic encoding.
type BlockDigest [32]byte

func (d BlockDigest) String() string {
	return fmt.Sprintf("%x", d[:4])
}

// Slot is one leader position: a round paired with the authority
// expected to propose at that round.
type Slot struct {
	Round  Round
	Author AuthorityIndex
}

func (s Slot) String() string {
	return fmt.Sprintf("%s%d", s.Author, s.Round)
}

// Compare orders slots by round, then author.
func (s Slot) Compare(o Slot) int {
	switch {
	case s.Round < o.Round:
		return -1
	case s.Round > o.Round:
		return 1
	case s.Author < o.Author:
		return -1
	case s.Author > o.Author:
		return 1
	}
	return 0
}

// BlockRef identifies one concrete proposed block.
// Two equivocating blocks at the same slot have distinct digests
// and therefore distinct references.
type BlockRef struct {
	Round  Round
	Author AuthorityIndex
	Digest BlockDigest
}

func (r BlockRef) String() string {
	return fmt.Sprintf("%s%d(%s)", r.Author, r.Round, r.Digest)
}

// Slot returns the leader position this reference occupies.
func (r BlockRef) Slot() Slot {
	return Slot{Round: r.Round, Author: r.Author}
}

// Compare orders references by round, then author, then digest.
func (r BlockRef) Compare(o BlockRef) int {
	if c := r.Slot().Compare(o.Slot()); c != 0 {
		return c
	}
	return bytes.Compare(r.Digest[:], o.Digest[:])
}

// Transaction is one opaque transaction payload carried in a block.
type Transaction []byte

// BlockTransactionVotes is one block's explicit reject votes against
// transactions of another block, identified by reference.
// Transactions of the referenced block absent from Rejects are,
// by causal inclusion, implicitly accepted.
type BlockTransactionVotes struct {
	BlockRef BlockRef

	Rejects []TransactionIndex
}

// Block is the raw content of one proposal.
//
// Ancestors must only reference blocks of strictly earlier rounds.
// Construct a [VerifiedBlock] to obtain the block's identity;
// a Block must not be mutated afterwards.
type Block struct {
	Round  Round
	Author AuthorityIndex

	TimestampMs BlockTimestampMs

	Ancestors []BlockRef

	Transactions []Transaction

	// Explicit reject votes against ancestor transactions.
	TransactionVotes []BlockTransactionVotes
}

// VerifiedBlock pairs a block whose signature verification already
// succeeded elsewhere with its computed content digest.
// The commit core only ever consumes verified blocks.
type VerifiedBlock struct {
	block  Block
	digest BlockDigest
}

// NewVerifiedBlock computes the digest of b and wraps it.
// The caller must not modify b or its slices afterwards.
func NewVerifiedBlock(b Block) *VerifiedBlock {
	return &VerifiedBlock{
		block:  b,
		digest: computeBlockDigest(b),
	}
}

// Ref returns the block's unique reference.
func (b *VerifiedBlock) Ref() BlockRef {
	return BlockRef{Round: b.block.Round, Author: b.block.Author, Digest: b.digest}
}

// Slot returns the leader position the block occupies.
func (b *VerifiedBlock) Slot() Slot {
	return Slot{Round: b.block.Round, Author: b.block.Author}
}

func (b *VerifiedBlock) Round() Round                 { return b.block.Round }
func (b *VerifiedBlock) Author() AuthorityIndex       { return b.block.Author }
func (b *VerifiedBlock) TimestampMs() BlockTimestampMs { return b.block.TimestampMs }
func (b *VerifiedBlock) Digest() BlockDigest          { return b.digest }

// Ancestors returns the block's ancestor references.
// The returned slice is shared; callers must not modify it.
func (b *VerifiedBlock) Ancestors() []BlockRef {
	return b.block.Ancestors
}

// Transactions returns the block's transaction payloads.
// The returned slice is shared; callers must not modify it.
func (b *VerifiedBlock) Transactions() []Transaction {
	return b.block.Transactions
}

// TransactionVotes returns the block's explicit reject votes.
// The returned slice is shared; callers must not modify it.
func (b *VerifiedBlock) TransactionVotes() []BlockTransactionVotes {
	return b.block.TransactionVotes
}

func (b *VerifiedBlock) String() string {
	return b.Ref().String()
}

// GenesisBlocks returns the implicit round-zero block of every
// committee member, in authority order. Genesis blocks are empty and
// have deterministic digests, so every honest authority derives the
// identical set.
func GenesisBlocks(c *Committee) []*VerifiedBlock {
	blocks := make([]*VerifiedBlock, c.Size())
	for i := range blocks {
		blocks[i] = NewVerifiedBlock(Block{
			Round:  GenesisRound,
			Author: AuthorityIndex(i),
		})
	}
	return blocks
}
