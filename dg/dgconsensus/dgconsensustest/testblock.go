package dgconsensustest

import (
	"fmt"

	"github.com/meridian-engine/meridian/dg/dgconsensus"
)

// TestBlock builds one block with chainable setters.
type TestBlock struct {
	block dgconsensus.Block
}

// NewTestBlock returns a builder for a block at the given slot with no
// ancestors, no transactions, and a timestamp derived from the round.
func NewTestBlock(round dgconsensus.Round, author dgconsensus.AuthorityIndex) *TestBlock {
	return &TestBlock{
		block: dgconsensus.Block{
			Round:       round,
			Author:      author,
			TimestampMs: dgconsensus.BlockTimestampMs(round) * 1000,
		},
	}
}

func (t *TestBlock) SetAncestors(ancestors []dgconsensus.BlockRef) *TestBlock {
	t.block.Ancestors = ancestors
	return t
}

func (t *TestBlock) SetTimestampMs(ts dgconsensus.BlockTimestampMs) *TestBlock {
	t.block.TimestampMs = ts
	return t
}

func (t *TestBlock) SetTransactions(txns []dgconsensus.Transaction) *TestBlock {
	t.block.Transactions = txns
	return t
}

// SetNumTransactions fills the block with n distinct placeholder
// transactions.
func (t *TestBlock) SetNumTransactions(n int) *TestBlock {
	txns := make([]dgconsensus.Transaction, n)
	for i := range txns {
		txns[i] = dgconsensus.Transaction(fmt.Sprintf("txn-%s-%d", t.block.Author, i))
	}
	t.block.Transactions = txns
	return t
}

func (t *TestBlock) SetTransactionVotes(votes []dgconsensus.BlockTransactionVotes) *TestBlock {
	t.block.TransactionVotes = votes
	return t
}

// Build seals the block and computes its digest.
func (t *TestBlock) Build() *dgconsensus.VerifiedBlock {
	return dgconsensus.NewVerifiedBlock(t.block)
}
