package dgconsensus

// BlockVerifier validates block content and produces this authority's
// explicit reject votes against individual transactions.
//
// Verification of signatures and transaction semantics happens outside
// the commit core; only the resulting votes are consumed here
// (by certifier recovery, when persisted votes are unavailable).
type BlockVerifier interface {
	// VerifyAndVote returns the indices of transactions in block that
	// this authority votes to reject. An error means the block failed
	// verification outright and its votes cannot be derived.
	VerifyAndVote(block *VerifiedBlock) ([]TransactionIndex, error)
}
