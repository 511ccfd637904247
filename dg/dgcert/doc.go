// Package dgcert certifies transactions on the fast path, ahead of
// the commit rule.
//
// Every accepted block carries explicit reject votes and, through its
// ancestry, implicit accept votes on the transactions of earlier
// blocks. [TransactionCertifier] aggregates both per block and emits a
// block's transactions for early execution as soon as a quorum of
// stake has accepted the block and every transaction in it is either
// past rejection or provably safe from ever gathering a rejection
// quorum.
package dgcert
