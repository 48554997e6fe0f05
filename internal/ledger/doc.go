// Package ledger is the durable delivery ledger.
//
// Every send attempt, single or bulk, lands here as one message plus one
// transaction, written atomically. The ledger is append-mostly: the only
// mutations are retry_count bumps and the in-place transaction status
// rewrite after a manual retry.
package ledger
