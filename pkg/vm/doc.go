/*
Package vm layers multi-version concurrency control on the data
manager.

Every record is stored as [xmin | xmax | bytes]: the transaction that
created the version and the one that deleted it, if any. Reads never
block writes; a reader applies its isolation level's visibility rule
to the stamps and either sees the version or doesn't. Read committed
consults only commit state; repeatable read also consults the snapshot
of transactions active at begin, so later or concurrent writers stay
invisible for the transaction's whole life.

Deletes serialise through a lock table keyed by uid. A blocked acquire
walks the wait-for graph first; if enqueueing would close a cycle the
requester is aborted on the spot and the caller sees ErrDeadlock.
Lock handoff is FIFO per uid. A delete that finds a committed foreign
xmax under the lock fails with ErrConcurrentUpdate and also aborts the
transaction, so no error path leaves locks or stamps half-applied.
*/
package vm
