/*
Package im implements the B+-tree secondary index.

Nodes are fixed-size data-manager items; leaves hold (key, uid) pairs
and internal nodes hold exclusive upper bounds over their children.
Sibling pointers chain each level left to right, which gives the tree
its concurrency story: navigation takes only read locks, and a walker
that arrives at a node whose range has split away simply chases the
sibling. The root is reached through a one-slot boot item; a root
split builds the new root and rewrites that single pointer under the
tree's boot mutex.

Duplicate keys are allowed — the tree is a multimap — and all
structural writes run under the super transaction, so index structure
survives regardless of the fate of the transaction that triggered a
split.
*/
package im
