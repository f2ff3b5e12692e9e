/*
Package tbm is the table manager: the catalog plus statement
execution over the version manager and the index trees.

Tables and their fields are themselves version entries, chained
newest-first from the booter file, whose eight bytes are replaced by
write-to-temp, fsync and rename. Each indexed field owns a B+-tree
whose boot uid lives in the field record; string keys hash to 64 bits
before entering a tree.

Statement execution resolves every where clause to index ranges over
one indexed field, fetches candidate uids from the tree, and lets
MVCC visibility sort out which versions the transaction actually
sees. Updates are delete-and-reinsert: the index accumulates entries
pointing at dead versions, which readers skip the same way.

Catalog writes run under the super transaction, so a created table is
immediately durable; drops stamp the table record with the dropping
transaction and unhook it from the in-memory catalog.
*/
package tbm
