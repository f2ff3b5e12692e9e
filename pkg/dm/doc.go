/*
Package dm is the data manager: variable-length data items stored on
slotted pages, with every mutation logged ahead of the page write.

An item is [valid | size | data] at a fixed offset on its page; the
uid packing page number and offset names it forever. Deletion is
logical (the valid byte flips) and slots are never compacted, so a
uid handed out once stays dereferenceable for the life of the file.

Inserts find a page through a 41-bucket free-space index, append an
insert record to the write-ahead log, and only then touch the page.
In-place updates go through the item handle's Before/After protocol,
which snapshots the old bytes and logs an update record; skipping the
protocol means recovery cannot see the change.

Open checks the metadata page's shutdown marks and, when they
disagree, replays the log: REDO for finished transactions, UNDO in
reverse for transactions that never finished, which are then marked
aborted.
*/
package dm
