/*
Package pcache is the buffer pool over the paged data file.

Pages are fixed 8 KiB. A GetPage pins the page for the caller; the
last Release writes a dirty page back and evicts it. The pool is
bounded by the configured memory budget (minimum ten pages) and
rejects gets with ErrCacheFull when every slot is pinned. All file
access goes through a single file mutex so concurrent faults never
interleave their reads.

Page 1 is metadata: an open mark stamped with random bytes at startup
and a close mark copied from it at clean shutdown. Disagreement at
open is how the data manager decides to run crash recovery. Regular
pages are slotted: a two-byte free-space offset followed by the item
area, with layout helpers in layout.go used by the data manager both
on the insert path and during recovery replay.
*/
package pcache
