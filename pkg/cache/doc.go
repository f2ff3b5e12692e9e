/*
Package cache implements the reference-counted cache framework shared
by the page cache and the data-item cache.

Entries are pinned while in use: Get adds a pin, Release drops one,
and the last Release hands the entry to a write-back callback and
evicts it. A bounded cache whose pins have saturated the pool rejects
further gets with ErrCacheFull rather than blocking.

Gets racing on the same absent key coordinate: the first one faults
the entry in while the rest wait on the in-flight load, so a hot page
is read from disk exactly once.
*/
package cache
