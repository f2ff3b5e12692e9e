/*
Package wal implements the write-ahead log.

The file is a 4-byte whole-log checksum followed by framed records:

	[xchecksum(4)] ([size(4) | checksum(4) | body(size)])*

Both checksums use the same rolling hash, h = h*13331 + b over
sign-extended bytes starting from zero. The per-record checksum covers
the body; the whole-log checksum folds the complete framed bytes of
every record in order, so any tear anywhere in the file makes the
header disagree.

Append is durable before it returns: record written, header refolded
and rewritten, file fsynced. Open verifies the whole log and truncates
a torn tail back to the last good record boundary; the iterator treats
an invalid record the same way, as end of log rather than an error.
*/
package wal
