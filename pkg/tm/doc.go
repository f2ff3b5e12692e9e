/*
Package tm persists transaction identifiers and their lifecycle state.

The xid file is a flat array: an 8-byte little-endian count of issued
xids, then one byte per xid taking 0 (active), 1 (committed) or
2 (aborted). Begin appends a status byte and then rewrites the count,
so a crash between the two leaves an unreachable tail byte that Open
trims away; a transaction that never reached commit reads as aborted
after recovery marks it so.

XID 0 is the super transaction: it has no byte in the file and always
reports committed.
*/
package tm
