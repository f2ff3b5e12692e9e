/*
Package types holds the identifiers, limits and error values shared by
every Burrow subsystem.

A UID names a data item forever: the page number in the high half, the
in-page byte offset in the low 16 bits. An XID names a transaction;
XID 0 is the super transaction used for structural writes and is
treated as permanently committed.

Errors form a closed enumeration of sentinel values. Subsystems wrap
them with context via fmt.Errorf("...: %w", err) and callers branch
with errors.Is; the wire layer turns any non-fatal member into an
error frame for the client.
*/
package types
