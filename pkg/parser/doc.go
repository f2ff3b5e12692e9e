/*
Package parser turns SQL lines into typed statements.

The dialect is small: begin/commit/abort, show, create table, drop
table, insert, select, update, delete. Types are int32, int64 and
string; string literals take single or double quotes. A where clause
is one comparison over a field, or two comparisons joined by and/or.

Parsing is a hand-rolled tokenizer and a direct descent over the ten
statement forms; errors wrap ErrInvalidCommand with what was expected
and what was found, except an unknown column type, which wraps
ErrInvalidField.
*/
package parser
