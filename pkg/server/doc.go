/*
Package server speaks the wire protocol: TCP, one hex-encoded frame
per newline-terminated line in each direction. A decoded frame is a
flag byte and a body — flag 0 carries a request or a successful
response, flag 1 carries an error message.

Each accepted connection becomes a session handled by a worker from a
bounded pool; when the pool saturates, the accept loop runs the
session itself, which is the backpressure. A session owns one
Executor, which tracks its explicit transaction and wraps bare
statements in single-statement transactions. Disconnecting mid
transaction rolls it back.
*/
package server
