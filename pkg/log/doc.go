/*
Package log provides structured logging for Burrow using zerolog.

The package wraps zerolog behind a global logger initialized once via
Init, with a console format for interactive use and JSON for
production. Subsystems create child loggers carrying a component field
(tm, pcache, wal, dm, recover, vm, tbm, server), and hot paths attach the
transaction or session they act for:

	walLog := log.WithComponent("wal")
	walLog.Debug().Uint64("xid", xid).Msg("append")

	sessLog := log.WithSession(id)
	sessLog.Info().Str("verb", "select").Msg("statement")

Fatal logs terminate the process. Open-time validation failures (bad
xid file, bad log file, memory below the floor) do not go through
Fatal: the engine returns them as errors, and the command line logs
them and exits non-zero.
*/
package log
