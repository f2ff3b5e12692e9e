package server

import (
	"fmt"

	"github.com/burrowdb/burrow/pkg/metrics"
	"github.com/burrowdb/burrow/pkg/parser"
	"github.com/burrowdb/burrow/pkg/tbm"
	"github.com/burrowdb/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// Executor runs statements for one session, tracking its transaction
// state. A statement outside an explicit transaction runs in a
// throwaway one that commits on success and aborts on error.
type Executor struct {
	tbm    tbm.TableManager
	xid    types.XID
	inTxn  bool
	logger zerolog.Logger
}

// NewExecutor builds a session executor.
func NewExecutor(t tbm.TableManager, logger zerolog.Logger) *Executor {
	return &Executor{tbm: t, logger: logger}
}

// Execute parses and runs one statement, returning its result bytes.
func (e *Executor) Execute(sql string) ([]byte, error) {
	stmt, err := parser.Parse(sql)
	if err != nil {
		return nil, err
	}
	verb := parser.Verb(stmt)
	timer := metrics.NewTimer()

	out, err := e.dispatch(stmt)

	timer.ObserveDurationVec(metrics.StatementDuration, verb)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.StatementsTotal.WithLabelValues(verb, status).Inc()
	e.logger.Debug().Str("verb", verb).Str("status", status).Msg("statement")
	return out, err
}

func (e *Executor) dispatch(stmt parser.Statement) ([]byte, error) {
	switch s := stmt.(type) {
	case parser.Begin:
		if e.inTxn {
			return nil, types.ErrNestedTransaction
		}
		xid, err := e.tbm.Begin(s.Level)
		if err != nil {
			return nil, err
		}
		e.xid = xid
		e.inTxn = true
		return []byte("begin"), nil

	case parser.Commit:
		if !e.inTxn {
			return nil, types.ErrNoTransaction
		}
		if err := e.tbm.Commit(e.xid); err != nil {
			// A poisoned transaction cannot commit; roll it back so
			// the session starts clean.
			e.tbm.Abort(e.xid)
			e.inTxn = false
			return nil, err
		}
		e.inTxn = false
		return []byte("commit"), nil

	case parser.Abort:
		if !e.inTxn {
			return nil, types.ErrNoTransaction
		}
		e.tbm.Abort(e.xid)
		e.inTxn = false
		return []byte("abort"), nil

	default:
		return e.runInTxn(stmt)
	}
}

// runInTxn executes a data statement under the session's transaction,
// or under a single-statement one.
func (e *Executor) runInTxn(stmt parser.Statement) ([]byte, error) {
	xid := e.xid
	auto := !e.inTxn
	if auto {
		var err error
		xid, err = e.tbm.Begin(types.ReadCommitted)
		if err != nil {
			return nil, err
		}
	}

	out, err := e.run(xid, stmt)

	if auto {
		if err != nil {
			e.tbm.Abort(xid)
		} else if cerr := e.tbm.Commit(xid); cerr != nil {
			e.tbm.Abort(xid)
			return nil, cerr
		}
	}
	return out, err
}

func (e *Executor) run(xid types.XID, stmt parser.Statement) ([]byte, error) {
	switch s := stmt.(type) {
	case parser.Show:
		return []byte(e.tbm.Show()), nil
	case parser.Create:
		if err := e.tbm.Create(xid, s); err != nil {
			return nil, err
		}
		return []byte(fmt.Sprintf("create %s", s.Table)), nil
	case parser.Drop:
		if err := e.tbm.Drop(xid, s); err != nil {
			return nil, err
		}
		return []byte(fmt.Sprintf("drop %s", s.Table)), nil
	case parser.Insert:
		if err := e.tbm.Insert(xid, s); err != nil {
			return nil, err
		}
		return []byte("insert"), nil
	case parser.Select:
		out, err := e.tbm.Read(xid, s)
		if err != nil {
			return nil, err
		}
		return []byte(out), nil
	case parser.Update:
		n, err := e.tbm.Update(xid, s)
		if err != nil {
			return nil, err
		}
		return []byte(fmt.Sprintf("update %d", n)), nil
	case parser.Delete:
		n, err := e.tbm.Delete(xid, s)
		if err != nil {
			return nil, err
		}
		return []byte(fmt.Sprintf("delete %d", n)), nil
	default:
		return nil, types.ErrInvalidCommand
	}
}

// Close rolls back whatever transaction the session left open.
func (e *Executor) Close() {
	if e.inTxn {
		e.tbm.Abort(e.xid)
		e.inTxn = false
		e.logger.Debug().Uint64("xid", e.xid).Msg("rolled back on disconnect")
	}
}
