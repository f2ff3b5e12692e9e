package vm

import (
	"fmt"
	"sync"

	"github.com/burrowdb/burrow/pkg/dm"
	"github.com/burrowdb/burrow/pkg/log"
	"github.com/burrowdb/burrow/pkg/metrics"
	"github.com/burrowdb/burrow/pkg/tm"
	"github.com/burrowdb/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// transaction is the version manager's view of one running
// transaction.
type transaction struct {
	xid         types.XID
	level       types.IsolationLevel
	snapshot    map[types.XID]struct{} // active set at begin, repeatable read only
	autoAborted bool
	err         error // once set, poisons the transaction
}

func (t *transaction) inSnapshot(xid types.XID) bool {
	if t.level != types.RepeatableRead {
		return false
	}
	_, ok := t.snapshot[xid]
	return ok
}

// VersionManager stacks MVCC semantics on the data manager: inserted
// records are stamped with their creator, deletion stamps the deleter,
// and reads apply the isolation level's visibility rule. Conflicting
// writers serialise through a lock table that breaks deadlocks by
// aborting the requester.
type VersionManager interface {
	Begin(level types.IsolationLevel) (types.XID, error)
	// Read returns the record bytes visible to xid, or nil.
	Read(xid types.XID, uid types.UID) ([]byte, error)
	Insert(xid types.XID, record []byte) (types.UID, error)
	// Delete stamps the entry deleted. False means the entry was not
	// visible or already deleted by xid.
	Delete(xid types.XID, uid types.UID) (bool, error)
	Commit(xid types.XID) error
	Abort(xid types.XID) error
}

type versionManager struct {
	tm tm.Manager
	dm dm.DataManager

	mu    sync.Mutex
	txns  map[types.XID]*transaction
	locks *lockTable

	logger zerolog.Logger
}

// New builds a version manager over the given transaction and data
// managers.
func New(t tm.Manager, d dm.DataManager) VersionManager {
	v := &versionManager{
		tm:     t,
		dm:     d,
		txns:   make(map[types.XID]*transaction),
		locks:  newLockTable(),
		logger: log.WithComponent("vm"),
	}
	// The super transaction is always running: structural reads and
	// writes (catalog, index nodes) go through it.
	v.txns[types.SuperXID] = &transaction{xid: types.SuperXID}
	return v
}

func (v *versionManager) Begin(level types.IsolationLevel) (types.XID, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	xid, err := v.tm.Begin()
	if err != nil {
		return 0, err
	}
	t := &transaction{xid: xid, level: level}
	if level == types.RepeatableRead {
		t.snapshot = make(map[types.XID]struct{}, len(v.txns))
		for active := range v.txns {
			if active == types.SuperXID {
				continue
			}
			t.snapshot[active] = struct{}{}
		}
	}
	v.txns[xid] = t
	metrics.TransactionsActive.Inc()
	return xid, nil
}

func (v *versionManager) transaction(xid types.XID) (*transaction, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	t, ok := v.txns[xid]
	if !ok {
		return nil, fmt.Errorf("xid %d: %w", xid, types.ErrNoTransaction)
	}
	if t.err != nil {
		return nil, t.err
	}
	return t, nil
}

func (v *versionManager) Read(xid types.XID, uid types.UID) ([]byte, error) {
	t, err := v.transaction(xid)
	if err != nil {
		return nil, err
	}

	di, err := v.dm.Read(uid)
	if err != nil {
		return nil, err
	}
	if di == nil {
		return nil, nil
	}
	defer di.Release()

	di.RLock()
	defer di.RUnlock()
	visible, err := v.isVisible(t, entryXMin(di), entryXMax(di))
	if err != nil || !visible {
		return nil, err
	}
	return entryRecord(di), nil
}

func (v *versionManager) Insert(xid types.XID, record []byte) (types.UID, error) {
	t, err := v.transaction(xid)
	if err != nil {
		return 0, err
	}
	return v.dm.Insert(t.xid, wrapEntry(t.xid, record))
}

func (v *versionManager) Delete(xid types.XID, uid types.UID) (bool, error) {
	t, err := v.transaction(xid)
	if err != nil {
		return false, err
	}

	di, err := v.dm.Read(uid)
	if err != nil {
		return false, err
	}
	if di == nil {
		return false, nil
	}

	di.RLock()
	visible, err := v.isVisible(t, entryXMin(di), entryXMax(di))
	di.RUnlock()
	if err != nil || !visible {
		di.Release()
		return false, err
	}

	if err := v.locks.Acquire(xid, uid); err != nil {
		// Deadlock: this transaction is the victim and dies here.
		di.Release()
		v.poison(t, err)
		v.abort(xid, true)
		return false, err
	}
	defer di.Release()

	// Re-check under the lock: a competing deleter may have won.
	di.RLock()
	xmax := entryXMax(di)
	di.RUnlock()
	if xmax == xid {
		return false, nil
	}
	if xmax != 0 {
		aborted, err := v.tm.IsAborted(xmax)
		if err != nil {
			return false, err
		}
		if !aborted {
			err := fmt.Errorf("uid %d deleted by xid %d: %w", uid, xmax, types.ErrConcurrentUpdate)
			v.poison(t, err)
			v.abort(xid, true)
			return false, err
		}
		// A deleter that aborted leaves its stamp behind; overwrite it.
	}

	if err := setEntryXMax(di, xid); err != nil {
		return false, err
	}
	return true, nil
}

func (v *versionManager) poison(t *transaction, err error) {
	v.mu.Lock()
	t.err = err
	t.autoAborted = true
	v.mu.Unlock()
}

func (v *versionManager) Commit(xid types.XID) error {
	v.mu.Lock()
	t, ok := v.txns[xid]
	if !ok {
		v.mu.Unlock()
		return fmt.Errorf("xid %d: %w", xid, types.ErrNoTransaction)
	}
	if t.err != nil {
		err := t.err
		v.mu.Unlock()
		return err
	}
	delete(v.txns, xid)
	v.mu.Unlock()

	if err := v.tm.Commit(xid); err != nil {
		return err
	}
	v.locks.ReleaseAll(xid)
	metrics.TransactionsActive.Dec()
	metrics.TransactionsTotal.WithLabelValues("committed").Inc()
	v.logger.Debug().Uint64("xid", xid).Msg("committed")
	return nil
}

func (v *versionManager) Abort(xid types.XID) error {
	return v.abort(xid, false)
}

// abort rolls a transaction back. The auto path runs when the version
// manager itself kills the transaction (deadlock victim, write
// conflict); the manual path is the user's abort, which is a no-op if
// the auto path already ran.
func (v *versionManager) abort(xid types.XID, auto bool) error {
	v.mu.Lock()
	t, ok := v.txns[xid]
	if !ok {
		v.mu.Unlock()
		return fmt.Errorf("xid %d: %w", xid, types.ErrNoTransaction)
	}
	alreadyAuto := t.autoAborted && !auto
	if !auto {
		delete(v.txns, xid)
	} else {
		t.autoAborted = true
	}
	v.mu.Unlock()

	if !auto {
		metrics.TransactionsActive.Dec()
		metrics.TransactionsTotal.WithLabelValues("aborted").Inc()
	}
	if alreadyAuto {
		// The deadlock or conflict path already rolled back on disk.
		return nil
	}
	// Mark aborted before releasing: a waiter granted one of our locks
	// must already see this transaction's stamps as dead.
	if err := v.tm.Abort(xid); err != nil {
		return err
	}
	v.locks.ReleaseAll(xid)
	v.logger.Debug().Uint64("xid", xid).Bool("auto", auto).Msg("aborted")
	return nil
}
