package vm

import (
	"sync"

	"github.com/burrowdb/burrow/pkg/metrics"
	"github.com/burrowdb/burrow/pkg/types"
)

// lockTable serialises writers on a uid and detects deadlocks in the
// wait-for graph. All bookkeeping lives under one mutex; the graph is
// bounded by the number of active transactions, so a walk on every
// blocked acquire is cheap.
type lockTable struct {
	mu      sync.Mutex
	locked  map[types.UID]types.XID   // current holder per uid
	holding map[types.XID][]types.UID // uids held per xid
	waits   map[types.XID]types.UID   // the uid each blocked xid waits on
	waited  map[types.UID][]types.XID // FIFO of waiters per uid
	wake    map[types.XID]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{
		locked:  make(map[types.UID]types.XID),
		holding: make(map[types.XID][]types.UID),
		waits:   make(map[types.XID]types.UID),
		waited:  make(map[types.UID][]types.XID),
		wake:    make(map[types.XID]chan struct{}),
	}
}

// Acquire takes the write lock on uid for xid, blocking behind the
// current holder. If enqueueing would close a cycle in the wait-for
// graph the enqueue is undone and ErrDeadlock returned: the requester
// is the victim.
func (lt *lockTable) Acquire(xid types.XID, uid types.UID) error {
	lt.mu.Lock()
	holder, held := lt.locked[uid]
	if !held || holder == xid {
		if !held {
			lt.grant(xid, uid)
		}
		lt.mu.Unlock()
		return nil
	}

	lt.waited[uid] = append(lt.waited[uid], xid)
	lt.waits[xid] = uid
	if lt.inCycle(xid) {
		lt.dequeue(xid, uid)
		delete(lt.waits, xid)
		lt.mu.Unlock()
		metrics.DeadlocksTotal.Inc()
		return types.ErrDeadlock
	}
	ch := make(chan struct{})
	lt.wake[xid] = ch
	lt.mu.Unlock()

	<-ch // ownership is transferred before the wake fires

	lt.mu.Lock()
	granted := lt.locked[uid] == xid
	lt.mu.Unlock()
	if !granted {
		// Woken by ReleaseAll during an abort, not by a grant.
		return types.ErrDeadlock
	}
	return nil
}

// inCycle walks waits and locked alternately from xid. Reaching xid
// again is a deadlock; reaching any other node twice, or a node with
// no outgoing edge, is progress. Call with the mutex held.
func (lt *lockTable) inCycle(xid types.XID) bool {
	visited := make(map[types.XID]bool)
	cur := xid
	for {
		uid, ok := lt.waits[cur]
		if !ok {
			return false
		}
		holder, ok := lt.locked[uid]
		if !ok {
			return false
		}
		if holder == xid {
			return true
		}
		if visited[holder] {
			return false
		}
		visited[holder] = true
		cur = holder
	}
}

// ReleaseAll frees every lock xid holds, handing each to its first
// waiter, and clears any wait state xid left behind.
func (lt *lockTable) ReleaseAll(xid types.XID) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	for _, uid := range lt.holding[xid] {
		if lt.locked[uid] != xid {
			continue
		}
		lt.release(uid)
	}
	delete(lt.holding, xid)

	if uid, ok := lt.waits[xid]; ok {
		lt.dequeue(xid, uid)
		delete(lt.waits, xid)
	}
	if ch, ok := lt.wake[xid]; ok {
		close(ch)
		delete(lt.wake, xid)
	}
}

// release hands uid to its first queued waiter, or frees it. Call with
// the mutex held.
func (lt *lockTable) release(uid types.UID) {
	queue := lt.waited[uid]
	if len(queue) == 0 {
		delete(lt.locked, uid)
		delete(lt.waited, uid)
		return
	}
	next := queue[0]
	lt.waited[uid] = queue[1:]
	delete(lt.waits, next)
	lt.grant(next, uid)
	if ch, ok := lt.wake[next]; ok {
		close(ch)
		delete(lt.wake, next)
	}
}

func (lt *lockTable) grant(xid types.XID, uid types.UID) {
	lt.locked[uid] = xid
	lt.holding[xid] = append(lt.holding[xid], uid)
}

func (lt *lockTable) dequeue(xid types.XID, uid types.UID) {
	queue := lt.waited[uid]
	for i, w := range queue {
		if w == xid {
			lt.waited[uid] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(lt.waited[uid]) == 0 {
		delete(lt.waited, uid)
	}
}
