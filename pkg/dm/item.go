package dm

import (
	"encoding/binary"
	"sync"

	"github.com/burrowdb/burrow/pkg/pcache"
	"github.com/burrowdb/burrow/pkg/types"
)

// Data item layout inside a page: [valid(1) | size(2) | data(size)].
// valid is 0 for live items and 1 for deleted ones; the slot itself is
// reserved forever once allocated.
const (
	itemValidOff = 0
	itemSizeOff  = 1
	itemDataOff  = 3
)

// MaxItemPayload is the largest payload whose wrapped item still fits
// an empty page.
const MaxItemPayload = pcache.MaxFreeSpace - itemDataOff

// wrapItem frames a payload into on-page item format.
func wrapItem(data []byte) []byte {
	raw := make([]byte, itemDataOff+len(data))
	binary.LittleEndian.PutUint16(raw[itemSizeOff:], uint16(len(data)))
	copy(raw[itemDataOff:], data)
	return raw
}

// DataItem is a pinned handle over one item's bytes within its page.
// The handle holds the page pin for as long as it is cached; Data is a
// live view into the page buffer, valid only under the item locks.
type DataItem struct {
	lock   sync.RWMutex
	uid    types.UID
	page   *pcache.Page
	off    uint16
	size   uint16
	oldRaw []byte
	dm     *dataManager
}

// UID returns the item's durable identity.
func (di *DataItem) UID() types.UID { return di.uid }

// Page returns the item's containing page.
func (di *DataItem) Page() *pcache.Page { return di.page }

func (di *DataItem) raw() []byte {
	end := int(di.off) + itemDataOff + int(di.size)
	return di.page.Data()[di.off:end]
}

// Data returns a mutable view of the item's payload bytes.
func (di *DataItem) Data() []byte {
	return di.raw()[itemDataOff:]
}

// Valid reports whether the item is live (not logically deleted).
func (di *DataItem) Valid() bool {
	return di.raw()[itemValidOff] == 0
}

// Before opens an in-place mutation: takes the write lock, marks the
// page dirty and snapshots the item so the change can be undone or
// logged.
func (di *DataItem) Before() {
	di.lock.Lock()
	di.page.Lock()
	di.page.SetDirty()
	di.page.Unlock()
	di.oldRaw = append(di.oldRaw[:0], di.raw()...)
}

// UnBefore abandons the mutation, restoring the snapshot.
func (di *DataItem) UnBefore() {
	copy(di.raw(), di.oldRaw)
	di.lock.Unlock()
}

// After commits the mutation: an update record with the before and
// after payloads is appended to the log, then the write lock drops.
// Without this call recovery would never see the change.
func (di *DataItem) After(xid types.XID) error {
	oldPayload := di.oldRaw[itemDataOff:]
	body := encodeUpdateLog(xid, di.uid, oldPayload, di.Data())
	err := di.dm.wal.Append(body)
	di.lock.Unlock()
	return err
}

// RLock takes the item's read lock.
func (di *DataItem) RLock() { di.lock.RLock() }

// RUnlock drops the item's read lock.
func (di *DataItem) RUnlock() { di.lock.RUnlock() }

// WLock takes the item's write lock without the before/after protocol.
func (di *DataItem) WLock() { di.lock.Lock() }

// WUnlock drops the item's write lock.
func (di *DataItem) WUnlock() { di.lock.Unlock() }

// Release returns the handle to the item cache.
func (di *DataItem) Release() {
	di.dm.items.Release(di.uid)
}
