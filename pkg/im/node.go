package im

import (
	"encoding/binary"
	"math"

	"github.com/burrowdb/burrow/pkg/dm"
	"github.com/burrowdb/burrow/pkg/types"
)

// Node layout, a fixed-size data-item payload:
//
//	[isLeaf(1) | nkeys(2) | sibling(8) | (son(8), key(8)) x (2*balance+2)]
//
// In a leaf, son is the indexed uid and key the index key. In an
// internal node, son is a child node and key an exclusive upper bound
// on the child's subtree; the rightmost node of every level carries
// MaxInt64 as its final bound. sibling chains nodes of a level
// left-to-right, zero-terminated.
const (
	balance = 32

	leafOff    = 0
	nkeysOff   = 1
	siblingOff = 3
	headerLen  = 11
	slotLen    = 16

	maxSlots = 2*balance + 2
	nodeSize = headerLen + slotLen*maxSlots
)

// maxKey is the sentinel bound of the rightmost slot on each level.
const maxKey = math.MaxInt64

// node wraps a pinned data item holding one tree node. Readers hold
// the item's read lock across raw accesses; mutation goes through the
// item's Before/After protocol so splits are logged.
type node struct {
	item *dm.DataItem
	raw  []byte
}

func loadNode(d dm.DataManager, uid types.UID) (*node, error) {
	di, err := d.Read(uid)
	if err != nil {
		return nil, err
	}
	if di == nil {
		return nil, types.ErrNullEntry
	}
	return &node{item: di, raw: di.Data()}, nil
}

func (n *node) release() { n.item.Release() }

func (n *node) isLeaf() bool { return n.raw[leafOff] == 1 }

func (n *node) nkeys() int {
	return int(binary.LittleEndian.Uint16(n.raw[nkeysOff:]))
}

func (n *node) sibling() types.UID {
	return binary.LittleEndian.Uint64(n.raw[siblingOff:])
}

func (n *node) key(i int) int64 {
	return int64(binary.LittleEndian.Uint64(n.raw[headerLen+i*slotLen+8:]))
}

func (n *node) son(i int) types.UID {
	return binary.LittleEndian.Uint64(n.raw[headerLen+i*slotLen:])
}

// Raw-buffer accessors shared by node mutation and fresh-node
// construction.
func rawSetLeaf(raw []byte, leaf bool) {
	if leaf {
		raw[leafOff] = 1
	} else {
		raw[leafOff] = 0
	}
}

func rawSetNKeys(raw []byte, n int) {
	binary.LittleEndian.PutUint16(raw[nkeysOff:], uint16(n))
}

func rawNKeys(raw []byte) int {
	return int(binary.LittleEndian.Uint16(raw[nkeysOff:]))
}

func rawSetSibling(raw []byte, uid types.UID) {
	binary.LittleEndian.PutUint64(raw[siblingOff:], uid)
}

func rawSibling(raw []byte) types.UID {
	return binary.LittleEndian.Uint64(raw[siblingOff:])
}

func rawSetSlot(raw []byte, i int, son types.UID, key int64) {
	binary.LittleEndian.PutUint64(raw[headerLen+i*slotLen:], son)
	binary.LittleEndian.PutUint64(raw[headerLen+i*slotLen+8:], uint64(key))
}

func rawKey(raw []byte, i int) int64 {
	return int64(binary.LittleEndian.Uint64(raw[headerLen+i*slotLen+8:]))
}

func rawSon(raw []byte, i int) types.UID {
	return binary.LittleEndian.Uint64(raw[headerLen+i*slotLen:])
}

// rawShiftFrom opens slot i by moving slots [i, nkeys) one to the
// right.
func rawShiftFrom(raw []byte, i, nkeys int) {
	start := headerLen + i*slotLen
	end := headerLen + nkeys*slotLen
	copy(raw[start+slotLen:end+slotLen], raw[start:end])
}

// emptyLeafRaw is the payload of a brand-new tree's root.
func emptyLeafRaw() []byte {
	raw := make([]byte, nodeSize)
	rawSetLeaf(raw, true)
	return raw
}

// rootRaw builds an internal root with two children: left bounded by
// key, right by the sentinel.
func rootRaw(left, right types.UID, key int64) []byte {
	raw := make([]byte, nodeSize)
	rawSetLeaf(raw, false)
	rawSetNKeys(raw, 2)
	rawSetSlot(raw, 0, left, key)
	rawSetSlot(raw, 1, right, maxKey)
	return raw
}

// searchNext finds the child to descend into for key: the first slot
// whose bound is strictly greater. When every bound is smaller the
// node has split under us; the caller retries on the sibling.
func (n *node) searchNext(key int64) (child, sibling types.UID) {
	n.item.RLock()
	defer n.item.RUnlock()
	cnt := n.nkeys()
	for i := 0; i < cnt; i++ {
		if key < n.key(i) {
			return n.son(i), 0
		}
	}
	return 0, n.sibling()
}

// leafSearchRange collects uids with keys in [lo, hi] in slot order.
// If the scan runs off the node's end the sibling is returned so the
// caller continues there.
func (n *node) leafSearchRange(lo, hi int64) (uids []types.UID, sibling types.UID) {
	n.item.RLock()
	defer n.item.RUnlock()
	cnt := n.nkeys()
	i := 0
	for i < cnt && n.key(i) < lo {
		i++
	}
	for i < cnt && n.key(i) <= hi {
		uids = append(uids, n.son(i))
		i++
	}
	if i == cnt {
		sibling = n.sibling()
	}
	return uids, sibling
}

// insertAndSplit adds (son, key) to the node, splitting if the node
// fills. Returns the sibling to retry on when the key no longer
// belongs here, or the new node produced by a split together with its
// separating key.
func (n *node) insertAndSplit(t *Tree, son types.UID, key int64) (retry types.UID, newNode types.UID, newKey int64, err error) {
	n.item.Before()
	if !n.insert(son, key) {
		retry = rawSibling(n.raw)
		n.item.UnBefore()
		return retry, 0, 0, nil
	}
	if rawNKeys(n.raw) == 2*balance {
		newNode, newKey, err = n.split(t)
		if err != nil {
			n.item.UnBefore()
			return 0, 0, 0, err
		}
	}
	if err := n.item.After(types.SuperXID); err != nil {
		return 0, 0, 0, err
	}
	return 0, newNode, newKey, nil
}

// insert places (son, key) at its slot. In an internal node the
// arriving son is a freshly split child: its slot takes the old bound
// of the child it split from, whose bound drops to key.
func (n *node) insert(son types.UID, key int64) bool {
	cnt := rawNKeys(n.raw)
	i := 0
	for i < cnt && rawKey(n.raw, i) < key {
		i++
	}
	if i == cnt && rawSibling(n.raw) != 0 {
		// Key is beyond this node and a sibling exists: wrong node.
		return false
	}
	if n.raw[leafOff] == 1 {
		rawShiftFrom(n.raw, i, cnt)
		rawSetSlot(n.raw, i, son, key)
	} else {
		old := rawKey(n.raw, i)
		rawSetSlot(n.raw, i, rawSon(n.raw, i), key)
		rawShiftFrom(n.raw, i+1, cnt)
		rawSetSlot(n.raw, i+1, son, old)
	}
	rawSetNKeys(n.raw, cnt+1)
	return true
}

// split moves the upper half of the node into a fresh sibling and
// returns its uid and first key.
func (n *node) split(t *Tree) (types.UID, int64, error) {
	raw := make([]byte, nodeSize)
	rawSetLeaf(raw, n.raw[leafOff] == 1)
	rawSetNKeys(raw, balance)
	rawSetSibling(raw, rawSibling(n.raw))
	copy(raw[headerLen:headerLen+balance*slotLen],
		n.raw[headerLen+balance*slotLen:headerLen+2*balance*slotLen])

	uid, err := t.dm.Insert(types.SuperXID, raw)
	if err != nil {
		return 0, 0, err
	}
	rawSetNKeys(n.raw, balance)
	rawSetSibling(n.raw, uid)
	return uid, rawKey(raw, 0), nil
}
