package im

import (
	"encoding/binary"
	"sync"

	"github.com/burrowdb/burrow/pkg/dm"
	"github.com/burrowdb/burrow/pkg/types"
)

// Tree is a B+-tree stored as data-manager items. The only mutable
// pointer is the root uid held in the boot item; splits create new
// nodes and leave old ones reachable through sibling chains, so
// readers never observe a dangling reference. All structural writes
// run under the super transaction and are permanently visible.
type Tree struct {
	dm       dm.DataManager
	bootUID  types.UID
	bootItem *dm.DataItem
	bootMu   sync.Mutex
}

// Create inserts an empty tree and returns the uid of its boot item.
func Create(d dm.DataManager) (types.UID, error) {
	rootUID, err := d.Insert(types.SuperXID, emptyLeafRaw())
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], rootUID)
	return d.Insert(types.SuperXID, buf[:])
}

// Load pins the boot item and returns a tree handle.
func Load(bootUID types.UID, d dm.DataManager) (*Tree, error) {
	di, err := d.Read(bootUID)
	if err != nil {
		return nil, err
	}
	if di == nil {
		return nil, types.ErrNullEntry
	}
	return &Tree{dm: d, bootUID: bootUID, bootItem: di}, nil
}

// Close releases the boot item.
func (t *Tree) Close() {
	t.bootItem.Release()
}

func (t *Tree) rootUID() types.UID {
	t.bootMu.Lock()
	defer t.bootMu.Unlock()
	return binary.LittleEndian.Uint64(t.bootItem.Data())
}

// swapRoot replaces the root with a fresh internal node over the old
// root and the node a root split produced.
func (t *Tree) swapRoot(newNode types.UID, newKey int64) error {
	t.bootMu.Lock()
	defer t.bootMu.Unlock()

	oldRoot := binary.LittleEndian.Uint64(t.bootItem.Data())
	rootUID, err := t.dm.Insert(types.SuperXID, rootRaw(oldRoot, newNode, newKey))
	if err != nil {
		return err
	}
	t.bootItem.Before()
	binary.LittleEndian.PutUint64(t.bootItem.Data(), rootUID)
	return t.bootItem.After(types.SuperXID)
}

// Search returns the uids stored under key.
func (t *Tree) Search(key int64) ([]types.UID, error) {
	return t.SearchRange(key, key)
}

// SearchRange returns the uids with keys in [lo, hi], walking the
// leaf chain left to right.
func (t *Tree) SearchRange(lo, hi int64) ([]types.UID, error) {
	leaf, err := t.searchLeaf(t.rootUID(), lo)
	if err != nil {
		return nil, err
	}
	var uids []types.UID
	for leaf != 0 {
		n, err := loadNode(t.dm, leaf)
		if err != nil {
			return nil, err
		}
		found, sibling := n.leafSearchRange(lo, hi)
		n.release()
		uids = append(uids, found...)
		leaf = sibling
	}
	return uids, nil
}

// searchLeaf descends from nodeUID to the leaf that would hold key,
// chasing siblings at each level when a concurrent split moved the
// key range right.
func (t *Tree) searchLeaf(nodeUID types.UID, key int64) (types.UID, error) {
	cur := nodeUID
	for {
		n, err := loadNode(t.dm, cur)
		if err != nil {
			return 0, err
		}
		leaf := n.isLeaf()
		if leaf {
			n.release()
			return cur, nil
		}
		child, sibling := n.searchNext(key)
		n.release()
		if child != 0 {
			cur = child
		} else {
			cur = sibling
		}
	}
}

// Insert adds (key, uid) to the tree, splitting nodes on the way up
// and swapping the root if the split reaches it.
func (t *Tree) Insert(key int64, uid types.UID) error {
	root := t.rootUID()

	// Descend to the leaf, recording the spine for the upward pass.
	var path []types.UID
	cur := root
	for {
		n, err := loadNode(t.dm, cur)
		if err != nil {
			return err
		}
		leaf := n.isLeaf()
		if leaf {
			n.release()
			break
		}
		child, sibling := n.searchNext(key)
		n.release()
		if child != 0 {
			path = append(path, cur)
			cur = child
		} else {
			cur = sibling
		}
	}

	// Insert at the leaf, then propagate splits along the recorded
	// spine. Each hop retries on siblings when a concurrent split has
	// moved the slot right.
	son, splitKey := uid, key
	target := cur
	for {
		newNode, newKey, err := t.insertLevel(target, son, splitKey)
		if err != nil {
			return err
		}
		if newNode == 0 {
			return nil
		}
		if len(path) == 0 {
			return t.swapRoot(newNode, newKey)
		}
		target = path[len(path)-1]
		path = path[:len(path)-1]
		son, splitKey = newNode, newKey
	}
}

// insertLevel inserts (son, key) into the node at uid or, when the
// node has split past the key, into the right sibling.
func (t *Tree) insertLevel(uid types.UID, son types.UID, key int64) (types.UID, int64, error) {
	cur := uid
	for {
		n, err := loadNode(t.dm, cur)
		if err != nil {
			return 0, 0, err
		}
		retry, newNode, newKey, err := n.insertAndSplit(t, son, key)
		n.release()
		if err != nil {
			return 0, 0, err
		}
		if retry != 0 {
			cur = retry
			continue
		}
		return newNode, newKey, nil
	}
}
