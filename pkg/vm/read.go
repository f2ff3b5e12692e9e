package vm

import (
	"github.com/burrowdb/burrow/pkg/dm"
	"github.com/burrowdb/burrow/pkg/types"
)

// ReadEntry exposes a raw version entry to the catalog layer, which
// walks its table chain through links stored inside records and so
// needs the stamps and bytes regardless of visibility. The record is
// copied out under the item's read lock.
func ReadEntry(di *dm.DataItem) (xmin, xmax types.XID, record []byte) {
	di.RLock()
	defer di.RUnlock()
	return entryXMin(di), entryXMax(di), entryRecord(di)
}
