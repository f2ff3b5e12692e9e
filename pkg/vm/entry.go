package vm

import (
	"encoding/binary"

	"github.com/burrowdb/burrow/pkg/dm"
	"github.com/burrowdb/burrow/pkg/types"
)

// A version entry is a data-item payload of the form
// [xmin(8) | xmax(8) | record]: the creating xid, the deleting xid
// (zero while live), and the caller's bytes.
const (
	entryXMinOff   = 0
	entryXMaxOff   = 8
	entryRecordOff = 16
)

// wrapEntry stamps record with its creator.
func wrapEntry(xid types.XID, record []byte) []byte {
	buf := make([]byte, entryRecordOff+len(record))
	binary.LittleEndian.PutUint64(buf[entryXMinOff:], xid)
	copy(buf[entryRecordOff:], record)
	return buf
}

// entryXMin reads the creating xid. Hold the item's read lock.
func entryXMin(di *dm.DataItem) types.XID {
	return binary.LittleEndian.Uint64(di.Data()[entryXMinOff:])
}

// entryXMax reads the deleting xid, zero if live.
func entryXMax(di *dm.DataItem) types.XID {
	return binary.LittleEndian.Uint64(di.Data()[entryXMaxOff:])
}

// entryRecord copies the user bytes out of the entry.
func entryRecord(di *dm.DataItem) []byte {
	data := di.Data()[entryRecordOff:]
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// setEntryXMax stamps the deleting xid through the logged update
// protocol.
func setEntryXMax(di *dm.DataItem, xid types.XID) error {
	di.Before()
	binary.LittleEndian.PutUint64(di.Data()[entryXMaxOff:], xid)
	return di.After(xid)
}
