package dm

import (
	"encoding/binary"

	"github.com/burrowdb/burrow/pkg/types"
)

// Log record bodies. The first byte discriminates:
//
//	insert: [0 | xid(8) | pgno(4) | off(2) | wrappedItem...]
//	update: [1 | xid(8) | uid(8) | oldPayload | newPayload]
//
// For updates both payloads have the same length, (len-17)/2.
const (
	logInsert byte = 0
	logUpdate byte = 1

	insertHdrLen = 1 + 8 + 4 + 2
	updateHdrLen = 1 + 8 + 8
)

type insertLog struct {
	xid  types.XID
	pgno types.PageNo
	off  uint16
	raw  []byte
}

type updateLog struct {
	xid        types.XID
	uid        types.UID
	oldPayload []byte
	newPayload []byte
}

func encodeInsertLog(xid types.XID, pgno types.PageNo, off uint16, raw []byte) []byte {
	body := make([]byte, insertHdrLen+len(raw))
	body[0] = logInsert
	binary.LittleEndian.PutUint64(body[1:], xid)
	binary.LittleEndian.PutUint32(body[9:], pgno)
	binary.LittleEndian.PutUint16(body[13:], off)
	copy(body[insertHdrLen:], raw)
	return body
}

func decodeInsertLog(body []byte) insertLog {
	return insertLog{
		xid:  binary.LittleEndian.Uint64(body[1:]),
		pgno: binary.LittleEndian.Uint32(body[9:]),
		off:  binary.LittleEndian.Uint16(body[13:]),
		raw:  body[insertHdrLen:],
	}
}

func encodeUpdateLog(xid types.XID, uid types.UID, oldPayload, newPayload []byte) []byte {
	body := make([]byte, updateHdrLen+len(oldPayload)+len(newPayload))
	body[0] = logUpdate
	binary.LittleEndian.PutUint64(body[1:], xid)
	binary.LittleEndian.PutUint64(body[9:], uid)
	copy(body[updateHdrLen:], oldPayload)
	copy(body[updateHdrLen+len(oldPayload):], newPayload)
	return body
}

func decodeUpdateLog(body []byte) updateLog {
	n := (len(body) - updateHdrLen) / 2
	return updateLog{
		xid:        binary.LittleEndian.Uint64(body[1:]),
		uid:        binary.LittleEndian.Uint64(body[9:]),
		oldPayload: body[updateHdrLen : updateHdrLen+n],
		newPayload: body[updateHdrLen+n:],
	}
}
