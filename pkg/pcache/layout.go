package pcache

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"

	"github.com/burrowdb/burrow/pkg/types"
)

// Page 1 layout: bytes [100,108) hold a random token written at open,
// bytes [108,116) hold its copy written at clean close. Equality at
// open means the last shutdown was clean.
const (
	markOff  = 100
	markLen  = 8
	closeOff = markOff + markLen
)

// Regular page layout: the first two bytes are the free-space offset,
// pointing at the first byte past the last allocated item.
const (
	fsoOff = 0
	// DataOff is where item storage begins on a regular page.
	DataOff = 2
	// MaxFreeSpace is the usable capacity of an empty page.
	MaxFreeSpace = types.PageSize - DataOff
)

// MetaInit returns the initial contents of page 1.
func MetaInit() []byte {
	return make([]byte, types.PageSize)
}

// MetaSetOpen stamps a fresh random open mark on page 1. Call under
// the page lock.
func MetaSetOpen(p *Page) {
	rand.Read(p.data[markOff : markOff+markLen])
	p.dirty = true
}

// MetaSetClosed copies the open mark into the close slot, recording a
// clean shutdown.
func MetaSetClosed(p *Page) {
	copy(p.data[closeOff:closeOff+markLen], p.data[markOff:markOff+markLen])
	p.dirty = true
}

// MetaIsClean reports whether the open and close marks agree.
func MetaIsClean(p *Page) bool {
	return bytes.Equal(
		p.data[markOff:markOff+markLen],
		p.data[closeOff:closeOff+markLen],
	)
}

// ItemInit returns the initial contents of a regular page: empty item
// area, FSO pointing just past the header.
func ItemInit() []byte {
	data := make([]byte, types.PageSize)
	binary.LittleEndian.PutUint16(data[fsoOff:], DataOff)
	return data
}

// FSO reads the page's free-space offset.
func FSO(p *Page) uint16 {
	return binary.LittleEndian.Uint16(p.data[fsoOff:])
}

func setFSO(p *Page, fso uint16) {
	binary.LittleEndian.PutUint16(p.data[fsoOff:], fso)
}

// FreeSpace reports how many bytes remain unallocated on the page.
func FreeSpace(p *Page) int {
	return types.PageSize - int(FSO(p))
}

// Insert appends raw at the page's free-space offset and returns the
// item's in-page offset. The caller guarantees raw fits.
func Insert(p *Page, raw []byte) uint16 {
	p.Lock()
	defer p.Unlock()
	p.dirty = true
	off := FSO(p)
	copy(p.data[off:], raw)
	setFSO(p, off+uint16(len(raw)))
	return off
}

// RecoverInsert reapplies an insert at a recorded offset during
// recovery. The free-space offset is raised only if the item extends
// past it; replay never lowers it.
func RecoverInsert(p *Page, raw []byte, off uint16) {
	p.Lock()
	defer p.Unlock()
	p.dirty = true
	copy(p.data[off:], raw)
	if end := off + uint16(len(raw)); end > FSO(p) {
		setFSO(p, end)
	}
}

// RecoverUpdate reapplies an in-place overwrite at a recorded offset
// during recovery. FSO is untouched.
func RecoverUpdate(p *Page, raw []byte, off uint16) {
	p.Lock()
	defer p.Unlock()
	p.dirty = true
	copy(p.data[off:], raw)
}
