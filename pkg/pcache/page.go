package pcache

import (
	"sync"

	"github.com/burrowdb/burrow/pkg/types"
)

// Page is a pinned handle on one cached page. All mutations of Data
// happen under Lock and must mark the page dirty so write-back sees
// them.
type Page struct {
	mu    sync.Mutex
	pgno  types.PageNo
	data  []byte
	dirty bool
	pc    *pageCache
}

// PageNo returns the page's 1-based number.
func (p *Page) PageNo() types.PageNo { return p.pgno }

// Data returns the page's 8 KiB buffer. Mutate only under Lock.
func (p *Page) Data() []byte { return p.data }

// Lock acquires the per-page mutex.
func (p *Page) Lock() { p.mu.Lock() }

// Unlock releases the per-page mutex.
func (p *Page) Unlock() { p.mu.Unlock() }

// SetDirty marks the page for write-back. Call while holding Lock.
func (p *Page) SetDirty() { p.dirty = true }

// Dirty reports whether the page has unwritten changes.
func (p *Page) Dirty() bool { return p.dirty }

// Release drops the caller's pin.
func (p *Page) Release() { p.pc.Release(p) }
