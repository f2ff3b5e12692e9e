package pcache

import (
	"fmt"
	"os"
	"sync"

	"github.com/burrowdb/burrow/pkg/cache"
	"github.com/burrowdb/burrow/pkg/log"
	"github.com/burrowdb/burrow/pkg/metrics"
	"github.com/burrowdb/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// Suffix is appended to the database path to form the data file name.
const Suffix = ".db"

// MinPoolPages is the smallest page pool the cache will run with.
const MinPoolPages = 10

// PageCache translates page numbers to pinned in-memory pages over a
// bounded pool, and owns all data-file I/O.
type PageCache interface {
	// NewPage appends a page initialized with init to the file and
	// returns its number. The new page is written through, not cached.
	NewPage(init []byte) (types.PageNo, error)
	// GetPage returns a pinned handle, faulting from disk if absent.
	GetPage(pgno types.PageNo) (*Page, error)
	// Release drops one pin; the last pin writes a dirty page back.
	Release(p *Page)
	// FlushPage writes the page through regardless of the dirty bit.
	FlushPage(p *Page) error
	// TruncateTo cuts the file to maxPgno pages. Recovery-only, before
	// the cache is populated.
	TruncateTo(maxPgno types.PageNo) error
	// PageCount reports the current number of pages in the file.
	PageCount() types.PageNo
	Close() error
}

type pageCache struct {
	file   *os.File
	fileMu sync.Mutex // serialises seek+read / seek+write on the data file

	mu    sync.Mutex // guards pages (the tail counter)
	pages types.PageNo

	cache  *cache.Cache[types.PageNo, *Page]
	logger zerolog.Logger
}

// Create initializes an empty data file and opens a cache over it.
func Create(path string, mem int64) (PageCache, error) {
	name := path + Suffix
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%s: %w", name, types.ErrFileExists)
		}
		return nil, fmt.Errorf("%s: %w", name, types.ErrFileCannotRW)
	}
	return newPageCache(f, mem)
}

// Open opens an existing data file.
func Open(path string, mem int64) (PageCache, error) {
	name := path + Suffix
	f, err := os.OpenFile(name, os.O_RDWR, 0600)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", name, types.ErrFileNotExists)
		}
		return nil, fmt.Errorf("%s: %w", name, types.ErrFileCannotRW)
	}
	return newPageCache(f, mem)
}

func newPageCache(f *os.File, mem int64) (PageCache, error) {
	limit := int(mem / types.PageSize)
	if limit < MinPoolPages {
		f.Close()
		return nil, fmt.Errorf("page pool of %d pages: %w", limit, types.ErrMemTooSmall)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat data file: %w", err)
	}

	pc := &pageCache{
		file:   f,
		pages:  types.PageNo(st.Size() / types.PageSize),
		logger: log.WithComponent("pcache"),
	}
	pc.cache = cache.New[types.PageNo, *Page](limit, pc.load, pc.writeBack)
	return pc, nil
}

func (pc *pageCache) load(pgno types.PageNo) (*Page, error) {
	p := &Page{pgno: pgno, data: make([]byte, types.PageSize), pc: pc}
	pc.fileMu.Lock()
	_, err := pc.file.ReadAt(p.data, pageOffset(pgno))
	pc.fileMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("read page %d: %w", pgno, err)
	}
	metrics.PageFaults.Inc()
	metrics.PagesCached.Inc()
	return p, nil
}

func (pc *pageCache) writeBack(pgno types.PageNo, p *Page) {
	metrics.PagesCached.Dec()
	if !p.dirty {
		return
	}
	if err := pc.flush(p); err != nil {
		// The WAL already holds the change; recovery replays it.
		pc.logger.Error().Err(err).Uint32("pgno", pgno).Msg("write-back failed")
	}
}

func (pc *pageCache) flush(p *Page) error {
	pc.fileMu.Lock()
	defer pc.fileMu.Unlock()
	if _, err := pc.file.WriteAt(p.data, pageOffset(p.pgno)); err != nil {
		return fmt.Errorf("write page %d: %w", p.pgno, err)
	}
	if err := pc.file.Sync(); err != nil {
		return fmt.Errorf("sync page %d: %w", p.pgno, err)
	}
	p.dirty = false
	metrics.PageWrites.Inc()
	return nil
}

func (pc *pageCache) NewPage(init []byte) (types.PageNo, error) {
	if len(init) != types.PageSize {
		return 0, fmt.Errorf("init is %d bytes, want %d", len(init), types.PageSize)
	}
	pc.mu.Lock()
	pc.pages++
	pgno := pc.pages
	pc.mu.Unlock()

	pc.fileMu.Lock()
	defer pc.fileMu.Unlock()
	if _, err := pc.file.WriteAt(init, pageOffset(pgno)); err != nil {
		return 0, fmt.Errorf("write new page %d: %w", pgno, err)
	}
	if err := pc.file.Sync(); err != nil {
		return 0, fmt.Errorf("sync new page %d: %w", pgno, err)
	}
	return pgno, nil
}

func (pc *pageCache) GetPage(pgno types.PageNo) (*Page, error) {
	return pc.cache.Get(pgno)
}

func (pc *pageCache) Release(p *Page) {
	pc.cache.Release(p.pgno)
}

func (pc *pageCache) FlushPage(p *Page) error {
	return pc.flush(p)
}

func (pc *pageCache) TruncateTo(maxPgno types.PageNo) error {
	pc.fileMu.Lock()
	defer pc.fileMu.Unlock()
	if err := pc.file.Truncate(pageOffset(maxPgno + 1)); err != nil {
		return fmt.Errorf("truncate to %d pages: %w", maxPgno, err)
	}
	pc.mu.Lock()
	pc.pages = maxPgno
	pc.mu.Unlock()
	return nil
}

func (pc *pageCache) PageCount() types.PageNo {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.pages
}

func (pc *pageCache) Close() error {
	pc.cache.Close()
	pc.fileMu.Lock()
	defer pc.fileMu.Unlock()
	if err := pc.file.Sync(); err != nil {
		return fmt.Errorf("sync data file: %w", err)
	}
	return pc.file.Close()
}

func pageOffset(pgno types.PageNo) int64 {
	return int64(pgno-1) * types.PageSize
}
