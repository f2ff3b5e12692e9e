package dm

import (
	"encoding/binary"
	"fmt"

	"github.com/burrowdb/burrow/pkg/cache"
	"github.com/burrowdb/burrow/pkg/log"
	"github.com/burrowdb/burrow/pkg/pcache"
	"github.com/burrowdb/burrow/pkg/tm"
	"github.com/burrowdb/burrow/pkg/types"
	"github.com/burrowdb/burrow/pkg/wal"
	"github.com/rs/zerolog"
)

// insertRounds is how many times Insert asks the page index for a
// page (creating one on each miss) before giving up.
const insertRounds = 5

// DataManager stores variable-length data items on slotted pages,
// logging every mutation to the write-ahead log before it touches a
// page.
type DataManager interface {
	// Insert stores data under a fresh item and returns its uid.
	Insert(xid types.XID, data []byte) (types.UID, error)
	// Read returns a pinned item handle, or nil if the item has been
	// logically deleted.
	Read(uid types.UID) (*DataItem, error)
	Close() error
}

type dataManager struct {
	pc      pcache.PageCache
	wal     wal.Log
	tm      tm.Manager
	index   *pageIndex
	items   *cache.Cache[types.UID, *DataItem]
	pageOne *pcache.Page
	logger  zerolog.Logger
}

// Create initializes the data file and log for a new database.
func Create(path string, mem int64, t tm.Manager) (DataManager, error) {
	pc, err := pcache.Create(path, mem)
	if err != nil {
		return nil, err
	}
	lg, err := wal.Create(path)
	if err != nil {
		pc.Close()
		return nil, err
	}

	d := newDataManager(pc, lg, t)
	if _, err := pc.NewPage(pcache.MetaInit()); err != nil {
		pc.Close()
		return nil, fmt.Errorf("init metadata page: %w", err)
	}
	if err := d.stampOpen(); err != nil {
		pc.Close()
		return nil, err
	}
	return d, nil
}

// Open opens an existing database, running crash recovery first if the
// metadata page says the last shutdown was not clean.
func Open(path string, mem int64, t tm.Manager) (DataManager, error) {
	pc, err := pcache.Open(path, mem)
	if err != nil {
		return nil, err
	}
	lg, err := wal.Open(path)
	if err != nil {
		pc.Close()
		return nil, err
	}

	d := newDataManager(pc, lg, t)

	p1, err := pc.GetPage(1)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("read metadata page: %w", err)
	}
	clean := pcache.MetaIsClean(p1)
	p1.Release()
	if !clean {
		d.logger.Warn().Msg("unclean shutdown detected, recovering")
		if err := runRecovery(t, lg, pc); err != nil {
			pc.Close()
			return nil, fmt.Errorf("recovery: %w", err)
		}
	}

	if err := d.stampOpen(); err != nil {
		pc.Close()
		return nil, err
	}
	d.fillPageIndex()
	return d, nil
}

func newDataManager(pc pcache.PageCache, lg wal.Log, t tm.Manager) *dataManager {
	d := &dataManager{
		pc:     pc,
		wal:    lg,
		tm:     t,
		index:  newPageIndex(),
		logger: log.WithComponent("dm"),
	}
	d.items = cache.New[types.UID, *DataItem](0, d.loadItem, d.releaseItem)
	return d
}

// stampOpen writes a fresh open mark onto page 1 and keeps the page
// pinned for the manager's lifetime.
func (d *dataManager) stampOpen() error {
	p1, err := d.pc.GetPage(1)
	if err != nil {
		return fmt.Errorf("pin metadata page: %w", err)
	}
	p1.Lock()
	pcache.MetaSetOpen(p1)
	p1.Unlock()
	if err := d.pc.FlushPage(p1); err != nil {
		p1.Release()
		return fmt.Errorf("flush open mark: %w", err)
	}
	d.pageOne = p1
	return nil
}

// fillPageIndex repopulates the free-space index from page headers.
func (d *dataManager) fillPageIndex() {
	for pgno := types.PageNo(2); pgno <= d.pc.PageCount(); pgno++ {
		p, err := d.pc.GetPage(pgno)
		if err != nil {
			d.logger.Error().Err(err).Uint32("pgno", pgno).Msg("skipping page in index fill")
			continue
		}
		d.index.addPage(p)
		p.Release()
	}
}

func (d *dataManager) Insert(xid types.XID, data []byte) (types.UID, error) {
	raw := wrapItem(data)
	if len(raw) > pcache.MaxFreeSpace {
		return 0, fmt.Errorf("%d byte item: %w", len(raw), types.ErrDataTooLarge)
	}

	var info pageInfo
	found := false
	for i := 0; i < insertRounds && !found; i++ {
		info, found = d.index.Select(len(raw))
		if !found {
			pgno, err := d.pc.NewPage(pcache.ItemInit())
			if err != nil {
				return 0, err
			}
			d.index.Add(pgno, pcache.MaxFreeSpace)
		}
	}
	if !found {
		return 0, types.ErrDatabaseBusy
	}

	p, err := d.pc.GetPage(info.pgno)
	if err != nil {
		// The descriptor came out of the index above; put it back so
		// the page is not lost to future inserts.
		d.index.Add(info.pgno, info.free)
		return 0, err
	}
	defer func() {
		d.index.addPage(p)
		p.Release()
	}()

	// Log before touching the page. The caller owns the page
	// exclusively, so the offset read here is the one Insert uses.
	off := pcache.FSO(p)
	if err := d.wal.Append(encodeInsertLog(xid, info.pgno, off, raw)); err != nil {
		return 0, err
	}
	off = pcache.Insert(p, raw)
	return types.NewUID(info.pgno, off), nil
}

func (d *dataManager) Read(uid types.UID) (*DataItem, error) {
	di, err := d.items.Get(uid)
	if err != nil {
		return nil, err
	}
	if !di.Valid() {
		di.Release()
		return nil, nil
	}
	return di, nil
}

// loadItem faults an item handle in: pins the containing page and
// builds a view over the item's bytes.
func (d *dataManager) loadItem(uid types.UID) (*DataItem, error) {
	pgno, off := types.SplitUID(uid)
	p, err := d.pc.GetPage(pgno)
	if err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint16(p.Data()[int(off)+itemSizeOff:])
	return &DataItem{
		uid:  uid,
		page: p,
		off:  off,
		size: size,
		dm:   d,
	}, nil
}

// releaseItem drops the page pin held by a cached item.
func (d *dataManager) releaseItem(uid types.UID, di *DataItem) {
	di.page.Release()
}

func (d *dataManager) Close() error {
	d.items.Close()
	if err := d.wal.Close(); err != nil {
		return err
	}
	d.pageOne.Lock()
	pcache.MetaSetClosed(d.pageOne)
	d.pageOne.Unlock()
	if err := d.pc.FlushPage(d.pageOne); err != nil {
		return err
	}
	d.pageOne.Release()
	return d.pc.Close()
}
