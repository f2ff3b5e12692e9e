package tbm

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/burrowdb/burrow/pkg/dm"
	"github.com/burrowdb/burrow/pkg/log"
	"github.com/burrowdb/burrow/pkg/parser"
	"github.com/burrowdb/burrow/pkg/tm"
	"github.com/burrowdb/burrow/pkg/types"
	"github.com/burrowdb/burrow/pkg/vm"
	"github.com/rs/zerolog"
)

// TableManager is the catalog and statement-execution facade over the
// whole engine stack.
type TableManager interface {
	Begin(level types.IsolationLevel) (types.XID, error)
	Commit(xid types.XID) error
	Abort(xid types.XID) error
	Show() string
	Create(xid types.XID, stmt parser.Create) error
	Drop(xid types.XID, stmt parser.Drop) error
	Insert(xid types.XID, stmt parser.Insert) error
	Read(xid types.XID, stmt parser.Select) (string, error)
	Update(xid types.XID, stmt parser.Update) (int, error)
	Delete(xid types.XID, stmt parser.Delete) (int, error)
	Close() error
}

type tableManager struct {
	tm  tm.Manager
	dm  dm.DataManager
	vm  vm.VersionManager
	bt  *booter
	mem int64

	mu       sync.Mutex
	tables   map[string]*table
	firstUID types.UID

	logger zerolog.Logger
}

// CreateDB initializes a fresh database at path and returns its table
// manager.
func CreateDB(path string, mem int64) (TableManager, error) {
	tmgr, err := tm.Create(path)
	if err != nil {
		return nil, err
	}
	d, err := dm.Create(path, mem, tmgr)
	if err != nil {
		tmgr.Close()
		return nil, err
	}
	bt, err := createBooter(path)
	if err != nil {
		d.Close()
		tmgr.Close()
		return nil, err
	}
	t := newTableManager(tmgr, d, bt)
	return t, nil
}

// OpenDB opens an existing database at path, recovering if needed.
func OpenDB(path string, mem int64) (TableManager, error) {
	tmgr, err := tm.Open(path)
	if err != nil {
		return nil, err
	}
	d, err := dm.Open(path, mem, tmgr)
	if err != nil {
		tmgr.Close()
		return nil, err
	}
	bt, err := openBooter(path)
	if err != nil {
		d.Close()
		tmgr.Close()
		return nil, err
	}
	t := newTableManager(tmgr, d, bt)
	if err := t.loadTables(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func newTableManager(tmgr tm.Manager, d dm.DataManager, bt *booter) *tableManager {
	return &tableManager{
		tm:     tmgr,
		dm:     d,
		vm:     vm.New(tmgr, d),
		bt:     bt,
		tables: make(map[string]*table),
		logger: log.WithComponent("tbm"),
	}
}

// loadTables walks the catalog chain from the booter. The chain is
// followed through raw entries so that dropped tables still link to
// their successors; only live ones are loaded fully.
func (t *tableManager) loadTables() error {
	uid, err := t.bt.load()
	if err != nil {
		return err
	}
	t.firstUID = uid
	for uid != 0 {
		di, err := t.dm.Read(uid)
		if err != nil {
			return err
		}
		if di == nil {
			return fmt.Errorf("catalog entry %d: %w", uid, types.ErrNullEntry)
		}
		_, xmax, record := vm.ReadEntry(di)
		di.Release()

		dropped := false
		if xmax != 0 {
			dropped, err = t.tm.IsCommitted(xmax)
			if err != nil {
				return err
			}
		}
		if dropped {
			uid = nextTableUID(record)
			continue
		}
		tb, err := loadTable(t, uid, record)
		if err != nil {
			return err
		}
		t.tables[tb.name] = tb
		t.logger.Debug().Str("table", tb.name).Msg("loaded")
		uid = tb.nextUID
	}
	t.logger.Info().Int("tables", len(t.tables)).Msg("catalog loaded")
	return nil
}

// nextTableUID reads just the chain link out of a table record.
func nextTableUID(record []byte) types.UID {
	n := binary.LittleEndian.Uint32(record)
	return binary.LittleEndian.Uint64(record[4+n:])
}

func (t *tableManager) Begin(level types.IsolationLevel) (types.XID, error) {
	return t.vm.Begin(level)
}

func (t *tableManager) Commit(xid types.XID) error {
	return t.vm.Commit(xid)
}

func (t *tableManager) Abort(xid types.XID) error {
	return t.vm.Abort(xid)
}

func (t *tableManager) Show() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.tables))
	for name := range t.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(t.tables[name].describe())
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (t *tableManager) Create(xid types.XID, stmt parser.Create) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tables[stmt.Table]; ok {
		return fmt.Errorf("table %q: %w", stmt.Table, types.ErrDuplicatedTable)
	}
	tb, err := createTable(t, stmt, t.firstUID)
	if err != nil {
		return err
	}
	if err := t.bt.update(tb.uid); err != nil {
		return err
	}
	t.firstUID = tb.uid
	t.tables[tb.name] = tb
	t.logger.Info().Str("table", tb.name).Uint64("xid", xid).Msg("created")
	return nil
}

func (t *tableManager) Drop(xid types.XID, stmt parser.Drop) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tb, ok := t.tables[stmt.Table]
	if !ok {
		return fmt.Errorf("table %q: %w", stmt.Table, types.ErrTableNotFound)
	}
	ok, err := t.vm.Delete(xid, tb.uid)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("table %q: %w", stmt.Table, types.ErrTableNotFound)
	}
	delete(t.tables, stmt.Table)
	tb.close()
	t.logger.Info().Str("table", stmt.Table).Uint64("xid", xid).Msg("dropped")
	return nil
}

func (t *tableManager) table(name string) (*table, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tb, ok := t.tables[name]
	if !ok {
		return nil, fmt.Errorf("table %q: %w", name, types.ErrTableNotFound)
	}
	return tb, nil
}

func (t *tableManager) Insert(xid types.XID, stmt parser.Insert) error {
	tb, err := t.table(stmt.Table)
	if err != nil {
		return err
	}
	return tb.insert(xid, stmt)
}

func (t *tableManager) Read(xid types.XID, stmt parser.Select) (string, error) {
	tb, err := t.table(stmt.Table)
	if err != nil {
		return "", err
	}
	return tb.read(xid, stmt)
}

func (t *tableManager) Update(xid types.XID, stmt parser.Update) (int, error) {
	tb, err := t.table(stmt.Table)
	if err != nil {
		return 0, err
	}
	return tb.update(xid, stmt)
}

func (t *tableManager) Delete(xid types.XID, stmt parser.Delete) (int, error) {
	tb, err := t.table(stmt.Table)
	if err != nil {
		return 0, err
	}
	return tb.delete(xid, stmt)
}

func (t *tableManager) Close() error {
	t.mu.Lock()
	for _, tb := range t.tables {
		tb.close()
	}
	t.tables = map[string]*table{}
	t.mu.Unlock()
	if err := t.dm.Close(); err != nil {
		return err
	}
	return t.tm.Close()
}
