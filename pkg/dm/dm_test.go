package dm

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/burrowdb/burrow/pkg/log"
	"github.com/burrowdb/burrow/pkg/pcache"
	"github.com/burrowdb/burrow/pkg/tm"
	"github.com/burrowdb/burrow/pkg/types"
)

const testMem = 64 * types.PageSize

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

func newDM(t *testing.T) (DataManager, tm.Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test")
	tmgr, err := tm.Create(path)
	if err != nil {
		t.Fatalf("create tm: %v", err)
	}
	d, err := Create(path, testMem, tmgr)
	if err != nil {
		t.Fatalf("create dm: %v", err)
	}
	return d, tmgr, path
}

func TestInsertReadRoundTrip(t *testing.T) {
	d, tmgr, _ := newDM(t)
	defer func() { d.Close(); tmgr.Close() }()

	xid, _ := tmgr.Begin()
	payload := []byte("hello, slotted world")
	uid, err := d.Insert(xid, payload)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	di, err := d.Read(uid)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if di == nil {
		t.Fatal("item missing")
	}
	if !bytes.Equal(di.Data(), payload) {
		t.Fatalf("payload mismatch: %q", di.Data())
	}
	di.Release()
}

func TestInsertSizeBoundary(t *testing.T) {
	d, tmgr, _ := newDM(t)
	defer func() { d.Close(); tmgr.Close() }()

	xid, _ := tmgr.Begin()

	// Largest payload whose wrapped item fits an empty page.
	big := make([]byte, MaxItemPayload)
	if _, err := d.Insert(xid, big); err != nil {
		t.Fatalf("max payload rejected: %v", err)
	}

	tooBig := make([]byte, MaxItemPayload+1)
	if _, err := d.Insert(xid, tooBig); !errors.Is(err, types.ErrDataTooLarge) {
		t.Fatalf("expected ErrDataTooLarge, got %v", err)
	}
}

func TestUpdateThroughItemProtocol(t *testing.T) {
	d, tmgr, _ := newDM(t)
	defer func() { d.Close(); tmgr.Close() }()

	xid, _ := tmgr.Begin()
	uid, _ := d.Insert(xid, []byte("aaaa"))

	di, _ := d.Read(uid)
	di.Before()
	copy(di.Data(), "bbbb")
	if err := di.After(xid); err != nil {
		t.Fatalf("after: %v", err)
	}
	di.Release()

	di2, _ := d.Read(uid)
	defer di2.Release()
	if !bytes.Equal(di2.Data(), []byte("bbbb")) {
		t.Fatalf("update lost: %q", di2.Data())
	}
}

func TestUnBeforeRestores(t *testing.T) {
	d, tmgr, _ := newDM(t)
	defer func() { d.Close(); tmgr.Close() }()

	xid, _ := tmgr.Begin()
	uid, _ := d.Insert(xid, []byte("keep"))

	di, _ := d.Read(uid)
	di.Before()
	copy(di.Data(), "lose")
	di.UnBefore()
	if !bytes.Equal(di.Data(), []byte("keep")) {
		t.Fatalf("rollback lost: %q", di.Data())
	}
	di.Release()
}

func TestCleanReopenKeepsData(t *testing.T) {
	d, tmgr, path := newDM(t)

	xid, _ := tmgr.Begin()
	uid, _ := d.Insert(xid, []byte("durable"))
	tmgr.Commit(xid)

	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	tmgr.Close()

	tmgr2, err := tm.Open(path)
	if err != nil {
		t.Fatalf("reopen tm: %v", err)
	}
	d2, err := Open(path, testMem, tmgr2)
	if err != nil {
		t.Fatalf("reopen dm: %v", err)
	}
	defer func() { d2.Close(); tmgr2.Close() }()

	di, err := d2.Read(uid)
	if err != nil || di == nil {
		t.Fatalf("read after reopen: item=%v err=%v", di, err)
	}
	if !bytes.Equal(di.Data(), []byte("durable")) {
		t.Fatalf("payload lost: %q", di.Data())
	}
	di.Release()
}

// Crash before commit: recovery must re-apply the logged insert, then
// undo it (the transaction never finished), leaving the item deleted
// and the transaction aborted.
func TestRecoveryUndoesCrashedInsert(t *testing.T) {
	d, tmgr, path := newDM(t)

	xid, _ := tmgr.Begin()
	uid, _ := d.Insert(xid, []byte("never committed"))

	// Crash: no Close, so the close mark is never written.
	tmgr.Close()

	tmgr2, err := tm.Open(path)
	if err != nil {
		t.Fatalf("reopen tm: %v", err)
	}
	d2, err := Open(path, testMem, tmgr2)
	if err != nil {
		t.Fatalf("recovery open: %v", err)
	}
	defer func() { d2.Close(); tmgr2.Close(); _ = d }()

	di, err := d2.Read(uid)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if di != nil {
		di.Release()
		t.Fatal("uncommitted insert visible after recovery")
	}
	if aborted, _ := tmgr2.IsAborted(xid); !aborted {
		t.Fatal("crashed transaction not marked aborted")
	}
}

// Crash after commit: recovery must preserve the committed insert.
func TestRecoveryKeepsCommittedInsert(t *testing.T) {
	d, tmgr, path := newDM(t)

	xid, _ := tmgr.Begin()
	uid, _ := d.Insert(xid, []byte("committed"))
	tmgr.Commit(xid)
	tmgr.Close()

	tmgr2, _ := tm.Open(path)
	d2, err := Open(path, testMem, tmgr2)
	if err != nil {
		t.Fatalf("recovery open: %v", err)
	}
	defer func() { d2.Close(); tmgr2.Close(); _ = d }()

	di, err := d2.Read(uid)
	if err != nil || di == nil {
		t.Fatalf("committed item lost: item=%v err=%v", di, err)
	}
	if !bytes.Equal(di.Data(), []byte("committed")) {
		t.Fatalf("payload mismatch: %q", di.Data())
	}
	di.Release()
}

// Crash with a logged update from an unfinished transaction: UNDO must
// restore the old payload.
func TestRecoveryUndoesCrashedUpdate(t *testing.T) {
	d, tmgr, path := newDM(t)

	setup, _ := tmgr.Begin()
	uid, _ := d.Insert(setup, []byte("old!"))
	tmgr.Commit(setup)

	xid, _ := tmgr.Begin()
	di, _ := d.Read(uid)
	di.Before()
	copy(di.Data(), "new!")
	di.After(xid)
	di.Release()
	tmgr.Close()

	tmgr2, _ := tm.Open(path)
	d2, err := Open(path, testMem, tmgr2)
	if err != nil {
		t.Fatalf("recovery open: %v", err)
	}
	defer func() { d2.Close(); tmgr2.Close(); _ = d }()

	di2, err := d2.Read(uid)
	if err != nil || di2 == nil {
		t.Fatalf("item lost: %v", err)
	}
	defer di2.Release()
	if !bytes.Equal(di2.Data(), []byte("old!")) {
		t.Fatalf("undo failed, payload %q", di2.Data())
	}
}

func TestPageIndexSelectHonorsNeed(t *testing.T) {
	pi := newPageIndex()
	pi.Add(2, 100)
	pi.Add(3, pcache.MaxFreeSpace)

	info, ok := pi.Select(500)
	if !ok {
		t.Fatal("no page selected")
	}
	if info.pgno != 3 {
		t.Fatalf("selected page %d with insufficient space", info.pgno)
	}
	// The descriptor is removed until re-added.
	if _, ok := pi.Select(500); ok {
		t.Fatal("descriptor not removed by select")
	}
	pi.Add(3, pcache.MaxFreeSpace-500)
	if _, ok := pi.Select(500); !ok {
		t.Fatal("re-added page not selectable")
	}
}

// A fresh page must be selectable for a wrapped item that fills it
// exactly, and a near-full bucket neighbor with less room must not be
// handed out in its place.
func TestPageIndexSelectMaxSize(t *testing.T) {
	pi := newPageIndex()
	pi.Add(4, pcache.MaxFreeSpace-10)
	pi.Add(5, pcache.MaxFreeSpace)

	info, ok := pi.Select(pcache.MaxFreeSpace)
	if !ok {
		t.Fatal("max-size select found no page")
	}
	if info.pgno != 5 {
		t.Fatalf("selected page %d with %d free", info.pgno, info.free)
	}
	if _, ok := pi.Select(pcache.MaxFreeSpace); ok {
		t.Fatal("no remaining page can hold a max-size item")
	}
	// The smaller same-bucket page is still there for smaller needs.
	if info, ok := pi.Select(100); !ok || info.pgno != 4 {
		t.Fatalf("smaller page lost: ok=%v info=%+v", ok, info)
	}
}
