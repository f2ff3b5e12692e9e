package tbm

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/burrowdb/burrow/pkg/log"
	"github.com/burrowdb/burrow/pkg/parser"
	"github.com/burrowdb/burrow/pkg/types"
)

const testMem = 256 * types.PageSize

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

func mustParse(t *testing.T, stmt string) parser.Statement {
	t.Helper()
	s, err := parser.Parse(stmt)
	if err != nil {
		t.Fatalf("parse %q: %v", stmt, err)
	}
	return s
}

func newTBM(t *testing.T) (TableManager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test")
	mgr, err := CreateDB(path, testMem)
	if err != nil {
		t.Fatalf("create db: %v", err)
	}
	return mgr, path
}

func createStudents(t *testing.T, mgr TableManager, xid types.XID) {
	t.Helper()
	stmt := mustParse(t, "create table students name string, age int32, id int64 (index id name)").(parser.Create)
	if err := mgr.Create(xid, stmt); err != nil {
		t.Fatalf("create table: %v", err)
	}
}

func TestCreateInsertSelect(t *testing.T) {
	mgr, _ := newTBM(t)
	defer mgr.Close()

	xid, _ := mgr.Begin(types.ReadCommitted)
	createStudents(t, mgr, xid)

	if err := mgr.Insert(xid, mustParse(t, `insert into students values 'alice' 23 1`).(parser.Insert)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mgr.Insert(xid, mustParse(t, `insert into students values 'bob' 25 2`).(parser.Insert)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	out, err := mgr.Read(xid, mustParse(t, "select * from students where id = 1").(parser.Select))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if strings.TrimSpace(out) != "alice\t23\t1" {
		t.Fatalf("select output %q", out)
	}

	out, err = mgr.Read(xid, mustParse(t, "select name from students where id > 0").(parser.Select))
	if err != nil {
		t.Fatalf("select range: %v", err)
	}
	if out != "alice\nbob\n" {
		t.Fatalf("projected output %q", out)
	}
	mgr.Commit(xid)
}

func TestStringIndexLookup(t *testing.T) {
	mgr, _ := newTBM(t)
	defer mgr.Close()

	xid, _ := mgr.Begin(types.ReadCommitted)
	createStudents(t, mgr, xid)
	mgr.Insert(xid, mustParse(t, `insert into students values 'carol' 30 7`).(parser.Insert))

	out, err := mgr.Read(xid, mustParse(t, `select id from students where name = 'carol'`).(parser.Select))
	if err != nil {
		t.Fatalf("select by string key: %v", err)
	}
	if strings.TrimSpace(out) != "7" {
		t.Fatalf("output %q", out)
	}
	mgr.Commit(xid)
}

func TestUpdateRewritesRow(t *testing.T) {
	mgr, _ := newTBM(t)
	defer mgr.Close()

	xid, _ := mgr.Begin(types.ReadCommitted)
	createStudents(t, mgr, xid)
	mgr.Insert(xid, mustParse(t, `insert into students values 'dave' 40 9`).(parser.Insert))

	n, err := mgr.Update(xid, mustParse(t, `update students set age = 41 where id = 9`).(parser.Update))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n != 1 {
		t.Fatalf("updated %d rows", n)
	}

	out, _ := mgr.Read(xid, mustParse(t, "select age from students where id = 9").(parser.Select))
	if strings.TrimSpace(out) != "41" {
		t.Fatalf("age after update %q", out)
	}
	mgr.Commit(xid)
}

func TestDeleteHidesRow(t *testing.T) {
	mgr, _ := newTBM(t)
	defer mgr.Close()

	xid, _ := mgr.Begin(types.ReadCommitted)
	createStudents(t, mgr, xid)
	mgr.Insert(xid, mustParse(t, `insert into students values 'eve' 20 3`).(parser.Insert))
	mgr.Commit(xid)

	xid2, _ := mgr.Begin(types.ReadCommitted)
	n, err := mgr.Delete(xid2, mustParse(t, "delete from students where id = 3").(parser.Delete))
	if err != nil || n != 1 {
		t.Fatalf("delete: n=%d err=%v", n, err)
	}
	mgr.Commit(xid2)

	xid3, _ := mgr.Begin(types.ReadCommitted)
	out, _ := mgr.Read(xid3, mustParse(t, "select * from students where id = 3").(parser.Select))
	if out != "" {
		t.Fatalf("deleted row visible: %q", out)
	}
	mgr.Commit(xid3)
}

// Boundary: a repeatable-read transaction must not see rows committed
// by transactions that began after it.
func TestRepeatableReadSnapshotAtTableLevel(t *testing.T) {
	mgr, _ := newTBM(t)
	defer mgr.Close()

	setup, _ := mgr.Begin(types.ReadCommitted)
	createStudents(t, mgr, setup)
	mgr.Commit(setup)

	rr, _ := mgr.Begin(types.RepeatableRead)

	writer, _ := mgr.Begin(types.ReadCommitted)
	mgr.Insert(writer, mustParse(t, `insert into students values 'frank' 50 5`).(parser.Insert))
	mgr.Commit(writer)

	out, err := mgr.Read(rr, mustParse(t, "select * from students where id = 5").(parser.Select))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if out != "" {
		t.Fatalf("later-committed row visible under repeatable read: %q", out)
	}
	mgr.Commit(rr)
}

func TestWhereCompound(t *testing.T) {
	mgr, _ := newTBM(t)
	defer mgr.Close()

	xid, _ := mgr.Begin(types.ReadCommitted)
	createStudents(t, mgr, xid)
	for i := 1; i <= 9; i++ {
		stmt := mustParse(t, `insert into students values 'p' 1 `+string(rune('0'+i))).(parser.Insert)
		if err := mgr.Insert(xid, stmt); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	out, _ := mgr.Read(xid, mustParse(t, "select id from students where id > 3 and id < 6").(parser.Select))
	if out != "4\n5\n" {
		t.Fatalf("and-range output %q", out)
	}

	out, _ = mgr.Read(xid, mustParse(t, "select id from students where id = 1 or id = 9").(parser.Select))
	if out != "1\n9\n" {
		t.Fatalf("or-range output %q", out)
	}
	mgr.Commit(xid)
}

func TestErrors(t *testing.T) {
	mgr, _ := newTBM(t)
	defer mgr.Close()

	xid, _ := mgr.Begin(types.ReadCommitted)
	createStudents(t, mgr, xid)

	err := mgr.Create(xid, mustParse(t, "create table students f int32").(parser.Create))
	if !errors.Is(err, types.ErrDuplicatedTable) {
		t.Errorf("duplicate create: %v", err)
	}

	_, err = mgr.Read(xid, mustParse(t, "select * from ghosts").(parser.Select))
	if !errors.Is(err, types.ErrTableNotFound) {
		t.Errorf("missing table: %v", err)
	}

	_, err = mgr.Read(xid, mustParse(t, "select * from students where age = 23").(parser.Select))
	if !errors.Is(err, types.ErrFieldNotIndexed) {
		t.Errorf("unindexed where: %v", err)
	}

	err = mgr.Insert(xid, mustParse(t, `insert into students values 'short' 1`).(parser.Insert))
	if !errors.Is(err, types.ErrInvalidValues) {
		t.Errorf("arity mismatch: %v", err)
	}

	err = mgr.Insert(xid, mustParse(t, `insert into students values 'x' notanint 1`).(parser.Insert))
	if !errors.Is(err, types.ErrInvalidValues) {
		t.Errorf("bad literal: %v", err)
	}
	mgr.Commit(xid)
}

func TestCatalogSurvivesReopen(t *testing.T) {
	mgr, path := newTBM(t)

	xid, _ := mgr.Begin(types.ReadCommitted)
	createStudents(t, mgr, xid)
	mgr.Insert(xid, mustParse(t, `insert into students values 'gina' 31 11`).(parser.Insert))
	mgr.Commit(xid)
	if err := mgr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	mgr2, err := OpenDB(path, testMem)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer mgr2.Close()

	if !strings.Contains(mgr2.Show(), "students") {
		t.Fatalf("catalog lost: %q", mgr2.Show())
	}
	xid2, _ := mgr2.Begin(types.ReadCommitted)
	out, err := mgr2.Read(xid2, mustParse(t, "select name from students where id = 11").(parser.Select))
	if err != nil {
		t.Fatalf("select after reopen: %v", err)
	}
	if strings.TrimSpace(out) != "gina" {
		t.Fatalf("row lost across reopen: %q", out)
	}
	mgr2.Commit(xid2)
}

func TestDropTable(t *testing.T) {
	mgr, path := newTBM(t)

	xid, _ := mgr.Begin(types.ReadCommitted)
	createStudents(t, mgr, xid)
	mgr.Commit(xid)

	xid2, _ := mgr.Begin(types.ReadCommitted)
	if err := mgr.Drop(xid2, mustParse(t, "drop table students").(parser.Drop)); err != nil {
		t.Fatalf("drop: %v", err)
	}
	mgr.Commit(xid2)

	if strings.Contains(mgr.Show(), "students") {
		t.Fatal("dropped table still shown")
	}
	mgr.Close()

	// The drop is durable across restart.
	mgr2, err := OpenDB(path, testMem)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer mgr2.Close()
	if strings.Contains(mgr2.Show(), "students") {
		t.Fatal("dropped table resurrected on reopen")
	}
}
