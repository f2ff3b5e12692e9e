package integration

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/burrowdb/burrow/pkg/client"
	"github.com/burrowdb/burrow/pkg/log"
	"github.com/burrowdb/burrow/pkg/server"
	"github.com/burrowdb/burrow/pkg/tbm"
	"github.com/burrowdb/burrow/pkg/types"
)

const mem = 512 * types.PageSize

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

func startServer(t *testing.T, path string, create bool) (addr string, shutdown func()) {
	t.Helper()
	var mgr tbm.TableManager
	var err error
	if create {
		mgr, err = tbm.CreateDB(path, mem)
	} else {
		mgr, err = tbm.OpenDB(path, mem)
	}
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	srv := server.New("127.0.0.1:0", mgr)
	go srv.ListenAndServe()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never listened")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return srv.Addr(), func() {
		srv.Close()
		if err := mgr.Close(); err != nil {
			t.Errorf("close db: %v", err)
		}
	}
}

func exec(t *testing.T, c *client.Client, sql string) string {
	t.Helper()
	out, err := c.Execute(sql)
	if err != nil {
		t.Fatalf("%q: %v", sql, err)
	}
	return string(out)
}

// Full stack: create a schema over the wire, write under explicit
// transactions, restart the server, and read everything back.
func TestLifecycleAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	addr, shutdown := startServer(t, path, true)
	c, err := client.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	exec(t, c, "create table accounts owner string, balance int64, id int64 (index id owner)")
	exec(t, c, "begin")
	exec(t, c, `insert into accounts values 'alice' 100 1`)
	exec(t, c, `insert into accounts values 'bob' 250 2`)
	exec(t, c, "commit")

	if out := exec(t, c, "select balance from accounts where id = 2"); strings.TrimSpace(out) != "250" {
		t.Fatalf("balance: %q", out)
	}
	if out := exec(t, c, "update accounts set balance = 80 where owner = 'alice'"); out != "update 1" {
		t.Fatalf("update: %q", out)
	}

	c.Close()
	shutdown()

	// Reopen: clean shutdown, so no recovery; data intact.
	addr, shutdown = startServer(t, path, false)
	defer shutdown()

	c2, err := client.Dial(addr)
	if err != nil {
		t.Fatalf("redial: %v", err)
	}
	defer c2.Close()

	if out := exec(t, c2, "select balance from accounts where id = 1"); strings.TrimSpace(out) != "80" {
		t.Fatalf("updated balance lost across restart: %q", out)
	}
	if out := exec(t, c2, "show"); !strings.Contains(out, "accounts") {
		t.Fatalf("catalog lost: %q", out)
	}
}

// An uncommitted transaction's writes must not survive a crash. The
// crash is simulated by abandoning the server without closing the
// engine, so the close mark is never written and reopen recovers.
func TestCrashRecoveryOverWire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	mgr, err := tbm.CreateDB(path, mem)
	if err != nil {
		t.Fatalf("create db: %v", err)
	}
	srv := server.New("127.0.0.1:0", mgr)
	go srv.ListenAndServe()
	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never listened")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c, err := client.Dial(srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	exec(t, c, "create table t v int64 (index v)")
	exec(t, c, "insert into t values 7") // auto-committed
	exec(t, c, "begin")
	exec(t, c, "insert into t values 8") // never committed
	c.Close()
	srv.Close()
	// Crash: mgr is dropped without Close.

	addr, shutdown := startServer(t, path, false)
	defer shutdown()
	c2, err := client.Dial(addr)
	if err != nil {
		t.Fatalf("redial: %v", err)
	}
	defer c2.Close()

	if out := exec(t, c2, "select v from t where v = 7"); strings.TrimSpace(out) != "7" {
		t.Fatalf("committed row lost in recovery: %q", out)
	}
	if out := exec(t, c2, "select v from t where v = 8"); strings.TrimSpace(out) != "" {
		t.Fatalf("uncommitted row survived recovery: %q", out)
	}
}

// Two sessions forming a lock cycle: the requester that closes it gets
// a deadlock error, the other proceeds.
func TestDeadlockBetweenSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	addr, shutdown := startServer(t, path, true)
	defer shutdown()

	c1, err := client.Dial(addr)
	if err != nil {
		t.Fatalf("dial c1: %v", err)
	}
	defer c1.Close()
	c2, err := client.Dial(addr)
	if err != nil {
		t.Fatalf("dial c2: %v", err)
	}
	defer c2.Close()

	exec(t, c1, "create table r k int64 (index k)")
	exec(t, c1, "insert into r values 1")
	exec(t, c1, "insert into r values 2")

	exec(t, c1, "begin")
	exec(t, c2, "begin")
	exec(t, c1, "delete from r where k = 1")
	exec(t, c2, "delete from r where k = 2")

	// c2 blocks on k=1 behind c1.
	c2done := make(chan error, 1)
	go func() {
		_, err := c2.Execute("delete from r where k = 1")
		c2done <- err
	}()
	time.Sleep(100 * time.Millisecond)

	// c1 closes the cycle and must be the victim.
	_, err = c1.Execute("delete from r where k = 2")
	if err == nil || !strings.Contains(err.Error(), "deadlock") {
		t.Fatalf("expected deadlock error for c1, got %v", err)
	}
	if _, err := c1.Execute("abort"); err != nil {
		t.Fatalf("abort after deadlock: %v", err)
	}

	select {
	case err := <-c2done:
		if err != nil {
			t.Fatalf("c2 delete after victim abort: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("c2 never unblocked")
	}
	if _, err := c2.Execute("commit"); err != nil {
		t.Fatalf("c2 commit: %v", err)
	}
}

// The raw wire format: a type-0 hex line in, a type-0 or type-1 hex
// line out.
func TestWireEcho(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	addr, shutdown := startServer(t, path, true)
	defer shutdown()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	tr := server.NewTransporter(conn)
	if err := tr.Send(server.Encode([]byte("show"), nil)); err != nil {
		t.Fatalf("send: %v", err)
	}
	frame, err := tr.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if frame[0] != 0 {
		t.Fatalf("expected success flag, got %d", frame[0])
	}

	if err := tr.Send(server.Encode([]byte("not sql at all ;;;"), nil)); err != nil {
		t.Fatalf("send: %v", err)
	}
	frame, err = tr.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if frame[0] != 1 {
		t.Fatalf("expected error flag, got %d", frame[0])
	}
}
