package client

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/burrowdb/burrow/pkg/log"
	"github.com/burrowdb/burrow/pkg/server"
	"github.com/burrowdb/burrow/pkg/tbm"
	"github.com/burrowdb/burrow/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

func TestShellQuitAndStatements(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test")
	mgr, err := tbm.CreateDB(path, 256*types.PageSize)
	if err != nil {
		t.Fatalf("create db: %v", err)
	}
	defer mgr.Close()

	srv := server.New("127.0.0.1:0", mgr)
	defer srv.Close()
	go srv.ListenAndServe()

	addr := waitForAddr(t, srv)

	c, err := Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	in := strings.NewReader("create table t x int64 (index x)\ninsert into t values 3\nselect x from t where x = 3\nquit\n")
	var out, errOut bytes.Buffer
	if err := Shell(c, in, &out, &errOut); err != nil {
		t.Fatalf("shell: %v", err)
	}
	c.Close()

	if !strings.Contains(out.String(), "create t") {
		t.Errorf("missing create response: %q", out.String())
	}
	if !strings.Contains(out.String(), "3") {
		t.Errorf("missing select result: %q", out.String())
	}
	if errOut.Len() != 0 {
		t.Errorf("unexpected errors: %q", errOut.String())
	}
}

func TestShellPrintsErrorsAndContinues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test")
	mgr, err := tbm.CreateDB(path, 256*types.PageSize)
	if err != nil {
		t.Fatalf("create db: %v", err)
	}
	defer mgr.Close()

	srv := server.New("127.0.0.1:0", mgr)
	defer srv.Close()
	go srv.ListenAndServe()

	addr := waitForAddr(t, srv)
	c, err := Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	in := strings.NewReader("select * from nope\nshow\nexit\n")
	var out, errOut bytes.Buffer
	if err := Shell(c, in, &out, &errOut); err != nil {
		t.Fatalf("shell: %v", err)
	}
	if !strings.Contains(errOut.String(), "table") {
		t.Errorf("error not surfaced: %q", errOut.String())
	}
}

func waitForAddr(t *testing.T, srv *server.Server) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if addr := srv.Addr(); addr != "" {
			return addr
		}
		if time.Now().After(deadline) {
			t.Fatal("server never listened")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
