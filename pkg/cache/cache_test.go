package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/burrowdb/burrow/pkg/types"
)

func TestGetFaultsOnce(t *testing.T) {
	var loads int32
	c := New[int, string](0, func(key int) (string, error) {
		atomic.AddInt32(&loads, 1)
		return "v", nil
	}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(7)
			if err != nil {
				t.Errorf("get: %v", err)
			}
			if v != "v" {
				t.Errorf("got %q", v)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&loads); n != 1 {
		t.Errorf("expected 1 load, got %d", n)
	}
}

func TestReleaseEvictsAtZero(t *testing.T) {
	released := 0
	c := New[int, int](0, func(key int) (int, error) {
		return key * 10, nil
	}, func(key, v int) {
		released++
	})

	if _, err := c.Get(1); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := c.Get(1); err != nil {
		t.Fatalf("get again: %v", err)
	}

	c.Release(1)
	if released != 0 {
		t.Fatal("released while still pinned")
	}
	c.Release(1)
	if released != 1 {
		t.Fatalf("expected 1 release, got %d", released)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", c.Len())
	}
}

func TestCacheFull(t *testing.T) {
	c := New[int, int](2, func(key int) (int, error) {
		return key, nil
	}, nil)

	for k := 0; k < 2; k++ {
		if _, err := c.Get(k); err != nil {
			t.Fatalf("get %d: %v", k, err)
		}
	}
	_, err := c.Get(99)
	if !errors.Is(err, types.ErrCacheFull) {
		t.Fatalf("expected ErrCacheFull, got %v", err)
	}

	// Unpinning makes room again.
	c.Release(0)
	if _, err := c.Get(99); err != nil {
		t.Fatalf("get after release: %v", err)
	}
}

func TestLoadErrorDoesNotLeakSlot(t *testing.T) {
	fail := true
	c := New[int, int](1, func(key int) (int, error) {
		if fail {
			return 0, errors.New("disk gone")
		}
		return key, nil
	}, nil)

	if _, err := c.Get(1); err == nil {
		t.Fatal("expected load error")
	}
	fail = false
	if _, err := c.Get(1); err != nil {
		t.Fatalf("slot leaked by failed load: %v", err)
	}
}

func TestCloseReleasesAll(t *testing.T) {
	released := make(map[int]bool)
	c := New[int, int](0, func(key int) (int, error) {
		return key, nil
	}, func(key, v int) {
		released[key] = true
	})

	for k := 1; k <= 3; k++ {
		if _, err := c.Get(k); err != nil {
			t.Fatalf("get %d: %v", k, err)
		}
	}
	c.Close()

	for k := 1; k <= 3; k++ {
		if !released[k] {
			t.Errorf("key %d not released on close", k)
		}
	}
}
