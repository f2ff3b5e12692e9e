package tbm

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/burrowdb/burrow/pkg/types"
)

// Booter suffixes.
const (
	booterSuffix    = ".bt"
	booterTmpSuffix = ".bt_tmp"
)

// booter holds the eight-byte uid of the first catalog entry. Updates
// go through a temp file, fsync and rename, so the pointer is replaced
// atomically or not at all.
type booter struct {
	mu   sync.Mutex
	path string
}

func createBooter(path string) (*booter, error) {
	b := &booter{path: path}
	name := path + booterSuffix
	if _, err := os.Stat(name); err == nil {
		return nil, fmt.Errorf("%s: %w", name, types.ErrFileExists)
	}
	os.Remove(path + booterTmpSuffix)
	if err := b.update(0); err != nil {
		return nil, err
	}
	return b, nil
}

func openBooter(path string) (*booter, error) {
	name := path + booterSuffix
	if _, err := os.Stat(name); err != nil {
		return nil, fmt.Errorf("%s: %w", name, types.ErrFileNotExists)
	}
	// A leftover temp file is a crashed update that never renamed;
	// the real file is still the authoritative pointer.
	os.Remove(path + booterTmpSuffix)
	return &booter{path: path}, nil
}

// load reads the first-table uid.
func (b *booter) load() (types.UID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, err := os.ReadFile(b.path + booterSuffix)
	if err != nil {
		return 0, fmt.Errorf("read booter: %w", err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("booter is %d bytes: %w", len(raw), types.ErrInvalidPkgData)
	}
	return binary.LittleEndian.Uint64(raw), nil
}

// update atomically rewrites the first-table uid.
func (b *booter) update(uid types.UID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tmp := b.path + booterTmpSuffix
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create booter temp: %w", err)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uid)
	if _, err := f.Write(buf[:]); err != nil {
		f.Close()
		return fmt.Errorf("write booter temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync booter temp: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, b.path+booterSuffix); err != nil {
		return fmt.Errorf("swap booter: %w", err)
	}
	return nil
}
