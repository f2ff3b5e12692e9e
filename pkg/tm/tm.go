package tm

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/burrowdb/burrow/pkg/log"
	"github.com/burrowdb/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// Suffix is appended to the database path to form the xid file name.
const Suffix = ".xid"

const (
	headerLen = 8

	statusActive    byte = 0
	statusCommitted byte = 1
	statusAborted   byte = 2
)

// Manager assigns transaction ids and persists their state. The xid
// file is an 8-byte little-endian count of issued xids followed by one
// status byte per xid, indexed by xid-1. Every mutation reaches disk
// before the call returns.
type Manager interface {
	Begin() (types.XID, error)
	Commit(xid types.XID) error
	Abort(xid types.XID) error
	IsActive(xid types.XID) (bool, error)
	IsCommitted(xid types.XID) (bool, error)
	IsAborted(xid types.XID) (bool, error)
	Close() error
}

type manager struct {
	mu      sync.Mutex
	file    *os.File
	counter uint64
	logger  zerolog.Logger
}

// Create initializes a fresh xid file at path+Suffix.
func Create(path string) (Manager, error) {
	name := path + Suffix
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%s: %w", name, types.ErrFileExists)
		}
		return nil, fmt.Errorf("%s: %w", name, types.ErrFileCannotRW)
	}
	var header [headerLen]byte
	if _, err := f.WriteAt(header[:], 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("write xid header: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("sync xid header: %w", err)
	}
	return &manager{file: f, logger: log.WithComponent("tm")}, nil
}

// Open validates and opens an existing xid file. A file whose length
// is shorter than the header claims is corrupt; status bytes beyond
// the recorded count are a torn begin and are cut off (those xids
// were never issued).
func Open(path string) (Manager, error) {
	name := path + Suffix
	f, err := os.OpenFile(name, os.O_RDWR, 0600)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", name, types.ErrFileNotExists)
		}
		return nil, fmt.Errorf("%s: %w", name, types.ErrFileCannotRW)
	}

	m := &manager{file: f, logger: log.WithComponent("tm")}
	if err := m.checkCounter(); err != nil {
		f.Close()
		return nil, err
	}
	return m, nil
}

func (m *manager) checkCounter() error {
	st, err := m.file.Stat()
	if err != nil || st.Size() < headerLen {
		return fmt.Errorf("xid file header: %w", types.ErrBadXIDFile)
	}
	var header [headerLen]byte
	if _, err := m.file.ReadAt(header[:], 0); err != nil {
		return fmt.Errorf("read xid header: %w", types.ErrBadXIDFile)
	}
	m.counter = binary.LittleEndian.Uint64(header[:])

	want := int64(headerLen + m.counter)
	switch {
	case st.Size() < want:
		return fmt.Errorf("xid file truncated below header count: %w", types.ErrBadXIDFile)
	case st.Size() > want:
		// A begin appended its status byte but crashed before the
		// header landed; those xids were never handed out.
		m.logger.Warn().
			Int64("size", st.Size()).
			Uint64("count", m.counter).
			Msg("trimming torn xid tail")
		if err := m.file.Truncate(want); err != nil {
			return fmt.Errorf("trim xid tail: %w", err)
		}
	}
	return nil
}

// Begin issues the next xid as active.
func (m *manager) Begin() (types.XID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	xid := m.counter + 1
	// Status byte first, header count second: a crash between the two
	// leaves a tail byte beyond the count, which Open trims.
	if err := m.writeStatus(xid, statusActive); err != nil {
		return 0, err
	}
	var header [headerLen]byte
	binary.LittleEndian.PutUint64(header[:], xid)
	if _, err := m.file.WriteAt(header[:], 0); err != nil {
		return 0, fmt.Errorf("write xid header: %w", err)
	}
	if err := m.file.Sync(); err != nil {
		return 0, fmt.Errorf("sync xid header: %w", err)
	}
	m.counter = xid
	m.logger.Debug().Uint64("xid", xid).Msg("begin")
	return xid, nil
}

// Commit marks xid committed.
func (m *manager) Commit(xid types.XID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeStatus(xid, statusCommitted)
}

// Abort marks xid aborted.
func (m *manager) Abort(xid types.XID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeStatus(xid, statusAborted)
}

func (m *manager) writeStatus(xid types.XID, status byte) error {
	if _, err := m.file.WriteAt([]byte{status}, int64(headerLen+xid-1)); err != nil {
		return fmt.Errorf("write xid %d status: %w", xid, err)
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("sync xid %d status: %w", xid, err)
	}
	return nil
}

func (m *manager) status(xid types.XID) (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var b [1]byte
	if _, err := m.file.ReadAt(b[:], int64(headerLen+xid-1)); err != nil {
		return 0, fmt.Errorf("read xid %d status: %w", xid, err)
	}
	return b[0], nil
}

func (m *manager) IsActive(xid types.XID) (bool, error) {
	if xid == types.SuperXID {
		return false, nil
	}
	s, err := m.status(xid)
	return s == statusActive, err
}

func (m *manager) IsCommitted(xid types.XID) (bool, error) {
	if xid == types.SuperXID {
		return true, nil
	}
	s, err := m.status(xid)
	return s == statusCommitted, err
}

func (m *manager) IsAborted(xid types.XID) (bool, error) {
	if xid == types.SuperXID {
		return false, nil
	}
	s, err := m.status(xid)
	return s == statusAborted, err
}

// Close closes the xid file.
func (m *manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Close()
}
