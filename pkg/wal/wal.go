package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/burrowdb/burrow/pkg/log"
	"github.com/burrowdb/burrow/pkg/metrics"
	"github.com/burrowdb/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// Suffix is appended to the database path to form the log file name.
const Suffix = ".log"

const (
	// checksumSeed is the multiplier of the rolling hash used for both
	// per-record checksums and the whole-log checksum.
	checksumSeed = 13331

	headerLen    = 4 // whole-log checksum
	recHeaderLen = 8 // size(4) + checksum(4)
)

// Log is the append-only write-ahead log. Every Append is durable
// before it returns: the record is written, the whole-log checksum is
// refolded and rewritten, and the file is fsynced.
type Log interface {
	Append(body []byte) error
	Iterator() (*Iterator, error)
	Truncate(size int64) error
	Close() error
}

type walog struct {
	mu        sync.Mutex
	file      *os.File
	size      int64  // current file length
	xchecksum uint32 // running whole-log checksum
	logger    zerolog.Logger
}

// Checksum folds data into a Horner-style rolling hash. Bytes are
// sign-extended before folding so the function matches the on-disk
// format regardless of payload content.
func Checksum(init uint32, data []byte) uint32 {
	h := int32(init)
	for _, b := range data {
		h = h*checksumSeed + int32(int8(b))
	}
	return uint32(h)
}

// Create initializes an empty log at path+Suffix.
func Create(path string) (Log, error) {
	name := path + Suffix
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%s: %w", name, types.ErrFileExists)
		}
		return nil, fmt.Errorf("%s: %w", name, types.ErrFileCannotRW)
	}
	w := &walog{file: f, logger: log.WithComponent("wal")}
	if err := w.writeHeader(0); err != nil {
		f.Close()
		return nil, err
	}
	w.size = headerLen
	return w, nil
}

// Open opens an existing log and verifies it. The stored whole-log
// checksum is recomputed by iterating every record; a mismatch means a
// torn tail, which is truncated away and the header rewritten.
func Open(path string) (Log, error) {
	name := path + Suffix
	f, err := os.OpenFile(name, os.O_RDWR, 0600)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", name, types.ErrFileNotExists)
		}
		return nil, fmt.Errorf("%s: %w", name, types.ErrFileCannotRW)
	}
	w := &walog{file: f, logger: log.WithComponent("wal")}
	if err := w.check(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *walog) check() error {
	st, err := w.file.Stat()
	if err != nil || st.Size() < headerLen {
		return fmt.Errorf("log header: %w", types.ErrBadLogFile)
	}
	var header [headerLen]byte
	if _, err := w.file.ReadAt(header[:], 0); err != nil {
		return fmt.Errorf("read log header: %w", types.ErrBadLogFile)
	}
	stored := binary.LittleEndian.Uint32(header[:])

	w.size = st.Size()
	it := &Iterator{w: w, pos: headerLen}
	var computed uint32
	for {
		body, framed, err := it.next()
		if err != nil {
			return err
		}
		if body == nil {
			break
		}
		computed = Checksum(computed, framed)
	}

	if computed != stored || it.pos != st.Size() {
		// Torn tail: cut at the last good record boundary.
		w.logger.Warn().
			Int64("size", st.Size()).
			Int64("good", it.pos).
			Msg("truncating torn log tail")
		if err := w.file.Truncate(it.pos); err != nil {
			return fmt.Errorf("truncate torn tail: %w", err)
		}
		if err := w.writeHeader(computed); err != nil {
			return err
		}
		w.size = it.pos
	}
	w.xchecksum = computed
	return nil
}

func (w *walog) writeHeader(sum uint32) error {
	var header [headerLen]byte
	binary.LittleEndian.PutUint32(header[:], sum)
	if _, err := w.file.WriteAt(header[:], 0); err != nil {
		return fmt.Errorf("write log header: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync log header: %w", err)
	}
	return nil
}

// Append wraps body into a record, appends it, refolds the whole-log
// checksum and fsyncs.
func (w *walog) Append(body []byte) error {
	framed := make([]byte, recHeaderLen+len(body))
	binary.LittleEndian.PutUint32(framed[0:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(framed[4:8], Checksum(0, body))
	copy(framed[recHeaderLen:], body)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.WriteAt(framed, w.size); err != nil {
		return fmt.Errorf("append log record: %w", err)
	}
	w.size += int64(len(framed))
	w.xchecksum = Checksum(w.xchecksum, framed)
	if err := w.writeHeader(w.xchecksum); err != nil {
		return err
	}
	metrics.WALAppends.Inc()
	metrics.WALBytes.Add(float64(len(framed)))
	return nil
}

// Iterator returns a cursor over record bodies in file order.
func (w *walog) Iterator() (*Iterator, error) {
	return &Iterator{w: w, pos: headerLen}, nil
}

// Truncate cuts the file to size bytes and resets append position.
// Recovery does not call it; cutting to the header also resets the
// whole-log checksum.
func (w *walog) Truncate(size int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if size < headerLen {
		size = headerLen
	}
	if err := w.file.Truncate(size); err != nil {
		return fmt.Errorf("truncate log: %w", err)
	}
	w.size = size
	if size == headerLen {
		w.xchecksum = 0
		return w.writeHeader(0)
	}
	return nil
}

// Close fsyncs and closes the log.
func (w *walog) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}
	return w.file.Close()
}

// Iterator yields record bodies from the start of the log. A record
// that fails validation ends iteration; recovery treats the remainder
// as a torn tail.
type Iterator struct {
	w   *walog
	pos int64
}

// Next returns the next record body, or nil at end of log.
func (it *Iterator) Next() ([]byte, error) {
	body, _, err := it.next()
	return body, err
}

// next returns the body and the full framed bytes of the next record.
// Both are nil at end of log or on any validation failure.
func (it *Iterator) next() (body, framed []byte, err error) {
	if it.pos+recHeaderLen > it.w.size {
		return nil, nil, nil
	}
	var head [recHeaderLen]byte
	if _, err := it.w.file.ReadAt(head[:], it.pos); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read record header: %w", err)
	}
	size := binary.LittleEndian.Uint32(head[0:4])
	if it.pos+recHeaderLen+int64(size) > it.w.size {
		// Declared size overruns the file: torn tail.
		return nil, nil, nil
	}
	framed = make([]byte, recHeaderLen+size)
	if _, err := it.w.file.ReadAt(framed, it.pos); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read record: %w", err)
	}
	body = framed[recHeaderLen:]
	if Checksum(0, body) != binary.LittleEndian.Uint32(head[4:8]) {
		return nil, nil, nil
	}
	it.pos += int64(len(framed))
	return body, framed, nil
}
