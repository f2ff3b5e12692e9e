package tbm

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/burrowdb/burrow/pkg/im"
	"github.com/burrowdb/burrow/pkg/types"
)

// Field types.
const (
	typeInt32  = "int32"
	typeInt64  = "int64"
	typeString = "string"
)

var fieldTypeCodes = map[string]byte{typeInt32: 0, typeInt64: 1, typeString: 2}
var fieldTypeNames = map[byte]string{0: typeInt32, 1: typeInt64, 2: typeString}

// field is one column of a table. Its catalog record is
// [nameLen(4) | name | type(1) | indexBoot(8)]; a zero indexBoot means
// the column is not indexed.
type field struct {
	tbm   *tableManager
	uid   types.UID
	name  string
	ftype string
	tree  *im.Tree // nil when not indexed
}

// createField persists a field record, creating its index first when
// asked.
func createField(t *tableManager, name, ftype string, indexed bool) (*field, error) {
	if _, ok := fieldTypeCodes[ftype]; !ok {
		return nil, fmt.Errorf("type %q: %w", ftype, types.ErrInvalidField)
	}
	f := &field{tbm: t, name: name, ftype: ftype}

	var boot types.UID
	if indexed {
		var err error
		boot, err = im.Create(t.dm)
		if err != nil {
			return nil, err
		}
		f.tree, err = im.Load(boot, t.dm)
		if err != nil {
			return nil, err
		}
	}

	raw := make([]byte, 4+len(name)+1+8)
	binary.LittleEndian.PutUint32(raw, uint32(len(name)))
	copy(raw[4:], name)
	raw[4+len(name)] = fieldTypeCodes[ftype]
	binary.LittleEndian.PutUint64(raw[4+len(name)+1:], boot)

	uid, err := t.vm.Insert(types.SuperXID, raw)
	if err != nil {
		return nil, err
	}
	f.uid = uid
	return f, nil
}

// loadField reads a field record back.
func loadField(t *tableManager, uid types.UID) (*field, error) {
	raw, err := t.vm.Read(types.SuperXID, uid)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("field %d: %w", uid, types.ErrNullEntry)
	}
	n := binary.LittleEndian.Uint32(raw)
	f := &field{
		tbm:   t,
		uid:   uid,
		name:  string(raw[4 : 4+n]),
		ftype: fieldTypeNames[raw[4+n]],
	}
	if boot := binary.LittleEndian.Uint64(raw[4+n+1:]); boot != 0 {
		f.tree, err = im.Load(boot, t.dm)
		if err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *field) indexed() bool { return f.tree != nil }

func (f *field) close() {
	if f.tree != nil {
		f.tree.Close()
	}
}

// parse converts a literal into the field's runtime value.
func (f *field) parse(literal string) (any, error) {
	switch f.ftype {
	case typeInt32:
		v, err := strconv.ParseInt(literal, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%q as int32: %w", literal, types.ErrInvalidValues)
		}
		return int32(v), nil
	case typeInt64:
		v, err := strconv.ParseInt(literal, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q as int64: %w", literal, types.ErrInvalidValues)
		}
		return v, nil
	default:
		return literal, nil
	}
}

// encode appends the value's row encoding: fixed-width for ints,
// length-prefixed for strings.
func (f *field) encode(dst []byte, v any) []byte {
	switch f.ftype {
	case typeInt32:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(v.(int32)))
		return append(dst, buf[:]...)
	case typeInt64:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v.(int64)))
		return append(dst, buf[:]...)
	default:
		s := v.(string)
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(len(s)))
		dst = append(dst, buf[:]...)
		return append(dst, s...)
	}
}

// decode reads the value back and returns how many bytes it took.
func (f *field) decode(raw []byte) (any, int) {
	switch f.ftype {
	case typeInt32:
		return int32(binary.LittleEndian.Uint32(raw)), 4
	case typeInt64:
		return int64(binary.LittleEndian.Uint64(raw)), 8
	default:
		n := binary.LittleEndian.Uint32(raw)
		return string(raw[4 : 4+n]), int(4 + n)
	}
}

// key maps a value onto the index key space: ints keep their value,
// strings hash with the same rolling multiplier the log checksums use.
func (f *field) key(v any) int64 {
	switch f.ftype {
	case typeInt32:
		return int64(v.(int32))
	case typeInt64:
		return v.(int64)
	default:
		const seed = 13331
		var h uint64
		for _, b := range []byte(v.(string)) {
			h = h*seed + uint64(b)
		}
		return int64(h)
	}
}

// format renders a value for result sets.
func (f *field) format(v any) string {
	switch f.ftype {
	case typeInt32:
		return strconv.FormatInt(int64(v.(int32)), 10)
	case typeInt64:
		return strconv.FormatInt(v.(int64), 10)
	default:
		return v.(string)
	}
}
