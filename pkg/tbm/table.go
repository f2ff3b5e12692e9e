package tbm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/burrowdb/burrow/pkg/parser"
	"github.com/burrowdb/burrow/pkg/types"
)

// table is one catalog entry: [nameLen(4) | name | nextUID(8) |
// nfields(2) | fieldUID(8)*n], stored as a version entry under the
// super transaction. Tables chain newest-first from the booter.
type table struct {
	tbm     *tableManager
	uid     types.UID
	name    string
	nextUID types.UID
	fields  []*field
}

// createTable persists the fields and the table record and returns the
// loaded table. nextUID is the current chain head.
func createTable(t *tableManager, stmt parser.Create, nextUID types.UID) (*table, error) {
	indexed := make(map[string]bool, len(stmt.Indexed))
	for _, name := range stmt.Indexed {
		indexed[name] = true
	}
	tb := &table{tbm: t, name: stmt.Table, nextUID: nextUID}
	for i, name := range stmt.Fields {
		f, err := createField(t, name, stmt.Types[i], indexed[name])
		if err != nil {
			return nil, err
		}
		delete(indexed, name)
		tb.fields = append(tb.fields, f)
	}
	if len(indexed) > 0 {
		for name := range indexed {
			return nil, fmt.Errorf("index %q: %w", name, types.ErrFieldNotFound)
		}
	}

	raw := make([]byte, 4+len(tb.name)+8+2+8*len(tb.fields))
	binary.LittleEndian.PutUint32(raw, uint32(len(tb.name)))
	copy(raw[4:], tb.name)
	p := 4 + len(tb.name)
	binary.LittleEndian.PutUint64(raw[p:], tb.nextUID)
	binary.LittleEndian.PutUint16(raw[p+8:], uint16(len(tb.fields)))
	for i, f := range tb.fields {
		binary.LittleEndian.PutUint64(raw[p+10+8*i:], f.uid)
	}

	uid, err := t.vm.Insert(types.SuperXID, raw)
	if err != nil {
		return nil, err
	}
	tb.uid = uid
	return tb, nil
}

// loadTable rebuilds a table from its record bytes.
func loadTable(t *tableManager, uid types.UID, raw []byte) (*table, error) {
	n := binary.LittleEndian.Uint32(raw)
	tb := &table{tbm: t, uid: uid, name: string(raw[4 : 4+n])}
	p := int(4 + n)
	tb.nextUID = binary.LittleEndian.Uint64(raw[p:])
	nfields := int(binary.LittleEndian.Uint16(raw[p+8:]))
	for i := 0; i < nfields; i++ {
		fuid := binary.LittleEndian.Uint64(raw[p+10+8*i:])
		f, err := loadField(t, fuid)
		if err != nil {
			return nil, err
		}
		tb.fields = append(tb.fields, f)
	}
	return tb, nil
}

func (tb *table) close() {
	for _, f := range tb.fields {
		f.close()
	}
}

func (tb *table) fieldByName(name string) *field {
	for _, f := range tb.fields {
		if f.name == name {
			return f
		}
	}
	return nil
}

// describe renders the table for show output.
func (tb *table) describe() string {
	var sb strings.Builder
	sb.WriteString(tb.name)
	sb.WriteString(" (")
	for i, f := range tb.fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.name)
		sb.WriteByte(' ')
		sb.WriteString(f.ftype)
		if f.indexed() {
			sb.WriteString(" index")
		}
	}
	sb.WriteString(")")
	return sb.String()
}

// parseRow converts literals into one value per field.
func (tb *table) parseRow(literals []string) ([]any, error) {
	if len(literals) != len(tb.fields) {
		return nil, fmt.Errorf("%d values for %d fields: %w",
			len(literals), len(tb.fields), types.ErrInvalidValues)
	}
	row := make([]any, len(tb.fields))
	for i, f := range tb.fields {
		v, err := f.parse(literals[i])
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

func (tb *table) encodeRow(row []any) []byte {
	var raw []byte
	for i, f := range tb.fields {
		raw = f.encode(raw, row[i])
	}
	return raw
}

func (tb *table) decodeRow(raw []byte) []any {
	row := make([]any, len(tb.fields))
	p := 0
	for i, f := range tb.fields {
		v, n := f.decode(raw[p:])
		row[i] = v
		p += n
	}
	return row
}

// insert stores a row under xid and feeds every index.
func (tb *table) insert(xid types.XID, stmt parser.Insert) error {
	row, err := tb.parseRow(stmt.Values)
	if err != nil {
		return err
	}
	uid, err := tb.tbm.vm.Insert(xid, tb.encodeRow(row))
	if err != nil {
		return err
	}
	return tb.indexRow(row, uid)
}

func (tb *table) indexRow(row []any, uid types.UID) error {
	for i, f := range tb.fields {
		if !f.indexed() {
			continue
		}
		if err := f.tree.Insert(f.key(row[i]), uid); err != nil {
			return err
		}
	}
	return nil
}

// keyRange is an inclusive index interval.
type keyRange struct{ lo, hi int64 }

// resolveWhere maps a where clause onto index ranges over one indexed
// field. A nil clause scans the table's first index end to end.
func (tb *table) resolveWhere(w *parser.Where) (*field, []keyRange, error) {
	if w == nil {
		for _, f := range tb.fields {
			if f.indexed() {
				return f, []keyRange{{math.MinInt64, math.MaxInt64}}, nil
			}
		}
		return nil, nil, fmt.Errorf("table %s: %w", tb.name, types.ErrNoIndex)
	}

	f := tb.fieldByName(w.First.Field)
	if f == nil {
		return nil, nil, fmt.Errorf("field %q: %w", w.First.Field, types.ErrFieldNotFound)
	}
	if !f.indexed() {
		return nil, nil, fmt.Errorf("field %q: %w", w.First.Field, types.ErrFieldNotIndexed)
	}

	first, err := comparisonRange(f, w.First)
	if err != nil {
		return nil, nil, err
	}
	if w.Logic == "" {
		return f, []keyRange{first}, nil
	}
	if w.Second.Field != w.First.Field {
		return nil, nil, fmt.Errorf("where spans %q and %q: %w",
			w.First.Field, w.Second.Field, types.ErrInvalidLogOp)
	}
	second, err := comparisonRange(f, w.Second)
	if err != nil {
		return nil, nil, err
	}
	switch w.Logic {
	case "and":
		merged := keyRange{lo: max64(first.lo, second.lo), hi: min64(first.hi, second.hi)}
		return f, []keyRange{merged}, nil
	case "or":
		return f, []keyRange{first, second}, nil
	default:
		return nil, nil, fmt.Errorf("logic %q: %w", w.Logic, types.ErrInvalidLogOp)
	}
}

func comparisonRange(f *field, c parser.Comparison) (keyRange, error) {
	v, err := f.parse(c.Value)
	if err != nil {
		return keyRange{}, err
	}
	k := f.key(v)
	switch c.Op {
	case "=":
		return keyRange{k, k}, nil
	case ">":
		if k == math.MaxInt64 {
			return keyRange{1, 0}, nil // empty
		}
		return keyRange{k + 1, math.MaxInt64}, nil
	case "<":
		if k == math.MinInt64 {
			return keyRange{1, 0}, nil
		}
		return keyRange{math.MinInt64, k - 1}, nil
	default:
		return keyRange{}, fmt.Errorf("operator %q: %w", c.Op, types.ErrInvalidCommand)
	}
}

// search returns the candidate uids for the ranges, in index order,
// deduplicated (overlapping or-ranges yield the same uid twice).
func (tb *table) search(f *field, ranges []keyRange) ([]types.UID, error) {
	seen := make(map[types.UID]bool)
	var uids []types.UID
	for _, r := range ranges {
		if r.lo > r.hi {
			continue
		}
		found, err := f.tree.SearchRange(r.lo, r.hi)
		if err != nil {
			return nil, err
		}
		for _, uid := range found {
			if !seen[uid] {
				seen[uid] = true
				uids = append(uids, uid)
			}
		}
	}
	return uids, nil
}

// read runs a select under xid.
func (tb *table) read(xid types.XID, stmt parser.Select) (string, error) {
	project := make([]int, 0, len(tb.fields))
	if stmt.Fields == nil {
		for i := range tb.fields {
			project = append(project, i)
		}
	} else {
		for _, name := range stmt.Fields {
			f := tb.fieldByName(name)
			if f == nil {
				return "", fmt.Errorf("field %q: %w", name, types.ErrFieldNotFound)
			}
			for i, tf := range tb.fields {
				if tf == f {
					project = append(project, i)
				}
			}
		}
	}

	f, ranges, err := tb.resolveWhere(stmt.Where)
	if err != nil {
		return "", err
	}
	uids, err := tb.search(f, ranges)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, uid := range uids {
		raw, err := tb.tbm.vm.Read(xid, uid)
		if err != nil {
			return "", err
		}
		if raw == nil {
			continue // deleted, invisible, or a stale index entry
		}
		row := tb.decodeRow(raw)
		for j, i := range project {
			if j > 0 {
				sb.WriteByte('\t')
			}
			sb.WriteString(tb.fields[i].format(row[i]))
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// update rewrites one field of matching rows: each visible row is
// deleted and re-inserted with the new value, and the new uid feeds
// every index. Old index entries keep pointing at the dead version;
// readers skip them by visibility.
func (tb *table) update(xid types.XID, stmt parser.Update) (int, error) {
	setField := tb.fieldByName(stmt.Field)
	if setField == nil {
		return 0, fmt.Errorf("field %q: %w", stmt.Field, types.ErrFieldNotFound)
	}
	newValue, err := setField.parse(stmt.Value)
	if err != nil {
		return 0, err
	}

	f, ranges, err := tb.resolveWhere(stmt.Where)
	if err != nil {
		return 0, err
	}
	uids, err := tb.search(f, ranges)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, uid := range uids {
		raw, err := tb.tbm.vm.Read(xid, uid)
		if err != nil {
			return count, err
		}
		if raw == nil {
			continue
		}
		ok, err := tb.tbm.vm.Delete(xid, uid)
		if err != nil {
			return count, err
		}
		if !ok {
			continue
		}
		row := tb.decodeRow(raw)
		for i, tf := range tb.fields {
			if tf == setField {
				row[i] = newValue
			}
		}
		newUID, err := tb.tbm.vm.Insert(xid, tb.encodeRow(row))
		if err != nil {
			return count, err
		}
		if err := tb.indexRow(row, newUID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// delete removes matching rows under xid.
func (tb *table) delete(xid types.XID, stmt parser.Delete) (int, error) {
	f, ranges, err := tb.resolveWhere(stmt.Where)
	if err != nil {
		return 0, err
	}
	uids, err := tb.search(f, ranges)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, uid := range uids {
		ok, err := tb.tbm.vm.Delete(xid, uid)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
