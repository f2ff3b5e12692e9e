package parser

import (
	"fmt"
	"strings"

	"github.com/burrowdb/burrow/pkg/types"
)

// Statement is the parsed form of one SQL line. Exactly one of the
// concrete types below comes back from Parse.
type Statement interface{ verb() string }

// Begin starts a transaction.
type Begin struct {
	Level types.IsolationLevel
}

// Commit finishes the current transaction.
type Commit struct{}

// Abort rolls the current transaction back.
type Abort struct{}

// Show lists the tables.
type Show struct{}

// Create declares a table with typed fields and an optional set of
// indexed fields.
type Create struct {
	Table   string
	Fields  []string
	Types   []string
	Indexed []string
}

// Drop removes a table from the catalog.
type Drop struct {
	Table string
}

// Insert adds one row.
type Insert struct {
	Table  string
	Values []string
}

// Select reads fields from rows matching Where.
type Select struct {
	Table  string
	Fields []string // nil means *
	Where  *Where
}

// Update rewrites one field of matching rows.
type Update struct {
	Table string
	Field string
	Value string
	Where *Where
}

// Delete removes matching rows.
type Delete struct {
	Table string
	Where *Where
}

// Where restricts a statement to rows matching one comparison, or two
// joined by and/or, over a single indexed field.
type Where struct {
	First  Comparison
	Logic  string // "and", "or", or empty
	Second Comparison
}

// Comparison is field <op> value with op one of < = >.
type Comparison struct {
	Field string
	Op    string
	Value string
}

func (Begin) verb() string  { return "begin" }
func (Commit) verb() string { return "commit" }
func (Abort) verb() string  { return "abort" }
func (Show) verb() string   { return "show" }
func (Create) verb() string { return "create" }
func (Drop) verb() string   { return "drop" }
func (Insert) verb() string { return "insert" }
func (Select) verb() string { return "select" }
func (Update) verb() string { return "update" }
func (Delete) verb() string { return "delete" }

// Verb names the statement kind, for logging and metrics.
func Verb(s Statement) string { return s.verb() }

type tokens struct {
	toks []string
	pos  int
}

func (t *tokens) peek() string {
	if t.pos >= len(t.toks) {
		return ""
	}
	return t.toks[t.pos]
}

func (t *tokens) pop() string {
	tok := t.peek()
	t.pos++
	return tok
}

func (t *tokens) expect(want string) error {
	if got := t.pop(); got != want {
		return fmt.Errorf("expected %q, got %q: %w", want, got, types.ErrInvalidCommand)
	}
	return nil
}

func (t *tokens) done() error {
	if t.pos != len(t.toks) {
		return fmt.Errorf("trailing input %q: %w", t.peek(), types.ErrInvalidCommand)
	}
	return nil
}

// Parse turns one statement into its typed form.
func Parse(stmt string) (Statement, error) {
	toks, err := tokenize(stmt)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty statement: %w", types.ErrInvalidCommand)
	}
	t := &tokens{toks: toks}

	switch strings.ToLower(t.pop()) {
	case "begin":
		return parseBegin(t)
	case "commit":
		return finish(t, Commit{})
	case "abort":
		return finish(t, Abort{})
	case "show":
		return finish(t, Show{})
	case "create":
		return parseCreate(t)
	case "drop":
		return parseDrop(t)
	case "insert":
		return parseInsert(t)
	case "select":
		return parseSelect(t)
	case "update":
		return parseUpdate(t)
	case "delete":
		return parseDelete(t)
	default:
		return nil, fmt.Errorf("statement %q: %w", toks[0], types.ErrInvalidCommand)
	}
}

func finish(t *tokens, s Statement) (Statement, error) {
	if err := t.done(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseBegin(t *tokens) (Statement, error) {
	if t.peek() == "" {
		return Begin{Level: types.ReadCommitted}, nil
	}
	if err := t.expect("isolation"); err != nil {
		return nil, err
	}
	if err := t.expect("level"); err != nil {
		return nil, err
	}
	switch t.pop() {
	case "read":
		if err := t.expect("committed"); err != nil {
			return nil, err
		}
		return finish(t, Begin{Level: types.ReadCommitted})
	case "repeatable":
		if err := t.expect("read"); err != nil {
			return nil, err
		}
		return finish(t, Begin{Level: types.RepeatableRead})
	default:
		return nil, fmt.Errorf("isolation level: %w", types.ErrInvalidCommand)
	}
}

func parseCreate(t *tokens) (Statement, error) {
	if err := t.expect("table"); err != nil {
		return nil, err
	}
	c := Create{Table: t.pop()}
	if !isName(c.Table) {
		return nil, fmt.Errorf("table name %q: %w", c.Table, types.ErrInvalidCommand)
	}

	for {
		if t.peek() == "(" || t.peek() == "" {
			break
		}
		field := t.pop()
		if !isName(field) {
			return nil, fmt.Errorf("field name %q: %w", field, types.ErrInvalidCommand)
		}
		typ := t.pop()
		if typ != "int32" && typ != "int64" && typ != "string" {
			return nil, fmt.Errorf("field type %q: %w", typ, types.ErrInvalidField)
		}
		c.Fields = append(c.Fields, field)
		c.Types = append(c.Types, typ)
		if t.peek() == "," {
			t.pop()
		}
	}
	if len(c.Fields) == 0 {
		return nil, fmt.Errorf("no fields: %w", types.ErrInvalidCommand)
	}

	if t.peek() == "(" {
		t.pop()
		if err := t.expect("index"); err != nil {
			return nil, err
		}
		for t.peek() != ")" && t.peek() != "" {
			c.Indexed = append(c.Indexed, t.pop())
			if t.peek() == "," {
				t.pop()
			}
		}
		if err := t.expect(")"); err != nil {
			return nil, err
		}
	}
	return finish(t, c)
}

func parseDrop(t *tokens) (Statement, error) {
	if err := t.expect("table"); err != nil {
		return nil, err
	}
	d := Drop{Table: t.pop()}
	if !isName(d.Table) {
		return nil, fmt.Errorf("table name %q: %w", d.Table, types.ErrInvalidCommand)
	}
	return finish(t, d)
}

func parseInsert(t *tokens) (Statement, error) {
	if err := t.expect("into"); err != nil {
		return nil, err
	}
	ins := Insert{Table: t.pop()}
	if err := t.expect("values"); err != nil {
		return nil, err
	}
	for t.peek() != "" {
		ins.Values = append(ins.Values, t.pop())
		if t.peek() == "," {
			t.pop()
		}
	}
	if len(ins.Values) == 0 {
		return nil, fmt.Errorf("no values: %w", types.ErrInvalidCommand)
	}
	return ins, nil
}

func parseSelect(t *tokens) (Statement, error) {
	var s Select
	if t.peek() == "*" {
		t.pop()
	} else {
		for {
			field := t.pop()
			if !isName(field) {
				return nil, fmt.Errorf("field %q: %w", field, types.ErrInvalidCommand)
			}
			s.Fields = append(s.Fields, field)
			if t.peek() != "," {
				break
			}
			t.pop()
		}
	}
	if err := t.expect("from"); err != nil {
		return nil, err
	}
	s.Table = t.pop()
	if !isName(s.Table) {
		return nil, fmt.Errorf("table %q: %w", s.Table, types.ErrInvalidCommand)
	}
	where, err := parseWhere(t)
	if err != nil {
		return nil, err
	}
	s.Where = where
	return finish(t, s)
}

func parseUpdate(t *tokens) (Statement, error) {
	u := Update{Table: t.pop()}
	if !isName(u.Table) {
		return nil, fmt.Errorf("table %q: %w", u.Table, types.ErrInvalidCommand)
	}
	if err := t.expect("set"); err != nil {
		return nil, err
	}
	u.Field = t.pop()
	if !isName(u.Field) {
		return nil, fmt.Errorf("field %q: %w", u.Field, types.ErrInvalidCommand)
	}
	if err := t.expect("="); err != nil {
		return nil, err
	}
	u.Value = t.pop()
	where, err := parseWhere(t)
	if err != nil {
		return nil, err
	}
	u.Where = where
	return finish(t, u)
}

func parseDelete(t *tokens) (Statement, error) {
	if err := t.expect("from"); err != nil {
		return nil, err
	}
	d := Delete{Table: t.pop()}
	if !isName(d.Table) {
		return nil, fmt.Errorf("table %q: %w", d.Table, types.ErrInvalidCommand)
	}
	where, err := parseWhere(t)
	if err != nil {
		return nil, err
	}
	if where == nil {
		return nil, fmt.Errorf("delete requires a where clause: %w", types.ErrInvalidCommand)
	}
	d.Where = where
	return finish(t, d)
}

func parseWhere(t *tokens) (*Where, error) {
	if t.peek() == "" {
		return nil, nil
	}
	if err := t.expect("where"); err != nil {
		return nil, err
	}
	w := &Where{}
	var err error
	w.First, err = parseComparison(t)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(t.peek()) {
	case "and", "or":
		w.Logic = strings.ToLower(t.pop())
		w.Second, err = parseComparison(t)
		if err != nil {
			return nil, err
		}
	}
	return w, nil
}

func parseComparison(t *tokens) (Comparison, error) {
	var c Comparison
	c.Field = t.pop()
	if !isName(c.Field) {
		return c, fmt.Errorf("field %q: %w", c.Field, types.ErrInvalidCommand)
	}
	c.Op = t.pop()
	if c.Op != "<" && c.Op != "=" && c.Op != ">" {
		return c, fmt.Errorf("operator %q: %w", c.Op, types.ErrInvalidCommand)
	}
	c.Value = t.pop()
	if c.Value == "" {
		return c, fmt.Errorf("missing value: %w", types.ErrInvalidCommand)
	}
	return c, nil
}

// isName accepts identifiers: a leading letter then word bytes.
func isName(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isWordByte(s[i]) {
			return false
		}
	}
	return true
}
