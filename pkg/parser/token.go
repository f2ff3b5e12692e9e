package parser

import (
	"fmt"

	"github.com/burrowdb/burrow/pkg/types"
)

// tokenize splits a statement into tokens: bare words and numbers,
// quoted strings (single or double quotes, quotes stripped), and the
// single-character symbols the dialect uses.
func tokenize(stmt string) ([]string, error) {
	var tokens []string
	i := 0
	n := len(stmt)
	for i < n {
		c := stmt[i]
		switch {
		case isBlank(c):
			i++
		case isSymbol(c):
			tokens = append(tokens, string(c))
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < n && stmt[j] != quote {
				j++
			}
			if j == n {
				return nil, fmt.Errorf("unterminated string at byte %d: %w", i, types.ErrInvalidCommand)
			}
			tokens = append(tokens, stmt[i+1:j])
			i = j + 1
		case isWordByte(c):
			j := i
			for j < n && isWordByte(stmt[j]) {
				j++
			}
			tokens = append(tokens, stmt[i:j])
			i = j
		default:
			return nil, fmt.Errorf("unexpected byte %q at %d: %w", c, i, types.ErrInvalidCommand)
		}
	}
	return tokens, nil
}

func isBlank(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isSymbol(c byte) bool {
	switch c {
	case '>', '<', '=', '*', ',', '(', ')':
		return true
	}
	return false
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' || c == '_' || c == '-' || c == '.'
}
