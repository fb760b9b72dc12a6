package executor

import (
	"fmt"
	"strings"
)

// Tokenize splits a command line into argv with shell quoting rules (single
// quotes literal, double quotes with backslash escapes, bare backslash
// escapes the next byte). No expansion, no substitution; a shell is never
// involved.
func Tokenize(command string) ([]string, error) {
	var tokens []string
	var current strings.Builder
	inToken := false

	flush := func() {
		if inToken {
			tokens = append(tokens, current.String())
			current.Reset()
			inToken = false
		}
	}

	for i := 0; i < len(command); i++ {
		c := command[i]
		switch {
		case c == '\'':
			end := strings.IndexByte(command[i+1:], '\'')
			if end < 0 {
				return nil, fmt.Errorf("unterminated single quote")
			}
			current.WriteString(command[i+1 : i+1+end])
			inToken = true
			i += end + 1
		case c == '"':
			i++
			closed := false
			for i < len(command) {
				if command[i] == '"' {
					closed = true
					break
				}
				if command[i] == '\\' && i+1 < len(command) && (command[i+1] == '"' || command[i+1] == '\\') {
					i++
				}
				current.WriteByte(command[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated double quote")
			}
			inToken = true
		case c == '\\':
			if i+1 >= len(command) {
				return nil, fmt.Errorf("trailing backslash")
			}
			current.WriteByte(command[i+1])
			inToken = true
			i++
		case c == ' ' || c == '\t' || c == '\n':
			flush()
		default:
			current.WriteByte(c)
			inToken = true
		}
	}
	flush()
	return tokens, nil
}
