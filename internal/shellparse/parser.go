// Package shellparse provides shell-like command line parsing
// that correctly handles quoted arguments, spaces, and escapes.
//
// Extra game arguments arrive from configuration as a single string
// (e.g. `-nointro -64bit -homedir "/path with spaces"`); Split breaks
// them into argv entries following POSIX word-splitting rules, similar
// to Python's shlex.split().
package shellparse

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrUnclosedQuote is returned when a quoted string is not properly closed
	ErrUnclosedQuote = errors.New("unclosed quote in argument string")

	// ErrTrailingEscape is returned when a backslash appears at the end of input
	ErrTrailingEscape = errors.New("trailing escape character at end of argument string")
)

// Split parses an argument string into words, handling quotes and escapes.
//
// Parsing rules:
//   - Words are separated by whitespace
//   - Single quotes preserve literal values (no escapes)
//   - Double quotes preserve literal values except for backslash escapes
//   - Backslash escapes the next character outside quotes
//   - Empty input returns empty slice
func Split(input string) ([]string, error) {
	if input == "" {
		return []string{}, nil
	}

	var result []string
	var current strings.Builder
	var inSingleQuote, inDoubleQuote bool
	var sawQuotes bool // a closed empty quote still yields a word

	runes := []rune(input)
	length := len(runes)

	for i := 0; i < length; i++ {
		ch := runes[i]

		if ch == '\\' && !inSingleQuote {
			if i+1 >= length {
				return nil, ErrTrailingEscape
			}
			i++
			nextCh := runes[i]

			if inDoubleQuote {
				// In double quotes only shell-special characters are escapable
				switch nextCh {
				case '"', '\\', '$', '`':
					current.WriteRune(nextCh)
				default:
					current.WriteRune('\\')
					current.WriteRune(nextCh)
				}
			} else {
				current.WriteRune(nextCh)
			}
			continue
		}

		if ch == '\'' && !inDoubleQuote {
			if inSingleQuote {
				sawQuotes = true
			}
			inSingleQuote = !inSingleQuote
			continue
		}

		if ch == '"' && !inSingleQuote {
			if inDoubleQuote {
				sawQuotes = true
			}
			inDoubleQuote = !inDoubleQuote
			continue
		}

		if unicode.IsSpace(ch) && !inSingleQuote && !inDoubleQuote {
			if current.Len() > 0 || sawQuotes {
				result = append(result, current.String())
				current.Reset()
				sawQuotes = false
			}
			continue
		}

		current.WriteRune(ch)
	}

	if inSingleQuote || inDoubleQuote {
		quoteType := "single"
		if inDoubleQuote {
			quoteType = "double"
		}
		return nil, fmt.Errorf("%w: unclosed %s quote", ErrUnclosedQuote, quoteType)
	}

	if current.Len() > 0 || sawQuotes {
		result = append(result, current.String())
	}

	return result, nil
}

// Join combines arguments into a shell command string, quoting as necessary.
// Used when logging the full startup command.
func Join(args []string) string {
	if len(args) == 0 {
		return ""
	}

	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, quote(arg))
	}

	return strings.Join(parts, " ")
}

// quote adds quotes around an argument if it contains special characters
func quote(arg string) string {
	if arg == "" {
		return "''"
	}

	needsQuote := false
	for _, ch := range arg {
		if unicode.IsSpace(ch) || ch == '\'' || ch == '"' || ch == '\\' || ch == '$' || ch == '`' {
			needsQuote = true
			break
		}
	}
	if !needsQuote {
		return arg
	}

	// Single quotes are simplest when the argument has none of its own
	if !strings.Contains(arg, "'") {
		return "'" + arg + "'"
	}

	var result strings.Builder
	result.WriteRune('"')
	for _, ch := range arg {
		if ch == '"' || ch == '\\' || ch == '$' || ch == '`' {
			result.WriteRune('\\')
		}
		result.WriteRune(ch)
	}
	result.WriteRune('"')

	return result.String()
}
