// Package symbol parses and validates exchange ticker symbols.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxLen is the longest symbol accepted.
const MaxLen = 20

// symbolRegex matches NSE-style symbols: upper-case letters and digits, plus
// '&' and '-' after the first character.
// Examples: RELIANCE, M&M, BAJAJ-AUTO, MON100
var symbolRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9&-]*$`)

var ErrInvalidSymbol = errors.New("symbol: invalid ticker format")

// Parse normalizes s (trimmed, upper-cased) and validates it.
func Parse(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if sym == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSymbol)
	}
	if len(sym) > MaxLen {
		return "", fmt.Errorf("%w: %q longer than %d characters", ErrInvalidSymbol, s, MaxLen)
	}
	if !symbolRegex.MatchString(sym) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	return sym, nil
}

// Valid reports whether s is already a normalized, valid symbol.
func Valid(s string) bool {
	sym, err := Parse(s)
	return err == nil && sym == s
}
