package types

import (
	"encoding/json"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// floatPrefix matches the longest leading decimal number in a string.
var floatPrefix = regexp.MustCompile(`^[+-]?(Infinity|(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?)`)

// ParseGPA turns a raw JSON value into a float the way a browser's
// parseFloat would: numbers pass through, strings contribute their leading
// numeric prefix ("3.5 points" -> 3.5), and everything else is NaN.
// Non-numeric input is never an error.
func ParseGPA(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return math.NaN()
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return math.NaN()
	}

	switch val := v.(type) {
	case float64:
		return val
	case string:
		return parseFloatPrefix(val)
	default:
		return math.NaN()
	}
}

func parseFloatPrefix(s string) float64 {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)

	m := floatPrefix.FindString(s)
	if m == "" {
		return math.NaN()
	}

	switch m {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}

	// The regexp guarantees valid syntax, so the only possible error is
	// ErrRange, for which ParseFloat already returns ±Inf.
	f, _ := strconv.ParseFloat(m, 64)
	return f
}

// ParseID reads a record id from a path segment with parseInt semantics:
// leading whitespace is skipped, an optional sign and "0x" prefix are
// honoured, and parsing stops at the first non-digit ("12abc" -> 12).
// ok is false when no digits were found or the value does not fit in int64;
// such an id matches no record.
func ParseID(s string) (id int64, ok bool) {
	digits, base, ok := scanInt(s)
	if !ok {
		return 0, false
	}

	id, err := strconv.ParseInt(digits, base, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// IDValue is the number parseInt would give for s, including values that
// do not fit in int64 ("99999999999999999999" -> 1e20). It is what a
// not-found response echoes back. ok is false when s has no leading digits.
func IDValue(s string) (float64, bool) {
	digits, base, ok := scanInt(s)
	if !ok {
		return 0, false
	}

	n, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return 0, false
	}
	f, _ := new(big.Float).SetInt(n).Float64()
	return f, true
}

// scanInt returns the signed leading digit run of s and its base.
func scanInt(s string) (digits string, base int, ok bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)

	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}

	base = 10
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		base = 16
		s = s[2:]
	}

	end := 0
	for end < len(s) && isDigit(s[end], base) {
		end++
	}
	if end == 0 {
		return "", 0, false
	}

	digits = s[:end]
	if neg {
		digits = "-" + digits
	}
	return digits, base, true
}

func isDigit(c byte, base int) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case base == 16 && c >= 'a' && c <= 'f':
		return true
	case base == 16 && c >= 'A' && c <= 'F':
		return true
	default:
		return false
	}
}
