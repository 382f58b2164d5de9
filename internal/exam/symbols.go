package exam

import (
	"strconv"
	"strings"
)

// Option symbol vocabulary. Korean exam papers mark options with circled
// digits; other papers use parenthesized digits or letters. SymbolIndex
// normalizes all of them to a 1-based position so stages can reason about
// sequence continuity without caring about the marker style.

var circled = []rune("①②③④⑤⑥⑦⑧⑨⑩⑪⑫⑬⑭⑮")

// SymbolIndex returns the 1-based position a symbol denotes, or 0 if the
// string is not a recognizable option symbol.
func SymbolIndex(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	runes := []rune(s)
	if len(runes) == 1 {
		for i, c := range circled {
			if runes[0] == c {
				return i + 1
			}
		}
		// Single letter: A..E or a..e.
		r := runes[0]
		if r >= 'A' && r <= 'E' {
			return int(r-'A') + 1
		}
		if r >= 'a' && r <= 'e' {
			return int(r-'a') + 1
		}
		if r >= '1' && r <= '9' {
			return int(r - '0')
		}
		return 0
	}

	// Multi-digit: "12" and similar, up to the circled vocabulary.
	if n, err := strconv.Atoi(s); err == nil {
		if n >= 1 && n <= len(circled) {
			return n
		}
		return 0
	}

	// Strip one layer of wrapping: "(3)", "3)", "3.", "C)", "C.".
	trimmed := strings.TrimLeft(s, "(")
	trimmed = strings.TrimRight(trimmed, ").")
	if trimmed == s || trimmed == "" {
		return 0
	}
	return SymbolIndex(trimmed)
}

// CircledSymbol returns the circled-digit symbol for a 1-based position,
// or "" when out of range. Used when the line-parse fallback has to invent
// symbols for bare numbered options.
func CircledSymbol(n int) string {
	if n < 1 || n > len(circled) {
		return ""
	}
	return string(circled[n-1])
}

// LastSymbolIndex returns the highest recognized symbol position among a
// candidate's options, or 0 if none parse.
func LastSymbolIndex(opts []Option) int {
	max := 0
	for _, o := range opts {
		if idx := SymbolIndex(o.Symbol); idx > max {
			max = idx
		}
	}
	return max
}

// FirstSymbolIndex returns the lowest recognized symbol position among a
// candidate's options, or 0 if none parse.
func FirstSymbolIndex(opts []Option) int {
	min := 0
	for _, o := range opts {
		idx := SymbolIndex(o.Symbol)
		if idx == 0 {
			continue
		}
		if min == 0 || idx < min {
			min = idx
		}
	}
	return min
}
