// Package buildver decides whether two free-text build labels name the same
// build.
//
// Build labels are typed by hand: "RC 1.0", "1.0.0", "v1" and "build 1"
// all refer to one build. Equality is an ordered chain of strategies; the
// first strategy that matches wins and a miss falls through to the next one:
//
//  1. empty guard: blank labels never match
//  2. exact
//  3. case-insensitive
//  4. prefix-cleaned: one leading rc/build/v/ver/version prefix removed
//  5. version segments: dotted numbers with trailing zero segments ignored
//
// Every strategy is symmetric, so Equal(a, b) == Equal(b, a).
package buildver

import (
	"regexp"
	"strings"

	"github.com/JonMunkholm/qadash/internal/sheet"
)

// prefixRegex matches a single leading build prefix and its separators.
// Keep the longer words first: alternation takes the leftmost alternative
// that matches, so listing "v" before "version" would strip only the "V"
// of "Version 2".
var prefixRegex = regexp.MustCompile(`(?i)^(?:version|ver|build|rc|v)[\s:.\-]*`)

// dottedRegex matches labels made only of digits and dots.
var dottedRegex = regexp.MustCompile(`^[0-9.]+$`)

// Strategy is one named comparison. Inputs are already trimmed and non-empty.
type Strategy struct {
	Name  string
	Match func(a, b string) bool
}

// Chain is an ordered list of strategies.
type Chain []Strategy

var (
	// Exact matches identical labels.
	Exact = Strategy{Name: "exact", Match: func(a, b string) bool {
		return a == b
	}}

	// CaseInsensitive matches labels that differ only in case.
	CaseInsensitive = Strategy{Name: "case-insensitive", Match: func(a, b string) bool {
		return strings.ToLower(a) == strings.ToLower(b)
	}}

	// PrefixCleaned compares labels after removing one leading build prefix.
	// Two bare prefixes both clean to "" and match.
	PrefixCleaned = Strategy{Name: "prefix-cleaned", Match: func(a, b string) bool {
		ca, cb := CleanPrefix(a), CleanPrefix(b)
		return ca == cb || strings.ToLower(ca) == strings.ToLower(cb)
	}}

	// VersionSegments compares dotted version numbers, ignoring trailing
	// zero segments, so "1.0.0" equals "1".
	VersionSegments = Strategy{Name: "version-segments", Match: func(a, b string) bool {
		sa, ok := Segments(CleanPrefix(a))
		if !ok {
			return false
		}
		sb, ok := Segments(CleanPrefix(b))
		if !ok {
			return false
		}
		if len(sa) != len(sb) {
			return false
		}
		for i := range sa {
			if sa[i] != sb[i] {
				return false
			}
		}
		return true
	}}
)

// Default is the comparison policy used across the dashboard.
var Default = Chain{Exact, CaseInsensitive, PrefixCleaned, VersionSegments}

// Match returns the name of the first strategy that considers a and b equal.
func (c Chain) Match(a, b string) (string, bool) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return "", false
	}
	for _, s := range c {
		if s.Match(a, b) {
			return s.Name, true
		}
	}
	return "", false
}

// Equal reports whether a and b name the same build under c.
func (c Chain) Equal(a, b string) bool {
	_, ok := c.Match(a, b)
	return ok
}

// Equal reports whether a and b name the same build.
func Equal(a, b string) bool {
	return Default.Equal(a, b)
}

// Match reports which default strategy matched a and b.
func Match(a, b string) (string, bool) {
	return Default.Match(a, b)
}

// EqualCells compares two sheet cells as build labels. Numeric cells are
// compared by their displayed form, so the number 2 equals "v2".
func EqualCells(a, b sheet.Cell) bool {
	return Equal(a.String(), b.String())
}

// CleanPrefix removes one leading rc/build/v/ver/version prefix, with any
// following spaces, colons, dots or dashes, and trims the rest.
// "RC RC 1.0" becomes "RC 1.0": only the first prefix is removed.
func CleanPrefix(s string) string {
	s = strings.TrimSpace(s)
	return strings.TrimSpace(prefixRegex.ReplaceAllString(s, ""))
}

// Segments splits a dotted version into normalized integer segments with
// trailing zero segments removed: "1.2.0" gives ["1", "2"] and "1.0.0" gives
// ["1"]. Leading zeros are ignored so arbitrarily long numbers compare
// exactly. ok is false when s is not made of digits and dots, or has an
// empty segment.
func Segments(s string) ([]string, bool) {
	if !dottedRegex.MatchString(s) {
		return nil, false
	}

	parts := strings.Split(s, ".")
	segs := make([]string, len(parts))
	for i, p := range parts {
		if p == "" {
			return nil, false
		}
		p = strings.TrimLeft(p, "0")
		if p == "" {
			p = "0"
		}
		segs[i] = p
	}

	for len(segs) > 0 && segs[len(segs)-1] == "0" {
		segs = segs[:len(segs)-1]
	}
	return segs, true
}
