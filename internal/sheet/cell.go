// Package sheet parses published spreadsheet CSV exports into typed tables.
//
// The parser is deliberately forgiving: it never returns an error. Cells that
// look numeric become numbers, everything else stays text, short lines are
// padded with empty strings and extra fields are dropped. Spreadsheet exports
// are assumed to be comma-delimited, possibly quoted, and free of embedded
// newlines; quote doubling ("") is not supported.
package sheet

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// numericRegex matches integers, decimals and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// Cell is a single parsed value: either a number or a string.
// The zero value is the empty string.
type Cell struct {
	text  string
	num   float64
	isNum bool
}

// TextCell returns a string cell.
func TextCell(s string) Cell {
	return Cell{text: s}
}

// NumberCell returns a numeric cell.
func NumberCell(f float64) Cell {
	return Cell{num: f, isNum: true}
}

// IsNumber reports whether the cell holds a number.
func (c Cell) IsNumber() bool {
	return c.isNum
}

// Number returns the numeric value and true, or 0 and false for text cells.
func (c Cell) Number() (float64, bool) {
	if !c.isNum {
		return 0, false
	}
	return c.num, true
}

// String renders the cell the way the sheet displays it.
// Numbers use the shortest representation ("1", "2.5", "1e+21").
func (c Cell) String() string {
	if !c.isNum {
		return c.text
	}
	if math.Abs(c.num) >= 1e21 {
		return strconv.FormatFloat(c.num, 'g', -1, 64)
	}
	return strconv.FormatFloat(c.num, 'f', -1, 64)
}

// MarshalJSON encodes numbers as JSON numbers and text as JSON strings.
func (c Cell) MarshalJSON() ([]byte, error) {
	if c.isNum {
		if math.IsInf(c.num, 0) || math.IsNaN(c.num) {
			return json.Marshal(c.String())
		}
		return json.Marshal(c.num)
	}
	return json.Marshal(c.text)
}

// ParseNumber parses s as a plain decimal number after trimming.
// Hex, infinities, NaN and digit separators are rejected.
func ParseNumber(s string) (float64, bool) {
	s = trim(s)
	if s == "" || !numericRegex.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Out of range values still parse to ±Inf with ErrRange.
		if errors.Is(err, strconv.ErrRange) {
			return f, true
		}
		return 0, false
	}
	return f, true
}

// trim removes surrounding whitespace, including the byte order mark that
// spreadsheet exports occasionally leave on the first header.
func trim(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '\uFEFF'
	})
}
