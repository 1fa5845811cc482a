package sheet

import "strings"

// Record maps header names to cell values for one data line.
type Record map[string]Cell

// Table is the result of parsing one CSV payload.
//
// Headers keeps source order. Every Record's keys are a subset of Headers
// and Rows follow source line order, minus the header and blank lines.
type Table struct {
	Headers []string `json:"headers"`
	Rows    []Record `json:"rows"`
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Parse turns raw CSV text into a Table. It never fails: empty input yields
// a table with no headers and no rows.
func Parse(text string) *Table {
	lines := splitLines(text)
	if len(lines) == 0 {
		return &Table{Headers: []string{}, Rows: []Record{}}
	}

	headers := SplitLine(lines[0])
	rows := make([]Record, 0, len(lines)-1)

	for _, line := range lines[1:] {
		values := SplitLine(line)
		rec := make(Record, len(headers))
		for i, h := range headers {
			raw := ""
			if i < len(values) {
				raw = values[i]
			}
			rec[h] = ParseCell(raw)
		}
		rows = append(rows, rec)
	}

	return &Table{Headers: headers, Rows: rows}
}

// splitLines splits on LF or CRLF and drops blank lines.
func splitLines(text string) []string {
	parts := strings.Split(text, "\n")
	lines := make([]string, 0, len(parts))
	for _, line := range parts {
		line = strings.TrimSuffix(line, "\r")
		if trim(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// SplitLine splits one CSV line into trimmed fields.
//
// A double quote toggles quoted mode and is consumed. Commas inside quotes
// are kept as content. A literal quote that is not used for quoting is
// dropped.
func SplitLine(line string) []string {
	var (
		fields   []string
		field    strings.Builder
		inQuotes bool
	)

	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ',' && !inQuotes:
			fields = append(fields, trim(field.String()))
			field.Reset()
		default:
			field.WriteRune(r)
		}
	}
	fields = append(fields, trim(field.String()))

	return fields
}

// ParseCell strips one stray leading and trailing quote from a raw value
// and coerces it to a number when the whole value is numeric.
func ParseCell(raw string) Cell {
	v := strings.TrimPrefix(raw, `"`)
	v = strings.TrimSuffix(v, `"`)

	if f, ok := ParseNumber(v); ok {
		return NumberCell(f)
	}
	return TextCell(v)
}
