// Package columns maps human-authored sheet headers onto semantic fields and
// extracts numeric values from parsed records.
//
// Header spellings differ from sheet to sheet ("Build", "RC Build", "Build
// Version"), so every semantic field is configured as a list of accepted
// aliases. Resolution is pure and recomputed for each parsed table.
//
// Nothing in this package returns an error. A missing column is reported as
// a Column with Found=false, and value extraction falls back to zero.
package columns

import (
	"strings"

	"github.com/JonMunkholm/qadash/internal/sheet"
)

// Column is a header resolved for a semantic field.
// The zero value means no header matched.
type Column struct {
	Name  string `json:"name,omitempty"`
	Found bool   `json:"found"`
}

// NotFound is the result of a failed resolution.
var NotFound = Column{}

// Find returns the first header, in table order, that equals one of the
// aliases ignoring case. Headers are trimmed before comparison; aliases are
// used as given. There is no substring matching.
func Find(headers []string, aliases []string) Column {
	if len(headers) == 0 {
		return NotFound
	}
	for _, h := range headers {
		key := strings.TrimSpace(h)
		for _, alias := range aliases {
			if strings.EqualFold(key, alias) {
				return Column{Name: h, Found: true}
			}
		}
	}
	return NotFound
}

// Value returns the cell under col as a number.
// Missing columns, missing entries and non-numeric text all yield 0.
func Value(rec sheet.Record, col Column) float64 {
	if !col.Found || rec == nil {
		return 0
	}
	cell, ok := rec[col.Name]
	if !ok {
		return 0
	}
	if f, ok := cell.Number(); ok {
		return f
	}
	if f, ok := sheet.ParseNumber(cell.String()); ok {
		return f
	}
	return 0
}

// ValueByAliases resolves the column once and extracts its value.
func ValueByAliases(rec sheet.Record, headers []string, aliases []string) float64 {
	return Value(rec, Find(headers, aliases))
}

// Text returns the cell under col as trimmed text, or "" when absent.
func Text(rec sheet.Record, col Column) string {
	if !col.Found || rec == nil {
		return ""
	}
	cell, ok := rec[col.Name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(cell.String())
}

// Resolution holds the resolved column of every configured field for one table.
type Resolution map[Field]Column

// Resolve finds the column of every field in aliases.
func Resolve(headers []string, aliases Aliases) Resolution {
	res := make(Resolution, len(aliases))
	for field, list := range aliases {
		res[field] = Find(headers, list)
	}
	return res
}

// Column returns the resolved column for f, or NotFound.
func (r Resolution) Column(f Field) Column {
	return r[f]
}

// Missing lists the configured fields that did not resolve, in canonical order.
func (r Resolution) Missing() []Field {
	var missing []Field
	for _, f := range AllFields {
		col, configured := r[f]
		if configured && !col.Found {
			missing = append(missing, f)
		}
	}
	return missing
}
