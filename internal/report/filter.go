package report

import (
	"net/url"
	"strings"

	"github.com/JonMunkholm/qadash/internal/buildver"
	"github.com/JonMunkholm/qadash/internal/columns"
	"github.com/JonMunkholm/qadash/internal/sheet"
)

// Filter narrows the rows of a snapshot. Empty fields do not filter.
type Filter struct {
	Build       string `json:"build,omitempty"`
	Platform    string `json:"platform,omitempty"`
	Status      string `json:"status,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Type        string `json:"type,omitempty"`
	ReleaseOnly bool   `json:"releaseOnly,omitempty"`
}

// FilterFromQuery reads a Filter from URL query parameters.
func FilterFromQuery(q url.Values) Filter {
	return Filter{
		Build:       strings.TrimSpace(q.Get("build")),
		Platform:    strings.TrimSpace(q.Get("platform")),
		Status:      strings.TrimSpace(q.Get("status")),
		Severity:    strings.TrimSpace(q.Get("severity")),
		Type:        strings.TrimSpace(q.Get("type")),
		ReleaseOnly: isTruthy(q.Get("release")),
	}
}

// IsZero reports whether the filter keeps every row.
func (f Filter) IsZero() bool {
	return f == Filter{}
}

// Match reports whether rec passes the filter. A non-empty criterion on a
// field whose column did not resolve matches nothing.
func (f Filter) Match(rec sheet.Record, cols columns.Resolution) bool {
	if f.Build != "" {
		col := cols.Column(columns.FieldBuild)
		if !col.Found || !buildver.Equal(columns.Text(rec, col), f.Build) {
			return false
		}
	}

	text := []struct {
		field columns.Field
		want  string
	}{
		{columns.FieldPlatform, f.Platform},
		{columns.FieldStatus, f.Status},
		{columns.FieldSeverity, f.Severity},
		{columns.FieldType, f.Type},
	}
	for _, c := range text {
		if c.want == "" {
			continue
		}
		col := cols.Column(c.field)
		if !col.Found || !strings.EqualFold(columns.Text(rec, col), strings.TrimSpace(c.want)) {
			return false
		}
	}

	if f.ReleaseOnly {
		col := cols.Column(columns.FieldRelease)
		if !col.Found || !isTruthy(columns.Text(rec, col)) {
			return false
		}
	}

	return true
}

// Apply returns the rows of t that pass f, in table order.
func (f Filter) Apply(t *sheet.Table, cols columns.Resolution) []sheet.Record {
	if t == nil {
		return []sheet.Record{}
	}
	out := make([]sheet.Record, 0, len(t.Rows))
	for _, rec := range t.Rows {
		if f.Match(rec, cols) {
			out = append(out, rec)
		}
	}
	return out
}

func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "1", "x":
		return true
	}
	return false
}
