package report

import (
	"sort"
	"strings"

	"github.com/montanaflynn/stats"

	"github.com/JonMunkholm/qadash/internal/buildver"
	"github.com/JonMunkholm/qadash/internal/columns"
	"github.com/JonMunkholm/qadash/internal/sheet"
)

// Unspecified labels rows with a blank platform, severity or status.
const Unspecified = "Unspecified"

// Totals sums the numeric columns of a set of rows.
type Totals struct {
	Total         float64 `json:"total"`
	Executed      float64 `json:"executed"`
	Passed        float64 `json:"passed"`
	Failed        float64 `json:"failed"`
	NotConsidered float64 `json:"notConsidered"`
	Automation    float64 `json:"automation"`
	Manual        float64 `json:"manual"`
	Critical      float64 `json:"critical"`
	Major         float64 `json:"major"`
	Minor         float64 `json:"minor"`
}

func (t *Totals) add(rec sheet.Record, cols columns.Resolution) {
	v := func(f columns.Field) float64 { return columns.Value(rec, cols.Column(f)) }

	t.Total += v(columns.FieldTotal)
	t.Executed += v(columns.FieldExecuted)
	t.Passed += v(columns.FieldPassed)
	t.Failed += v(columns.FieldFailed)
	t.NotConsidered += v(columns.FieldNotConsidered)
	t.Automation += v(columns.FieldAutomation)
	t.Manual += v(columns.FieldManual)
	t.Critical += v(columns.FieldCritical)
	t.Major += v(columns.FieldMajor)
	t.Minor += v(columns.FieldMinor)
}

// Rate is passed/executed as a percentage, 0 when nothing executed.
func (t Totals) Rate() float64 {
	if t.Executed <= 0 {
		return 0
	}
	return round2(t.Passed / t.Executed * 100)
}

// PlatformSummary is the breakdown for one platform value.
type PlatformSummary struct {
	Platform string `json:"platform"`
	Rows     int    `json:"rows"`
	Totals
	PassRate float64 `json:"passRate"`
}

// RateStats describes the spread of pass rates across platforms.
type RateStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"stdDev"`
}

// Count is a label with its row count.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Summary aggregates a filtered set of rows.
type Summary struct {
	Source string `json:"source"`
	Kind   Kind   `json:"kind"`
	Filter Filter `json:"filter"`
	Rows   int    `json:"rows"`
	Totals
	PassRate      float64           `json:"passRate"`
	Platforms     []PlatformSummary `json:"platforms"`
	PassRateStats *RateStats        `json:"passRateStats,omitempty"`
	BySeverity    []Count           `json:"bySeverity,omitempty"`
	ByStatus      []Count           `json:"byStatus,omitempty"`
	Missing       []columns.Field   `json:"missingColumns,omitempty"`
}

// Summarize aggregates rows. Numeric fields whose column did not resolve
// contribute 0.
func Summarize(rows []sheet.Record, cols columns.Resolution, kind Kind) Summary {
	s := Summary{
		Kind:      kind,
		Rows:      len(rows),
		Platforms: []PlatformSummary{},
		Missing:   cols.Missing(),
	}

	platformCol := cols.Column(columns.FieldPlatform)
	byPlatform := make(map[string]int)

	for _, rec := range rows {
		s.Totals.add(rec, cols)

		if !platformCol.Found {
			continue
		}
		name := labelOf(columns.Text(rec, platformCol))
		key := strings.ToLower(name)
		i, ok := byPlatform[key]
		if !ok {
			i = len(s.Platforms)
			byPlatform[key] = i
			s.Platforms = append(s.Platforms, PlatformSummary{Platform: name})
		}
		s.Platforms[i].Rows++
		s.Platforms[i].Totals.add(rec, cols)
	}

	s.PassRate = s.Totals.Rate()
	for i := range s.Platforms {
		s.Platforms[i].PassRate = s.Platforms[i].Totals.Rate()
	}
	s.PassRateStats = rateStats(s.Platforms)

	if kind == KindIssues {
		s.BySeverity = countBy(rows, cols.Column(columns.FieldSeverity))
		s.ByStatus = countBy(rows, cols.Column(columns.FieldStatus))
	}

	return s
}

// rateStats covers platforms that executed at least one test.
// Returns nil when there are none.
func rateStats(platforms []PlatformSummary) *RateStats {
	var rates stats.Float64Data
	for _, p := range platforms {
		if p.Executed > 0 {
			rates = append(rates, p.PassRate)
		}
	}
	if len(rates) == 0 {
		return nil
	}

	mean, _ := rates.Mean()
	median, _ := rates.Median()
	lo, _ := rates.Min()
	hi, _ := rates.Max()
	sd, _ := rates.StandardDeviation()

	return &RateStats{
		Mean:   round2(mean),
		Median: round2(median),
		Min:    lo,
		Max:    hi,
		StdDev: round2(sd),
	}
}

// countBy counts rows per label, grouped case-insensitively, largest first.
func countBy(rows []sheet.Record, col columns.Column) []Count {
	if !col.Found {
		return nil
	}

	index := make(map[string]int)
	var counts []Count
	for _, rec := range rows {
		label := labelOf(columns.Text(rec, col))
		key := strings.ToLower(label)
		i, ok := index[key]
		if !ok {
			i = len(counts)
			index[key] = i
			counts = append(counts, Count{Label: label})
		}
		counts[i].Count++
	}

	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Count > counts[j].Count
	})
	return counts
}

func labelOf(s string) string {
	if s == "" {
		return Unspecified
	}
	return s
}

func round2(x float64) float64 {
	r, err := stats.Round(x, 2)
	if err != nil {
		return x
	}
	return r
}

// BuildGroup is a set of build labels the comparator treats as the same build.
type BuildGroup struct {
	Build    string   `json:"build"`
	Variants []string `json:"variants"`
	Rows     int      `json:"rows"`
}

// BuildGroups groups the distinct build labels of rows by comparator
// equivalence. Groups and variants keep first-appearance order; a label joins
// the first group whose representative it equals. Blank labels are skipped.
func BuildGroups(rows []sheet.Record, cols columns.Resolution) []BuildGroup {
	groups := []BuildGroup{}
	col := cols.Column(columns.FieldBuild)
	if !col.Found {
		return groups
	}

	seen := make(map[string]int)
	for _, rec := range rows {
		label := columns.Text(rec, col)
		if label == "" {
			continue
		}
		if i, ok := seen[label]; ok {
			groups[i].Rows++
			continue
		}

		i := -1
		for j := range groups {
			if buildver.Equal(groups[j].Build, label) {
				i = j
				break
			}
		}
		if i < 0 {
			i = len(groups)
			groups = append(groups, BuildGroup{Build: label})
		}
		groups[i].Variants = append(groups[i].Variants, label)
		groups[i].Rows++
		seen[label] = i
	}
	return groups
}
