package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/qadash/internal/columns"
	"github.com/JonMunkholm/qadash/internal/sheet"
)

// Snapshot is one parsed copy of a source. Snapshots are never mutated after
// creation; a refresh replaces the whole value.
type Snapshot struct {
	Source    Source             `json:"source"`
	Table     *sheet.Table       `json:"table"`
	Columns   columns.Resolution `json:"columns"`
	FetchedAt time.Time          `json:"fetchedAt"`
	RefreshID uuid.UUID          `json:"refreshId"`
}

// NewSnapshot parses text and resolves its headers against aliases.
func NewSnapshot(src Source, text string, aliases columns.Aliases) *Snapshot {
	table := sheet.Parse(text)
	return &Snapshot{
		Source:    src,
		Table:     table,
		Columns:   columns.Resolve(table.Headers, aliases),
		FetchedAt: time.Now().UTC(),
		RefreshID: uuid.New(),
	}
}

// Rows returns the rows that pass f.
func (s *Snapshot) Rows(f Filter) []sheet.Record {
	return f.Apply(s.Table, s.Columns)
}

// Summarize aggregates the rows that pass f.
func (s *Snapshot) Summarize(f Filter) Summary {
	sum := Summarize(s.Rows(f), s.Columns, s.Source.Kind)
	sum.Source = s.Source.Key
	sum.Filter = f
	return sum
}

// Builds groups the build labels of the whole table.
func (s *Snapshot) Builds() []BuildGroup {
	return BuildGroups(s.Table.Rows, s.Columns)
}
