// Package history records the outcome of every sheet refresh.
//
// Entries are written by the report service after each fetch+parse cycle,
// whether it succeeded or not, and are listed newest first. A PostgreSQL
// store is used when a database is configured; otherwise refresh history is
// kept in memory and lost on restart.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of one refresh.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// DefaultListLimit is used when List is called with a non-positive limit.
const DefaultListLimit = 50

// ErrNoSource is returned when an entry has no source key.
var ErrNoSource = errors.New("history entry has no source key")

// Entry is one refresh attempt for a source.
type Entry struct {
	ID        uuid.UUID     `json:"id"`
	SourceKey string        `json:"sourceKey"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"-"`
	Rows      int           `json:"rows"`
	Headers   int           `json:"headers"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
}

// MarshalJSON reports the duration in milliseconds.
func (e Entry) MarshalJSON() ([]byte, error) {
	type alias Entry
	return json.Marshal(struct {
		alias
		DurationMs int64 `json:"durationMs"`
	}{alias(e), e.Duration.Milliseconds()})
}

// Store persists refresh history.
type Store interface {
	// Record saves an entry. A zero ID is replaced with a new UUID.
	Record(ctx context.Context, e Entry) error

	// List returns up to limit entries for a source, newest first.
	List(ctx context.Context, sourceKey string, limit int) ([]Entry, error)

	// Purge deletes entries that started before the cutoff and returns the count.
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// prepare validates an entry and fills defaults.
func prepare(e Entry) (Entry, error) {
	if e.SourceKey == "" {
		return e, ErrNoSource
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	if e.Status == "" {
		e.Status = StatusOK
		if e.Error != "" {
			e.Status = StatusFailed
		}
	}
	return e, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
