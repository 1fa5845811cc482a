package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS refresh_history (
	id           uuid PRIMARY KEY,
	source_key   text        NOT NULL,
	started_at   timestamptz NOT NULL,
	duration_ms  bigint      NOT NULL,
	row_count    integer     NOT NULL,
	header_count integer     NOT NULL,
	status       text        NOT NULL,
	error        text
);
CREATE INDEX IF NOT EXISTS refresh_history_source_started_idx
	ON refresh_history (source_key, started_at DESC);
`

// PgStore stores refresh history in PostgreSQL.
type PgStore struct {
	db DBTX
}

// NewPgStore creates a store on top of a pool or transaction.
func NewPgStore(db DBTX) *PgStore {
	return &PgStore{db: db}
}

// EnsureSchema creates the refresh_history table if it does not exist.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create refresh_history: %w", err)
	}
	return nil
}

// Record implements Store.
func (s *PgStore) Record(ctx context.Context, e Entry) error {
	e, err := prepare(e)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO refresh_history
			(id, source_key, started_at, duration_ms, row_count, header_count, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ToPgUUID(e.ID),
		e.SourceKey,
		ToPgTimestamptz(e.StartedAt),
		e.Duration.Milliseconds(),
		int32(e.Rows),
		int32(e.Headers),
		string(e.Status),
		ToPgText(e.Error),
	)
	if err != nil {
		return fmt.Errorf("insert refresh history: %w", err)
	}
	return nil
}

// List implements Store.
func (s *PgStore) List(ctx context.Context, sourceKey string, limit int) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, source_key, started_at, duration_ms, row_count, header_count, status, error
		FROM refresh_history
		WHERE source_key = $1
		ORDER BY started_at DESC
		LIMIT $2`,
		sourceKey, normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query refresh history: %w", err)
	}

	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("scan refresh history: %w", err)
	}
	return entries, nil
}

// Purge implements Store.
func (s *PgStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM refresh_history WHERE started_at < $1`,
		ToPgTimestamptz(before),
	)
	if err != nil {
		return 0, fmt.Errorf("purge refresh history: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEntry(row pgx.CollectableRow) (Entry, error) {
	var (
		id         pgtype.UUID
		sourceKey  string
		startedAt  pgtype.Timestamptz
		durationMs int64
		rowCount   int32
		headers    int32
		status     string
		errText    pgtype.Text
	)
	if err := row.Scan(&id, &sourceKey, &startedAt, &durationMs, &rowCount, &headers, &status, &errText); err != nil {
		return Entry{}, err
	}

	return Entry{
		ID:        FromPgUUID(id),
		SourceKey: sourceKey,
		StartedAt: startedAt.Time,
		Duration:  time.Duration(durationMs) * time.Millisecond,
		Rows:      int(rowCount),
		Headers:   int(headers),
		Status:    Status(status),
		Error:     errText.String,
	}, nil
}
