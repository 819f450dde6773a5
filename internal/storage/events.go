package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const defaultListLimit = 100

// InsertEvents appends records in a single batch.
func (p *PostgresClient) InsertEvents(ctx context.Context, records []EventRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO rig_events (session_id, station_id, tag, clock_us, recorded_at)
			VALUES ($1, $2, $3, $4, $5)
		`, r.SessionID, r.StationID, r.Tag, int64(r.ClockMicros), r.RecordedAt)
	}

	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert events: %w", err)
	}
	return nil
}

// ListEvents returns the newest matching events, newest first.
func (p *PostgresClient) ListEvents(ctx context.Context, filter EventFilter) ([]EventRecord, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, session_id, station_id, tag, clock_us, recorded_at
		FROM rig_events
		WHERE ($1::uuid IS NULL OR session_id = $1)
		  AND ($2 = 0 OR station_id = $2)
		ORDER BY id DESC
		LIMIT $3
	`

	var session any
	if filter.SessionID != uuid.Nil {
		session = filter.SessionID
	}

	rows, err := p.pool.Query(ctx, query, session, filter.StationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	records := make([]EventRecord, 0)
	for rows.Next() {
		var (
			r       EventRecord
			clockUs int64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.StationID, &r.Tag, &clockUs, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		r.ClockMicros = uint32(clockUs)
		r.Line = fmt.Sprintf("%s %d", r.Tag, r.StationID)
		records = append(records, r)
	}

	return records, rows.Err()
}
