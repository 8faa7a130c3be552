package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/keygate/internal/model"
	"github.com/jmoiron/sqlx"
)

// EventFilter narrows an events report. Zero fields do not filter.
type EventFilter struct {
	Credential string // fingerprint
	Type       model.EventType
	Since      time.Time
	Limit      int
	Offset     int
}

type TypeCount struct {
	Type  model.EventType `db:"type" json:"type"`
	Count uint64          `db:"count" json:"count"`
}

// CHEventsRepository stores and reports credential events in ClickHouse.
type CHEventsRepository interface {
	InsertBatch(ctx context.Context, events []model.Event) error
	List(ctx context.Context, f EventFilter) ([]model.Event, error)
	CountByType(ctx context.Context, since time.Time) ([]TypeCount, error)
}

type chEventsRepository struct {
	ch *sqlx.DB
}

func NewCHEventsRepository(ch *sqlx.DB) CHEventsRepository {
	return &chEventsRepository{ch: ch}
}

// InsertBatch sends the whole batch as one ClickHouse block. Rows are
// deduplicated by id at merge time, so redelivered events are harmless.
func (r *chEventsRepository) InsertBatch(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("events.insert: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO credential_events (id, type, credential, reason, occurred_at)")
	if err != nil {
		return fmt.Errorf("events.insert: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.ID, e.Type.String(), e.Credential, e.Reason, e.OccurredAt.UTC()); err != nil {
			return fmt.Errorf("events.insert: append %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("events.insert: send: %w", err)
	}
	return nil
}

func (r *chEventsRepository) List(ctx context.Context, f EventFilter) ([]model.Event, error) {
	q, args := buildListQuery(f)

	var rows []model.Event
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("events.list: %w", err)
	}
	return rows, nil
}

func buildListQuery(f EventFilter) (string, []any) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := `
		SELECT id, type, credential, reason, occurred_at
		FROM credential_events FINAL
		WHERE 1 = 1
	`
	var args []any

	if f.Credential != "" {
		q += " AND credential = ?"
		args = append(args, f.Credential)
	}
	if f.Type != "" {
		q += " AND type = ?"
		args = append(args, f.Type.String())
	}
	if !f.Since.IsZero() {
		q += " AND occurred_at >= ?"
		args = append(args, f.Since.UTC())
	}

	q += " ORDER BY occurred_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)
	return q, args
}

func (r *chEventsRepository) CountByType(ctx context.Context, since time.Time) ([]TypeCount, error) {
	var rows []TypeCount
	err := r.ch.SelectContext(ctx, &rows, `
		SELECT type, count() AS count
		FROM credential_events FINAL
		WHERE occurred_at >= ?
		GROUP BY type
		ORDER BY type
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("events.count_by_type: %w", err)
	}
	return rows, nil
}
