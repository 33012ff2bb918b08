// Package timeline is the append-only audit trail for deals. Nothing in the
// module updates or deletes rows here; the events are the ground truth for
// every time-based heuristic downstream.
package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Event types written by the other domain packages.
const (
	EventStageTransition   = "stage_transition"
	EventMetadataUpdated   = "metadata_updated"
	EventConditionOpened   = "condition_opened"
	EventConditionResolved = "condition_resolved"
)

// Event mirrors the deal_events table.
type Event struct {
	ID        int64
	DealID    string
	Type      string
	Payload   map[string]any
	ActorID   *string
	CreatedAt time.Time
}

// Writer appends events inside a caller-owned transaction so the event lands
// atomically with the write it describes.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Append(ctx context.Context, tx pgx.Tx, dealID, eventType string, actorID *string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("timeline: marshal payload: %w", err)
	}

	var actor any
	if actorID != nil && *actorID != "" {
		actor = *actorID
	}

	const q = `INSERT INTO deal_events (deal_id, event_type, payload, actor_id) VALUES ($1, $2, $3::jsonb, $4::uuid)`
	if _, err := tx.Exec(ctx, q, dealID, eventType, body, actor); err != nil {
		return fmt.Errorf("timeline: append event: %w", err)
	}
	return nil
}

// Repository provides read access to the event log.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns the deal's events newest-first.
func (r *Repository) List(ctx context.Context, dealID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	const query = `
		SELECT id, deal_id, event_type, payload, actor_id::text, created_at
		FROM deal_events
		WHERE deal_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, dealID, limit)
	if err != nil {
		return nil, fmt.Errorf("timeline: list events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, 16)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timeline: iterate events: %w", err)
	}
	return out, nil
}

func scanEvent(row pgx.Row) (Event, error) {
	var (
		ev      Event
		body    []byte
		actorID *string
	)
	if err := row.Scan(&ev.ID, &ev.DealID, &ev.Type, &body, &actorID, &ev.CreatedAt); err != nil {
		return Event{}, fmt.Errorf("timeline: scan event: %w", err)
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &ev.Payload); err != nil {
			return Event{}, fmt.Errorf("timeline: decode payload: %w", err)
		}
	}
	ev.ActorID = actorID
	return ev, nil
}
