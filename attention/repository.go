package attention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dealflow/deal"
	"dealflow/timeline"
)

// ErrDealNotFound signals an unknown deal id.
var ErrDealNotFound = errors.New("attention: deal not found")

// snapshotEventLimit bounds how much history the rules look at. The windows
// top out at 30 days, so recent history is all that matters; the oldest-event
// proxy still works because deals see tens of events, not thousands.
const snapshotEventLimit = 200

// Repository assembles rule snapshots straight from the store. Read-only.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) ActiveDealIDs(ctx context.Context) ([]string, error) {
	const query = `
		SELECT id FROM deals
		WHERE legal_stage NOT IN ('CLOSED','DEAD')
		ORDER BY updated_at DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("attention: list active deals: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 32)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("attention: scan deal id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("attention: iterate deal ids: %w", err)
	}
	return ids, nil
}

func (r *Repository) Snapshot(ctx context.Context, dealID string) (Snapshot, error) {
	snap := Snapshot{DealID: dealID}

	var (
		stage string
		title []byte
	)
	err := r.pool.QueryRow(ctx, `SELECT legal_stage::text, title_metadata FROM deals WHERE id=$1`, dealID).
		Scan(&stage, &title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrDealNotFound
		}
		return Snapshot{}, fmt.Errorf("attention: load deal: %w", err)
	}
	snap.Stage = deal.Stage(stage)

	if len(title) > 0 {
		var meta deal.TitleMetadata
		// Malformed metadata degrades the close-date rule, not the snapshot.
		if err := json.Unmarshal(title, &meta); err == nil {
			snap.ExpectedCloseDate = meta.ExpectedCloseDate
		}
	}

	const eventsSQL = `
		SELECT id, deal_id, event_type, payload, actor_id::text, created_at
		FROM deal_events
		WHERE deal_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, eventsSQL, dealID, snapshotEventLimit)
	if err != nil {
		return Snapshot{}, fmt.Errorf("attention: load events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ev      timeline.Event
			body    []byte
			actorID *string
		)
		if err := rows.Scan(&ev.ID, &ev.DealID, &ev.Type, &body, &actorID, &ev.CreatedAt); err != nil {
			return Snapshot{}, fmt.Errorf("attention: scan event: %w", err)
		}
		if len(body) > 0 {
			_ = json.Unmarshal(body, &ev.Payload)
		}
		ev.ActorID = actorID
		snap.Events = append(snap.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("attention: iterate events: %w", err)
	}

	const blockersSQL = `
		SELECT summary FROM legal_conditions
		WHERE deal_id = $1 AND status = 'OPEN' AND severity = 'BLOCKING'
		ORDER BY discovered_at ASC
	`
	brows, err := r.pool.Query(ctx, blockersSQL, dealID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("attention: load blockers: %w", err)
	}
	defer brows.Close()

	for brows.Next() {
		var summary string
		if err := brows.Scan(&summary); err != nil {
			return Snapshot{}, fmt.Errorf("attention: scan blocker: %w", err)
		}
		snap.OpenBlockers = append(snap.OpenBlockers, summary)
	}
	if err := brows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("attention: iterate blockers: %w", err)
	}

	return snap, nil
}
