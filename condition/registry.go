package condition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrConditionNotFound signals an unknown condition id.
	ErrConditionNotFound = errors.New("condition: not found")
	// ErrDealNotFound signals an unknown deal id.
	ErrDealNotFound = errors.New("condition: deal not found")
)

// EventWriter appends an audit event inside the caller's transaction.
type EventWriter interface {
	Append(ctx context.Context, tx pgx.Tx, dealID, eventType string, actorID *string, payload map[string]any) error
}

// BlockerReport is the live derived view of a deal's open conditions.
type BlockerReport struct {
	Blockers     []string
	Warnings     []string
	CurrentStage string
}

// OpenParams carries the fields recorded when an operator logs an issue.
type OpenParams struct {
	DealID   string
	Category Category
	Severity Severity
	Summary  string
	Details  *string
	Source   *string
	ActorID  string
}

// Registry is the CRUD + lifecycle surface for legal conditions.
type Registry struct {
	pool   *pgxpool.Pool
	events EventWriter
	ids    func() string
	now    func() time.Time
}

func NewRegistry(pool *pgxpool.Pool, events EventWriter) *Registry {
	return &Registry{
		pool:   pool,
		events: events,
		ids:    func() string { return uuid.NewString() },
		now:    time.Now,
	}
}

func (r *Registry) WithIDGenerator(gen func() string) *Registry {
	r.ids = gen
	return r
}

func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

const conditionColumns = `id, deal_id, category::text, severity::text, status::text, summary, details, source, discovered_at, resolved_at`

// Open records a new OPEN condition and its audit event atomically.
func (r *Registry) Open(ctx context.Context, params OpenParams) (Condition, error) {
	params.Summary = strings.TrimSpace(params.Summary)
	if params.Summary == "" {
		return Condition{}, fmt.Errorf("condition: summary required")
	}
	if _, err := ParseCategory(string(params.Category)); err != nil {
		return Condition{}, err
	}
	if _, err := ParseSeverity(string(params.Severity)); err != nil {
		return Condition{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Condition{}, fmt.Errorf("condition: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM deals WHERE id=$1)`, params.DealID).Scan(&exists); err != nil {
		return Condition{}, fmt.Errorf("condition: verify deal: %w", err)
	}
	if !exists {
		return Condition{}, ErrDealNotFound
	}

	const insertSQL = `
		INSERT INTO legal_conditions (id, deal_id, category, severity, summary, details, source)
		VALUES ($1, $2, $3::condition_category, $4::condition_severity, $5, $6, $7)
		RETURNING ` + conditionColumns

	row := tx.QueryRow(ctx, insertSQL,
		r.ids(), params.DealID, params.Category, params.Severity, params.Summary, params.Details, params.Source)
	cond, err := scanCondition(row)
	if err != nil {
		return Condition{}, fmt.Errorf("condition: insert: %w", err)
	}

	payload := map[string]any{
		"conditionId": cond.ID,
		"category":    string(cond.Category),
		"severity":    string(cond.Severity),
		"summary":     cond.Summary,
	}
	if params.ActorID != "" {
		payload["userId"] = params.ActorID
	}
	var actor *string
	if params.ActorID != "" {
		actor = &params.ActorID
	}
	if err := r.events.Append(ctx, tx, params.DealID, "condition_opened", actor, payload); err != nil {
		return Condition{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Condition{}, fmt.Errorf("condition: commit open: %w", err)
	}
	return cond, nil
}

// Resolve flips OPEN to RESOLVED. Resolving an already-resolved condition is
// a no-op returning the current row: resolvedAt never moves.
func (r *Registry) Resolve(ctx context.Context, conditionID, actorID string) (Condition, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Condition{}, fmt.Errorf("condition: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const updateSQL = `
		UPDATE legal_conditions
		SET status='RESOLVED', resolved_at=now()
		WHERE id=$1 AND status='OPEN'
		RETURNING ` + conditionColumns

	row := tx.QueryRow(ctx, updateSQL, conditionID)
	cond, err := scanCondition(row)
	switch {
	case err == nil:
		payload := map[string]any{
			"conditionId": cond.ID,
			"severity":    string(cond.Severity),
			"summary":     cond.Summary,
		}
		if actorID != "" {
			payload["userId"] = actorID
		}
		var actor *string
		if actorID != "" {
			actor = &actorID
		}
		if err := r.events.Append(ctx, tx, cond.DealID, "condition_resolved", actor, payload); err != nil {
			return Condition{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Condition{}, fmt.Errorf("condition: commit resolve: %w", err)
		}
		return cond, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Either already resolved or unknown; disambiguate below.
	default:
		return Condition{}, fmt.Errorf("condition: resolve: %w", err)
	}

	row = tx.QueryRow(ctx, `SELECT `+conditionColumns+` FROM legal_conditions WHERE id=$1`, conditionID)
	cond, err = scanCondition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Condition{}, ErrConditionNotFound
		}
		return Condition{}, fmt.Errorf("condition: resolve fetch: %w", err)
	}
	return cond, nil
}

// ListBlockers derives the live blocker/warning summaries plus the deal's
// current stage. Nothing here is stored; it is recomputed on every call.
func (r *Registry) ListBlockers(ctx context.Context, dealID string) (BlockerReport, error) {
	var stage string
	if err := r.pool.QueryRow(ctx, `SELECT legal_stage::text FROM deals WHERE id=$1`, dealID).Scan(&stage); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BlockerReport{}, ErrDealNotFound
		}
		return BlockerReport{}, fmt.Errorf("condition: load stage: %w", err)
	}

	const query = `
		SELECT severity::text, summary
		FROM legal_conditions
		WHERE deal_id = $1 AND status = 'OPEN'
		ORDER BY discovered_at ASC
	`
	rows, err := r.pool.Query(ctx, query, dealID)
	if err != nil {
		return BlockerReport{}, fmt.Errorf("condition: list open: %w", err)
	}
	defer rows.Close()

	report := BlockerReport{Blockers: []string{}, Warnings: []string{}, CurrentStage: stage}
	for rows.Next() {
		var severity, summary string
		if err := rows.Scan(&severity, &summary); err != nil {
			return BlockerReport{}, fmt.Errorf("condition: scan open: %w", err)
		}
		if Severity(severity) == SeverityBlocking {
			report.Blockers = append(report.Blockers, summary)
		} else {
			report.Warnings = append(report.Warnings, summary)
		}
	}
	if err := rows.Err(); err != nil {
		return BlockerReport{}, fmt.Errorf("condition: iterate open: %w", err)
	}
	return report, nil
}

// ListIssues partitions a deal's conditions into open and resolved.
func (r *Registry) ListIssues(ctx context.Context, dealID string) (open, resolved []Condition, err error) {
	const query = `
		SELECT ` + conditionColumns + `
		FROM legal_conditions
		WHERE deal_id = $1
		ORDER BY discovered_at DESC
	`
	rows, err := r.pool.Query(ctx, query, dealID)
	if err != nil {
		return nil, nil, fmt.Errorf("condition: list issues: %w", err)
	}
	defer rows.Close()

	open, resolved = []Condition{}, []Condition{}
	for rows.Next() {
		cond, err := scanCondition(rows)
		if err != nil {
			return nil, nil, err
		}
		if cond.Status == StatusOpen {
			open = append(open, cond)
		} else {
			resolved = append(resolved, cond)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("condition: iterate issues: %w", err)
	}
	return open, resolved, nil
}

// OpenSummaries reports the open condition summaries inside the caller's
// transaction, split by severity. It backs the stage machine's blocker gate.
func (r *Registry) OpenSummaries(ctx context.Context, tx pgx.Tx, dealID string) (blocking, risky []string, err error) {
	const query = `
		SELECT severity::text, summary
		FROM legal_conditions
		WHERE deal_id = $1 AND status = 'OPEN'
		ORDER BY discovered_at ASC
	`
	rows, err := tx.Query(ctx, query, dealID)
	if err != nil {
		return nil, nil, fmt.Errorf("condition: open summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var severity, summary string
		if err := rows.Scan(&severity, &summary); err != nil {
			return nil, nil, fmt.Errorf("condition: scan summary: %w", err)
		}
		if Severity(severity) == SeverityBlocking {
			blocking = append(blocking, summary)
		} else {
			risky = append(risky, summary)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("condition: iterate summaries: %w", err)
	}
	return blocking, risky, nil
}

func scanCondition(row pgx.Row) (Condition, error) {
	var (
		cond     Condition
		category string
		severity string
		status   string
	)
	err := row.Scan(
		&cond.ID,
		&cond.DealID,
		&category,
		&severity,
		&status,
		&cond.Summary,
		&cond.Details,
		&cond.Source,
		&cond.DiscoveredAt,
		&cond.ResolvedAt,
	)
	if err != nil {
		return Condition{}, err
	}
	cond.Category = Category(category)
	cond.Severity = Severity(severity)
	cond.Status = Status(status)
	return cond, nil
}
