package deal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrDealNotFound is returned when no deal row exists for the identifier.
	ErrDealNotFound = errors.New("deal: not found")
	// ErrInvalidTransition signals a non-adjacent or backward target stage.
	ErrInvalidTransition = errors.New("deal: invalid stage transition")
	// ErrTerminalStage signals an attempt to move a CLOSED or DEAD deal.
	ErrTerminalStage = errors.New("deal: stage is terminal")
	// ErrStaleState signals a lost concurrent-modification race; the caller
	// should refetch and retry.
	ErrStaleState = errors.New("deal: stale stage, refetch and retry")
)

// BlockedTransitionError carries the open blocker summaries so the API layer
// can render exactly why the advance was rejected.
type BlockedTransitionError struct {
	Blockers []string
}

func (e *BlockedTransitionError) Error() string {
	return fmt.Sprintf("deal: transition blocked by %d open condition(s)", len(e.Blockers))
}

// Pool is the subset of pgxpool.Pool the service needs.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// BlockerSource reports the open condition summaries for a deal inside the
// caller's transaction, split by severity.
type BlockerSource interface {
	OpenSummaries(ctx context.Context, tx pgx.Tx, dealID string) (blocking, risky []string, err error)
}

// EventWriter appends an audit event inside the caller's transaction.
type EventWriter interface {
	Append(ctx context.Context, tx pgx.Tx, dealID, eventType string, actorID *string, payload map[string]any) error
}

// StageService owns the legal stage lifecycle. Every mutation locks the deal
// row and appends its audit event in the same transaction.
type StageService struct {
	pool       Pool
	conditions BlockerSource
	events     EventWriter
	now        func() time.Time
}

func NewStageService(pool Pool, conditions BlockerSource, events EventWriter) *StageService {
	return &StageService{
		pool:       pool,
		conditions: conditions,
		events:     events,
		now:        time.Now,
	}
}

func (s *StageService) WithClock(now func() time.Time) *StageService {
	s.now = now
	return s
}

const stateColumns = `id, legal_stage::text, contract_metadata, assignment_metadata, title_metadata, updated_at`

// Get returns the deal's legal state.
func (s *StageService) Get(ctx context.Context, dealID string) (LegalState, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+stateColumns+` FROM deals WHERE id=$1`, dealID)
	state, err := scanState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LegalState{}, ErrDealNotFound
		}
		return LegalState{}, fmt.Errorf("deal: get state: %w", err)
	}
	return state, nil
}

// Advance moves the deal to the immediate successor of its current stage.
// Open BLOCKING conditions reject the transition; open RISKY conditions are
// returned as advisory warnings alongside success.
func (s *StageService) Advance(ctx context.Context, dealID string, target Stage, actorID string) (LegalState, []string, error) {
	if target.ordinal() < 0 {
		return LegalState{}, nil, ErrInvalidTransition
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return LegalState{}, nil, fmt.Errorf("deal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := lockStage(ctx, tx, dealID)
	if err != nil {
		return LegalState{}, nil, err
	}
	if current.IsTerminal() {
		return LegalState{}, nil, ErrTerminalStage
	}

	next, ok := current.Next()
	switch {
	case ok && target == next:
		// adjacency holds
	case target == current:
		// Another request already landed this transition; the caller's view
		// of the current stage is stale.
		return LegalState{}, nil, ErrStaleState
	default:
		return LegalState{}, nil, ErrInvalidTransition
	}

	blocking, risky, err := s.conditions.OpenSummaries(ctx, tx, dealID)
	if err != nil {
		return LegalState{}, nil, fmt.Errorf("deal: load open conditions: %w", err)
	}
	if len(blocking) > 0 {
		return LegalState{}, nil, &BlockedTransitionError{Blockers: blocking}
	}

	state, err := s.writeStage(ctx, tx, dealID, target)
	if err != nil {
		return LegalState{}, nil, err
	}

	if err := s.appendTransition(ctx, tx, dealID, current, target, false, actorID, nil); err != nil {
		return LegalState{}, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return LegalState{}, nil, fmt.Errorf("deal: commit advance: %w", err)
	}
	return state, risky, nil
}

// MarkDead moves any non-terminal deal directly to DEAD. A reason is
// mandatory; it ends up in the audit event.
func (s *StageService) MarkDead(ctx context.Context, dealID, reason, actorID string) (LegalState, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return LegalState{}, fmt.Errorf("deal: mark dead requires a reason")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return LegalState{}, fmt.Errorf("deal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := lockStage(ctx, tx, dealID)
	if err != nil {
		return LegalState{}, err
	}
	if current.IsTerminal() {
		return LegalState{}, ErrTerminalStage
	}

	state, err := s.writeStage(ctx, tx, dealID, StageDead)
	if err != nil {
		return LegalState{}, err
	}

	extra := map[string]any{"reason": reason}
	if err := s.appendTransition(ctx, tx, dealID, current, StageDead, false, actorID, extra); err != nil {
		return LegalState{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return LegalState{}, fmt.Errorf("deal: commit mark dead: %w", err)
	}
	return state, nil
}

// Rollback reverses exactly one stage. Blocker checks do not apply; the
// audit event records isRollback so downstream consumers can tell reversals
// from forward motion.
func (s *StageService) Rollback(ctx context.Context, dealID, reason, actorID string) (LegalState, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return LegalState{}, fmt.Errorf("deal: rollback requires a reason")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return LegalState{}, fmt.Errorf("deal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := lockStage(ctx, tx, dealID)
	if err != nil {
		return LegalState{}, err
	}
	if current.IsTerminal() {
		return LegalState{}, ErrTerminalStage
	}

	prev, ok := current.Prev()
	if !ok {
		return LegalState{}, ErrInvalidTransition
	}

	state, err := s.writeStage(ctx, tx, dealID, prev)
	if err != nil {
		return LegalState{}, err
	}

	extra := map[string]any{"reason": reason}
	if err := s.appendTransition(ctx, tx, dealID, current, prev, true, actorID, extra); err != nil {
		return LegalState{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return LegalState{}, fmt.Errorf("deal: commit rollback: %w", err)
	}
	return state, nil
}

// UpdateMetadata replaces one metadata panel and appends a metadata_updated
// event in the same transaction.
func (s *StageService) UpdateMetadata(ctx context.Context, dealID, kind string, raw json.RawMessage, actorID string) (LegalState, error) {
	var (
		column string
		body   []byte
	)
	switch kind {
	case MetadataContract:
		var m ContractMetadata
		if err := unmarshalStrict(raw, &m); err != nil {
			return LegalState{}, err
		}
		if err := m.Validate(); err != nil {
			return LegalState{}, err
		}
		column = "contract_metadata"
		body = mustMarshal(m)
	case MetadataAssignment:
		var m AssignmentMetadata
		if err := unmarshalStrict(raw, &m); err != nil {
			return LegalState{}, err
		}
		if err := m.Validate(); err != nil {
			return LegalState{}, err
		}
		column = "assignment_metadata"
		body = mustMarshal(m)
	case MetadataTitle:
		var m TitleMetadata
		if err := unmarshalStrict(raw, &m); err != nil {
			return LegalState{}, err
		}
		if err := m.Validate(); err != nil {
			return LegalState{}, err
		}
		column = "title_metadata"
		body = mustMarshal(m)
	default:
		return LegalState{}, fmt.Errorf("deal: unknown metadata kind %q", kind)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return LegalState{}, fmt.Errorf("deal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := lockStage(ctx, tx, dealID); err != nil {
		return LegalState{}, err
	}

	row := tx.QueryRow(ctx, `
        UPDATE deals SET `+column+`=$1::jsonb, updated_at=now()
        WHERE id=$2
        RETURNING `+stateColumns, body, dealID)
	state, err := scanState(row)
	if err != nil {
		return LegalState{}, fmt.Errorf("deal: update metadata: %w", err)
	}

	payload := map[string]any{"kind": kind}
	if actorID != "" {
		payload["userId"] = actorID
	}
	actor := actorPtr(actorID)
	if err := s.events.Append(ctx, tx, dealID, "metadata_updated", actor, payload); err != nil {
		return LegalState{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return LegalState{}, fmt.Errorf("deal: commit metadata update: %w", err)
	}
	return state, nil
}

func (s *StageService) writeStage(ctx context.Context, tx pgx.Tx, dealID string, target Stage) (LegalState, error) {
	row := tx.QueryRow(ctx, `
        UPDATE deals SET legal_stage=$1::deal_stage, updated_at=now()
        WHERE id=$2
        RETURNING `+stateColumns, target, dealID)
	state, err := scanState(row)
	if err != nil {
		return LegalState{}, fmt.Errorf("deal: write stage: %w", err)
	}
	return state, nil
}

func (s *StageService) appendTransition(ctx context.Context, tx pgx.Tx, dealID string, from, to Stage, rollback bool, actorID string, extra map[string]any) error {
	payload := map[string]any{
		"previousStage": string(from),
		"newStage":      string(to),
		"isRollback":    rollback,
	}
	if actorID != "" {
		payload["userId"] = actorID
	}
	for k, v := range extra {
		payload[k] = v
	}
	return s.events.Append(ctx, tx, dealID, "stage_transition", actorPtr(actorID), payload)
}

func lockStage(ctx context.Context, tx pgx.Tx, dealID string) (Stage, error) {
	var raw string
	if err := tx.QueryRow(ctx, `SELECT legal_stage::text FROM deals WHERE id=$1 FOR UPDATE`, dealID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrDealNotFound
		}
		return "", fmt.Errorf("deal: lock stage: %w", err)
	}
	return Stage(raw), nil
}

func scanState(row pgx.Row) (LegalState, error) {
	var (
		state      LegalState
		contract   []byte
		assignment []byte
		title      []byte
		stage      string
	)
	if err := row.Scan(&state.DealID, &stage, &contract, &assignment, &title, &state.UpdatedAt); err != nil {
		return LegalState{}, err
	}
	state.Stage = Stage(stage)
	if len(contract) > 0 {
		if err := json.Unmarshal(contract, &state.Contract); err != nil {
			return LegalState{}, fmt.Errorf("decode contract metadata: %w", err)
		}
	}
	if len(assignment) > 0 {
		if err := json.Unmarshal(assignment, &state.Assignment); err != nil {
			return LegalState{}, fmt.Errorf("decode assignment metadata: %w", err)
		}
	}
	if len(title) > 0 {
		if err := json.Unmarshal(title, &state.Title); err != nil {
			return LegalState{}, fmt.Errorf("decode title metadata: %w", err)
		}
	}
	return state, nil
}

func unmarshalStrict(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("deal: decode metadata: %w", err)
	}
	return nil
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func actorPtr(actorID string) *string {
	if actorID == "" {
		return nil
	}
	return &actorID
}
