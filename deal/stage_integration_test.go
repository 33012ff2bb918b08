package deal_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dealflow/condition"
	"dealflow/deal"
	"dealflow/timeline"
)

// TestStageLifecycle_Integration connects to a real PostgreSQL via
// DATABASE_URL and drives a deal through blocked and successful transitions.
func TestStageLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "deals") || !tableExists(ctx, t, pool, "deal_events") || !tableExists(ctx, t, pool, "legal_conditions") {
		t.Skip("database schema missing; apply migrations/ first")
	}

	var userID string
	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name) VALUES ($1, $2) RETURNING id`,
		fmt.Sprintf("sam+%d@example.com", time.Now().UnixNano()), "Sam Dispo").Scan(&userID); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	var dealID string
	if err := pool.QueryRow(ctx, `
        INSERT INTO deals (address, legal_stage) VALUES ($1, 'UNDER_CONTRACT') RETURNING id
    `, fmt.Sprintf("118 Maple Ave %d", time.Now().UnixNano())).Scan(&dealID); err != nil {
		t.Fatalf("seed deal: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `ALTER TABLE deal_events DISABLE TRIGGER deal_events_no_rewrite`)
		pool.Exec(ctx2, `DELETE FROM deal_events WHERE deal_id = $1`, dealID)
		pool.Exec(ctx2, `ALTER TABLE deal_events ENABLE TRIGGER deal_events_no_rewrite`)
		pool.Exec(ctx2, `DELETE FROM legal_conditions WHERE deal_id = $1`, dealID)
		pool.Exec(ctx2, `DELETE FROM deals WHERE id = $1`, dealID)
		pool.Exec(ctx2, `DELETE FROM users WHERE id = $1`, userID)
	})

	events := timeline.NewWriter()
	registry := condition.NewRegistry(pool, events)
	svc := deal.NewStageService(pool, registry, events)

	// A blocking condition rejects the advance.
	cond, err := registry.Open(ctx, condition.OpenParams{
		DealID:   dealID,
		Category: condition.CategoryLien,
		Severity: condition.SeverityBlocking,
		Summary:  "open lien of record",
		ActorID:  userID,
	})
	if err != nil {
		t.Fatalf("open condition: %v", err)
	}

	_, _, err = svc.Advance(ctx, dealID, deal.StageAssignmentInProgress, userID)
	var blocked *deal.BlockedTransitionError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedTransitionError, got %v", err)
	}

	state, err := svc.Get(ctx, dealID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Stage != deal.StageUnderContract {
		t.Fatalf("blocked advance must not move the stage, got %s", state.Stage)
	}

	// Resolving the condition clears the path.
	if _, err := registry.Resolve(ctx, cond.ID, userID); err != nil {
		t.Fatalf("resolve condition: %v", err)
	}
	// Resolve is idempotent.
	if _, err := registry.Resolve(ctx, cond.ID, userID); err != nil {
		t.Fatalf("second resolve: %v", err)
	}

	state, warnings, err := svc.Advance(ctx, dealID, deal.StageAssignmentInProgress, userID)
	if err != nil {
		t.Fatalf("advance after resolve: %v", err)
	}
	if state.Stage != deal.StageAssignmentInProgress {
		t.Fatalf("expected ASSIGNMENT_IN_PROGRESS, got %s", state.Stage)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	// The transition landed in the audit log.
	repo := timeline.NewRepository(pool)
	list, err := repo.List(ctx, dealID, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(list) == 0 {
		t.Fatal("expected events")
	}
	latest := list[0]
	if latest.Type != timeline.EventStageTransition {
		t.Fatalf("expected stage_transition, got %s", latest.Type)
	}
	if latest.Payload["newStage"] != "ASSIGNMENT_IN_PROGRESS" || latest.Payload["isRollback"] != false {
		t.Fatalf("unexpected payload: %+v", latest.Payload)
	}

	// The audit log rejects mutation.
	if _, err := pool.Exec(ctx, `UPDATE deal_events SET event_type='tampered' WHERE id=$1`, latest.ID); err == nil {
		t.Fatal("expected append-only trigger to reject UPDATE")
	}

	// Rollback reverses exactly one stage and marks the event.
	state, err = svc.Rollback(ctx, dealID, "assignment fell through", userID)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if state.Stage != deal.StageUnderContract {
		t.Fatalf("expected UNDER_CONTRACT after rollback, got %s", state.Stage)
	}

	// MarkDead terminates the deal and blocks further motion.
	state, err = svc.MarkDead(ctx, dealID, "seller backed out", userID)
	if err != nil {
		t.Fatalf("mark dead: %v", err)
	}
	if state.Stage != deal.StageDead {
		t.Fatalf("expected DEAD, got %s", state.Stage)
	}
	if _, _, err := svc.Advance(ctx, dealID, deal.StageUnderContract, userID); !errors.Is(err, deal.ErrTerminalStage) {
		t.Fatalf("expected ErrTerminalStage, got %v", err)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (
        SELECT 1 FROM information_schema.tables WHERE table_name = $1
    )`, name).Scan(&exists); err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
