package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dealflow/condition"
	"dealflow/deal"
)

// Advancer repeatedly pushes the deal toward closing. Under contention most
// attempts lose: blocked transitions, stale reads and terminal stages are all
// expected outcomes, not failures.
func Advancer(ctx context.Context, svc *deal.StageService, dealID, userID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		state, err := svc.Get(ctx, dealID)
		if err != nil {
			if tolerable(err) {
				continue
			}
			return fmt.Errorf("advancer get: %w", err)
		}
		if next, ok := state.Stage.Next(); ok {
			if _, _, err := svc.Advance(ctx, dealID, next, userID); err != nil && !tolerable(err) {
				return fmt.Errorf("advancer advance: %w", err)
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Rollbacker occasionally drags the deal one stage back so the advancers have
// something to fight over for the whole run.
func Rollbacker(ctx context.Context, svc *deal.StageService, dealID, userID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if rand.Intn(4) == 0 {
			if _, err := svc.Rollback(ctx, dealID, "stress rollback", userID); err != nil && !tolerable(err) {
				return fmt.Errorf("rollbacker: %w", err)
			}
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// ConditionOpener logs random issues against the deal, mixing severities so
// advancers hit both hard blocks and advisory warnings.
func ConditionOpener(ctx context.Context, reg *condition.Registry, dealID, userID string, stop <-chan struct{}) error {
	categories := []condition.Category{
		condition.CategoryTitle, condition.CategoryLien, condition.CategoryProbate, condition.CategoryHOA,
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		severity := condition.SeverityRisky
		if rand.Intn(2) == 0 {
			severity = condition.SeverityBlocking
		}
		_, err := reg.Open(ctx, condition.OpenParams{
			DealID:   dealID,
			Category: categories[rand.Intn(len(categories))],
			Severity: severity,
			Summary:  fmt.Sprintf("stress issue %d", rand.Int63()),
			ActorID:  userID,
		})
		if err != nil && !tolerable(err) {
			return fmt.Errorf("opener: %w", err)
		}
		time.Sleep(time.Duration(40+rand.Intn(80)) * time.Millisecond)
	}
}

// ConditionResolver picks a random open condition and resolves it. Two
// resolvers racing on the same id must both succeed through the idempotent
// path.
func ConditionResolver(ctx context.Context, pool *pgxpool.Pool, reg *condition.Registry, dealID, userID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var condID string
		err := pool.QueryRow(ctx, `
            SELECT id FROM legal_conditions
            WHERE deal_id=$1 AND status='OPEN'
            ORDER BY random() LIMIT 1`, dealID).Scan(&condID)
		switch {
		case err == nil:
			if _, err := reg.Resolve(ctx, condID, userID); err != nil && !tolerable(err) {
				return fmt.Errorf("resolver: %w", err)
			}
		case errors.Is(err, pgx.ErrNoRows):
			// nothing open right now
		case !tolerable(err):
			return fmt.Errorf("resolver pick: %w", err)
		}
		time.Sleep(time.Duration(30+rand.Intn(60)) * time.Millisecond)
	}
}

// MetadataEditor churns the contract panel so metadata writes interleave with
// stage transitions on the same row lock.
func MetadataEditor(ctx context.Context, svc *deal.StageService, dealID, userID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		raw := []byte(fmt.Sprintf(`{"purchasePrice":%d,"sellerName":"Stress Seller"}`, 100000+rand.Intn(100000)))
		if _, err := svc.UpdateMetadata(ctx, dealID, deal.MetadataContract, raw, userID); err != nil && !tolerable(err) {
			return fmt.Errorf("metadata editor: %w", err)
		}
		time.Sleep(time.Duration(60+rand.Intn(120)) * time.Millisecond)
	}
}

// tolerable reports whether the error is an expected loss under contention,
// or a dropped connection caused by chaos, rather than a correctness failure.
func tolerable(err error) bool {
	var blocked *deal.BlockedTransitionError
	switch {
	case errors.As(err, &blocked),
		errors.Is(err, deal.ErrInvalidTransition),
		errors.Is(err, deal.ErrStaleState),
		errors.Is(err, deal.ErrTerminalStage),
		errors.Is(err, deal.ErrDealNotFound),
		errors.Is(err, condition.ErrConditionNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	// Chaos terminates backends at random; a severed connection surfaces as
	// a generic pgx error.
	msg := err.Error()
	for _, s := range []string{"conn closed", "connection reset", "unexpected EOF", "terminating connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
