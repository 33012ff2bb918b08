package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// stageOrdinals maps each stage to its position in the linear order so SQL
// can check adjacency. DEAD sits outside the order.
const stageOrdinals = `
    stage_ord(stage, ord) AS (
        VALUES ('PRE_CONTRACT', 0), ('UNDER_CONTRACT', 1),
               ('ASSIGNMENT_IN_PROGRESS', 2), ('ASSIGNED', 3),
               ('TITLE_CLEARING', 4), ('CLEARED_TO_CLOSE', 5), ('CLOSED', 6)
    )`

func All() []Oracle {
	return []Oracle{
		{
			// The deals row must agree with the newest stage_transition event.
			Name: "O1_stage_matches_last_event",
			SQL: `SELECT d.id, d.legal_stage, e.payload->>'newStage'
                  FROM deals d
                  JOIN LATERAL (
                      SELECT payload FROM deal_events
                      WHERE deal_id = d.id AND event_type = 'stage_transition'
                      ORDER BY id DESC LIMIT 1
                  ) e ON true
                  WHERE d.legal_stage::text <> e.payload->>'newStage'`,
		},
		{
			// Every transition moves one step forward, one step back, or
			// into DEAD. Anything else is a skipped or invented stage.
			Name: "O2_transitions_single_step",
			SQL: `WITH ` + stageOrdinals + `
                  SELECT e.id, e.payload->>'previousStage', e.payload->>'newStage'
                  FROM deal_events e
                  LEFT JOIN stage_ord prev ON prev.stage = e.payload->>'previousStage'
                  LEFT JOIN stage_ord next ON next.stage = e.payload->>'newStage'
                  WHERE e.event_type = 'stage_transition'
                    AND e.payload->>'newStage' <> 'DEAD'
                    AND (prev.ord IS NULL OR next.ord IS NULL
                         OR abs(next.ord - prev.ord) <> 1)`,
		},
		{
			// Rollback events must actually move backward and say so.
			Name: "O3_rollback_flag_consistent",
			SQL: `WITH ` + stageOrdinals + `
                  SELECT e.id
                  FROM deal_events e
                  JOIN stage_ord prev ON prev.stage = e.payload->>'previousStage'
                  JOIN stage_ord next ON next.stage = e.payload->>'newStage'
                  WHERE e.event_type = 'stage_transition'
                    AND (((e.payload->>'isRollback')::boolean AND next.ord >= prev.ord)
                         OR (NOT (e.payload->>'isRollback')::boolean AND next.ord < prev.ord))`,
		},
		{
			// No stage transition may originate from a terminal stage.
			Name: "O4_terminal_is_absorbing",
			SQL: `SELECT id FROM deal_events
                  WHERE event_type = 'stage_transition'
                    AND payload->>'previousStage' IN ('CLOSED', 'DEAD')`,
		},
		{
			// Resolution timestamps and status must agree.
			Name: "O5_resolved_at_consistent",
			SQL: `SELECT id, status, resolved_at FROM legal_conditions
                  WHERE (status = 'RESOLVED' AND resolved_at IS NULL)
                     OR (status = 'OPEN' AND resolved_at IS NOT NULL)`,
		},
		{
			// Every transition and condition lifecycle change left an event.
			Name: "O6_conditions_audited",
			SQL: `SELECT c.id FROM legal_conditions c
                  WHERE NOT EXISTS (
                      SELECT 1 FROM deal_events e
                      WHERE e.deal_id = c.deal_id
                        AND e.event_type = 'condition_opened'
                        AND e.payload->>'conditionId' = c.id::text
                  )`,
		},
		{
			Name: "O7_event_log_append_only_guard",
			SQL: `SELECT 'missing_no_rewrite_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname='deal_events_no_rewrite')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
