package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTaskNotFound signals an unknown task id for the given user.
var ErrTaskNotFound = errors.New("task: not found")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const taskColumns = `id, user_id, title, status::text, urgency::text, due_at, created_at, updated_at`

type InsertParams struct {
	UserID  string
	Title   string
	Urgency Urgency
	DueAt   *time.Time
}

func (r *Repository) Insert(ctx context.Context, params InsertParams) (Task, error) {
	const insertSQL = `
		INSERT INTO tasks (user_id, title, urgency, due_at)
		VALUES ($1, $2, $3::task_urgency, $4)
		RETURNING ` + taskColumns

	row := r.pool.QueryRow(ctx, insertSQL, params.UserID, params.Title, params.Urgency, params.DueAt)
	t, err := scanTask(row)
	if err != nil {
		return Task{}, fmt.Errorf("task: insert: %w", err)
	}
	return t, nil
}

func (r *Repository) GetForUser(ctx context.Context, userID, taskID string) (Task, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 AND user_id=$2`, taskID, userID)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, fmt.Errorf("task: get: %w", err)
	}
	return t, nil
}

type UpdateParams struct {
	Title   *string
	Status  *Status
	Urgency *Urgency
	DueAt   *time.Time
	// ClearDue distinguishes "set due_at to NULL" from "leave as-is".
	ClearDue bool
}

func (r *Repository) Update(ctx context.Context, userID, taskID string, params UpdateParams) (Task, error) {
	const updateSQL = `
		UPDATE tasks
		SET title   = COALESCE($3, title),
		    status  = COALESCE($4::task_status, status),
		    urgency = COALESCE($5::task_urgency, urgency),
		    due_at  = CASE WHEN $7 THEN NULL WHEN $6::timestamptz IS NOT NULL THEN $6 ELSE due_at END,
		    updated_at = now()
		WHERE id=$1 AND user_id=$2
		RETURNING ` + taskColumns

	row := r.pool.QueryRow(ctx, updateSQL, taskID, userID, params.Title, params.Status, params.Urgency, params.DueAt, params.ClearDue)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, fmt.Errorf("task: update: %w", err)
	}
	return t, nil
}

// ListForUser returns all of a user's tasks, pending first, newest within a
// status.
func (r *Repository) ListForUser(ctx context.Context, userID string) ([]Task, error) {
	const query = `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE user_id = $1
		ORDER BY status = 'pending' DESC, created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("task: list: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, 16)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task: iterate: %w", err)
	}
	return out, nil
}

func scanTask(row pgx.Row) (Task, error) {
	var (
		t       Task
		status  string
		urgency string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &status, &urgency, &t.DueAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	t.Status = Status(status)
	t.Urgency = Urgency(urgency)
	return t, nil
}
