package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dealflow/timeparsing"
)

// Store abstracts the repository for handler tests.
type Store interface {
	Insert(ctx context.Context, params InsertParams) (Task, error)
	GetForUser(ctx context.Context, userID, taskID string) (Task, error)
	Update(ctx context.Context, userID, taskID string, params UpdateParams) (Task, error)
	ListForUser(ctx context.Context, userID string) ([]Task, error)
}

// Service applies title due-date extraction on top of the store. The parser
// is advisory: a title that carries no temporal expression simply produces a
// task without a due date.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type CreateParams struct {
	UserID  string
	Title   string
	Urgency string
	// DueAt is an optional explicit due-date string (RFC3339 or natural
	// language). When set, title extraction is skipped.
	DueAt string
}

func (s *Service) Create(ctx context.Context, params CreateParams) (Task, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return Task{}, fmt.Errorf("task: title required")
	}
	if params.UserID == "" {
		return Task{}, fmt.Errorf("task: user id required")
	}

	now := s.now()
	insert := InsertParams{
		UserID:  params.UserID,
		Title:   title,
		Urgency: NormalizeUrgency(params.Urgency),
	}

	if params.DueAt != "" {
		insert.DueAt = timeparsing.ParseDueAt(params.DueAt, now)
	} else {
		parsed := timeparsing.ExtractDue(title, now)
		insert.Title = parsed.CleanedTitle
		insert.DueAt = parsed.DueAt
	}

	return s.store.Insert(ctx, insert)
}

type EditParams struct {
	Title   *string
	Status  *string
	Urgency *string
	DueAt   *string // empty string clears the due date
}

func (s *Service) Edit(ctx context.Context, userID, taskID string, params EditParams) (Task, error) {
	update := UpdateParams{}
	now := s.now()

	if params.Title != nil {
		title := strings.TrimSpace(*params.Title)
		if title == "" {
			return Task{}, fmt.Errorf("task: title cannot be empty")
		}
		parsed := timeparsing.ExtractDue(title, now)
		update.Title = &parsed.CleanedTitle
		if parsed.DueAt != nil && params.DueAt == nil {
			update.DueAt = parsed.DueAt
		}
	}
	if params.Status != nil {
		switch st := Status(*params.Status); st {
		case StatusPending, StatusCompleted, StatusCancelled:
			update.Status = &st
		default:
			return Task{}, fmt.Errorf("task: unknown status %q", *params.Status)
		}
	}
	if params.Urgency != nil {
		u := NormalizeUrgency(*params.Urgency)
		update.Urgency = &u
	}
	if params.DueAt != nil {
		if strings.TrimSpace(*params.DueAt) == "" {
			update.ClearDue = true
		} else {
			update.DueAt = timeparsing.ParseDueAt(*params.DueAt, now)
			if update.DueAt == nil {
				// Unparseable due date degrades to "no due date", not an error.
				update.ClearDue = true
			}
		}
	}

	return s.store.Update(ctx, userID, taskID, update)
}

func (s *Service) List(ctx context.Context, userID string) ([]Task, error) {
	return s.store.ListForUser(ctx, userID)
}
