package task

import (
	"context"
	"testing"
	"time"
)

type fakeStore struct {
	inserted InsertParams
	updated  UpdateParams
	tasks    []Task
	err      error
}

func (f *fakeStore) Insert(_ context.Context, params InsertParams) (Task, error) {
	f.inserted = params
	return Task{
		ID:      "t1",
		UserID:  params.UserID,
		Title:   params.Title,
		Status:  StatusPending,
		Urgency: params.Urgency,
		DueAt:   params.DueAt,
	}, f.err
}

func (f *fakeStore) GetForUser(_ context.Context, _, _ string) (Task, error) {
	if len(f.tasks) == 0 {
		return Task{}, ErrTaskNotFound
	}
	return f.tasks[0], f.err
}

func (f *fakeStore) Update(_ context.Context, _, _ string, params UpdateParams) (Task, error) {
	f.updated = params
	return Task{ID: "t1"}, f.err
}

func (f *fakeStore) ListForUser(_ context.Context, _ string) ([]Task, error) {
	return f.tasks, f.err
}

// Wednesday morning; weekday and relative-day expressions in titles resolve
// against this.
var testNow = time.Date(2025, 3, 12, 10, 0, 0, 0, time.Local)

func newTestService(store *fakeStore) *Service {
	return NewService(store).WithClock(func() time.Time { return testNow })
}

func TestCreate_ExtractsDueFromTitle(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	created, err := svc.Create(context.Background(), CreateParams{
		UserID: "user-1",
		Title:  "Call Nick tomorrow at 2pm",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if created.Title != "Call Nick" {
		t.Fatalf("expected cleaned title, got %q", created.Title)
	}
	want := time.Date(2025, 3, 13, 14, 0, 0, 0, time.Local)
	if created.DueAt == nil || !created.DueAt.Equal(want) {
		t.Fatalf("expected due %v, got %v", want, created.DueAt)
	}
}

func TestCreate_PlainTitleUntouched(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	created, err := svc.Create(context.Background(), CreateParams{
		UserID: "user-1",
		Title:  "Order title search",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if created.Title != "Order title search" || created.DueAt != nil {
		t.Fatalf("unexpected task: %+v", created)
	}
}

func TestCreate_ExplicitDueSkipsTitleExtraction(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	created, err := svc.Create(context.Background(), CreateParams{
		UserID: "user-1",
		Title:  "Call Nick tomorrow",
		DueAt:  "2025-04-01T15:00:00Z",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	// The temporal phrase stays in the title when the caller supplies an
	// explicit due date.
	if created.Title != "Call Nick tomorrow" {
		t.Fatalf("expected raw title, got %q", created.Title)
	}
	want := time.Date(2025, 4, 1, 15, 0, 0, 0, time.UTC)
	if created.DueAt == nil || !created.DueAt.Equal(want) {
		t.Fatalf("expected due %v, got %v", want, created.DueAt)
	}
}

func TestCreate_DefaultsUrgencyToMedium(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	created, err := svc.Create(context.Background(), CreateParams{
		UserID:  "user-1",
		Title:   "Send assignment contract",
		Urgency: "whenever",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if created.Urgency != UrgencyMedium {
		t.Fatalf("expected medium urgency, got %s", created.Urgency)
	}
}

func TestCreate_RequiresTitle(t *testing.T) {
	svc := newTestService(&fakeStore{})

	if _, err := svc.Create(context.Background(), CreateParams{UserID: "user-1", Title: "   "}); err == nil {
		t.Fatal("expected error for blank title")
	}
}

func TestEdit_TitleReparse(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	title := "Follow up with seller on Friday"
	if _, err := svc.Edit(context.Background(), "user-1", "t1", EditParams{Title: &title}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if store.updated.Title == nil || *store.updated.Title != "Follow up with seller" {
		t.Fatalf("unexpected title update: %v", store.updated.Title)
	}
	want := time.Date(2025, 3, 14, 9, 0, 0, 0, time.Local)
	if store.updated.DueAt == nil || !store.updated.DueAt.Equal(want) {
		t.Fatalf("expected due %v, got %v", want, store.updated.DueAt)
	}
}

func TestEdit_EmptyDueAtClears(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	empty := ""
	if _, err := svc.Edit(context.Background(), "user-1", "t1", EditParams{DueAt: &empty}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !store.updated.ClearDue || store.updated.DueAt != nil {
		t.Fatalf("expected ClearDue, got %+v", store.updated)
	}
}

func TestEdit_UnparseableDueAtDegradesToClear(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	garbage := "whenever it suits"
	if _, err := svc.Edit(context.Background(), "user-1", "t1", EditParams{DueAt: &garbage}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !store.updated.ClearDue {
		t.Fatalf("expected ClearDue on unparseable input, got %+v", store.updated)
	}
}

func TestEdit_RejectsUnknownStatus(t *testing.T) {
	svc := newTestService(&fakeStore{})

	status := "archived"
	if _, err := svc.Edit(context.Background(), "user-1", "t1", EditParams{Status: &status}); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestEdit_ValidStatus(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	status := "completed"
	if _, err := svc.Edit(context.Background(), "user-1", "t1", EditParams{Status: &status}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if store.updated.Status == nil || *store.updated.Status != StatusCompleted {
		t.Fatalf("unexpected status update: %v", store.updated.Status)
	}
}
