package attention

import (
	"context"
	"errors"
	"testing"
	"time"

	"dealflow/deal"
	"dealflow/timeline"
)

type stubSource struct {
	ids       []string
	idsErr    error
	snapshots map[string]Snapshot
	snapErrs  map[string]error
}

func (s *stubSource) ActiveDealIDs(_ context.Context) ([]string, error) {
	return s.ids, s.idsErr
}

func (s *stubSource) Snapshot(_ context.Context, dealID string) (Snapshot, error) {
	if err, ok := s.snapErrs[dealID]; ok {
		return Snapshot{}, err
	}
	return s.snapshots[dealID], nil
}

func TestFeed_CollectsAcrossDeals(t *testing.T) {
	now := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	src := &stubSource{
		ids: []string{"d1", "d2", "d3"},
		snapshots: map[string]Snapshot{
			"d1": {
				DealID:       "d1",
				Stage:        deal.StageUnderContract,
				Events:       []timeline.Event{{Type: timeline.EventStageTransition, CreatedAt: now.Add(-24 * time.Hour)}},
				OpenBlockers: []string{"open lien"},
			},
			"d2": {
				DealID: "d2",
				Stage:  deal.StageUnderContract,
				Events: []timeline.Event{{Type: timeline.EventStageTransition, CreatedAt: now.Add(-20 * 24 * time.Hour)}},
			},
			"d3": {
				DealID: "d3",
				Stage:  deal.StagePreContract,
				Events: []timeline.Event{{Type: timeline.EventStageTransition, CreatedAt: now.Add(-time.Hour)}},
			},
		},
	}

	engine := NewEngine(src).WithClock(func() time.Time { return now })

	feed, err := engine.Feed(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	// d1 fires open_blocker (attention), d2 fires inactivity (warning),
	// d3 is quiet. Attention sorts before warning.
	if len(feed) != 2 {
		t.Fatalf("expected two feed entries, got %+v", feed)
	}
	if feed[0].DealID != "d1" || feed[0].SignalType != "open_blocker" {
		t.Fatalf("unexpected first entry: %+v", feed[0])
	}
	if feed[1].DealID != "d2" || feed[1].SignalType != "inactivity" {
		t.Fatalf("unexpected second entry: %+v", feed[1])
	}
	for _, f := range feed {
		if !f.DetectedAt.Equal(now) {
			t.Errorf("expected detectedAt %v, got %v", now, f.DetectedAt)
		}
	}
}

func TestFeed_SkipsDegradedDeal(t *testing.T) {
	now := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	src := &stubSource{
		ids: []string{"d1", "d2"},
		snapshots: map[string]Snapshot{
			"d2": {
				DealID:       "d2",
				Stage:        deal.StageUnderContract,
				Events:       []timeline.Event{{Type: timeline.EventStageTransition, CreatedAt: now.Add(-time.Hour)}},
				OpenBlockers: []string{"probate unresolved"},
			},
		},
		snapErrs: map[string]error{"d1": errors.New("corrupt metadata")},
	}

	engine := NewEngine(src).WithClock(func() time.Time { return now })

	feed, err := engine.Feed(context.Background())
	if err != nil {
		t.Fatalf("one bad deal must not fail the feed: %v", err)
	}
	if len(feed) != 1 || feed[0].DealID != "d2" {
		t.Fatalf("unexpected feed: %+v", feed)
	}
}

func TestFeed_ListError(t *testing.T) {
	engine := NewEngine(&stubSource{idsErr: errors.New("db down")})

	if _, err := engine.Feed(context.Background()); err == nil {
		t.Fatal("expected error when listing deals fails")
	}
}

func TestDealSignals_PropagatesSnapshotError(t *testing.T) {
	engine := NewEngine(&stubSource{snapErrs: map[string]error{"d1": ErrDealNotFound}})

	if _, err := engine.DealSignals(context.Background(), "d1"); !errors.Is(err, ErrDealNotFound) {
		t.Fatalf("expected ErrDealNotFound, got %v", err)
	}
}
