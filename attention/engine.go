package attention

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// SnapshotSource loads the read-only inputs the rules consume.
type SnapshotSource interface {
	ActiveDealIDs(ctx context.Context) ([]string, error)
	Snapshot(ctx context.Context, dealID string) (Snapshot, error)
}

// FeedSignal is one entry in the cross-deal dashboard feed.
type FeedSignal struct {
	DealID     string
	SignalType string
	Message    string
	Severity   Severity
	DetectedAt time.Time
}

// Engine computes signals fresh on every call. It holds no mutable state
// beyond its collaborators and needs no locking of its own.
type Engine struct {
	src         SnapshotSource
	now         func() time.Time
	concurrency int
}

func NewEngine(src SnapshotSource) *Engine {
	return &Engine{src: src, now: time.Now, concurrency: 8}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// DealSignals evaluates the rule set for one deal.
func (e *Engine) DealSignals(ctx context.Context, dealID string) ([]Signal, error) {
	snap, err := e.src.Snapshot(ctx, dealID)
	if err != nil {
		return nil, err
	}
	return EvaluateDeal(snap, e.now()), nil
}

// Feed scans every active deal and collects the signals that fired. One
// deal's bad data never blanks out the feed: a snapshot failure drops that
// deal and moves on.
func (e *Engine) Feed(ctx context.Context) ([]FeedSignal, error) {
	ids, err := e.src.ActiveDealIDs(ctx)
	if err != nil {
		return nil, err
	}

	now := e.now()

	var (
		mu   sync.Mutex
		feed []FeedSignal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			snap, err := e.src.Snapshot(gctx, id)
			if err != nil {
				return nil // degrade: skip this deal
			}
			signals := EvaluateDeal(snap, now)
			if len(signals) == 0 {
				return nil
			}
			mu.Lock()
			for _, s := range signals {
				feed = append(feed, FeedSignal{
					DealID:     id,
					SignalType: s.Type,
					Message:    s.Message,
					Severity:   s.Severity,
					DetectedAt: now,
				})
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(feed, func(i, j int) bool {
		if feed[i].Severity != feed[j].Severity {
			return severityRank(feed[i].Severity) > severityRank(feed[j].Severity)
		}
		if feed[i].DealID != feed[j].DealID {
			return feed[i].DealID < feed[j].DealID
		}
		return feed[i].SignalType < feed[j].SignalType
	})
	return feed, nil
}
