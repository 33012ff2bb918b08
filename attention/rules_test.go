package attention

import (
	"testing"
	"time"

	"dealflow/deal"
	"dealflow/timeline"
)

var ruleNow = time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)

func eventAt(eventType string, age time.Duration) timeline.Event {
	return timeline.Event{Type: eventType, CreatedAt: ruleNow.Add(-age)}
}

func signalTypes(signals []Signal) []string {
	out := make([]string, 0, len(signals))
	for _, s := range signals {
		out = append(out, s.Type)
	}
	return out
}

func hasSignal(signals []Signal, name string) bool {
	for _, s := range signals {
		if s.Type == name {
			return true
		}
	}
	return false
}

func TestEvaluateDeal_QuietDealFiresNothing(t *testing.T) {
	snap := Snapshot{
		DealID: "d1",
		Stage:  deal.StageUnderContract,
		Events: []timeline.Event{eventAt(timeline.EventStageTransition, 2*24*time.Hour)},
	}

	if signals := EvaluateDeal(snap, ruleNow); len(signals) != 0 {
		t.Fatalf("expected no signals, got %v", signalTypes(signals))
	}
}

func TestEvaluateDeal_NoHistoryIsNotStale(t *testing.T) {
	snap := Snapshot{DealID: "d1", Stage: deal.StagePreContract}

	if signals := EvaluateDeal(snap, ruleNow); len(signals) != 0 {
		t.Fatalf("expected no signals for empty history, got %v", signalTypes(signals))
	}
}

func TestEvaluateDeal_StaleAndStagnantFireTogether(t *testing.T) {
	// Last activity 20 days ago and last stage change 25 days ago: both
	// warnings fire, neither escalates to attention.
	snap := Snapshot{
		DealID: "d1",
		Stage:  deal.StageUnderContract,
		Events: []timeline.Event{
			eventAt(timeline.EventMetadataUpdated, 20*24*time.Hour),
			eventAt(timeline.EventStageTransition, 25*24*time.Hour),
		},
	}

	signals := EvaluateDeal(snap, ruleNow)
	if len(signals) != 2 {
		t.Fatalf("expected exactly two signals, got %v", signalTypes(signals))
	}
	if !hasSignal(signals, "inactivity") || !hasSignal(signals, "stage_stagnant") {
		t.Fatalf("unexpected signal set: %v", signalTypes(signals))
	}
	for _, s := range signals {
		if s.Severity != SeverityWarning {
			t.Errorf("signal %s: expected warning severity, got %s", s.Type, s.Severity)
		}
	}
	if OverallSeverity(signals) != SeverityWarning {
		t.Errorf("expected overall warning, got %s", OverallSeverity(signals))
	}
}

func TestEvaluateDeal_RecentStageChangeSuppressesStagnant(t *testing.T) {
	snap := Snapshot{
		DealID: "d1",
		Stage:  deal.StageUnderContract,
		Events: []timeline.Event{
			eventAt(timeline.EventStageTransition, 5*24*time.Hour),
			eventAt(timeline.EventStageTransition, 40*24*time.Hour),
		},
	}

	signals := EvaluateDeal(snap, ruleNow)
	if hasSignal(signals, "stage_stagnant") {
		t.Fatalf("most recent transition is fresh, got %v", signalTypes(signals))
	}
}

func TestEvaluateDeal_OpenBlocker(t *testing.T) {
	snap := Snapshot{
		DealID:       "d1",
		Stage:        deal.StageUnderContract,
		Events:       []timeline.Event{eventAt(timeline.EventConditionOpened, 24*time.Hour)},
		OpenBlockers: []string{"open lien of record"},
	}

	signals := EvaluateDeal(snap, ruleNow)
	if !hasSignal(signals, "open_blocker") {
		t.Fatalf("expected open_blocker, got %v", signalTypes(signals))
	}
	if hasSignal(signals, "aged_blocker") {
		t.Fatalf("deal is only a day old, got %v", signalTypes(signals))
	}
	if OverallSeverity(signals) != SeverityAttention {
		t.Errorf("expected overall attention, got %s", OverallSeverity(signals))
	}
}

func TestEvaluateDeal_AgedBlocker(t *testing.T) {
	snap := Snapshot{
		DealID: "d1",
		Stage:  deal.StageUnderContract,
		Events: []timeline.Event{
			eventAt(timeline.EventConditionOpened, 2*24*time.Hour),
			eventAt(timeline.EventStageTransition, 35*24*time.Hour),
		},
		OpenBlockers: []string{"probate unresolved"},
	}

	signals := EvaluateDeal(snap, ruleNow)
	if !hasSignal(signals, "aged_blocker") {
		t.Fatalf("expected aged_blocker, got %v", signalTypes(signals))
	}
}

func TestEvaluateDeal_CloseDate(t *testing.T) {
	cases := []struct {
		name     string
		closeIn  time.Duration
		expect   bool
		severity Severity
	}{
		{"far out", 30 * 24 * time.Hour, false, ""},
		{"within window", 3 * 24 * time.Hour, true, SeverityWarning},
		{"passed", -24 * time.Hour, true, SeverityAttention},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := ruleNow.Add(tc.closeIn)
			snap := Snapshot{
				DealID:            "d1",
				Stage:             deal.StageTitleClearing,
				Events:            []timeline.Event{eventAt(timeline.EventStageTransition, 24*time.Hour)},
				ExpectedCloseDate: &d,
			}

			signals := EvaluateDeal(snap, ruleNow)
			if hasSignal(signals, "close_date") != tc.expect {
				t.Fatalf("close_date fired=%v, want %v (%v)", !tc.expect, tc.expect, signalTypes(signals))
			}
			if tc.expect {
				for _, s := range signals {
					if s.Type == "close_date" && s.Severity != tc.severity {
						t.Errorf("expected severity %s, got %s", tc.severity, s.Severity)
					}
				}
			}
		})
	}
}

func TestEvaluateDeal_LateStageRisk(t *testing.T) {
	snap := Snapshot{
		DealID:       "d1",
		Stage:        deal.StageAssigned,
		Events:       []timeline.Event{eventAt(timeline.EventStageTransition, 24*time.Hour)},
		OpenBlockers: []string{"HOA estoppel missing"},
	}

	signals := EvaluateDeal(snap, ruleNow)
	if !hasSignal(signals, "late_stage_risk") {
		t.Fatalf("expected late_stage_risk, got %v", signalTypes(signals))
	}

	snap.Stage = deal.StageUnderContract
	signals = EvaluateDeal(snap, ruleNow)
	if hasSignal(signals, "late_stage_risk") {
		t.Fatalf("early stage should not fire late_stage_risk, got %v", signalTypes(signals))
	}
}

func TestOverallSeverity_DefaultsToInfo(t *testing.T) {
	if got := OverallSeverity(nil); got != SeverityInfo {
		t.Fatalf("expected info, got %s", got)
	}
}
