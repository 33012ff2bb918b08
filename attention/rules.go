// Package attention derives advisory signals from deal and task state. Nothing
// here is persisted: every request recomputes from the current rows, and a
// rule that lacks its inputs simply does not fire.
package attention

import (
	"time"

	"dealflow/deal"
	"dealflow/timeline"
)

type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityAttention Severity = "attention"
)

func severityRank(s Severity) int {
	switch s {
	case SeverityAttention:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Signal is a derived, non-persisted advisory message.
type Signal struct {
	Type     string
	Message  string
	Severity Severity
}

// Snapshot is the read-only view of one deal that the rules consume.
type Snapshot struct {
	DealID            string
	Stage             deal.Stage
	Events            []timeline.Event // newest-first
	OpenBlockers      []string
	ExpectedCloseDate *time.Time
}

const (
	inactivityWindow    = 14 * 24 * time.Hour
	stagnantStageWindow = 21 * 24 * time.Hour
	agedBlockerWindow   = 30 * 24 * time.Hour
	closeDateWindow     = 7 * 24 * time.Hour
)

type rule struct {
	name string
	eval func(s Snapshot, now time.Time) *Signal
}

// dealRules is the ordered heuristic set. All applicable rules fire; adding a
// heuristic means appending a rule here.
var dealRules = []rule{
	{
		name: "inactivity",
		eval: func(s Snapshot, now time.Time) *Signal {
			// No history at all is not evidence of staleness.
			if len(s.Events) == 0 {
				return nil
			}
			if now.Sub(s.Events[0].CreatedAt) <= inactivityWindow {
				return nil
			}
			return &Signal{Message: "No legal activity in the last 14 days.", Severity: SeverityWarning}
		},
	},
	{
		name: "stage_stagnant",
		eval: func(s Snapshot, now time.Time) *Signal {
			for _, ev := range s.Events {
				if ev.Type != timeline.EventStageTransition {
					continue
				}
				if now.Sub(ev.CreatedAt) > stagnantStageWindow {
					return &Signal{Message: "Legal stage hasn't changed in 21 days.", Severity: SeverityWarning}
				}
				return nil
			}
			return nil
		},
	},
	{
		name: "open_blocker",
		eval: func(s Snapshot, now time.Time) *Signal {
			if len(s.OpenBlockers) == 0 {
				return nil
			}
			return &Signal{Message: "There's an open issue that usually needs to be resolved.", Severity: SeverityAttention}
		},
	},
	{
		name: "aged_blocker",
		eval: func(s Snapshot, now time.Time) *Signal {
			if len(s.OpenBlockers) == 0 || len(s.Events) == 0 {
				return nil
			}
			// Oldest event stands in for deal age; conditions don't carry a
			// clean "age since first blocker" on their own.
			oldest := s.Events[len(s.Events)-1].CreatedAt
			if now.Sub(oldest) < agedBlockerWindow {
				return nil
			}
			return &Signal{Message: "An open blocking issue has been outstanding for 30+ days.", Severity: SeverityAttention}
		},
	},
	{
		name: "close_date",
		eval: func(s Snapshot, now time.Time) *Signal {
			if s.ExpectedCloseDate == nil {
				return nil
			}
			d := *s.ExpectedCloseDate
			if d.Before(now) {
				return &Signal{Message: "Expected close date has passed.", Severity: SeverityAttention}
			}
			if d.Sub(now) <= closeDateWindow {
				return &Signal{Message: "Expected close date is within the next 7 days.", Severity: SeverityWarning}
			}
			return nil
		},
	},
	{
		name: "late_stage_risk",
		eval: func(s Snapshot, now time.Time) *Signal {
			if len(s.OpenBlockers) == 0 {
				return nil
			}
			if s.Stage != deal.StageAssigned && s.Stage != deal.StageTitleClearing {
				return nil
			}
			return &Signal{Message: "Open issues this late in the process put the closing at risk.", Severity: SeverityWarning}
		},
	},
}

// EvaluateDeal runs every rule against the snapshot. All applicable rules
// fire simultaneously; the caller decides whether to show all of them or only
// the highest severity.
func EvaluateDeal(s Snapshot, now time.Time) []Signal {
	signals := make([]Signal, 0, len(dealRules))
	for _, r := range dealRules {
		if sig := r.eval(s, now); sig != nil {
			sig.Type = r.name
			signals = append(signals, *sig)
		}
	}
	return signals
}

// OverallSeverity reduces a signal list to its maximum severity, defaulting
// to info when nothing fired.
func OverallSeverity(signals []Signal) Severity {
	out := SeverityInfo
	for _, s := range signals {
		if severityRank(s.Severity) > severityRank(out) {
			out = s.Severity
		}
	}
	return out
}
