package attention

import (
	"sort"
	"time"

	"dealflow/task"
)

const (
	triageDueWindow = 24 * time.Hour
	alertDueWindow  = time.Hour
)

// TaskBuckets partitions a user's pending tasks for the dashboard. Missed and
// Triage are disjoint by construction: a task enters Triage only after it
// failed the Missed test.
type TaskBuckets struct {
	Missed []task.Task
	Triage []task.Task
	// Alert requests the stronger visual treatment: a critical task is due
	// within the hour, or something is already overdue.
	Alert bool
}

// AttentionCount is the dashboard badge value.
func (b TaskBuckets) AttentionCount() int {
	return len(b.Missed) + len(b.Triage)
}

// PartitionTasks buckets pending tasks by due date and urgency. Tasks without
// a due date can never be missed.
func PartitionTasks(tasks []task.Task, now time.Time) TaskBuckets {
	var b TaskBuckets
	for _, t := range tasks {
		if t.Status != task.StatusPending {
			continue
		}
		switch {
		case t.DueAt != nil && t.DueAt.Before(now):
			b.Missed = append(b.Missed, t)
		case t.Urgency == task.UrgencyCritical || t.Urgency == task.UrgencyMedium:
			b.Triage = append(b.Triage, t)
		case t.DueAt != nil && t.DueAt.Sub(now) <= triageDueWindow:
			b.Triage = append(b.Triage, t)
		}

		if t.Urgency == task.UrgencyCritical && t.DueAt != nil {
			until := t.DueAt.Sub(now)
			if until >= 0 && until <= alertDueWindow {
				b.Alert = true
			}
		}
	}
	if len(b.Missed) > 0 {
		b.Alert = true
	}

	sortTasks(b.Missed)
	sortTasks(b.Triage)
	return b
}

// sortTasks orders critical urgency first, then earliest due date with
// undated items last, then id as a stable tiebreak.
func sortTasks(tasks []task.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		ac, bc := a.Urgency == task.UrgencyCritical, b.Urgency == task.UrgencyCritical
		if ac != bc {
			return ac
		}
		switch {
		case a.DueAt == nil && b.DueAt == nil:
			return a.ID < b.ID
		case a.DueAt == nil:
			return false
		case b.DueAt == nil:
			return true
		case !a.DueAt.Equal(*b.DueAt):
			return a.DueAt.Before(*b.DueAt)
		}
		return a.ID < b.ID
	})
}
