package task

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyCritical Urgency = "critical"
)

// NormalizeUrgency maps absent or unknown values to the medium default.
func NormalizeUrgency(raw string) Urgency {
	switch u := Urgency(raw); u {
	case UrgencyLow, UrgencyMedium, UrgencyCritical:
		return u
	default:
		return UrgencyMedium
	}
}

// Task mirrors the tasks table. DueAt is optional; a missing due date keeps
// the task out of the overdue bucket entirely.
type Task struct {
	ID        string
	UserID    string
	Title     string
	Status    Status
	Urgency   Urgency
	DueAt     *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
