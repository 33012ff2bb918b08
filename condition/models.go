package condition

import (
	"fmt"
	"time"
)

type Category string

const (
	CategoryTitle       Category = "TITLE"
	CategoryProbate     Category = "PROBATE"
	CategoryLien        Category = "LIEN"
	CategoryHOA         Category = "HOA"
	CategoryJudgment    Category = "JUDGMENT"
	CategoryHeirship    Category = "HEIRSHIP"
	CategoryMunicipal   Category = "MUNICIPAL"
	CategoryContractual Category = "CONTRACTUAL"
	CategoryOther       Category = "OTHER"
)

type Severity string

const (
	SeverityRisky    Severity = "RISKY"
	SeverityBlocking Severity = "BLOCKING"
)

type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusResolved Status = "RESOLVED"
)

// Condition mirrors the legal_conditions table. Conditions are permanent
// audit records: they resolve exactly once and are never deleted.
type Condition struct {
	ID           string
	DealID       string
	Category     Category
	Severity     Severity
	Status       Status
	Summary      string
	Details      *string
	Source       *string
	DiscoveredAt time.Time
	ResolvedAt   *time.Time
}

func ParseCategory(raw string) (Category, error) {
	switch c := Category(raw); c {
	case CategoryTitle, CategoryProbate, CategoryLien, CategoryHOA,
		CategoryJudgment, CategoryHeirship, CategoryMunicipal,
		CategoryContractual, CategoryOther:
		return c, nil
	}
	return "", fmt.Errorf("condition: unknown category %q", raw)
}

func ParseSeverity(raw string) (Severity, error) {
	switch s := Severity(raw); s {
	case SeverityRisky, SeverityBlocking:
		return s, nil
	}
	return "", fmt.Errorf("condition: unknown severity %q", raw)
}
