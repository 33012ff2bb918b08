package deal

import (
	"fmt"
	"time"
)

// Stage is a deal's position in the fixed legal lifecycle.
type Stage string

const (
	StagePreContract          Stage = "PRE_CONTRACT"
	StageUnderContract        Stage = "UNDER_CONTRACT"
	StageAssignmentInProgress Stage = "ASSIGNMENT_IN_PROGRESS"
	StageAssigned             Stage = "ASSIGNED"
	StageTitleClearing        Stage = "TITLE_CLEARING"
	StageClearedToClose       Stage = "CLEARED_TO_CLOSE"
	StageClosed               Stage = "CLOSED"
	StageDead                 Stage = "DEAD"
)

// linearOrder is the forward progression. DEAD sits outside it and is only
// reachable through MarkDead.
var linearOrder = []Stage{
	StagePreContract,
	StageUnderContract,
	StageAssignmentInProgress,
	StageAssigned,
	StageTitleClearing,
	StageClearedToClose,
	StageClosed,
}

// IsTerminal reports whether the stage absorbs all further transitions.
func (s Stage) IsTerminal() bool {
	return s == StageClosed || s == StageDead
}

// ordinal returns the stage's position in the linear order, or -1 for DEAD
// and unknown values.
func (s Stage) ordinal() int {
	for i, st := range linearOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the immediate successor in the linear order.
func (s Stage) Next() (Stage, bool) {
	i := s.ordinal()
	if i < 0 || i >= len(linearOrder)-1 {
		return "", false
	}
	return linearOrder[i+1], true
}

// Prev returns the immediate predecessor in the linear order.
func (s Stage) Prev() (Stage, bool) {
	i := s.ordinal()
	if i <= 0 {
		return "", false
	}
	return linearOrder[i-1], true
}

// ParseStage validates a wire-format stage value.
func ParseStage(raw string) (Stage, error) {
	s := Stage(raw)
	if s == StageDead {
		return s, nil
	}
	if s.ordinal() < 0 {
		return "", fmt.Errorf("deal: unknown stage %q", raw)
	}
	return s, nil
}

// ContractMetadata is the purchase-contract panel. Stored as jsonb; the JSON
// tags are the storage and wire format.
type ContractMetadata struct {
	Version        int        `json:"version"`
	SellerName     string     `json:"sellerName,omitempty"`
	PurchasePrice  *float64   `json:"purchasePrice,omitempty"`
	EarnestMoney   *float64   `json:"earnestMoney,omitempty"`
	EffectiveDate  *time.Time `json:"effectiveDate,omitempty"`
	InspectionDays int        `json:"inspectionDays,omitempty"`
}

func (m *ContractMetadata) Validate() error {
	if m.PurchasePrice != nil && *m.PurchasePrice < 0 {
		return fmt.Errorf("deal: negative purchase price")
	}
	if m.EarnestMoney != nil && *m.EarnestMoney < 0 {
		return fmt.Errorf("deal: negative earnest money")
	}
	if m.InspectionDays < 0 {
		return fmt.Errorf("deal: negative inspection period")
	}
	if m.Version == 0 {
		m.Version = 1
	}
	return nil
}

// AssignmentMetadata is the assignment panel.
type AssignmentMetadata struct {
	Version        int        `json:"version"`
	AssigneeName   string     `json:"assigneeName,omitempty"`
	AssignmentFee  *float64   `json:"assignmentFee,omitempty"`
	AssignmentDate *time.Time `json:"assignmentDate,omitempty"`
}

func (m *AssignmentMetadata) Validate() error {
	if m.AssignmentFee != nil && *m.AssignmentFee < 0 {
		return fmt.Errorf("deal: negative assignment fee")
	}
	if m.Version == 0 {
		m.Version = 1
	}
	return nil
}

// TitleMetadata is the title/escrow panel. ExpectedCloseDate feeds the
// attention heuristics.
type TitleMetadata struct {
	Version            int        `json:"version"`
	TitleCompany       string     `json:"titleCompany,omitempty"`
	EscrowOfficer      string     `json:"escrowOfficer,omitempty"`
	ExpectedCloseDate  *time.Time `json:"expectedCloseDate,omitempty"`
	CommitmentReceived bool       `json:"commitmentReceived,omitempty"`
}

func (m *TitleMetadata) Validate() error {
	if m.Version == 0 {
		m.Version = 1
	}
	return nil
}

// LegalState mirrors the legal columns of the deals table.
type LegalState struct {
	DealID     string
	Stage      Stage
	Contract   ContractMetadata
	Assignment AssignmentMetadata
	Title      TitleMetadata
	UpdatedAt  time.Time
}

// Metadata kinds accepted by UpdateMetadata.
const (
	MetadataContract   = "contract"
	MetadataAssignment = "assignment"
	MetadataTitle      = "title"
)
