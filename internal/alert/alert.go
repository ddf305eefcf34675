// Package alert defines the alert data model: candidates emitted by detector
// scripts, stored alert rows, and the identity/merge rules that keep the
// alert list free of duplicates across repeated daily runs.
package alert

import (
	"fmt"
	"time"

	"github.com/vendops/vendwatch/internal/simday"
)

// Severity orders alerts for triage. The ordering is LOW < MEDIUM < HIGH < CRITICAL.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Less reports whether s orders before other.
func (s Severity) Less(other Severity) bool {
	return severityRank[s] < severityRank[other]
}

// Status is the lifecycle state of a stored alert.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusSnoozed  Status = "SNOOZED"
	StatusResolved Status = "RESOLVED"
)

// ActionType is the closed set of manager actions a script may recommend.
type ActionType string

const (
	ActionRestockMachine     ActionType = "RESTOCK_MACHINE"
	ActionOrderIngredients   ActionType = "ORDER_INGREDIENTS"
	ActionAdjustPrice        ActionType = "ADJUST_PRICE"
	ActionScheduleService    ActionType = "SCHEDULE_SERVICE"
	ActionCheckMachine       ActionType = "CHECK_MACHINE"
	ActionProposeDiscontinue ActionType = "PROPOSE_DISCONTINUE"
)

var knownActionTypes = map[ActionType]bool{
	ActionRestockMachine:     true,
	ActionOrderIngredients:   true,
	ActionAdjustPrice:        true,
	ActionScheduleService:    true,
	ActionCheckMachine:       true,
	ActionProposeDiscontinue: true,
}

// Valid reports whether a is in the closed action-type set.
func (a ActionType) Valid() bool {
	return knownActionTypes[a]
}

// MaxRecommendedActions bounds the action list a single candidate may carry.
const MaxRecommendedActions = 3

// RecommendedAction is one suggested follow-up for a human reviewer.
type RecommendedAction struct {
	ActionType ActionType     `json:"action_type"`
	Params     map[string]any `json:"params"`
}

// Candidate is the JSON-shaped output of one detector script hit, before
// validation and dedup. Scope ids other than LocationID are optional; a nil
// pointer means the alert is not scoped to that entity.
type Candidate struct {
	AlertType          string              `json:"alert_type"`
	Severity           Severity            `json:"severity"`
	Title              string              `json:"title"`
	Summary            string              `json:"summary"`
	Evidence           map[string]any      `json:"evidence"`
	RecommendedActions []RecommendedAction `json:"recommended_actions"`
	LocationID         int64               `json:"location_id"`
	MachineID          *int64              `json:"machine_id"`
	ProductID          *int64              `json:"product_id"`
	IngredientID       *int64              `json:"ingredient_id"`
}

// Validate enforces the candidate schema. Violations are reported with the
// offending field so the diagnostic is actionable without reading the script.
func (c *Candidate) Validate() error {
	if c.AlertType == "" {
		return fmt.Errorf("alert_type is required")
	}
	if !c.Severity.Valid() {
		return fmt.Errorf("severity %q is not one of LOW, MEDIUM, HIGH, CRITICAL", c.Severity)
	}
	if c.Title == "" {
		return fmt.Errorf("title is required")
	}
	if c.LocationID <= 0 {
		return fmt.Errorf("location_id is required")
	}
	if len(c.RecommendedActions) > MaxRecommendedActions {
		return fmt.Errorf("at most %d recommended actions allowed, got %d", MaxRecommendedActions, len(c.RecommendedActions))
	}
	for i, ra := range c.RecommendedActions {
		if !ra.ActionType.Valid() {
			return fmt.Errorf("recommended_actions[%d].action_type %q is not a known action", i, ra.ActionType)
		}
	}
	return nil
}

// Alert is a stored, deduplicated alert row. AlertID is the storage identity;
// Fingerprint is the logical identity used for dedup.
type Alert struct {
	AlertID       string
	CreatedAt     time.Time
	RunDate       simday.Date
	ScriptName    string
	ScriptVersion string

	Fingerprint  string
	EvidenceHash string

	Severity     Severity
	AlertType    string
	LocationID   int64
	MachineID    *int64
	ProductID    *int64
	IngredientID *int64

	Title              string
	Summary            string
	Evidence           map[string]any
	RecommendedActions []RecommendedAction

	Status       Status
	SnoozedUntil *simday.Date
	Decision     string
	DecisionNote string
	DecidedAt    *time.Time
}
