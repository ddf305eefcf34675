package alert

import "github.com/vendops/vendwatch/internal/simday"

// Decision is the outcome of merging a new candidate against the existing
// open alert with the same fingerprint.
type Decision int

const (
	// DecisionInsert creates a new alert row; no open alert shares the fingerprint.
	DecisionInsert Decision = iota
	// DecisionOverwrite refreshes the existing row's content in place,
	// keeping its alert_id.
	DecisionOverwrite
	// DecisionSuppress drops the candidate: the existing alert is inside its
	// cooldown window and the evidence is materially unchanged.
	DecisionSuppress
)

func (d Decision) String() string {
	switch d {
	case DecisionInsert:
		return "insert"
	case DecisionOverwrite:
		return "overwrite"
	case DecisionSuppress:
		return "suppress"
	default:
		return "unknown"
	}
}

// Decide is the pure dedup rule. existing is the current OPEN or SNOOZED
// alert for the candidate's fingerprint, or nil. evidenceHash is the
// candidate's stripped evidence hash. cooldownDays is measured in simulated
// days against the existing alert's run_date.
//
// Re-running the same day twice therefore suppresses every unchanged
// candidate: the existing run_date equals runDate, which is inside any
// positive cooldown.
func Decide(existing *Alert, evidenceHash string, runDate simday.Date, cooldownDays int) Decision {
	if existing == nil {
		return DecisionInsert
	}
	if existing.EvidenceHash != evidenceHash {
		return DecisionOverwrite
	}
	if existing.RunDate.DaysUntil(runDate) >= cooldownDays {
		return DecisionOverwrite
	}
	return DecisionSuppress
}
