package alert

import (
	"fmt"

	"github.com/vendops/vendwatch/internal/ir"
)

// volatileEvidenceKeys are stripped before evidence hashing. These fields
// change on every run even when the underlying condition is unchanged, and
// must not defeat cooldown suppression.
var volatileEvidenceKeys = map[string]bool{
	"as_of_date":    true,
	"run_date":      true,
	"snapshot_date": true,
	"generated_at":  true,
	"observed_at":   true,
	"timestamp":     true,
}

// Fingerprint computes the stable dedup identity of a candidate:
// SHA-256 over the canonical JSON of (script_name, alert_type, location_id,
// machine_id, product_id, ingredient_id). Absent scope ids hash as null so
// "machine-scoped" and "location-scoped" alerts of the same type never collide.
func Fingerprint(scriptName string, c *Candidate) (string, error) {
	identity := map[string]any{
		"script_name":   scriptName,
		"alert_type":    c.AlertType,
		"location_id":   c.LocationID,
		"machine_id":    optID(c.MachineID),
		"product_id":    optID(c.ProductID),
		"ingredient_id": optID(c.IngredientID),
	}
	fp, err := ir.HashCanonical(ir.DomainFingerprint, identity)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s/%s: %w", scriptName, c.AlertType, err)
	}
	return fp, nil
}

// EvidenceHash computes the hash that decides "materially changed evidence".
// Volatile keys (dates, timestamps) are removed first; everything else is
// hashed canonically. Nested values keep their volatile-looking keys: only
// top-level fields are stripped, so scripts can put a date inside a sample
// list without breaking suppression.
func EvidenceHash(evidence map[string]any) (string, error) {
	stable := make(map[string]any, len(evidence))
	for k, v := range evidence {
		if volatileEvidenceKeys[k] {
			continue
		}
		stable[k] = v
	}
	h, err := ir.HashCanonical(ir.DomainEvidence, stable)
	if err != nil {
		return "", fmt.Errorf("evidence hash: %w", err)
	}
	return h, nil
}

func optID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
