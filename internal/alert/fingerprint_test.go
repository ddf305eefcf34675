package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v int64) *int64 { return &v }

func candidate() *Candidate {
	return &Candidate{
		AlertType:  "restock_risk",
		Severity:   SeverityHigh,
		Title:      "Espresso beans will run out",
		Summary:    "3-day predicted draw exceeds on-hand quantity",
		Evidence:   map[string]any{"qty_on_hand": 1.2, "predicted_draw": 4.0},
		LocationID: 3,
		MachineID:  ptr(38),
	}
}

func TestFingerprint_StableAcrossRuns(t *testing.T) {
	c := candidate()
	first, err := Fingerprint("restock_risk", c)
	require.NoError(t, err)
	again, err := Fingerprint("restock_risk", c)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestFingerprint_IgnoresNonIdentityFields(t *testing.T) {
	a := candidate()
	b := candidate()
	b.Severity = SeverityLow
	b.Title = "different title"
	b.Summary = "different summary"
	b.Evidence = map[string]any{"totally": "different"}

	fa, err := Fingerprint("restock_risk", a)
	require.NoError(t, err)
	fb, err := Fingerprint("restock_risk", b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb, "fingerprint covers identity fields only")
}

func TestFingerprint_DistinguishesScope(t *testing.T) {
	base := candidate()
	fpBase, err := Fingerprint("restock_risk", base)
	require.NoError(t, err)

	otherMachine := candidate()
	otherMachine.MachineID = ptr(39)
	fpMachine, err := Fingerprint("restock_risk", otherMachine)
	require.NoError(t, err)
	assert.NotEqual(t, fpBase, fpMachine)

	unscoped := candidate()
	unscoped.MachineID = nil
	fpUnscoped, err := Fingerprint("restock_risk", unscoped)
	require.NoError(t, err)
	assert.NotEqual(t, fpBase, fpUnscoped, "absent machine scope is a distinct identity")

	withIngredient := candidate()
	withIngredient.IngredientID = ptr(7)
	fpIngredient, err := Fingerprint("restock_risk", withIngredient)
	require.NoError(t, err)
	assert.NotEqual(t, fpBase, fpIngredient)

	fpOtherScript, err := Fingerprint("sales_dropoff", base)
	require.NoError(t, err)
	assert.NotEqual(t, fpBase, fpOtherScript)
}

func TestEvidenceHash_StripsVolatileKeys(t *testing.T) {
	stable := map[string]any{"qty_on_hand": 1.5, "deficit": 3.0}
	withDates := map[string]any{
		"qty_on_hand": 1.5,
		"deficit":     3.0,
		"as_of_date":  "2025-02-14",
		"run_date":    "2025-02-14",
		"timestamp":   "2025-02-14T08:00:00Z",
	}
	a, err := EvidenceHash(stable)
	require.NoError(t, err)
	b, err := EvidenceHash(withDates)
	require.NoError(t, err)
	assert.Equal(t, a, b, "volatile top-level keys must not affect the hash")
}

func TestEvidenceHash_KeepsNestedVolatileLookingKeys(t *testing.T) {
	a, err := EvidenceHash(map[string]any{
		"samples": []any{map[string]any{"as_of_date": "2025-02-13", "units": 4}},
	})
	require.NoError(t, err)
	b, err := EvidenceHash(map[string]any{
		"samples": []any{map[string]any{"as_of_date": "2025-02-14", "units": 4}},
	})
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "stripping applies to top-level keys only")
}

func TestEvidenceHash_SensitiveToValues(t *testing.T) {
	a, err := EvidenceHash(map[string]any{"units": 4})
	require.NoError(t, err)
	b, err := EvidenceHash(map[string]any{"units": 5})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
