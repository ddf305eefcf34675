package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendops/vendwatch/internal/ctxpack"
)

func testContext() *ctxpack.Context {
	capacity := 50.0
	name := "espresso beans"
	return &ctxpack.Context{
		Meta: ctxpack.Meta{AsOfDate: "2025-02-14", Currency: "USD"},
		IDs:  ctxpack.IDs{LocationID: 3, MachineID: 38},
		Entities: ctxpack.Entities{
			Location: ctxpack.LocationMeta{Name: "Central Station"},
			Machine:  ctxpack.MachineMeta{Name: "Lobby machine", Model: "VM-200"},
		},
		Inventory: ctxpack.Inventory{
			SnapshotDate: "2025-02-14",
			ByIngredient: []ctxpack.InventoryRow{
				{IngredientID: 1, IngredientName: &name, QtyOnHand: 4, Unit: "g", Capacity: &capacity},
			},
		},
		Stats: ctxpack.Stats{ObservedDays: 10, UnitsMean: 12, UnitsStdev: 3, RevenueMean: 40},
	}
}

func TestRun_EmitsValidatedCandidates(t *testing.T) {
	source := `
result: [
	if ctx.inventory.by_ingredient[0].qty_on_hand < 10 {
		{
			alert_type: "restock_risk"
			severity:   "HIGH"
			title:      "Low on \(ctx.inventory.by_ingredient[0].ingredient_name)"
			summary:    "only \(ctx.inventory.by_ingredient[0].qty_on_hand) left"
			evidence: {
				qty_on_hand: ctx.inventory.by_ingredient[0].qty_on_hand
				as_of_date:  ctx.meta.as_of_date
			}
			recommended_actions: [{action_type: "RESTOCK_MACHINE", params: {mode: "top_up_to_capacity"}}]
			ingredient_id: ctx.inventory.by_ingredient[0].ingredient_id
		}
	},
]
`
	r := NewRunner(5 * time.Second)
	candidates, diags := r.Run(context.Background(), "restock_risk", source, testContext())
	require.Empty(t, diags)
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, "restock_risk", c.AlertType)
	assert.Equal(t, "Low on espresso beans", c.Title)
	assert.Equal(t, int64(3), c.LocationID, "location defaults from ctx")
	require.NotNil(t, c.MachineID)
	assert.Equal(t, int64(38), *c.MachineID, "machine defaults from ctx")
	require.NotNil(t, c.IngredientID)
	assert.Equal(t, int64(1), *c.IngredientID)
	assert.EqualValues(t, 4, c.Evidence["qty_on_hand"])
}

func TestRun_EmptyResultNoCandidates(t *testing.T) {
	r := NewRunner(5 * time.Second)
	candidates, diags := r.Run(context.Background(), "noop", "result: []", testContext())
	assert.Empty(t, diags)
	assert.Empty(t, candidates)
}

func TestRun_MissingResult(t *testing.T) {
	r := NewRunner(5 * time.Second)
	candidates, diags := r.Run(context.Background(), "broken", `something: 1`, testContext())
	assert.Empty(t, candidates)
	require.Len(t, diags, 1)
	var execErr *ExecutionError
	assert.ErrorAs(t, diags[0], &execErr)
}

func TestRun_ParseErrorIsDiagnostic(t *testing.T) {
	r := NewRunner(5 * time.Second)
	candidates, diags := r.Run(context.Background(), "broken", `result: [`, testContext())
	assert.Empty(t, candidates)
	require.Len(t, diags, 1)
	var execErr *ExecutionError
	assert.ErrorAs(t, diags[0], &execErr)
}

func TestRun_SchemaViolationDropsOnlyBadCandidate(t *testing.T) {
	source := `
result: [
	{
		alert_type: "sales_dropoff"
		severity:   "MEDIUM"
		title:      "Sales dropped"
		summary:    "units below mean"
		evidence: {units: 2}
	},
	{
		alert_type: "sales_dropoff"
		severity:   "EXTREME"
		title:      "Bad severity"
		summary:    "invalid"
		evidence: {}
	},
]
`
	r := NewRunner(5 * time.Second)
	candidates, diags := r.Run(context.Background(), "sales_dropoff", source, testContext())
	require.Len(t, candidates, 1)
	assert.Equal(t, "Sales dropped", candidates[0].Title)
	require.Len(t, diags, 1)
	var violation *SchemaViolation
	require.ErrorAs(t, diags[0], &violation)
	assert.Equal(t, 1, violation.Index)
}

func TestRun_WhitelistedImportsWork(t *testing.T) {
	source := `
import "list"

_rows: [for r in ctx.inventory.by_ingredient {r.qty_on_hand}]
result: [
	if list.Sum(_rows) < 10 {
		{
			alert_type: "restock_risk"
			severity:   "LOW"
			title:      "Total on-hand is low"
			summary:    "sum check"
			evidence: {total: list.Sum(_rows)}
		}
	},
]
`
	r := NewRunner(5 * time.Second)
	candidates, diags := r.Run(context.Background(), "sum_check", source, testContext())
	require.Empty(t, diags)
	require.Len(t, candidates, 1)
}

func TestValidateSource_RejectsNonWhitelistedImports(t *testing.T) {
	err := ValidateSource("sneaky", "import \"tool/exec\"\n\nresult: []")
	require.Error(t, err)
	var execErr *ExecutionError
	assert.ErrorAs(t, err, &execErr)
}

func TestValidateSource_AcceptsWhitelist(t *testing.T) {
	assert.NoError(t, ValidateSource("ok", "import \"list\"\nimport \"math\"\nimport \"strings\"\n\nresult: []"))
}

func TestRun_TimeoutIsDiagnostic(t *testing.T) {
	// The comprehension is heavy enough that evaluation cannot finish
	// inside a nanosecond budget; the abandoned goroutine completes on
	// its own after the runner has already returned.
	source := `
import "list"

result: [for x in list.Range(0, 20000, 1) if x < 0 {
	{alert_type: "never", severity: "LOW", title: "t", summary: "s", evidence: {}}
}]
`
	r := NewRunner(time.Nanosecond)
	candidates, diags := r.Run(context.Background(), "heavy", source, testContext())
	assert.Empty(t, candidates)
	require.Len(t, diags, 1)
	var execErr *ExecutionError
	require.ErrorAs(t, diags[0], &execErr)
	assert.Contains(t, execErr.Error(), "timed out")
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRunner(5 * time.Second)
	candidates, diags := r.Run(ctx, "noop", "result: []", testContext())
	// Either the evaluation won the race or cancellation did; both are
	// acceptable, but a cancelled run must not return candidates with a
	// diagnostic attached.
	if len(diags) > 0 {
		assert.Empty(t, candidates)
	}
}

func TestRun_DeterministicAcrossInvocations(t *testing.T) {
	source := `
result: [
	{
		alert_type: "slow_movers"
		severity:   "LOW"
		title:      "Product is slow"
		summary:    "window check"
		evidence: {units_mean: ctx.stats.units_mean}
	},
]
`
	r := NewRunner(5 * time.Second)
	first, diags := r.Run(context.Background(), "slow_movers", source, testContext())
	require.Empty(t, diags)
	for i := 0; i < 5; i++ {
		again, diags := r.Run(context.Background(), "slow_movers", source, testContext())
		require.Empty(t, diags)
		assert.Equal(t, first, again)
	}
}
