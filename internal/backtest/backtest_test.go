package backtest_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendops/vendwatch/internal/backtest"
	"github.com/vendops/vendwatch/internal/ctxpack"
	"github.com/vendops/vendwatch/internal/scripts"
	"github.com/vendops/vendwatch/internal/simday"
	"github.com/vendops/vendwatch/internal/store"
	"github.com/vendops/vendwatch/internal/testutil"
)

const (
	locID     = int64(3)
	machineID = int64(38)
	beansID   = int64(1)
)

// neverFires is a trivially quiet candidate revision.
const neverFires = "result: []\n"

// setupComparator builds one machine with a persisted 45 g beans snapshot
// on 2025-02-10 and a forecast of 20 g/day through 2025-02-14. The active
// restock detector fires on 2025-02-10 and 2025-02-11 (projected 3-day
// draw of 60 g beats the 45 g on hand) and goes quiet on 2025-02-12.
func setupComparator(t *testing.T) (*backtest.Comparator, *store.Store) {
	t.Helper()
	f := testutil.NewFixture(t)
	f.AddLocation(locID, "Airport T2")
	f.AddMachine(machineID, locID, "Concourse B", "VM-200", "")
	f.AddIngredient(beansID, "Coffee Beans")
	f.AddCapacity("VM-200", beansID, 50, "g")
	f.AddTransactions("2025-02-09", locID, machineID, 2, "2.50", "card")
	f.AddTransactions("2025-02-10", locID, machineID, 2, "2.50", "cash")
	f.AddForecastRun("run-1", "2025-02-10T03:00:00Z")
	for _, date := range []string{"2025-02-11", "2025-02-12", "2025-02-13", "2025-02-14"} {
		f.AddIngredientProjection("run-1", machineID, "2025-02-10", date, beansID, 20, "g")
	}
	src := f.Source()

	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	baselines := make(map[string]string)
	for _, name := range scripts.Names() {
		source, err := scripts.Source(name)
		require.NoError(t, err)
		baselines[name] = source
	}
	require.NoError(t, st.SeedBaselines(ctx, baselines))

	capacity := 50.0
	require.NoError(t, st.WriteInventoryDay(ctx, []store.InventoryRow{{
		Day:          simday.MustParse("2025-02-10"),
		MachineID:    machineID,
		IngredientID: beansID,
		OnHandQty:    45,
		Capacity:     &capacity,
		Unit:         "g",
		Source:       store.InventorySourceSeed,
	}}))

	builder, err := ctxpack.NewBuilder(ctx, src, 3, 3)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cmp, err := backtest.New(ctx, st, src, builder, 5*time.Second, logger)
	require.NoError(t, err)
	return cmp, st
}

func TestComparator_Compare_CountsTriggersPerDay(t *testing.T) {
	cmp, _ := setupComparator(t)

	report, err := cmp.Compare(context.Background(), "restock_risk", neverFires,
		simday.MustParse("2025-02-10"), simday.MustParse("2025-02-12"))
	require.NoError(t, err)

	assert.Equal(t, "restock_risk", report.ScriptName)
	assert.NotEqual(t, report.ActiveVersion, report.CandidateVersion)
	require.Len(t, report.Days, 3)

	assert.Equal(t, 1, report.Days[0].ActiveTriggers)
	assert.Zero(t, report.Days[0].CandidateTriggers)
	assert.True(t, report.Days[0].Changed)
	assert.Equal(t, 1, report.Days[1].ActiveTriggers, "inventory falls back to the last persisted snapshot")
	assert.Zero(t, report.Days[2].ActiveTriggers, "remaining forecast draw no longer beats on-hand")
	assert.False(t, report.Days[2].Changed)

	assert.Equal(t, 2, report.TotalActive)
	assert.Zero(t, report.TotalCandidate)
	require.Len(t, report.ChangedDays, 2)
	assert.Equal(t, "2025-02-10", report.ChangedDays[0].String())
	assert.Equal(t, "2025-02-11", report.ChangedDays[1].String())
}

func TestComparator_Compare_Deterministic(t *testing.T) {
	cmp, _ := setupComparator(t)
	from, to := simday.MustParse("2025-02-10"), simday.MustParse("2025-02-12")

	first, err := cmp.Compare(context.Background(), "restock_risk", neverFires, from, to)
	require.NoError(t, err)
	second, err := cmp.Compare(context.Background(), "restock_risk", neverFires, from, to)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestComparator_Compare_GoldenReport(t *testing.T) {
	cmp, _ := setupComparator(t)

	report, err := cmp.Compare(context.Background(), "restock_risk", neverFires,
		simday.MustParse("2025-02-10"), simday.MustParse("2025-02-12"))
	require.NoError(t, err)

	data, err := json.MarshalIndent(report, "", "  ")
	require.NoError(t, err)
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "restock_risk_vs_quiet", data)
}

func TestComparator_Compare_IsReadOnly(t *testing.T) {
	cmp, st := setupComparator(t)
	ctx := context.Background()

	_, err := cmp.Compare(ctx, "restock_risk", neverFires,
		simday.MustParse("2025-02-10"), simday.MustParse("2025-02-12"))
	require.NoError(t, err)

	alerts, err := st.ListAlerts(ctx, store.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, alerts, "backtests never write alerts")
	ok, err := st.HasInventoryForDay(ctx, machineID, simday.MustParse("2025-02-11"))
	require.NoError(t, err)
	assert.False(t, ok, "backtests never progress inventory")
}

func TestComparator_Compare_RejectsInvalidCandidate(t *testing.T) {
	cmp, _ := setupComparator(t)
	ctx := context.Background()
	from, to := simday.MustParse("2025-02-10"), simday.MustParse("2025-02-10")

	_, err := cmp.Compare(ctx, "restock_risk", "import \"tool/exec\"\nresult: []\n", from, to)
	assert.ErrorContains(t, err, "candidate rejected")

	_, err = cmp.Compare(ctx, "no_such_script", neverFires, from, to)
	assert.Error(t, err)

	_, err = cmp.Compare(ctx, "restock_risk", neverFires, to, from.AddDays(-1))
	assert.ErrorContains(t, err, "invalid range")
}
