package feed_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendops/vendwatch/internal/feed"
	"github.com/vendops/vendwatch/internal/simday"
	"github.com/vendops/vendwatch/internal/testutil"
)

const (
	locID     = int64(3)
	machineID = int64(38)
)

func d(t *testing.T, s string) simday.Date {
	t.Helper()
	day, err := simday.Parse(s)
	require.NoError(t, err)
	return day
}

func TestObservedDaily_SumsExactly(t *testing.T) {
	f := testutil.NewFixture(t)
	f.AddLocation(locID, "Airport T2")
	f.AddMachine(machineID, locID, "Concourse B", "VM-200", "")
	// 0.10 x 3 is the classic binary-float trap: the sum must be exactly
	// 0.30, not 0.30000000000000004.
	f.AddTransactions("2025-02-10", locID, machineID, 3, "0.10", "card")
	f.AddTransactions("2025-02-10", locID, machineID, 1, "2.00", "cash")
	f.AddTransactions("2025-02-12", locID, machineID, 2, "1.50", "cash")
	src := f.Source()

	ctx := context.Background()
	totals, err := src.ObservedDaily(ctx, locID, machineID, d(t, "2025-02-10"), d(t, "2025-02-12"))
	require.NoError(t, err)
	require.Len(t, totals, 2, "silent days are absent, not zero rows")

	first := totals[0]
	assert.Equal(t, "2025-02-10", first.Date.String())
	assert.EqualValues(t, 4, first.Units)
	assert.Equal(t, "2.3", first.Revenue.String())
	require.NotNil(t, first.CardShare)
	assert.InDelta(t, 0.75, *first.CardShare, 1e-9)

	second := totals[1]
	assert.Equal(t, "2025-02-12", second.Date.String())
	assert.EqualValues(t, 2, second.Units)
	assert.Zero(t, *second.CardShare)
}

func TestObservedDaily_RespectsRange(t *testing.T) {
	f := testutil.NewFixture(t)
	f.AddLocation(locID, "Airport T2")
	f.AddMachine(machineID, locID, "Concourse B", "VM-200", "")
	f.AddTransactions("2025-02-09", locID, machineID, 5, "1.00", "cash")
	f.AddTransactions("2025-02-10", locID, machineID, 1, "1.00", "cash")
	src := f.Source()

	totals, err := src.ObservedDaily(context.Background(), locID, machineID,
		d(t, "2025-02-10"), d(t, "2025-02-10"))
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, "2025-02-10", totals[0].Date.String())
}

func TestTransactionDateRange(t *testing.T) {
	f := testutil.NewFixture(t)
	f.AddLocation(locID, "Airport T2")
	f.AddMachine(machineID, locID, "Concourse B", "VM-200", "")
	f.AddTransactions("2025-01-05", locID, machineID, 1, "1.00", "cash")
	f.AddTransactions("2025-03-01", locID, machineID, 1, "1.00", "cash")
	src := f.Source()

	min, max, err := src.TransactionDateRange(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-01-05", min.String())
	assert.Equal(t, "2025-03-01", max.String())
}

func TestTransactionDateRange_EmptyTable(t *testing.T) {
	f := testutil.NewFixture(t)
	src := f.Source()
	_, _, err := src.TransactionDateRange(context.Background())
	assert.Error(t, err)
}

func TestMachine_LocationScoped(t *testing.T) {
	f := testutil.NewFixture(t)
	f.AddLocation(locID, "Airport T2")
	f.AddLocation(4, "Station Hall")
	f.AddMachine(machineID, locID, "Concourse B", "VM-200", "")
	src := f.Source()

	ctx := context.Background()
	m, err := src.Machine(ctx, locID, machineID)
	require.NoError(t, err)
	assert.Equal(t, "Airport T2", m.LocationName)

	var notFound *feed.NotFoundError
	_, err = src.Machine(ctx, 4, machineID)
	require.ErrorAs(t, err, &notFound, "a machine is only visible through its own location")
	assert.Equal(t, machineID, notFound.ID)
}

func TestProjectionAnchor_PrefersLatestAtOrBefore(t *testing.T) {
	f := testutil.NewFixture(t)
	f.AddForecastRun("run-1", "2025-02-01T00:00:00Z")
	f.AddIngredientProjection("run-1", machineID, "2025-02-05", "2025-02-06", 1, 10, "g")
	f.AddIngredientProjection("run-1", machineID, "2025-02-08", "2025-02-09", 1, 10, "g")
	src := f.Source()

	ctx := context.Background()
	anchor, ok, err := src.ProjectionAnchor(ctx, "run-1", machineID, d(t, "2025-02-07"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2025-02-05", anchor.String())

	// Before any snapshot exists the newest one still serves.
	anchor, ok, err = src.ProjectionAnchor(ctx, "run-1", machineID, d(t, "2025-02-01"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2025-02-08", anchor.String())

	_, ok, err = src.ProjectionAnchor(ctx, "run-1", 999, d(t, "2025-02-07"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPredictedIngredients_FiltersByAnchorAndRange(t *testing.T) {
	f := testutil.NewFixture(t)
	f.AddForecastRun("run-1", "2025-02-01T00:00:00Z")
	f.AddIngredientProjection("run-1", machineID, "2025-02-05", "2025-02-06", 1, 12, "g")
	f.AddIngredientProjection("run-1", machineID, "2025-02-05", "2025-02-07", 2, 300, "ml")
	f.AddIngredientProjection("run-1", machineID, "2025-02-04", "2025-02-06", 1, 99, "g")

	rows, err := f.Source().PredictedIngredients(context.Background(), "run-1", machineID,
		d(t, "2025-02-05"), d(t, "2025-02-06"), d(t, "2025-02-07"))
	require.NoError(t, err)
	require.Len(t, rows, 2, "stale snapshot rows are excluded")
	assert.Equal(t, 12.0, rows[0].Quantity)
	assert.Equal(t, "ml", rows[1].Unit)
}

func TestPredictedConsumption_AnchorsPerDay(t *testing.T) {
	f := testutil.NewFixture(t)
	f.AddForecastRun("run-1", "2025-02-01T00:00:00Z")
	f.AddIngredientProjection("run-1", machineID, "2025-02-05", "2025-02-06", 1, 12, "g")
	f.AddIngredientProjection("run-1", machineID, "2025-02-06", "2025-02-06", 1, 9, "g")
	src := f.Source()

	ctx := context.Background()
	// Both snapshots cover 2025-02-06; the newer one wins.
	draw, err := src.PredictedConsumption(ctx, machineID, d(t, "2025-02-06"))
	require.NoError(t, err)
	require.Contains(t, draw, int64(1))
	assert.Equal(t, 9.0, draw[1].Quantity)

	// A day no snapshot forecasts draws nothing.
	draw, err = src.PredictedConsumption(ctx, machineID, d(t, "2025-02-09"))
	require.NoError(t, err)
	assert.Empty(t, draw)
}

func TestPredictedConsumption_NoForecastRun(t *testing.T) {
	f := testutil.NewFixture(t)
	draw, err := f.Source().PredictedConsumption(context.Background(), machineID, d(t, "2025-02-06"))
	require.NoError(t, err)
	assert.Empty(t, draw)
}

func TestCapacities_JoinsIngredientNames(t *testing.T) {
	f := testutil.NewFixture(t)
	f.AddIngredient(1, "Coffee Beans")
	f.AddCapacity("VM-200", 1, 50, "g")
	src := f.Source()

	caps, err := src.Capacities(context.Background())
	require.NoError(t, err)
	require.Len(t, caps, 1)
	assert.Equal(t, "VM-200", caps[0].MachineModel)
	assert.Equal(t, "Coffee Beans", caps[0].IngredientName)
	assert.Equal(t, 50.0, caps[0].Capacity)
}
