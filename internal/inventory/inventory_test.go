package inventory

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendops/vendwatch/internal/feed"
	"github.com/vendops/vendwatch/internal/simday"
	"github.com/vendops/vendwatch/internal/store"
	"github.com/vendops/vendwatch/internal/testutil"
)

const (
	locID     = int64(3)
	machineID = int64(38)
	beansID   = int64(1)
	milkID    = int64(2)
)

func setup(t *testing.T) (*Progressor, *store.Store, feed.Machine) {
	t.Helper()
	fx := testutil.NewFixture(t)
	fx.AddLocation(locID, "Central Station")
	fx.AddMachine(machineID, locID, "Lobby machine", "VM-200", "2025-01-10")
	fx.AddIngredient(beansID, "espresso beans")
	fx.AddIngredient(milkID, "milk powder")
	fx.AddCapacity("VM-200", beansID, 50, "g")
	fx.AddCapacity("VM-200", milkID, 1000, "ml")

	// 8 g of beans forecast for each of three days; milk untouched.
	fx.AddForecastRun("run-1", "2025-02-01T06:00:00Z")
	for _, d := range []string{"2025-02-02", "2025-02-03", "2025-02-04"} {
		fx.AddIngredientProjection("run-1", machineID, "2025-02-01", d, beansID, 8, "g")
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := NewProgressor(context.Background(), st, fx.Source(), logger)
	require.NoError(t, err)

	machines, err := fx.Source().Machines(context.Background())
	require.NoError(t, err)
	require.Len(t, machines, 1)
	return p, st, machines[0]
}

func TestSeed_NinetyPercentOfCapacity(t *testing.T) {
	p, _, m := setup(t)
	ctx := context.Background()
	day := simday.MustParse("2025-02-01")

	require.NoError(t, p.Seed(ctx, m, day))
	snap, err := p.Snapshot(ctx, m.ID, day)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, 45.0, snap[beansID].OnHandQty)
	assert.Equal(t, 900.0, snap[milkID].OnHandQty)
	assert.Equal(t, store.InventorySourceSeed, snap[beansID].Source)

	// Seeding again is a no-op.
	require.NoError(t, p.Seed(ctx, m, day))
}

func TestAdvanceDay_DrawsDownForecastConsumption(t *testing.T) {
	p, _, m := setup(t)
	ctx := context.Background()
	seedDay := simday.MustParse("2025-02-01")
	require.NoError(t, p.Seed(ctx, m, seedDay))

	require.NoError(t, p.AdvanceDay(ctx, m, seedDay.AddDays(1), false))
	snap, err := p.Snapshot(ctx, m.ID, seedDay.AddDays(1))
	require.NoError(t, err)
	assert.Equal(t, 37.0, snap[beansID].OnHandQty)
	assert.Equal(t, 900.0, snap[milkID].OnHandQty, "no forecast draw means no drawdown")
	assert.Equal(t, store.InventorySourceDrawdown, snap[beansID].Source)

	require.NoError(t, p.AdvanceDay(ctx, m, seedDay.AddDays(2), false))
	snap, err = p.Snapshot(ctx, m.ID, seedDay.AddDays(2))
	require.NoError(t, err)
	assert.Equal(t, 29.0, snap[beansID].OnHandQty)
}

func TestAdvanceDay_IdempotentPerDay(t *testing.T) {
	p, _, m := setup(t)
	ctx := context.Background()
	seedDay := simday.MustParse("2025-02-01")
	require.NoError(t, p.Seed(ctx, m, seedDay))
	day := seedDay.AddDays(1)

	require.NoError(t, p.AdvanceDay(ctx, m, day, false))
	require.NoError(t, p.AdvanceDay(ctx, m, day, false))

	snap, err := p.Snapshot(ctx, m.ID, day)
	require.NoError(t, err)
	assert.Equal(t, 37.0, snap[beansID].OnHandQty, "second advance must not draw down twice")
}

func TestAdvanceDay_OutOfOrderRejected(t *testing.T) {
	p, _, m := setup(t)
	ctx := context.Background()
	seedDay := simday.MustParse("2025-02-01")
	require.NoError(t, p.Seed(ctx, m, seedDay))

	var oo *OutOfOrderAdvanceError
	err := p.AdvanceDay(ctx, m, seedDay.AddDays(3), false)
	require.ErrorAs(t, err, &oo)
	assert.Equal(t, m.ID, oo.MachineID)

	// No state at all is also out of order.
	err = p.AdvanceDay(ctx, feed.Machine{ID: 999, Model: "VM-200"}, seedDay.AddDays(1), false)
	require.ErrorAs(t, err, &oo)
}

func TestAdvanceDay_ClampsAtZero(t *testing.T) {
	fx := testutil.NewFixture(t)
	fx.AddLocation(locID, "Central Station")
	fx.AddMachine(machineID, locID, "Lobby machine", "VM-200", "2025-01-10")
	fx.AddIngredient(beansID, "espresso beans")
	fx.AddCapacity("VM-200", beansID, 50, "g")
	fx.AddForecastRun("run-1", "2025-02-01T06:00:00Z")
	fx.AddIngredientProjection("run-1", machineID, "2025-02-01", "2025-02-02", beansID, 500, "g")

	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := NewProgressor(context.Background(), st, fx.Source(), logger)
	require.NoError(t, err)
	machines, err := fx.Source().Machines(context.Background())
	require.NoError(t, err)
	m := machines[0]

	ctx := context.Background()
	require.NoError(t, p.Seed(ctx, m, simday.MustParse("2025-02-01")))
	require.NoError(t, p.AdvanceDay(ctx, m, simday.MustParse("2025-02-02"), false))

	snap, err := p.Snapshot(ctx, m.ID, simday.MustParse("2025-02-02"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, snap[beansID].OnHandQty, "on-hand never goes negative")
}

func TestAdvanceDay_RestockTopsUpToCapacity(t *testing.T) {
	p, _, m := setup(t)
	ctx := context.Background()
	seedDay := simday.MustParse("2025-02-01")
	require.NoError(t, p.Seed(ctx, m, seedDay))
	require.NoError(t, p.AdvanceDay(ctx, m, seedDay.AddDays(1), false))

	require.NoError(t, p.AdvanceDay(ctx, m, seedDay.AddDays(2), true))
	snap, err := p.Snapshot(ctx, m.ID, seedDay.AddDays(2))
	require.NoError(t, err)
	assert.Equal(t, 50.0, snap[beansID].OnHandQty)
	assert.Equal(t, 1000.0, snap[milkID].OnHandQty)
	assert.Equal(t, store.InventorySourceRestock, snap[beansID].Source)
}

func TestReplayTo_MatchesSingleAdvances(t *testing.T) {
	pA, _, mA := setup(t)
	pB, _, mB := setup(t)
	ctx := context.Background()
	start := simday.MustParse("2025-02-01")
	target := simday.MustParse("2025-02-04")

	// A: one jump.
	require.NoError(t, pA.ReplayTo(ctx, mA, start, target))

	// B: day by day.
	require.NoError(t, pB.Seed(ctx, mB, start))
	for d := start.AddDays(1); !target.Before(d); d = d.AddDays(1) {
		require.NoError(t, pB.AdvanceDay(ctx, mB, d, false))
	}

	snapA, err := pA.Snapshot(ctx, mA.ID, target)
	require.NoError(t, err)
	snapB, err := pB.Snapshot(ctx, mB.ID, target)
	require.NoError(t, err)
	assert.Equal(t, snapB[beansID].OnHandQty, snapA[beansID].OnHandQty)
	assert.Equal(t, 45.0-3*8, snapA[beansID].OnHandQty)
}
