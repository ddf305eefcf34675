package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendops/vendwatch/internal/simday"
)

func capacityPtr(v float64) *float64 { return &v }

func TestWriteInventoryDay_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	day := simday.MustParse("2025-02-01")

	rows := []InventoryRow{
		{Day: day, MachineID: 38, IngredientID: 1, OnHandQty: 45, Capacity: capacityPtr(50), Unit: "g", Source: InventorySourceSeed},
		{Day: day, MachineID: 38, IngredientID: 2, OnHandQty: 900, Capacity: capacityPtr(1000), Unit: "ml", Source: InventorySourceSeed},
	}
	require.NoError(t, s.WriteInventoryDay(ctx, rows))

	got, err := s.InventoryForDay(ctx, 38, day)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 45.0, got[1].OnHandQty)
	assert.Equal(t, 50.0, *got[1].Capacity)
	assert.Equal(t, "ml", got[2].Unit)
	assert.Equal(t, InventorySourceSeed, got[2].Source)
}

func TestWriteInventoryDay_DuplicateCellFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	day := simday.MustParse("2025-02-01")
	row := InventoryRow{Day: day, MachineID: 38, IngredientID: 1, OnHandQty: 45, Unit: "g", Source: InventorySourceSeed}

	require.NoError(t, s.WriteInventoryDay(ctx, []InventoryRow{row}))
	assert.Error(t, s.WriteInventoryDay(ctx, []InventoryRow{row}))
}

func TestLatestInventoryDay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LatestInventoryDay(ctx, 38, simday.MustParse("2025-02-10"))
	require.NoError(t, err)
	assert.False(t, ok)

	for _, d := range []string{"2025-02-01", "2025-02-02", "2025-02-03"} {
		require.NoError(t, s.WriteInventoryDay(ctx, []InventoryRow{{
			Day: simday.MustParse(d), MachineID: 38, IngredientID: 1,
			OnHandQty: 10, Unit: "g", Source: InventorySourceDrawdown,
		}}))
	}

	day, ok, err := s.LatestInventoryDay(ctx, 38, simday.MustParse("2025-02-10"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, simday.MustParse("2025-02-03"), day)

	day, ok, err = s.LatestInventoryDay(ctx, 38, simday.MustParse("2025-02-02"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, simday.MustParse("2025-02-02"), day)
}

func TestHasInventoryForDay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	day := simday.MustParse("2025-02-01")

	ok, err := s.HasInventoryForDay(ctx, 38, day)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.WriteInventoryDay(ctx, []InventoryRow{{
		Day: day, MachineID: 38, IngredientID: 1, OnHandQty: 1, Unit: "g", Source: InventorySourceSeed,
	}}))

	ok, err = s.HasInventoryForDay(ctx, 38, day)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunLog_RecordAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	day := simday.MustParse("2025-02-01")

	has, err := s.HasRun(ctx, day)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.RecordRun(ctx, RunRecord{RunDate: day, ExecutedScripts: 4, EmittedAlerts: 2}))
	require.NoError(t, s.RecordRun(ctx, RunRecord{RunDate: day, ExecutedScripts: 4, EmittedAlerts: 0}))

	recs, err := s.RunLog(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1, "re-recording a day overwrites")
	assert.Equal(t, 0, recs[0].EmittedAlerts)

	has, err = s.HasRun(ctx, day)
	require.NoError(t, err)
	assert.True(t, has)
}
