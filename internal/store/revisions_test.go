package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedBaselines_InstallsActiveOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SeedBaselines(ctx, map[string]string{"restock_risk": "result: []"}))

	id, source, err := s.ActiveSource(ctx, "restock_risk")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, "result: []", source)

	// Seeding again does not clobber history.
	require.NoError(t, s.SeedBaselines(ctx, map[string]string{"restock_risk": "result: [1]"}))
	_, source, err = s.ActiveSource(ctx, "restock_risk")
	require.NoError(t, err)
	assert.Equal(t, "result: []", source)
}

func TestRevisionLifecycle_DraftActivateRevert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SeedBaselines(ctx, map[string]string{"restock_risk": "baseline source"}))
	baselineID, _, err := s.ActiveSource(ctx, "restock_risk")
	require.NoError(t, err)

	draftID, err := s.CreateDraft(ctx, "restock_risk", "draft source", "lower threshold")
	require.NoError(t, err)

	// Draft does not affect the active revision until activated.
	activeID, source, err := s.ActiveSource(ctx, "restock_risk")
	require.NoError(t, err)
	assert.Equal(t, baselineID, activeID)
	assert.Equal(t, "baseline source", source)

	require.NoError(t, s.ActivateRevision(ctx, "restock_risk", draftID))
	activeID, source, err = s.ActiveSource(ctx, "restock_risk")
	require.NoError(t, err)
	assert.Equal(t, draftID, activeID)
	assert.Equal(t, "draft source", source)

	// Revert reinstates the baseline.
	promoted, err := s.RevertScript(ctx, "restock_risk")
	require.NoError(t, err)
	assert.Equal(t, baselineID, promoted)
	_, source, err = s.ActiveSource(ctx, "restock_risk")
	require.NoError(t, err)
	assert.Equal(t, "baseline source", source)
}

func TestActivateRevision_OnlyDrafts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SeedBaselines(ctx, map[string]string{"restock_risk": "v0"}))

	d1, err := s.CreateDraft(ctx, "restock_risk", "v1", "")
	require.NoError(t, err)
	require.NoError(t, s.ActivateRevision(ctx, "restock_risk", d1))

	// The superseded baseline cannot be re-activated directly; that is
	// what revert is for.
	revs, err := s.Revisions(ctx, "restock_risk")
	require.NoError(t, err)
	var supersededID string
	for _, r := range revs {
		if r.Status == RevisionSuperseded {
			supersededID = r.RevisionID
		}
	}
	require.NotEmpty(t, supersededID)
	assert.Error(t, s.ActivateRevision(ctx, "restock_risk", supersededID))

	// Activating the active revision is a no-op.
	assert.NoError(t, s.ActivateRevision(ctx, "restock_risk", d1))
}

func TestActivateRevision_UnknownRevision(t *testing.T) {
	s := openTestStore(t)
	err := s.ActivateRevision(context.Background(), "restock_risk", "missing")
	assert.ErrorIs(t, err, ErrScriptNotFound)
}

func TestRevertScript_NoHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SeedBaselines(ctx, map[string]string{"restock_risk": "v0"}))
	_, err := s.RevertScript(ctx, "restock_risk")
	assert.Error(t, err)
}

func TestSetScriptEnabled_AffectsEnabledScripts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SeedBaselines(ctx, map[string]string{
		"restock_risk":  "a",
		"sales_dropoff": "b",
	}))

	revs, err := s.EnabledScripts(ctx)
	require.NoError(t, err)
	assert.Len(t, revs, 2)
	// Deterministic execution order.
	assert.Equal(t, "restock_risk", revs[0].ScriptName)
	assert.Equal(t, "sales_dropoff", revs[1].ScriptName)

	require.NoError(t, s.SetScriptEnabled(ctx, "sales_dropoff", false))
	revs, err = s.EnabledScripts(ctx)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, "restock_risk", revs[0].ScriptName)

	require.NoError(t, s.SetScriptEnabled(ctx, "sales_dropoff", true))
	revs, err = s.EnabledScripts(ctx)
	require.NoError(t, err)
	assert.Len(t, revs, 2)
}

func TestSetScriptEnabled_UnknownScript(t *testing.T) {
	s := openTestStore(t)
	err := s.SetScriptEnabled(context.Background(), "ghost", false)
	assert.ErrorIs(t, err, ErrScriptNotFound)
}

func TestListScripts_ReportsCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SeedBaselines(ctx, map[string]string{"restock_risk": "v0"}))
	_, err := s.CreateDraft(ctx, "restock_risk", "v1", "")
	require.NoError(t, err)

	infos, err := s.ListScripts(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "restock_risk", infos[0].ScriptName)
	assert.True(t, infos[0].Enabled)
	assert.Equal(t, 2, infos[0].RevisionCount)
	assert.NotEmpty(t, infos[0].ActiveRevisionID)
}
