package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/openclaw-briefing/internal/config"
	"github.com/ajitpratap0/openclaw-briefing/internal/knowledge"
	"github.com/ajitpratap0/openclaw-briefing/internal/models"
	"github.com/ajitpratap0/openclaw-briefing/internal/store"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setup(t *testing.T, p models.UserProfile) (*store.MockStore, *Manager) {
	t.Helper()
	st := store.NewMockStore()
	require.NoError(t, st.SaveProfile(context.Background(), p))
	engine := knowledge.NewEngine(st, st, st, nil, knowledge.PolicyFromConfig(config.Default().Knowledge), newTestLogger())
	return st, NewManager(engine, newTestLogger())
}

func TestRun_SeedDecayPrune(t *testing.T) {
	p := models.UserProfile{UserID: "u1", Company: "Acme Re", PeerOrgs: []string{"Swiss Re"}, Active: true}
	st, m := setup(t, p)
	ctx := context.Background()
	old := time.Now().UTC().Add(-100 * 24 * time.Hour)
	require.NoError(t, st.UpsertEntity(ctx, models.KnowledgeEntity{
		ID: "stale", UserID: "u1", Type: models.EntityTypeTerm, Name: "Cat bond jargon",
		Confidence: 0.1, KnownSince: old, LastReinforced: old,
	}))
	require.NoError(t, st.UpsertEntity(ctx, models.KnowledgeEntity{
		ID: "fading", UserID: "u1", Type: models.EntityTypePerson, Name: "Jane Analyst",
		Confidence: 0.8, KnownSince: old, LastReinforced: old,
	}))

	report := m.Run(ctx, p, Options{Seed: true, DecayElapsed: 24 * time.Hour})
	assert.False(t, report.Failed(), "errors: %v", report.Errors)
	assert.Equal(t, 2, report.Seeded)
	assert.Equal(t, 2, report.Decayed)
	assert.Equal(t, 1, report.Pruned)
	assert.Equal(t, []string{"Cat bond jargon"}, report.PrunedNames)
	require.NotNil(t, report.GapScan)

	fading, err := st.GetEntity(ctx, "u1", "fading")
	require.NoError(t, err)
	assert.Less(t, fading.Confidence, 0.8)

	_, err = st.GetEntity(ctx, "u1", "stale")
	assert.ErrorIs(t, err, store.ErrNotFound)

	saved, err := st.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, saved.LastGapScanAt.IsZero())

	// The gap scan has its own cadence.
	again := m.Run(ctx, *saved, Options{})
	assert.Equal(t, "not due", again.GapScanSkip)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	p := models.UserProfile{UserID: "u1", Company: "Acme Re", Active: true}
	st, m := setup(t, p)
	ctx := context.Background()
	old := time.Now().UTC().Add(-100 * 24 * time.Hour)
	require.NoError(t, st.UpsertEntity(ctx, models.KnowledgeEntity{
		ID: "stale", UserID: "u1", Type: models.EntityTypeConcept, Name: "Old concept",
		Confidence: 0.1, KnownSince: old, LastReinforced: old,
	}))

	report := m.Run(ctx, p, Options{Seed: true, DecayElapsed: time.Hour, DryRun: true})
	assert.Zero(t, report.Seeded)
	assert.Zero(t, report.Decayed)
	assert.Equal(t, 1, report.Pruned)
	assert.Equal(t, "dry run", report.GapScanSkip)

	ents, err := st.ListEntities(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, 0.1, ents[0].Confidence)
}

func TestRun_GapScanWithoutModelIsSkipped(t *testing.T) {
	p := models.UserProfile{UserID: "u1", KnowledgeGaps: []string{"catastrophe modelling"}, Active: true}
	_, m := setup(t, p)

	report := m.Run(context.Background(), p, Options{})
	assert.Equal(t, "no model configured", report.GapScanSkip)
	assert.False(t, report.Failed())
}

func TestRun_MissingProfileRecordsError(t *testing.T) {
	_, m := setup(t, models.UserProfile{UserID: "u1", Active: true})

	report := m.Run(context.Background(), models.UserProfile{UserID: "ghost"}, Options{})
	assert.True(t, report.Failed())
	assert.Contains(t, report.Errors[0], "prune")
}
