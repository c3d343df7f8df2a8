package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := OpenSQL("sqlite", ":memory:")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps every query on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)
	s := NewSQLStore(db, newTestLogger())
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("mock", func(t *testing.T) { fn(t, NewMockStore()) })
	t.Run("sql", func(t *testing.T) { fn(t, newTestSQLStore(t)) })
}

func testSignal(id, url, hash string) models.Signal {
	return models.Signal{
		ID:          id,
		Layer:       models.LayerNews,
		SourceURL:   url,
		Title:       "Title " + id,
		Content:     "Content " + id,
		Summary:     "Summary " + id,
		Metadata:    map[string]string{"source": "test"},
		ContentHash: hash,
		PublishedAt: time.Now().UTC().Add(-time.Hour),
		IngestedAt:  time.Now().UTC(),
	}
}

func TestStore_InsertSignalDedupByURL(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first, created, err := s.InsertSignal(ctx, testSignal("sig-1", "https://example.com/a", "hash-a"))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "sig-1", first.ID)

		dup, created, err := s.InsertSignal(ctx, testSignal("sig-2", "https://example.com/a", "hash-b"))
		require.NoError(t, err)
		assert.False(t, created, "same URL must not create a second row")
		assert.Equal(t, "sig-1", dup.ID)

		_, err = s.GetSignal(ctx, "sig-2")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestStore_InsertSignalDedupByHash(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, created, err := s.InsertSignal(ctx, testSignal("sig-1", "https://example.com/a", "same-hash"))
		require.NoError(t, err)
		require.True(t, created)

		dup, created, err := s.InsertSignal(ctx, testSignal("sig-2", "https://mirror.example.com/a", "same-hash"))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "sig-1", dup.ID)
	})
}

func TestStore_ConcurrentInsertsKeepOneRow(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const writers = 8
		ids := make([]string, writers)
		var wg sync.WaitGroup
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sig := testSignal(fmt.Sprintf("sig-%d", i), "https://example.com/race", fmt.Sprintf("hash-%d", i))
				got, _, err := s.InsertSignal(ctx, sig)
				assert.NoError(t, err)
				ids[i] = got.ID
			}()
		}
		wg.Wait()
		for _, id := range ids {
			assert.Equal(t, ids[0], id, "every writer must resolve to the same row")
		}
	})
}

func TestSQLStore_CreateSignalConflictReturnsWinner(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	_, created, err := s.InsertSignal(ctx, testSignal("winner", "https://example.com/a", "hash-a"))
	require.NoError(t, err)
	require.True(t, created)

	// A writer that missed the duplicate lookup hits the unique index instead.
	got, created, err := s.createSignal(ctx, signalFromModel(testSignal("loser", "https://example.com/a", "hash-b")))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "winner", got.ID)

	got, created, err = s.createSignal(ctx, signalFromModel(testSignal("loser-2", "https://example.com/b", "hash-a")))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "winner", got.ID)

	var n int64
	require.NoError(t, s.db.Model(&signalRow{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestSQLStore_BlankDedupKeysDoNotCollide(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, created, err := s.InsertSignal(ctx, testSignal(id, "", ""))
		require.NoError(t, err)
		assert.True(t, created)
	}
	got, err := s.GetSignal(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, got.SourceURL)
}

func TestStore_ProvenanceIgnoresConflicts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, _, err := s.InsertSignal(ctx, testSignal("sig-1", "https://example.com/a", "h1"))
		require.NoError(t, err)

		p := models.SignalProvenance{
			ID:            "prov-1",
			SignalID:      "sig-1",
			UserID:        "user-1",
			TriggerReason: models.TriggerFollowedOrg,
			CreatedAt:     time.Now().UTC(),
		}
		created, err := s.AddProvenance(ctx, p)
		require.NoError(t, err)
		assert.True(t, created)

		p.ID = "prov-2"
		created, err = s.AddProvenance(ctx, p)
		require.NoError(t, err)
		assert.False(t, created, "second provenance for the same (signal, user) must be ignored")

		p.ID = "prov-3"
		p.UserID = "user-2"
		created, err = s.AddProvenance(ctx, p)
		require.NoError(t, err)
		assert.True(t, created, "another user gets their own provenance row")

		ok, err := s.HasProvenance(ctx, "user-1", "sig-1")
		require.NoError(t, err)
		assert.True(t, ok)

		list, err := s.ListUserSignals(ctx, "user-1", time.Now().UTC().Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "sig-1", list[0].Signal.ID)
		assert.Equal(t, "test", list[0].Signal.Metadata["source"])
	})
}

func TestStore_DeleteEntitiesCascadesEdges(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC()
		for _, id := range []string{"e1", "e2", "e3"} {
			require.NoError(t, s.UpsertEntity(ctx, models.KnowledgeEntity{
				ID: id, UserID: "user-1", Type: models.EntityTypeCompany, Name: "Entity " + id,
				Confidence: 0.5, KnownSince: now, LastReinforced: now,
			}))
		}
		require.NoError(t, s.UpsertEdge(ctx, models.KnowledgeEdge{ID: "edge-1", UserID: "user-1", SourceEntityID: "e1", TargetEntityID: "e2", Relationship: models.RelCompetesWith}))
		require.NoError(t, s.UpsertEdge(ctx, models.KnowledgeEdge{ID: "edge-2", UserID: "user-1", SourceEntityID: "e2", TargetEntityID: "e3", Relationship: models.RelPartOf}))

		removed, err := s.DeleteEntities(ctx, "user-1", []string{"e1"})
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		edges, err := s.ListEdges(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, edges, 1)
		assert.Equal(t, "edge-2", edges[0].ID)
	})
}

func TestStore_EdgeRejectsForeignEndpoint(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC()
		require.NoError(t, s.UpsertEntity(ctx, models.KnowledgeEntity{ID: "mine", UserID: "user-1", Name: "Mine", KnownSince: now, LastReinforced: now}))
		require.NoError(t, s.UpsertEntity(ctx, models.KnowledgeEntity{ID: "theirs", UserID: "user-2", Name: "Theirs", KnownSince: now, LastReinforced: now}))

		err := s.UpsertEdge(ctx, models.KnowledgeEdge{ID: "x", UserID: "user-1", SourceEntityID: "mine", TargetEntityID: "theirs", Relationship: models.RelRelatedTo})
		assert.ErrorIs(t, err, ErrCrossUserEdge)

		err = s.UpsertEdge(ctx, models.KnowledgeEdge{ID: "y", UserID: "user-1", SourceEntityID: "mine", TargetEntityID: "missing", Relationship: models.RelRelatedTo})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_FindEntityByNameCaseInsensitive(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC()
		require.NoError(t, s.UpsertEntity(ctx, models.KnowledgeEntity{
			ID: "e1", UserID: "user-1", Type: models.EntityTypeConcept, Name: "Parametric Insurance",
			Confidence: 0.7, KnownSince: now, LastReinforced: now,
		}))

		e, err := s.FindEntityByName(ctx, "user-1", "  parametric insurance ")
		require.NoError(t, err)
		assert.Equal(t, "e1", e.ID)

		_, err = s.FindEntityByName(ctx, "user-2", "parametric insurance")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_BriefingAndRunRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		b := models.Briefing{
			ID:     "brief-1",
			UserID: "user-1",
			Items: []models.BriefingItem{{
				ID: "item-1", ItemNumber: 1, Reason: "r", ReasonLabel: "Initiative Match",
				Topic: "t", Content: "c", SourceSignalIDs: []string{"sig-1"},
			}},
			GeneratedAt:  now,
			PromptTokens: 10,
		}
		id, err := s.SaveBriefing(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, "brief-1", id)

		require.NoError(t, s.MarkDelivered(ctx, id, now))
		got, err := s.GetBriefing(ctx, id)
		require.NoError(t, err)
		require.Len(t, got.Items, 1)
		assert.Equal(t, []string{"sig-1"}, got.Items[0].SourceSignalIDs)
		require.NotNil(t, got.DeliveredAt)

		latest, err := s.LatestBriefing(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, id, latest.ID)

		run := models.PipelineRun{
			ID: "run-1", UserID: "user-1", Status: models.RunCompleted, RunType: models.RunTypeDaily,
			Stages:     []models.PipelineStageResult{{Stage: models.StageIngestion, Outcome: models.OutcomeSuccess, StartedAt: now}},
			BriefingID: id, StartedAt: now,
		}
		require.NoError(t, s.SaveRun(ctx, run))
		gotRun, err := s.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, models.RunCompleted, gotRun.Status)
		require.Len(t, gotRun.Stages, 1)
		assert.Equal(t, models.StageIngestion, gotRun.Stages[0].Stage)
	})
}

func TestStore_ListActiveProfiles(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveProfile(ctx, models.UserProfile{UserID: "b", Active: true, Topics: []string{"esg"}}))
		require.NoError(t, s.SaveProfile(ctx, models.UserProfile{UserID: "a", Active: true}))
		require.NoError(t, s.SaveProfile(ctx, models.UserProfile{UserID: "c", Active: false}))

		profiles, err := s.ListActiveProfiles(ctx)
		require.NoError(t, err)
		require.Len(t, profiles, 2)
		assert.Equal(t, "a", profiles[0].UserID)
		assert.Equal(t, []string{"esg"}, profiles[1].Topics)
	})
}

func TestStore_MarkEngaged(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)
		for _, rec := range []models.ExposureRecord{
			{ID: "x1", UserID: "user-1", SignalID: "sig-1", BriefingID: "b1", EntityIDs: []string{"e1"}, DeliveredAt: now},
			{ID: "x2", UserID: "user-1", SignalID: "sig-2", BriefingID: "b1", DeliveredAt: now},
			{ID: "x3", UserID: "user-2", SignalID: "sig-1", BriefingID: "b2", DeliveredAt: now},
		} {
			require.NoError(t, s.RecordExposure(ctx, rec))
		}

		engaged, err := s.MarkEngaged(ctx, "user-1", "sig-1")
		require.NoError(t, err)
		require.Len(t, engaged, 1)
		assert.Equal(t, "x1", engaged[0].ID)
		assert.True(t, engaged[0].UserEngaged)
		assert.Equal(t, []string{"e1"}, engaged[0].EntityIDs)

		mine, err := s.ListExposures(ctx, "user-1")
		require.NoError(t, err)
		for _, x := range mine {
			assert.Equal(t, x.SignalID == "sig-1", x.UserEngaged, x.ID)
		}
		theirs, err := s.ListExposures(ctx, "user-2")
		require.NoError(t, err)
		require.Len(t, theirs, 1)
		assert.False(t, theirs[0].UserEngaged, "another user's exposure is untouched")

		none, err := s.MarkEngaged(ctx, "user-1", "unknown")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
