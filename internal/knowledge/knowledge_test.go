package knowledge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/openclaw-briefing/internal/config"
	"github.com/ajitpratap0/openclaw-briefing/internal/llm"
	"github.com/ajitpratap0/openclaw-briefing/internal/models"
	"github.com/ajitpratap0/openclaw-briefing/internal/store"
)

var fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, client llm.Client) (*Engine, *store.MockStore) {
	t.Helper()
	ms := store.NewMockStore()
	policy := PolicyFromConfig(config.Default().Knowledge)
	e := NewEngine(ms, ms, ms, client, policy, quietLogger())
	e.now = func() time.Time { return fixedNow }
	require.NoError(t, ms.SaveProfile(context.Background(), models.UserProfile{
		UserID:            "user-1",
		Company:           "Acme Re",
		Role:              "Chief Risk Officer",
		Industry:          "Reinsurance",
		PeerOrgs:          []string{"Munich Re", "Swiss Re"},
		FollowedOrgs:      []string{"Lloyd's"},
		Topics:            []string{"ESG"},
		ExemptEntityNames: []string{"Solvency II"},
		KnowledgeGaps:     []string{"parametric insurance"},
		Active:            true,
	}))
	return e, ms
}

func addEntity(t *testing.T, ms *store.MockStore, id, name string, typ models.EntityType, conf float64, last time.Time) {
	t.Helper()
	require.NoError(t, ms.UpsertEntity(context.Background(), models.KnowledgeEntity{
		ID: id, UserID: "user-1", Type: typ, Name: name, Source: models.EntitySourceOnboarding,
		Confidence: conf, KnownSince: last, LastReinforced: last,
	}))
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.Default().Knowledge)
	assert.InDelta(t, 0.1, p.ReinforceStep, 1e-9)
	assert.Equal(t, 60*24*time.Hour, p.StaleAfter)
	assert.Equal(t, 14*24*time.Hour, p.GapScanInterval)
	assert.True(t, p.isGeneric(models.EntityTypeConcept))
	assert.False(t, p.isGeneric(models.EntityTypeCompany))
}

func TestReinforce_RaisesAndCapsConfidence(t *testing.T) {
	e, ms := newTestEngine(t, nil)
	ctx := context.Background()
	addEntity(t, ms, "e1", "ESG", models.EntityTypeConcept, 0.5, fixedNow.Add(-48*time.Hour))
	addEntity(t, ms, "e2", "Munich Re", models.EntityTypeCompany, 0.95, fixedNow.Add(-48*time.Hour))

	report, err := e.Reinforce(ctx, "user-1", []EntityRef{
		{Name: "esg"},
		{Name: "ESG "},
		{Name: "munich re"},
		{Name: "Parametric Insurance", Type: models.EntityTypeConcept, Description: "index-triggered cover"},
		{Name: "  "},
	}, models.EntitySourceBriefingDelivered)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Reinforced)
	assert.Equal(t, 1, report.Inserted)
	assert.Len(t, report.EntityIDs, 3)

	esg, err := ms.GetEntity(ctx, "user-1", "e1")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, esg.Confidence, 1e-9, "duplicate refs reinforce once")
	assert.Equal(t, fixedNow, esg.LastReinforced)

	munich, err := ms.GetEntity(ctx, "user-1", "e2")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, munich.Confidence, 1e-9)

	pi, err := ms.FindEntityByName(ctx, "user-1", "parametric insurance")
	require.NoError(t, err)
	assert.Equal(t, models.EntitySourceBriefingDelivered, pi.Source)
	assert.InDelta(t, 0.5, pi.Confidence, 1e-9)
	assert.Equal(t, "index-triggered cover", pi.Description)
}

func TestReinforce_InvalidTypeDefaultsToConcept(t *testing.T) {
	e, ms := newTestEngine(t, nil)
	_, err := e.Reinforce(context.Background(), "user-1", []EntityRef{{Name: "Cat bonds", Type: "instrument"}}, models.EntitySourceDeepDive)
	require.NoError(t, err)
	ent, err := ms.FindEntityByName(context.Background(), "user-1", "cat bonds")
	require.NoError(t, err)
	assert.Equal(t, models.EntityTypeConcept, ent.Type)
	assert.Equal(t, models.EntitySourceDeepDive, ent.Source)
}

func TestPrune_RemovesOnlyStaleGenericLowConfidence(t *testing.T) {
	e, ms := newTestEngine(t, nil)
	ctx := context.Background()
	stale := fixedNow.Add(-90 * 24 * time.Hour)
	fresh := fixedNow.Add(-24 * time.Hour)

	addEntity(t, ms, "prune-me", "Greenwashing", models.EntityTypeConcept, 0.1, stale)
	addEntity(t, ms, "high-conf", "Climate VaR", models.EntityTypeConcept, 0.8, stale)
	addEntity(t, ms, "company", "Old Co", models.EntityTypeCompany, 0.1, stale)
	addEntity(t, ms, "recent", "Nat cat", models.EntityTypeTerm, 0.1, fresh)
	addEntity(t, ms, "exempt-role", "Chief Risk Officer", models.EntityTypeTerm, 0.1, stale)
	addEntity(t, ms, "exempt-name", "solvency ii", models.EntityTypeTerm, 0.1, stale)
	require.NoError(t, ms.UpsertEdge(ctx, models.KnowledgeEdge{ID: "edge", UserID: "user-1", SourceEntityID: "high-conf", TargetEntityID: "prune-me", Relationship: models.RelRelatedTo}))

	dry, err := e.Prune(ctx, "user-1", true)
	require.NoError(t, err)
	assert.Equal(t, 1, dry.Pruned)
	assert.Equal(t, 2, dry.Exempt)
	assert.Equal(t, 3, dry.Kept)
	assert.Equal(t, []string{"Greenwashing"}, dry.Names)
	_, err = ms.GetEntity(ctx, "user-1", "prune-me")
	require.NoError(t, err, "dry run must not delete")

	report, err := e.Prune(ctx, "user-1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pruned)
	_, err = ms.GetEntity(ctx, "user-1", "prune-me")
	assert.ErrorIs(t, err, store.ErrNotFound)

	edges, err := ms.ListEdges(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, edges, "pruning cascades to edges")
}

func TestDecay_OnlyUnreinforcedEntities(t *testing.T) {
	e, ms := newTestEngine(t, nil)
	ctx := context.Background()
	addEntity(t, ms, "old", "Old", models.EntityTypeConcept, 0.8, fixedNow.Add(-72*time.Hour))
	addEntity(t, ms, "new", "New", models.EntityTypeConcept, 0.8, fixedNow.Add(-time.Hour))

	report, err := e.Decay(ctx, "user-1", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Decayed)

	old, _ := ms.GetEntity(ctx, "user-1", "old")
	assert.Less(t, old.Confidence, 0.8)
	assert.Greater(t, old.Confidence, 0.79)
	recent, _ := ms.GetEntity(ctx, "user-1", "new")
	assert.InDelta(t, 0.8, recent.Confidence, 1e-9)
}

func TestCheck(t *testing.T) {
	e, ms := newTestEngine(t, nil)
	addEntity(t, ms, "e1", "Parametric Insurance", models.EntityTypeConcept, 0.7, fixedNow)

	res, err := e.Check(context.Background(), "user-1", "PARAMETRIC insurance")
	require.NoError(t, err)
	assert.True(t, res.Known)
	assert.InDelta(t, 0.7, res.Confidence, 1e-9)
	assert.Equal(t, "e1", res.EntityID)

	res, err = e.Check(context.Background(), "user-1", "quantum annealing")
	require.NoError(t, err)
	assert.False(t, res.Known)
	assert.Zero(t, res.Confidence)
}

func TestLink_RejectsForeignEndpointAndIsIdempotent(t *testing.T) {
	e, ms := newTestEngine(t, nil)
	ctx := context.Background()
	addEntity(t, ms, "a", "A", models.EntityTypeCompany, 0.5, fixedNow)
	addEntity(t, ms, "b", "B", models.EntityTypeCompany, 0.5, fixedNow)
	require.NoError(t, ms.UpsertEntity(ctx, models.KnowledgeEntity{ID: "other", UserID: "user-2", Name: "Other"}))

	edge, err := e.Link(ctx, "user-1", "a", "b", models.RelCompetesWith)
	require.NoError(t, err)
	again, err := e.Link(ctx, "user-1", "a", "b", models.RelCompetesWith)
	require.NoError(t, err)
	assert.Equal(t, edge.ID, again.ID)

	a, _ := ms.GetEntity(ctx, "user-1", "a")
	assert.Equal(t, []string{"b"}, a.RelatedEntityIDs)

	_, err = e.Link(ctx, "user-1", "a", "other", models.RelRelatedTo)
	assert.ErrorIs(t, err, store.ErrCrossUserEdge)

	_, err = e.Link(ctx, "user-1", "a", "b", "owns")
	assert.Error(t, err)
}

func TestSeed_FromProfile(t *testing.T) {
	e, ms := newTestEngine(t, nil)
	ctx := context.Background()
	p, err := ms.GetProfile(ctx, "user-1")
	require.NoError(t, err)

	report, err := e.Seed(ctx, *p)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Seeded)
	assert.Equal(t, 2, report.Linked)

	acme, err := ms.FindEntityByName(ctx, "user-1", "acme re")
	require.NoError(t, err)
	assert.InDelta(t, ownCompanyConfidence, acme.Confidence, 1e-9)
	assert.Equal(t, models.EntitySourceOnboarding, acme.Source)

	again, err := e.Seed(ctx, *p)
	require.NoError(t, err)
	assert.Zero(t, again.Seeded)
	edges, err := ms.ListEdges(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, edges, 2, "reseeding does not duplicate edges")
}

func TestScanDue(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	assert.True(t, e.ScanDue(models.UserProfile{}, fixedNow))
	assert.False(t, e.ScanDue(models.UserProfile{LastGapScanAt: fixedNow.Add(-13 * 24 * time.Hour)}, fixedNow))
	assert.True(t, e.ScanDue(models.UserProfile{LastGapScanAt: fixedNow.Add(-14 * 24 * time.Hour)}, fixedNow))
}

func TestScanGaps_AddsQueriesAndSeedsEntities(t *testing.T) {
	client := llm.NewScriptedClient(llm.TextStep("```json\n"+`{"gaps":[{"topic":"parametric insurance","research_query":"parametric insurance triggers","entities":[{"name":"Basis risk","type":"term","description":"trigger mismatch"},{"name":"Acme Re","type":"company","description":""}]}]}`+"\n```", 100, 40))
	e, ms := newTestEngine(t, client)
	ctx := context.Background()
	addEntity(t, ms, "acme", "Acme Re", models.EntityTypeCompany, 0.9, fixedNow)

	report, err := e.ScanGaps(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.GapsFound)
	assert.Equal(t, 1, report.QueriesAdded)
	assert.Equal(t, 1, report.EntitiesSeeded)

	p, err := ms.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"parametric insurance triggers"}, p.ResearchQueries)
	assert.Equal(t, fixedNow, p.LastGapScanAt)

	basis, err := ms.FindEntityByName(ctx, "user-1", "basis risk")
	require.NoError(t, err)
	assert.Equal(t, models.EntitySourceGapScan, basis.Source)
	assert.InDelta(t, gapSeedConfidence, basis.Confidence, 1e-9)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Messages[0].Text, "Acme Re (company, confidence 0.90)")
}

func TestScanGaps_NoModel(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	_, err := e.ScanGaps(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestScanGaps_NoDeclaredGapsSkipsModel(t *testing.T) {
	client := llm.NewScriptedClient()
	e, ms := newTestEngine(t, client)
	ctx := context.Background()
	p, _ := ms.GetProfile(ctx, "user-1")
	p.KnowledgeGaps = nil
	require.NoError(t, ms.SaveProfile(ctx, *p))

	report, err := e.ScanGaps(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, report.GapsFound)
	assert.Empty(t, client.Requests())
}

func TestExtractor_ParsesAndDefaultsTypes(t *testing.T) {
	client := llm.NewScriptedClient(llm.TextStep(`[{"name":"Swiss Re","type":"Company","description":"reinsurer"},{"name":"Cat XL","type":"instrument"},{"name":" ","type":"term"}]`, 10, 5))
	x := NewExtractor(client, quietLogger())
	got, err := x.Extract(context.Background(), "Swiss Re placed a Cat XL layer <b>")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.EntityTypeCompany, got[0].Type)
	assert.Equal(t, models.EntityTypeConcept, got[1].Type)
	assert.Contains(t, client.Requests()[0].Messages[0].Text, "&lt;b&gt;")
}

func TestExtractor_DegradesOnModelError(t *testing.T) {
	client := llm.NewScriptedClient(llm.ErrStep(errors.New("overloaded")))
	got, err := NewExtractor(client, quietLogger()).Extract(context.Background(), "text")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestExtractor_RejectsUnknownFields(t *testing.T) {
	client := llm.NewScriptedClient(llm.TextStep(`[{"name":"X","type":"term","aliases":["y"]}]`, 1, 1))
	_, err := NewExtractor(client, quietLogger()).Extract(context.Background(), "text")
	assert.ErrorIs(t, err, llm.ErrInvalidResponse)
}

func TestExtractAndReinforce_RecordsExposureEvenWhenExtractionFails(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.TextStep(`[{"name":"Parametric insurance","type":"concept","description":""}]`, 50, 10),
		llm.TextStep(`not json`, 50, 10),
	)
	e, ms := newTestEngine(t, client)
	ctx := context.Background()
	delivered := fixedNow
	b := models.Briefing{
		ID:          "brief-1",
		UserID:      "user-1",
		DeliveredAt: &delivered,
		Items: []models.BriefingItem{
			{ItemNumber: 1, Topic: "Parametric", Content: "c1", SourceSignalIDs: []string{"s1"}},
			{ItemNumber: 2, Topic: "ESG", Content: "c2", SourceSignalIDs: []string{"s2", "s1"}},
		},
	}
	sigs := []models.Signal{{ID: "s1", Title: "t1"}, {ID: "s2", Title: "t2"}}

	report, err := e.ExtractAndReinforce(ctx, "user-1", b, sigs)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EntitiesInserted)
	assert.Equal(t, 1, report.ExtractionErrors)
	assert.Equal(t, 2, report.ExposuresRecorded, "each signal recorded once")

	exposures, err := ms.ListExposures(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, exposures, 2)
	for _, x := range exposures {
		assert.Equal(t, "brief-1", x.BriefingID)
		assert.Equal(t, fixedNow, x.DeliveredAt)
	}
}

func seedExposure(t *testing.T, ms *store.MockStore, signalID string, entityIDs ...string) {
	t.Helper()
	require.NoError(t, ms.RecordExposure(context.Background(), models.ExposureRecord{
		ID: "x-" + signalID, UserID: "user-1", SignalID: signalID, BriefingID: "brief-1",
		EntityIDs: entityIDs, DeliveredAt: fixedNow,
	}))
}

func TestRecordFeedback_MoreIsDeepDive(t *testing.T) {
	e, ms := newTestEngine(t, nil)
	ctx := context.Background()
	addEntity(t, ms, "pi", "Parametric insurance", models.EntityTypeConcept, 0.4, fixedNow.Add(-72*time.Hour))
	seedExposure(t, ms, "s1", "pi", "pruned-since")
	seedExposure(t, ms, "s2")

	item := &models.BriefingItem{ID: "item-1", Topic: "Parametric", SourceSignalIDs: []string{"s1", "s2"}}
	report, err := e.RecordFeedback(ctx, models.FeedbackEvent{UserID: "user-1", Kind: models.FeedbackMore}, item)
	require.NoError(t, err)
	assert.Equal(t, 2, report.ExposuresEngaged)
	assert.Equal(t, 1, report.EntitiesReinforced)
	assert.Zero(t, report.EntitiesInserted)

	ent, err := ms.GetEntity(ctx, "user-1", "pi")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, ent.Confidence, 1e-9)
	assert.Equal(t, fixedNow, ent.LastReinforced)

	exposures, err := ms.ListExposures(ctx, "user-1")
	require.NoError(t, err)
	for _, x := range exposures {
		assert.True(t, x.UserEngaged, x.SignalID)
	}

	events, err := ms.ListFeedback(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "s1", events[0].SignalID)
	assert.Equal(t, "item-1", events[0].BriefingItemID)
	assert.Equal(t, fixedNow, events[0].CreatedAt)
	assert.NotEmpty(t, events[0].ID)
}

func TestRecordFeedback_DownEngagesWithoutReinforcing(t *testing.T) {
	e, ms := newTestEngine(t, nil)
	ctx := context.Background()
	addEntity(t, ms, "pi", "Parametric insurance", models.EntityTypeConcept, 0.4, fixedNow)
	seedExposure(t, ms, "s1", "pi")

	report, err := e.RecordFeedback(ctx, models.FeedbackEvent{UserID: "user-1", SignalID: "s1", Kind: models.FeedbackDown}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ExposuresEngaged)
	assert.Zero(t, report.EntitiesReinforced)

	ent, err := ms.GetEntity(ctx, "user-1", "pi")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, ent.Confidence, 1e-9)
}

func TestRecordFeedback_TopicOnly(t *testing.T) {
	e, ms := newTestEngine(t, nil)
	report, err := e.RecordFeedback(context.Background(), models.FeedbackEvent{UserID: "user-1", Topic: "ESG", Kind: models.FeedbackLess}, nil)
	require.NoError(t, err)
	assert.Zero(t, report.ExposuresEngaged)

	events, err := ms.ListFeedback(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ESG", events[0].Topic)
}

func TestRecordFeedback_Invalid(t *testing.T) {
	e, ms := newTestEngine(t, nil)
	cases := []models.FeedbackEvent{
		{SignalID: "s1", Kind: models.FeedbackUp},
		{UserID: "user-1", SignalID: "s1", Kind: "meh"},
		{UserID: "user-1", Kind: models.FeedbackUp},
	}
	for _, ev := range cases {
		_, err := e.RecordFeedback(context.Background(), ev, nil)
		assert.ErrorIs(t, err, ErrInvalidFeedback)
	}
	events, err := ms.ListFeedback(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, events)
}
