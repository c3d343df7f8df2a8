package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/openclaw-briefing/internal/config"
	"github.com/ajitpratap0/openclaw-briefing/internal/knowledge"
	"github.com/ajitpratap0/openclaw-briefing/internal/models"
	"github.com/ajitpratap0/openclaw-briefing/internal/pipeline"
	"github.com/ajitpratap0/openclaw-briefing/internal/store"
)

// stubRunner records triggers and returns canned results.
type stubRunner struct {
	mu       sync.Mutex
	runs     []runRequest
	batches  chan models.RunType
	run      *models.PipelineRun
	runErr   error
	batchErr error
	progress *pipeline.MemoryProgress
}

func newStubRunner() *stubRunner {
	return &stubRunner{
		batches:  make(chan models.RunType, 4),
		progress: pipeline.NewMemoryProgress(time.Hour),
	}
}

func (s *stubRunner) RunForUser(_ context.Context, userID string, rt models.RunType) (*models.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, runRequest{UserID: userID, RunType: rt})
	if s.run != nil {
		return s.run, s.runErr
	}
	if s.runErr != nil {
		return nil, s.runErr
	}
	return &models.PipelineRun{ID: "run-1", UserID: userID, RunType: rt, Status: models.RunCompleted, BriefingID: "b1"}, nil
}

func (s *stubRunner) recorded() []runRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]runRequest(nil), s.runs...)
}

func (s *stubRunner) RunBatch(_ context.Context, rt models.RunType) (*pipeline.BatchSummary, error) {
	s.batches <- rt
	if s.batchErr != nil {
		return nil, s.batchErr
	}
	return &pipeline.BatchSummary{RunType: rt, Total: 2, Success: 1, NoContent: 1}, nil
}

func (s *stubRunner) Progress() pipeline.ProgressTracker {
	return s.progress
}

func newTestServer(t *testing.T, authToken string) (*httptest.Server, *stubRunner, *store.MockStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	runner := newStubRunner()
	st := store.NewMockStore()
	engine := knowledge.NewEngine(st, st, st, nil, knowledge.PolicyFromConfig(config.Default().Knowledge), logger)
	ts := httptest.NewServer(NewServer(runner, engine, st, logger, authToken).Handler())
	t.Cleanup(ts.Close)
	return ts, runner, st
}

func doRequest(t *testing.T, method, url string, body any, token string) *http.Response {
	t.Helper()
	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAPI_Healthz(t *testing.T) {
	ts, _, _ := newTestServer(t, "secret")
	resp := doRequest(t, http.MethodGet, ts.URL+"/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])
}

func TestAPI_Metrics(t *testing.T) {
	ts, _, _ := newTestServer(t, "secret")
	resp := doRequest(t, http.MethodGet, ts.URL+"/metrics", nil, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}

func TestAPI_Auth(t *testing.T) {
	ts, runner, _ := newTestServer(t, "secret")

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/runs", map[string]string{"user_id": "u1"}, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/runs", map[string]string{"user_id": "u1"}, "wrong")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, runner.recorded())

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/runs", map[string]string{"user_id": "u1"}, "secret")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_RunDefaultsToManual(t *testing.T) {
	ts, runner, _ := newTestServer(t, "")

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/runs", map[string]string{"user_id": "u1"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	run := decode[models.PipelineRun](t, resp)
	assert.Equal(t, "b1", run.BriefingID)
	runs := runner.recorded()
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunTypeManual, runs[0].RunType)
}

func TestAPI_RunValidation(t *testing.T) {
	ts, runner, _ := newTestServer(t, "")
	cases := []struct {
		name string
		body any
	}{
		{"missing user", map[string]string{"run_type": "daily"}},
		{"bad run type", map[string]string{"user_id": "u1", "run_type": "hourly"}},
		{"not json", "plain text"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, ts.URL+"/v1/runs", tc.body, "")
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Empty(t, runner.recorded())
}

func TestAPI_FailedRunStillReturnsRecord(t *testing.T) {
	ts, runner, _ := newTestServer(t, "")
	runner.run = &models.PipelineRun{ID: "run-9", UserID: "u1", Status: models.RunFailed, ErrorMessage: "scoring: boom"}
	runner.runErr = errors.New("run failed")

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/runs", map[string]string{"user_id": "u1", "run_type": "daily"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	run := decode[models.PipelineRun](t, resp)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Equal(t, "scoring: boom", run.ErrorMessage)
}

func TestAPI_RunThatCannotStart(t *testing.T) {
	ts, runner, _ := newTestServer(t, "")
	runner.runErr = errors.New("db down")

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/runs", map[string]string{"user_id": "u1"}, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAPI_BatchSync(t *testing.T) {
	ts, runner, _ := newTestServer(t, "")

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/batch", map[string]any{}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[pipeline.BatchSummary](t, resp)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, models.RunTypeDaily, <-runner.batches)
}

func TestAPI_BatchAsync(t *testing.T) {
	ts, runner, _ := newTestServer(t, "")

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/batch", map[string]any{"run_type": "retry", "async": true}, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	select {
	case rt := <-runner.batches:
		assert.Equal(t, models.RunTypeRetry, rt)
	case <-time.After(2 * time.Second):
		t.Fatal("background batch never started")
	}
}

func TestAPI_BatchMisconfigured(t *testing.T) {
	ts, runner, _ := newTestServer(t, "")
	runner.batchErr = pipeline.ErrMisconfigured

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/batch", map[string]any{"run_type": "daily"}, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPI_Progress(t *testing.T) {
	ts, runner, _ := newTestServer(t, "")

	resp := doRequest(t, http.MethodGet, ts.URL+"/v1/progress/u1", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	ctx := context.Background()
	require.NoError(t, runner.progress.Start(ctx, "u1", "run-1", models.RunTypeDaily))
	require.NoError(t, runner.progress.Update(ctx, "u1", pipeline.StageUpdate{Stage: models.StageComposition, Message: "writing"}))

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/progress/u1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decode[pipeline.Progress](t, resp)
	assert.Equal(t, "run-1", p.RunID)
	assert.Equal(t, models.StageComposition, p.Stage)
	assert.Equal(t, "writing", p.Message)
}

func TestAPI_RecordLookups(t *testing.T) {
	ts, _, st := newTestServer(t, "")
	ctx := context.Background()
	now := time.Now().UTC()
	_, err := st.SaveBriefing(ctx, models.Briefing{ID: "b1", UserID: "u1", GeneratedAt: now,
		Items: []models.BriefingItem{{ID: "i1", ItemNumber: 1, Topic: "t", Content: "c"}}})
	require.NoError(t, err)
	require.NoError(t, st.SaveRun(ctx, models.PipelineRun{ID: "run-1", UserID: "u1", Status: models.RunCompleted, StartedAt: now}))

	resp := doRequest(t, http.MethodGet, ts.URL+"/v1/briefings/b1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[models.Briefing](t, resp).Items, 1)

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/users/u1/briefings/latest", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "b1", decode[models.Briefing](t, resp).ID)

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/runs/run-1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.RunCompleted, decode[models.PipelineRun](t, resp).Status)

	for _, path := range []string{"/v1/briefings/missing", "/v1/users/nobody/briefings/latest", "/v1/runs/missing"} {
		resp = doRequest(t, http.MethodGet, ts.URL+path, nil, "")
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func seedDeliveredBriefing(t *testing.T, st *store.MockStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, st.UpsertEntity(ctx, models.KnowledgeEntity{
		ID: "pi", UserID: "u1", Type: models.EntityTypeConcept, Name: "Parametric insurance",
		Confidence: 0.4, KnownSince: now, LastReinforced: now,
	}))
	_, err := st.SaveBriefing(ctx, models.Briefing{
		ID: "b1", UserID: "u1", GeneratedAt: now,
		Items: []models.BriefingItem{
			{ID: "item-1", ItemNumber: 1, Topic: "Parametric", SourceSignalIDs: []string{"sig-1"}},
			{ID: "item-2", ItemNumber: 2, Topic: "ESG", SourceSignalIDs: []string{"sig-2"}},
		},
	})
	require.NoError(t, err)
	for _, sid := range []string{"sig-1", "sig-2"} {
		require.NoError(t, st.RecordExposure(ctx, models.ExposureRecord{
			ID: "x-" + sid, UserID: "u1", SignalID: sid, BriefingID: "b1",
			EntityIDs: []string{"pi"}, DeliveredAt: now,
		}))
	}
}

func TestAPI_FeedbackDeepDive(t *testing.T) {
	ts, _, st := newTestServer(t, "")
	seedDeliveredBriefing(t, st)

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/feedback",
		map[string]any{"user_id": "u1", "briefing_id": "b1", "item_number": 1, "kind": "more"}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	report := decode[knowledge.FeedbackReport](t, resp)
	assert.Equal(t, 1, report.ExposuresEngaged)
	assert.Equal(t, 1, report.EntitiesReinforced)
	assert.Equal(t, []string{"sig-1"}, report.SignalIDs)

	ctx := context.Background()
	events, err := st.ListFeedback(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "item-1", events[0].BriefingItemID)
	assert.Equal(t, models.FeedbackMore, events[0].Kind)

	exposures, err := st.ListExposures(ctx, "u1")
	require.NoError(t, err)
	for _, x := range exposures {
		assert.Equal(t, x.SignalID == "sig-1", x.UserEngaged, x.SignalID)
	}

	ent, err := st.GetEntity(ctx, "u1", "pi")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, ent.Confidence, 1e-9)
}

func TestAPI_FeedbackBySignal(t *testing.T) {
	ts, _, st := newTestServer(t, "")
	seedDeliveredBriefing(t, st)

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/feedback",
		map[string]any{"user_id": "u1", "signal_id": "sig-2", "kind": "up"}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	report := decode[knowledge.FeedbackReport](t, resp)
	assert.Equal(t, 1, report.ExposuresEngaged)
	assert.Zero(t, report.EntitiesReinforced)
}

func TestAPI_FeedbackValidation(t *testing.T) {
	ts, _, st := newTestServer(t, "")
	seedDeliveredBriefing(t, st)

	cases := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"unknown kind", map[string]any{"user_id": "u1", "signal_id": "sig-1", "kind": "meh"}, http.StatusBadRequest},
		{"nothing to rate", map[string]any{"user_id": "u1", "kind": "up"}, http.StatusBadRequest},
		{"missing briefing", map[string]any{"user_id": "u1", "briefing_id": "nope", "item_number": 1, "kind": "up"}, http.StatusNotFound},
		{"another user's briefing", map[string]any{"user_id": "u2", "briefing_id": "b1", "item_number": 1, "kind": "up"}, http.StatusNotFound},
		{"missing item", map[string]any{"user_id": "u1", "briefing_id": "b1", "item_id": "item-9", "kind": "up"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, ts.URL+"/v1/feedback", tc.body, "")
			defer resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}

	events, err := st.ListFeedback(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAPI_FeedbackNotConfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := httptest.NewServer(NewServer(newStubRunner(), nil, store.NewMockStore(), logger, "").Handler())
	defer ts.Close()
	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/feedback", map[string]any{"user_id": "u1", "signal_id": "s", "kind": "up"}, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
