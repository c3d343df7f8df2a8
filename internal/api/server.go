// Package api exposes pipeline triggers, run records and progress over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ajitpratap0/openclaw-briefing/internal/knowledge"
	"github.com/ajitpratap0/openclaw-briefing/internal/models"
	"github.com/ajitpratap0/openclaw-briefing/internal/pipeline"
	"github.com/ajitpratap0/openclaw-briefing/internal/store"
)

// Runner triggers pipeline runs.
type Runner interface {
	RunForUser(ctx context.Context, userID string, runType models.RunType) (*models.PipelineRun, error)
	RunBatch(ctx context.Context, runType models.RunType) (*pipeline.BatchSummary, error)
	Progress() pipeline.ProgressTracker
}

var _ Runner = (*pipeline.Orchestrator)(nil)

// FeedbackRecorder stores a user's reaction to a delivered item.
type FeedbackRecorder interface {
	RecordFeedback(ctx context.Context, ev models.FeedbackEvent, item *models.BriefingItem) (*knowledge.FeedbackReport, error)
}

var _ FeedbackRecorder = (*knowledge.Engine)(nil)

// Server is the HTTP API server.
type Server struct {
	runner    Runner
	feedback  FeedbackRecorder
	store     store.Store
	logger    *slog.Logger
	authToken string // empty = no auth required
}

// NewServer creates a new Server with the given dependencies. feedback may
// be nil, which disables the feedback route.
func NewServer(runner Runner, feedback FeedbackRecorder, st store.Store, logger *slog.Logger, authToken string) *Server {
	return &Server{
		runner:    runner,
		feedback:  feedback,
		store:     st,
		logger:    logger,
		authToken: authToken,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health and metrics need no auth.
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/runs", s.auth(s.handleRun))
	mux.HandleFunc("GET /v1/runs/{id}", s.auth(s.handleGetRun))
	mux.HandleFunc("POST /v1/batch", s.auth(s.handleBatch))
	mux.HandleFunc("GET /v1/progress/{userID}", s.auth(s.handleProgress))
	mux.HandleFunc("GET /v1/briefings/{id}", s.auth(s.handleGetBriefing))
	mux.HandleFunc("GET /v1/users/{userID}/briefings/latest", s.auth(s.handleLatestBriefing))
	mux.HandleFunc("POST /v1/feedback", s.auth(s.handleFeedback))

	return mux
}

// --- middleware ---

// auth wraps a handler with Bearer token authentication when authToken is set.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runRequest is the body accepted by POST /v1/runs.
type runRequest struct {
	UserID  string         `json:"user_id"`
	RunType models.RunType `json:"run_type"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.RunType == "" {
		req.RunType = models.RunTypeManual
	}
	if !req.RunType.IsValid() {
		s.writeError(w, http.StatusBadRequest, "invalid run_type")
		return
	}

	run, err := s.runner.RunForUser(r.Context(), req.UserID, req.RunType)
	if run == nil {
		s.logger.Error("run could not start", "user_id", req.UserID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	if err != nil {
		// The failure is recorded on the run itself.
		s.logger.Warn("run failed", "user_id", req.UserID, "run_id", run.ID, "error", err)
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, err, "run", id)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// batchRequest is the body accepted by POST /v1/batch.
type batchRequest struct {
	RunType models.RunType `json:"run_type"`
	// Async returns 202 immediately and runs the batch in the background.
	Async bool `json:"async"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RunType == "" {
		req.RunType = models.RunTypeDaily
	}
	if !req.RunType.IsValid() {
		s.writeError(w, http.StatusBadRequest, "invalid run_type")
		return
	}

	if req.Async {
		ctx := context.WithoutCancel(r.Context())
		go func() {
			if _, err := s.runner.RunBatch(ctx, req.RunType); err != nil {
				s.logger.Error("background batch failed", "run_type", req.RunType, "error", err)
			}
		}()
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "run_type": string(req.RunType)})
		return
	}

	summary, err := s.runner.RunBatch(r.Context(), req.RunType)
	if err != nil {
		s.logger.Error("batch failed", "run_type", req.RunType, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrMisconfigured) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, "batch failed")
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	p, err := s.runner.Progress().Get(r.Context(), userID)
	if errors.Is(err, pipeline.ErrNoProgress) {
		s.writeError(w, http.StatusNotFound, "no run in progress")
		return
	}
	if err != nil {
		s.logger.Error("failed to read progress", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read progress")
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetBriefing(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	b, err := s.store.GetBriefing(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, err, "briefing", id)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleLatestBriefing(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	b, err := s.store.LatestBriefing(r.Context(), userID)
	if err != nil {
		s.writeLookupError(w, err, "briefing", userID)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

// feedbackRequest is the body accepted by POST /v1/feedback. An item is
// named by briefing_id plus item_id or item_number; signal_id and topic can
// be sent without one.
type feedbackRequest struct {
	UserID     string              `json:"user_id"`
	BriefingID string              `json:"briefing_id"`
	ItemID     string              `json:"item_id"`
	ItemNumber int                 `json:"item_number"`
	SignalID   string              `json:"signal_id"`
	Kind       models.FeedbackKind `json:"kind"`
	Topic      string              `json:"topic"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if s.feedback == nil {
		s.writeError(w, http.StatusServiceUnavailable, "feedback is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var item *models.BriefingItem
	if req.BriefingID != "" {
		b, err := s.store.GetBriefing(r.Context(), req.BriefingID)
		if err != nil {
			s.writeLookupError(w, err, "briefing", req.BriefingID)
			return
		}
		if b.UserID != req.UserID {
			s.writeError(w, http.StatusNotFound, "briefing not found")
			return
		}
		item = findItem(b, req.ItemID, req.ItemNumber)
		if item == nil {
			s.writeError(w, http.StatusNotFound, "briefing item not found")
			return
		}
	}

	report, err := s.feedback.RecordFeedback(r.Context(), models.FeedbackEvent{
		UserID:   req.UserID,
		SignalID: req.SignalID,
		Kind:     req.Kind,
		Topic:    req.Topic,
	}, item)
	if errors.Is(err, knowledge.ErrInvalidFeedback) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to record feedback", "user_id", req.UserID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to record feedback")
		return
	}
	s.writeJSON(w, http.StatusCreated, report)
}

func findItem(b *models.Briefing, id string, number int) *models.BriefingItem {
	for i := range b.Items {
		if (id != "" && b.Items[i].ID == id) || (id == "" && number > 0 && b.Items[i].ItemNumber == number) {
			return &b.Items[i]
		}
	}
	return nil
}

// --- helpers ---

func (s *Server) writeLookupError(w http.ResponseWriter, err error, kind, id string) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, kind+" not found")
		return
	}
	s.logger.Error("lookup failed", "kind", kind, "id", id, "error", err)
	s.writeError(w, http.StatusInternalServerError, "failed to get "+kind)
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
