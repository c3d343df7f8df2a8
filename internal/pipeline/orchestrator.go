// Package pipeline drives one user through the fixed briefing stage sequence
// and runs that sequence across every active user with per-user failure
// containment.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/openclaw-briefing/internal/agent"
	"github.com/ajitpratap0/openclaw-briefing/internal/composer"
	"github.com/ajitpratap0/openclaw-briefing/internal/embedder"
	"github.com/ajitpratap0/openclaw-briefing/internal/ingest"
	"github.com/ajitpratap0/openclaw-briefing/internal/knowledge"
	"github.com/ajitpratap0/openclaw-briefing/internal/lifecycle"
	"github.com/ajitpratap0/openclaw-briefing/internal/llm"
	"github.com/ajitpratap0/openclaw-briefing/internal/metrics"
	"github.com/ajitpratap0/openclaw-briefing/internal/models"
	"github.com/ajitpratap0/openclaw-briefing/internal/scoring"
	"github.com/ajitpratap0/openclaw-briefing/internal/store"
)

// ErrMisconfigured is returned before any user is processed when a required
// collaborator is missing.
var ErrMisconfigured = errors.New("pipeline misconfigured")

// Ingester pulls fresh signals for a user.
type Ingester interface {
	Ingest(ctx context.Context, userID string) (*ingest.Report, error)
}

// Maintainer runs knowledge graph maintenance before scoring.
type Maintainer interface {
	Run(ctx context.Context, profile models.UserProfile, opts lifecycle.Options) *lifecycle.Report
}

// Knowledge reads the user's graph and records what a delivered briefing taught.
type Knowledge interface {
	Entities(ctx context.Context, userID string) ([]models.KnowledgeEntity, error)
	ExtractAndReinforce(ctx context.Context, userID string, b models.Briefing, signals []models.Signal) (*knowledge.ExposureReport, error)
}

// Selector picks briefing items from a candidate pool.
type Selector interface {
	Select(ctx context.Context, in agent.Input) (*agent.Result, error)
}

// Writer composes selections into briefing items. It must not fail.
type Writer interface {
	Compose(ctx context.Context, profile models.UserProfile, sels []agent.Selection, candidates []scoring.Candidate) *composer.Result
}

var (
	_ Ingester   = (*ingest.Orchestrator)(nil)
	_ Maintainer = (*lifecycle.Manager)(nil)
	_ Knowledge  = (*knowledge.Engine)(nil)
	_ Selector   = (*agent.Agent)(nil)
	_ Writer     = (*composer.Composer)(nil)
)

// Deps are the orchestrator's collaborators. Embedder and Progress are
// optional.
type Deps struct {
	Store      store.Store
	Ingester   Ingester
	Maintainer Maintainer
	Knowledge  Knowledge
	Scorer     *scoring.Scorer
	Agent      Selector
	Composer   Writer
	Deliverer  Deliverer
	Progress   ProgressTracker
	Embedder   embedder.Embedder
}

func (d Deps) validate() error {
	var missing []string
	check := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check("store", d.Store != nil)
	check("ingester", d.Ingester != nil)
	check("maintainer", d.Maintainer != nil)
	check("knowledge", d.Knowledge != nil)
	check("scorer", d.Scorer != nil)
	check("agent", d.Agent != nil)
	check("composer", d.Composer != nil)
	check("deliverer", d.Deliverer != nil)
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMisconfigured, strings.Join(missing, ", "))
	}
	return nil
}

// Options tunes the orchestrator.
type Options struct {
	// Lookback bounds which of the user's signals are scored.
	Lookback time.Duration
	// DecayInterval is the confidence decay applied by each daily run.
	DecayInterval time.Duration
	// ExposureTitleLimit caps how many past deliveries feed title repetition.
	ExposureTitleLimit int
	// BatchConcurrency bounds how many users run at once.
	BatchConcurrency int
}

// Orchestrator runs the per-user stage sequence.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewOrchestrator validates deps and creates an orchestrator.
func NewOrchestrator(deps Deps, opts Options, logger *slog.Logger) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Progress == nil {
		deps.Progress = NewMemoryProgress(time.Hour)
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 48 * time.Hour
	}
	if opts.DecayInterval <= 0 {
		opts.DecayInterval = 24 * time.Hour
	}
	if opts.ExposureTitleLimit <= 0 {
		opts.ExposureTitleLimit = 200
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: logger.With("component", "pipeline"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Progress exposes the progress table.
func (o *Orchestrator) Progress() ProgressTracker {
	return o.deps.Progress
}

// runState carries stage outputs forward through one run.
type runState struct {
	run       *models.PipelineRun
	profile   *models.UserProfile
	pool      scoring.Pool
	selection *agent.Result
	composed  *composer.Result
	briefing  *models.Briefing
	usage     llm.Usage
}

// stepResult is what a stage reports back to the sequencer.
type stepResult struct {
	outcome   models.StageOutcome
	err       error
	processed int
	passed    int
	// halt skips every later stage. Combined with fatal the run fails;
	// alone it ends the run without a briefing.
	halt  bool
	fatal bool
}

func succeeded(processed, passed int) stepResult {
	return stepResult{outcome: models.OutcomeSuccess, processed: processed, passed: passed}
}

func partial(err error, processed, passed int) stepResult {
	return stepResult{outcome: models.OutcomePartialFailure, err: err, processed: processed, passed: passed}
}

func fatal(err error) stepResult {
	return stepResult{outcome: models.OutcomeFailure, err: err, halt: true, fatal: true}
}

// RunForUser drives one user through every stage. Per-user failures are
// recorded on the returned run; the error is non-nil only when the run
// failed or its record could not be saved.
func (o *Orchestrator) RunForUser(ctx context.Context, userID string, runType models.RunType) (*models.PipelineRun, error) {
	if !runType.IsValid() {
		return nil, fmt.Errorf("unknown run type %q", runType)
	}
	run := &models.PipelineRun{
		ID:        uuid.New().String(),
		UserID:    userID,
		Status:    models.RunRunning,
		RunType:   runType,
		StartedAt: o.now(),
	}
	if err := o.deps.Store.SaveRun(ctx, *run); err != nil {
		return nil, fmt.Errorf("saving run for %s: %w", userID, err)
	}
	logger := o.logger.With("user_id", userID, "run_id", run.ID, "run_type", runType)
	logger.Info("pipeline run started")

	if err := o.deps.Progress.Start(ctx, userID, run.ID, runType); err != nil {
		logger.Warn("progress start failed", "error", err)
	}
	defer func() {
		if err := o.deps.Progress.Clear(context.WithoutCancel(ctx), userID); err != nil {
			logger.Warn("progress clear failed", "error", err)
		}
	}()

	rs := &runState{run: run}
	failed := false
	halted := false
	lastErr := ""
	for _, stage := range models.StageOrder {
		res := models.PipelineStageResult{Stage: stage, StartedAt: o.now()}
		if halted {
			res.Outcome = models.OutcomeSkipped
			done := res.StartedAt
			res.CompletedAt = &done
			run.Stages = append(run.Stages, res)
			metrics.StagesTotal.WithLabelValues(string(stage), string(res.Outcome)).Inc()
			continue
		}
		if err := o.deps.Progress.Update(ctx, userID, StageUpdate{
			Stage:      stage,
			Message:    stageMessages[stage],
			BriefingID: run.BriefingID,
			Error:      lastErr,
		}); err != nil {
			logger.Warn("progress update failed", "stage", stage, "error", err)
		}

		sr := o.step(ctx, rs, stage, runType, logger)

		done := o.now()
		res.CompletedAt = &done
		res.Outcome = sr.outcome
		res.SignalsProcessed = sr.processed
		res.SignalsPassed = sr.passed
		if sr.err != nil {
			res.ErrorMessage = sr.err.Error()
		}
		run.Stages = append(run.Stages, res)
		metrics.StagesTotal.WithLabelValues(string(stage), string(sr.outcome)).Inc()
		metrics.StageDuration.WithLabelValues(string(stage)).Observe(done.Sub(res.StartedAt).Seconds())

		logger.Debug("stage finished", "stage", stage, "outcome", sr.outcome,
			"processed", sr.processed, "passed", sr.passed)
		if sr.fatal {
			failed = true
			run.ErrorMessage = fmt.Sprintf("%s: %v", stage, sr.err)
			logger.Error("stage failed", "stage", stage, "error", sr.err)
		} else if sr.err != nil {
			lastErr = fmt.Sprintf("%s: %v", stage, sr.err)
			logger.Warn("stage degraded", "stage", stage, "outcome", sr.outcome, "error", sr.err)
		}
		if sr.halt {
			halted = true
		}
	}

	run.PromptTokens = rs.usage.InputTokens
	run.CompletionTokens = rs.usage.OutputTokens
	run.Status = finalStatus(run, failed)
	completed := o.now()
	run.CompletedAt = &completed
	metrics.RunsTotal.WithLabelValues(string(runType), string(run.Status)).Inc()

	if err := o.deps.Store.SaveRun(context.WithoutCancel(ctx), *run); err != nil {
		logger.Error("saving final run state failed", "error", err)
		return run, fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	logger.Info("pipeline run finished",
		"status", run.Status,
		"briefing_id", run.BriefingID,
		"prompt_tokens", run.PromptTokens,
		"completion_tokens", run.CompletionTokens,
	)
	if failed {
		return run, fmt.Errorf("run %s for %s failed at %s", run.ID, userID, run.ErrorMessage)
	}
	return run, nil
}

var stageMessages = map[models.Stage]string{
	models.StageIngestion:        "Collecting new signals",
	models.StageKnowledgeUpdate:  "Updating what you already know",
	models.StageNoveltyFiltering: "Filtering for novel, relevant signals",
	models.StageScoring:          "Selecting the items worth your time",
	models.StageComposition:      "Writing your briefing",
	models.StagePersistence:      "Saving your briefing",
	models.StageDelivery:         "Delivering your briefing",
}

func finalStatus(run *models.PipelineRun, failed bool) models.RunStatus {
	if failed {
		return models.RunFailed
	}
	for _, s := range run.Stages {
		if s.Outcome == models.OutcomePartialFailure || s.Outcome == models.OutcomeFailure {
			return models.RunPartialFailure
		}
	}
	return models.RunCompleted
}

func (o *Orchestrator) step(ctx context.Context, rs *runState, stage models.Stage, runType models.RunType, logger *slog.Logger) stepResult {
	switch stage {
	case models.StageIngestion:
		return o.ingest(ctx, rs)
	case models.StageKnowledgeUpdate:
		return o.maintainKnowledge(ctx, rs, runType)
	case models.StageNoveltyFiltering:
		return o.filter(ctx, rs, logger)
	case models.StageScoring:
		return o.selectItems(ctx, rs)
	case models.StageComposition:
		return o.compose(ctx, rs)
	case models.StagePersistence:
		return o.persist(ctx, rs)
	case models.StageDelivery:
		return o.deliver(ctx, rs, logger)
	}
	return fatal(fmt.Errorf("unknown stage %q", stage))
}

func (o *Orchestrator) ingest(ctx context.Context, rs *runState) stepResult {
	profile, err := o.deps.Store.GetProfile(ctx, rs.run.UserID)
	if err != nil {
		return fatal(fmt.Errorf("loading profile: %w", err))
	}
	rs.profile = profile

	report, err := o.deps.Ingester.Ingest(ctx, rs.run.UserID)
	if err != nil {
		// Previously ingested signals can still be scored.
		return partial(err, 0, 0)
	}
	if len(report.Errors) > 0 {
		msgs := make([]string, 0, len(report.Errors))
		for _, e := range report.Errors {
			msgs = append(msgs, e.Error())
		}
		return partial(fmt.Errorf("%d source errors: %s", len(msgs), strings.Join(msgs, "; ")), report.Total(), report.NewSignals)
	}
	return succeeded(report.Total(), report.NewSignals)
}

func (o *Orchestrator) maintainKnowledge(ctx context.Context, rs *runState, runType models.RunType) stepResult {
	opts := lifecycle.Options{Seed: runType == models.RunTypeT0Seeding}
	if runType == models.RunTypeDaily {
		opts.DecayElapsed = o.opts.DecayInterval
	}
	report := o.deps.Maintainer.Run(ctx, *rs.profile, opts)
	if report.Failed() {
		return partial(errors.New(strings.Join(report.Errors, "; ")), 0, 0)
	}
	return succeeded(0, 0)
}

func (o *Orchestrator) filter(ctx context.Context, rs *runState, logger *slog.Logger) stepResult {
	uc, err := o.userContext(ctx, rs.profile, logger)
	if err != nil {
		return fatal(err)
	}
	signals, err := o.deps.Store.ListUserSignals(ctx, rs.run.UserID, o.now().Add(-o.opts.Lookback))
	if err != nil {
		return fatal(fmt.Errorf("listing signals: %w", err))
	}
	rs.pool = o.deps.Scorer.BuildPool(signals, uc)
	res := succeeded(rs.pool.Stats.Considered, len(rs.pool.Candidates))
	if len(rs.pool.Candidates) == 0 {
		logger.Info("no candidates passed filtering, skipping remaining stages", "considered", rs.pool.Stats.Considered)
		res.halt = true
	}
	return res
}

// userContext gathers what the scorer reads about the user.
func (o *Orchestrator) userContext(ctx context.Context, profile *models.UserProfile, logger *slog.Logger) (*scoring.UserContext, error) {
	userID := profile.UserID
	entities, err := o.deps.Knowledge.Entities(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading knowledge: %w", err)
	}
	exposures, err := o.deps.Store.ListExposures(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading exposures: %w", err)
	}
	feedback, err := o.deps.Store.ListFeedback(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading feedback: %w", err)
	}

	exposed := make(map[string]bool, len(exposures))
	var recent []string
	for i := len(exposures) - 1; i >= 0; i-- {
		id := exposures[i].SignalID
		if exposed[id] {
			continue
		}
		exposed[id] = true
		if len(recent) < o.opts.ExposureTitleLimit {
			recent = append(recent, id)
		}
	}
	var titles []string
	if len(recent) > 0 {
		sigs, err := o.deps.Store.GetSignals(ctx, recent)
		if err != nil {
			return nil, fmt.Errorf("loading exposed signals: %w", err)
		}
		for i := range sigs {
			titles = append(titles, sigs[i].Title)
		}
	}

	uc := &scoring.UserContext{
		Profile:       *profile,
		Entities:      entities,
		Exposed:       exposed,
		ExposedTitles: titles,
		Feedback:      feedback,
	}
	if o.deps.Embedder != nil {
		vec, err := o.deps.Embedder.Embed(ctx, profileText(profile))
		if err != nil {
			logger.Warn("profile embedding failed, semantic similarity disabled", "error", err)
		} else {
			uc.ProfileEmbedding = vec
		}
	}
	return uc, nil
}

func profileText(p *models.UserProfile) string {
	parts := []string{p.Role, p.Industry}
	for _, group := range [][]string{p.Topics, p.Initiatives, p.Concerns, p.IntelligenceGoals} {
		parts = append(parts, group...)
	}
	return strings.Join(parts, ". ")
}

func (o *Orchestrator) selectItems(ctx context.Context, rs *runState) stepResult {
	res, err := o.deps.Agent.Select(ctx, agent.Input{
		UserID:     rs.run.UserID,
		Profile:    *rs.profile,
		Candidates: rs.pool.Candidates,
	})
	if err != nil {
		return fatal(err)
	}
	rs.selection = res
	rs.usage.Add(res.Usage)
	out := succeeded(len(rs.pool.Candidates), len(res.Selections))
	if len(res.Selections) == 0 {
		o.logger.Info("agent selected nothing, no briefing today", "user_id", rs.run.UserID)
		out.halt = true
	}
	return out
}

func (o *Orchestrator) compose(ctx context.Context, rs *runState) stepResult {
	res := o.deps.Composer.Compose(ctx, *rs.profile, rs.selection.Selections, rs.pool.Candidates)
	rs.composed = res
	rs.usage.Add(res.Usage)
	n := len(rs.selection.Selections)
	if len(res.Items) == 0 {
		return fatal(fmt.Errorf("composer produced no items for %d selections", n))
	}
	if res.Fallback {
		return partial(fmt.Errorf("fallback composition: %s", res.FallbackReason), n, len(res.Items))
	}
	return succeeded(n, len(res.Items))
}

func (o *Orchestrator) persist(ctx context.Context, rs *runState) stepResult {
	b := models.Briefing{
		ID:               uuid.New().String(),
		UserID:           rs.run.UserID,
		Items:            rs.composed.Items,
		GeneratedAt:      o.now(),
		PromptTokens:     rs.usage.InputTokens,
		CompletionTokens: rs.usage.OutputTokens,
	}
	id, err := o.deps.Store.SaveBriefing(ctx, b)
	if err != nil {
		return fatal(fmt.Errorf("saving briefing: %w", err))
	}
	b.ID = id
	rs.briefing = &b
	rs.run.BriefingID = id
	return succeeded(len(b.Items), len(b.Items))
}

func (o *Orchestrator) deliver(ctx context.Context, rs *runState, logger *slog.Logger) stepResult {
	b := rs.briefing
	attempt := o.deps.Deliverer.Deliver(ctx, *b, rs.profile.DeliveryChannel)
	switch attempt.Status {
	case models.DeliverySkipped:
		return stepResult{outcome: models.OutcomeSkipped}
	case models.DeliveryFailed:
		msg := attempt.ErrorMessage
		if msg == "" {
			msg = "delivery failed"
		}
		return stepResult{outcome: models.OutcomeFailure, err: errors.New(msg), processed: len(b.Items)}
	}

	now := o.now()
	var problems []string
	if err := o.deps.Store.MarkDelivered(ctx, b.ID, now); err != nil {
		problems = append(problems, fmt.Sprintf("marking delivered: %v", err))
	}
	b.DeliveredAt = &now

	signals := agent.SelectedSignals(agent.Input{Candidates: rs.pool.Candidates}, rs.selection.Selections)
	report, err := o.deps.Knowledge.ExtractAndReinforce(ctx, rs.run.UserID, *b, signals)
	if err != nil {
		problems = append(problems, fmt.Sprintf("recording exposure: %v", err))
	} else if report.ExtractionErrors > 0 {
		problems = append(problems, fmt.Sprintf("entity extraction failed for %d items", report.ExtractionErrors))
	}
	if report != nil {
		logger.Info("post-delivery knowledge update",
			"exposures", report.ExposuresRecorded,
			"reinforced", report.EntitiesReinforced,
			"inserted", report.EntitiesInserted,
		)
	}
	if len(problems) > 0 {
		return partial(errors.New(strings.Join(problems, "; ")), len(b.Items), len(b.Items))
	}
	return succeeded(len(b.Items), len(b.Items))
}
