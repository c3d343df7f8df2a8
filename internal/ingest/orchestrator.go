package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/openclaw-briefing/internal/embedder"
	"github.com/ajitpratap0/openclaw-briefing/internal/metrics"
	"github.com/ajitpratap0/openclaw-briefing/internal/models"
	"github.com/ajitpratap0/openclaw-briefing/internal/store"
)

// SourceError records one adapter or query failure. It never aborts ingestion.
type SourceError struct {
	Source string `json:"source"`
	Query  string `json:"query,omitempty"`
	Err    error  `json:"-"`
	// Message is Err rendered for persistence.
	Message string `json:"message"`
}

func (e SourceError) Error() string {
	if e.Query != "" {
		return fmt.Sprintf("%s (%s): %s", e.Source, e.Query, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Message)
}

// Report summarizes one ingestion pass for a user.
type Report struct {
	// SignalsBySource counts signals attributed to the user per adapter,
	// including signals another user already ingested.
	SignalsBySource map[string]int `json:"signals_by_source"`
	NewSignals      int            `json:"new_signals"`
	Duplicates      int            `json:"duplicates"`
	Errors          []SourceError  `json:"errors,omitempty"`
}

// Total returns the number of signals attributed across all sources.
func (r *Report) Total() int {
	n := 0
	for _, c := range r.SignalsBySource {
		n += c
	}
	return n
}

// Options tunes the orchestrator.
type Options struct {
	Concurrency int
	Lookback    time.Duration
	// MaxQueries caps the queries each adapter polls per run; 0 means unlimited.
	MaxQueries int
}

// Orchestrator runs every adapter for a user and persists the results.
type Orchestrator struct {
	adapters []Adapter
	signals  store.SignalStore
	profiles store.ProfileStore
	embedder embedder.Embedder
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrchestrator wires the adapters to storage. emb may be nil.
func NewOrchestrator(adapters []Adapter, signals store.SignalStore, profiles store.ProfileStore, emb embedder.Embedder, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 48 * time.Hour
	}
	return &Orchestrator{
		adapters: adapters,
		signals:  signals,
		profiles: profiles,
		embedder: emb,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Adapters returns the names of the configured adapters.
func (o *Orchestrator) Adapters() []string {
	names := make([]string, 0, len(o.adapters))
	for _, a := range o.adapters {
		names = append(names, a.Name())
	}
	return names
}

// Ingest polls every adapter for the user. Source failures are collected in
// the report; only failing to load the profile is returned as an error.
func (o *Orchestrator) Ingest(ctx context.Context, userID string) (*Report, error) {
	profile, err := o.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading profile %s: %w", userID, err)
	}

	report := &Report{SignalsBySource: make(map[string]int, len(o.adapters))}
	var mu sync.Mutex
	since := o.now().Add(-o.opts.Lookback)

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for _, a := range o.adapters {
		g.Go(func() error {
			counts, errs := o.runAdapter(ctx, a, *profile, since)
			mu.Lock()
			defer mu.Unlock()
			report.SignalsBySource[a.Name()] += counts.attributed
			report.NewSignals += counts.created
			report.Duplicates += counts.duplicates
			report.Errors = append(report.Errors, errs...)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Errors, func(i, j int) bool {
		if report.Errors[i].Source != report.Errors[j].Source {
			return report.Errors[i].Source < report.Errors[j].Source
		}
		return report.Errors[i].Query < report.Errors[j].Query
	})

	o.logger.Info("ingestion complete",
		"user_id", userID,
		"attributed", report.Total(),
		"new", report.NewSignals,
		"duplicates", report.Duplicates,
		"source_errors", len(report.Errors),
	)
	return report, nil
}

type adapterCounts struct {
	attributed int
	created    int
	duplicates int
}

func (o *Orchestrator) runAdapter(ctx context.Context, a Adapter, profile models.UserProfile, since time.Time) (adapterCounts, []SourceError) {
	var counts adapterCounts
	var errs []SourceError
	fail := func(query string, err error) {
		metrics.SourceErrors.WithLabelValues(a.Name()).Inc()
		o.logger.Warn("source adapter failed", "source", a.Name(), "query", query, "error", err)
		errs = append(errs, SourceError{Source: a.Name(), Query: query, Err: err, Message: err.Error()})
	}

	queries, err := a.Discover(ctx, profile)
	if err != nil {
		fail("", fmt.Errorf("discover: %w", err))
		return counts, errs
	}
	if o.opts.MaxQueries > 0 && len(queries) > o.opts.MaxQueries {
		o.logger.Debug("capping adapter queries", "source", a.Name(), "discovered", len(queries), "max", o.opts.MaxQueries)
		queries = queries[:o.opts.MaxQueries]
	}

	for _, q := range queries {
		if ctx.Err() != nil {
			fail(q.Text, ctx.Err())
			break
		}
		q.Since = since
		sigs, err := a.Poll(ctx, q)
		if err != nil {
			fail(q.Text, err)
			continue
		}
		for i := range sigs {
			if !sigs[i].PublishedAt.IsZero() && sigs[i].PublishedAt.Before(since) {
				continue
			}
			created, linked, err := o.persist(ctx, sigs[i], q, profile.UserID)
			if err != nil {
				fail(q.Text, err)
				continue
			}
			if created {
				counts.created++
			} else {
				counts.duplicates++
				metrics.SignalsDeduplicated.WithLabelValues(a.Name()).Inc()
			}
			if linked {
				counts.attributed++
				metrics.SignalsIngested.WithLabelValues(a.Name()).Inc()
			}
		}
	}
	return counts, errs
}

// persist normalizes and stores a signal, then links it to the user. It
// reports whether a new signal row and a new provenance row were created.
func (o *Orchestrator) persist(ctx context.Context, sig models.Signal, q Query, userID string) (bool, bool, error) {
	now := o.now()
	sig.SourceURL = CanonicalURL(sig.SourceURL)
	sig.Title = collapseSpace(sig.Title)
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if sig.Summary == "" {
		sig.Summary = Summarize(sig.Content)
	}
	sig.ContentHash = ContentHash(sig.Title, sig.Content)
	if sig.PublishedAt.IsZero() {
		sig.PublishedAt = now
	}
	sig.IngestedAt = now
	if sig.Metadata == nil {
		sig.Metadata = map[string]string{}
	}
	if o.embedder != nil && len(sig.Embedding) == 0 {
		vec, err := o.embedder.Embed(ctx, sig.Title+"\n"+sig.Summary)
		if err != nil {
			o.logger.Warn("embedding signal failed, storing without vector", "url", sig.SourceURL, "error", err)
		} else {
			sig.Embedding = vec
		}
	}

	stored, created, err := o.signals.InsertSignal(ctx, sig)
	if err != nil {
		return false, false, fmt.Errorf("storing signal %s: %w", sig.SourceURL, err)
	}
	linked, err := o.signals.AddProvenance(ctx, models.SignalProvenance{
		ID:               uuid.New().String(),
		SignalID:         stored.ID,
		UserID:           userID,
		TriggerReason:    q.Trigger,
		ProfileReference: q.ProfileReference,
		CreatedAt:        now,
	})
	if err != nil {
		return created, false, fmt.Errorf("recording provenance for %s: %w", stored.ID, err)
	}
	return created, linked, nil
}
