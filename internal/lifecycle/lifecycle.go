// Package lifecycle runs the per-user knowledge graph maintenance performed
// before each briefing: onboarding seed, confidence decay, pruning and the
// periodic knowledge-gap scan.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ajitpratap0/openclaw-briefing/internal/knowledge"
	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

// Report summarizes the results of a maintenance run. Step failures are
// collected in Errors; the remaining steps still run.
type Report struct {
	Seeded      int                  `json:"seeded"`
	Decayed     int                  `json:"decayed"`
	Pruned      int                  `json:"pruned"`
	PrunedNames []string             `json:"pruned_names,omitempty"`
	GapScan     *knowledge.GapReport `json:"gap_scan,omitempty"`
	GapScanSkip string               `json:"gap_scan_skipped,omitempty"`
	Errors      []string             `json:"errors,omitempty"`
}

// Failed reports whether any step failed.
func (r *Report) Failed() bool {
	return len(r.Errors) > 0
}

// Options selects which steps run.
type Options struct {
	// Seed populates the graph from the profile (first run for a user).
	Seed bool
	// DecayElapsed is the interval since the previous decay; zero skips decay.
	DecayElapsed time.Duration
	// DryRun reports what pruning would remove and skips every write.
	DryRun bool
}

// Manager handles knowledge maintenance for one user at a time.
type Manager struct {
	engine *knowledge.Engine
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a new lifecycle manager.
func NewManager(engine *knowledge.Engine, logger *slog.Logger) *Manager {
	return &Manager{
		engine: engine,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the maintenance steps for the profile's user.
func (m *Manager) Run(ctx context.Context, profile models.UserProfile, opts Options) *Report {
	report := &Report{}
	userID := profile.UserID
	fail := func(step string, err error) {
		m.logger.Error("knowledge maintenance step failed", "user_id", userID, "step", step, "error", err)
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", step, err))
	}

	// 1. Onboarding seed
	if opts.Seed && !opts.DryRun {
		seed, err := m.engine.Seed(ctx, profile)
		if err != nil {
			fail("seed", err)
		}
		if seed != nil {
			report.Seeded = seed.Seeded
		}
	}

	// 2. Confidence decay
	if opts.DecayElapsed > 0 && !opts.DryRun {
		decay, err := m.engine.Decay(ctx, userID, opts.DecayElapsed)
		if err != nil {
			fail("decay", err)
		}
		if decay != nil {
			report.Decayed = decay.Decayed
		}
	}

	// 3. Prune stale generic entities
	prune, err := m.engine.Prune(ctx, userID, opts.DryRun)
	if err != nil {
		fail("prune", err)
	}
	if prune != nil {
		report.Pruned = prune.Pruned
		report.PrunedNames = prune.Names
	}

	// 4. Gap scan on its own cadence
	switch {
	case opts.DryRun:
		report.GapScanSkip = "dry run"
	case !m.engine.ScanDue(profile, m.now()):
		report.GapScanSkip = "not due"
	default:
		gaps, err := m.engine.ScanGaps(ctx, userID)
		if errors.Is(err, knowledge.ErrNoModel) {
			report.GapScanSkip = "no model configured"
		} else if err != nil {
			fail("gap scan", err)
		}
		report.GapScan = gaps
	}

	m.logger.Info("knowledge maintenance complete",
		"user_id", userID,
		"seeded", report.Seeded,
		"decayed", report.Decayed,
		"pruned", report.Pruned,
		"errors", len(report.Errors),
	)
	return report
}
