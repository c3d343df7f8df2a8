package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/openclaw-briefing/internal/metrics"
	"github.com/ajitpratap0/openclaw-briefing/internal/models"
	"github.com/ajitpratap0/openclaw-briefing/internal/store"
)

// UserStatus is the batch-level outcome for one user.
type UserStatus string

const (
	UserSuccess   UserStatus = "success"
	UserSkipped   UserStatus = "skipped"
	UserError     UserStatus = "error"
	UserNoContent UserStatus = "no-content"
)

// UserResult records what the batch did for one user.
type UserResult struct {
	UserID     string           `json:"user_id"`
	Status     UserStatus       `json:"status"`
	RunID      string           `json:"run_id,omitempty"`
	RunStatus  models.RunStatus `json:"run_status,omitempty"`
	BriefingID string           `json:"briefing_id,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// BatchSummary aggregates a batch run.
type BatchSummary struct {
	RunType     models.RunType `json:"run_type"`
	Total       int            `json:"total"`
	Success     int            `json:"success"`
	Skipped     int            `json:"skipped"`
	Errors      int            `json:"errors"`
	NoContent   int            `json:"no_content"`
	Results     []UserResult   `json:"results"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// RunBatch runs every active user with bounded concurrency. A user's
// failure or panic is recorded in the summary and never stops the batch;
// only misconfiguration or failing to list users returns an error. Daily
// batches skip users who already have a briefing generated today.
func (o *Orchestrator) RunBatch(ctx context.Context, runType models.RunType) (*BatchSummary, error) {
	if o == nil {
		return nil, fmt.Errorf("%w: nil orchestrator", ErrMisconfigured)
	}
	if err := o.deps.validate(); err != nil {
		return nil, err
	}
	if !runType.IsValid() {
		return nil, fmt.Errorf("%w: unknown run type %q", ErrMisconfigured, runType)
	}
	profiles, err := o.deps.Store.ListActiveProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active users: %w", err)
	}

	summary := &BatchSummary{RunType: runType, Total: len(profiles), StartedAt: o.now()}
	results := make([]UserResult, len(profiles))
	o.logger.Info("batch started", "run_type", runType, "users", len(profiles), "concurrency", o.opts.BatchConcurrency)

	var g errgroup.Group
	g.SetLimit(o.opts.BatchConcurrency)
	for i := range profiles {
		userID := profiles[i].UserID
		g.Go(func() error {
			results[i] = o.runOne(ctx, userID, runType)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		switch r.Status {
		case UserSuccess:
			summary.Success++
		case UserSkipped:
			summary.Skipped++
		case UserNoContent:
			summary.NoContent++
		case UserError:
			summary.Errors++
		}
		metrics.BatchUsers.WithLabelValues(string(r.Status)).Inc()
	}
	summary.Results = results
	summary.CompletedAt = o.now()
	o.logger.Info("batch finished",
		"run_type", runType,
		"total", summary.Total,
		"success", summary.Success,
		"skipped", summary.Skipped,
		"no_content", summary.NoContent,
		"errors", summary.Errors,
		"duration", summary.CompletedAt.Sub(summary.StartedAt),
	)
	return summary, nil
}

// runOne runs a single user, converting panics into an error result.
func (o *Orchestrator) runOne(ctx context.Context, userID string, runType models.RunType) (result UserResult) {
	result = UserResult{UserID: userID}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("user run panicked", "user_id", userID, "panic", r, "stack", string(debug.Stack()))
			result.Status = UserError
			result.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	if ctx.Err() != nil {
		result.Status = UserError
		result.Error = ctx.Err().Error()
		return result
	}

	if runType == models.RunTypeDaily {
		done, err := o.briefedToday(ctx, userID)
		if err != nil {
			o.logger.Warn("briefing lookup failed, running anyway", "user_id", userID, "error", err)
		} else if done {
			result.Status = UserSkipped
			return result
		}
	}

	run, err := o.RunForUser(ctx, userID, runType)
	if run != nil {
		result.RunID = run.ID
		result.RunStatus = run.Status
		result.BriefingID = run.BriefingID
	}
	switch {
	case err != nil:
		result.Status = UserError
		result.Error = err.Error()
	case run.BriefingID == "":
		result.Status = UserNoContent
	default:
		result.Status = UserSuccess
	}
	return result
}

func (o *Orchestrator) briefedToday(ctx context.Context, userID string) (bool, error) {
	latest, err := o.deps.Store.LatestBriefing(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	y1, m1, d1 := latest.GeneratedAt.UTC().Date()
	y2, m2, d2 := o.now().Date()
	return y1 == y2 && m1 == m2 && d1 == d2, nil
}
