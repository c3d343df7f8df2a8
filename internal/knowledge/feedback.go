package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
	"github.com/ajitpratap0/openclaw-briefing/internal/store"
)

// ErrInvalidFeedback is returned for feedback that names no user, signal or
// known kind.
var ErrInvalidFeedback = errors.New("invalid feedback")

// FeedbackReport summarizes the effect of one feedback event.
type FeedbackReport struct {
	FeedbackID         string   `json:"feedback_id"`
	ExposuresEngaged   int      `json:"exposures_engaged"`
	EntitiesReinforced int      `json:"entities_reinforced"`
	EntitiesInserted   int      `json:"entities_inserted"`
	SignalIDs          []string `json:"signal_ids"`
}

// RecordFeedback stores an explicit reaction to a delivered item and marks
// the exposures of its signals as engaged. A request for more on the item is
// a deep dive: the entities learned from it are reinforced again. item may be
// nil when the event names a signal directly.
func (e *Engine) RecordFeedback(ctx context.Context, ev models.FeedbackEvent, item *models.BriefingItem) (*FeedbackReport, error) {
	signalIDs := feedbackSignals(ev, item)
	if item != nil {
		ev.BriefingItemID = item.ID
		if ev.SignalID == "" && len(signalIDs) > 0 {
			ev.SignalID = signalIDs[0]
		}
	}
	switch {
	case ev.UserID == "":
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidFeedback)
	case !ev.Kind.IsValid():
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidFeedback, ev.Kind)
	case len(signalIDs) == 0 && ev.Topic == "":
		return nil, fmt.Errorf("%w: a signal, item or topic is required", ErrInvalidFeedback)
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = e.now()
	}
	if err := e.exposures.RecordFeedback(ctx, ev); err != nil {
		return nil, fmt.Errorf("recording feedback: %w", err)
	}

	report := &FeedbackReport{FeedbackID: ev.ID, SignalIDs: signalIDs}
	var entityIDs []string
	for _, sid := range signalIDs {
		engaged, err := e.exposures.MarkEngaged(ctx, ev.UserID, sid)
		if err != nil {
			return report, fmt.Errorf("marking %s engaged: %w", sid, err)
		}
		report.ExposuresEngaged += len(engaged)
		for _, x := range engaged {
			entityIDs = append(entityIDs, x.EntityIDs...)
		}
	}

	if ev.Kind == models.FeedbackMore {
		refs, err := e.entityRefs(ctx, ev.UserID, entityIDs)
		if err != nil {
			return report, err
		}
		if len(refs) > 0 {
			rr, err := e.Reinforce(ctx, ev.UserID, refs, models.EntitySourceDeepDive)
			if err != nil {
				return report, fmt.Errorf("reinforcing deep dive: %w", err)
			}
			report.EntitiesReinforced = rr.Reinforced
			report.EntitiesInserted = rr.Inserted
		}
	}

	e.logger.Info("feedback recorded",
		"user_id", ev.UserID,
		"kind", ev.Kind,
		"signals", len(signalIDs),
		"engaged", report.ExposuresEngaged,
		"reinforced", report.EntitiesReinforced,
	)
	return report, nil
}

func feedbackSignals(ev models.FeedbackEvent, item *models.BriefingItem) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	add(ev.SignalID)
	if item != nil {
		for _, id := range item.SourceSignalIDs {
			add(id)
		}
	}
	return out
}

// entityRefs resolves entity IDs to references. Entities pruned since the
// exposure was recorded are skipped.
func (e *Engine) entityRefs(ctx context.Context, userID string, ids []string) ([]EntityRef, error) {
	refs := make([]EntityRef, 0, len(ids))
	for _, id := range ids {
		ent, err := e.graph.GetEntity(ctx, userID, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading entity %s: %w", id, err)
		}
		refs = append(refs, EntityRef{Name: ent.Name, Type: ent.Type, Description: ent.Description})
	}
	return refs, nil
}
