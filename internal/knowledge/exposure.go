package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

// ExposureReport summarizes post-delivery bookkeeping.
type ExposureReport struct {
	EntitiesReinforced int `json:"entities_reinforced"`
	EntitiesInserted   int `json:"entities_inserted"`
	ExposuresRecorded  int `json:"exposures_recorded"`
	// ExtractionErrors counts items whose entity extraction failed.
	ExtractionErrors int `json:"extraction_errors"`
}

// ExtractAndReinforce runs after a briefing is delivered: it extracts the
// entities each item taught the user, reinforces them, and records one
// exposure per delivered signal. Extraction failures are counted and do
// not stop exposure recording.
func (e *Engine) ExtractAndReinforce(ctx context.Context, userID string, b models.Briefing, signals []models.Signal) (*ExposureReport, error) {
	bySignal := make(map[string]models.Signal, len(signals))
	for i := range signals {
		bySignal[signals[i].ID] = signals[i]
	}
	deliveredAt := e.now()
	if b.DeliveredAt != nil {
		deliveredAt = *b.DeliveredAt
	}

	report := &ExposureReport{}
	recorded := make(map[string]bool)
	for _, item := range b.Items {
		var entityIDs []string
		if e.extractor != nil {
			ids, err := e.reinforceItem(ctx, userID, item, bySignal, report)
			if err != nil {
				report.ExtractionErrors++
				e.logger.Warn("post-delivery extraction failed", "user_id", userID, "item", item.ItemNumber, "error", err)
			}
			entityIDs = ids
		}
		for _, sid := range item.SourceSignalIDs {
			if recorded[sid] {
				continue
			}
			recorded[sid] = true
			if err := e.exposures.RecordExposure(ctx, models.ExposureRecord{
				ID:          uuid.New().String(),
				UserID:      userID,
				SignalID:    sid,
				BriefingID:  b.ID,
				EntityIDs:   entityIDs,
				DeliveredAt: deliveredAt,
			}); err != nil {
				return report, fmt.Errorf("recording exposure for %s: %w", sid, err)
			}
			report.ExposuresRecorded++
		}
	}
	return report, nil
}

func (e *Engine) reinforceItem(ctx context.Context, userID string, item models.BriefingItem, bySignal map[string]models.Signal, report *ExposureReport) ([]string, error) {
	var text strings.Builder
	text.WriteString(item.Topic)
	text.WriteString("\n")
	text.WriteString(item.Content)
	for _, sid := range item.SourceSignalIDs {
		if sig, ok := bySignal[sid]; ok {
			text.WriteString("\n")
			text.WriteString(sig.Title)
			text.WriteString("\n")
			text.WriteString(sig.Summary)
		}
	}
	extracted, err := e.extractor.Extract(ctx, text.String())
	if err != nil {
		return nil, err
	}
	if len(extracted) == 0 {
		return nil, nil
	}
	refs := make([]EntityRef, 0, len(extracted))
	for _, x := range extracted {
		refs = append(refs, EntityRef{Name: x.Name, Type: x.Type, Description: x.Description})
	}
	rr, err := e.Reinforce(ctx, userID, refs, models.EntitySourceBriefingDelivered)
	if err != nil {
		return nil, err
	}
	report.EntitiesReinforced += rr.Reinforced
	report.EntitiesInserted += rr.Inserted
	return rr.EntityIDs, nil
}
