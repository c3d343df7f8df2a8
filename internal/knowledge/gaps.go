package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/openclaw-briefing/internal/llm"
	"github.com/ajitpratap0/openclaw-briefing/internal/metrics"
	"github.com/ajitpratap0/openclaw-briefing/internal/models"
	"github.com/ajitpratap0/openclaw-briefing/internal/store"
	"github.com/ajitpratap0/openclaw-briefing/pkg/tokenizer"
	"github.com/ajitpratap0/openclaw-briefing/pkg/xmlutil"
)

// ErrNoModel is returned by operations that need a language model when none is configured.
var ErrNoModel = errors.New("no language model configured")

const (
	gapScanMaxTokens    = 1536
	gapScanEntityBudget = 3000
)

const gapScanPromptTemplate = `You maintain a model of what a professional already knows so their daily briefing can focus on what is new.

Compare the knowledge gaps the user declared with the entities they are known to understand. For each gap that is not already covered, propose one research query and up to three entities (companies, people, concepts, terms, products, events or facts) they should learn about.

Return ONLY a JSON object with this exact schema:
{"gaps": [{"topic": "<gap>", "research_query": "<search phrase>", "entities": [{"name": "<name>", "type": "<entity type>", "description": "<short phrase>"}]}]}

Return {"gaps": []} if every gap is already covered.

<role>%s</role>
<industry>%s</industry>

<declared_gaps>
%s</declared_gaps>

<known_entities>
%s</known_entities>`

type gapScanResponse struct {
	Gaps []struct {
		Topic         string                   `json:"topic"`
		ResearchQuery string                   `json:"research_query"`
		Entities      []models.ExtractedEntity `json:"entities"`
	} `json:"gaps"`
}

// GapReport summarizes a gap scan.
type GapReport struct {
	GapsFound      int      `json:"gaps_found"`
	QueriesAdded   int      `json:"queries_added"`
	EntitiesSeeded int      `json:"entities_seeded"`
	Queries        []string `json:"queries,omitempty"`
}

// ScanDue reports whether a gap scan should run for the profile at now.
func (e *Engine) ScanDue(p models.UserProfile, now time.Time) bool {
	if p.LastGapScanAt.IsZero() {
		return true
	}
	return now.Sub(p.LastGapScanAt) >= e.policy.GapScanInterval
}

// ScanGaps asks the model which declared knowledge gaps the graph does not
// yet cover, appends research queries to the profile and seeds low-confidence
// entities for each uncovered gap. The profile's scan time is updated even
// when no gaps are declared.
func (e *Engine) ScanGaps(ctx context.Context, userID string) (*GapReport, error) {
	profile, err := e.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading profile %s: %w", userID, err)
	}
	report := &GapReport{}
	now := e.now()

	if len(profile.KnowledgeGaps) > 0 {
		if e.client == nil {
			return nil, ErrNoModel
		}
		resp, err := e.askGaps(ctx, *profile)
		if err != nil {
			return nil, err
		}
		if err := e.applyGaps(ctx, profile, resp, report, now); err != nil {
			return report, err
		}
	}

	profile.LastGapScanAt = now
	if err := e.profiles.SaveProfile(ctx, *profile); err != nil {
		return report, fmt.Errorf("saving profile: %w", err)
	}
	e.logger.Info("gap scan complete",
		"user_id", userID,
		"gaps_found", report.GapsFound,
		"queries_added", report.QueriesAdded,
		"entities_seeded", report.EntitiesSeeded,
	)
	return report, nil
}

func (e *Engine) askGaps(ctx context.Context, p models.UserProfile) (*gapScanResponse, error) {
	entities, err := e.graph.ListEntities(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].Confidence > entities[j].Confidence })
	lines := make([]string, 0, len(entities))
	for i := range entities {
		lines = append(lines, fmt.Sprintf("- %s (%s, confidence %.2f)",
			xmlutil.Escape(entities[i].Name), entities[i].Type, entities[i].Confidence))
	}
	known, _ := tokenizer.FitWithinBudget(lines, gapScanEntityBudget, "\n")

	var gaps strings.Builder
	for _, g := range p.KnowledgeGaps {
		fmt.Fprintf(&gaps, "- %s\n", xmlutil.Escape(g))
	}
	prompt := fmt.Sprintf(gapScanPromptTemplate, xmlutil.Escape(p.Role), xmlutil.Escape(p.Industry), gaps.String(), known)

	policy := llm.DefaultRetryPolicy(1)
	return llm.Retry(ctx, policy, e.logger, "gap scan", func(ctx context.Context) (*gapScanResponse, error) {
		resp, err := e.client.Complete(ctx, llm.Request{
			System:    "You are a careful analyst. Output only valid JSON.",
			Messages:  []llm.Message{llm.UserText(prompt)},
			MaxTokens: gapScanMaxTokens,
		})
		if err != nil {
			return nil, err
		}
		metrics.AddTokens("gap_scan", resp.Usage.InputTokens, resp.Usage.OutputTokens)
		var out gapScanResponse
		if err := llm.DecodeText(resp.Text, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

func (e *Engine) applyGaps(ctx context.Context, profile *models.UserProfile, resp *gapScanResponse, report *GapReport, now time.Time) error {
	existing := make(map[string]bool, len(profile.ResearchQueries))
	for _, q := range profile.ResearchQueries {
		existing[strings.ToLower(strings.TrimSpace(q))] = true
	}
	for _, g := range resp.Gaps {
		report.GapsFound++
		q := strings.TrimSpace(g.ResearchQuery)
		if q != "" && !existing[strings.ToLower(q)] {
			existing[strings.ToLower(q)] = true
			profile.ResearchQueries = append(profile.ResearchQueries, q)
			report.QueriesAdded++
			report.Queries = append(report.Queries, q)
		}
		for _, ent := range g.Entities {
			seeded, err := e.seedGapEntity(ctx, profile.UserID, ent, now)
			if err != nil {
				return err
			}
			if seeded {
				report.EntitiesSeeded++
			}
		}
	}
	return nil
}

func (e *Engine) seedGapEntity(ctx context.Context, userID string, ent models.ExtractedEntity, now time.Time) (bool, error) {
	name := strings.TrimSpace(ent.Name)
	if name == "" {
		return false, nil
	}
	_, err := e.graph.FindEntityByName(ctx, userID, name)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("looking up %q: %w", name, err)
	}
	typ := models.EntityType(strings.ToLower(string(ent.Type)))
	if !typ.IsValid() {
		typ = models.EntityTypeConcept
	}
	if err := e.graph.UpsertEntity(ctx, models.KnowledgeEntity{
		ID:             uuid.New().String(),
		UserID:         userID,
		Type:           typ,
		Name:           name,
		Description:    ent.Description,
		Source:         models.EntitySourceGapScan,
		Confidence:     gapSeedConfidence,
		KnownSince:     now,
		LastReinforced: now,
	}); err != nil {
		return false, fmt.Errorf("seeding %q: %w", name, err)
	}
	return true, nil
}
