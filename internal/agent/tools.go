package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/openclaw-briefing/internal/llm"
	"github.com/ajitpratap0/openclaw-briefing/internal/models"
	"github.com/ajitpratap0/openclaw-briefing/pkg/tokenizer"
)

const (
	toolCheckKnowledgeGraph  = "check_knowledge_graph"
	toolGetSignalDetails     = "get_signal_details"
	toolCheckExposureHistory = "check_exposure_history"
	toolSubmitSelections     = "submit_selections"

	detailContentBudget = 400
)

func toolSpecs(target int) []llm.ToolSpec {
	indexProp := map[string]any{
		"signal_index": map[string]any{"type": "integer", "description": "Index of the candidate as listed in the prompt."},
	}
	return []llm.ToolSpec{
		{
			Name:        toolCheckKnowledgeGraph,
			Description: "Check whether the reader already knows an entity (company, person, concept). Returns known and confidence.",
			Properties: map[string]any{
				"entity_name": map[string]any{"type": "string", "description": "Entity name to look up."},
			},
			Required: []string{"entity_name"},
		},
		{
			Name:        toolGetSignalDetails,
			Description: "Fetch the full text and scoring breakdown of one candidate.",
			Properties:  indexProp,
			Required:    []string{"signal_index"},
		},
		{
			Name:        toolCheckExposureHistory,
			Description: "Check whether a candidate, or a story like it, was already delivered to the reader.",
			Properties:  indexProp,
			Required:    []string{"signal_index"},
		},
		{
			Name: toolSubmitSelections,
			Description: fmt.Sprintf("Submit the final picks, at most %d, each candidate at most once. "+
				"Submit an empty list if nothing is worth the reader's time today.", target),
			Properties: map[string]any{
				"selections": map[string]any{
					"type":     "array",
					"maxItems": target,
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"signal_index":       map[string]any{"type": "integer"},
							"reason":             map[string]any{"type": "string"},
							"reason_label":       map[string]any{"type": "string"},
							"confidence":         map[string]any{"type": "number", "minimum": 0, "maximum": 1},
							"novelty_assessment": map[string]any{"type": "string"},
							"attribution":        map[string]any{"type": "string"},
							"tools_used":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						},
						"required":             []string{"signal_index", "reason", "reason_label", "confidence", "novelty_assessment", "attribution"},
						"additionalProperties": false,
					},
				},
			},
			Required: []string{"selections"},
		},
	}
}

// session holds per-run state shared by tool executions.
type session struct {
	agent *Agent
	in    Input
	// shown is how many candidates made it into the prompt; valid indices
	// are [0, shown).
	shown int

	exposures       []models.ExposureRecord
	exposuresLoaded bool
}

type submitInput struct {
	Selections []Selection `json:"selections"`
}

func (s *session) parseSubmit(raw json.RawMessage) ([]Selection, error) {
	var in submitInput
	if err := llm.DecodeStrict(raw, &in); err != nil {
		return nil, err
	}
	return s.validate(in.Selections)
}

func (s *session) parseSelections(text []byte) ([]Selection, error) {
	if len(strings.TrimSpace(string(text))) == 0 {
		return nil, fmt.Errorf("%w: model ended without submitting selections", llm.ErrInvalidResponse)
	}
	return s.parseSubmit(text)
}

// validate enforces the selection contract: at most TargetSelections
// entries, each index in range and used once, labels present.
func (s *session) validate(sels []Selection) ([]Selection, error) {
	if len(sels) > s.agent.opts.TargetSelections {
		return nil, fmt.Errorf("%w: %d selections exceed target of %d",
			llm.ErrInvalidResponse, len(sels), s.agent.opts.TargetSelections)
	}
	used := make(map[int]bool, len(sels))
	for i := range sels {
		sel := &sels[i]
		if sel.SignalIndex < 0 || sel.SignalIndex >= s.shown {
			return nil, fmt.Errorf("%w: signal_index %d out of range [0,%d)",
				llm.ErrInvalidResponse, sel.SignalIndex, s.shown)
		}
		if used[sel.SignalIndex] {
			return nil, fmt.Errorf("%w: signal_index %d selected twice", llm.ErrInvalidResponse, sel.SignalIndex)
		}
		used[sel.SignalIndex] = true
		sel.Reason = strings.TrimSpace(sel.Reason)
		sel.ReasonLabel = strings.TrimSpace(sel.ReasonLabel)
		if sel.Reason == "" || sel.ReasonLabel == "" {
			return nil, fmt.Errorf("%w: selection %d missing reason or reason_label", llm.ErrInvalidResponse, i)
		}
		if sel.Confidence < 0 || sel.Confidence > 1 {
			return nil, fmt.Errorf("%w: selection %d confidence %v outside [0,1]", llm.ErrInvalidResponse, i, sel.Confidence)
		}
	}
	if sels == nil {
		sels = []Selection{}
	}
	return sels, nil
}

// execute runs a read-only lookup tool. Bad input or lookup failures are
// reported back to the model as error results rather than ending the run.
func (s *session) execute(ctx context.Context, call llm.ToolCall) (string, bool) {
	switch call.Name {
	case toolCheckKnowledgeGraph:
		var in struct {
			EntityName string `json:"entity_name"`
		}
		if err := llm.DecodeStrict(call.Input, &in); err != nil || strings.TrimSpace(in.EntityName) == "" {
			return errorOutput("entity_name is required"), true
		}
		res, err := s.agent.graph.Check(ctx, s.in.UserID, in.EntityName)
		if err != nil {
			s.agent.logger.Warn("knowledge check failed", "user_id", s.in.UserID, "entity", in.EntityName, "error", err)
			return errorOutput(err.Error()), true
		}
		return jsonOutput(map[string]any{"known": res.Known, "confidence": res.Confidence}), false

	case toolGetSignalDetails:
		idx, errOut := s.indexInput(call.Input)
		if errOut != "" {
			return errOut, true
		}
		c := s.in.Candidates[idx]
		return jsonOutput(map[string]any{
			"signal_index":           idx,
			"title":                  c.Signal.Title,
			"source_url":             c.Signal.SourceURL,
			"layer":                  c.Signal.Layer,
			"published_at":           c.Signal.PublishedAt.Format(time.RFC3339),
			"trigger_reason":         c.Provenance.TriggerReason,
			"profile_reference":      c.Provenance.ProfileReference,
			"summary":                c.Signal.Summary,
			"content":                tokenizer.TruncateToTokenBudget(c.Signal.Content, detailContentBudget),
			"relevance":              c.Relevance.TotalScore,
			"novelty":                c.Novelty.TotalNovelty,
			"matched_known_entities": c.Novelty.MatchedKnownEntities,
			"novel_elements":         c.Novelty.NovelElements,
		}), false

	case toolCheckExposureHistory:
		idx, errOut := s.indexInput(call.Input)
		if errOut != "" {
			return errOut, true
		}
		exposures, err := s.loadExposures(ctx)
		if err != nil {
			s.agent.logger.Warn("exposure lookup failed", "user_id", s.in.UserID, "error", err)
			return errorOutput(err.Error()), true
		}
		c := s.in.Candidates[idx]
		out := map[string]any{
			"previously_delivered":   false,
			"deliveries_total":       len(exposures),
			"matched_known_entities": c.Novelty.MatchedKnownEntities,
		}
		var last time.Time
		for i := range exposures {
			if exposures[i].SignalID == c.Signal.ID {
				out["previously_delivered"] = true
				if exposures[i].DeliveredAt.After(last) {
					last = exposures[i].DeliveredAt
				}
			}
		}
		if !last.IsZero() {
			out["last_delivered_at"] = last.Format(time.RFC3339)
		}
		return jsonOutput(out), false
	}
	return errorOutput(fmt.Sprintf("unknown tool %q", call.Name)), true
}

func (s *session) indexInput(raw json.RawMessage) (int, string) {
	var in struct {
		SignalIndex *int `json:"signal_index"`
	}
	if err := llm.DecodeStrict(raw, &in); err != nil || in.SignalIndex == nil {
		return 0, errorOutput("signal_index is required")
	}
	if *in.SignalIndex < 0 || *in.SignalIndex >= s.shown {
		return 0, errorOutput(fmt.Sprintf("signal_index %d out of range [0,%d)", *in.SignalIndex, s.shown))
	}
	return *in.SignalIndex, ""
}

func (s *session) loadExposures(ctx context.Context) ([]models.ExposureRecord, error) {
	if s.exposuresLoaded || s.agent.exposures == nil {
		return s.exposures, nil
	}
	recs, err := s.agent.exposures.ListExposures(ctx, s.in.UserID)
	if err != nil {
		return nil, fmt.Errorf("listing exposures: %w", err)
	}
	s.exposures = recs
	s.exposuresLoaded = true
	return recs, nil
}

func jsonOutput(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return errorOutput(err.Error())
	}
	return string(b)
}

func errorOutput(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}
