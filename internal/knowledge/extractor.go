package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ajitpratap0/openclaw-briefing/internal/llm"
	"github.com/ajitpratap0/openclaw-briefing/internal/metrics"
	"github.com/ajitpratap0/openclaw-briefing/internal/models"
	"github.com/ajitpratap0/openclaw-briefing/pkg/xmlutil"
)

const extractorMaxTokens = 1024

// entityExtractionPromptTemplate asks for entities in delivered briefing text.
// Content is injected inside an XML tag to prevent prompt injection.
const entityExtractionPromptTemplate = `You are an entity extraction system for a personalized news briefing.

Identify the named entities a reader would learn about from the text below.

For each entity provide:
- name: The canonical name of the entity
- type: One of "company", "person", "concept", "term", "product", "event", "fact"
- description: One short phrase describing it (may be empty)

Return a JSON array of objects with exactly those keys. If no notable entities are found, return [].

<content>%s</content>

Extract entities as JSON array:`

// Extractor identifies entities in text using a language model.
type Extractor struct {
	client llm.Client
	logger *slog.Logger
}

// NewExtractor creates an extractor on the given client.
func NewExtractor(client llm.Client, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{client: client, logger: logger}
}

// Extract returns the entities named in content. On a model transport error
// it logs a warning and returns (nil, nil) so delivery bookkeeping can proceed.
func (x *Extractor) Extract(ctx context.Context, content string) ([]models.ExtractedEntity, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	resp, err := x.client.Complete(ctx, llm.Request{
		System:    "You are a precise entity extraction system. Output only valid JSON.",
		Messages:  []llm.Message{llm.UserText(fmt.Sprintf(entityExtractionPromptTemplate, xmlutil.Escape(content)))},
		MaxTokens: extractorMaxTokens,
	})
	if err != nil {
		x.logger.Warn("entity extraction: model error, skipping", "error", err)
		return nil, nil
	}
	metrics.AddTokens("extractor", resp.Usage.InputTokens, resp.Usage.OutputTokens)
	x.logger.Debug("entity extraction response", "response", resp.Text)

	var raw []models.ExtractedEntity
	if err := llm.DecodeText(resp.Text, &raw); err != nil {
		return nil, fmt.Errorf("entity extraction: %w", err)
	}

	out := make([]models.ExtractedEntity, 0, len(raw))
	for i := range raw {
		name := strings.TrimSpace(raw[i].Name)
		if name == "" {
			continue
		}
		et := models.EntityType(strings.ToLower(string(raw[i].Type)))
		if !et.IsValid() {
			x.logger.Warn("entity extraction: unknown entity type, defaulting to concept",
				"type", raw[i].Type, "name", name)
			et = models.EntityTypeConcept
		}
		out = append(out, models.ExtractedEntity{Name: name, Type: et, Description: strings.TrimSpace(raw[i].Description)})
	}
	x.logger.Info("extracted entities", "count", len(out))
	return out, nil
}
