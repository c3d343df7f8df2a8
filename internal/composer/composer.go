// Package composer turns the agent's selections into briefing prose. When
// the model fails or returns output that does not validate, items are built
// directly from signal text so selections are never dropped.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/ajitpratap0/openclaw-briefing/internal/agent"
	"github.com/ajitpratap0/openclaw-briefing/internal/llm"
	"github.com/ajitpratap0/openclaw-briefing/internal/metrics"
	"github.com/ajitpratap0/openclaw-briefing/internal/models"
	"github.com/ajitpratap0/openclaw-briefing/internal/scoring"
	"github.com/ajitpratap0/openclaw-briefing/pkg/tokenizer"
	"github.com/ajitpratap0/openclaw-briefing/pkg/xmlutil"
)

const (
	composeMaxTokens     = 2048
	composeContentBudget = 350
)

// composePromptTemplate asks for one item per selection, in order.
// Signal text is injected inside XML tags to prevent prompt injection.
const composePromptTemplate = `Write a daily briefing for a %s in %s.

For each selected item below write one entry with:
- topic: a short headline (under 10 words)
- content: one or two plain sentences on what happened and why it matters to this reader
- source_url: the item's URL, unchanged
- source_label: the publication or sender name
- attribution: who reported or said it

Return a JSON array with exactly %d objects, one per item, in the same order, using exactly those keys.

%s

Briefing entries as JSON array:`

// Item is one composed entry as returned by the model.
type Item struct {
	Topic       string `json:"topic"`
	Content     string `json:"content"`
	SourceURL   string `json:"source_url"`
	SourceLabel string `json:"source_label"`
	Attribution string `json:"attribution"`
}

// Result is the composed briefing body.
type Result struct {
	Items    []models.BriefingItem
	Usage    llm.Usage
	Fallback bool
	// FallbackReason explains why the deterministic path was taken.
	FallbackReason string
}

// Composer writes briefing items.
type Composer struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

// New creates a composer. An empty model uses the client's default.
func New(client llm.Client, model string, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{client: client, model: model, logger: logger.With("component", "composer")}
}

// Compose writes one briefing item per selection. It never fails: any model
// or validation error falls back to items built from the signal text, which
// keep the agent's reason and label.
func (c *Composer) Compose(ctx context.Context, profile models.UserProfile, sels []agent.Selection, candidates []scoring.Candidate) *Result {
	picks := make([]picked, 0, len(sels))
	for _, s := range sels {
		if s.SignalIndex < 0 || s.SignalIndex >= len(candidates) {
			c.logger.Warn("selection references missing candidate", "signal_index", s.SignalIndex)
			continue
		}
		picks = append(picks, picked{sel: s, signal: candidates[s.SignalIndex].Signal})
	}
	res := &Result{}
	if len(picks) == 0 {
		return res
	}

	items, usage, err := c.generate(ctx, profile, picks)
	res.Usage = usage
	if err != nil {
		metrics.ComposerFallbacks.Inc()
		c.logger.Warn("composition failed, using fallback", "user_id", profile.UserID, "error", err)
		res.Fallback = true
		res.FallbackReason = err.Error()
		res.Items = fallbackItems(picks)
		return res
	}
	res.Items = mergeItems(picks, items)
	return res
}

type picked struct {
	sel    agent.Selection
	signal models.Signal
}

func (c *Composer) generate(ctx context.Context, profile models.UserProfile, items []picked) ([]Item, llm.Usage, error) {
	var usage llm.Usage
	var blocks strings.Builder
	for i, p := range items {
		fmt.Fprintf(&blocks, "<item number=\"%d\">\n", i+1)
		for _, el := range [][2]string{
			{"title", p.signal.Title},
			{"url", displayURL(p.signal)},
			{"source", sourceLabel(p.signal)},
			{"why", p.sel.Reason},
			{"text", tokenizer.TruncateToTokenBudget(bodyText(p.signal), composeContentBudget)},
		} {
			blocks.WriteString(xmlutil.Element(el[0], el[1]))
			blocks.WriteByte('\n')
		}
		blocks.WriteString("</item>\n")
	}
	role := profile.Role
	if role == "" {
		role = "professional"
	}
	industry := profile.Industry
	if industry == "" {
		industry = "their industry"
	}
	prompt := fmt.Sprintf(composePromptTemplate, xmlutil.Escape(role), xmlutil.Escape(industry), len(items), blocks.String())

	resp, err := c.client.Complete(ctx, llm.Request{
		Model:     c.model,
		System:    "You write concise, factual briefing entries. Output only valid JSON.",
		Messages:  []llm.Message{llm.UserText(prompt)},
		MaxTokens: composeMaxTokens,
	})
	if err != nil {
		return nil, usage, fmt.Errorf("composing briefing: %w", err)
	}
	usage = resp.Usage
	metrics.AddTokens("composer", resp.Usage.InputTokens, resp.Usage.OutputTokens)
	c.logger.Debug("composer response", "text", resp.Text)

	var out []Item
	if err := llm.DecodeText(resp.Text, &out); err != nil {
		return nil, usage, err
	}
	if len(out) != len(items) {
		return nil, usage, fmt.Errorf("%w: %d items for %d selections", llm.ErrInvalidResponse, len(out), len(items))
	}
	for i := range out {
		if strings.TrimSpace(out[i].Content) == "" {
			return nil, usage, fmt.Errorf("%w: item %d has empty content", llm.ErrInvalidResponse, i+1)
		}
	}
	return out, usage, nil
}

// mergeItems combines model prose with the selection and signal it came
// from. Traceability fields always come from the signal.
func mergeItems(picks []picked, items []Item) []models.BriefingItem {
	out := make([]models.BriefingItem, len(picks))
	for i, p := range picks {
		it := items[i]
		bi := baseItem(i, p)
		if t := strings.TrimSpace(it.Topic); t != "" {
			bi.Topic = t
		}
		bi.Content = strings.TrimSpace(it.Content)
		if l := strings.TrimSpace(it.SourceLabel); l != "" {
			bi.SourceLabel = l
		}
		if a := strings.TrimSpace(it.Attribution); a != "" {
			bi.Attribution = a
		}
		out[i] = bi
	}
	return out
}

// fallbackItems renders each selection straight from its signal.
func fallbackItems(picks []picked) []models.BriefingItem {
	out := make([]models.BriefingItem, len(picks))
	for i, p := range picks {
		bi := baseItem(i, p)
		bi.Content = strings.TrimSpace(p.signal.Summary)
		if bi.Content == "" {
			bi.Content = tokenizer.TruncateToTokenBudget(strings.TrimSpace(p.signal.Content), 80)
		}
		if bi.Content == "" {
			bi.Content = p.signal.Title
		}
		out[i] = bi
	}
	return out
}

func baseItem(i int, p picked) models.BriefingItem {
	attribution := strings.TrimSpace(p.sel.Attribution)
	if attribution == "" {
		attribution = sourceLabel(p.signal)
	}
	return models.BriefingItem{
		ID:              uuid.New().String(),
		ItemNumber:      i + 1,
		Reason:          p.sel.Reason,
		ReasonLabel:     p.sel.ReasonLabel,
		Topic:           p.signal.Title,
		SourceURL:       displayURL(p.signal),
		SourceLabel:     sourceLabel(p.signal),
		Attribution:     attribution,
		SourceSignalIDs: []string{p.signal.ID},
	}
}

// displayURL is the link a reader can follow. Newsletter signals carry a
// mailto identity for deduplication, so their primary link wins and a
// non-web identity is never shown.
func displayURL(sig models.Signal) string {
	if link := strings.TrimSpace(sig.Metadata["primary_link"]); link != "" {
		return link
	}
	if u, err := url.Parse(sig.SourceURL); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return sig.SourceURL
	}
	return ""
}

func bodyText(sig models.Signal) string {
	if strings.TrimSpace(sig.Content) != "" {
		return sig.Content
	}
	return sig.Summary
}

// sourceLabel names where a signal came from, preferring adapter metadata
// over the URL host.
func sourceLabel(sig models.Signal) string {
	for _, key := range []string{"source_name", "feed_label", "from"} {
		if v := strings.TrimSpace(sig.Metadata[key]); v != "" {
			return v
		}
	}
	if sig.Metadata["archive"] == "arxiv" {
		return "arXiv"
	}
	if u, err := url.Parse(sig.SourceURL); err == nil && u.Host != "" {
		return strings.TrimPrefix(u.Host, "www.")
	}
	return string(sig.Layer)
}
