package agent

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
	"github.com/ajitpratap0/openclaw-briefing/pkg/tokenizer"
	"github.com/ajitpratap0/openclaw-briefing/pkg/xmlutil"
)

const agentSystemPrompt = `You are the editor of a short daily intelligence briefing for one professional reader.
You pick the few candidate items that are genuinely new and useful to this reader.
Use the tools to verify novelty before committing: check_knowledge_graph tells you whether the reader already knows an entity.
Finish by calling submit_selections exactly once. Never invent candidates.`

// agentPromptTemplate carries profile and candidates inside XML tags so
// ingested text cannot pose as instructions.
const agentPromptTemplate = `<reader>
Role: %s
Company: %s
Industry: %s
Topics: %s
Initiatives: %s
Concerns: %s
Intelligence goals: %s
</reader>

<candidates>
%s
</candidates>

Select at most %d candidates by index. For each give:
- reason: one sentence on why it matters to this reader
- reason_label: a short label such as "Initiative Match", "Concern Match", "Competitor Move", "Goal Progress"
- confidence: 0 to 1
- novelty_assessment: what is new here for this reader
- attribution: the source to credit

Submit an empty list if nothing clears the bar.`

// promptOverhead reserves room for everything but the candidate list.
const promptOverhead = 800

// buildPrompt renders the user prompt and reports how many candidates fit
// within the token budget.
func (a *Agent) buildPrompt(in Input) (string, int) {
	lines := make([]string, 0, len(in.Candidates))
	for i := range in.Candidates {
		c := in.Candidates[i]
		lines = append(lines, fmt.Sprintf("[%d] %s\n    layer=%s trigger=%s published=%s relevance=%.2f novelty=%.2f\n    %s",
			i,
			xmlutil.Escape(c.Signal.Title),
			c.Signal.Layer,
			c.Provenance.TriggerReason,
			c.Signal.PublishedAt.Format("2006-01-02"),
			c.Relevance.TotalScore,
			c.Novelty.TotalNovelty,
			xmlutil.Escape(tokenizer.TruncateToTokenBudget(c.Signal.Summary, 80)),
		))
	}
	budget := a.opts.PromptTokenLimit - promptOverhead
	list, shown := tokenizer.FitWithinBudget(lines, budget, "\n")
	if shown == 0 && len(lines) > 0 {
		list, shown = lines[0], 1
	}

	p := in.Profile
	prompt := fmt.Sprintf(agentPromptTemplate,
		xmlutil.Escape(p.Role),
		xmlutil.Escape(p.Company),
		xmlutil.Escape(p.Industry),
		joinEscaped(p.Topics),
		joinEscaped(p.Initiatives),
		joinEscaped(p.Concerns),
		joinEscaped(p.IntelligenceGoals),
		list,
		a.opts.TargetSelections,
	)
	if shown < len(lines) {
		a.logger.Info("candidate list truncated to prompt budget", "user_id", in.UserID, "shown", shown, "candidates", len(lines))
	}
	return prompt, shown
}

func joinEscaped(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = xmlutil.Escape(s)
	}
	return strings.Join(out, "; ")
}

// SelectedSignals maps selections back to their candidates' signals.
func SelectedSignals(in Input, sels []Selection) []models.Signal {
	out := make([]models.Signal, 0, len(sels))
	for _, s := range sels {
		if s.SignalIndex >= 0 && s.SignalIndex < len(in.Candidates) {
			out = append(out, in.Candidates[s.SignalIndex].Signal)
		}
	}
	return out
}
