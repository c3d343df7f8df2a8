// Package agent runs the LLM tool-calling loop that picks the few candidate
// signals worth a briefing. The loop is an explicit state machine with a hard
// round budget; the model ends it by calling submit_selections.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ajitpratap0/openclaw-briefing/internal/config"
	"github.com/ajitpratap0/openclaw-briefing/internal/knowledge"
	"github.com/ajitpratap0/openclaw-briefing/internal/llm"
	"github.com/ajitpratap0/openclaw-briefing/internal/metrics"
	"github.com/ajitpratap0/openclaw-briefing/internal/models"
	"github.com/ajitpratap0/openclaw-briefing/internal/scoring"
)

// ErrRoundBudgetExhausted is returned when the model used every allowed round
// without submitting selections.
var ErrRoundBudgetExhausted = errors.New("scoring agent round budget exhausted")

// KnowledgeChecker answers check_knowledge_graph.
type KnowledgeChecker interface {
	Check(ctx context.Context, userID, name string) (*knowledge.CheckResult, error)
}

// ExposureLister answers check_exposure_history.
type ExposureLister interface {
	ListExposures(ctx context.Context, userID string) ([]models.ExposureRecord, error)
}

// Selection is one candidate the model chose, with its justification.
type Selection struct {
	SignalIndex       int      `json:"signal_index"`
	Reason            string   `json:"reason"`
	ReasonLabel       string   `json:"reason_label"`
	Confidence        float64  `json:"confidence"`
	NoveltyAssessment string   `json:"novelty_assessment"`
	Attribution       string   `json:"attribution"`
	ToolsUsed         []string `json:"tools_used"`
}

// ToolCallRecord is one audited tool invocation.
type ToolCallRecord struct {
	Round    int             `json:"round"`
	Tool     string          `json:"tool"`
	Input    json.RawMessage `json:"input"`
	Output   string          `json:"output"`
	IsError  bool            `json:"is_error"`
	Duration time.Duration   `json:"duration"`
}

// Input is everything one selection run needs.
type Input struct {
	UserID     string
	Profile    models.UserProfile
	Candidates []scoring.Candidate
}

// Result is the agent's output. Selections may be empty, meaning the model
// found nothing worth surfacing.
type Result struct {
	Selections  []Selection      `json:"selections"`
	ToolCallLog []ToolCallRecord `json:"tool_call_log"`
	Usage       llm.Usage        `json:"usage"`
	Rounds      int              `json:"rounds"`
	Attempts    int              `json:"attempts"`
}

// Options configures the agent.
type Options struct {
	Model            string
	TargetSelections int
	MaxToolRounds    int
	PromptTokenLimit int
	// SchemaRetries is how many times a run is restarted after the model
	// submits output that fails validation.
	SchemaRetries int
	MaxTokens     int64
}

// OptionsFromConfig builds agent options from config.
func OptionsFromConfig(c *config.Config) Options {
	return Options{
		Model:            c.Claude.Model,
		TargetSelections: c.Agent.TargetSelections,
		MaxToolRounds:    c.Agent.MaxToolRounds,
		PromptTokenLimit: c.Agent.PromptTokenLimit,
		SchemaRetries:    c.Claude.MaxRetries,
		MaxTokens:        c.Claude.MaxTokens,
	}
}

type state int

const (
	stateAwaitingModel state = iota
	stateExecutingTools
	stateTerminal
)

func (s state) String() string {
	switch s {
	case stateAwaitingModel:
		return "awaiting-model"
	case stateExecutingTools:
		return "executing-tools"
	case stateTerminal:
		return "terminal"
	}
	return "unknown"
}

// Agent selects briefing items from a candidate pool.
type Agent struct {
	client    llm.Client
	graph     KnowledgeChecker
	exposures ExposureLister
	opts      Options
	logger    *slog.Logger
}

// New creates an agent. exposures may be nil, in which case
// check_exposure_history reports no prior deliveries.
func New(client llm.Client, graph KnowledgeChecker, exposures ExposureLister, opts Options, logger *slog.Logger) *Agent {
	if opts.TargetSelections <= 0 {
		opts.TargetSelections = config.DefaultTargetSelections
	}
	if opts.TargetSelections > models.MaxBriefingItems {
		opts.TargetSelections = models.MaxBriefingItems
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = config.DefaultMaxToolRounds
	}
	if opts.PromptTokenLimit <= 0 {
		opts.PromptTokenLimit = 12000
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		client:    client,
		graph:     graph,
		exposures: exposures,
		opts:      opts,
		logger:    logger.With("component", "scoring_agent"),
	}
}

// Select runs the tool loop over the candidates. Output that fails
// validation restarts the run up to SchemaRetries times; token usage is
// summed over every round of every attempt.
func (a *Agent) Select(ctx context.Context, in Input) (*Result, error) {
	if len(in.Candidates) == 0 {
		return &Result{}, nil
	}
	var usage llm.Usage
	for attempt := 0; ; attempt++ {
		res, err := a.run(ctx, in, &usage)
		if err == nil {
			res.Usage = usage
			res.Attempts = attempt + 1
			a.logger.Info("selections submitted",
				"user_id", in.UserID,
				"selections", len(res.Selections),
				"rounds", res.Rounds,
				"tool_calls", len(res.ToolCallLog),
				"prompt_tokens", usage.InputTokens,
				"completion_tokens", usage.OutputTokens,
			)
			return res, nil
		}
		if !errors.Is(err, llm.ErrInvalidResponse) || attempt >= a.opts.SchemaRetries {
			return nil, fmt.Errorf("scoring agent for %s: %w", in.UserID, err)
		}
		a.logger.Warn("invalid selections, restarting", "user_id", in.UserID, "attempt", attempt+1, "error", err)
	}
}

// run drives one pass of the state machine.
func (a *Agent) run(ctx context.Context, in Input, usage *llm.Usage) (*Result, error) {
	prompt, shown := a.buildPrompt(in)
	sess := &session{agent: a, in: in, shown: shown}
	conv := []llm.Message{llm.UserText(prompt)}
	res := &Result{}

	st := stateAwaitingModel
	var pending []llm.ToolCall
	for st != stateTerminal {
		a.logger.Debug("agent state", "state", st.String(), "round", res.Rounds)
		switch st {
		case stateAwaitingModel:
			if res.Rounds >= a.opts.MaxToolRounds {
				return nil, fmt.Errorf("%w after %d rounds", ErrRoundBudgetExhausted, res.Rounds)
			}
			res.Rounds++
			resp, err := a.client.Complete(ctx, llm.Request{
				Model:     a.opts.Model,
				System:    agentSystemPrompt,
				Messages:  conv,
				Tools:     toolSpecs(a.opts.TargetSelections),
				MaxTokens: a.opts.MaxTokens,
			})
			if err != nil {
				return nil, fmt.Errorf("round %d: %w", res.Rounds, err)
			}
			usage.Add(resp.Usage)
			metrics.AddTokens("agent", resp.Usage.InputTokens, resp.Usage.OutputTokens)
			a.logger.Debug("agent response", "round", res.Rounds, "text", resp.Text, "tool_calls", len(resp.ToolCalls))
			conv = append(conv, llm.Message{Role: llm.RoleAssistant, Text: resp.Text, ToolCalls: resp.ToolCalls})

			if len(resp.ToolCalls) == 0 {
				// A bare JSON answer is accepted in place of the terminal tool.
				sels, err := sess.parseSelections([]byte(llm.StripCodeFences(resp.Text)))
				if err != nil {
					return nil, err
				}
				res.Selections = sels
				st = stateTerminal
				continue
			}
			pending = resp.ToolCalls
			st = stateExecutingTools

		case stateExecutingTools:
			var results []llm.ToolResult
			var submitted []Selection
			terminal := false
			for _, call := range pending {
				if call.Name == toolSubmitSelections {
					sels, err := sess.parseSubmit(call.Input)
					if err != nil {
						return nil, err
					}
					submitted = sels
					terminal = true
					res.ToolCallLog = append(res.ToolCallLog, ToolCallRecord{
						Round: res.Rounds, Tool: call.Name, Input: call.Input,
						Output: fmt.Sprintf("accepted %d selections", len(sels)),
					})
					metrics.AgentToolCalls.WithLabelValues(call.Name).Inc()
					continue
				}
				start := time.Now()
				out, isErr := sess.execute(ctx, call)
				res.ToolCallLog = append(res.ToolCallLog, ToolCallRecord{
					Round: res.Rounds, Tool: call.Name, Input: call.Input,
					Output: out, IsError: isErr, Duration: time.Since(start),
				})
				metrics.AgentToolCalls.WithLabelValues(call.Name).Inc()
				results = append(results, llm.ToolResult{CallID: call.ID, Content: out, IsError: isErr})
			}
			pending = nil
			if terminal {
				res.Selections = submitted
				st = stateTerminal
				continue
			}
			conv = append(conv, llm.Message{Role: llm.RoleUser, ToolResults: results})
			st = stateAwaitingModel
		}
	}

	fillToolsUsed(res)
	return res, nil
}

// fillToolsUsed records the distinct lookup tools the run called on any
// selection the model left without a tools_used list.
func fillToolsUsed(res *Result) {
	var used []string
	seen := map[string]bool{}
	for _, rec := range res.ToolCallLog {
		if rec.Tool == toolSubmitSelections || seen[rec.Tool] {
			continue
		}
		seen[rec.Tool] = true
		used = append(used, rec.Tool)
	}
	for i := range res.Selections {
		if len(res.Selections[i].ToolsUsed) == 0 && len(used) > 0 {
			res.Selections[i].ToolsUsed = append([]string(nil), used...)
		}
	}
}
