package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ScriptedClient replays a fixed sequence of responses. It is used by tests
// across packages in place of a live model.
type ScriptedClient struct {
	mu        sync.Mutex
	steps     []ScriptStep
	requests  []Request
	exhausted error
}

// ScriptStep is one scripted reply: either a response or an error.
type ScriptStep struct {
	Response *Response
	Err      error
}

var _ Client = (*ScriptedClient)(nil)

// NewScriptedClient creates a client that returns steps in order.
func NewScriptedClient(steps ...ScriptStep) *ScriptedClient {
	return &ScriptedClient{steps: steps, exhausted: fmt.Errorf("scripted client: no more responses")}
}

// Complete records req and returns the next scripted step.
func (s *ScriptedClient) Complete(_ context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return nil, s.exhausted
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step.Response, step.Err
}

// Requests returns every request received so far.
func (s *ScriptedClient) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Remaining reports how many scripted steps are unused.
func (s *ScriptedClient) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

// TextStep builds a step replying with plain text.
func TextStep(text string, in, out int64) ScriptStep {
	return ScriptStep{Response: &Response{Text: text, StopReason: "end_turn", Usage: Usage{InputTokens: in, OutputTokens: out}}}
}

// ToolStep builds a step replying with a single tool call whose input is
// the JSON encoding of input.
func ToolStep(id, name string, input any, in, out int64) ScriptStep {
	raw, err := json.Marshal(input)
	if err != nil {
		panic(err)
	}
	return ScriptStep{Response: &Response{
		ToolCalls:  []ToolCall{{ID: id, Name: name, Input: raw}},
		StopReason: "tool_use",
		Usage:      Usage{InputTokens: in, OutputTokens: out},
	}}
}

// ErrStep builds a step that fails with err.
func ErrStep(err error) ScriptStep {
	return ScriptStep{Err: err}
}
