// Package llm wraps the language-model provider behind a small interface so
// the agent, composer and knowledge engine can be driven by scripted fakes in
// tests.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrInvalidResponse is returned when a model response fails schema validation.
var ErrInvalidResponse = errors.New("invalid model response")

// Role is the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolSpec describes a callable tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	// Properties is the JSON-schema "properties" object of the tool input.
	Properties map[string]any
	Required   []string
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult answers a ToolCall on the next user turn.
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// Message is one conversation turn. Assistant turns may carry ToolCalls,
// user turns may carry ToolResults.
type Message struct {
	Role        Role
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// Request is a single model invocation.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int64
}

// Usage counts tokens for one invocation.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Add accumulates another usage into u.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
}

// Response is the model's reply.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
}

// Client sends a request to a language model.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// UserText is a convenience constructor for a plain user turn.
func UserText(text string) Message {
	return Message{Role: RoleUser, Text: text}
}
