// Package llm provides model-provider clients for reply generation.
package llm

import (
	"context"
	"encoding/json"
)

// ToolDef describes one tool bound to a generation request. Parameters is a
// JSON Schema object.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message roles mirror the chat-completion wire roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a provider-agnostic chat message. ToolCalls is set on assistant
// messages that requested tools; ToolCallID links a tool-result message back
// to the call it answers.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Request is one generation request.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDef
	MaxTokens   int
	Temperature float64
}

// Usage is the token accounting for one generation; zero-filled when the
// provider omits it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the provider's answer: plain text, or one or more requested
// tool calls. Callers honor only the first tool call.
type Response struct {
	Content    string
	ToolCalls  []ToolCall
	Model      string
	Usage      Usage
	StopReason string
	LatencyMs  int64
}

// Client is the interface for model providers.
type Client interface {
	// Generate sends one request and returns the response.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// Name returns the provider name.
	Name() string
}

// Factory selects a provider client by tenant-configured model id, falling
// back to the default provider for unrecognized identifiers.
type Factory struct {
	openai    Client
	anthropic Client
}

// NewFactory creates a provider factory. Either client may be nil when the
// corresponding API key is not configured.
func NewFactory(openaiClient, anthropicClient Client) *Factory {
	return &Factory{openai: openaiClient, anthropic: anthropicClient}
}

// ForModel returns the client serving the given model id. Claude model ids
// route to Anthropic when configured; everything else, including unknown
// ids, uses the OpenAI default.
func (f *Factory) ForModel(model string) Client {
	if isClaudeModel(model) && f.anthropic != nil {
		return f.anthropic
	}
	if f.openai != nil {
		return f.openai
	}
	return f.anthropic
}

func isClaudeModel(model string) bool {
	return len(model) >= 6 && model[:6] == "claude"
}
