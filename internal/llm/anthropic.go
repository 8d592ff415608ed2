package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient is the Anthropic provider. It serves text generation only;
// tools are not bound on this path, so the orchestration loop always takes
// the no-tool branch for claude models.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}
	return &AnthropicClient{client: anthropic.NewClient(option.WithAPIKey(apiKey))}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Generate sends a messages request. System instructions are folded into the
// first user message; tool-result messages are rendered as user text so a
// second-phase call still carries the tool outcome.
func (c *AnthropicClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	var system string
	var messages []anthropic.MessageParam
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system = msg.Content
			continue
		case RoleTool:
			messages = append(messages, textMessage(anthropic.MessageParamRoleUser, "Tool result: "+msg.Content))
			continue
		}

		role := anthropic.MessageParamRoleUser
		if msg.Role == RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		content := msg.Content
		if content == "" {
			continue
		}
		messages = append(messages, textMessage(role, content))
	}

	if system != "" && len(messages) > 0 {
		messages[0] = prependSystem(messages[0], system)
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(model),
		MaxTokens: anthropic.F(int64(maxTokens)),
		Messages:  anthropic.F(messages),
	})
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content.WriteString(block.Text)
		}
	}

	in := int(resp.Usage.InputTokens)
	out := int(resp.Usage.OutputTokens)

	return &Response{
		Content: content.String(),
		Model:   resp.Model,
		Usage: Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		},
		StopReason: string(resp.StopReason),
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

func textMessage(role anthropic.MessageParamRole, text string) anthropic.MessageParam {
	return anthropic.MessageParam{
		Role: anthropic.F(role),
		Content: anthropic.F([]anthropic.ContentBlockParamUnion{
			anthropic.TextBlockParam{
				Type: anthropic.F(anthropic.TextBlockParamTypeText),
				Text: anthropic.F(text),
			},
		}),
	}
}

func prependSystem(msg anthropic.MessageParam, system string) anthropic.MessageParam {
	return anthropic.MessageParam{
		Role: msg.Role,
		Content: anthropic.F([]anthropic.ContentBlockParamUnion{
			anthropic.TextBlockParam{
				Type: anthropic.F(anthropic.TextBlockParamTypeText),
				Text: anthropic.F(system),
			},
			anthropic.TextBlockParam{
				Type: anthropic.F(anthropic.TextBlockParamTypeText),
				Text: anthropic.F(extractText(msg)),
			},
		}),
	}
}

// extractText pulls the text of a single-block message built by textMessage.
func extractText(msg anthropic.MessageParam) string {
	blocks := msg.Content.Value
	if len(blocks) == 0 {
		return ""
	}
	if tb, ok := blocks[0].(anthropic.TextBlockParam); ok {
		return tb.Text.Value
	}
	return ""
}
