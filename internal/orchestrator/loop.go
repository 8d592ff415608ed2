package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-orchestrator/internal/llm"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/metrics"
)

// phase names the states of the generation cycle. The cycle is bounded to
// exactly one tool round trip: awaitingModel may transition to
// awaitingToolResult at most once before reaching done.
type phase string

const (
	phaseAwaitingModel      phase = "awaiting_model"
	phaseAwaitingToolResult phase = "awaiting_tool_result"
	phaseDone               phase = "done"
)

// Input carries everything one reply generation needs. Tools is built fresh
// per request; the engine holds no per-request state.
type Input struct {
	UserText     string
	History      []llm.Message
	Summary      string
	SystemPrompt string
	Params       model.GenerationParams
	Tools        ToolContext
}

// Reply is the outcome of one generation cycle. When Success is false the
// caller must not send anything to the user.
type Reply struct {
	Text           string
	Model          string
	Summary        string
	ToolCalls      []llm.ToolCall
	ToolResults    []map[string]any
	Usage          llm.Usage
	GenerationTime time.Duration
	Success        bool
	Err            error

	// Transition accounting, used to verify loop boundedness.
	ModelInvocations int
	ToolInvocations  int
	Phases           []string
}

// Engine drives the two-phase reason-then-act protocol against a model
// provider.
type Engine struct {
	factory  *llm.Factory
	registry *Registry
	logger   *logger.Logger
}

// NewEngine creates a generation engine.
func NewEngine(factory *llm.Factory, registry *Registry, log *logger.Logger) *Engine {
	return &Engine{factory: factory, registry: registry, logger: log}
}

const defaultSystemPrompt = "You are a helpful assistant for a business, replying to customers over chat. " +
	"Answer concisely in the customer's language. Use the available tools to look up products " +
	"and company information instead of guessing. If the customer asks for a human, use the handoff tool."

// Reply produces a reply to one user message. All failures are caught at
// this boundary and surface as Success=false with empty text and summary.
func (e *Engine) Reply(ctx context.Context, in Input) (reply *Reply) {
	start := time.Now()
	reply = &Reply{Phases: []string{string(phaseAwaitingModel)}}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("generation panic", zap.Any("panic", r))
			*reply = Reply{
				Success:          false,
				Err:              fmt.Errorf("generation panic: %v", r),
				GenerationTime:   time.Since(start),
				ModelInvocations: reply.ModelInvocations,
				ToolInvocations:  reply.ToolInvocations,
				Phases:           reply.Phases,
			}
		}
	}()

	client := e.factory.ForModel(in.Params.Model)
	if client == nil {
		reply.Err = fmt.Errorf("no model provider configured")
		reply.GenerationTime = time.Since(start)
		return reply
	}

	messages := e.buildMessages(in)

	req := &llm.Request{
		Model:       in.Params.Model,
		Messages:    messages,
		Tools:       e.registry.Definitions(),
		MaxTokens:   in.Params.MaxTokens,
		Temperature: in.Params.Temperature,
	}

	resp, err := client.Generate(ctx, req)
	reply.ModelInvocations++
	if err != nil {
		return e.fail(reply, start, in.Params.Model, err)
	}
	accumulateUsage(&reply.Usage, resp.Usage)
	reply.Model = resp.Model

	final := resp

	if len(resp.ToolCalls) > 0 {
		// First tool call only; extras are dropped by policy.
		call := resp.ToolCalls[0]
		reply.Phases = append(reply.Phases, string(phaseAwaitingToolResult))
		reply.ToolCalls = []llm.ToolCall{call}

		result := e.registry.Execute(ctx, in.Tools, call)
		reply.ToolInvocations++
		reply.ToolResults = append(reply.ToolResults, result)
		metrics.RecordToolExecution(call.Name, toolStatus(result))

		resultJSON, merr := json.Marshal(result)
		if merr != nil {
			resultJSON = []byte(fmt.Sprintf(`{"error":%q}`, merr.Error()))
		}

		second := append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: []llm.ToolCall{call}},
			llm.Message{Role: llm.RoleTool, Content: string(resultJSON), ToolCallID: call.ID},
		)

		req2 := &llm.Request{
			Model:       in.Params.Model,
			Messages:    second,
			Tools:       e.registry.Definitions(),
			MaxTokens:   in.Params.MaxTokens,
			Temperature: in.Params.Temperature,
		}

		final, err = client.Generate(ctx, req2)
		reply.ModelInvocations++
		if err != nil {
			return e.fail(reply, start, in.Params.Model, err)
		}
		accumulateUsage(&reply.Usage, final.Usage)
		if final.Model != "" {
			reply.Model = final.Model
		}
	}

	reply.Phases = append(reply.Phases, string(phaseDone))
	reply.Text = final.Content
	reply.Success = true
	reply.GenerationTime = time.Since(start)

	memory := NewSummaryMemory(in.Summary)
	memory.AppendTurn(in.UserText, reply.Text)
	reply.Summary = memory.Summary()

	metrics.RecordGeneration(reply.Model, "success", reply.GenerationTime.Seconds(),
		reply.Usage.PromptTokens, reply.Usage.CompletionTokens)

	return reply
}

func (e *Engine) buildMessages(in Input) []llm.Message {
	system := in.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}

	summary := in.Summary
	if summary == "" {
		summary = noPriorContext
	}
	system += "\n\nConversation summary so far:\n" + summary

	messages := make([]llm.Message, 0, len(in.History)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	messages = append(messages, in.History...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: in.UserText})
	return messages
}

func (e *Engine) fail(reply *Reply, start time.Time, modelID string, err error) *Reply {
	e.logger.Warn("generation failed", zap.String("model", modelID), zap.Error(err))
	metrics.RecordGeneration(modelID, "error", time.Since(start).Seconds(), 0, 0)

	reply.Success = false
	reply.Err = err
	reply.Text = ""
	reply.Summary = ""
	reply.GenerationTime = time.Since(start)
	return reply
}

func accumulateUsage(total *llm.Usage, u llm.Usage) {
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
	if total.TotalTokens == 0 {
		total.TotalTokens = total.PromptTokens + total.CompletionTokens
	}
}

func toolStatus(result map[string]any) string {
	if _, failed := result["error"]; failed {
		return "error"
	}
	return "success"
}
