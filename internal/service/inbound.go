// Package service wires the webhook pipeline: conversation upkeep, message
// dispatch, reply generation and channel sends.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-orchestrator/internal/apperr"
	"github.com/capitalize-ai/conversation-orchestrator/internal/catalog"
	"github.com/capitalize-ai/conversation-orchestrator/internal/channel"
	"github.com/capitalize-ai/conversation-orchestrator/internal/dispatch"
	"github.com/capitalize-ai/conversation-orchestrator/internal/llm"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/conversation-orchestrator/internal/store"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/metrics"
)

const historyLimit = 20

// ConversationStore is the persistence surface the pipeline needs.
type ConversationStore interface {
	EnsureConversation(ctx context.Context, schema string, p store.EnsureParams) (*model.Conversation, error)
	GetConversation(ctx context.Context, schema, participantID string) (*model.Conversation, error)
	TransferToHuman(ctx context.Context, schema, participantID string) error
	RecordBotTurn(ctx context.Context, schema, participantID, summary string, now time.Time) error
	RecordTemplateSent(ctx context.Context, schema, participantID, templateMessageID string, now time.Time) error
	AppendOutbound(ctx context.Context, schema string, msg *model.Message) (string, error)
	RecentMessages(ctx context.Context, schema, conversationID string, limit int) ([]model.Message, error)
	UpdateDeliveryStatus(ctx context.Context, schema, channelMessageID string, status model.DeliveryStatus) error
	FindByChannelMessageID(ctx context.Context, schema, channelMessageID string) (*model.Message, error)
}

// CatalogFactory builds a catalog client for one tenant. Separated so tests
// can inject a fake catalog.
type CatalogFactory func(cfg *model.TenantConfig) catalog.Service

// Inbound processes webhook traffic end to end for a resolved tenant.
type Inbound struct {
	store      ConversationStore
	dispatcher *dispatch.Dispatcher
	engine     *orchestrator.Engine
	transport  channel.Transport
	catalogFor CatalogFactory
	logger     *logger.Logger
}

// NewInbound creates the pipeline service.
func NewInbound(store ConversationStore, dispatcher *dispatch.Dispatcher, engine *orchestrator.Engine, transport channel.Transport, catalogFor CatalogFactory, log *logger.Logger) *Inbound {
	return &Inbound{
		store:      store,
		dispatcher: dispatcher,
		engine:     engine,
		transport:  transport,
		catalogFor: catalogFor,
		logger:     log,
	}
}

// HandleMessage runs one inbound message through the full pipeline. Errors
// never propagate a duplicate send: a failed step after storage logs and
// returns without replying.
func (s *Inbound) HandleMessage(ctx context.Context, cfg *model.TenantConfig, in dispatch.Inbound) error {
	log := s.logger.WithTenant(cfg.TenantID, in.From)

	// A retried delivery must not refresh the messaging window or touch the
	// conversation at all, so the duplicate check runs before the upsert. The
	// dispatcher repeats the check transactionally to settle races.
	existing, err := s.store.FindByChannelMessageID(ctx, cfg.Schema, in.ChannelMessageID)
	if err != nil {
		log.Warn("duplicate precheck failed, continuing", zap.Error(err))
	} else if existing != nil {
		if err := s.transport.MarkRead(ctx, in.ChannelMessageID, cfg.Channel); err != nil {
			log.Warn("mark read failed", zap.Error(err))
		}
		log.Debug("duplicate delivery, conversation untouched",
			zap.String("channel_message_id", in.ChannelMessageID))
		return nil
	}

	conv, err := s.store.EnsureConversation(ctx, cfg.Schema, store.EnsureParams{
		TenantID:      cfg.TenantID,
		ParticipantID: in.From,
		DisplayName:   in.ProfileName,
		Now:           time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}
	metrics.RecordMessage(cfg.TenantID, string(model.DirectionInbound))

	result := s.dispatcher.Dispatch(ctx, cfg.Schema, conv, in)
	if !result.Success {
		return fmt.Errorf("dispatch: %w", result.Err)
	}
	if result.ShouldMarkAsRead {
		if err := s.transport.MarkRead(ctx, in.ChannelMessageID, cfg.Channel); err != nil {
			log.Warn("mark read failed", zap.Error(err))
		}
	}
	if result.AlreadyProcessed {
		log.Debug("duplicate delivery, skipping generation",
			zap.String("channel_message_id", in.ChannelMessageID))
		return nil
	}

	// Only the bot path generates. Human-attended, closed and inactive
	// conversations store the message and stop.
	if conv.Status != model.StatusWithBot {
		log.Info("conversation not with bot, skipping generation",
			zap.String("status", string(conv.Status)))
		return nil
	}

	userText := previewOf(in)
	if userText == "" {
		log.Debug("no generatable text in message, skipping generation",
			zap.String("type", in.Type))
		return nil
	}

	history, err := s.store.RecentMessages(ctx, cfg.Schema, conv.ID, historyLimit)
	if err != nil {
		log.Warn("history load failed, generating without history", zap.Error(err))
		history = nil
	}

	reply := s.engine.Reply(ctx, orchestrator.Input{
		UserText:     userText,
		History:      historyToMessages(history, result.StoredMessageID),
		Summary:      conv.AI.Summary,
		SystemPrompt: cfg.SystemPrompt,
		Params:       cfg.Generation,
		Tools: orchestrator.ToolContext{
			TenantID:       cfg.TenantID,
			TenantSchema:   cfg.Schema,
			ConversationID: conv.ID,
			ParticipantID:  conv.ParticipantID,
			Catalog:        s.catalogFor(cfg),
			Handoff: func(ctx context.Context) error {
				return s.store.TransferToHuman(ctx, cfg.Schema, conv.ParticipantID)
			},
		},
	})
	if !reply.Success {
		log.Warn("reply generation failed, nothing sent", zap.Error(reply.Err))
		return nil
	}
	if reply.Text == "" {
		log.Info("empty reply, nothing sent")
		return nil
	}

	return s.deliver(ctx, cfg, conv, reply, log)
}

// deliver sends the generated reply, respecting the messaging window. An
// expired window downgrades the send to the tenant's re-engagement template.
func (s *Inbound) deliver(ctx context.Context, cfg *model.TenantConfig, conv *model.Conversation, reply *orchestrator.Reply, log *logger.Logger) error {
	now := time.Now().UTC()

	if !conv.Window.IsOpen(now) {
		if cfg.TemplateName == "" {
			log.Warn("window closed and no template configured, reply dropped")
			return nil
		}
		templateID, err := s.transport.SendTemplate(ctx, conv.ParticipantID, cfg.TemplateName, "", cfg.Channel)
		if err != nil {
			return fmt.Errorf("send template: %w", err)
		}
		if err := s.store.RecordTemplateSent(ctx, cfg.Schema, conv.ParticipantID, templateID, now); err != nil {
			log.Error("record template sent failed", zap.Error(err))
		}
		metrics.RecordWindowTransition(string(model.WindowAwaitingResponse))
		log.Info("window closed, sent re-engagement template",
			zap.String("template", cfg.TemplateName))
		return nil
	}

	channelID, err := s.transport.SendText(ctx, conv.ParticipantID, reply.Text, cfg.Channel)
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	outbound := &model.Message{
		ChannelMessageID: channelID,
		ConversationID:   conv.ID,
		Direction:        model.DirectionOutbound,
		Sender:           model.SenderBot,
		DeliveryStatus:   model.DeliverySent,
		Timestamp:        now,
		Content: model.Content{
			Kind: model.KindText,
			Text: &model.TextContent{Body: reply.Text},
		},
		AI: &model.AIMetadata{
			Model:            reply.Model,
			PromptTokens:     reply.Usage.PromptTokens,
			CompletionTokens: reply.Usage.CompletionTokens,
			TotalTokens:      reply.Usage.TotalTokens,
			LatencyMs:        reply.GenerationTime.Milliseconds(),
		},
	}
	if _, err := s.store.AppendOutbound(ctx, cfg.Schema, outbound); err != nil {
		if apperr.IsAlreadyProcessed(err) {
			log.Debug("outbound already stored", zap.String("channel_message_id", channelID))
		} else {
			log.Error("store outbound failed after send", zap.Error(err))
		}
	}
	metrics.RecordMessage(cfg.TenantID, string(model.DirectionOutbound))

	if err := s.store.RecordBotTurn(ctx, cfg.Schema, conv.ParticipantID, reply.Summary, now); err != nil {
		log.Error("record bot turn failed", zap.Error(err))
	}
	return nil
}

// HandleDeliveryReceipt applies one delivery-status receipt. Unknown message
// ids are logged and dropped; the provider also reports statuses for messages
// sent outside this system.
func (s *Inbound) HandleDeliveryReceipt(ctx context.Context, cfg *model.TenantConfig, channelMessageID string, status model.DeliveryStatus) error {
	err := s.store.UpdateDeliveryStatus(ctx, cfg.Schema, channelMessageID, status)
	if err != nil {
		if apperr.IsNotFound(err) {
			s.logger.Debug("receipt for unknown message",
				zap.String("channel_message_id", channelMessageID))
			return nil
		}
		return err
	}
	return nil
}

// previewOf renders the inbound message as model-readable text. Non-textual
// kinds yield empty, which skips generation.
func previewOf(in dispatch.Inbound) string {
	switch {
	case in.Text != "":
		return in.Text
	case in.Interactive != nil && in.Interactive.SelectionTitle != "":
		return in.Interactive.SelectionTitle
	case in.Interactive != nil:
		return in.Interactive.SelectionID
	case in.Media != nil && in.Media.Caption != "":
		return in.Media.Caption
	default:
		return ""
	}
}

// historyToMessages converts stored history into chat messages, skipping the
// just-stored inbound message so it is not duplicated behind Input.UserText.
func historyToMessages(history []model.Message, currentID string) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, msg := range history {
		if msg.ID == currentID {
			continue
		}
		text := msg.PreviewText()
		if text == "" {
			continue
		}
		role := llm.RoleUser
		if msg.Direction == model.DirectionOutbound {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: text})
	}
	return out
}
