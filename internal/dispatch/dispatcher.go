// Package dispatch routes each inbound message to its kind-specific
// extraction and stores it exactly once.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/metrics"
)

// Inbound is one raw inbound message as parsed off the webhook payload.
type Inbound struct {
	ChannelMessageID string
	From             string
	ProfileName      string
	Type             string
	Timestamp        time.Time

	Text        string
	Media       *model.MediaContent
	Interactive *model.InteractiveContent
	Contacts    []model.ContactCard
	Location    *model.LocationContent
	Reaction    *model.ReactionContent

	// ReplyToChannelID is set when the message quotes an earlier one.
	ReplyToChannelID string

	// Raw preserves the original payload for the unsupported fallback.
	Raw string
}

// Result is the dispatch outcome. AlreadyProcessed with Success=true means
// the idempotent no-op path: the message was seen before and no side
// effects ran.
type Result struct {
	Success          bool
	AlreadyProcessed bool
	ShouldMarkAsRead bool
	StoredMessageID  string
	ConversationID   string
	Err              error
}

// MessageStore is the persistence surface the dispatcher needs.
type MessageStore interface {
	FindByChannelMessageID(ctx context.Context, schema, channelMessageID string) (*model.Message, error)
	UpsertInbound(ctx context.Context, schema string, msg *model.Message) (string, bool, error)
}

// Dispatcher stores inbound messages with at-most-once semantics.
type Dispatcher struct {
	store  MessageStore
	logger *logger.Logger
}

// New creates a dispatcher.
func New(store MessageStore, log *logger.Logger) *Dispatcher {
	return &Dispatcher{store: store, logger: log}
}

// Dispatch runs the three-step contract for one inbound message: dedup
// check, kind-specific extraction, atomic upsert. Extraction is total over
// the kind set; storage failures and handler panics become failed results
// with ShouldMarkAsRead=false rather than propagating past the webhook
// boundary.
func (d *Dispatcher) Dispatch(ctx context.Context, schema string, conv *model.Conversation, in Inbound) (result Result) {
	result.ConversationID = conv.ID

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch panic",
				zap.String("channel_message_id", in.ChannelMessageID),
				zap.Any("panic", r))
			result = Result{
				ConversationID: conv.ID,
				Err:            fmt.Errorf("dispatch panic: %v", r),
			}
		}
		metrics.RecordDispatch(in.Type, dispatchOutcome(result))
	}()

	existing, err := d.store.FindByChannelMessageID(ctx, schema, in.ChannelMessageID)
	if err != nil {
		result.Err = err
		return result
	}
	if existing != nil {
		result.Success = true
		result.AlreadyProcessed = true
		result.ShouldMarkAsRead = true
		result.StoredMessageID = existing.ID
		return result
	}

	content := extractContent(in)

	msg := &model.Message{
		ChannelMessageID: in.ChannelMessageID,
		ConversationID:   conv.ID,
		Direction:        model.DirectionInbound,
		Sender:           model.SenderUser,
		Content:          content,
		Timestamp:        in.Timestamp,
		ReplyTo:          d.resolveReplyContext(ctx, schema, in.ReplyToChannelID),
	}

	id, created, err := d.store.UpsertInbound(ctx, schema, msg)
	if err != nil {
		result.Err = err
		return result
	}

	result.Success = true
	result.AlreadyProcessed = !created
	result.ShouldMarkAsRead = true
	result.StoredMessageID = id
	return result
}

// resolveReplyContext looks up the referenced message one level deep. A
// missing or unreadable referent degrades to the bare channel id.
func (d *Dispatcher) resolveReplyContext(ctx context.Context, schema, replyToChannelID string) *model.ReplyContext {
	if replyToChannelID == "" {
		return nil
	}

	reply := &model.ReplyContext{ChannelMessageID: replyToChannelID}
	referenced, err := d.store.FindByChannelMessageID(ctx, schema, replyToChannelID)
	if err != nil {
		d.logger.Warn("reply context lookup failed",
			zap.String("channel_message_id", replyToChannelID), zap.Error(err))
		return reply
	}
	if referenced != nil {
		reply.InternalID = referenced.ID
		reply.Preview = referenced.PreviewText()
	}
	return reply
}

func dispatchOutcome(r Result) string {
	switch {
	case r.AlreadyProcessed:
		return "already_processed"
	case r.Success:
		return "stored"
	default:
		return "failed"
	}
}
