package store

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/capitalize-ai/conversation-orchestrator/internal/apperr"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
)

const (
	convPKPrefix = "CONV#"
	convSKMeta   = "META"
)

func convKey(participantID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": str(convPKPrefix + participantID),
		"SK": str(convSKMeta),
	}
}

// EnsureParams drive the ensure-conversation upsert.
type EnsureParams struct {
	TenantID      string
	ParticipantID string
	// DisplayName updates the participant's name when newly supplied.
	DisplayName string
	Now         time.Time
}

// EnsureConversation atomically creates or refreshes the conversation for a
// participant. On insert it seeds WITH_BOT status, an empty AI context and
// identity fields; on every call it refreshes last activity and reopens the
// messaging window per the monotonic inbound rule. One round trip,
// returns the resulting document.
func (s *Store) EnsureConversation(ctx context.Context, schema string, p EnsureParams) (*model.Conversation, error) {
	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	insertOnly := map[string]types.AttributeValue{
		"id":                       str(uuid.Must(uuid.NewV7()).String()),
		"tenantId":                 str(p.TenantID),
		"tenantSchema":             str(schema),
		"participantId":            str(p.ParticipantID),
		"status":                   str(string(model.StatusWithBot)),
		"summary":                  str(""),
		"turns":                    num(0),
		"messagesSinceLastSummary": num(0),
		"createdAt":                timestamp(now),
	}

	refresh := map[string]types.AttributeValue{
		"lastActivityAt":      timestamp(now),
		"windowStatus":        str(string(model.WindowOpen)),
		"windowExpiresAt":     timestamp(now.Add(model.WindowDuration)),
		"lastUserMessageAt":   timestamp(now),
		"templateMessageSent": boolean(false),
		"templateSentAt":      str(""),
		"templateMessageId":   str(""),
	}
	if p.DisplayName != "" {
		refresh["displayName"] = str(p.DisplayName)
	} else {
		insertOnly["displayName"] = str("")
	}

	item, err := s.upsert(ctx, s.tableFor(schema), convKey(p.ParticipantID), insertOnly, refresh)
	if err != nil {
		return nil, apperr.New(apperr.CodeTransientIO, "conversation_upsert", err)
	}
	return itemToConversation(item), nil
}

// GetConversation fetches a conversation by participant id. Returns nil when
// absent.
func (s *Store) GetConversation(ctx context.Context, schema, participantID string) (*model.Conversation, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableFor(schema)),
		Key:            convKey(participantID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, apperr.New(apperr.CodeTransientIO, "conversation_get", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return itemToConversation(out.Item), nil
}

// TransferToHuman moves a conversation to WITH_HUMAN. The transfer is
// one-way and requires the row to exist.
func (s *Store) TransferToHuman(ctx context.Context, schema, participantID string) error {
	return s.guardedStatusUpdate(ctx, schema, participantID, model.StatusWithHuman, nil)
}

// CloseConversation moves a conversation to CLOSED and stamps ClosedAt.
func (s *Store) CloseConversation(ctx context.Context, schema, participantID string, now time.Time) error {
	return s.guardedStatusUpdate(ctx, schema, participantID, model.StatusClosed, &now)
}

// MarkInactive is driven by an external timeout sweep.
func (s *Store) MarkInactive(ctx context.Context, schema, participantID string) error {
	return s.guardedStatusUpdate(ctx, schema, participantID, model.StatusInactive, nil)
}

func (s *Store) guardedStatusUpdate(ctx context.Context, schema, participantID string, status model.ConversationStatus, closedAt *time.Time) error {
	expr := "SET #st = :st"
	values := map[string]types.AttributeValue{
		":st": str(string(status)),
	}
	if closedAt != nil {
		expr += ", closedAt = :closed"
		values[":closed"] = timestamp(*closedAt)
	}

	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableFor(schema)),
		Key:                       convKey(participantID),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames:  map[string]string{"#st": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return apperr.New(apperr.CodeNotFound, "conversation_missing", err)
		}
		return apperr.New(apperr.CodeTransientIO, "conversation_status_update", err)
	}
	return nil
}

// RecordBotTurn increments the turn counter and overwrites the rolling
// summary in a single update, avoiding a read-then-write race.
func (s *Store) RecordBotTurn(ctx context.Context, schema, participantID, summary string, now time.Time) error {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableFor(schema)),
		Key:       convKey(participantID),
		UpdateExpression: aws.String(
			"SET turns = if_not_exists(turns, :zero) + :one, summary = :sum, lastSummaryAt = :now, messagesSinceLastSummary = :zero"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": num(0),
			":one":  num(1),
			":sum":  str(summary),
			":now":  timestamp(now),
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return apperr.New(apperr.CodeNotFound, "conversation_missing", err)
		}
		return apperr.New(apperr.CodeTransientIO, "record_bot_turn", err)
	}
	return nil
}

// RecordTemplateSent persists the out-of-window template send and moves the
// window to AWAITING_RESPONSE.
func (s *Store) RecordTemplateSent(ctx context.Context, schema, participantID, templateMessageID string, now time.Time) error {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableFor(schema)),
		Key:       convKey(participantID),
		UpdateExpression: aws.String(
			"SET windowStatus = :ws, templateMessageSent = :sent, templateSentAt = :at, templateMessageId = :mid"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ws":   str(string(model.WindowAwaitingResponse)),
			":sent": boolean(true),
			":at":   timestamp(now),
			":mid":  str(templateMessageID),
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return apperr.New(apperr.CodeNotFound, "conversation_missing", err)
		}
		return apperr.New(apperr.CodeTransientIO, "record_template_sent", err)
	}
	return nil
}

func itemToConversation(item map[string]types.AttributeValue) *model.Conversation {
	conv := &model.Conversation{
		ID:             strAttr(item, "id"),
		TenantSchema:   strAttr(item, "tenantSchema"),
		TenantID:       strAttr(item, "tenantId"),
		ParticipantID:  strAttr(item, "participantId"),
		DisplayName:    strAttr(item, "displayName"),
		Status:         model.ConversationStatus(strAttr(item, "status")),
		CreatedAt:      timeAttr(item, "createdAt"),
		LastActivityAt: timeAttr(item, "lastActivityAt"),
		ClosedAt:       timePtrAttr(item, "closedAt"),
		AI: model.AIContext{
			Summary:                  strAttr(item, "summary"),
			Turns:                    intAttr(item, "turns"),
			LastSummaryAt:            timePtrAttr(item, "lastSummaryAt"),
			MessagesSinceLastSummary: intAttr(item, "messagesSinceLastSummary"),
		},
		Window: model.MessagingWindow{
			Status:              model.WindowStatus(strAttr(item, "windowStatus")),
			ExpiresAt:           timePtrAttr(item, "windowExpiresAt"),
			LastUserMessageAt:   timePtrAttr(item, "lastUserMessageAt"),
			TemplateMessageSent: boolAttr(item, "templateMessageSent"),
			TemplateSentAt:      timePtrAttr(item, "templateSentAt"),
			TemplateMessageID:   strAttr(item, "templateMessageId"),
		},
	}
	if conv.Window.Status == "" {
		conv.Window.Status = model.WindowClosed
	}
	return conv
}
