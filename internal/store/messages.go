package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/capitalize-ai/conversation-orchestrator/internal/apperr"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
)

const (
	msgPKPrefix   = "MSGS#"
	msgSKPrefix   = "MSG#"
	msgIDPKPrefix = "MSGID#"
	msgIDSK       = "REF"
)

func messageKey(conversationID string, ts time.Time, internalID string) (string, string) {
	return msgPKPrefix + conversationID, msgSKPrefix + ts.UTC().Format(time.RFC3339Nano) + "#" + internalID
}

func pointerKey(channelMessageID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": str(msgIDPKPrefix + channelMessageID),
		"SK": str(msgIDSK),
	}
}

// UpsertInbound stores an inbound message exactly once, keyed by its channel
// message id. The message item and a dedup pointer item are written in one
// transaction; the pointer carries a not-exists condition, so two concurrent
// deliveries of the same id cannot both win the insert. The second caller
// gets the first writer's internal id and created=false.
func (s *Store) UpsertInbound(ctx context.Context, schema string, msg *model.Message) (string, bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.Direction = model.DirectionInbound

	pk, sk := messageKey(msg.ConversationID, msg.Timestamp, msg.ID)
	table := s.tableFor(schema)

	_, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(table),
					Item:                pointerItem(msg, pk, sk),
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(table),
					Item:      messageItem(msg, pk, sk),
				},
			},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			existing, ferr := s.FindByChannelMessageID(ctx, schema, msg.ChannelMessageID)
			if ferr != nil {
				return "", false, ferr
			}
			if existing == nil {
				return "", false, apperr.New(apperr.CodeUnknown, "dedup_pointer_missing", err)
			}
			return existing.ID, false, nil
		}
		return "", false, apperr.New(apperr.CodeTransientIO, "message_upsert", err)
	}
	return msg.ID, true, nil
}

// AppendOutbound stores a bot/human reply. Outbound sends are not externally
// retried, so this is a plain transactional append with the same dedup
// pointer for delivery-receipt correlation.
func (s *Store) AppendOutbound(ctx context.Context, schema string, msg *model.Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.Direction = model.DirectionOutbound
	if msg.DeliveryStatus == "" {
		msg.DeliveryStatus = model.DeliverySending
	}

	pk, sk := messageKey(msg.ConversationID, msg.Timestamp, msg.ID)
	table := s.tableFor(schema)

	_, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(table),
					Item:                pointerItem(msg, pk, sk),
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(table),
					Item:      messageItem(msg, pk, sk),
				},
			},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return "", apperr.New(apperr.CodeAlreadyProcessed, "outbound_duplicate", err)
		}
		return "", apperr.New(apperr.CodeTransientIO, "message_append", err)
	}
	return msg.ID, nil
}

// FindByChannelMessageID resolves a message through its dedup pointer.
// Returns nil when no message with that channel id exists.
func (s *Store) FindByChannelMessageID(ctx context.Context, schema, channelMessageID string) (*model.Message, error) {
	table := s.tableFor(schema)

	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            pointerKey(channelMessageID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, apperr.New(apperr.CodeTransientIO, "message_pointer_get", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	msgPK := strAttr(out.Item, "msgPK")
	msgSK := strAttr(out.Item, "msgSK")

	itemOut, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key: map[string]types.AttributeValue{
			"PK": str(msgPK),
			"SK": str(msgSK),
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, apperr.New(apperr.CodeTransientIO, "message_get", err)
	}
	if len(itemOut.Item) == 0 {
		return nil, nil
	}
	return itemToMessage(itemOut.Item)
}

// FindByInternalID looks up a message by its internal id within one
// conversation partition. Returns nil when no such message exists.
func (s *Store) FindByInternalID(ctx context.Context, schema, conversationID, internalID string) (*model.Message, error) {
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableFor(schema)),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		FilterExpression:       aws.String("#id = :id"),
		ExpressionAttributeNames: map[string]string{
			"#id": "id",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     str(msgPKPrefix + conversationID),
			":prefix": str(msgSKPrefix),
			":id":     str(internalID),
		},
	})
	if err != nil {
		return nil, apperr.New(apperr.CodeTransientIO, "message_by_id_query", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	return itemToMessage(out.Items[0])
}

// UpdateDeliveryStatus applies a delivery receipt to the outbound message
// with the given channel id. Receipts can arrive out of order; the write is
// conditioned so the status rank only ever advances. A stale or unmatched
// receipt is a no-op.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, schema, channelMessageID string, status model.DeliveryStatus) error {
	table := s.tableFor(schema)

	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       pointerKey(channelMessageID),
	})
	if err != nil {
		return apperr.New(apperr.CodeTransientIO, "delivery_pointer_get", err)
	}
	if len(out.Item) == 0 {
		return apperr.New(apperr.CodeNotFound, "delivery_message_missing", nil)
	}

	rank := status.Rank()
	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(table),
		Key: map[string]types.AttributeValue{
			"PK": str(strAttr(out.Item, "msgPK")),
			"SK": str(strAttr(out.Item, "msgSK")),
		},
		UpdateExpression:    aws.String("SET deliveryStatus = :s, deliveryRank = :r"),
		ConditionExpression: aws.String("attribute_not_exists(deliveryRank) OR deliveryRank < :r"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": str(string(status)),
			":r": num(rank),
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil // stale receipt
		}
		return apperr.New(apperr.CodeTransientIO, "delivery_status_update", err)
	}
	return nil
}

// RecentMessages returns up to limit messages for a conversation in
// chronological order.
func (s *Store) RecentMessages(ctx context.Context, schema, conversationID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 20
	}

	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableFor(schema)),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     str(msgPKPrefix + conversationID),
			":prefix": str(msgSKPrefix),
		},
		// Newest first so the limit keeps the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, apperr.New(apperr.CodeTransientIO, "recent_messages_query", err)
	}

	msgs := make([]model.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func pointerItem(msg *model.Message, msgPK, msgSK string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":         str(msgIDPKPrefix + msg.ChannelMessageID),
		"SK":         str(msgIDSK),
		"internalId": str(msg.ID),
		"msgPK":      str(msgPK),
		"msgSK":      str(msgSK),
	}
}

func messageItem(msg *model.Message, pk, sk string) map[string]types.AttributeValue {
	content, _ := json.Marshal(msg.Content)

	item := map[string]types.AttributeValue{
		"PK":               str(pk),
		"SK":               str(sk),
		"id":               str(msg.ID),
		"channelMessageId": str(msg.ChannelMessageID),
		"conversationId":   str(msg.ConversationID),
		"direction":        str(string(msg.Direction)),
		"sender":           str(string(msg.Sender)),
		"content":          str(string(content)),
		"timestamp":        timestamp(msg.Timestamp),
	}
	if msg.DeliveryStatus != "" {
		item["deliveryStatus"] = str(string(msg.DeliveryStatus))
		item["deliveryRank"] = num(msg.DeliveryStatus.Rank())
	}
	if msg.ReplyTo != nil {
		replyTo, _ := json.Marshal(msg.ReplyTo)
		item["replyTo"] = str(string(replyTo))
	}
	if msg.AI != nil {
		ai, _ := json.Marshal(msg.AI)
		item["ai"] = str(string(ai))
	}
	return item
}

func itemToMessage(item map[string]types.AttributeValue) (*model.Message, error) {
	msg := &model.Message{
		ID:               strAttr(item, "id"),
		ChannelMessageID: strAttr(item, "channelMessageId"),
		ConversationID:   strAttr(item, "conversationId"),
		Direction:        model.Direction(strAttr(item, "direction")),
		Sender:           model.Sender(strAttr(item, "sender")),
		DeliveryStatus:   model.DeliveryStatus(strAttr(item, "deliveryStatus")),
		Timestamp:        timeAttr(item, "timestamp"),
	}

	if raw := strAttr(item, "content"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &msg.Content); err != nil {
			return nil, apperr.New(apperr.CodeUnknown, "message_content_decode", err)
		}
	}
	if raw := strAttr(item, "replyTo"); raw != "" {
		var reply model.ReplyContext
		if err := json.Unmarshal([]byte(raw), &reply); err == nil {
			msg.ReplyTo = &reply
		}
	}
	if raw := strAttr(item, "ai"); raw != "" {
		var ai model.AIMetadata
		if err := json.Unmarshal([]byte(raw), &ai); err == nil {
			msg.AI = &ai
		}
	}
	return msg, nil
}
