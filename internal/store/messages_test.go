package store

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-orchestrator/internal/apperr"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
)

func textMsg(channelID, convID, body string) *model.Message {
	return &model.Message{
		ChannelMessageID: channelID,
		ConversationID:   convID,
		Sender:           model.SenderUser,
		Content:          model.Content{Kind: model.KindText, Text: &model.TextContent{Body: body}},
		Timestamp:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestUpsertInboundWritesPointerAndMessage(t *testing.T) {
	var captured *dynamodb.TransactWriteItemsInput
	api := &fakeDynamo{
		transactWrite: func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			captured = in
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
	}
	s := newTestStore(t, api)

	id, created, err := s.UpsertInbound(context.Background(), "acme", textMsg("wamid.1", "conv-1", "hi"))
	require.NoError(t, err)
	require.True(t, created)
	require.NotEmpty(t, id)

	require.Len(t, captured.TransactItems, 2)
	pointer := captured.TransactItems[0].Put
	require.Equal(t, aws.String("attribute_not_exists(PK)"), pointer.ConditionExpression)
	require.Equal(t, "MSGID#wamid.1", pointer.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "REF", pointer.Item["SK"].(*types.AttributeValueMemberS).Value)

	message := captured.TransactItems[1].Put
	require.Equal(t, "MSGS#conv-1", message.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.True(t, strings.HasPrefix(message.Item["SK"].(*types.AttributeValueMemberS).Value, "MSG#"))
}

func TestUpsertInboundDuplicateReturnsExisting(t *testing.T) {
	existing := textMsg("wamid.1", "conv-1", "hi")
	existing.ID = "original-id"
	existing.Direction = model.DirectionInbound
	msgItem := messageItem(existing, "MSGS#conv-1", "MSG#2026-03-01T12:00:00Z#original-id")

	api := &fakeDynamo{
		transactWrite: func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			return nil, ccfTransactErr()
		},
		getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			pk := in.Key["PK"].(*types.AttributeValueMemberS).Value
			if strings.HasPrefix(pk, "MSGID#") {
				return &dynamodb.GetItemOutput{Item: pointerItem(existing, "MSGS#conv-1", "MSG#2026-03-01T12:00:00Z#original-id")}, nil
			}
			return &dynamodb.GetItemOutput{Item: msgItem}, nil
		},
	}
	s := newTestStore(t, api)

	id, created, err := s.UpsertInbound(context.Background(), "acme", textMsg("wamid.1", "conv-1", "hi"))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "original-id", id)
}

func TestAppendOutboundDuplicate(t *testing.T) {
	api := &fakeDynamo{
		transactWrite: func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			return nil, ccfTransactErr()
		},
	}
	s := newTestStore(t, api)

	msg := textMsg("wamid.out", "conv-1", "reply")
	msg.Sender = model.SenderBot
	_, err := s.AppendOutbound(context.Background(), "acme", msg)
	require.True(t, apperr.IsAlreadyProcessed(err))
}

func TestAppendOutboundDefaultsDeliveryStatus(t *testing.T) {
	var captured *dynamodb.TransactWriteItemsInput
	api := &fakeDynamo{
		transactWrite: func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			captured = in
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
	}
	s := newTestStore(t, api)

	msg := textMsg("wamid.out", "conv-1", "reply")
	msg.Sender = model.SenderBot
	_, err := s.AppendOutbound(context.Background(), "acme", msg)
	require.NoError(t, err)

	item := captured.TransactItems[1].Put.Item
	require.Equal(t, string(model.DeliverySending), item["deliveryStatus"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, string(model.DirectionOutbound), item["direction"].(*types.AttributeValueMemberS).Value)
}

func TestFindByChannelMessageIDAbsent(t *testing.T) {
	s := newTestStore(t, &fakeDynamo{})
	msg, err := s.FindByChannelMessageID(context.Background(), "acme", "wamid.unknown")
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestUpdateDeliveryStatusRankGuard(t *testing.T) {
	pointer := map[string]types.AttributeValue{
		"PK":    str("MSGID#wamid.out"),
		"SK":    str("REF"),
		"msgPK": str("MSGS#conv-1"),
		"msgSK": str("MSG#ts#id"),
	}

	var captured *dynamodb.UpdateItemInput
	api := &fakeDynamo{
		getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: pointer}, nil
		},
		updateItem: func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			captured = in
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}
	s := newTestStore(t, api)

	require.NoError(t, s.UpdateDeliveryStatus(context.Background(), "acme", "wamid.out", model.DeliveryDelivered))
	require.Equal(t, aws.String("attribute_not_exists(deliveryRank) OR deliveryRank < :r"), captured.ConditionExpression)
	require.Equal(t, "2", captured.ExpressionAttributeValues[":r"].(*types.AttributeValueMemberN).Value)
}

func TestUpdateDeliveryStatusStaleReceiptIsNoOp(t *testing.T) {
	pointer := map[string]types.AttributeValue{
		"PK": str("MSGID#wamid.out"), "SK": str("REF"),
		"msgPK": str("MSGS#conv-1"), "msgSK": str("MSG#ts#id"),
	}
	api := &fakeDynamo{
		getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: pointer}, nil
		},
		updateItem: func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		},
	}
	s := newTestStore(t, api)

	// A READ already recorded; the late DELIVERED receipt must not error.
	require.NoError(t, s.UpdateDeliveryStatus(context.Background(), "acme", "wamid.out", model.DeliveryDelivered))
}

func TestUpdateDeliveryStatusUnknownMessage(t *testing.T) {
	s := newTestStore(t, &fakeDynamo{})
	err := s.UpdateDeliveryStatus(context.Background(), "acme", "wamid.unknown", model.DeliverySent)
	require.True(t, apperr.IsNotFound(err))
}

func TestRecentMessagesChronologicalOrder(t *testing.T) {
	mk := func(id, body string, ts time.Time) map[string]types.AttributeValue {
		m := textMsg("wamid."+id, "conv-1", body)
		m.ID = id
		m.Direction = model.DirectionInbound
		m.Timestamp = ts
		return messageItem(m, "MSGS#conv-1", "MSG#"+ts.Format(time.RFC3339Nano)+"#"+id)
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var captured *dynamodb.QueryInput
	api := &fakeDynamo{
		query: func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			captured = in
			// Newest first, as the store queries.
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
				mk("m3", "third", base.Add(2*time.Minute)),
				mk("m2", "second", base.Add(time.Minute)),
				mk("m1", "first", base),
			}}, nil
		},
	}
	s := newTestStore(t, api)

	msgs, err := s.RecentMessages(context.Background(), "acme", "conv-1", 10)
	require.NoError(t, err)
	require.Equal(t, aws.Bool(false), captured.ScanIndexForward)

	require.Len(t, msgs, 3)
	require.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, "m3", msgs[2].ID)
	require.Equal(t, "first", msgs[0].Content.Text.Body)
}

func TestFindByInternalID(t *testing.T) {
	msg := textMsg("wamid.1", "conv-1", "hello")
	msg.ID = "id-1"
	msg.Direction = model.DirectionInbound

	var captured *dynamodb.QueryInput
	api := &fakeDynamo{
		query: func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			captured = in
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
				messageItem(msg, "MSGS#conv-1", "MSG#x#id-1"),
			}}, nil
		},
	}
	s := newTestStore(t, api)

	found, err := s.FindByInternalID(context.Background(), "acme", "conv-1", "id-1")
	require.NoError(t, err)
	require.Equal(t, "id-1", found.ID)
	require.Equal(t, "#id = :id", *captured.FilterExpression)

	api.query = func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
		return &dynamodb.QueryOutput{}, nil
	}
	found, err = s.FindByInternalID(context.Background(), "acme", "conv-1", "id-2")
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestMessageItemRoundTrip(t *testing.T) {
	msg := textMsg("wamid.1", "conv-1", "hello")
	msg.ID = "id-1"
	msg.Direction = model.DirectionInbound
	msg.ReplyTo = &model.ReplyContext{ChannelMessageID: "wamid.0", Preview: "earlier"}
	msg.AI = &model.AIMetadata{Model: "gpt-4o", TotalTokens: 42}

	item := messageItem(msg, "MSGS#conv-1", "MSG#x")
	decoded, err := itemToMessage(item)
	require.NoError(t, err)

	require.Equal(t, msg.ID, decoded.ID)
	require.Equal(t, msg.Content.Text.Body, decoded.Content.Text.Body)
	require.Equal(t, "wamid.0", decoded.ReplyTo.ChannelMessageID)
	require.Equal(t, 42, decoded.AI.TotalTokens)

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(strAttr(item, "content")), &raw))
	require.Equal(t, "text", raw["kind"])
}
