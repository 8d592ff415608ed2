package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
)

type fakeStore struct {
	existing map[string]*model.Message
	findErr  error

	upserted  *model.Message
	upsertID  string
	upsertNew bool
	upsertErr error
}

func (f *fakeStore) FindByChannelMessageID(_ context.Context, _, channelMessageID string) (*model.Message, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.existing[channelMessageID], nil
}

func (f *fakeStore) UpsertInbound(_ context.Context, _ string, msg *model.Message) (string, bool, error) {
	if f.upsertErr != nil {
		return "", false, f.upsertErr
	}
	f.upserted = msg
	return f.upsertID, f.upsertNew, nil
}

func testDispatcher(t *testing.T, store *fakeStore) *Dispatcher {
	t.Helper()
	log, err := logger.New("error")
	require.NoError(t, err)
	return New(store, log)
}

func testConv() *model.Conversation {
	return &model.Conversation{ID: "conv-1", ParticipantID: "5511999", Status: model.StatusWithBot}
}

func textInbound(id, body string) Inbound {
	return Inbound{
		ChannelMessageID: id,
		From:             "5511999",
		Type:             "text",
		Text:             body,
		Timestamp:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDispatchAlreadyProcessedShortCircuits(t *testing.T) {
	store := &fakeStore{existing: map[string]*model.Message{
		"wamid.1": {ID: "stored-1"},
	}}
	d := testDispatcher(t, store)

	result := d.Dispatch(context.Background(), "acme", testConv(), textInbound("wamid.1", "hi"))

	require.True(t, result.Success)
	require.True(t, result.AlreadyProcessed)
	require.True(t, result.ShouldMarkAsRead)
	require.Equal(t, "stored-1", result.StoredMessageID)
	require.Nil(t, store.upserted, "no write should happen on the duplicate path")
}

func TestDispatchStoresNewMessage(t *testing.T) {
	store := &fakeStore{upsertID: "new-1", upsertNew: true}
	d := testDispatcher(t, store)

	result := d.Dispatch(context.Background(), "acme", testConv(), textInbound("wamid.2", "hello"))

	require.True(t, result.Success)
	require.False(t, result.AlreadyProcessed)
	require.Equal(t, "new-1", result.StoredMessageID)
	require.Equal(t, "conv-1", result.ConversationID)

	require.Equal(t, model.DirectionInbound, store.upserted.Direction)
	require.Equal(t, model.SenderUser, store.upserted.Sender)
	require.Equal(t, model.KindText, store.upserted.Content.Kind)
	require.Equal(t, "hello", store.upserted.Content.Text.Body)
}

func TestDispatchRaceLoserGetsAlreadyProcessed(t *testing.T) {
	// Dedup check misses but the upsert finds the pointer already written.
	store := &fakeStore{upsertID: "winner-id", upsertNew: false}
	d := testDispatcher(t, store)

	result := d.Dispatch(context.Background(), "acme", testConv(), textInbound("wamid.3", "hi"))

	require.True(t, result.Success)
	require.True(t, result.AlreadyProcessed)
	require.Equal(t, "winner-id", result.StoredMessageID)
}

func TestDispatchUnsupportedTypeStoresFallback(t *testing.T) {
	store := &fakeStore{upsertID: "u-1", upsertNew: true}
	d := testDispatcher(t, store)

	in := Inbound{
		ChannelMessageID: "wamid.4",
		From:             "5511999",
		Type:             "order",
		Raw:              `{"type":"order"}`,
	}
	result := d.Dispatch(context.Background(), "acme", testConv(), in)

	require.True(t, result.Success)
	require.Equal(t, model.KindUnsupported, store.upserted.Content.Kind)
	require.Equal(t, `{"type":"order"}`, store.upserted.Content.Raw)
}

func TestDispatchStoreFailure(t *testing.T) {
	store := &fakeStore{upsertErr: errors.New("table throttled")}
	d := testDispatcher(t, store)

	result := d.Dispatch(context.Background(), "acme", testConv(), textInbound("wamid.5", "hi"))

	require.False(t, result.Success)
	require.False(t, result.ShouldMarkAsRead)
	require.Error(t, result.Err)
}

func TestDispatchDedupLookupFailure(t *testing.T) {
	store := &fakeStore{findErr: errors.New("connection reset")}
	d := testDispatcher(t, store)

	result := d.Dispatch(context.Background(), "acme", testConv(), textInbound("wamid.6", "hi"))

	require.False(t, result.Success)
	require.Error(t, result.Err)
}

func TestDispatchResolvesReplyContext(t *testing.T) {
	store := &fakeStore{
		existing: map[string]*model.Message{
			"wamid.orig": {
				ID:      "orig-id",
				Content: model.Content{Kind: model.KindText, Text: &model.TextContent{Body: "original text"}},
			},
		},
		upsertID:  "r-1",
		upsertNew: true,
	}
	d := testDispatcher(t, store)

	in := textInbound("wamid.7", "replying")
	in.ReplyToChannelID = "wamid.orig"
	result := d.Dispatch(context.Background(), "acme", testConv(), in)

	require.True(t, result.Success)
	require.NotNil(t, store.upserted.ReplyTo)
	require.Equal(t, "wamid.orig", store.upserted.ReplyTo.ChannelMessageID)
	require.Equal(t, "orig-id", store.upserted.ReplyTo.InternalID)
	require.Equal(t, "original text", store.upserted.ReplyTo.Preview)
}

func TestDispatchReplyContextDegradesToBareID(t *testing.T) {
	store := &fakeStore{upsertID: "r-2", upsertNew: true}
	d := testDispatcher(t, store)

	in := textInbound("wamid.8", "replying")
	in.ReplyToChannelID = "wamid.gone"
	result := d.Dispatch(context.Background(), "acme", testConv(), in)

	require.True(t, result.Success)
	require.NotNil(t, store.upserted.ReplyTo)
	require.Equal(t, "wamid.gone", store.upserted.ReplyTo.ChannelMessageID)
	require.Empty(t, store.upserted.ReplyTo.InternalID)
}

func TestKindOfIsTotal(t *testing.T) {
	require.Equal(t, model.KindAudio, kindOf("voice"))
	require.Equal(t, model.KindText, kindOf("text"))
	require.Equal(t, model.KindReaction, kindOf("reaction"))
	require.Equal(t, model.KindUnsupported, kindOf("ephemeral"))
	require.Equal(t, model.KindUnsupported, kindOf(""))
}

func TestExtractContentMissingPayloadFallsBack(t *testing.T) {
	// Declared as image but carries no media payload.
	content := extractContent(Inbound{Type: "image", Raw: `{"broken":true}`})
	require.Equal(t, model.KindUnsupported, content.Kind)
	require.Equal(t, `{"broken":true}`, content.Raw)

	content = extractContent(Inbound{Type: "location", Location: &model.LocationContent{Latitude: 1, Longitude: 2}})
	require.Equal(t, model.KindLocation, content.Kind)
}
