package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWindowRefreshOpensFromAnyState(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []MessagingWindow{
		NewClosedWindow(),
		{Status: WindowOpen},
		{Status: WindowAwaitingResponse, TemplateMessageSent: true, TemplateMessageID: "wamid.t1"},
	}

	for _, w := range cases {
		w.Refresh(now)
		require.Equal(t, WindowOpen, w.Status)
		require.NotNil(t, w.ExpiresAt)
		require.Equal(t, now.Add(WindowDuration), *w.ExpiresAt)
		require.False(t, w.TemplateMessageSent)
		require.Empty(t, w.TemplateMessageID)
		require.Nil(t, w.TemplateSentAt)
	}
}

func TestWindowIsOpen(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	w := NewClosedWindow()
	require.False(t, w.IsOpen(now))

	w.Refresh(now)
	require.True(t, w.IsOpen(now))
	require.True(t, w.IsOpen(now.Add(WindowDuration-time.Second)))
	require.False(t, w.IsOpen(now.Add(WindowDuration)))
	require.False(t, w.IsOpen(now.Add(WindowDuration+time.Hour)))
}

func TestMarkTemplateSent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	w := NewClosedWindow()
	w.MarkTemplateSent(now, "wamid.template")

	require.Equal(t, WindowAwaitingResponse, w.Status)
	require.True(t, w.TemplateMessageSent)
	require.Equal(t, "wamid.template", w.TemplateMessageID)
	require.NotNil(t, w.TemplateSentAt)
	require.False(t, w.IsOpen(now))

	// A user reply reopens and clears the template bookkeeping.
	w.Refresh(now.Add(time.Hour))
	require.Equal(t, WindowOpen, w.Status)
	require.False(t, w.TemplateMessageSent)
}

func TestDeliveryStatusRankAdvances(t *testing.T) {
	order := []DeliveryStatus{DeliverySending, DeliverySent, DeliveryDelivered, DeliveryRead, DeliveryFailed}
	for i := 1; i < len(order); i++ {
		require.Greater(t, order[i].Rank(), order[i-1].Rank())
	}
	require.Equal(t, 0, DeliveryStatus("bogus").Rank())
}

func TestPreviewText(t *testing.T) {
	text := Message{Content: Content{Kind: KindText, Text: &TextContent{Body: "hello"}}}
	require.Equal(t, "hello", text.PreviewText())

	media := Message{Content: Content{Kind: KindImage, Media: &MediaContent{Caption: "sunset"}}}
	require.Equal(t, "sunset", media.PreviewText())

	uncaptioned := Message{Content: Content{Kind: KindAudio, Media: &MediaContent{MediaID: "m1"}}}
	require.Equal(t, "[audio]", uncaptioned.PreviewText())

	unsupported := Message{Content: Content{Kind: KindUnsupported, Raw: "{}"}}
	require.Equal(t, "[unsupported]", unsupported.PreviewText())
}
