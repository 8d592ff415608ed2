package model

import (
	"time"
)

// Direction indicates whether a message came from or went to the channel.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser   Sender = "USER"
	SenderBot    Sender = "BOT"
	SenderHuman  Sender = "HUMAN"
	SenderSystem Sender = "SYSTEM"
)

// Kind is the closed set of message kinds the dispatcher recognizes.
// Anything outside the set routes to KindUnsupported.
type Kind string

const (
	KindText        Kind = "text"
	KindImage       Kind = "image"
	KindAudio       Kind = "audio"
	KindVideo       Kind = "video"
	KindDocument    Kind = "document"
	KindSticker     Kind = "sticker"
	KindInteractive Kind = "interactive"
	KindButton      Kind = "button"
	KindContacts    Kind = "contacts"
	KindLocation    Kind = "location"
	KindReaction    Kind = "reaction"
	KindUnsupported Kind = "unsupported"
)

// DeliveryStatus tracks the provider-reported lifecycle of an outbound message.
type DeliveryStatus string

const (
	DeliverySending   DeliveryStatus = "SENDING"
	DeliverySent      DeliveryStatus = "SENT"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryRead      DeliveryStatus = "READ"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// Rank orders delivery statuses so receipts arriving out of order never
// regress a message.
func (s DeliveryStatus) Rank() int {
	switch s {
	case DeliverySent:
		return 1
	case DeliveryDelivered:
		return 2
	case DeliveryRead:
		return 3
	case DeliveryFailed:
		return 4
	default:
		return 0
	}
}

// TextContent is the body of a text message.
type TextContent struct {
	Body string `json:"body"`
}

// MediaContent covers image, audio, video, document and sticker payloads.
type MediaContent struct {
	MediaID  string `json:"media_id"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// InteractiveContent is a list/button selection made by the user.
type InteractiveContent struct {
	SelectionID    string `json:"selection_id"`
	SelectionTitle string `json:"selection_title,omitempty"`
	ListTitle      string `json:"list_title,omitempty"`
}

// ContactCard is a single shared contact.
type ContactCard struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// LocationContent is a shared geographic point.
type LocationContent struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// ReactionContent is an emoji reaction to an earlier message.
type ReactionContent struct {
	TargetChannelMessageID string `json:"target_channel_message_id"`
	Emoji                  string `json:"emoji"`
}

// Content is the tagged union of kind-specific payloads. Exactly the field
// matching Kind is populated; Raw preserves the original payload for the
// unsupported fallback.
type Content struct {
	Kind        Kind                `json:"kind"`
	Text        *TextContent        `json:"text,omitempty"`
	Media       *MediaContent       `json:"media,omitempty"`
	Interactive *InteractiveContent `json:"interactive,omitempty"`
	Contacts    []ContactCard       `json:"contacts,omitempty"`
	Location    *LocationContent    `json:"location,omitempty"`
	Reaction    *ReactionContent    `json:"reaction,omitempty"`
	Raw         string              `json:"raw,omitempty"`
}

// ReplyContext references the message an inbound message replied to,
// resolved one level deep at dispatch time.
type ReplyContext struct {
	ChannelMessageID string `json:"channel_message_id"`
	InternalID       string `json:"internal_id,omitempty"`
	Preview          string `json:"preview,omitempty"`
}

// AIMetadata is attached to bot-generated outbound messages.
type AIMetadata struct {
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	LatencyMs        int64  `json:"latency_ms"`
}

// Message is one stored inbound or outbound message. Inbound messages are
// append-only after the initial upsert; outbound messages are mutated only to
// advance DeliveryStatus.
type Message struct {
	ID               string         `json:"id"`
	ChannelMessageID string         `json:"channel_message_id"`
	ConversationID   string         `json:"conversation_id"`
	Direction        Direction      `json:"direction"`
	Sender           Sender         `json:"sender"`
	Content          Content        `json:"content"`
	DeliveryStatus   DeliveryStatus `json:"delivery_status,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	ReplyTo          *ReplyContext  `json:"reply_to,omitempty"`
	AI               *AIMetadata    `json:"ai,omitempty"`
}

// PreviewText returns a short human-readable rendering of the message body,
// used for reply-context previews and history assembly.
func (m *Message) PreviewText() string {
	switch m.Content.Kind {
	case KindText:
		if m.Content.Text != nil {
			return m.Content.Text.Body
		}
	case KindInteractive, KindButton:
		if m.Content.Interactive != nil {
			return m.Content.Interactive.SelectionTitle
		}
	case KindImage, KindAudio, KindVideo, KindDocument, KindSticker:
		if m.Content.Media != nil && m.Content.Media.Caption != "" {
			return m.Content.Media.Caption
		}
		return "[" + string(m.Content.Kind) + "]"
	case KindLocation:
		if m.Content.Location != nil {
			return m.Content.Location.Name
		}
	}
	return "[" + string(m.Content.Kind) + "]"
}
