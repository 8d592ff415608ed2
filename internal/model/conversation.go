// Package model defines data structures for the conversation orchestration engine.
package model

import (
	"time"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusWithBot   ConversationStatus = "WITH_BOT"
	StatusWithHuman ConversationStatus = "WITH_HUMAN"
	StatusClosed    ConversationStatus = "CLOSED"
	StatusInactive  ConversationStatus = "INACTIVE"
)

// WindowStatus is the state of the channel messaging window.
type WindowStatus string

const (
	WindowOpen             WindowStatus = "OPEN"
	WindowClosed           WindowStatus = "CLOSED"
	WindowAwaitingResponse WindowStatus = "AWAITING_RESPONSE"
)

// WindowDuration is how long free-form replies are permitted after the
// user's last message.
const WindowDuration = 24 * time.Hour

// MessagingWindow tracks the time-bounded permission to send free-form
// messages to a participant.
type MessagingWindow struct {
	Status              WindowStatus `json:"status"`
	ExpiresAt           *time.Time   `json:"expires_at,omitempty"`
	LastUserMessageAt   *time.Time   `json:"last_user_message_at,omitempty"`
	TemplateMessageSent bool         `json:"template_message_sent"`
	TemplateSentAt      *time.Time   `json:"template_sent_at,omitempty"`
	TemplateMessageID   string       `json:"template_message_id,omitempty"`
}

// NewClosedWindow returns the initial window state for a new conversation.
func NewClosedWindow() MessagingWindow {
	return MessagingWindow{Status: WindowClosed}
}

// Refresh applies the monotonic inbound rule: any user message opens the
// window for WindowDuration from now, regardless of prior state, and clears
// any pending template bookkeeping.
func (w *MessagingWindow) Refresh(now time.Time) {
	expires := now.Add(WindowDuration)
	w.Status = WindowOpen
	w.ExpiresAt = &expires
	w.LastUserMessageAt = &now
	w.TemplateMessageSent = false
	w.TemplateSentAt = nil
	w.TemplateMessageID = ""
}

// MarkTemplateSent records an out-of-window template send and moves the
// window to AWAITING_RESPONSE until the participant replies.
func (w *MessagingWindow) MarkTemplateSent(now time.Time, templateMessageID string) {
	w.Status = WindowAwaitingResponse
	w.TemplateMessageSent = true
	w.TemplateSentAt = &now
	w.TemplateMessageID = templateMessageID
}

// IsOpen reports whether a free-form reply is permitted at the given time.
func (w MessagingWindow) IsOpen(now time.Time) bool {
	return w.Status == WindowOpen && w.ExpiresAt != nil && now.Before(*w.ExpiresAt)
}

// AIContext is the rolling generation state attached to a conversation.
type AIContext struct {
	Summary                  string     `json:"summary"`
	Turns                    int        `json:"turns"`
	LastSummaryAt            *time.Time `json:"last_summary_at,omitempty"`
	MessagesSinceLastSummary int        `json:"messages_since_last_summary"`
}

// Conversation represents one participant's thread within a tenant partition.
// There is exactly one conversation per (tenant, participant) pair; rows are
// soft-lifecycled through Status and ClosedAt, never deleted.
type Conversation struct {
	ID             string             `json:"id"`
	TenantSchema   string             `json:"tenant_schema"`
	TenantID       string             `json:"tenant_id"`
	ParticipantID  string             `json:"participant_id"`
	DisplayName    string             `json:"display_name,omitempty"`
	Status         ConversationStatus `json:"status"`
	AI             AIContext          `json:"ai"`
	Window         MessagingWindow    `json:"window"`
	CreatedAt      time.Time          `json:"created_at"`
	LastActivityAt time.Time          `json:"last_activity_at"`
	ClosedAt       *time.Time         `json:"closed_at,omitempty"`
}
