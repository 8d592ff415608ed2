package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-orchestrator/internal/dispatch"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/internal/tenant"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/metrics"
)

// webhookPayload mirrors the channel's delivery envelope. One delivery can
// carry messages and statuses for several entries.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string       `json:"field"`
			Value webhookValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookValue struct {
	Metadata struct {
		PhoneNumberID string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []webhookMessage `json:"messages"`
	Statuses []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"statuses"`
}

type webhookMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Context   *struct {
		ID string `json:"id"`
	} `json:"context"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *webhookMedia `json:"image"`
	Audio    *webhookMedia `json:"audio"`
	Voice    *webhookMedia `json:"voice"`
	Video    *webhookMedia `json:"video"`
	Document *webhookMedia `json:"document"`
	Sticker  *webhookMedia `json:"sticker"`
	Button   *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button"`
	Interactive *struct {
		Type      string `json:"type"`
		ListReply *struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"list_reply"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
	} `json:"interactive"`
	Contacts []struct {
		Name struct {
			FormattedName string `json:"formatted_name"`
		} `json:"name"`
		Phones []struct {
			Phone string `json:"phone"`
		} `json:"phones"`
	} `json:"contacts"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name"`
		Address   string  `json:"address"`
	} `json:"location"`
	Reaction *struct {
		MessageID string `json:"message_id"`
		Emoji     string `json:"emoji"`
	} `json:"reaction"`
}

type webhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

// InboundService processes resolved webhook traffic.
type InboundService interface {
	HandleMessage(ctx context.Context, cfg *model.TenantConfig, in dispatch.Inbound) error
	HandleDeliveryReceipt(ctx context.Context, cfg *model.TenantConfig, channelMessageID string, status model.DeliveryStatus) error
}

// WebhookHandler handles channel webhook verification and deliveries.
type WebhookHandler struct {
	resolver    *tenant.Resolver
	service     InboundService
	verifyToken string
	appSecret   string
	logger      *logger.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(resolver *tenant.Resolver, service InboundService, verifyToken, appSecret string, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		resolver:    resolver,
		service:     service,
		verifyToken: verifyToken,
		appSecret:   appSecret,
		logger:      log,
	}
}

// Verify handles GET /webhook, the channel's subscription handshake.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		writeError(w, http.StatusForbidden, "verification failed")
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// Receive handles POST /webhook. Deliveries are always acknowledged with 200
// once authenticated; the channel retries on anything else and processing
// failures must not amplify into redeliveries of already-stored messages.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		metrics.RecordWebhook("read_error")
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if !h.validSignature(r, body) {
		metrics.RecordWebhook("bad_signature")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.RecordWebhook("bad_payload")
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			h.processValue(r.Context(), change.Value)
		}
	}

	metrics.RecordWebhook("accepted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (h *WebhookHandler) processValue(ctx context.Context, value webhookValue) {
	cfg, err := h.resolver.ByChannel(ctx, value.Metadata.PhoneNumberID)
	if err != nil {
		// Unknown channels are acknowledged and dropped; failing them would
		// only make the provider redeliver forever.
		h.logger.Warn("webhook for unresolvable channel",
			zap.String("phone_number_id", value.Metadata.PhoneNumberID),
			zap.Error(err))
		metrics.RecordWebhook("unknown_channel")
		return
	}

	names := map[string]string{}
	for _, contact := range value.Contacts {
		names[contact.WaID] = contact.Profile.Name
	}

	for _, msg := range value.Messages {
		in := toInbound(msg, names[msg.From])
		if err := h.service.HandleMessage(ctx, cfg, in); err != nil {
			h.logger.Error("inbound message processing failed",
				zap.String("tenant_id", cfg.TenantID),
				zap.String("channel_message_id", msg.ID),
				zap.Error(err))
		}
	}

	for _, status := range value.Statuses {
		ds, ok := deliveryStatusOf(status.Status)
		if !ok {
			continue
		}
		if err := h.service.HandleDeliveryReceipt(ctx, cfg, status.ID, ds); err != nil {
			h.logger.Warn("delivery receipt failed",
				zap.String("tenant_id", cfg.TenantID),
				zap.String("channel_message_id", status.ID),
				zap.Error(err))
		}
	}
}

func (h *WebhookHandler) validSignature(r *http.Request, body []byte) bool {
	if h.appSecret == "" {
		// Signature enforcement requires the app secret; without it every
		// delivery would be rejected, so local setups run unsigned.
		return true
	}

	sig := strings.TrimSpace(r.Header.Get("X-Hub-Signature-256"))
	if !strings.HasPrefix(sig, "sha256=") {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(sig, "sha256="))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// toInbound converts one webhook message into the dispatcher's input shape.
// Unrecognized types pass through with Raw set so the dispatcher can store
// the unsupported fallback.
func toInbound(msg webhookMessage, profileName string) dispatch.Inbound {
	in := dispatch.Inbound{
		ChannelMessageID: msg.ID,
		From:             msg.From,
		ProfileName:      profileName,
		Type:             msg.Type,
		Timestamp:        parseEpoch(msg.Timestamp),
	}
	if msg.Context != nil {
		in.ReplyToChannelID = msg.Context.ID
	}

	if msg.Text != nil {
		in.Text = msg.Text.Body
	}
	if media := firstMedia(msg); media != nil {
		in.Media = &model.MediaContent{
			MediaID:  media.ID,
			MimeType: media.MimeType,
			SHA256:   media.SHA256,
			Caption:  media.Caption,
			Filename: media.Filename,
		}
	}
	if msg.Button != nil {
		in.Interactive = &model.InteractiveContent{
			SelectionID:    msg.Button.Payload,
			SelectionTitle: msg.Button.Text,
		}
	}
	if msg.Interactive != nil {
		switch {
		case msg.Interactive.ListReply != nil:
			in.Interactive = &model.InteractiveContent{
				SelectionID:    msg.Interactive.ListReply.ID,
				SelectionTitle: msg.Interactive.ListReply.Title,
				ListTitle:      msg.Interactive.ListReply.Description,
			}
		case msg.Interactive.ButtonReply != nil:
			in.Interactive = &model.InteractiveContent{
				SelectionID:    msg.Interactive.ButtonReply.ID,
				SelectionTitle: msg.Interactive.ButtonReply.Title,
			}
		}
	}
	for _, contact := range msg.Contacts {
		card := model.ContactCard{Name: contact.Name.FormattedName}
		if len(contact.Phones) > 0 {
			card.Phone = contact.Phones[0].Phone
		}
		in.Contacts = append(in.Contacts, card)
	}
	if msg.Location != nil {
		in.Location = &model.LocationContent{
			Latitude:  msg.Location.Latitude,
			Longitude: msg.Location.Longitude,
			Name:      msg.Location.Name,
			Address:   msg.Location.Address,
		}
	}
	if msg.Reaction != nil {
		in.Reaction = &model.ReactionContent{
			TargetChannelMessageID: msg.Reaction.MessageID,
			Emoji:                  msg.Reaction.Emoji,
		}
	}

	if raw, err := json.Marshal(msg); err == nil {
		in.Raw = string(raw)
	}
	return in
}

func firstMedia(msg webhookMessage) *webhookMedia {
	for _, m := range []*webhookMedia{msg.Image, msg.Audio, msg.Voice, msg.Video, msg.Document, msg.Sticker} {
		if m != nil {
			return m
		}
	}
	return nil
}

func deliveryStatusOf(s string) (model.DeliveryStatus, bool) {
	switch s {
	case "sent":
		return model.DeliverySent, true
	case "delivered":
		return model.DeliveryDelivered, true
	case "read":
		return model.DeliveryRead, true
	case "failed":
		return model.DeliveryFailed, true
	default:
		return "", false
	}
}

func parseEpoch(s string) time.Time {
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0).UTC()
	}
	return time.Now().UTC()
}
