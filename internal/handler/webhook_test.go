package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-orchestrator/internal/dispatch"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/internal/tenant"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
)

type fakeRegistry struct {
	byChannel map[string]*model.TenantConfig
}

func (f *fakeRegistry) GetTenant(context.Context, string) (*model.TenantConfig, error) {
	return nil, nil
}

func (f *fakeRegistry) GetTenantByChannel(_ context.Context, phoneNumberID string) (*model.TenantConfig, error) {
	return f.byChannel[phoneNumberID], nil
}

type fakeInboundService struct {
	messages []dispatch.Inbound
	receipts []string
	statuses []model.DeliveryStatus
}

func (f *fakeInboundService) HandleMessage(_ context.Context, _ *model.TenantConfig, in dispatch.Inbound) error {
	f.messages = append(f.messages, in)
	return nil
}

func (f *fakeInboundService) HandleDeliveryReceipt(_ context.Context, _ *model.TenantConfig, channelMessageID string, status model.DeliveryStatus) error {
	f.receipts = append(f.receipts, channelMessageID)
	f.statuses = append(f.statuses, status)
	return nil
}

func newWebhookHandler(t *testing.T, svc InboundService, verifyToken, appSecret string) *WebhookHandler {
	t.Helper()
	log, err := logger.New("error")
	require.NoError(t, err)
	resolver := tenant.NewResolver(&fakeRegistry{byChannel: map[string]*model.TenantConfig{
		"555000": {TenantID: "t1", Schema: "acme"},
	}})
	return NewWebhookHandler(resolver, svc, verifyToken, appSecret, log)
}

func TestVerifyHandshake(t *testing.T) {
	h := newWebhookHandler(t, &fakeInboundService{}, "secret-token", "")

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	h.Verify(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "12345", rec.Body.String())
}

func TestVerifyRejectsBadToken(t *testing.T) {
	h := newWebhookHandler(t, &fakeInboundService{}, "secret-token", "")

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	h.Verify(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

const textDelivery = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "entry1",
		"changes": [{
			"field": "messages",
			"value": {
				"metadata": {"phone_number_id": "555000"},
				"contacts": [{"wa_id": "5511999", "profile": {"name": "Maria"}}],
				"messages": [{
					"id": "wamid.1",
					"from": "5511999",
					"type": "text",
					"timestamp": "1740830400",
					"text": {"body": "hello"}
				}]
			}
		}]
	}]
}`

func TestReceiveRoutesMessage(t *testing.T) {
	svc := &fakeInboundService{}
	h := newWebhookHandler(t, svc, "", "")

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(textDelivery))
	rec := httptest.NewRecorder()
	h.Receive(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.messages, 1)

	in := svc.messages[0]
	require.Equal(t, "wamid.1", in.ChannelMessageID)
	require.Equal(t, "5511999", in.From)
	require.Equal(t, "Maria", in.ProfileName)
	require.Equal(t, "hello", in.Text)
	require.Equal(t, int64(1740830400), in.Timestamp.Unix())
	require.NotEmpty(t, in.Raw)
}

func TestReceiveValidatesSignature(t *testing.T) {
	svc := &fakeInboundService{}
	h := newWebhookHandler(t, svc, "", "app-secret")

	body := []byte(textDelivery)

	// Missing signature.
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()
	h.Receive(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, svc.messages)

	// Valid signature.
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write(body)
	req = httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBuffer(body))
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	rec = httptest.NewRecorder()
	h.Receive(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.messages, 1)
}

func TestReceiveUnknownChannelIsAcknowledged(t *testing.T) {
	svc := &fakeInboundService{}
	log, err := logger.New("error")
	require.NoError(t, err)
	resolver := tenant.NewResolver(&fakeRegistry{byChannel: map[string]*model.TenantConfig{}})
	h := NewWebhookHandler(resolver, svc, "", "", log)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(textDelivery))
	rec := httptest.NewRecorder()
	h.Receive(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, svc.messages)
}

func TestReceiveRoutesStatuses(t *testing.T) {
	svc := &fakeInboundService{}
	h := newWebhookHandler(t, svc, "", "")

	payload := `{
		"entry": [{
			"changes": [{
				"field": "messages",
				"value": {
					"metadata": {"phone_number_id": "555000"},
					"statuses": [
						{"id": "wamid.out", "status": "delivered"},
						{"id": "wamid.out", "status": "warmup"}
					]
				}
			}]
		}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	h.Receive(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"wamid.out"}, svc.receipts)
	require.Equal(t, []model.DeliveryStatus{model.DeliveryDelivered}, svc.statuses)
}

func TestReceiveMalformedPayload(t *testing.T) {
	h := newWebhookHandler(t, &fakeInboundService{}, "", "")

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	h.Receive(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToInboundKinds(t *testing.T) {
	in := toInbound(webhookMessage{
		ID:   "wamid.loc",
		From: "5511999",
		Type: "location",
		Location: &struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
			Name      string  `json:"name"`
			Address   string  `json:"address"`
		}{Latitude: -23.5, Longitude: -46.6, Name: "Office"},
	}, "Maria")

	require.Equal(t, "location", in.Type)
	require.NotNil(t, in.Location)
	require.Equal(t, -23.5, in.Location.Latitude)

	reply := toInbound(webhookMessage{
		ID:   "wamid.r",
		Type: "text",
		Context: &struct {
			ID string `json:"id"`
		}{ID: "wamid.orig"},
		Text: &struct {
			Body string `json:"body"`
		}{Body: "replying"},
	}, "")
	require.Equal(t, "wamid.orig", reply.ReplyToChannelID)
}

func TestDeliveryStatusOf(t *testing.T) {
	for input, want := range map[string]model.DeliveryStatus{
		"sent":      model.DeliverySent,
		"delivered": model.DeliveryDelivered,
		"read":      model.DeliveryRead,
		"failed":    model.DeliveryFailed,
	} {
		got, ok := deliveryStatusOf(input)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	_, ok := deliveryStatusOf("queued")
	require.False(t, ok)
}
