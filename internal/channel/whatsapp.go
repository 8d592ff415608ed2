// Package channel implements the WhatsApp Cloud API transport used to send
// replies and acknowledge inbound messages.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/capitalize-ai/conversation-orchestrator/internal/apperr"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
)

const defaultAPIVersion = "v20.0"

// ListRow is one selectable row of an interactive list.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// List is an interactive list message.
type List struct {
	Header     string    `json:"header,omitempty"`
	Body       string    `json:"body"`
	ButtonText string    `json:"button_text"`
	Rows       []ListRow `json:"rows"`
}

// Transport is the channel API contract consumed by the engine. Every send
// returns the provider-assigned message id used later for delivery-status
// correlation.
type Transport interface {
	SendText(ctx context.Context, to, text string, creds model.ChannelCredentials) (string, error)
	SendImage(ctx context.Context, to, url, caption string, creds model.ChannelCredentials) (string, error)
	SendInteractiveList(ctx context.Context, to string, list List, creds model.ChannelCredentials) (string, error)
	SendTemplate(ctx context.Context, to, templateName, language string, creds model.ChannelCredentials) (string, error)
	MarkRead(ctx context.Context, channelMessageID string, creds model.ChannelCredentials) error
}

// Client talks to the Graph API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a channel client. baseURL overrides the Graph API host
// for tests; pass "" for production.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://graph.facebook.com"
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
	}
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText sends a free-form text message.
func (c *Client) SendText(ctx context.Context, to, text string, creds model.ChannelCredentials) (string, error) {
	return c.send(ctx, creds, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"body": text},
	})
}

// SendImage sends an image by URL with an optional caption.
func (c *Client) SendImage(ctx context.Context, to, url, caption string, creds model.ChannelCredentials) (string, error) {
	image := map[string]any{"link": url}
	if caption != "" {
		image["caption"] = caption
	}
	return c.send(ctx, creds, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "image",
		"image":             image,
	})
}

// SendInteractiveList sends an interactive list message.
func (c *Client) SendInteractiveList(ctx context.Context, to string, list List, creds model.ChannelCredentials) (string, error) {
	rows := make([]map[string]any, len(list.Rows))
	for i, row := range list.Rows {
		rows[i] = map[string]any{
			"id":          row.ID,
			"title":       row.Title,
			"description": row.Description,
		}
	}

	interactive := map[string]any{
		"type": "list",
		"body": map[string]any{"text": list.Body},
		"action": map[string]any{
			"button":   list.ButtonText,
			"sections": []map[string]any{{"rows": rows}},
		},
	}
	if list.Header != "" {
		interactive["header"] = map[string]any{"type": "text", "text": list.Header}
	}

	return c.send(ctx, creds, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive":       interactive,
	})
}

// SendTemplate sends a pre-approved template message, the only kind
// permitted outside the messaging window.
func (c *Client) SendTemplate(ctx context.Context, to, templateName, language string, creds model.ChannelCredentials) (string, error) {
	if language == "" {
		language = "en"
	}
	return c.send(ctx, creds, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "template",
		"template": map[string]any{
			"name":     templateName,
			"language": map[string]any{"code": language},
		},
	})
}

// MarkRead acknowledges an inbound message.
func (c *Client) MarkRead(ctx context.Context, channelMessageID string, creds model.ChannelCredentials) error {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        channelMessageID,
	}
	_, err := c.post(ctx, creds, body)
	return err
}

func (c *Client) send(ctx context.Context, creds model.ChannelCredentials, body map[string]any) (string, error) {
	respBody, err := c.post(ctx, creds, body)
	if err != nil {
		return "", err
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", apperr.New(apperr.CodeUnknown, "channel_response_decode", err)
	}
	if len(parsed.Messages) == 0 {
		return "", apperr.New(apperr.CodeUnknown, "channel_response_empty", nil)
	}
	return parsed.Messages[0].ID, nil
}

func (c *Client) post(ctx context.Context, creds model.ChannelCredentials, body map[string]any) ([]byte, error) {
	version := creds.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}
	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, version, creds.PhoneNumberID)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.New(apperr.CodeValidation, "channel_request_encode", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.New(apperr.CodeUnknown, "channel_request_build", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.New(apperr.CodeTransientIO, "channel_request", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperr.New(apperr.CodeTransientIO, "channel_api_unavailable",
			fmt.Errorf("status=%d body=%s", resp.StatusCode, respBody))
	}
	if resp.StatusCode >= 300 {
		return nil, apperr.New(apperr.CodeValidation, "channel_api_rejected",
			fmt.Errorf("status=%d body=%s", resp.StatusCode, respBody))
	}
	return respBody, nil
}
