// Package sender delivers outbound messages through a WhatsApp
// Cloud-API-compatible HTTP endpoint.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jpkallio/flowline/pkg/api"
)

const defaultBaseURL = "https://graph.facebook.com/v19.0"

// WhatsAppSender sends text messages through the WhatsApp Cloud API.
// It implements api.MessageSender. Failures come back as failed
// SendResults, never as panics or hangs; the engine decides what a
// failed delivery means for the flow.
type WhatsAppSender struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

var _ api.MessageSender = (*WhatsAppSender)(nil)

// Option configures a WhatsAppSender.
type Option func(*WhatsAppSender)

// WithBaseURL overrides the Cloud API base URL. Tests point this at a
// local httptest server.
func WithBaseURL(u string) Option {
	return func(s *WhatsAppSender) { s.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *WhatsAppSender) { s.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *WhatsAppSender) { s.logger = l }
}

// New creates a WhatsAppSender.
func New(opts ...Option) *WhatsAppSender {
	s := &WhatsAppSender{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send delivers one text message to one contact. The credentials carry
// the tenant's phone number ID and access token.
func (s *WhatsAppSender) Send(ctx context.Context, creds api.SenderCredentials, contactAddress, text string) api.SendResult {
	body, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		To:               contactAddress,
		Type:             "text",
		Text:             textBody{Body: text},
	})
	if err != nil {
		return api.SendResult{Err: err}
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, creds.SenderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return api.SendResult{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return api.SendResult{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return api.SendResult{Err: err}
	}

	var parsed sendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil && resp.StatusCode < 300 {
		return api.SendResult{Err: fmt.Errorf("malformed provider response: %w", err)}
	}

	if resp.StatusCode >= 300 {
		msg := "provider rejected message"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		s.logger.WarnContext(ctx, "whatsapp send rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("contact", contactAddress),
		)
		return api.SendResult{Err: fmt.Errorf("%s (status %d)", msg, resp.StatusCode)}
	}

	result := api.SendResult{Success: true}
	if len(parsed.Messages) > 0 {
		result.ProviderMessageID = parsed.Messages[0].ID
	}
	return result
}
