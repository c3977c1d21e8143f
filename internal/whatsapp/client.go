// Package whatsapp implements the outbound side of the WhatsApp Cloud API:
// sending text messages to a conversation counterpart.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/facturabot/facturabot/internal/errors"
	"github.com/facturabot/facturabot/pkg/metrics"
)

const DefaultGraphBaseURL = "https://graph.facebook.com/v20.0"

const defaultTimeout = 10 * time.Second

type textPayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

// Client sends text messages through the Graph API. Send retries transient
// transport failures; callers treat any surviving error as fire-and-forget.
type Client struct {
	baseURL       string
	token         string
	phoneNumberID string
	httpClient    *http.Client
	log           *slog.Logger
}

// NewClient builds a Client. An empty baseURL falls back to the Graph API
// production endpoint.
func NewClient(baseURL, token, phoneNumberID string, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		baseURL:       baseURL,
		token:         token,
		phoneNumberID: phoneNumberID,
		httpClient:    &http.Client{Timeout: defaultTimeout},
		log:           log,
	}
}

// Send delivers a single text message to the given counterpart.
func (c *Client) Send(ctx context.Context, to, body string) error {
	payload := textPayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
	}
	payload.Text.Body = body

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode message payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)

	start := time.Now()
	err = apperrors.WithRetry(ctx, func() error {
		return c.doSend(ctx, url, data)
	})
	metrics.ObserveUpstreamRequest("whatsapp", "send_text", time.Since(start), err == nil)

	if err != nil {
		c.log.Error("failed to send whatsapp message",
			slog.String("to", to), slog.Any("error", err))
	}

	return err
}

// HealthCheck verifies the Graph API endpoint is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()

	return nil
}

func (c *Client) doSend(ctx context.Context, url string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return apperrors.NewTransportError(err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return apperrors.NewTransportError(
			fmt.Errorf("graph api returned %d: %s", resp.StatusCode, string(respBody)))
	}

	return nil
}
