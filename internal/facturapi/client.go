// Package facturapi implements the HTTP client for the Facturapi billing
// service, which stamps CFDI documents against the SAT.
package facturapi

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

const DefaultBaseURL = "https://www.facturapi.io/v2"

const defaultTimeout = 15 * time.Second

// APIError carries the status code and raw body of a non-success response.
// The body is the diagnostic payload; Facturapi returns structured error
// descriptions there.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("facturapi returned %d: %s", e.StatusCode, e.Body)
}

// Client talks to the Facturapi REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *apperrors.CircuitBreaker
	log        *slog.Logger
}

// NewClient builds a Client. An empty baseURL falls back to the production
// endpoint; tests point it at a local server.
func NewClient(baseURL, apiKey string, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		breaker:    apperrors.NewCircuitBreaker(),
		log:        log,
	}
}

// CreateCustomer registers the CFDI receiver and returns its identifier.
func (c *Client) CreateCustomer(ctx context.Context, req CustomerRequest) (*Customer, error) {
	var customer Customer
	if err := c.post(ctx, "/customers", "create_customer", req, &customer); err != nil {
		return nil, err
	}

	return &customer, nil
}

// CreateInvoice stamps a CFDI for a previously created customer.
func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	var invoice Invoice
	if err := c.post(ctx, "/invoices", "create_invoice", req, &invoice); err != nil {
		return nil, err
	}

	return &invoice, nil
}

// HealthCheck verifies the API endpoint is reachable.
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

func (c *Client) post(ctx context.Context, path, operation string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", operation, err)
	}

	start := time.Now()
	err = c.breaker.Call(func() error {
		return c.doPost(ctx, path, body, out)
	})
	metrics.ObserveUpstreamRequest("facturapi", operation, time.Since(start), err == nil)

	if err != nil {
		c.log.Error("facturapi request failed",
			slog.String("operation", operation), slog.Any("error", err))
	}

	return err
}

func (c *Client) doPost(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil {
		return nil
	}

	return json.Unmarshal(respBody, out)
}
