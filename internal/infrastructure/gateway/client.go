// Package gateway implements the payment gateway port over the processor's
// REST API. The adapter stays thin: authentication, serialization and error
// classification; retry and compensation policy belong to the callers.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/payment"
)

const defaultTimeout = 10 * time.Second

// Client talks to the payment processor's REST API with basic auth.
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client; tests point it at an
// httptest server.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(g *Client) {
		if c != nil {
			g.httpClient = c
		}
	}
}

func NewClient(baseURL, keyID, keySecret string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		keyID:      keyID,
		keySecret:  keySecret,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createIntentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type createIntentResponse struct {
	ID string `json:"id"`
}

// CreateIntent registers a gateway-side order to collect amount (minor
// units) and returns its id.
func (c *Client) CreateIntent(ctx context.Context, amount int64, currency string) (*payment.Intent, error) {
	var resp createIntentResponse
	err := c.post(ctx, "/v1/orders", "", createIntentRequest{Amount: amount, Currency: currency}, &resp)
	if err != nil {
		return nil, err
	}
	return &payment.Intent{GatewayOrderID: resp.ID}, nil
}

type refundRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type refundResponse struct {
	ID string `json:"id"`
}

// Refund asks the gateway to return amount for a captured payment. The
// idempotency key is derived from the payment id so a redelivered refund
// request cannot double-refund.
func (c *Client) Refund(ctx context.Context, gatewayPaymentID string, amount int64, currency string) (*payment.RefundReceipt, error) {
	if gatewayPaymentID == "" {
		return nil, &payment.GatewayError{Status: http.StatusBadRequest, Message: "payment id is required"}
	}
	var resp refundResponse
	path := "/v1/payments/" + gatewayPaymentID + "/refund"
	idemKey := "refund-" + gatewayPaymentID
	if err := c.post(ctx, path, idemKey, refundRequest{Amount: amount, Currency: currency}, &resp); err != nil {
		return nil, err
	}
	return &payment.RefundReceipt{RefundID: resp.ID}, nil
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, body, dst any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("gateway: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("gateway: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &payment.GatewayError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("gateway: decode response: %w", err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	if len(raw) == 0 {
		return "empty response body"
	}
	const max = 256
	if len(raw) > max {
		raw = raw[:max]
	}
	return string(raw)
}
