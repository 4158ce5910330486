package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trendlytics/trendlytics/internal/pkg/env"
)

// Provider is the outbound billing API surface the service layer needs.
// The webhook path never calls it; inbound state flows exclusively
// through the Processor.
type Provider interface {
	CreateCustomer(ctx context.Context, email, name string) (string, error)
	CreateCheckout(ctx context.Context, customerID, priceID string, customData map[string]any) (string, error)
	UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) error
	ScheduleCancel(ctx context.Context, subscriptionID string) error
}

// PaddleClient talks to the Paddle Billing REST API.
type PaddleClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewPaddleClient builds a client from the environment. The sandbox
// host is used unless BILLING_ENVIRONMENT is "production".
func NewPaddleClient() *PaddleClient {
	base := "https://sandbox-api.paddle.com"
	if env.GetEnv("BILLING_ENVIRONMENT", "sandbox") == "production" {
		base = "https://api.paddle.com"
	}
	return &PaddleClient{
		baseURL: base,
		apiKey:  env.GetEnv("PADDLE_API_KEY", ""),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateCustomer registers a customer and returns the provider id.
func (c *PaddleClient) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	payload := map[string]any{"email": email, "name": name}
	if err := c.do(ctx, http.MethodPost, "/customers", payload, &out); err != nil {
		return "", fmt.Errorf("billing: creating customer: %w", err)
	}
	return out.Data.ID, nil
}

// CreateCheckout opens a hosted checkout transaction for one price and
// returns the URL the user completes payment on. Custom data is echoed
// back in webhook payloads and carries the local user id.
func (c *PaddleClient) CreateCheckout(ctx context.Context, customerID, priceID string, customData map[string]any) (string, error) {
	var out struct {
		Data struct {
			ID       string `json:"id"`
			Checkout struct {
				URL string `json:"url"`
			} `json:"checkout"`
		} `json:"data"`
	}
	payload := map[string]any{
		"customer_id": customerID,
		"items": []map[string]any{
			{"price_id": priceID, "quantity": 1},
		},
		"custom_data": customData,
	}
	if err := c.do(ctx, http.MethodPost, "/transactions", payload, &out); err != nil {
		return "", fmt.Errorf("billing: creating checkout: %w", err)
	}
	if out.Data.Checkout.URL == "" {
		return "", fmt.Errorf("billing: checkout transaction %s has no checkout url", out.Data.ID)
	}
	return out.Data.Checkout.URL, nil
}

// UpdateSubscriptionPrice swaps an active subscription onto a new price
// with prorated billing. The resulting state lands via webhook.
func (c *PaddleClient) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) error {
	payload := map[string]any{
		"items": []map[string]any{
			{"price_id": priceID, "quantity": 1},
		},
		"proration_billing_mode": "prorated_immediately",
	}
	if err := c.do(ctx, http.MethodPatch, "/subscriptions/"+subscriptionID, payload, nil); err != nil {
		return fmt.Errorf("billing: updating subscription %s: %w", subscriptionID, err)
	}
	return nil
}

// ScheduleCancel requests cancellation at the end of the current
// billing period.
func (c *PaddleClient) ScheduleCancel(ctx context.Context, subscriptionID string) error {
	payload := map[string]any{"effective_from": "next_billing_period"}
	if err := c.do(ctx, http.MethodPost, "/subscriptions/"+subscriptionID+"/cancel", payload, nil); err != nil {
		return fmt.Errorf("billing: canceling subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func (c *PaddleClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
