package controllers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendlytics/trendlytics/app/models"
	"github.com/trendlytics/trendlytics/app/repository"
	"github.com/trendlytics/trendlytics/internal/pkg/ratelimit"
	"github.com/trendlytics/trendlytics/internal/pkg/tiers"
)

const testWebhookSecret = "whsec_controller_test"

type memSubscriptionRepo struct {
	byUser map[uint]*models.Subscription
}

func (m *memSubscriptionRepo) Create(sub *models.Subscription) error {
	m.byUser[sub.UserID] = sub
	return nil
}
func (m *memSubscriptionRepo) GetByUserID(userID uint) (*models.Subscription, error) {
	return m.byUser[userID], nil
}
func (m *memSubscriptionRepo) GetByProviderCustomerID(customerID string) (*models.Subscription, error) {
	for _, sub := range m.byUser {
		if customerID != "" && sub.ProviderCustomerID == customerID {
			return sub, nil
		}
	}
	return nil, nil
}
func (m *memSubscriptionRepo) GetByProviderSubscriptionID(subscriptionID string) (*models.Subscription, error) {
	for _, sub := range m.byUser {
		if subscriptionID != "" && sub.ProviderSubscriptionID == subscriptionID {
			return sub, nil
		}
	}
	return nil, nil
}
func (m *memSubscriptionRepo) Save(sub *models.Subscription) error {
	m.byUser[sub.UserID] = sub
	return nil
}
func (m *memSubscriptionRepo) GetOrCreateByUserID(userID uint) (*models.Subscription, error) {
	if sub, ok := m.byUser[userID]; ok {
		return sub, nil
	}
	sub := &models.Subscription{UserID: userID, Tier: models.TierFree, Status: models.SubscriptionStatusInactive}
	m.byUser[userID] = sub
	return sub, nil
}

type memEventRepo struct {
	byExternalID map[string]*models.BillingEvent
	nextID       uint
}

func (m *memEventRepo) CreateIfNotExists(event *models.BillingEvent) (bool, *models.BillingEvent, error) {
	if existing, ok := m.byExternalID[event.ExternalEventID]; ok {
		return false, existing, nil
	}
	m.nextID++
	event.ID = m.nextID
	m.byExternalID[event.ExternalEventID] = event
	return true, event, nil
}
func (m *memEventRepo) MarkProcessed(id uint, status, processingError string) error {
	for _, evt := range m.byExternalID {
		if evt.ID == id {
			evt.ProcessingStatus = status
			evt.ProcessingError = processingError
			return nil
		}
	}
	return fmt.Errorf("no event %d", id)
}
func (m *memEventRepo) GetByExternalEventID(externalEventID string) (*models.BillingEvent, error) {
	return m.byExternalID[externalEventID], nil
}

type memUserRepo struct{}

func (memUserRepo) Create(*models.User) error                    { return nil }
func (memUserRepo) GetByID(uint) (*models.User, error)           { return nil, nil }
func (memUserRepo) GetByEmail(string) (*models.User, error)      { return nil, nil }
func (memUserRepo) GetByAPIKeyHash(string) (*models.User, error) { return nil, nil }
func (memUserRepo) Update(*models.User) error                    { return nil }
func (memUserRepo) TouchAPIKeyUsage(uint) error                  { return nil }

func newWebhookTestApp(t *testing.T) (*fiber.App, *memSubscriptionRepo, *memEventRepo) {
	t.Helper()
	t.Setenv("BILLING_PRO_PRICE_ID", "pri_pro_test")
	t.Setenv("BILLING_PREMIUM_PRICE_ID", "pri_premium_test")
	catalog, err := tiers.Load()
	require.NoError(t, err)

	subs := &memSubscriptionRepo{byUser: make(map[uint]*models.Subscription)}
	events := &memEventRepo{byExternalID: make(map[string]*models.BillingEvent)}
	Initialize(Deps{
		WebhookSecret: testWebhookSecret,
		Repos: &repository.Repositories{
			User:         memUserRepo{},
			Subscription: subs,
			BillingEvent: events,
		},
		Catalog:       catalog,
		Limiter:       ratelimit.NewMemoryLimiter(ratelimit.DefaultConfig()),
		LimiterConfig: ratelimit.DefaultConfig(),
	})

	app := fiber.New()
	app.Post("/api/v1/webhooks/paddle", HandleBillingWebhook)
	app.Get("/api/v1/webhooks/paddle/status", HandleWebhookStatus)
	app.Get("/api/v1/billing/tiers", HandleListTiers)
	return app, subs, events
}

func signWebhook(body []byte) string {
	ts := "1735689600"
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%s.%s", ts, body)
	return fmt.Sprintf("ts=%s;h1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func webhookBody(t *testing.T, eventID, eventType string, data map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event_id":    eventID,
		"event_type":  eventType,
		"occurred_at": time.Now().UTC().Format(time.RFC3339),
		"data":        data,
	})
	require.NoError(t, err)
	return body
}

func TestWebhookEndpointProcessesEvent(t *testing.T) {
	app, subs, events := newWebhookTestApp(t)
	subs.byUser[7] = &models.Subscription{ID: 1, UserID: 7, ProviderCustomerID: "ctm_1", ProviderSubscriptionID: "sub_1", Tier: models.TierPro, Status: models.SubscriptionStatusActive}

	body := webhookBody(t, "evt_http_1", "subscription.paused", map[string]any{
		"id": "sub_1", "customer_id": "ctm_1", "status": "paused",
	})
	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/webhooks/paddle", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Paddle-Signature", signWebhook(body))

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "evt_http_1", out["event_id"])
	assert.Equal(t, "subscription.paused", out["event_type"])
	assert.Equal(t, models.EventStatusProcessed, out["processing_status"])

	assert.Equal(t, models.SubscriptionStatusSuspended, subs.byUser[7].Status)
	assert.Len(t, events.byExternalID, 1)
}

func TestWebhookEndpointRejectsBadSignature(t *testing.T) {
	app, _, events := newWebhookTestApp(t)

	body := webhookBody(t, "evt_http_2", "subscription.paused", map[string]any{"id": "sub_1"})
	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/webhooks/paddle", bytes.NewReader(body))
	req.Header.Set("Paddle-Signature", "ts=1;h1=deadbeef")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, events.byExternalID)
}

func TestWebhookEndpointAcceptsSeparateTimestampHeader(t *testing.T) {
	app, subs, _ := newWebhookTestApp(t)
	subs.byUser[7] = &models.Subscription{ID: 1, UserID: 7, ProviderSubscriptionID: "sub_1", Tier: models.TierPro, Status: models.SubscriptionStatusActive}

	ts := "1735689600"
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	body := webhookBody(t, "evt_http_5", "subscription.paused", map[string]any{"id": "sub_1", "status": "paused"})
	fmt.Fprintf(mac, "%s.%s", ts, body)

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/webhooks/paddle", bytes.NewReader(body))
	req.Header.Set("Paddle-Signature", "h1="+hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("Paddle-Timestamp", ts)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, models.SubscriptionStatusSuspended, subs.byUser[7].Status)
}

func TestWebhookEndpointRejectsMissingHeader(t *testing.T) {
	app, _, _ := newWebhookTestApp(t)

	body := webhookBody(t, "evt_http_3", "subscription.paused", map[string]any{"id": "sub_1"})
	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/webhooks/paddle", bytes.NewReader(body))

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestWebhookEndpointRejectsMalformedBody(t *testing.T) {
	app, _, _ := newWebhookTestApp(t)

	body := []byte("not json at all")
	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/webhooks/paddle", bytes.NewReader(body))
	req.Header.Set("Paddle-Signature", signWebhook(body))

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestWebhookEndpointReportsDuplicates(t *testing.T) {
	app, _, events := newWebhookTestApp(t)

	body := webhookBody(t, "evt_http_4", "subscription.paused", map[string]any{"id": "sub_x"})
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(fiber.MethodPost, "/api/v1/webhooks/paddle", bytes.NewReader(body))
		req.Header.Set("Paddle-Signature", signWebhook(body))
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		if i == 0 {
			assert.Equal(t, models.EventStatusProcessed, out["processing_status"])
		} else {
			assert.Equal(t, "duplicate", out["processing_status"])
		}
	}
	assert.Len(t, events.byExternalID, 1)
}

func TestTiersEndpointListsCatalog(t *testing.T) {
	app, _, _ := newWebhookTestApp(t)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/billing/tiers", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out struct {
		Tiers []map[string]any `json:"tiers"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Tiers, 3)
	assert.Equal(t, "free", out.Tiers[0]["tier"])
}
