package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendlytics/trendlytics/app/models"
	"github.com/trendlytics/trendlytics/app/repository"
	"github.com/trendlytics/trendlytics/internal/pkg/tiers"
)

// In-memory repository fakes shared by the webhook and service tests.

type fakeUserRepo struct {
	users map[uint]*models.User
}

func (f *fakeUserRepo) Create(u *models.User) error { f.users[u.ID] = u; return nil }
func (f *fakeUserRepo) GetByID(id uint) (*models.User, error) {
	return f.users[id], nil
}
func (f *fakeUserRepo) GetByEmail(email string) (*models.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}
func (f *fakeUserRepo) GetByAPIKeyHash(hash string) (*models.User, error) {
	for _, u := range f.users {
		if u.APIKeyHash == hash {
			return u, nil
		}
	}
	return nil, nil
}
func (f *fakeUserRepo) Update(u *models.User) error { f.users[u.ID] = u; return nil }
func (f *fakeUserRepo) TouchAPIKeyUsage(uint) error { return nil }

type fakeSubscriptionRepo struct {
	byUser    map[uint]*models.Subscription
	nextID    uint
	saveErr   error
	savePanic string
	saves     int
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{byUser: make(map[uint]*models.Subscription), nextID: 1}
}

func (f *fakeSubscriptionRepo) Create(sub *models.Subscription) error {
	sub.ID = f.nextID
	f.nextID++
	f.byUser[sub.UserID] = sub
	return nil
}
func (f *fakeSubscriptionRepo) GetByUserID(userID uint) (*models.Subscription, error) {
	return f.byUser[userID], nil
}
func (f *fakeSubscriptionRepo) GetByProviderCustomerID(customerID string) (*models.Subscription, error) {
	if customerID == "" {
		return nil, nil
	}
	for _, sub := range f.byUser {
		if sub.ProviderCustomerID == customerID {
			return sub, nil
		}
	}
	return nil, nil
}
func (f *fakeSubscriptionRepo) GetByProviderSubscriptionID(subscriptionID string) (*models.Subscription, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	for _, sub := range f.byUser {
		if sub.ProviderSubscriptionID == subscriptionID {
			return sub, nil
		}
	}
	return nil, nil
}
func (f *fakeSubscriptionRepo) Save(sub *models.Subscription) error {
	if f.savePanic != "" {
		panic(f.savePanic)
	}
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.byUser[sub.UserID] = sub
	return nil
}
func (f *fakeSubscriptionRepo) GetOrCreateByUserID(userID uint) (*models.Subscription, error) {
	if sub, ok := f.byUser[userID]; ok {
		return sub, nil
	}
	sub := &models.Subscription{
		UserID: userID,
		Tier:   models.TierFree,
		Status: models.SubscriptionStatusInactive,
	}
	return sub, f.Create(sub)
}

type fakeEventRepo struct {
	byExternalID map[string]*models.BillingEvent
	nextID       uint
	insertErr    error
	markErr      error
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{byExternalID: make(map[string]*models.BillingEvent), nextID: 1}
}

func (f *fakeEventRepo) CreateIfNotExists(event *models.BillingEvent) (bool, *models.BillingEvent, error) {
	if f.insertErr != nil {
		return false, nil, f.insertErr
	}
	if existing, ok := f.byExternalID[event.ExternalEventID]; ok {
		return false, existing, nil
	}
	event.ID = f.nextID
	f.nextID++
	f.byExternalID[event.ExternalEventID] = event
	return true, event, nil
}
func (f *fakeEventRepo) MarkProcessed(id uint, status, processingError string) error {
	if f.markErr != nil {
		return f.markErr
	}
	for _, evt := range f.byExternalID {
		if evt.ID == id {
			evt.ProcessingStatus = status
			evt.ProcessingError = processingError
			return nil
		}
	}
	return fmt.Errorf("no event with id %d", id)
}
func (f *fakeEventRepo) GetByExternalEventID(externalEventID string) (*models.BillingEvent, error) {
	return f.byExternalID[externalEventID], nil
}

type processorFixture struct {
	processor *Processor
	subs      *fakeSubscriptionRepo
	events    *fakeEventRepo
	users     *fakeUserRepo
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	t.Setenv("BILLING_PRO_PRICE_ID", "pri_pro_test")
	t.Setenv("BILLING_PREMIUM_PRICE_ID", "pri_premium_test")
	catalog, err := tiers.Load()
	require.NoError(t, err)

	fx := &processorFixture{
		subs:   newFakeSubscriptionRepo(),
		events: newFakeEventRepo(),
		users:  &fakeUserRepo{users: make(map[uint]*models.User)},
	}
	fx.processor = NewProcessor(testSecret, &repository.Repositories{
		User:         fx.users,
		Subscription: fx.subs,
		BillingEvent: fx.events,
	}, catalog)
	return fx
}

func (fx *processorFixture) deliver(t *testing.T, eventID, eventType string, data map[string]any) (*Outcome, error) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event_id":    eventID,
		"event_type":  eventType,
		"occurred_at": time.Now().UTC().Format(time.RFC3339),
		"data":        data,
	})
	require.NoError(t, err)
	return fx.processor.Process(context.Background(), sign(testSecret, "1735689600", body), body)
}

func TestProcessRejectsBadSignatureBeforeParsing(t *testing.T) {
	fx := newProcessorFixture(t)

	body := []byte(`{"event_id":"evt_1","event_type":"subscription.created","data":{}}`)
	_, err := fx.processor.Process(context.Background(), "ts=1;h1=deadbeef", body)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Empty(t, fx.events.byExternalID, "rejected deliveries must not reach the audit log")
}

func TestProcessRejectsMalformedPayload(t *testing.T) {
	fx := newProcessorFixture(t)

	body := []byte(`not json`)
	_, err := fx.processor.Process(context.Background(), sign(testSecret, "1", body), body)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	body = []byte(`{"event_type":"subscription.created","data":{}}`)
	_, err = fx.processor.Process(context.Background(), sign(testSecret, "1", body), body)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestProcessSubscriptionCreatedActivates(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.subs.byUser[7] = &models.Subscription{ID: 1, UserID: 7, Tier: models.TierFree, Status: models.SubscriptionStatusInactive, ProviderCustomerID: "ctm_1"}

	start := "2025-03-01T00:00:00Z"
	end := "2025-04-01T00:00:00Z"
	outcome, err := fx.deliver(t, "evt_created_1", "subscription.created", map[string]any{
		"id":          "sub_1",
		"customer_id": "ctm_1",
		"status":      "active",
		"current_billing_period": map[string]any{
			"starts_at": start,
			"ends_at":   end,
		},
		"items": []map[string]any{{"price": map[string]any{"id": "pri_pro_test"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusProcessed, outcome.ProcessingStatus)
	assert.False(t, outcome.Duplicate)

	sub := fx.subs.byUser[7]
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "sub_1", sub.ProviderSubscriptionID)
	assert.Equal(t, models.TierPro, sub.Tier)
	assert.Equal(t, 10000, sub.MonthlyAPICallLimit)
	require.NotNil(t, sub.CurrentPeriodStart)
	assert.Equal(t, ts(start), sub.CurrentPeriodStart.UTC())
	assert.False(t, sub.LocallyAsserted)
}

func TestProcessSubscriptionCreatedWithTrial(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.subs.byUser[7] = &models.Subscription{ID: 1, UserID: 7, Tier: models.TierFree, Status: models.SubscriptionStatusInactive, ProviderCustomerID: "ctm_1"}

	trialEnd := "2025-03-15T00:00:00Z"
	_, err := fx.deliver(t, "evt_trial_1", "subscription.created", map[string]any{
		"id":          "sub_1",
		"customer_id": "ctm_1",
		"status":      "trialing",
		"current_billing_period": map[string]any{
			"starts_at": "2025-03-01T00:00:00Z",
			"ends_at":   "2025-04-01T00:00:00Z",
		},
		"trial_end_at": trialEnd,
		"items":        []map[string]any{{"price": map[string]any{"id": "pri_pro_test"}}},
	})
	require.NoError(t, err)

	sub := fx.subs.byUser[7]
	assert.Equal(t, models.SubscriptionStatusTrialing, sub.Status)
	assert.Equal(t, models.TierPro, sub.Tier)
	assert.True(t, sub.IsTrial)
	require.NotNil(t, sub.TrialEndDate)
	assert.Equal(t, ts(trialEnd), sub.TrialEndDate.UTC())
}

func TestProcessIsIdempotentOnRedelivery(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.subs.byUser[7] = &models.Subscription{ID: 1, UserID: 7, ProviderCustomerID: "ctm_1", ProviderSubscriptionID: "sub_1", Status: models.SubscriptionStatusActive, Tier: models.TierPro}

	data := map[string]any{"id": "sub_1", "customer_id": "ctm_1", "status": "paused"}
	first, err := fx.deliver(t, "evt_pause_1", "subscription.paused", data)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusProcessed, first.ProcessingStatus)
	savesAfterFirst := fx.subs.saves

	second, err := fx.deliver(t, "evt_pause_1", "subscription.paused", data)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, "duplicate", second.ProcessingStatus)
	assert.Equal(t, savesAfterFirst, fx.subs.saves, "redelivery must not touch subscription state")
	assert.Len(t, fx.events.byExternalID, 1)
}

func TestProcessCancellationDropsToFree(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.subs.byUser[7] = &models.Subscription{
		ID: 1, UserID: 7,
		ProviderCustomerID:     "ctm_1",
		ProviderSubscriptionID: "sub_1",
		ProviderPriceID:        "pri_pro_test",
		Tier:                   models.TierPro,
		Status:                 models.SubscriptionStatusActive,
		MonthlyAPICallLimit:    10000,
	}

	outcome, err := fx.deliver(t, "evt_cancel_1", "subscription.canceled", map[string]any{
		"id": "sub_1", "customer_id": "ctm_1", "status": "canceled",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusProcessed, outcome.ProcessingStatus)

	sub := fx.subs.byUser[7]
	assert.Equal(t, models.TierFree, sub.Tier)
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)
	assert.Empty(t, sub.ProviderSubscriptionID)
	assert.Equal(t, 100, sub.MonthlyAPICallLimit)
	assert.Nil(t, sub.CurrentPeriodStart)
}

func TestProcessCreatedReactivatesCancelledRecord(t *testing.T) {
	fx := newProcessorFixture(t)
	// A cancelled record keeps its customer linkage but no subscription id.
	fx.subs.byUser[7] = &models.Subscription{
		ID: 1, UserID: 7,
		ProviderCustomerID: "ctm_1",
		Tier:               models.TierFree,
		Status:             models.SubscriptionStatusCancelled,
	}

	outcome, err := fx.deliver(t, "evt_recreate_1", "subscription.created", map[string]any{
		"id":          "sub_2",
		"customer_id": "ctm_1",
		"status":      "active",
		"items":       []map[string]any{{"price": map[string]any{"id": "pri_premium_test"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusProcessed, outcome.ProcessingStatus)

	sub := fx.subs.byUser[7]
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "sub_2", sub.ProviderSubscriptionID)
	assert.Equal(t, models.TierPremium, sub.Tier)
}

func TestProcessTransactionCompletedRecoversSuspended(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.subs.byUser[7] = &models.Subscription{
		ID: 1, UserID: 7,
		ProviderCustomerID:     "ctm_1",
		ProviderSubscriptionID: "sub_1",
		Tier:                   models.TierPro,
		Status:                 models.SubscriptionStatusSuspended,
	}

	outcome, err := fx.deliver(t, "evt_txn_1", "transaction.completed", map[string]any{
		"id": "txn_1", "customer_id": "ctm_1", "subscription_id": "sub_1", "status": "completed",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusProcessed, outcome.ProcessingStatus)
	assert.Equal(t, models.SubscriptionStatusActive, fx.subs.byUser[7].Status)
}

func TestProcessUnknownEventTypeIsIgnored(t *testing.T) {
	fx := newProcessorFixture(t)

	outcome, err := fx.deliver(t, "evt_odd_1", "address.created", map[string]any{"id": "add_1"})
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusIgnored, outcome.ProcessingStatus)
	assert.Equal(t, models.EventStatusIgnored, fx.events.byExternalID["evt_odd_1"].ProcessingStatus)
}

func TestProcessUnknownSubscriptionIsAcknowledged(t *testing.T) {
	fx := newProcessorFixture(t)

	outcome, err := fx.deliver(t, "evt_orphan_1", "subscription.paused", map[string]any{
		"id": "sub_missing", "customer_id": "ctm_missing", "status": "paused",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusProcessed, outcome.ProcessingStatus)
}

func TestProcessHandlerFailureRecordsFailedStatus(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.subs.byUser[7] = &models.Subscription{ID: 1, UserID: 7, ProviderSubscriptionID: "sub_1", Status: models.SubscriptionStatusActive}
	fx.subs.saveErr = fmt.Errorf("db gone")

	outcome, err := fx.deliver(t, "evt_fail_1", "subscription.paused", map[string]any{
		"id": "sub_1", "status": "paused",
	})
	require.NoError(t, err, "handler failures are acknowledged, not retried")
	assert.Equal(t, models.EventStatusFailed, outcome.ProcessingStatus)

	stored := fx.events.byExternalID["evt_fail_1"]
	assert.Equal(t, models.EventStatusFailed, stored.ProcessingStatus)
	assert.Contains(t, stored.ProcessingError, "db gone")
}

func TestProcessHandlerPanicRecordsCriticalFailure(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.subs.byUser[7] = &models.Subscription{ID: 1, UserID: 7, ProviderSubscriptionID: "sub_1", Status: models.SubscriptionStatusActive}
	fx.subs.savePanic = "index corrupted"

	outcome, err := fx.deliver(t, "evt_panic_1", "subscription.paused", map[string]any{
		"id": "sub_1", "status": "paused",
	})
	require.NoError(t, err, "a panicking handler is captured, not propagated")
	assert.Equal(t, models.EventStatusCriticalFailure, outcome.ProcessingStatus)

	stored := fx.events.byExternalID["evt_panic_1"]
	assert.Equal(t, models.EventStatusCriticalFailure, stored.ProcessingStatus)
	assert.Contains(t, stored.ProcessingError, "index corrupted")
}

func TestProcessAuditInsertFailureIsHardError(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.events.insertErr = fmt.Errorf("insert refused")

	_, err := fx.deliver(t, "evt_hard_1", "subscription.paused", map[string]any{"id": "sub_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert refused")
}

func TestProcessPaymentFailedSuspends(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.subs.byUser[7] = &models.Subscription{ID: 1, UserID: 7, ProviderCustomerID: "ctm_1", ProviderSubscriptionID: "sub_1", Tier: models.TierPro, Status: models.SubscriptionStatusActive}

	outcome, err := fx.deliver(t, "evt_payfail_1", "transaction.payment_failed", map[string]any{
		"id": "txn_1", "customer_id": "ctm_1", "subscription_id": "sub_1", "status": "failed",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusProcessed, outcome.ProcessingStatus)

	sub := fx.subs.byUser[7]
	assert.Equal(t, models.SubscriptionStatusSuspended, sub.Status)
	assert.Equal(t, models.TierPro, sub.Tier, "suspension keeps the tier for a later resume")
}
