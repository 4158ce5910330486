package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/trendlytics/trendlytics/app/models"
	"github.com/trendlytics/trendlytics/app/repository"
	"github.com/trendlytics/trendlytics/internal/pkg/tiers"
)

// errUnhandledEventType marks event types the processor acknowledges
// but does not act on.
var errUnhandledEventType = errors.New("billing: unhandled event type")

// eventHandlers applies provider subscription events onto local state.
// Every mutating handler clears LocallyAsserted: provider events are
// the source of truth and always overwrite optimistic local writes.
type eventHandlers struct {
	users         repository.UserRepository
	subscriptions repository.SubscriptionRepository
	catalog       *tiers.Catalog
}

// lineItem carries the nested price reference the provider puts on
// both subscription and transaction items.
type lineItem struct {
	Price struct {
		ID string `json:"id"`
	} `json:"price"`
}

// billingPeriod is the provider's nested period object.
type billingPeriod struct {
	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
}

// subscriptionData is the payload shape shared by subscription.* events.
type subscriptionData struct {
	ID                   string         `json:"id"`
	CustomerID           string         `json:"customer_id"`
	Status               string         `json:"status"`
	CurrentBillingPeriod *billingPeriod `json:"current_billing_period,omitempty"`
	NextBilledAt         *time.Time     `json:"next_billed_at,omitempty"`
	TrialEndAt           *time.Time     `json:"trial_end_at,omitempty"`
	ScheduledChange      *struct {
		Action      string     `json:"action"`
		EffectiveAt *time.Time `json:"effective_at,omitempty"`
	} `json:"scheduled_change,omitempty"`
	Items      []lineItem     `json:"items"`
	CustomData map[string]any `json:"custom_data,omitempty"`
}

func (d *subscriptionData) periodStart() *time.Time {
	if d.CurrentBillingPeriod == nil {
		return nil
	}
	return d.CurrentBillingPeriod.StartsAt
}

func (d *subscriptionData) periodEnd() *time.Time {
	if d.CurrentBillingPeriod == nil {
		return nil
	}
	return d.CurrentBillingPeriod.EndsAt
}

// transactionData is the payload shape for transaction.* events.
type transactionData struct {
	ID             string     `json:"id"`
	CustomerID     string     `json:"customer_id"`
	SubscriptionID string     `json:"subscription_id"`
	Status         string     `json:"status"`
	Items          []lineItem `json:"items"`
}

// customerData is the payload shape for customer.* events.
type customerData struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	PortalURL string `json:"portal_url"`
}

func (h *eventHandlers) dispatch(ctx context.Context, evt *Event) error {
	switch evt.EventType {
	case "subscription.created":
		return h.subscriptionCreated(ctx, evt)
	case "subscription.updated":
		return h.subscriptionUpdated(ctx, evt)
	case "subscription.canceled":
		return h.subscriptionCanceled(ctx, evt)
	case "subscription.resumed":
		return h.subscriptionResumed(ctx, evt)
	case "subscription.paused":
		return h.subscriptionPaused(ctx, evt)
	case "subscription.trial_ended":
		return h.subscriptionTrialEnded(ctx, evt)
	case "transaction.completed":
		return h.transactionCompleted(ctx, evt)
	case "transaction.payment_failed":
		return h.transactionPaymentFailed(ctx, evt)
	case "customer.updated":
		return h.customerUpdated(ctx, evt)
	default:
		return errUnhandledEventType
	}
}

// subscriptionCreated activates a subscription. The local row is
// located by provider customer id (the subscription id is not known
// locally yet), falling back to a user id carried in custom data from
// the checkout.
func (h *eventHandlers) subscriptionCreated(_ context.Context, evt *Event) error {
	var data subscriptionData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		return fmt.Errorf("subscription.created: decoding payload: %w", err)
	}

	sub, err := h.subscriptions.GetByProviderCustomerID(data.CustomerID)
	if err != nil {
		return fmt.Errorf("subscription.created: looking up customer %s: %w", data.CustomerID, err)
	}
	if sub == nil {
		sub = h.locateByCustomData(data.CustomData)
	}
	if sub == nil {
		log.Printf("[Billing] subscription.created for unknown customer %s, skipping", data.CustomerID)
		return nil
	}

	sub.ProviderCustomerID = data.CustomerID
	sub.ProviderSubscriptionID = data.ID
	sub.Status = mapProviderStatus(data.Status)
	sub.CurrentPeriodStart = data.periodStart()
	sub.CurrentPeriodEnd = data.periodEnd()
	sub.NextBilledAt = data.NextBilledAt
	h.applyTierFromItems(sub, firstPriceID(data.Items))
	if data.TrialEndAt != nil {
		sub.IsTrial = true
		sub.TrialStartDate = data.periodStart()
		sub.TrialEndDate = data.TrialEndAt
	}
	sub.LocallyAsserted = false

	return h.subscriptions.Save(sub)
}

// subscriptionUpdated re-syncs the full subscription state, covering
// tier changes, renewals and scheduled cancellations alike.
func (h *eventHandlers) subscriptionUpdated(_ context.Context, evt *Event) error {
	var data subscriptionData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		return fmt.Errorf("subscription.updated: decoding payload: %w", err)
	}

	sub, err := h.subscriptions.GetByProviderSubscriptionID(data.ID)
	if err != nil {
		return fmt.Errorf("subscription.updated: looking up subscription %s: %w", data.ID, err)
	}
	if sub == nil {
		log.Printf("[Billing] subscription.updated for unknown subscription %s, skipping", data.ID)
		return nil
	}

	sub.Status = mapProviderStatus(data.Status)
	sub.CurrentPeriodStart = data.periodStart()
	sub.CurrentPeriodEnd = data.periodEnd()
	sub.NextBilledAt = data.NextBilledAt
	h.applyTierFromItems(sub, firstPriceID(data.Items))
	if data.ScheduledChange != nil && data.ScheduledChange.Action == "cancel" {
		log.Printf("[Billing] Subscription %s scheduled to cancel at %v", data.ID, data.ScheduledChange.EffectiveAt)
	}
	sub.LocallyAsserted = false

	return h.subscriptions.Save(sub)
}

// subscriptionCanceled drops the user back to the free tier immediately.
func (h *eventHandlers) subscriptionCanceled(_ context.Context, evt *Event) error {
	var data subscriptionData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		return fmt.Errorf("subscription.canceled: decoding payload: %w", err)
	}

	sub, err := h.subscriptions.GetByProviderSubscriptionID(data.ID)
	if err != nil {
		return fmt.Errorf("subscription.canceled: looking up subscription %s: %w", data.ID, err)
	}
	if sub == nil {
		log.Printf("[Billing] subscription.canceled for unknown subscription %s, skipping", data.ID)
		return nil
	}

	sub.Status = models.SubscriptionStatusCancelled
	h.applyTier(sub, tiers.Free)
	sub.ProviderSubscriptionID = ""
	sub.ProviderPriceID = ""
	sub.CurrentPeriodStart = nil
	sub.CurrentPeriodEnd = nil
	sub.NextBilledAt = nil
	sub.IsTrial = false
	sub.LocallyAsserted = false

	return h.subscriptions.Save(sub)
}

// subscriptionResumed reactivates a previously paused subscription.
func (h *eventHandlers) subscriptionResumed(_ context.Context, evt *Event) error {
	var data subscriptionData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		return fmt.Errorf("subscription.resumed: decoding payload: %w", err)
	}

	sub, err := h.subscriptions.GetByProviderSubscriptionID(data.ID)
	if err != nil {
		return fmt.Errorf("subscription.resumed: looking up subscription %s: %w", data.ID, err)
	}
	if sub == nil {
		log.Printf("[Billing] subscription.resumed for unknown subscription %s, skipping", data.ID)
		return nil
	}

	sub.Status = models.SubscriptionStatusActive
	sub.CurrentPeriodStart = data.periodStart()
	sub.CurrentPeriodEnd = data.periodEnd()
	sub.NextBilledAt = data.NextBilledAt
	h.applyTierFromItems(sub, firstPriceID(data.Items))
	sub.LocallyAsserted = false

	return h.subscriptions.Save(sub)
}

// subscriptionPaused suspends entitlements without discarding the
// provider linkage, so a later resume restores the paid tier.
func (h *eventHandlers) subscriptionPaused(_ context.Context, evt *Event) error {
	var data subscriptionData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		return fmt.Errorf("subscription.paused: decoding payload: %w", err)
	}

	sub, err := h.subscriptions.GetByProviderSubscriptionID(data.ID)
	if err != nil {
		return fmt.Errorf("subscription.paused: looking up subscription %s: %w", data.ID, err)
	}
	if sub == nil {
		log.Printf("[Billing] subscription.paused for unknown subscription %s, skipping", data.ID)
		return nil
	}

	sub.Status = models.SubscriptionStatusSuspended
	sub.LocallyAsserted = false

	return h.subscriptions.Save(sub)
}

// subscriptionTrialEnded clears the trial flags only; the concurrent
// subscription.updated event carries the resulting status.
func (h *eventHandlers) subscriptionTrialEnded(_ context.Context, evt *Event) error {
	var data subscriptionData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		return fmt.Errorf("subscription.trial_ended: decoding payload: %w", err)
	}

	sub, err := h.subscriptions.GetByProviderSubscriptionID(data.ID)
	if err != nil {
		return fmt.Errorf("subscription.trial_ended: looking up subscription %s: %w", data.ID, err)
	}
	if sub == nil {
		log.Printf("[Billing] subscription.trial_ended for unknown subscription %s, skipping", data.ID)
		return nil
	}

	sub.IsTrial = false
	sub.TrialEndDate = nil
	sub.LocallyAsserted = false

	return h.subscriptions.Save(sub)
}

// transactionCompleted confirms payment. Subscription activation and
// period anchors arrive on the subscription.* events; here a suspended
// subscription recovers once a retried payment clears.
func (h *eventHandlers) transactionCompleted(_ context.Context, evt *Event) error {
	var data transactionData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		return fmt.Errorf("transaction.completed: decoding payload: %w", err)
	}

	sub, err := h.subscriptions.GetByProviderCustomerID(data.CustomerID)
	if err != nil {
		return fmt.Errorf("transaction.completed: looking up customer %s: %w", data.CustomerID, err)
	}
	if sub == nil {
		log.Printf("[Billing] transaction.completed for unknown customer %s, skipping", data.CustomerID)
		return nil
	}

	if data.SubscriptionID != "" && sub.ProviderSubscriptionID == "" {
		sub.ProviderSubscriptionID = data.SubscriptionID
	}
	if sub.Status == models.SubscriptionStatusSuspended {
		sub.Status = models.SubscriptionStatusActive
	}
	sub.LocallyAsserted = false

	return h.subscriptions.Save(sub)
}

// transactionPaymentFailed suspends the subscription until the provider
// reports a successful retry or a cancellation.
func (h *eventHandlers) transactionPaymentFailed(_ context.Context, evt *Event) error {
	var data transactionData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		return fmt.Errorf("transaction.payment_failed: decoding payload: %w", err)
	}

	var sub *models.Subscription
	var err error
	if data.SubscriptionID != "" {
		sub, err = h.subscriptions.GetByProviderSubscriptionID(data.SubscriptionID)
	} else {
		sub, err = h.subscriptions.GetByProviderCustomerID(data.CustomerID)
	}
	if err != nil {
		return fmt.Errorf("transaction.payment_failed: looking up subscription: %w", err)
	}
	if sub == nil {
		log.Printf("[Billing] transaction.payment_failed for unknown customer %s, skipping", data.CustomerID)
		return nil
	}

	sub.Status = models.SubscriptionStatusSuspended
	sub.LocallyAsserted = false

	return h.subscriptions.Save(sub)
}

// customerUpdated refreshes the linkage between a provider customer and
// the local user record.
func (h *eventHandlers) customerUpdated(_ context.Context, evt *Event) error {
	var data customerData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		return fmt.Errorf("customer.updated: decoding payload: %w", err)
	}

	sub, err := h.subscriptions.GetByProviderCustomerID(data.ID)
	if err != nil {
		return fmt.Errorf("customer.updated: looking up customer %s: %w", data.ID, err)
	}
	if sub == nil && data.Email != "" {
		user, err := h.users.GetByEmail(data.Email)
		if err != nil {
			return fmt.Errorf("customer.updated: looking up user %s: %w", data.Email, err)
		}
		if user != nil {
			sub, err = h.subscriptions.GetOrCreateByUserID(user.ID)
			if err != nil {
				return fmt.Errorf("customer.updated: ensuring subscription for user %d: %w", user.ID, err)
			}
		}
	}
	if sub == nil {
		log.Printf("[Billing] customer.updated for unknown customer %s, skipping", data.ID)
		return nil
	}

	sub.ProviderCustomerID = data.ID
	if data.PortalURL != "" {
		sub.CustomerPortalURL = data.PortalURL
	}
	sub.LocallyAsserted = false

	return h.subscriptions.Save(sub)
}

// applyTierFromItems resolves the tier behind a price id and applies
// its limit snapshot. An unmapped price id leaves the current tier
// untouched rather than silently downgrading.
func (h *eventHandlers) applyTierFromItems(sub *models.Subscription, priceID string) {
	if priceID == "" {
		return
	}
	tier, ok := h.catalog.TierFromPriceID(priceID)
	if !ok {
		log.Printf("[Billing] No tier mapped for price id %s, keeping tier %s", priceID, sub.Tier)
		return
	}
	sub.ProviderPriceID = priceID
	h.applyTier(sub, tier)
}

// applyTier writes a tier and its catalog limit snapshot onto the row.
func (h *eventHandlers) applyTier(sub *models.Subscription, tier tiers.Tier) {
	entry := h.catalog.Info(tier)
	sub.Tier = string(tier)
	sub.MonthlyAPICallLimit = entry.Limits["api_call_per_month"]
	sub.MonthlyExportLimit = entry.Limits["export_per_month"]
	sub.MonthlySentimentLimit = entry.Limits["sentiment_analysis_per_month"]
	sub.DataRetentionDays = entry.DataRetentionDays
	sub.PricePerMonth = entry.Price
	sub.Currency = entry.Currency
}

// locateByCustomData finds the subscription row via a user_id passed
// through checkout custom data.
func (h *eventHandlers) locateByCustomData(custom map[string]any) *models.Subscription {
	raw, ok := custom["user_id"]
	if !ok {
		return nil
	}
	id, ok := raw.(float64)
	if !ok || id <= 0 {
		return nil
	}
	sub, err := h.subscriptions.GetOrCreateByUserID(uint(id))
	if err != nil {
		log.Printf("[Billing] Failed to resolve subscription from custom data user_id %v: %v", raw, err)
		return nil
	}
	return sub
}

func firstPriceID(items []lineItem) string {
	if len(items) == 0 {
		return ""
	}
	return items[0].Price.ID
}

// mapProviderStatus folds provider status strings onto the local
// lifecycle enum.
func mapProviderStatus(status string) string {
	switch status {
	case "active":
		return models.SubscriptionStatusActive
	case "trialing":
		return models.SubscriptionStatusTrialing
	case "paused", "past_due":
		return models.SubscriptionStatusSuspended
	case "canceled":
		return models.SubscriptionStatusCancelled
	default:
		return models.SubscriptionStatusInactive
	}
}
