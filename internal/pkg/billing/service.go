package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/trendlytics/trendlytics/app/models"
	"github.com/trendlytics/trendlytics/app/repository"
	"github.com/trendlytics/trendlytics/internal/pkg/tiers"
)

var (
	// ErrAlreadySubscribed means the user already holds the requested
	// tier or a higher one.
	ErrAlreadySubscribed = errors.New("billing: already subscribed to this tier or higher")
	// ErrNoActiveSubscription means the operation needs a live provider
	// subscription and there is none.
	ErrNoActiveSubscription = errors.New("billing: no active subscription")
	// ErrFreeTierCheckout means a checkout was requested for the free
	// tier, which never goes through the provider.
	ErrFreeTierCheckout = errors.New("billing: the free tier has no checkout")
)

// Service carries user-initiated billing operations: checkout, tier
// change, cancellation and status/analytics reads. Webhooks remain the
// source of truth; mutations here are optimistic and marked
// LocallyAsserted until the provider confirms.
type Service struct {
	provider      Provider
	users         repository.UserRepository
	subscriptions repository.SubscriptionRepository
	usage         repository.UsageRepository
	catalog       *tiers.Catalog
}

// NewService wires the billing service.
func NewService(provider Provider, repos *repository.Repositories, catalog *tiers.Catalog) *Service {
	return &Service{
		provider:      provider,
		users:         repos.User,
		subscriptions: repos.Subscription,
		usage:         repos.Usage,
		catalog:       catalog,
	}
}

// tierRank orders tiers for upgrade/downgrade comparisons.
func tierRank(t tiers.Tier) int {
	switch t {
	case tiers.Premium:
		return 2
	case tiers.Pro:
		return 1
	default:
		return 0
	}
}

// CreateCheckout opens a hosted checkout for a paid tier. The provider
// customer is created lazily on first checkout and the local user id
// travels in custom data so subscription.created can find the row.
func (s *Service) CreateCheckout(ctx context.Context, userID uint, tier tiers.Tier) (string, error) {
	if !s.catalog.IsPaid(tier) {
		return "", ErrFreeTierCheckout
	}
	priceID := s.catalog.Info(tier).PriceID
	if priceID == "" {
		return "", fmt.Errorf("billing: no price configured for tier %s", tier)
	}

	sub, err := s.subscriptions.GetOrCreateByUserID(userID)
	if err != nil {
		return "", fmt.Errorf("billing: loading subscription for user %d: %w", userID, err)
	}
	if sub.IsActiveStatus() && tierRank(tiers.Normalize(sub.Tier)) >= tierRank(tier) {
		return "", ErrAlreadySubscribed
	}

	if sub.ProviderCustomerID == "" {
		user, err := s.users.GetByID(userID)
		if err != nil || user == nil {
			return "", fmt.Errorf("billing: loading user %d: %w", userID, err)
		}
		customerID, err := s.provider.CreateCustomer(ctx, user.Email, user.Username)
		if err != nil {
			return "", err
		}
		sub.ProviderCustomerID = customerID
		if err := s.subscriptions.Save(sub); err != nil {
			return "", fmt.Errorf("billing: saving customer id for user %d: %w", userID, err)
		}
	}

	return s.provider.CreateCheckout(ctx, sub.ProviderCustomerID, priceID, map[string]any{
		"user_id": userID,
		"tier":    string(tier),
	})
}

// ChangeTier moves an active subscription onto another paid tier via a
// prorated price change, applying the new tier locally right away. The
// optimistic write is flagged LocallyAsserted; the subscription.updated
// webhook clears the flag and settles the final state.
func (s *Service) ChangeTier(ctx context.Context, userID uint, tier tiers.Tier) error {
	if !s.catalog.IsPaid(tier) {
		return ErrFreeTierCheckout
	}
	priceID := s.catalog.Info(tier).PriceID
	if priceID == "" {
		return fmt.Errorf("billing: no price configured for tier %s", tier)
	}

	sub, err := s.subscriptions.GetByUserID(userID)
	if err != nil {
		return fmt.Errorf("billing: loading subscription for user %d: %w", userID, err)
	}
	if sub == nil || !sub.IsActiveStatus() || sub.ProviderSubscriptionID == "" {
		return ErrNoActiveSubscription
	}
	if tiers.Normalize(sub.Tier) == tier {
		return ErrAlreadySubscribed
	}

	if err := s.provider.UpdateSubscriptionPrice(ctx, sub.ProviderSubscriptionID, priceID); err != nil {
		return err
	}

	entry := s.catalog.Info(tier)
	sub.Tier = string(tier)
	sub.ProviderPriceID = priceID
	sub.MonthlyAPICallLimit = entry.Limits["api_call_per_month"]
	sub.MonthlyExportLimit = entry.Limits["export_per_month"]
	sub.MonthlySentimentLimit = entry.Limits["sentiment_analysis_per_month"]
	sub.DataRetentionDays = entry.DataRetentionDays
	sub.PricePerMonth = entry.Price
	sub.Currency = entry.Currency
	sub.LocallyAsserted = true
	if err := s.subscriptions.Save(sub); err != nil {
		return fmt.Errorf("billing: applying tier change for user %d: %w", userID, err)
	}

	log.Printf("[Billing] User %d moved to tier %s pending provider confirmation", userID, tier)
	return nil
}

// Cancel schedules the subscription to end at the period boundary. No
// local state changes: entitlements run until the provider sends the
// cancellation event.
func (s *Service) Cancel(ctx context.Context, userID uint) error {
	sub, err := s.subscriptions.GetByUserID(userID)
	if err != nil {
		return fmt.Errorf("billing: loading subscription for user %d: %w", userID, err)
	}
	if sub == nil || !sub.IsActiveStatus() || sub.ProviderSubscriptionID == "" {
		return ErrNoActiveSubscription
	}
	return s.provider.ScheduleCancel(ctx, sub.ProviderSubscriptionID)
}

// UsageStanding is the consumption of one usage type in the current
// billing period. Used is in cost units, Requests counts ledger rows;
// they diverge when a request charges more than one unit.
type UsageStanding struct {
	Used       int64   `json:"used"`
	Requests   int64   `json:"requests"`
	Limit      int     `json:"limit"`
	Percentage float64 `json:"percentage"`
}

// Status is the self-service view of a user's subscription and usage.
type Status struct {
	Tier            string                   `json:"tier"`
	TierName        string                   `json:"tier_name"`
	Status          string                   `json:"status"`
	IsTrial         bool                     `json:"is_trial"`
	PricePerMonth   float64                  `json:"price_per_month"`
	Currency        string                   `json:"currency"`
	PeriodStart     time.Time                `json:"period_start"`
	PeriodEnd       time.Time                `json:"period_end"`
	NextBilledAt    *time.Time               `json:"next_billed_at,omitempty"`
	PendingProvider bool                     `json:"pending_provider_confirmation"`
	Usage           map[string]UsageStanding `json:"usage"`
	Features        map[string]bool          `json:"features"`
}

// Status assembles the subscription status with per-type usage for the
// current billing period.
func (s *Service) Status(_ context.Context, userID uint, now time.Time) (*Status, error) {
	sub, err := s.subscriptions.GetOrCreateByUserID(userID)
	if err != nil {
		return nil, fmt.Errorf("billing: loading subscription for user %d: %w", userID, err)
	}

	tier := tiers.Normalize(sub.Tier)
	if !sub.IsActiveStatus() && sub.Status != models.SubscriptionStatusTrialing {
		tier = tiers.Free
	}
	entry := s.catalog.Info(tier)
	period := PeriodFor(sub, now)

	out := &Status{
		Tier:            string(tier),
		TierName:        entry.Name,
		Status:          sub.Status,
		IsTrial:         sub.IsTrial,
		PricePerMonth:   sub.PricePerMonth,
		Currency:        sub.Currency,
		PeriodStart:     period.Start,
		PeriodEnd:       period.End,
		NextBilledAt:    sub.NextBilledAt,
		PendingProvider: sub.LocallyAsserted,
		Usage:           make(map[string]UsageStanding, 3),
		Features:        entry.Features,
	}

	for _, usageType := range []string{
		models.UsageTypeAPICall,
		models.UsageTypeExport,
		models.UsageTypeSentimentAnalysis,
	} {
		used, err := s.usage.SumCostUnitsInPeriod(userID, usageType, period.Start, period.End)
		if err != nil {
			return nil, fmt.Errorf("billing: summing %s usage for user %d: %w", usageType, userID, err)
		}
		requests, err := s.usage.CountSince(userID, usageType, period.Start)
		if err != nil {
			return nil, fmt.Errorf("billing: counting %s usage for user %d: %w", usageType, userID, err)
		}
		limit := s.catalog.LimitFor(tier, usageType)
		standing := UsageStanding{Used: used, Requests: requests, Limit: limit}
		if limit > 0 {
			standing.Percentage = float64(used) / float64(limit) * 100
		}
		out.Usage[usageType] = standing
	}

	return out, nil
}

// DailyUsage is one day of aggregated usage.
type DailyUsage struct {
	Date  string           `json:"date"`
	Total int64            `json:"total"`
	Types map[string]int64 `json:"types"`
}

// Analytics aggregates the recent usage ledger by day and by endpoint.
type Analytics struct {
	Days        int              `json:"days"`
	TotalCalls  int64            `json:"total_calls"`
	Daily       []DailyUsage     `json:"daily"`
	ByEndpoint  map[string]int64 `json:"by_endpoint"`
	ByType      map[string]int64 `json:"by_type"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// UsageAnalytics aggregates the last n days of the usage ledger.
func (s *Service) UsageAnalytics(_ context.Context, userID uint, days int, now time.Time) (*Analytics, error) {
	if days <= 0 || days > 90 {
		days = 30
	}
	since := now.UTC().AddDate(0, 0, -days)

	records, err := s.usage.ListSince(userID, since)
	if err != nil {
		return nil, fmt.Errorf("billing: listing usage for user %d: %w", userID, err)
	}

	byDay := make(map[string]*DailyUsage)
	out := &Analytics{
		Days:        days,
		ByEndpoint:  make(map[string]int64),
		ByType:      make(map[string]int64),
		GeneratedAt: now.UTC(),
	}
	for _, rec := range records {
		day := rec.CreatedAt.UTC().Format("2006-01-02")
		bucket, ok := byDay[day]
		if !ok {
			bucket = &DailyUsage{Date: day, Types: make(map[string]int64)}
			byDay[day] = bucket
		}
		units := int64(rec.CostUnits)
		bucket.Total += units
		bucket.Types[rec.UsageType] += units
		out.TotalCalls += units
		out.ByType[rec.UsageType] += units
		if rec.Endpoint != "" {
			out.ByEndpoint[rec.Endpoint] += units
		}
	}

	out.Daily = make([]DailyUsage, 0, len(byDay))
	for _, bucket := range byDay {
		out.Daily = append(out.Daily, *bucket)
	}
	sort.Slice(out.Daily, func(i, j int) bool { return out.Daily[i].Date < out.Daily[j].Date })

	return out, nil
}
