package models

import "time"

// Subscription tiers. The catalog in internal/pkg/tiers must carry an
// entry for every constant listed here.
const (
	TierFree    = "free"
	TierPro     = "pro"
	TierPremium = "premium"
)

// Subscription lifecycle states, mirrored from the billing provider.
const (
	SubscriptionStatusInactive  = "inactive"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusTrialing  = "trialing"
	SubscriptionStatusSuspended = "suspended"
	SubscriptionStatusCancelled = "cancelled"
)

// Subscription is the per-user billing state machine. Exactly one row
// exists per user; it is created lazily as inactive/free and never
// deleted. Mutation happens through webhook handlers, or optimistically
// through user-initiated upgrade/cancel in which case LocallyAsserted is
// set until the next authoritative provider event overwrites the row.
type Subscription struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	UserID uint `gorm:"not null;uniqueIndex" json:"user_id"`

	ProviderCustomerID     string `gorm:"type:varchar(191);index;default:''" json:"provider_customer_id"`
	ProviderSubscriptionID string `gorm:"type:varchar(191);index;default:''" json:"provider_subscription_id"`
	ProviderPriceID        string `gorm:"type:varchar(191);default:''" json:"provider_price_id"`

	Tier   string `gorm:"type:varchar(20);not null;default:'free';index:idx_subscriptions_tier_status,priority:1" json:"tier"`
	Status string `gorm:"type:varchar(20);not null;default:'inactive';index:idx_subscriptions_tier_status,priority:2" json:"status"`

	CurrentPeriodStart *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	NextBilledAt       *time.Time `gorm:"type:timestamp;default:null" json:"next_billed_at,omitempty"`

	// Monthly limit snapshot, refreshed whenever the tier changes.
	MonthlyAPICallLimit   int `gorm:"not null;default:100" json:"monthly_api_call_limit"`
	MonthlyExportLimit    int `gorm:"not null;default:5" json:"monthly_export_limit"`
	MonthlySentimentLimit int `gorm:"not null;default:50" json:"monthly_sentiment_limit"`
	DataRetentionDays     int `gorm:"not null;default:30" json:"data_retention_days"`

	PricePerMonth float64 `gorm:"not null;default:0" json:"price_per_month"`
	Currency      string  `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`

	TrialStartDate *time.Time `gorm:"type:timestamp;default:null" json:"trial_start_date,omitempty"`
	TrialEndDate   *time.Time `gorm:"type:timestamp;default:null" json:"trial_end_date,omitempty"`
	IsTrial        bool       `gorm:"default:false" json:"is_trial"`

	CustomerPortalURL string `gorm:"type:varchar(500);default:''" json:"customer_portal_url,omitempty"`

	// LocallyAsserted marks state applied ahead of provider confirmation.
	// Webhook handlers clear it so the provider's view always wins.
	LocallyAsserted bool `gorm:"default:false" json:"locally_asserted"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActiveStatus reports whether the subscription currently entitles the
// user to its paid tier.
func (s *Subscription) IsActiveStatus() bool {
	return s.Status == SubscriptionStatusActive
}

// HasAnchoredPeriod reports whether the provider confirmed billing period
// anchors are present.
func (s *Subscription) HasAnchoredPeriod() bool {
	return s.CurrentPeriodStart != nil && s.CurrentPeriodEnd != nil
}
