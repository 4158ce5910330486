package models

import "time"

// Metered usage types. The tier catalog derives the monthly limit key
// for each type as "<usage_type>_per_month".
const (
	UsageTypeAPICall           = "api_call"
	UsageTypeExport            = "export"
	UsageTypeSentimentAnalysis = "sentiment_analysis"
)

// UsageRecord is one row in the append-only usage ledger. Rows are
// written synchronously at a successful admission decision and are never
// updated or deleted; monthly consumption is an aggregate over them.
type UsageRecord struct {
	ID             uint  `gorm:"primaryKey" json:"id"`
	UserID         uint  `gorm:"not null;index:idx_usage_records_user_type_created,priority:1;index:idx_usage_records_user_period,priority:1" json:"user_id"`
	SubscriptionID *uint `gorm:"index" json:"subscription_id,omitempty"`

	UsageType string `gorm:"type:varchar(32);not null;index:idx_usage_records_user_type_created,priority:2" json:"usage_type"`
	Endpoint  string `gorm:"type:varchar(191);not null;index" json:"endpoint"`
	CostUnits int    `gorm:"not null;default:1" json:"cost_units"`

	// Request context, kept for debugging and abuse analysis.
	RequestID string `gorm:"type:varchar(36);default:''" json:"request_id,omitempty"`
	IPAddress string `gorm:"type:varchar(45);default:''" json:"ip_address,omitempty"`
	UserAgent string `gorm:"type:text" json:"user_agent,omitempty"`

	BillingPeriodStart time.Time `gorm:"not null;index:idx_usage_records_user_period,priority:2" json:"billing_period_start"`
	BillingPeriodEnd   time.Time `gorm:"not null" json:"billing_period_end"`

	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_usage_records_user_type_created,priority:3" json:"created_at"`
}
