package models

import "time"

// Processing outcomes recorded on the billing event audit log.
// StatusReceived is the transient state between the idempotent insert
// and the final status update after dispatch.
const (
	EventStatusReceived        = "received"
	EventStatusProcessed       = "processed"
	EventStatusIgnored         = "ignored"
	EventStatusFailed          = "failed"
	EventStatusCriticalFailure = "critical_failure"
)

// BillingEvent is the append-only audit log of provider webhook events.
// The unique index on ExternalEventID is the sole idempotency mechanism
// for webhook processing: an insert that affects no rows means the event
// was already applied, which holds even under concurrent duplicate
// delivery.
type BillingEvent struct {
	ID             uint  `gorm:"primaryKey" json:"id"`
	UserID         *uint `gorm:"index" json:"user_id,omitempty"`
	SubscriptionID *uint `gorm:"index" json:"subscription_id,omitempty"`

	ExternalEventID string `gorm:"type:varchar(191);not null;uniqueIndex:ux_billing_events_external_event" json:"external_event_id"`
	EventType       string `gorm:"type:varchar(100);not null;index" json:"event_type"`

	ProviderCustomerID     string `gorm:"type:varchar(191);index;default:''" json:"provider_customer_id,omitempty"`
	ProviderSubscriptionID string `gorm:"type:varchar(191);index;default:''" json:"provider_subscription_id,omitempty"`
	ProviderTransactionID  string `gorm:"type:varchar(191);index;default:''" json:"provider_transaction_id,omitempty"`

	RawPayload string `gorm:"type:longtext;not null" json:"raw_payload"`

	ProcessingStatus string `gorm:"type:varchar(32);not null;default:'received';index" json:"processing_status"`
	ProcessingError  string `gorm:"type:text" json:"processing_error,omitempty"`

	OccurredAt time.Time `gorm:"not null;index" json:"occurred_at"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
