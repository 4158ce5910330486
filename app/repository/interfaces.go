package repository

import (
	"time"

	"github.com/trendlytics/trendlytics/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
	TouchAPIKeyUsage(id uint) error
}

// SubscriptionRepository defines the interface for subscription state access.
// There is at most one row per user; rows are never deleted.
type SubscriptionRepository interface {
	Create(sub *models.Subscription) error
	GetByUserID(userID uint) (*models.Subscription, error)
	GetByProviderCustomerID(customerID string) (*models.Subscription, error)
	GetByProviderSubscriptionID(subscriptionID string) (*models.Subscription, error)
	Save(sub *models.Subscription) error
	GetOrCreateByUserID(userID uint) (*models.Subscription, error)
}

// UsageRepository defines the interface for the append-only usage ledger.
type UsageRepository interface {
	Create(record *models.UsageRecord) error
	CountSince(userID uint, usageType string, since time.Time) (int64, error)
	SumCostUnitsInPeriod(userID uint, usageType string, start, end time.Time) (int64, error)
	ListSince(userID uint, since time.Time) ([]models.UsageRecord, error)
}

// BillingEventRepository defines the interface for the webhook audit log.
type BillingEventRepository interface {
	// CreateIfNotExists inserts the event unless a row with the same
	// external event id already exists. It returns whether a new row was
	// created together with the stored row.
	CreateIfNotExists(event *models.BillingEvent) (bool, *models.BillingEvent, error)
	MarkProcessed(id uint, status, processingError string) error
	GetByExternalEventID(externalEventID string) (*models.BillingEvent, error)
}

// Repositories bundles all repository implementations
type Repositories struct {
	User         UserRepository
	Subscription SubscriptionRepository
	Usage        UsageRepository
	BillingEvent BillingEventRepository
}
