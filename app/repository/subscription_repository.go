package repository

import (
	"errors"

	"github.com/trendlytics/trendlytics/app/models"
	"gorm.io/gorm"
)

type gormSubscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a subscription repository backed by GORM.
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &gormSubscriptionRepository{db: db}
}

func (r *gormSubscriptionRepository) Create(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *gormSubscriptionRepository) GetByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, ignoreNotFound(err)
	}
	return &sub, nil
}

func (r *gormSubscriptionRepository) GetByProviderCustomerID(customerID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("provider_customer_id = ? AND provider_customer_id != ''", customerID).
		First(&sub).Error; err != nil {
		return nil, ignoreNotFound(err)
	}
	return &sub, nil
}

func (r *gormSubscriptionRepository) GetByProviderSubscriptionID(subscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("provider_subscription_id = ? AND provider_subscription_id != ''", subscriptionID).
		First(&sub).Error; err != nil {
		return nil, ignoreNotFound(err)
	}
	return &sub, nil
}

func (r *gormSubscriptionRepository) Save(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

// GetOrCreateByUserID returns the user's subscription row, lazily creating
// the inactive free-tier default on first billing-relevant access.
func (r *gormSubscriptionRepository) GetOrCreateByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("user_id = ?", userID).First(&sub).Error
	if err == nil {
		return &sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	sub = models.Subscription{
		UserID: userID,
		Tier:   models.TierFree,
		Status: models.SubscriptionStatusInactive,
	}
	if err := r.db.Create(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}
