package repository

import (
	"time"

	"github.com/trendlytics/trendlytics/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormBillingEventRepository struct {
	db *gorm.DB
}

// NewBillingEventRepository creates an audit log repository backed by GORM.
func NewBillingEventRepository(db *gorm.DB) BillingEventRepository {
	return &gormBillingEventRepository{db: db}
}

// CreateIfNotExists relies on the unique index on external_event_id: the
// insert affects no rows for a duplicate, including when two deliveries
// of the same event race each other.
func (r *gormBillingEventRepository) CreateIfNotExists(event *models.BillingEvent) (bool, *models.BillingEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingEvent
	if err := r.db.Where("external_event_id = ?", event.ExternalEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormBillingEventRepository) MarkProcessed(id uint, status, processingError string) error {
	now := time.Now()
	return r.db.Model(&models.BillingEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processing_status": status,
		"processing_error":  processingError,
		"updated_at":        now,
	}).Error
}

func (r *gormBillingEventRepository) GetByExternalEventID(externalEventID string) (*models.BillingEvent, error) {
	var event models.BillingEvent
	if err := r.db.Where("external_event_id = ?", externalEventID).First(&event).Error; err != nil {
		return nil, ignoreNotFound(err)
	}
	return &event, nil
}
