package repository

import (
	"time"

	"github.com/trendlytics/trendlytics/app/models"
	"gorm.io/gorm"
)

type gormUsageRepository struct {
	db *gorm.DB
}

// NewUsageRepository creates a usage ledger repository backed by GORM.
func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &gormUsageRepository{db: db}
}

func (r *gormUsageRepository) Create(record *models.UsageRecord) error {
	return r.db.Create(record).Error
}

func (r *gormUsageRepository) CountSince(userID uint, usageType string, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.UsageRecord{}).
		Where("user_id = ? AND usage_type = ? AND created_at >= ?", userID, usageType, since).
		Count(&count).Error
	return count, err
}

func (r *gormUsageRepository) SumCostUnitsInPeriod(userID uint, usageType string, start, end time.Time) (int64, error) {
	var sum int64
	err := r.db.Model(&models.UsageRecord{}).
		Where("user_id = ? AND usage_type = ? AND billing_period_start >= ? AND billing_period_end <= ?",
			userID, usageType, start, end).
		Select("COALESCE(SUM(cost_units), 0)").
		Scan(&sum).Error
	return sum, err
}

func (r *gormUsageRepository) ListSince(userID uint, since time.Time) ([]models.UsageRecord, error) {
	var records []models.UsageRecord
	err := r.db.Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}
