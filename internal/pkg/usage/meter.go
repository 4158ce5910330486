// Package usage implements the metered-access pipeline: the append-only
// usage ledger and the admission gate that checks tier entitlements and
// monthly quotas before a metered request runs.
package usage

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trendlytics/trendlytics/app/models"
	"github.com/trendlytics/trendlytics/app/repository"
	"github.com/trendlytics/trendlytics/internal/pkg/billing"
)

// RequestContext carries per-request metadata onto usage ledger rows.
type RequestContext struct {
	RequestID string
	IPAddress string
	UserAgent string
}

// Meter reads and appends the usage ledger.
type Meter struct {
	usage         repository.UsageRepository
	subscriptions repository.SubscriptionRepository
}

// NewMeter wires a meter against the repository layer.
func NewMeter(repos *repository.Repositories) *Meter {
	return &Meter{usage: repos.Usage, subscriptions: repos.Subscription}
}

// UsedInPeriod sums the cost units a user consumed for one usage type
// within a billing period.
func (m *Meter) UsedInPeriod(userID uint, usageType string, period billing.Period) (int64, error) {
	used, err := m.usage.SumCostUnitsInPeriod(userID, usageType, period.Start, period.End)
	if err != nil {
		return 0, fmt.Errorf("usage: summing %s for user %d: %w", usageType, userID, err)
	}
	return used, nil
}

// Record appends one ledger row stamped with the billing period it
// counts against. The subscription linkage is best-effort; the row is
// valid without it.
func (m *Meter) Record(userID uint, sub *models.Subscription, usageType, endpoint string, costUnits int, period billing.Period, reqCtx RequestContext) error {
	if costUnits <= 0 {
		costUnits = 1
	}
	if reqCtx.RequestID == "" {
		reqCtx.RequestID = uuid.New().String()
	}

	record := &models.UsageRecord{
		UserID:             userID,
		UsageType:          usageType,
		Endpoint:           endpoint,
		CostUnits:          costUnits,
		RequestID:          reqCtx.RequestID,
		IPAddress:          reqCtx.IPAddress,
		UserAgent:          reqCtx.UserAgent,
		BillingPeriodStart: period.Start,
		BillingPeriodEnd:   period.End,
		CreatedAt:          time.Now().UTC(),
	}
	if sub != nil && sub.ID != 0 {
		record.SubscriptionID = &sub.ID
	}

	if err := m.usage.Create(record); err != nil {
		return fmt.Errorf("usage: recording %s for user %d: %w", usageType, userID, err)
	}
	return nil
}
