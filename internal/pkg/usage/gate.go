package usage

import (
	"fmt"
	"time"

	"github.com/trendlytics/trendlytics/app/models"
	"github.com/trendlytics/trendlytics/app/repository"
	"github.com/trendlytics/trendlytics/internal/pkg/billing"
	"github.com/trendlytics/trendlytics/internal/pkg/tiers"
)

// QuotaExceededError means the monthly quota for a usage type is spent.
type QuotaExceededError struct {
	Tier      tiers.Tier
	UsageType string
	Limit     int
	Current   int64
	ResetAt   time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("usage: %s quota exceeded on tier %s (%d/%d), resets %s",
		e.UsageType, e.Tier, e.Current, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// PaymentRequiredError means the user holds a paid tier whose
// subscription has lapsed.
type PaymentRequiredError struct {
	Tier   tiers.Tier
	Status string
}

func (e *PaymentRequiredError) Error() string {
	return fmt.Sprintf("usage: paid tier %s requires an active subscription (status %s)", e.Tier, e.Status)
}

// AdmissionResult describes a granted admission, for response headers
// and logging. Current includes the request just admitted.
type AdmissionResult struct {
	Tier        tiers.Tier
	UsageType   string
	Current     int64
	Limit       int
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Remaining returns how much quota is left, or -1 when unlimited.
func (r *AdmissionResult) Remaining() int {
	if r.Limit == tiers.Unlimited {
		return tiers.Unlimited
	}
	if left := int64(r.Limit) - r.Current; left > 0 {
		return int(left)
	}
	return 0
}

// Gate is the admission control for metered endpoints. Admit resolves
// the effective tier, checks the monthly quota and subscription
// standing, and records the usage row before the request proceeds.
//
// The quota check and the record are not one atomic step: two
// concurrent requests at the boundary can both observe count=limit-1
// and both be admitted. The quota is a soft commercial limit; burst
// protection is the rate limiter's job.
type Gate struct {
	meter         *Meter
	subscriptions repository.SubscriptionRepository
	catalog       *tiers.Catalog
	now           func() time.Time
}

// NewGate wires an admission gate.
func NewGate(repos *repository.Repositories, catalog *tiers.Catalog) *Gate {
	return &Gate{
		meter:         NewMeter(repos),
		subscriptions: repos.Subscription,
		catalog:       catalog,
		now:           time.Now,
	}
}

// Admit decides whether one metered request may proceed and, when it
// may, durably records it before reporting success. A persistence
// failure on the record step fails the admission: usage that cannot be
// metered is not served.
func (g *Gate) Admit(userID uint, usageType, endpoint string, reqCtx RequestContext) (*AdmissionResult, error) {
	now := g.now().UTC()

	sub, err := g.subscriptions.GetByUserID(userID)
	if err != nil {
		return nil, fmt.Errorf("usage: loading subscription for user %d: %w", userID, err)
	}

	tier := effectiveTier(sub)
	period := billing.PeriodFor(sub, now)
	limit := g.catalog.LimitFor(tier, usageType)

	// The count is taken even for unlimited tiers so the admission
	// result reports real usage in headers.
	current, err := g.meter.UsedInPeriod(userID, usageType, period)
	if err != nil {
		return nil, err
	}
	if limit != tiers.Unlimited && current >= int64(limit) {
		return nil, &QuotaExceededError{
			Tier:      tier,
			UsageType: usageType,
			Limit:     limit,
			Current:   current,
			ResetAt:   period.End,
		}
	}

	// A lapsed paid subscription is rejected independent of quota; the
	// free tier is admitted on quota grounds alone.
	if g.catalog.IsPaid(tier) && !entitled(sub) {
		return nil, &PaymentRequiredError{Tier: tier, Status: sub.Status}
	}

	if err := g.meter.Record(userID, sub, usageType, endpoint, 1, period, reqCtx); err != nil {
		return nil, err
	}

	return &AdmissionResult{
		Tier:        tier,
		UsageType:   usageType,
		Current:     current + 1,
		Limit:       limit,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
	}, nil
}

// effectiveTier resolves the tier limits are evaluated against. A
// missing or never-activated record meters as free; suspended and
// cancelled records keep their stored tier so the lapsed-payment check
// can fire.
func effectiveTier(sub *models.Subscription) tiers.Tier {
	if sub == nil || sub.Status == models.SubscriptionStatusInactive {
		return tiers.Free
	}
	return tiers.Normalize(sub.Tier)
}

// entitled reports whether the subscription's status grants its paid
// tier right now.
func entitled(sub *models.Subscription) bool {
	if sub == nil {
		return false
	}
	return sub.Status == models.SubscriptionStatusActive || sub.Status == models.SubscriptionStatusTrialing
}
