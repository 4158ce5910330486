package billing

import (
	"time"

	"github.com/trendlytics/trendlytics/app/models"
)

// Period is a half-open billing interval [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// PeriodFor computes the billing period a moment belongs to.
//
// Provider-anchored period bounds are used verbatim whenever they are
// present, regardless of status; cancellation clears the anchors, so a
// row that still carries them is mid-cycle (trialing and suspended
// included). Everything else (no subscription, missing anchors) falls
// back to the UTC calendar month containing now, so that two requests
// in the same month always meter into the same bucket.
func PeriodFor(sub *models.Subscription, now time.Time) Period {
	if sub != nil && sub.HasAnchoredPeriod() {
		return Period{Start: *sub.CurrentPeriodStart, End: *sub.CurrentPeriodEnd}
	}
	return calendarMonth(now)
}

func calendarMonth(now time.Time) Period {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}
