// Package tiers holds the static subscription tier catalog: feature
// flags, monthly usage limits and pricing per tier. The catalog is
// immutable after Load and total over the tier enum; a missing entry is
// a startup-time configuration error, never a runtime surprise.
package tiers

import (
	"fmt"
	"strings"

	"github.com/trendlytics/trendlytics/app/models"
	"github.com/trendlytics/trendlytics/internal/pkg/env"
)

// Tier is a named service level.
type Tier string

const (
	Free    Tier = models.TierFree
	Pro     Tier = models.TierPro
	Premium Tier = models.TierPremium
)

// Unlimited marks a usage limit without a cap.
const Unlimited = -1

// All returns every known tier. The catalog must carry an entry for
// each of them.
func All() []Tier {
	return []Tier{Free, Pro, Premium}
}

// Entry is the immutable catalog record for one tier.
type Entry struct {
	Name        string
	Description string
	Price       float64
	Currency    string
	// PriceID is the billing provider's price id for this tier; empty
	// for the free tier.
	PriceID           string
	Features          map[string]bool
	Limits            map[string]int
	DataRetentionDays int
}

// Catalog maps every tier to its entry.
type Catalog struct {
	entries map[Tier]Entry
}

// Load builds the catalog, resolving provider price ids from the
// environment, and validates totality over the tier enum.
func Load() (*Catalog, error) {
	c := &Catalog{entries: map[Tier]Entry{
		Free: {
			Name:        "Discover",
			Description: "Explore trends with pre-built scenarios",
			Price:       0,
			Currency:    "USD",
			Features: map[string]bool{
				"scenarios_api":       true,
				"query_api":           false,
				"collect_api":         false,
				"export_api":          false,
				"sentiment_analysis":  false,
				"analytics_dashboard": false,
			},
			Limits: map[string]int{
				"api_call_per_month":           100,
				"export_per_month":             5,
				"sentiment_analysis_per_month": 50,
			},
			DataRetentionDays: 30,
		},
		Pro: {
			Name:        "Research",
			Description: "Ad-hoc research with live searches",
			Price:       29,
			Currency:    "USD",
			PriceID:     strings.TrimSpace(env.GetEnv("BILLING_PRO_PRICE_ID", "")),
			Features: map[string]bool{
				"scenarios_api":       true,
				"query_api":           true,
				"collect_api":         false,
				"export_api":          true,
				"sentiment_analysis":  true,
				"analytics_dashboard": true,
			},
			Limits: map[string]int{
				"api_call_per_month":           10000,
				"export_per_month":             100,
				"sentiment_analysis_per_month": 2000,
			},
			DataRetentionDays: 365,
		},
		Premium: {
			Name:        "Intelligence",
			Description: "Persistent data collection with powerful analytics",
			Price:       79,
			Currency:    "USD",
			PriceID:     strings.TrimSpace(env.GetEnv("BILLING_PREMIUM_PRICE_ID", "")),
			Features: map[string]bool{
				"scenarios_api":       true,
				"query_api":           true,
				"collect_api":         true,
				"export_api":          true,
				"sentiment_analysis":  true,
				"analytics_dashboard": true,
			},
			Limits: map[string]int{
				"api_call_per_month":           Unlimited,
				"export_per_month":             1000,
				"sentiment_analysis_per_month": 20000,
			},
			DataRetentionDays: Unlimited,
		},
	}}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks totality: every known tier has an entry with complete
// feature and limit maps.
func (c *Catalog) Validate() error {
	for _, t := range All() {
		e, ok := c.entries[t]
		if !ok {
			return fmt.Errorf("tier catalog: missing entry for tier %q", t)
		}
		if len(e.Features) == 0 {
			return fmt.Errorf("tier catalog: tier %q has no feature flags", t)
		}
		for _, usageType := range []string{
			models.UsageTypeAPICall,
			models.UsageTypeExport,
			models.UsageTypeSentimentAnalysis,
		} {
			if _, ok := e.Limits[usageType+"_per_month"]; !ok {
				return fmt.Errorf("tier catalog: tier %q is missing a %s limit", t, usageType)
			}
		}
	}
	return nil
}

// Normalize maps an arbitrary stored tier string onto the closed tier
// enum, defaulting to Free for anything unknown.
func Normalize(tier string) Tier {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case string(Pro):
		return Pro
	case string(Premium):
		return Premium
	default:
		return Free
	}
}

// Info returns the full catalog entry for a tier.
func (c *Catalog) Info(t Tier) Entry {
	return c.entries[t]
}

// Limits returns the numeric limits for a tier.
func (c *Catalog) Limits(t Tier) map[string]int {
	return c.entries[t].Limits
}

// Features returns the feature flags for a tier.
func (c *Catalog) Features(t Tier) map[string]bool {
	return c.entries[t].Features
}

// HasFeature reports whether a tier grants access to a named feature.
func (c *Catalog) HasFeature(t Tier, feature string) bool {
	return c.entries[t].Features[feature]
}

// IsPaid reports whether a tier carries a recurring price.
func (c *Catalog) IsPaid(t Tier) bool {
	return c.entries[t].Price > 0
}

// LimitFor returns the monthly limit for a usage type on a tier.
// Unlimited (-1) means no cap; a usage type missing from the catalog
// yields zero, i.e. no allowance.
func (c *Catalog) LimitFor(t Tier, usageType string) int {
	limit, ok := c.entries[t].Limits[usageType+"_per_month"]
	if !ok {
		return 0
	}
	return limit
}

// TierFromPriceID resolves the tier a provider price id maps onto.
// The mapping is 1:1 by configuration.
func (c *Catalog) TierFromPriceID(priceID string) (Tier, bool) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return "", false
	}
	for _, t := range All() {
		if c.entries[t].PriceID == priceID {
			return t, true
		}
	}
	return "", false
}
