package tiers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendlytics/trendlytics/app/models"
)

func TestLoadCatalogIsTotal(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	for _, tier := range All() {
		e := c.Info(tier)
		assert.NotEmpty(t, e.Name, "tier %s must have a display name", tier)
		assert.NotEmpty(t, e.Limits, "tier %s must have limits", tier)
		assert.NotEmpty(t, e.Features, "tier %s must have feature flags", tier)
	}
}

func TestValidateRejectsIncompleteCatalog(t *testing.T) {
	c := &Catalog{entries: map[Tier]Entry{
		Free: {Name: "Discover", Features: map[string]bool{"scenarios_api": true}},
	}}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestLimitFor(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 100, c.LimitFor(Free, models.UsageTypeAPICall))
	assert.Equal(t, 10000, c.LimitFor(Pro, models.UsageTypeAPICall))
	assert.Equal(t, Unlimited, c.LimitFor(Premium, models.UsageTypeAPICall))
	assert.Equal(t, 0, c.LimitFor(Free, "no_such_usage"), "unknown usage types get no allowance")
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, Pro, Normalize("pro"))
	assert.Equal(t, Pro, Normalize("  PRO "))
	assert.Equal(t, Premium, Normalize("premium"))
	assert.Equal(t, Free, Normalize("free"))
	assert.Equal(t, Free, Normalize("enterprise"))
	assert.Equal(t, Free, Normalize(""))
}

func TestIsPaidAndFeatures(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	assert.False(t, c.IsPaid(Free))
	assert.True(t, c.IsPaid(Pro))
	assert.True(t, c.IsPaid(Premium))

	assert.False(t, c.HasFeature(Free, "export_api"))
	assert.True(t, c.HasFeature(Pro, "export_api"))
	assert.False(t, c.HasFeature(Pro, "collect_api"))
	assert.True(t, c.HasFeature(Premium, "collect_api"))
}
