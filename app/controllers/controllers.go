package controllers

import (
	"github.com/go-playground/validator/v10"

	"github.com/trendlytics/trendlytics/app/repository"
	"github.com/trendlytics/trendlytics/internal/pkg/billing"
	"github.com/trendlytics/trendlytics/internal/pkg/ratelimit"
	"github.com/trendlytics/trendlytics/internal/pkg/tiers"
	"github.com/trendlytics/trendlytics/internal/pkg/usage"
)

// Shared controller dependencies, wired once at startup.
var (
	webhookProcessor *billing.Processor
	billingService   *billing.Service
	admissionGate    *usage.Gate
	burstLimiter     ratelimit.Limiter
	burstConfig      ratelimit.Config
	tierCatalog      *tiers.Catalog
	dataCollector    Collector

	validate = validator.New()
)

// Deps bundles everything the controllers need.
type Deps struct {
	WebhookSecret string
	Repos         *repository.Repositories
	Catalog       *tiers.Catalog
	Provider      billing.Provider
	Limiter       ratelimit.Limiter
	LimiterConfig ratelimit.Config
	Collector     Collector
}

// Initialize wires the controller package. Must run before routes are
// registered.
func Initialize(deps Deps) {
	tierCatalog = deps.Catalog
	webhookProcessor = billing.NewProcessor(deps.WebhookSecret, deps.Repos, deps.Catalog)
	billingService = billing.NewService(deps.Provider, deps.Repos, deps.Catalog)
	admissionGate = usage.NewGate(deps.Repos, deps.Catalog)
	burstLimiter = deps.Limiter
	burstConfig = deps.LimiterConfig
	dataCollector = deps.Collector
}

// Gate exposes the admission gate for route registration.
func Gate() *usage.Gate {
	return admissionGate
}

// Limiter exposes the burst limiter and its config for route registration.
func Limiter() (ratelimit.Limiter, ratelimit.Config) {
	return burstLimiter, burstConfig
}
