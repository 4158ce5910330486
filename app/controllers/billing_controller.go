package controllers

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/trendlytics/trendlytics/internal/pkg/billing"
	"github.com/trendlytics/trendlytics/internal/pkg/tiers"
	"github.com/trendlytics/trendlytics/internal/pkg/usercontext"
)

// CheckoutRequest is the body for checkout and tier-change requests.
type CheckoutRequest struct {
	Tier string `json:"tier" validate:"required,oneof=pro premium"`
}

// HandleCreateCheckout opens a hosted checkout for a paid tier and
// returns the redirect URL.
func HandleCreateCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
	}

	var req CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "tier must be one of: pro, premium"})
	}

	tier := tiers.Normalize(req.Tier)
	url, err := billingService.CreateCheckout(c.UserContext(), userCtx.UserID, tier)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrAlreadySubscribed):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Already subscribed to this tier or higher"})
		case errors.Is(err, billing.ErrFreeTierCheckout):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "The free tier has no checkout"})
		default:
			log.Printf("checkout failed for user %d: %v", userCtx.UserID, err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_error", "message": "Failed to create checkout"})
		}
	}

	entry := tierCatalog.Info(tier)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"checkout_url":    url,
		"tier":            tier,
		"price_per_month": entry.Price,
		"currency":        entry.Currency,
	})
}

// HandleChangeTier moves an active subscription onto another paid tier.
// The change is applied locally right away and settles when the
// provider's confirmation webhook arrives.
func HandleChangeTier(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
	}

	var req CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "tier must be one of: pro, premium"})
	}

	tier := tiers.Normalize(req.Tier)
	if err := billingService.ChangeTier(c.UserContext(), userCtx.UserID, tier); err != nil {
		switch {
		case errors.Is(err, billing.ErrNoActiveSubscription):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "No active subscription to change"})
		case errors.Is(err, billing.ErrAlreadySubscribed):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Already on this tier"})
		case errors.Is(err, billing.ErrFreeTierCheckout):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Use cancel to return to the free tier"})
		default:
			log.Printf("tier change failed for user %d: %v", userCtx.UserID, err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_error", "message": "Failed to change tier"})
		}
	}

	entry := tierCatalog.Info(tier)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":          "pending_confirmation",
		"tier":            tier,
		"price_per_month": entry.Price,
		"currency":        entry.Currency,
	})
}

// HandleCancelSubscription schedules cancellation at the end of the
// current billing period. Entitlements keep running until the
// provider's cancellation event lands.
func HandleCancelSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
	}

	if err := billingService.Cancel(c.UserContext(), userCtx.UserID); err != nil {
		if errors.Is(err, billing.ErrNoActiveSubscription) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "No active subscription to cancel"})
		}
		log.Printf("cancellation failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_error", "message": "Failed to schedule cancellation"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":  "cancellation_scheduled",
		"message": "Subscription will end at the close of the current billing period",
	})
}

// HandleSubscriptionStatus returns the subscription standing plus
// current-period usage for the authenticated user.
func HandleSubscriptionStatus(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
	}

	status, err := billingService.Status(c.UserContext(), userCtx.UserID, time.Now())
	if err != nil {
		log.Printf("status lookup failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscription status"})
	}

	return c.Status(fiber.StatusOK).JSON(status)
}

// HandleUsageAnalytics returns daily and per-endpoint usage aggregates
// for the last n days (default 30, max 90).
func HandleUsageAnalytics(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
	}

	days := c.QueryInt("days", 30)
	analytics, err := billingService.UsageAnalytics(c.UserContext(), userCtx.UserID, days, time.Now())
	if err != nil {
		log.Printf("analytics failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to aggregate usage"})
	}

	return c.Status(fiber.StatusOK).JSON(analytics)
}

// HandleListTiers is the public tier catalog, for pricing pages.
func HandleListTiers(c *fiber.Ctx) error {
	out := make([]fiber.Map, 0, len(tiers.All()))
	for _, tier := range tiers.All() {
		entry := tierCatalog.Info(tier)
		out = append(out, fiber.Map{
			"tier":                tier,
			"name":                entry.Name,
			"description":         entry.Description,
			"price_per_month":     entry.Price,
			"currency":            entry.Currency,
			"limits":              entry.Limits,
			"features":            entry.Features,
			"data_retention_days": entry.DataRetentionDays,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"tiers": out})
}

// HandleHealth reports service liveness.
func HandleHealth(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}
