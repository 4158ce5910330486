package router

import (
	"github.com/gofiber/fiber/v2"
	fiberlimiter "github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/trendlytics/trendlytics/app/controllers"
	"github.com/trendlytics/trendlytics/app/models"
	"github.com/trendlytics/trendlytics/internal/pkg/middleware"
)

type ApiRouter struct {
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// Coarse per-IP limiter in front of everything; the per-user burst
	// limiter below is the one with sliding-window semantics.
	api := app.Group("/api", fiberlimiter.New(fiberlimiter.Config{Max: 300}))
	v1 := api.Group("/v1")

	// Public surface: webhook ingestion, pricing catalog, liveness.
	v1.Post("/webhooks/paddle", controllers.HandleBillingWebhook)
	v1.Get("/webhooks/paddle/status", controllers.HandleWebhookStatus)
	v1.Get("/billing/tiers", controllers.HandleListTiers)
	v1.Get("/billing/health", controllers.HandleHealth)

	// Everything below requires an API key.
	authed := v1.Group("", middleware.APIKeyAuthMiddleware())

	billing := authed.Group("/billing")
	billing.Post("/checkout", controllers.HandleCreateCheckout)
	billing.Get("/subscription/status", controllers.HandleSubscriptionStatus)
	billing.Post("/subscription/upgrade", controllers.HandleChangeTier)
	billing.Post("/subscription/cancel", controllers.HandleCancelSubscription)
	billing.Get("/usage/analytics", controllers.HandleUsageAnalytics)

	// Metered endpoints: burst limiter first, then quota admission.
	limiter, limiterConfig := controllers.Limiter()
	gate := controllers.Gate()
	data := authed.Group("/data", middleware.BurstLimit(limiter, limiterConfig))
	data.Post("/query", middleware.RequireUsage(gate, models.UsageTypeAPICall), controllers.HandleDataQuery)
	data.Post("/export", middleware.RequireUsage(gate, models.UsageTypeExport), controllers.HandleDataExport)
	data.Post("/sentiment", middleware.RequireUsage(gate, models.UsageTypeSentimentAnalysis), controllers.HandleSentimentAnalysis)
}
