package middleware

import (
	"errors"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/trendlytics/trendlytics/internal/pkg/tiers"
	"github.com/trendlytics/trendlytics/internal/pkg/usage"
	"github.com/trendlytics/trendlytics/internal/pkg/usercontext"
)

// AdmissionKey is the Locals key the admission result is stored under
// for downstream handlers.
const AdmissionKey = "ADMISSION_RESULT"

// RequireUsage gates a metered endpoint: the request only proceeds once
// the admission gate has accepted and durably recorded it. Rejections
// carry enough metadata for the client to render an upgrade or backoff
// prompt.
func RequireUsage(gate *usage.Gate, usageType string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userCtx := usercontext.GetUserContext(c)
		if !userCtx.IsLoggedIn {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		result, err := gate.Admit(userCtx.UserID, usageType, c.Path(), usage.RequestContext{
			RequestID: c.Get(fiber.HeaderXRequestID),
			IPAddress: c.IP(),
			UserAgent: c.Get(fiber.HeaderUserAgent),
		})
		if err != nil {
			var quotaErr *usage.QuotaExceededError
			if errors.As(err, &quotaErr) {
				c.Set("X-RateLimit-Limit", strconv.Itoa(quotaErr.Limit))
				c.Set("X-RateLimit-Remaining", "0")
				c.Set("X-RateLimit-Reset", strconv.FormatInt(quotaErr.ResetAt.Unix(), 10))
				c.Set("X-User-Tier", string(quotaErr.Tier))
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error":      "quota_exceeded",
					"message":    "Monthly quota exceeded for " + quotaErr.UsageType,
					"usage_type": quotaErr.UsageType,
					"limit":      quotaErr.Limit,
					"current":    quotaErr.Current,
					"reset_at":   quotaErr.ResetAt,
					"tier":       quotaErr.Tier,
				})
			}
			var payErr *usage.PaymentRequiredError
			if errors.As(err, &payErr) {
				c.Set("X-User-Tier", string(payErr.Tier))
				return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
					"error":   "payment_required",
					"message": "Subscription is not active",
					"tier":    payErr.Tier,
					"status":  payErr.Status,
				})
			}
			log.Printf("admission failed for user %d on %s: %v", userCtx.UserID, c.Path(), err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Usage check failed"})
		}

		c.Set("X-User-Tier", string(result.Tier))
		if result.Limit != tiers.Unlimited {
			c.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			c.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining()))
			c.Set("X-RateLimit-Reset", strconv.FormatInt(result.PeriodEnd.Unix(), 10))
		}
		c.Locals(AdmissionKey, result)
		c.Locals(usercontext.KeyTier, string(result.Tier))

		return c.Next()
	}
}

// GetAdmissionResult retrieves the admission result set by RequireUsage.
func GetAdmissionResult(c *fiber.Ctx) *usage.AdmissionResult {
	if result, ok := c.Locals(AdmissionKey).(*usage.AdmissionResult); ok {
		return result
	}
	return nil
}
