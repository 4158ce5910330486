package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/trendlytics/trendlytics/internal/pkg/ratelimit"
	"github.com/trendlytics/trendlytics/internal/pkg/usercontext"
)

// BurstLimit applies the sliding-window limiter per (user, endpoint)
// before the quota gate runs. Backend failures inside the limiter fail
// open, so this middleware only ever rejects on a genuine burst.
func BurstLimit(limiter ratelimit.Limiter, config ratelimit.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userCtx := usercontext.GetUserContext(c)
		if !userCtx.IsLoggedIn {
			return c.Next()
		}

		key := ratelimit.Key{UserID: userCtx.UserID, Endpoint: c.Route().Path}
		if allowed, _ := limiter.Check(c.Context(), key); !allowed {
			retryAfter := int(config.Window.Seconds())
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "rate_limited",
				"message":     "Too many requests, slow down",
				"retry_after": retryAfter,
			})
		}
		limiter.Increment(c.Context(), key)

		return c.Next()
	}
}
