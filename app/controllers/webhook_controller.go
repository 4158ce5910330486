package controllers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/trendlytics/trendlytics/internal/pkg/billing"
)

// HandleBillingWebhook receives provider webhook deliveries. The
// response contract matters for the provider's retry loop: 200 stops
// retries, so everything that landed in the audit log is acknowledged
// even when its handler failed. Only a signature failure, a malformed
// body or an audit write failure is reported back as an error.
func HandleBillingWebhook(c *fiber.Ctx) error {
	signatureHeader := billing.CombineSignatureHeaders(c.Get("Paddle-Signature"), c.Get("Paddle-Timestamp"))

	outcome, err := webhookProcessor.Process(c.UserContext(), signatureHeader, c.Body())
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrMissingSignature):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Missing or malformed signature header"})
		case errors.Is(err, billing.ErrInvalidSignature):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid webhook signature"})
		case errors.Is(err, billing.ErrMalformedPayload):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed webhook payload"})
		default:
			log.Printf("webhook processing failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to record webhook event"})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":            "success",
		"event_type":        outcome.EventType,
		"event_id":          outcome.EventID,
		"processing_status": outcome.ProcessingStatus,
	})
}

// HandleWebhookStatus is a minimal liveness probe for the provider's
// endpoint verification.
func HandleWebhookStatus(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}
