package controllers

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/trendlytics/trendlytics/internal/pkg/middleware"
	"github.com/trendlytics/trendlytics/internal/pkg/usercontext"
)

// Collector is the upstream content pipeline the metered endpoints
// front. Search and sentiment scoring run in an external service; these
// controllers only gate and forward.
type Collector interface {
	Query(ctx context.Context, userID uint, query string, limit int) (any, error)
	Export(ctx context.Context, userID uint, query, format string) (any, error)
	AnalyzeSentiment(ctx context.Context, userID uint, texts []string) (any, error)
}

// QueryRequest is the body for the metered query endpoint.
type QueryRequest struct {
	Query string `json:"query" validate:"required,min=2,max=500"`
	Limit int    `json:"limit" validate:"omitempty,min=1,max=100"`
}

// ExportRequest is the body for the metered export endpoint.
type ExportRequest struct {
	Query  string `json:"query" validate:"required,min=2,max=500"`
	Format string `json:"format" validate:"required,oneof=csv json"`
}

// SentimentRequest is the body for the metered sentiment endpoint.
type SentimentRequest struct {
	Texts []string `json:"texts" validate:"required,min=1,max=50,dive,min=1,max=5000"`
}

// HandleDataQuery runs a live trend search. Admission has already
// happened in the middleware chain; the usage row exists by the time
// this handler runs.
func HandleDataQuery(c *fiber.Ctx) error {
	if dataCollector == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service_unavailable", "message": "Data collection is not configured"})
	}

	var req QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "query is required (2-500 chars)"})
	}
	if req.Limit == 0 {
		req.Limit = 25
	}

	userCtx := usercontext.GetUserContext(c)
	result, err := dataCollector.Query(c.UserContext(), userCtx.UserID, req.Query, req.Limit)
	if err != nil {
		log.Printf("data query failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_error", "message": "Data collection failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"results":   result,
		"admission": middleware.GetAdmissionResult(c),
	})
}

// HandleDataExport generates an export of search results.
func HandleDataExport(c *fiber.Ctx) error {
	if dataCollector == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service_unavailable", "message": "Data collection is not configured"})
	}

	var req ExportRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "query and format (csv|json) are required"})
	}

	userCtx := usercontext.GetUserContext(c)
	result, err := dataCollector.Export(c.UserContext(), userCtx.UserID, req.Query, req.Format)
	if err != nil {
		log.Printf("export failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_error", "message": "Export generation failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"export": result})
}

// HandleSentimentAnalysis scores a batch of texts.
func HandleSentimentAnalysis(c *fiber.Ctx) error {
	if dataCollector == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service_unavailable", "message": "Sentiment analysis is not configured"})
	}

	var req SentimentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "texts is required (1-50 entries)"})
	}

	userCtx := usercontext.GetUserContext(c)
	result, err := dataCollector.AnalyzeSentiment(c.UserContext(), userCtx.UserID, req.Texts)
	if err != nil {
		log.Printf("sentiment analysis failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_error", "message": "Sentiment analysis failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"sentiment": result})
}
