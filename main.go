package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/trendlytics/trendlytics/app/controllers"
	"github.com/trendlytics/trendlytics/app/repository"
	"github.com/trendlytics/trendlytics/internal/pkg/billing"
	"github.com/trendlytics/trendlytics/internal/pkg/cache"
	"github.com/trendlytics/trendlytics/internal/pkg/collector"
	"github.com/trendlytics/trendlytics/internal/pkg/database"
	"github.com/trendlytics/trendlytics/internal/pkg/env"
	"github.com/trendlytics/trendlytics/internal/pkg/ratelimit"
	"github.com/trendlytics/trendlytics/internal/pkg/router"
	"github.com/trendlytics/trendlytics/internal/pkg/tiers"
)

func main() {
	app, shutdown := NewApplication()
	defer shutdown()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

// NewApplication wires the full service and returns the Fiber app plus
// a shutdown func for background resources.
func NewApplication() (*fiber.App, func()) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	factory := repository.NewFactory(database.GetDB())
	repository.SetGlobalFactory(factory)
	repos := factory.GetRepositories()

	catalog, err := tiers.Load()
	if err != nil {
		log.Fatalf("tier catalog: %v", err)
	}

	// Burst limiting runs on Redis when it is reachable, otherwise on
	// the in-process fallback with its background sweep.
	limiterConfig := ratelimit.DefaultConfig()
	var limiter ratelimit.Limiter
	shutdown := func() {}
	if cache.Available() {
		limiter = ratelimit.NewRedisLimiter(cache.GetClient(), limiterConfig)
		log.Print("[RateLimit] Using Redis backend")
	} else {
		memLimiter := ratelimit.NewMemoryLimiter(limiterConfig)
		memLimiter.Start()
		limiter = memLimiter
		shutdown = memLimiter.Stop
		log.Print("[RateLimit] Redis unavailable, using in-memory backend")
	}

	deps := controllers.Deps{
		WebhookSecret: env.GetEnv("PADDLE_WEBHOOK_SECRET", ""),
		Repos:         repos,
		Catalog:       catalog,
		Provider:      billing.NewPaddleClient(),
		Limiter:       limiter,
		LimiterConfig: limiterConfig,
	}
	if client := collector.NewClientFromEnv(); client != nil {
		deps.Collector = client
	}
	controllers.Initialize(deps)

	app := fiber.New(fiber.Config{
		AppName: "Trendlytics",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	router.InstallRouter(app)

	return app, shutdown
}
