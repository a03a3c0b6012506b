package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/swapgram/backend/internal/http/handlers"
	"github.com/swapgram/backend/internal/middleware"
	"go.uber.org/zap"
)

// SetupRouter wires the wallet callback routes. These are hit by the
// user's own browser via wallet-app redirects, never by the bot.
func SetupRouter(
	app *fiber.App,
	log *zap.Logger,
	rdb *redis.Client,
	callbackHandler *handlers.CallbackHandler,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	wallet := app.Group("/wallet", middleware.RateLimitMiddleware(rdb, 30, time.Minute))
	wallet.Get("/callback", callbackHandler.Connect)
	wallet.Get("/execute", callbackHandler.ExecuteTrigger)
	wallet.Get("/ultra-execute", callbackHandler.ExecuteUltra)
}
