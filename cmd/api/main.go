package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/swapgram/backend/internal/config"
	"github.com/swapgram/backend/internal/cryptobox"
	"github.com/swapgram/backend/internal/db"
	"github.com/swapgram/backend/internal/deeplink"
	"github.com/swapgram/backend/internal/events"
	apphttp "github.com/swapgram/backend/internal/http"
	"github.com/swapgram/backend/internal/http/handlers"
	"github.com/swapgram/backend/internal/jupiter"
	"github.com/swapgram/backend/internal/orderflow"
	"github.com/swapgram/backend/internal/repositories"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Dapp encryption identity
	keys, err := cryptobox.LoadOrGenerate(cfg.DappSecretKey)
	if err != nil {
		log.Fatal("failed to load dapp key pair", zap.Error(err))
	}
	log.Info("dapp encryption key ready", zap.String("public_key", keys.PublicBase58()))

	// Repositories
	sessionRepo := repositories.NewSessionRepo(pool)
	orderRepo := repositories.NewOrderRepo(pool)
	historyRepo := repositories.NewHistoryRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)

	// Services
	jup := jupiter.New(cfg.JupiterLiteURL, cfg.JupiterAPIURL, cfg.JupiterTimeout, log)
	links := deeplink.NewBuilder(cfg.ServerURL, cfg.AppURL, cfg.SolanaCluster, keys.PublicBase58())
	flow := orderflow.NewService(sessionRepo, orderRepo, historyRepo, jup, keys, links, cfg.USDCMint, log)

	// Handlers
	callbackHandler := handlers.NewCallbackHandler(flow, orderRepo, publisher, log)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).SendString(err.Error())
		},
	})

	apphttp.SetupRouter(app, log, rdb, callbackHandler)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting callback server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
