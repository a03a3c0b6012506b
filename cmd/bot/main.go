package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/swapgram/backend/internal/bot"
	"github.com/swapgram/backend/internal/config"
	"github.com/swapgram/backend/internal/cryptobox"
	"github.com/swapgram/backend/internal/db"
	"github.com/swapgram/backend/internal/deeplink"
	"github.com/swapgram/backend/internal/events"
	"github.com/swapgram/backend/internal/jupiter"
	"github.com/swapgram/backend/internal/nlp"
	"github.com/swapgram/backend/internal/orderflow"
	"github.com/swapgram/backend/internal/repositories"
	"github.com/swapgram/backend/internal/telegram"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)
	if cfg.BotToken == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// The bot shares the callback server's encryption identity so sign
	// links it issues decrypt on either side.
	keys, err := cryptobox.LoadOrGenerate(cfg.DappSecretKey)
	if err != nil {
		log.Fatal("failed to load dapp key pair", zap.Error(err))
	}

	// Repositories
	sessionRepo := repositories.NewSessionRepo(pool)
	orderRepo := repositories.NewOrderRepo(pool)
	watchRepo := repositories.NewWatchRepo(pool)
	historyRepo := repositories.NewHistoryRepo(pool)

	// Services
	jup := jupiter.New(cfg.JupiterLiteURL, cfg.JupiterAPIURL, cfg.JupiterTimeout, log)
	links := deeplink.NewBuilder(cfg.ServerURL, cfg.AppURL, cfg.SolanaCluster, keys.PublicBase58())
	flow := orderflow.NewService(sessionRepo, orderRepo, historyRepo, jup, keys, links, cfg.USDCMint, log)
	nlpClient := nlp.New(cfg.GroqBaseURL, cfg.GroqAPIKey, cfg.GroqModel, cfg.NLPTimeout, log)
	tg := telegram.New(cfg.TelegramAPIURL, cfg.BotToken, log)

	dispatcher := bot.NewDispatcher(tg, flow, jup, nlpClient, links, sessionRepo, watchRepo, historyRepo, cfg.HistoryPageSize, log)

	// Deliver notifications published by the callback server and worker.
	subscriber := events.NewRedisSubscriber(rdb, log)
	if err := subscriber.Subscribe(ctx, events.StreamChat, dispatcher.HandleEvent); err != nil {
		log.Fatal("failed to subscribe to chat events", zap.Error(err))
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down bot")
		cancel()
	}()

	dispatcher.Run(ctx)
}
