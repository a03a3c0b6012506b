package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/swapgram/backend/internal/config"
	"github.com/swapgram/backend/internal/db"
	"github.com/swapgram/backend/internal/events"
	"github.com/swapgram/backend/internal/jupiter"
	"github.com/swapgram/backend/internal/notify"
	"github.com/swapgram/backend/internal/repositories"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
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

	watchRepo := repositories.NewWatchRepo(pool)
	publisher := events.NewRedisPublisher(rdb, log)
	jup := jupiter.New(cfg.JupiterLiteURL, cfg.JupiterAPIURL, cfg.JupiterTimeout, log)

	watcher := notify.NewWatcher(watchRepo, jup, publisher, cfg.WatchPollInterval, log)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down worker")
		cancel()
	}()

	watcher.Run(ctx)
}
