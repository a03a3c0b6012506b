// Package notify runs the price-watch scheduler: a single loop that
// polls prices for every armed watch and alerts the owning chat when a
// threshold is crossed.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/swapgram/backend/internal/events"
	"github.com/swapgram/backend/internal/models"
	"go.uber.org/zap"
)

// WatchStore is the slice of the watch repository the scheduler needs.
type WatchStore interface {
	ListArmed(ctx context.Context) ([]models.PriceWatch, error)
	MarkFired(ctx context.Context, id int64) (bool, error)
}

// PriceSource quotes the current USD price for a mint.
type PriceSource interface {
	Price(ctx context.Context, mint string) (float64, error)
}

// Watcher ticks all armed watches from storage on a fixed interval.
// One scheduler per deployment; the armed → fired flip in the store is
// atomic, so an accidental second instance cannot double-alert.
type Watcher struct {
	store    WatchStore
	prices   PriceSource
	pub      events.Publisher
	interval time.Duration
	log      *zap.Logger
}

func NewWatcher(store WatchStore, prices PriceSource, pub events.Publisher, interval time.Duration, log *zap.Logger) *Watcher {
	return &Watcher{
		store:    store,
		prices:   prices,
		pub:      pub,
		interval: interval,
		log:      log,
	}
}

// Run blocks until the context is cancelled. Tick errors are logged
// and swallowed; one bad poll must not kill the scheduler.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("price watcher started", zap.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("price watcher stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick evaluates every armed watch once. Prices are fetched once per
// distinct mint, not once per watch.
func (w *Watcher) Tick(ctx context.Context) {
	watches, err := w.store.ListArmed(ctx)
	if err != nil {
		w.log.Error("list armed watches", zap.Error(err))
		return
	}
	if len(watches) == 0 {
		return
	}

	priceByMint := map[string]float64{}
	for _, watch := range watches {
		price, ok := priceByMint[watch.Mint]
		if !ok {
			price, err = w.prices.Price(ctx, watch.Mint)
			if err != nil {
				w.log.Warn("price poll failed",
					zap.String("mint", watch.Mint),
					zap.Error(err),
				)
				continue
			}
			priceByMint[watch.Mint] = price
		}

		if !watch.ConditionMet(price) {
			continue
		}

		won, err := w.store.MarkFired(ctx, watch.ID)
		if err != nil {
			w.log.Error("mark watch fired", zap.Int64("watch_id", watch.ID), zap.Error(err))
			continue
		}
		if !won {
			continue
		}

		w.alert(ctx, watch, price)
	}
}

func (w *Watcher) alert(ctx context.Context, watch models.PriceWatch, price float64) {
	name := watch.Symbol
	if name == "" {
		name = watch.Mint
	}
	text := fmt.Sprintf("🔔 %s is now $%.4f (%s your target of $%.4f)",
		name, price, watch.Condition, watch.TargetPrice)

	event := events.ChatNotification(events.EventPriceAlert, watch.ChatID, text)
	if err := w.pub.Publish(ctx, events.StreamChat, event); err != nil {
		w.log.Error("publish price alert",
			zap.Int64("watch_id", watch.ID),
			zap.Error(err),
		)
		return
	}
	w.log.Info("price alert fired",
		zap.Int64("watch_id", watch.ID),
		zap.String("chat_id", watch.ChatID),
		zap.Float64("price", price),
	)
}
