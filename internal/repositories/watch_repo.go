package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/swapgram/backend/internal/models"
)

// WatchRepo stores price watches. Armed watches are ticked by the
// worker scheduler; fired and cancelled ones stay for history.
type WatchRepo struct {
	pool *pgxpool.Pool
}

func NewWatchRepo(pool *pgxpool.Pool) *WatchRepo {
	return &WatchRepo{pool: pool}
}

func (r *WatchRepo) Create(ctx context.Context, w *models.PriceWatch) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO price_watches (chat_id, mint, symbol, condition, target_price, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, w.ChatID, w.Mint, w.Symbol, w.Condition, w.TargetPrice, models.WatchStatusArmed,
	).Scan(&w.ID, &w.CreatedAt)
}

func (r *WatchRepo) ListArmed(ctx context.Context) ([]models.PriceWatch, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, chat_id, mint, symbol, condition, target_price, status, created_at
		FROM price_watches WHERE status = $1
		ORDER BY id
	`, models.WatchStatusArmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var watches []models.PriceWatch
	for rows.Next() {
		var w models.PriceWatch
		if err := rows.Scan(&w.ID, &w.ChatID, &w.Mint, &w.Symbol, &w.Condition, &w.TargetPrice, &w.Status, &w.CreatedAt); err != nil {
			return nil, err
		}
		watches = append(watches, w)
	}
	return watches, rows.Err()
}

// MarkFired flips an armed watch to fired exactly once; the boolean
// reports whether this caller won the flip.
func (r *WatchRepo) MarkFired(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE price_watches SET status = $2, fired_at = now()
		WHERE id = $1 AND status = $3
	`, id, models.WatchStatusFired, models.WatchStatusArmed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CancelForChat stops all armed watches for a chat; returns how many
// were cancelled.
func (r *WatchRepo) CancelForChat(ctx context.Context, chatID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE price_watches SET status = $2
		WHERE chat_id = $1 AND status = $3
	`, chatID, models.WatchStatusCancelled, models.WatchStatusArmed)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
