package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/swapgram/backend/internal/models"
)

// HistoryRepo appends to and reads the per-chat activity log.
type HistoryRepo struct {
	pool *pgxpool.Pool
}

func NewHistoryRepo(pool *pgxpool.Pool) *HistoryRepo {
	return &HistoryRepo{pool: pool}
}

func (r *HistoryRepo) Log(ctx context.Context, e models.ActivityEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO activity_log (chat_id, kind, summary, meta)
		VALUES ($1, $2, $3, $4)
	`, e.ChatID, e.Kind, e.Summary, e.Meta)
	return err
}

// Recent returns the newest entries for a chat, optionally filtered by
// kind (empty = all kinds).
func (r *HistoryRepo) Recent(ctx context.Context, chatID, kind string, limit int) ([]models.ActivityEntry, error) {
	query := `
		SELECT id, chat_id, kind, summary, meta, created_at
		FROM activity_log
		WHERE chat_id = $1 AND ($2 = '' OR kind = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, chatID, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.ActivityEntry
	for rows.Next() {
		var e models.ActivityEntry
		if err := rows.Scan(&e.ID, &e.ChatID, &e.Kind, &e.Summary, &e.Meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
