package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/swapgram/backend/internal/models"
	"github.com/swapgram/backend/internal/session"
)

// SessionRepo is the durable session.Store backing. One row per chat;
// reconnects upsert over the previous entry.
type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

var _ session.Store = (*SessionRepo)(nil)

func (r *SessionRepo) Record(ctx context.Context, s *models.ChatSession) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO chat_sessions (chat_id, wallet_address, session_token, counterparty_pub_key, connected_at, last_activity)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (chat_id) DO UPDATE SET
			wallet_address = EXCLUDED.wallet_address,
			session_token = EXCLUDED.session_token,
			counterparty_pub_key = EXCLUDED.counterparty_pub_key,
			connected_at = now(),
			last_activity = now()
		RETURNING connected_at, last_activity
	`, s.ChatID, s.WalletAddress, s.SessionToken, s.CounterpartyPubKey,
	).Scan(&s.ConnectedAt, &s.LastActivity)
}

func (r *SessionRepo) Get(ctx context.Context, chatID string) (*models.ChatSession, error) {
	var s models.ChatSession
	err := r.pool.QueryRow(ctx, `
		SELECT chat_id, wallet_address, session_token, counterparty_pub_key, connected_at, last_activity
		FROM chat_sessions WHERE chat_id = $1
	`, chatID).Scan(
		&s.ChatID, &s.WalletAddress, &s.SessionToken, &s.CounterpartyPubKey,
		&s.ConnectedAt, &s.LastActivity,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Touch is a no-op for chats that never connected.
func (r *SessionRepo) Touch(ctx context.Context, chatID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE chat_sessions SET last_activity = now() WHERE chat_id = $1
	`, chatID)
	return err
}

func (r *SessionRepo) Delete(ctx context.Context, chatID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM chat_sessions WHERE chat_id = $1`, chatID)
	return err
}
