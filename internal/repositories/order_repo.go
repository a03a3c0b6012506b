package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/swapgram/backend/internal/models"
)

var (
	ErrOrderNotFound        = errors.New("pending order not found")
	ErrOrderAlreadyExecuted = errors.New("order already executed")
)

// OrderRepo stores in-flight sign requests keyed by the aggregator
// order id, so execute callbacks recover full context instead of
// trusting the redirect query string alone.
type OrderRepo struct {
	pool *pgxpool.Pool
}

func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

func (r *OrderRepo) Create(ctx context.Context, o *models.PendingOrder) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO pending_orders (order_id, chat_id, kind, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO UPDATE SET
			chat_id = EXCLUDED.chat_id,
			kind = EXCLUDED.kind,
			status = EXCLUDED.status,
			created_at = now()
		RETURNING created_at
	`, o.OrderID, o.ChatID, o.Kind, models.OrderStatusPending).Scan(&o.CreatedAt)
}

func (r *OrderRepo) Get(ctx context.Context, orderID string) (*models.PendingOrder, error) {
	var o models.PendingOrder
	err := r.pool.QueryRow(ctx, `
		SELECT order_id, chat_id, kind, status, COALESCE(signature, ''), created_at, executed_at
		FROM pending_orders WHERE order_id = $1
	`, orderID).Scan(&o.OrderID, &o.ChatID, &o.Kind, &o.Status, &o.Signature, &o.CreatedAt, &o.ExecutedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Claim atomically flips a pending order to executed. A replayed
// callback finds the row already claimed and gets
// ErrOrderAlreadyExecuted instead of a second downstream submission.
func (r *OrderRepo) Claim(ctx context.Context, orderID string) (*models.PendingOrder, error) {
	var o models.PendingOrder
	err := r.pool.QueryRow(ctx, `
		UPDATE pending_orders
		SET status = $2, executed_at = now()
		WHERE order_id = $1 AND status = $3
		RETURNING order_id, chat_id, kind, status, created_at, executed_at
	`, orderID, models.OrderStatusExecuted, models.OrderStatusPending,
	).Scan(&o.OrderID, &o.ChatID, &o.Kind, &o.Status, &o.CreatedAt, &o.ExecutedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish "never existed" from "already claimed".
		if _, getErr := r.Get(ctx, orderID); getErr == nil {
			return nil, ErrOrderAlreadyExecuted
		}
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// MarkFailed releases a claim after a failed downstream submission so
// the failure is visible in history. The sign link is spent either way.
func (r *OrderRepo) MarkFailed(ctx context.Context, orderID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE pending_orders SET status = $2 WHERE order_id = $1
	`, orderID, models.OrderStatusFailed)
	return err
}

func (r *OrderRepo) SetSignature(ctx context.Context, orderID, signature string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE pending_orders SET signature = $2 WHERE order_id = $1
	`, orderID, signature)
	return err
}
