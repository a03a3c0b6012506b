package models

import "time"

// Order kinds. The kind decides which aggregator execution endpoint the
// signed transaction is submitted to.
const (
	OrderKindInstantSwap = "instant_swap"
	OrderKindLimitOrder  = "limit_order"
	OrderKindPayment     = "payment"
	OrderKindCancel      = "cancel"
)

// Pending order statuses. Orders are single-use: the execute callback
// flips pending → executed atomically, so replays are rejected.
const (
	OrderStatusPending  = "pending"
	OrderStatusExecuted = "executed"
	OrderStatusFailed   = "failed"
)

// PendingOrder correlates an outstanding sign request with its later
// execute callback. Keyed by the aggregator-issued order/request id.
type PendingOrder struct {
	OrderID    string     `json:"order_id"`
	ChatID     string     `json:"chat_id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Signature  string     `json:"signature,omitempty"` // settlement signature once executed
	CreatedAt  time.Time  `json:"created_at"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// ExecutePath maps an order kind to the callback route the wallet app
// must redirect to after signing. Instant swaps and payments settle via
// the ultra execute endpoint; limit orders and cancellations via the
// trigger one. The two must stay distinguishable.
func ExecutePath(kind string) string {
	switch kind {
	case OrderKindInstantSwap, OrderKindPayment:
		return "/wallet/ultra-execute"
	case OrderKindLimitOrder, OrderKindCancel:
		return "/wallet/execute"
	default:
		return ""
	}
}
