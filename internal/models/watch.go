package models

import "time"

// Watch conditions.
const (
	WatchConditionAbove = "above"
	WatchConditionBelow = "below"
)

// Watch statuses. A watch fires at most once.
const (
	WatchStatusArmed     = "armed"
	WatchStatusFired     = "fired"
	WatchStatusCancelled = "cancelled"
)

// PriceWatch is a one-shot price alert for a chat. Multiple watches per
// chat are independent.
type PriceWatch struct {
	ID          int64      `json:"id"`
	ChatID      string     `json:"chat_id"`
	Mint        string     `json:"mint"`
	Symbol      string     `json:"symbol"`
	Condition   string     `json:"condition"` // above / below
	TargetPrice float64    `json:"target_price"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	FiredAt     *time.Time `json:"fired_at,omitempty"`
}

// ConditionMet reports whether a freshly observed price satisfies the
// watch. Boundary prices count as met on both sides.
func (w *PriceWatch) ConditionMet(price float64) bool {
	switch w.Condition {
	case WatchConditionAbove:
		return price >= w.TargetPrice
	case WatchConditionBelow:
		return price <= w.TargetPrice
	default:
		return false
	}
}
