package models

import "time"

// Activity kinds recorded in the per-chat history log.
const (
	ActivityRoute        = "route"
	ActivityTrigger      = "trigger"
	ActivityPayment      = "payment"
	ActivityPriceCheck   = "price"
	ActivityNotification = "notification"
)

// ActivityEntry is one line of a chat's history feed.
type ActivityEntry struct {
	ID        int64          `json:"id"`
	ChatID    string         `json:"chat_id"`
	Kind      string         `json:"kind"`
	Summary   string         `json:"summary"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
