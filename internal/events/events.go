// Package events carries out-of-band chat notifications between the
// callback server / worker and the bot process over redis pub/sub.
package events

import "context"

// StreamChat is the pub/sub channel the bot process subscribes to.
const StreamChat = "events:chat"

// Event types
const (
	EventWalletConnected = "wallet_connected"
	EventOrderExecuted   = "order_executed"
	EventOrderFailed     = "order_failed"
	EventPriceAlert      = "price_alert"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// ChatNotification builds an event whose payload the bot renders as a
// plain message to the chat.
func ChatNotification(eventType, chatID, text string) Event {
	return Event{
		Type: eventType,
		Payload: map[string]any{
			"chat_id": chatID,
			"text":    text,
		},
	}
}

// ChatID extracts the destination chat from an event payload.
func (e Event) ChatID() string {
	s, _ := e.Payload["chat_id"].(string)
	return s
}

// Text extracts the message body from an event payload.
func (e Event) Text() string {
	s, _ := e.Payload["text"].(string)
	return s
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
