// Package nlp maps free-form chat messages onto bot commands and
// extracts their parameters, via an OpenAI-compatible chat-completions
// endpoint. The model is untrusted: every response is validated before
// anything downstream sees it.
package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrUnparsable means the model could not extract the required
// parameters from the message. The caller should fall back to a usage
// hint, never guess.
var ErrUnparsable = errors.New("nlp: message not parsable")

// Intents the classifier may return. Anything else is treated as
// IntentUnknown.
const (
	IntentPrice        = "price"
	IntentRoute        = "route"
	IntentTrigger      = "trigger"
	IntentPayment      = "payment"
	IntentBalance      = "balance"
	IntentNotification = "notification"
	IntentHistory      = "history"
	IntentTokens       = "tokens"
	IntentConnect      = "connect"
	IntentUnknown      = "unknown"
)

var knownIntents = map[string]bool{
	IntentPrice:        true,
	IntentRoute:        true,
	IntentTrigger:      true,
	IntentPayment:      true,
	IntentBalance:      true,
	IntentNotification: true,
	IntentHistory:      true,
	IntentTokens:       true,
	IntentConnect:      true,
}

type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	log     *zap.Logger
}

func New(baseURL, apiKey, model string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Enabled reports whether an API key is configured. Without one the
// bot answers free-form messages with a command hint instead.
func (c *Client) Enabled() bool { return c.apiKey != "" }

// Intent classifies a message into one of the known intents.
func (c *Client) Intent(ctx context.Context, message string) (string, error) {
	system := "You classify a chat message about crypto trading into exactly one word: " +
		"price, route, trigger, payment, balance, notification, history, tokens, connect, or unknown. " +
		"route means swapping one token for another now. trigger means a limit order at a target price. " +
		"notification means a price alert. Respond with the single word only."

	raw, err := c.complete(ctx, system, message)
	if err != nil {
		return "", err
	}
	intent := strings.ToLower(strings.TrimSpace(raw))
	if !knownIntents[intent] {
		return IntentUnknown, nil
	}
	return intent, nil
}

type RouteParams struct {
	InputToken  string  `json:"input_token"`
	OutputToken string  `json:"output_token"`
	Amount      float64 `json:"amount"`
}

// ParseRoute extracts swap parameters: what to sell, what to buy, how
// much (in input-token units).
func (c *Client) ParseRoute(ctx context.Context, message string) (*RouteParams, error) {
	system := `Extract swap parameters from the message. Respond with JSON only, no prose:
{"input_token": "<symbol or mint>", "output_token": "<symbol or mint>", "amount": <number>}
Use null for anything missing.`

	var p RouteParams
	if err := c.completeJSON(ctx, system, message, &p); err != nil {
		return nil, err
	}
	if p.InputToken == "" || p.OutputToken == "" || p.Amount <= 0 {
		return nil, ErrUnparsable
	}
	return &p, nil
}

type PriceParams struct {
	Token string `json:"token"`
}

func (c *Client) ParsePrice(ctx context.Context, message string) (*PriceParams, error) {
	system := `Extract the token whose price is being asked about. Respond with JSON only:
{"token": "<symbol or mint>"}
Use null if no token is mentioned.`

	var p PriceParams
	if err := c.completeJSON(ctx, system, message, &p); err != nil {
		return nil, err
	}
	if p.Token == "" {
		return nil, ErrUnparsable
	}
	return &p, nil
}

type TriggerParams struct {
	InputToken  string  `json:"input_token"`
	OutputToken string  `json:"output_token"`
	Amount      float64 `json:"amount"`
	TargetPrice float64 `json:"target_price"`
}

// ParseTrigger extracts limit-order parameters. The target price is
// denominated in output tokens per input token.
func (c *Client) ParseTrigger(ctx context.Context, message string) (*TriggerParams, error) {
	system := `Extract limit order parameters from the message. Respond with JSON only:
{"input_token": "<symbol>", "output_token": "<symbol>", "amount": <number>, "target_price": <number>}
target_price is the price per input token, in output tokens. Use null for anything missing.`

	var p TriggerParams
	if err := c.completeJSON(ctx, system, message, &p); err != nil {
		return nil, err
	}
	if p.InputToken == "" || p.OutputToken == "" || p.Amount <= 0 || p.TargetPrice <= 0 {
		return nil, ErrUnparsable
	}
	return &p, nil
}

type PaymentParams struct {
	Amount    float64 `json:"amount"`
	Recipient string  `json:"recipient"`
	Direction string  `json:"direction"` // send / receive
}

func (c *Client) ParsePayment(ctx context.Context, message string) (*PaymentParams, error) {
	system := `Extract payment parameters from the message. Respond with JSON only:
{"amount": <number>, "recipient": "<wallet address or null>", "direction": "send" or "receive"}
direction is "receive" when the user wants to request or accept a payment. Use null for anything missing.`

	var p PaymentParams
	if err := c.completeJSON(ctx, system, message, &p); err != nil {
		return nil, err
	}
	if p.Amount <= 0 || (p.Direction != "send" && p.Direction != "receive") {
		return nil, ErrUnparsable
	}
	if p.Direction == "send" && p.Recipient == "" {
		return nil, ErrUnparsable
	}
	return &p, nil
}

type NotificationParams struct {
	Token       string  `json:"token"`
	Condition   string  `json:"condition"` // above / below
	TargetPrice float64 `json:"target_price"`
}

func (c *Client) ParseNotification(ctx context.Context, message string) (*NotificationParams, error) {
	system := `Extract price alert parameters from the message. Respond with JSON only:
{"token": "<symbol or mint>", "condition": "above" or "below", "target_price": <number>}
Use null for anything missing.`

	var p NotificationParams
	if err := c.completeJSON(ctx, system, message, &p); err != nil {
		return nil, err
	}
	if p.Token == "" || p.TargetPrice <= 0 || (p.Condition != "above" && p.Condition != "below") {
		return nil, ErrUnparsable
	}
	return &p, nil
}

// --- transport ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("nlp backend unavailable: %w", err)
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("nlp: malformed response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("nlp: backend error: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK || len(parsed.Choices) == 0 {
		return "", fmt.Errorf("nlp: backend status %d", resp.StatusCode)
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *Client) completeJSON(ctx context.Context, system, user string, out any) error {
	raw, err := c.complete(ctx, system, user)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), out); err != nil {
		c.log.Debug("nlp returned non-JSON", zap.String("raw", raw))
		return ErrUnparsable
	}
	return nil
}

// stripFences removes a markdown code fence the model sometimes wraps
// around JSON despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
