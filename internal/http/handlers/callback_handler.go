package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/swapgram/backend/internal/cryptobox"
	"github.com/swapgram/backend/internal/events"
	"github.com/swapgram/backend/internal/models"
	"github.com/swapgram/backend/internal/orderflow"
	"github.com/swapgram/backend/internal/repositories"
	"go.uber.org/zap"
)

// OrderClaimer atomically spends a pending order. A replayed redirect
// gets ErrOrderAlreadyExecuted instead of a second submission.
type OrderClaimer interface {
	Claim(ctx context.Context, orderID string) (*models.PendingOrder, error)
}

// CallbackHandler terminates the wallet app's redirect deep links. The
// browser lands here after the user approves (or rejects) an action;
// the real outcome is delivered to the chat out of band.
type CallbackHandler struct {
	flow   *orderflow.Service
	claims OrderClaimer
	pub    events.Publisher
	log    *zap.Logger
}

func NewCallbackHandler(flow *orderflow.Service, claims OrderClaimer, pub events.Publisher, log *zap.Logger) *CallbackHandler {
	return &CallbackHandler{flow: flow, claims: claims, pub: pub, log: log}
}

// Connect handles GET /wallet/callback.
func (h *CallbackHandler) Connect(c *fiber.Ctx) error {
	chatID := c.Query("chat_id")
	if chatID == "" {
		return c.Status(fiber.StatusBadRequest).SendString("missing chat_id")
	}

	if code := c.Query("errorCode"); code != "" {
		h.notify(c, events.EventWalletConnected, chatID,
			"❌ Wallet connection was declined. Send /connect to try again.")
		return h.page(c, "Connection cancelled", "You can close this window and return to the chat.")
	}

	counterpartyKey := c.Query("phantom_encryption_public_key")
	if counterpartyKey == "" {
		return c.Status(fiber.StatusBadRequest).SendString("missing phantom_encryption_public_key")
	}
	env, err := envelopeFromQuery(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString(err.Error())
	}

	sess, err := h.flow.CompleteConnect(c.Context(), chatID, counterpartyKey, env)
	if err != nil {
		h.log.Error("connect callback failed", zap.String("chat_id", chatID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).SendString("could not establish session")
	}

	h.notify(c, events.EventWalletConnected, chatID,
		fmt.Sprintf("✅ Wallet connected: `%s`\nYou can now check /balance or swap tokens.", sess.WalletAddress))
	return h.page(c, "Wallet connected", "Return to the chat to continue.")
}

// ExecuteTrigger handles GET /wallet/execute (limit orders and
// cancellations).
func (h *CallbackHandler) ExecuteTrigger(c *fiber.Ctx) error {
	return h.execute(c)
}

// ExecuteUltra handles GET /wallet/ultra-execute (instant swaps and
// payments).
func (h *CallbackHandler) ExecuteUltra(c *fiber.Ctx) error {
	return h.execute(c)
}

// execute is shared by both execute routes: the authoritative
// execution path comes from the stored order's kind, not the route.
func (h *CallbackHandler) execute(c *fiber.Ctx) error {
	chatID := c.Query("chat_id")
	orderID := c.Query("order_id")
	if chatID == "" || orderID == "" {
		return c.Status(fiber.StatusBadRequest).SendString("missing chat_id or order_id")
	}

	if code := c.Query("errorCode"); code != "" {
		h.log.Info("wallet declined signing",
			zap.String("chat_id", chatID),
			zap.String("order_id", orderID),
			zap.String("error_code", code),
		)
		h.notify(c, events.EventOrderFailed, chatID, "❌ Signing was declined in the wallet. The order was not executed.")
		return h.page(c, "Signing cancelled", "Nothing was executed. You can close this window.")
	}

	env, err := envelopeFromQuery(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString(err.Error())
	}

	// Decrypt before claiming: decryption has no side effects, so a
	// corrupted redirect leaves the order pending and a later legit
	// retry still works.
	signedTx, err := h.flow.DecryptSigned(c.Context(), chatID, env)
	if err != nil {
		h.log.Error("decrypt signed transaction",
			zap.String("chat_id", chatID),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).SendString("could not decrypt payload")
	}

	order, err := h.claims.Claim(c.Context(), orderID)
	switch {
	case errors.Is(err, repositories.ErrOrderAlreadyExecuted):
		return h.page(c, "Already processed", "This approval was already handled. You can close this window.")
	case errors.Is(err, repositories.ErrOrderNotFound):
		return c.Status(fiber.StatusNotFound).SendString("unknown order")
	case err != nil:
		h.log.Error("claim order", zap.String("order_id", orderID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).SendString("could not process approval")
	}

	if order.ChatID != chatID {
		h.log.Warn("order/chat mismatch in callback",
			zap.String("order_id", orderID),
			zap.String("chat_id", chatID),
		)
		return c.Status(fiber.StatusBadRequest).SendString("order does not belong to chat")
	}

	res, err := h.flow.SubmitSigned(c.Context(), order, signedTx)
	if err != nil {
		h.notify(c, events.EventOrderFailed, chatID,
			fmt.Sprintf("❌ Execution failed for order `%s`. Funds were not moved.", orderID))
		return h.page(c, "Execution failed", "The transaction was not settled. Check the chat for details.")
	}

	h.notify(c, events.EventOrderExecuted, chatID, executedMessage(order.Kind, res.Signature))
	return h.page(c, "Success", "Transaction submitted. Return to the chat for confirmation.")
}

func executedMessage(kind, signature string) string {
	var what string
	switch kind {
	case models.OrderKindInstantSwap:
		what = "Swap executed"
	case models.OrderKindLimitOrder:
		what = "Limit order placed"
	case models.OrderKindPayment:
		what = "Payment sent"
	case models.OrderKindCancel:
		what = "Order cancelled"
	default:
		what = "Transaction executed"
	}
	return fmt.Sprintf("✅ %s!\nSignature: `%s`\nhttps://solscan.io/tx/%s", what, signature, signature)
}

func envelopeFromQuery(c *fiber.Ctx) (cryptobox.Envelope, error) {
	nonce := c.Query("nonce")
	data := c.Query("data")
	if nonce == "" || data == "" {
		return cryptobox.Envelope{}, errors.New("missing nonce or data")
	}
	return cryptobox.Envelope{Nonce: nonce, Data: data}, nil
}

func (h *CallbackHandler) notify(c *fiber.Ctx, eventType, chatID, text string) {
	event := events.ChatNotification(eventType, chatID, text)
	if err := h.pub.Publish(c.Context(), events.StreamChat, event); err != nil {
		h.log.Error("publish chat notification", zap.String("chat_id", chatID), zap.Error(err))
	}
}

func (h *CallbackHandler) page(c *fiber.Ctx, title, body string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta name="viewport" content="width=device-width, initial-scale=1"><title>%s</title></head>
<body style="font-family:sans-serif;text-align:center;padding-top:4rem">
<h2>%s</h2>
<p>%s</p>
</body>
</html>`, title, title, body))
}
