// Package orderflow orchestrates the quote → sign-link → execute
// lifecycle for instant swaps, limit orders, payments and order
// cancellation. It produces the encrypted payload the wallet app
// signs, and submits the signed transaction when the callback arrives.
package orderflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/swapgram/backend/internal/cryptobox"
	"github.com/swapgram/backend/internal/deeplink"
	"github.com/swapgram/backend/internal/jupiter"
	"github.com/swapgram/backend/internal/models"
	"github.com/swapgram/backend/internal/session"
	"github.com/swapgram/backend/internal/solana"
	"go.uber.org/zap"
)

// ErrSessionMissing means the operation needs a connected wallet (and
// its counterparty encryption key) that this chat does not have.
var ErrSessionMissing = errors.New("orderflow: wallet not connected for chat")

const solMint = "So11111111111111111111111111111111111111112"

// OrderStore is the slice of the pending-order repository the flow
// needs when issuing sign links.
type OrderStore interface {
	Create(ctx context.Context, o *models.PendingOrder) error
	SetSignature(ctx context.Context, orderID, signature string) error
	MarkFailed(ctx context.Context, orderID string) error
}

// ActivityLogger records history entries; failures are non-fatal.
type ActivityLogger interface {
	Log(ctx context.Context, e models.ActivityEntry) error
}

type Service struct {
	sessions session.Store
	orders   OrderStore
	history  ActivityLogger
	jup      *jupiter.Client
	keys     *cryptobox.KeyPair
	links    *deeplink.Builder
	usdcMint string
	log      *zap.Logger

	// ataResolver derives the destination token account for payments;
	// swappable in tests.
	ataResolver func(wallet, mint string) (string, error)
}

func NewService(
	sessions session.Store,
	orders OrderStore,
	history ActivityLogger,
	jup *jupiter.Client,
	keys *cryptobox.KeyPair,
	links *deeplink.Builder,
	usdcMint string,
	log *zap.Logger,
) *Service {
	return &Service{
		sessions:    sessions,
		orders:      orders,
		history:     history,
		jup:         jup,
		keys:        keys,
		links:       links,
		usdcMint:    usdcMint,
		log:         log,
		ataResolver: solana.AssociatedTokenAccount,
	}
}

// signPayload is what the wallet app decrypts and signs.
type signPayload struct {
	Transaction string `json:"transaction"`
	Session     string `json:"session"`
}

// connectPayload is what the wallet app sends back on connect.
type connectPayload struct {
	PublicKey    string `json:"publicKey"`
	SessionToken string `json:"sessionToken"`
}

// signedPayload is the decrypted body of an execute callback.
type signedPayload struct {
	Transaction string `json:"transaction"`
}

// --- Instant swap ---

type SwapResult struct {
	Order    *jupiter.UltraOrder
	Preview  bool // no signable transaction; degraded quote-only mode
	SignLink string
}

// InstantSwap quotes the pair scoped to the user's wallet and emits a
// sign link. If the scoped quote fails (no balance, no taker route) it
// retries exactly once unscoped and returns a preview without a link.
func (s *Service) InstantSwap(ctx context.Context, chatID, inputMint, outputMint, amount string) (*SwapResult, error) {
	sess, err := s.session(ctx, chatID)
	if err != nil {
		return nil, err
	}

	order, err := s.jup.UltraOrder(ctx, inputMint, outputMint, amount, sess.WalletAddress)
	preview := false
	if err != nil || order.Transaction == "" {
		order, err = s.jup.UltraOrder(ctx, inputMint, outputMint, amount, "")
		if err != nil {
			return nil, fmt.Errorf("quote failed: %w", err)
		}
		preview = true
	}

	result := &SwapResult{Order: order, Preview: preview}
	if !preview {
		link, err := s.issueSignLink(ctx, sess, order.RequestID, models.OrderKindInstantSwap, order.Transaction)
		if err != nil {
			return nil, err
		}
		result.SignLink = link
	}

	_ = s.history.Log(ctx, models.ActivityEntry{
		ChatID:  chatID,
		Kind:    models.ActivityRoute,
		Summary: fmt.Sprintf("route %s -> %s, amount %s", inputMint, outputMint, amount),
		Meta:    map[string]any{"request_id": order.RequestID, "preview": preview},
	})
	return result, nil
}

// --- Limit order ---

type LimitOrderResult struct {
	OrderID  string
	SignLink string
}

// CreateLimitOrder converts human amounts to base units using each
// token's declared decimals, creates the order, and emits a sign link.
// The decimals lookup happens before any multiplication; a wrong
// precision over- or under-funds the order.
func (s *Service) CreateLimitOrder(ctx context.Context, chatID, inputMint, outputMint string, amount, targetPrice float64) (*LimitOrderResult, error) {
	sess, err := s.session(ctx, chatID)
	if err != nil {
		return nil, err
	}

	inInfo, err := s.jup.TokenInfo(ctx, inputMint)
	if err != nil {
		return nil, fmt.Errorf("input token metadata: %w", err)
	}
	outInfo, err := s.jup.TokenInfo(ctx, outputMint)
	if err != nil {
		return nil, fmt.Errorf("output token metadata: %w", err)
	}

	created, err := s.jup.CreateTriggerOrder(ctx, jupiter.CreateTriggerOrderRequest{
		InputMint:  inputMint,
		OutputMint: outputMint,
		Maker:      sess.WalletAddress,
		Payer:      sess.WalletAddress,
		Params: jupiter.TriggerOrderParams{
			MakingAmount: ToBaseUnits(amount, inInfo.Decimals),
			TakingAmount: ToBaseUnits(amount*targetPrice, outInfo.Decimals),
		},
	})
	if err != nil {
		return nil, err
	}

	link, err := s.issueSignLink(ctx, sess, created.RequestID, models.OrderKindLimitOrder, created.Transaction)
	if err != nil {
		return nil, err
	}

	_ = s.history.Log(ctx, models.ActivityEntry{
		ChatID:  chatID,
		Kind:    models.ActivityTrigger,
		Summary: fmt.Sprintf("limit order %v %s -> %s at %v", amount, inInfo.Symbol, outInfo.Symbol, targetPrice),
		Meta:    map[string]any{"order_id": created.RequestID},
	})
	return &LimitOrderResult{OrderID: created.RequestID, SignLink: link}, nil
}

// CancelOrder requests a cancellation transaction for an existing
// order and routes it through the same sign/callback path.
func (s *Service) CancelOrder(ctx context.Context, chatID, orderAccount string) (*LimitOrderResult, error) {
	sess, err := s.session(ctx, chatID)
	if err != nil {
		return nil, err
	}

	cancelled, err := s.jup.CancelTriggerOrder(ctx, sess.WalletAddress, orderAccount)
	if err != nil {
		return nil, err
	}

	orderID := cancelled.RequestID
	if orderID == "" {
		orderID = orderAccount
	}
	link, err := s.issueSignLink(ctx, sess, orderID, models.OrderKindCancel, cancelled.Transaction)
	if err != nil {
		return nil, err
	}
	return &LimitOrderResult{OrderID: orderID, SignLink: link}, nil
}

// ListOrders returns the chat's open limit orders from the aggregator.
func (s *Service) ListOrders(ctx context.Context, chatID string) ([]jupiter.TriggerOrder, error) {
	sess, err := s.session(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return s.jup.ActiveTriggerOrders(ctx, sess.WalletAddress)
}

// --- Payments ---

type PaymentResult struct {
	OrderID    string
	SignLink   string
	QRPNG      []byte // set for receive-payment requests
	AmountUSDC float64
}

// ReceivePayment builds an exact-output swap into the chat owner's
// USDC associated token account and renders the sign link as a QR
// image for presenting to the paying party.
func (s *Service) ReceivePayment(ctx context.Context, chatID string, amountUSDC float64) (*PaymentResult, error) {
	sess, err := s.session(ctx, chatID)
	if err != nil {
		return nil, err
	}

	res, err := s.buildPayment(ctx, sess, sess.WalletAddress, amountUSDC)
	if err != nil {
		return nil, err
	}

	png, err := qrcode.Encode(res.SignLink, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("render payment QR: %w", err)
	}
	res.QRPNG = png

	_ = s.history.Log(ctx, models.ActivityEntry{
		ChatID:  chatID,
		Kind:    models.ActivityPayment,
		Summary: fmt.Sprintf("payment request for %v USDC", amountUSDC),
		Meta:    map[string]any{"order_id": res.OrderID, "direction": "receive"},
	})
	return res, nil
}

// PayTo builds an exact-output swap from the chat owner's wallet into
// the recipient's USDC associated token account.
func (s *Service) PayTo(ctx context.Context, chatID, recipientWallet string, amountUSDC float64) (*PaymentResult, error) {
	sess, err := s.session(ctx, chatID)
	if err != nil {
		return nil, err
	}

	res, err := s.buildPayment(ctx, sess, recipientWallet, amountUSDC)
	if err != nil {
		return nil, err
	}

	_ = s.history.Log(ctx, models.ActivityEntry{
		ChatID:  chatID,
		Kind:    models.ActivityPayment,
		Summary: fmt.Sprintf("pay %v USDC to %s", amountUSDC, recipientWallet),
		Meta:    map[string]any{"order_id": res.OrderID, "direction": "send"},
	})
	return res, nil
}

func (s *Service) buildPayment(ctx context.Context, sess *models.ChatSession, destinationWallet string, amountUSDC float64) (*PaymentResult, error) {
	destATA, err := s.ataResolver(destinationWallet, s.usdcMint)
	if err != nil {
		return nil, fmt.Errorf("resolve destination token account: %w", err)
	}

	baseAmount := ToBaseUnits(amountUSDC, 6)
	quote, err := s.jup.SwapQuote(ctx, solMint, s.usdcMint, baseAmount, "ExactOut", 50)
	if err != nil {
		return nil, err
	}
	built, err := s.jup.BuildSwap(ctx, quote, sess.WalletAddress, destATA)
	if err != nil {
		return nil, err
	}

	link, err := s.issueSignLink(ctx, sess, built.RequestID, models.OrderKindPayment, built.SwapTransaction)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{OrderID: built.RequestID, SignLink: link, AmountUSDC: amountUSDC}, nil
}

// --- Connect & execute (callback side) ---

// CompleteConnect finishes the wallet-linking handshake: derives the
// shared secret from the counterparty key carried in the redirect,
// decrypts the payload and records the session for the chat.
func (s *Service) CompleteConnect(ctx context.Context, chatID, counterpartyPubKey string, env cryptobox.Envelope) (*models.ChatSession, error) {
	shared, err := s.keys.SharedSecret(counterpartyPubKey)
	if err != nil {
		return nil, err
	}
	plain, err := cryptobox.Open(shared, env)
	if err != nil {
		return nil, err
	}

	var payload connectPayload
	if err := json.Unmarshal(plain, &payload); err != nil || payload.PublicKey == "" {
		return nil, fmt.Errorf("malformed connect payload: %w", err)
	}

	sess := &models.ChatSession{
		ChatID:             chatID,
		WalletAddress:      payload.PublicKey,
		SessionToken:       payload.SessionToken,
		CounterpartyPubKey: counterpartyPubKey,
	}
	if err := s.sessions.Record(ctx, sess); err != nil {
		return nil, fmt.Errorf("record session: %w", err)
	}

	s.log.Info("wallet connected",
		zap.String("chat_id", chatID),
		zap.String("wallet", payload.PublicKey),
	)
	return sess, nil
}

// DecryptSigned opens an execute-callback envelope using the chat's
// own counterparty key — never a process-global one — and returns the
// user-signed transaction.
func (s *Service) DecryptSigned(ctx context.Context, chatID string, env cryptobox.Envelope) (string, error) {
	sess, err := s.session(ctx, chatID)
	if err != nil {
		return "", err
	}
	shared, err := s.keys.SharedSecret(sess.CounterpartyPubKey)
	if err != nil {
		return "", err
	}
	plain, err := cryptobox.Open(shared, env)
	if err != nil {
		return "", err
	}

	var payload signedPayload
	if err := json.Unmarshal(plain, &payload); err != nil || payload.Transaction == "" {
		return "", errors.New("orderflow: signed payload missing transaction")
	}
	return payload.Transaction, nil
}

// SubmitSigned sends a user-signed transaction to the execution
// endpoint selected by the order kind. Not retried on failure: a
// duplicate submission of a financial transaction is worse than a
// reported error.
func (s *Service) SubmitSigned(ctx context.Context, order *models.PendingOrder, signedTx string) (*jupiter.ExecuteResult, error) {
	var (
		res *jupiter.ExecuteResult
		err error
	)
	switch order.Kind {
	case models.OrderKindInstantSwap, models.OrderKindPayment:
		res, err = s.jup.UltraExecute(ctx, signedTx, order.OrderID)
	case models.OrderKindLimitOrder, models.OrderKindCancel:
		res, err = s.jup.TriggerExecute(ctx, signedTx, order.OrderID)
	default:
		err = fmt.Errorf("orderflow: unknown order kind %q", order.Kind)
	}
	if err != nil {
		_ = s.orders.MarkFailed(ctx, order.OrderID)
		return nil, err
	}

	_ = s.orders.SetSignature(ctx, order.OrderID, res.Signature)
	s.log.Info("order executed",
		zap.String("order_id", order.OrderID),
		zap.String("kind", order.Kind),
		zap.String("signature", res.Signature),
	)
	return res, nil
}

// --- helpers ---

func (s *Service) session(ctx context.Context, chatID string) (*models.ChatSession, error) {
	sess, err := s.sessions.Get(ctx, chatID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrSessionMissing
	}
	if err != nil {
		return nil, err
	}
	if !sess.CanEncrypt() {
		return nil, ErrSessionMissing
	}
	_ = s.sessions.Touch(ctx, chatID)
	return sess, nil
}

func (s *Service) issueSignLink(ctx context.Context, sess *models.ChatSession, orderID, kind, unsignedTx string) (string, error) {
	shared, err := s.keys.SharedSecret(sess.CounterpartyPubKey)
	if err != nil {
		return "", err
	}
	plain, err := json.Marshal(signPayload{Transaction: unsignedTx, Session: sess.SessionToken})
	if err != nil {
		return "", err
	}
	env, err := cryptobox.Seal(shared, plain)
	if err != nil {
		return "", err
	}

	if err := s.orders.Create(ctx, &models.PendingOrder{
		OrderID: orderID,
		ChatID:  sess.ChatID,
		Kind:    kind,
	}); err != nil {
		return "", fmt.Errorf("store pending order: %w", err)
	}

	return s.links.SignLink(sess.ChatID, orderID, kind, env)
}

// ToBaseUnits converts a human amount to an integer base-unit string
// for the given decimal precision.
func ToBaseUnits(amount float64, decimals int) string {
	f := new(big.Float).SetFloat64(amount)
	f.Mul(f, new(big.Float).SetFloat64(math.Pow10(decimals)))
	i, _ := f.Int(nil)
	return i.String()
}
