// Package bot runs the Telegram side: long-polling for messages,
// dispatching commands, falling back to natural-language parsing, and
// delivering out-of-band notifications published by the other
// processes.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/swapgram/backend/internal/deeplink"
	"github.com/swapgram/backend/internal/events"
	"github.com/swapgram/backend/internal/jupiter"
	"github.com/swapgram/backend/internal/models"
	"github.com/swapgram/backend/internal/nlp"
	"github.com/swapgram/backend/internal/orderflow"
	"github.com/swapgram/backend/internal/session"
	"github.com/swapgram/backend/internal/telegram"
	"github.com/swapgram/backend/internal/tokens"
	"go.uber.org/zap"
)

// WatchStore is the slice of the watch repository the bot needs.
type WatchStore interface {
	Create(ctx context.Context, w *models.PriceWatch) error
	CancelForChat(ctx context.Context, chatID string) (int64, error)
}

// HistoryStore records bot-side activity and reads it back for
// /history.
type HistoryStore interface {
	Log(ctx context.Context, e models.ActivityEntry) error
	Recent(ctx context.Context, chatID, kind string, limit int) ([]models.ActivityEntry, error)
}

type Dispatcher struct {
	tg       *telegram.Client
	flow     *orderflow.Service
	jup      *jupiter.Client
	nlp      *nlp.Client
	links    *deeplink.Builder
	sessions session.Store
	watches  WatchStore
	history  HistoryStore
	pageSize int
	log      *zap.Logger
}

func NewDispatcher(
	tg *telegram.Client,
	flow *orderflow.Service,
	jup *jupiter.Client,
	nlpClient *nlp.Client,
	links *deeplink.Builder,
	sessions session.Store,
	watches WatchStore,
	history HistoryStore,
	pageSize int,
	log *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		tg:       tg,
		flow:     flow,
		jup:      jup,
		nlp:      nlpClient,
		links:    links,
		sessions: sessions,
		watches:  watches,
		history:  history,
		pageSize: pageSize,
		log:      log,
	}
}

// Run long-polls for updates until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	var offset int64
	d.log.Info("bot dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.log.Info("bot dispatcher stopped")
			return
		default:
		}

		updates, err := d.tg.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.log.Warn("poll updates", zap.Error(err))
			time.Sleep(3 * time.Second)
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			d.handleMessage(ctx, u.Message)
		}
	}
}

// HandleEvent forwards a pub/sub notification to its chat. Wired as
// the events.Subscriber handler in the bot process.
func (d *Dispatcher) HandleEvent(e events.Event) {
	chatID, text := e.ChatID(), e.Text()
	if chatID == "" || text == "" {
		d.log.Warn("dropping malformed event", zap.String("type", e.Type))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.tg.SendMessage(ctx, chatID, text); err != nil {
		d.log.Error("deliver notification", zap.String("chat_id", chatID), zap.Error(err))
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg *telegram.Message) {
	chatID := telegram.ChatIDString(msg.Chat.ID)
	text := strings.TrimSpace(msg.Text)

	// Per-message deadline so one stuck upstream cannot stall the poll
	// loop forever.
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var reply string
	var err error
	if strings.HasPrefix(text, "/") {
		reply, err = d.dispatchCommand(ctx, chatID, text)
	} else {
		reply, err = d.dispatchFreeForm(ctx, chatID, text)
	}
	if err != nil {
		reply = d.errorReply(err)
	}
	if reply == "" {
		return
	}
	if err := d.tg.SendMessage(ctx, chatID, reply); err != nil {
		d.log.Error("send reply", zap.String("chat_id", chatID), zap.Error(err))
	}
}

func (d *Dispatcher) dispatchCommand(ctx context.Context, chatID, text string) (string, error) {
	fields := strings.Fields(text)
	// strip a trailing @BotName mention
	cmd, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")
	args := fields[1:]

	switch cmd {
	case "/start", "/help":
		return helpText, nil
	case "/connect":
		return d.cmdConnect(chatID), nil
	case "/disconnect":
		return d.cmdDisconnect(ctx, chatID)
	case "/balance":
		return d.cmdBalance(ctx, chatID)
	case "/price":
		return d.cmdPrice(ctx, chatID, args)
	case "/route", "/swap":
		return d.cmdRoute(ctx, chatID, args)
	case "/trigger":
		return d.cmdTrigger(ctx, chatID, args)
	case "/orders":
		return d.cmdOrders(ctx, chatID)
	case "/cancelorder":
		return d.cmdCancelOrder(ctx, chatID, args)
	case "/payto":
		return d.cmdPayTo(ctx, chatID, args)
	case "/receivepayment":
		return d.cmdReceivePayment(ctx, chatID, args)
	case "/notify":
		return d.cmdNotify(ctx, chatID, args)
	case "/unnotify":
		return d.cmdUnnotify(ctx, chatID)
	case "/tokens":
		return d.cmdTokens(ctx), nil
	case "/history":
		return d.cmdHistory(ctx, chatID, args)
	default:
		return "Unknown command. Send /help for the list.", nil
	}
}

// dispatchFreeForm routes a plain-language message through the NLP
// layer and into the same command handlers.
func (d *Dispatcher) dispatchFreeForm(ctx context.Context, chatID, text string) (string, error) {
	if !d.nlp.Enabled() {
		return "I only understand commands right now. Send /help for the list.", nil
	}

	intent, err := d.nlp.Intent(ctx, text)
	if err != nil {
		d.log.Warn("intent classification failed", zap.Error(err))
		return "I couldn't work that out. Send /help for the command list.", nil
	}

	switch intent {
	case nlp.IntentConnect:
		return d.cmdConnect(chatID), nil
	case nlp.IntentBalance:
		return d.cmdBalance(ctx, chatID)
	case nlp.IntentTokens:
		return d.cmdTokens(ctx), nil
	case nlp.IntentHistory:
		return d.cmdHistory(ctx, chatID, nil)
	case nlp.IntentPrice:
		p, err := d.nlp.ParsePrice(ctx, text)
		if err != nil {
			return "Which token? Try: what's the price of SOL", nil
		}
		return d.cmdPrice(ctx, chatID, []string{p.Token})
	case nlp.IntentRoute:
		p, err := d.nlp.ParseRoute(ctx, text)
		if err != nil {
			return "Try: swap 1 SOL to USDC", nil
		}
		return d.cmdRoute(ctx, chatID, []string{formatAmount(p.Amount), p.InputToken, p.OutputToken})
	case nlp.IntentTrigger:
		p, err := d.nlp.ParseTrigger(ctx, text)
		if err != nil {
			return "Try: sell 1 SOL for USDC when the price hits 250", nil
		}
		return d.cmdTrigger(ctx, chatID, []string{
			formatAmount(p.Amount), p.InputToken, p.OutputToken, formatAmount(p.TargetPrice),
		})
	case nlp.IntentPayment:
		p, err := d.nlp.ParsePayment(ctx, text)
		if err != nil {
			return "Try: send 5 USDC to <wallet>, or: request 5 USDC", nil
		}
		if p.Direction == "receive" {
			return d.cmdReceivePayment(ctx, chatID, []string{formatAmount(p.Amount)})
		}
		return d.cmdPayTo(ctx, chatID, []string{p.Recipient, formatAmount(p.Amount)})
	case nlp.IntentNotification:
		p, err := d.nlp.ParseNotification(ctx, text)
		if err != nil {
			return "Try: notify me when SOL goes above 200", nil
		}
		return d.cmdNotify(ctx, chatID, []string{p.Token, p.Condition, formatAmount(p.TargetPrice)})
	default:
		return "I couldn't work that out. Send /help for the command list.", nil
	}
}

// --- command handlers ---

func (d *Dispatcher) cmdConnect(chatID string) string {
	link := d.links.ConnectLink(chatID)
	return fmt.Sprintf("Open this link on the device with your wallet app to connect:\n%s", link)
}

func (d *Dispatcher) cmdDisconnect(ctx context.Context, chatID string) (string, error) {
	if err := d.sessions.Delete(ctx, chatID); err != nil {
		return "", err
	}
	return "Wallet disconnected. Send /connect to link one again.", nil
}

func (d *Dispatcher) cmdBalance(ctx context.Context, chatID string) (string, error) {
	sess, err := d.sessions.Get(ctx, chatID)
	if errors.Is(err, session.ErrNotFound) {
		return notConnectedText, nil
	}
	if err != nil {
		return "", err
	}

	balances, err := d.jup.Balances(ctx, sess.WalletAddress)
	if err != nil {
		return "", err
	}

	type line struct {
		name   string
		amount float64
	}
	var lines []line
	for name, b := range balances {
		if b.UIAmount <= 0 || b.IsFrozen {
			continue
		}
		lines = append(lines, line{name, b.UIAmount})
	}
	if len(lines) == 0 {
		return fmt.Sprintf("Wallet `%s` holds no visible balances.", sess.WalletAddress), nil
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].amount > lines[j].amount })

	var sb strings.Builder
	fmt.Fprintf(&sb, "Balances for `%s`:\n", sess.WalletAddress)
	for _, l := range lines {
		fmt.Fprintf(&sb, "• %s: %s\n", displayToken(l.name), formatAmount(l.amount))
	}
	return sb.String(), nil
}

func (d *Dispatcher) cmdPrice(ctx context.Context, chatID string, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: /price <token>", nil
	}
	mint, ok := tokens.Resolve(args[0])
	if !ok {
		return unknownTokenText(args[0]), nil
	}
	price, err := d.jup.Price(ctx, mint)
	if err != nil {
		return "", err
	}
	_ = d.history.Log(ctx, models.ActivityEntry{
		ChatID:  chatID,
		Kind:    models.ActivityPriceCheck,
		Summary: fmt.Sprintf("price check %s: $%s", strings.ToUpper(args[0]), formatAmount(price)),
	})
	return fmt.Sprintf("%s is trading at *$%s*", strings.ToUpper(args[0]), formatAmount(price)), nil
}

func (d *Dispatcher) cmdRoute(ctx context.Context, chatID string, args []string) (string, error) {
	if len(args) != 3 {
		return "Usage: /route <amount> <from> <to>\nExample: /route 1.5 SOL USDC", nil
	}
	amount, err := strconv.ParseFloat(args[0], 64)
	if err != nil || amount <= 0 {
		return "Amount must be a positive number.", nil
	}
	inMint, ok := tokens.Resolve(args[1])
	if !ok {
		return unknownTokenText(args[1]), nil
	}
	outMint, ok := tokens.Resolve(args[2])
	if !ok {
		return unknownTokenText(args[2]), nil
	}

	inInfo, err := d.jup.TokenInfo(ctx, inMint)
	if err != nil {
		return "", err
	}
	res, err := d.flow.InstantSwap(ctx, chatID, inMint, outMint, orderflow.ToBaseUnits(amount, inInfo.Decimals))
	if err != nil {
		return "", err
	}

	summary := fmt.Sprintf("Route found: %s %s → %s\nPrice impact: %s%%",
		formatAmount(amount), strings.ToUpper(args[1]), strings.ToUpper(args[2]), res.Order.PriceImpactPct)
	if res.Preview {
		return summary + "\n\n_Quote only — your wallet can't take this route right now (check the balance)._", nil
	}
	return summary + "\n\nApprove in your wallet:\n" + res.SignLink, nil
}

func (d *Dispatcher) cmdTrigger(ctx context.Context, chatID string, args []string) (string, error) {
	if len(args) != 4 {
		return "Usage: /trigger <amount> <from> <to> <target price>\nExample: /trigger 1 SOL USDC 250", nil
	}
	amount, err1 := strconv.ParseFloat(args[0], 64)
	targetPrice, err2 := strconv.ParseFloat(args[3], 64)
	if err1 != nil || err2 != nil || amount <= 0 || targetPrice <= 0 {
		return "Amount and target price must be positive numbers.", nil
	}
	inMint, ok := tokens.Resolve(args[1])
	if !ok {
		return unknownTokenText(args[1]), nil
	}
	outMint, ok := tokens.Resolve(args[2])
	if !ok {
		return unknownTokenText(args[2]), nil
	}

	res, err := d.flow.CreateLimitOrder(ctx, chatID, inMint, outMint, amount, targetPrice)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Limit order prepared: sell %s %s at %s %s each.\n\nApprove in your wallet:\n%s",
		formatAmount(amount), strings.ToUpper(args[1]), formatAmount(targetPrice), strings.ToUpper(args[2]), res.SignLink), nil
}

func (d *Dispatcher) cmdOrders(ctx context.Context, chatID string) (string, error) {
	orders, err := d.flow.ListOrders(ctx, chatID)
	if err != nil {
		return "", err
	}
	if len(orders) == 0 {
		return "No open limit orders.", nil
	}
	var sb strings.Builder
	sb.WriteString("Open limit orders:\n")
	for _, o := range orders {
		fmt.Fprintf(&sb, "• `%s`\n  %s → %s (making %s, taking %s)\n",
			o.OrderKey, o.InputMint, o.OutputMint, o.MakingAmount, o.TakingAmount)
	}
	sb.WriteString("\nCancel one with /cancelorder <id>")
	return sb.String(), nil
}

func (d *Dispatcher) cmdCancelOrder(ctx context.Context, chatID string, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: /cancelorder <order id>\nFind ids with /orders", nil
	}
	res, err := d.flow.CancelOrder(ctx, chatID, args[0])
	if err != nil {
		return "", err
	}
	return "Cancellation prepared. Approve in your wallet:\n" + res.SignLink, nil
}

func (d *Dispatcher) cmdPayTo(ctx context.Context, chatID string, args []string) (string, error) {
	if len(args) != 2 {
		return "Usage: /payto <wallet> <amount in USDC>", nil
	}
	amount, err := strconv.ParseFloat(args[1], 64)
	if err != nil || amount <= 0 {
		return "Amount must be a positive number of USDC.", nil
	}

	res, err := d.flow.PayTo(ctx, chatID, args[0], amount)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Payment of %s USDC prepared.\n\nApprove in your wallet:\n%s",
		formatAmount(amount), res.SignLink), nil
}

func (d *Dispatcher) cmdReceivePayment(ctx context.Context, chatID string, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: /receivepayment <amount in USDC>", nil
	}
	amount, err := strconv.ParseFloat(args[0], 64)
	if err != nil || amount <= 0 {
		return "Amount must be a positive number of USDC.", nil
	}

	res, err := d.flow.ReceivePayment(ctx, chatID, amount)
	if err != nil {
		return "", err
	}

	caption := fmt.Sprintf("Payment request for %s USDC. Have the payer scan this code.", formatAmount(amount))
	if err := d.tg.SendPhoto(ctx, chatID, res.QRPNG, caption); err != nil {
		d.log.Error("send payment QR", zap.String("chat_id", chatID), zap.Error(err))
		// The link still works without the image.
	}
	return "Or share this link directly:\n" + res.SignLink, nil
}

func (d *Dispatcher) cmdNotify(ctx context.Context, chatID string, args []string) (string, error) {
	if len(args) != 3 {
		return "Usage: /notify <token> above|below <price>\nExample: /notify SOL above 200", nil
	}
	condition := strings.ToLower(args[1])
	if condition != models.WatchConditionAbove && condition != models.WatchConditionBelow {
		return "Condition must be `above` or `below`.", nil
	}
	targetPrice, err := strconv.ParseFloat(args[2], 64)
	if err != nil || targetPrice <= 0 {
		return "Target price must be a positive number.", nil
	}
	mint, ok := tokens.Resolve(args[0])
	if !ok {
		return unknownTokenText(args[0]), nil
	}

	watch := &models.PriceWatch{
		ChatID:      chatID,
		Mint:        mint,
		Symbol:      strings.ToUpper(args[0]),
		Condition:   condition,
		TargetPrice: targetPrice,
	}
	if err := d.watches.Create(ctx, watch); err != nil {
		return "", err
	}
	_ = d.history.Log(ctx, models.ActivityEntry{
		ChatID:  chatID,
		Kind:    models.ActivityNotification,
		Summary: fmt.Sprintf("watch armed: %s %s $%s", watch.Symbol, condition, formatAmount(targetPrice)),
		Meta:    map[string]any{"watch_id": watch.ID},
	})
	return fmt.Sprintf("🔔 Watch armed: I'll message you when %s goes %s $%s.",
		watch.Symbol, condition, formatAmount(targetPrice)), nil
}

func (d *Dispatcher) cmdUnnotify(ctx context.Context, chatID string) (string, error) {
	n, err := d.watches.CancelForChat(ctx, chatID)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "No active watches to cancel.", nil
	}
	return fmt.Sprintf("Cancelled %d watch(es).", n), nil
}

func (d *Dispatcher) cmdTokens(ctx context.Context) string {
	reply := "Tokens I recognize by name:\n" + strings.Join(tokens.Known(), ", ") +
		"\n\nAny raw mint address works too."
	if mints, err := d.jup.TradableMints(ctx); err == nil {
		reply += fmt.Sprintf(" The exchange currently lists %d tradable mints.", len(mints))
	}
	return reply
}

func (d *Dispatcher) cmdHistory(ctx context.Context, chatID string, args []string) (string, error) {
	kind := ""
	if len(args) == 1 {
		kind = strings.ToLower(args[0])
	}
	entries, err := d.history.Recent(ctx, chatID, kind, d.pageSize)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "No activity yet.", nil
	}
	var sb strings.Builder
	sb.WriteString("Recent activity:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "• %s — %s\n", e.CreatedAt.Format("Jan 2 15:04"), e.Summary)
	}
	return sb.String(), nil
}

// --- helpers ---

func (d *Dispatcher) errorReply(err error) string {
	switch {
	case errors.Is(err, orderflow.ErrSessionMissing):
		return notConnectedText
	case errors.Is(err, jupiter.ErrNoRoute):
		return "No route found for that pair and amount."
	default:
		var upstream *jupiter.UpstreamError
		if errors.As(err, &upstream) {
			d.log.Warn("upstream error", zap.Error(err))
			return "The exchange backend rejected that request. Try again in a moment."
		}
		d.log.Error("command failed", zap.Error(err))
		return "Something went wrong on my side. Please try again."
	}
}

func unknownTokenText(input string) string {
	return fmt.Sprintf("I don't recognize `%s`. Send /tokens for the list, or use a raw mint address.", input)
}

func displayToken(name string) string {
	// Balance keys are either symbols or raw mints; shorten mints.
	if len(name) > 12 {
		return name[:4] + "…" + name[len(name)-4:]
	}
	return strings.ToUpper(name)
}

// formatAmount trims trailing zeros so 1.500000 reads as 1.5.
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

const notConnectedText = "No wallet connected yet. Send /connect to link one."

const helpText = `*What I can do*

/connect — link your wallet
/disconnect — unlink it
/balance — token balances
/price SOL — current price
/route 1 SOL USDC — swap now
/trigger 1 SOL USDC 250 — limit order
/orders — open limit orders
/cancelorder <id> — cancel one
/payto <wallet> 5 — pay 5 USDC
/receivepayment 5 — request 5 USDC (QR)
/notify SOL above 200 — price alert
/unnotify — cancel alerts
/tokens — tokens I know
/history — recent activity

You can also just ask, e.g. "swap half a sol to usdc".`
