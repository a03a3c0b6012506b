package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/swapgram/backend/internal/cryptobox"
	"github.com/swapgram/backend/internal/deeplink"
	"github.com/swapgram/backend/internal/events"
	"github.com/swapgram/backend/internal/jupiter"
	"github.com/swapgram/backend/internal/models"
	"github.com/swapgram/backend/internal/orderflow"
	"github.com/swapgram/backend/internal/repositories"
	"github.com/swapgram/backend/internal/session"
	"go.uber.org/zap"
)

type fakeOrderStore struct{}

func (fakeOrderStore) Create(context.Context, *models.PendingOrder) error { return nil }
func (fakeOrderStore) SetSignature(context.Context, string, string) error { return nil }
func (fakeOrderStore) MarkFailed(context.Context, string) error           { return nil }

type fakeHistory struct{}

func (fakeHistory) Log(context.Context, models.ActivityEntry) error { return nil }

type fakeClaimer struct {
	orders map[string]*models.PendingOrder
}

func (f *fakeClaimer) Claim(_ context.Context, orderID string) (*models.PendingOrder, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return nil, repositories.ErrOrderNotFound
	}
	if o.Status == models.OrderStatusExecuted {
		return nil, repositories.ErrOrderAlreadyExecuted
	}
	o.Status = models.OrderStatusExecuted
	return o, nil
}

type fakePublisher struct {
	events []events.Event
}

func (f *fakePublisher) Publish(_ context.Context, _ string, e events.Event) error {
	f.events = append(f.events, e)
	return nil
}

type handlerEnv struct {
	app      *fiber.App
	sessions *session.Memory
	server   *cryptobox.KeyPair
	wallet   *cryptobox.KeyPair
	claims   *fakeClaimer
	pub      *fakePublisher
}

func newHandlerEnv(t *testing.T, jupURL string) *handlerEnv {
	t.Helper()

	serverKeys, err := cryptobox.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	walletKeys, err := cryptobox.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	sessions := session.NewMemory()
	jup := jupiter.New(jupURL, jupURL, 2*time.Second, zap.NewNop())
	links := deeplink.NewBuilder("https://bot.example.com", "https://app.example.com", "mainnet-beta", serverKeys.PublicBase58())
	flow := orderflow.NewService(sessions, fakeOrderStore{}, fakeHistory{}, jup, serverKeys, links, "USDCMINT", zap.NewNop())

	claims := &fakeClaimer{orders: map[string]*models.PendingOrder{}}
	pub := &fakePublisher{}
	h := NewCallbackHandler(flow, claims, pub, zap.NewNop())

	app := fiber.New()
	app.Get("/wallet/callback", h.Connect)
	app.Get("/wallet/execute", h.ExecuteTrigger)
	app.Get("/wallet/ultra-execute", h.ExecuteUltra)

	return &handlerEnv{
		app:      app,
		sessions: sessions,
		server:   serverKeys,
		wallet:   walletKeys,
		claims:   claims,
		pub:      pub,
	}
}

func (e *handlerEnv) seal(t *testing.T, plaintext string) cryptobox.Envelope {
	t.Helper()
	shared, err := e.wallet.SharedSecret(e.server.PublicBase58())
	if err != nil {
		t.Fatal(err)
	}
	env, err := cryptobox.Seal(shared, []byte(plaintext))
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func (e *handlerEnv) connectSession(t *testing.T, chatID string) {
	t.Helper()
	err := e.sessions.Record(context.Background(), &models.ChatSession{
		ChatID:             chatID,
		WalletAddress:      "W1",
		SessionToken:       "S1",
		CounterpartyPubKey: e.wallet.PublicBase58(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (e *handlerEnv) get(t *testing.T, path string, query url.Values) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path+"?"+query.Encode(), nil)
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, string(body)
}

func TestConnectRejectsMissingParams(t *testing.T) {
	env := newHandlerEnv(t, "http://127.0.0.1:0")

	resp, body := env.get(t, "/wallet/callback", url.Values{})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if !strings.Contains(body, "chat_id") {
		t.Fatalf("body should name the missing param, got %q", body)
	}

	q := url.Values{"chat_id": {"9"}}
	resp, body = env.get(t, "/wallet/callback", q)
	if resp.StatusCode != fiber.StatusBadRequest || !strings.Contains(body, "phantom_encryption_public_key") {
		t.Fatalf("status = %d body = %q", resp.StatusCode, body)
	}
}

func TestConnectEstablishesSession(t *testing.T) {
	env := newHandlerEnv(t, "http://127.0.0.1:0")
	sealed := env.seal(t, `{"publicKey":"W1","sessionToken":"S1"}`)

	q := url.Values{
		"chat_id":                       {"9"},
		"phantom_encryption_public_key": {env.wallet.PublicBase58()},
		"nonce":                         {sealed.Nonce},
		"data":                          {sealed.Data},
	}
	resp, body := env.get(t, "/wallet/callback", q)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d body = %q", resp.StatusCode, body)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("content type = %s", resp.Header.Get("Content-Type"))
	}

	sess, err := env.sessions.Get(context.Background(), "9")
	if err != nil {
		t.Fatal(err)
	}
	if sess.WalletAddress != "W1" || sess.SessionToken != "S1" {
		t.Fatalf("session = %+v", sess)
	}

	if len(env.pub.events) != 1 || env.pub.events[0].Type != events.EventWalletConnected {
		t.Fatalf("events = %+v", env.pub.events)
	}
	if env.pub.events[0].ChatID() != "9" {
		t.Fatalf("notification chat = %s", env.pub.events[0].ChatID())
	}
}

func TestConnectUndecryptablePayloadIs500(t *testing.T) {
	env := newHandlerEnv(t, "http://127.0.0.1:0")
	sealed := env.seal(t, `{"publicKey":"W1","sessionToken":"S1"}`)

	q := url.Values{
		"chat_id":                       {"9"},
		"phantom_encryption_public_key": {env.wallet.PublicBase58()},
		"nonce":                         {sealed.Nonce},
		"data":                          {sealed.Data[:len(sealed.Data)-2] + "xx"},
	}
	resp, _ := env.get(t, "/wallet/callback", q)
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestConnectDeclinedByWallet(t *testing.T) {
	env := newHandlerEnv(t, "http://127.0.0.1:0")

	q := url.Values{"chat_id": {"9"}, "errorCode": {"4001"}}
	resp, body := env.get(t, "/wallet/callback", q)
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(body, "cancelled") {
		t.Fatalf("status = %d body = %q", resp.StatusCode, body)
	}
	if len(env.pub.events) != 1 {
		t.Fatalf("decline should still notify the chat: %+v", env.pub.events)
	}
}

func TestExecuteHappyPathAndReplay(t *testing.T) {
	jupSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ultra/v1/execute" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"signature": "sig-1", "status": "Success"})
	}))
	defer jupSrv.Close()

	env := newHandlerEnv(t, jupSrv.URL)
	env.connectSession(t, "9")
	env.claims.orders["ord-1"] = &models.PendingOrder{
		OrderID: "ord-1", ChatID: "9", Kind: models.OrderKindInstantSwap, Status: models.OrderStatusPending,
	}

	sealed := env.seal(t, `{"transaction":"signed-tx"}`)
	q := url.Values{
		"chat_id":  {"9"},
		"order_id": {"ord-1"},
		"nonce":    {sealed.Nonce},
		"data":     {sealed.Data},
	}

	resp, body := env.get(t, "/wallet/ultra-execute", q)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d body = %q", resp.StatusCode, body)
	}
	if len(env.pub.events) != 1 || env.pub.events[0].Type != events.EventOrderExecuted {
		t.Fatalf("events = %+v", env.pub.events)
	}
	if !strings.Contains(env.pub.events[0].Text(), "sig-1") {
		t.Fatalf("notification should carry the signature: %q", env.pub.events[0].Text())
	}

	// Same redirect replayed: no second submission, no second event.
	resp, body = env.get(t, "/wallet/ultra-execute", q)
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(body, "Already processed") {
		t.Fatalf("replay: status = %d body = %q", resp.StatusCode, body)
	}
	if len(env.pub.events) != 1 {
		t.Fatalf("replay published extra events: %+v", env.pub.events)
	}
}

func TestExecuteCorruptedPayloadKeepsOrderPending(t *testing.T) {
	env := newHandlerEnv(t, "http://127.0.0.1:0")
	env.connectSession(t, "9")
	env.claims.orders["ord-1"] = &models.PendingOrder{
		OrderID: "ord-1", ChatID: "9", Kind: models.OrderKindInstantSwap, Status: models.OrderStatusPending,
	}
	sealed := env.seal(t, `{"transaction":"signed-tx"}`)

	q := url.Values{
		"chat_id":  {"9"},
		"order_id": {"ord-1"},
		"nonce":    {sealed.Nonce},
		"data":     {sealed.Data[:len(sealed.Data)-2] + "xx"},
	}
	resp, _ := env.get(t, "/wallet/ultra-execute", q)
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if env.claims.orders["ord-1"].Status != models.OrderStatusPending {
		t.Fatal("a corrupted redirect must not spend the order")
	}
}

func TestExecuteRejectsMissingParams(t *testing.T) {
	env := newHandlerEnv(t, "http://127.0.0.1:0")

	for _, q := range []url.Values{
		{},
		{"chat_id": {"9"}},
		{"chat_id": {"9"}, "order_id": {"ord-1"}}, // no envelope
	} {
		resp, _ := env.get(t, "/wallet/execute", q)
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("query %v: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestExecuteUnknownOrder(t *testing.T) {
	env := newHandlerEnv(t, "http://127.0.0.1:0")
	env.connectSession(t, "9")
	sealed := env.seal(t, `{"transaction":"signed-tx"}`)

	q := url.Values{
		"chat_id":  {"9"},
		"order_id": {"nope"},
		"nonce":    {sealed.Nonce},
		"data":     {sealed.Data},
	}
	resp, _ := env.get(t, "/wallet/execute", q)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestExecuteChatMismatch(t *testing.T) {
	env := newHandlerEnv(t, "http://127.0.0.1:0")
	env.connectSession(t, "9")
	env.claims.orders["ord-1"] = &models.PendingOrder{
		OrderID: "ord-1", ChatID: "other-chat", Kind: models.OrderKindInstantSwap, Status: models.OrderStatusPending,
	}
	sealed := env.seal(t, `{"transaction":"signed-tx"}`)

	q := url.Values{
		"chat_id":  {"9"},
		"order_id": {"ord-1"},
		"nonce":    {sealed.Nonce},
		"data":     {sealed.Data},
	}
	resp, _ := env.get(t, "/wallet/execute", q)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestExecuteDeclinedByWallet(t *testing.T) {
	env := newHandlerEnv(t, "http://127.0.0.1:0")

	q := url.Values{
		"chat_id":   {"9"},
		"order_id":  {"ord-1"},
		"errorCode": {"4001"},
	}
	resp, body := env.get(t, "/wallet/execute", q)
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(body, "cancelled") {
		t.Fatalf("status = %d body = %q", resp.StatusCode, body)
	}
	if len(env.pub.events) != 1 || env.pub.events[0].Type != events.EventOrderFailed {
		t.Fatalf("events = %+v", env.pub.events)
	}
	if _, err := env.claims.Claim(context.Background(), "ord-1"); err != repositories.ErrOrderNotFound {
		t.Fatal("decline must not touch pending orders")
	}
}

func TestExecuteFailedSubmission(t *testing.T) {
	jupSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"simulation failed"}`)
	}))
	defer jupSrv.Close()

	env := newHandlerEnv(t, jupSrv.URL)
	env.connectSession(t, "9")
	env.claims.orders["ord-1"] = &models.PendingOrder{
		OrderID: "ord-1", ChatID: "9", Kind: models.OrderKindInstantSwap, Status: models.OrderStatusPending,
	}
	sealed := env.seal(t, `{"transaction":"signed-tx"}`)

	q := url.Values{
		"chat_id":  {"9"},
		"order_id": {"ord-1"},
		"nonce":    {sealed.Nonce},
		"data":     {sealed.Data},
	}
	resp, body := env.get(t, "/wallet/ultra-execute", q)
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(body, "failed") {
		t.Fatalf("status = %d body = %q", resp.StatusCode, body)
	}
	if len(env.pub.events) != 1 || env.pub.events[0].Type != events.EventOrderFailed {
		t.Fatalf("events = %+v", env.pub.events)
	}
}
