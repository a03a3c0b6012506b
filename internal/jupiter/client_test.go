package jupiter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(srv *httptest.Server) *Client {
	return New(srv.URL, srv.URL, 2*time.Second, zap.NewNop())
}

func TestUltraOrderParsesResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ultra/v1/order", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("taker"); got != "Wallet111" {
			t.Errorf("expected taker param, got %q", got)
		}
		_, _ = w.Write([]byte(`{
			"swapType":"aggregator",
			"requestId":"req-123",
			"inAmount":"1000000000",
			"outAmount":"150000000",
			"slippageBps":50,
			"priceImpactPct":"0.01",
			"gasless":true,
			"transaction":"dHgtYmxvYg==",
			"routePlan":[{"swapInfo":{"label":"Orca","ammKey":"AmmKey111"},"percent":100}]
		}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	got, err := newTestClient(srv).UltraOrder(context.Background(), "MintIn", "MintOut", "1000000000", "Wallet111")
	if err != nil {
		t.Fatalf("UltraOrder failed: %v", err)
	}
	if got.RequestID != "req-123" || got.Transaction == "" || !got.Gasless {
		t.Fatalf("unexpected order: %+v", got)
	}
	if len(got.RoutePlan) != 1 || got.RoutePlan[0].SwapInfo.Label != "Orca" {
		t.Fatalf("route plan not parsed: %+v", got.RoutePlan)
	}
}

func TestUltraOrderErrorField(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ultra/v1/order", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"insufficient balance"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newTestClient(srv).UltraOrder(context.Background(), "A", "B", "1", "W")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.Message != "insufficient balance" {
		t.Fatalf("unexpected message: %q", ue.Message)
	}
}

func TestUltraOrderNoRoute(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ultra/v1/order", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"requestId":"req-1","routePlan":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newTestClient(srv).UltraOrder(context.Background(), "A", "B", "1", "")
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestUltraExecuteNon2xx(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ultra/v1/execute", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newTestClient(srv).UltraExecute(context.Background(), "signed", "req-1")
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 UpstreamError, got %v", err)
	}
}

func TestCreateTriggerOrderMissingTransaction(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/trigger/v1/createOrder", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"requestId":"req-9"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newTestClient(srv).CreateTriggerOrder(context.Background(), CreateTriggerOrderRequest{
		InputMint: "A", OutputMint: "B", Maker: "W", Payer: "W",
		Params: TriggerOrderParams{MakingAmount: "1000000000", TakingAmount: "50000000"},
	})
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError for absent transaction, got %v", err)
	}
}

func TestPrice(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/price/v2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"So11111111111111111111111111111111111111112":{"price":"153.42"}}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	price, err := newTestClient(srv).Price(context.Background(), "So11111111111111111111111111111111111111112")
	if err != nil {
		t.Fatal(err)
	}
	if price != 153.42 {
		t.Fatalf("price = %v, want 153.42", price)
	}
}

func TestPriceMissingMint(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/price/v2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	if _, err := newTestClient(srv).Price(context.Background(), "UnknownMint"); err == nil {
		t.Fatal("expected error for missing price data")
	}
}

func TestSwapQuoteNoRoute(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/swap/v1/quote", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("swapMode"); got != "ExactOut" {
			t.Errorf("expected ExactOut swap mode, got %q", got)
		}
		_, _ = w.Write([]byte(`{"routePlan":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newTestClient(srv).SwapQuote(context.Background(), "A", "B", "1000000", "ExactOut", 50)
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestBalances(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ultra/v1/balances/Wallet111", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"SOL":{"uiAmount":1.25,"isFrozen":false}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	balances, err := newTestClient(srv).Balances(context.Background(), "Wallet111")
	if err != nil {
		t.Fatal(err)
	}
	sol, ok := balances["SOL"]
	if !ok || sol.UIAmount != 1.25 || sol.IsFrozen {
		t.Fatalf("unexpected balances: %+v", balances)
	}
}
