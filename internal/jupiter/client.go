// Package jupiter is the liquidity-aggregator client: quotes, order
// creation and cancellation, signed-transaction execution, prices and
// token metadata. The aggregator is an opaque collaborator; every
// response either carries the expected fields or is an error.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNoRoute means the quote had no viable path for the pair/amount.
var ErrNoRoute = errors.New("jupiter: no route for pair")

// UpstreamError is a non-2xx response or an error field returned by
// the aggregator. Never retried automatically outside the documented
// unscoped-quote fallback.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("jupiter: upstream %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("jupiter: upstream error: %s", e.Message)
}

type Client struct {
	liteURL string // public endpoints: ultra, swap, price, tokens
	apiURL  string // trigger endpoints
	http    *http.Client
	log     *zap.Logger
}

func New(liteURL, apiURL string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		liteURL: strings.TrimRight(liteURL, "/"),
		apiURL:  strings.TrimRight(apiURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// --- Ultra (instant swap) ---

type RoutePlanStep struct {
	SwapInfo struct {
		Label      string `json:"label"`
		AmmKey     string `json:"ammKey"`
		InputMint  string `json:"inputMint"`
		OutputMint string `json:"outputMint"`
		InAmount   string `json:"inAmount"`
		OutAmount  string `json:"outAmount"`
		FeeAmount  string `json:"feeAmount"`
		FeeMint    string `json:"feeMint"`
	} `json:"swapInfo"`
	Percent float64 `json:"percent"`
}

type UltraOrder struct {
	SwapType       string          `json:"swapType"`
	RequestID      string          `json:"requestId"`
	InAmount       string          `json:"inAmount"`
	OutAmount      string          `json:"outAmount"`
	SlippageBps    int             `json:"slippageBps"`
	PriceImpactPct string          `json:"priceImpactPct"`
	RoutePlan      []RoutePlanStep `json:"routePlan"`
	Gasless        bool            `json:"gasless"`
	Transaction    string          `json:"transaction"`
	ErrorMessage   string          `json:"error"`
}

// UltraOrder requests an aggregated quote. With taker set the response
// includes a signable transaction; without it the quote is preview
// only. A taker-scoped failure is the caller's cue to retry unscoped.
func (c *Client) UltraOrder(ctx context.Context, inputMint, outputMint, amount, taker string) (*UltraOrder, error) {
	vals := url.Values{}
	vals.Set("inputMint", inputMint)
	vals.Set("outputMint", outputMint)
	vals.Set("amount", amount)
	if taker != "" {
		vals.Set("taker", taker)
	}

	var resp UltraOrder
	if err := c.getJSON(ctx, fmt.Sprintf("%s/ultra/v1/order?%s", c.liteURL, vals.Encode()), &resp); err != nil {
		return nil, err
	}
	if resp.ErrorMessage != "" {
		return nil, &UpstreamError{Message: resp.ErrorMessage}
	}
	if len(resp.RoutePlan) == 0 {
		return nil, ErrNoRoute
	}
	return &resp, nil
}

type ExecuteResult struct {
	Signature    string `json:"signature"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error"`
}

// UltraExecute submits a user-signed transaction for settlement,
// correlated by the original order's request id.
func (c *Client) UltraExecute(ctx context.Context, signedTransaction, requestID string) (*ExecuteResult, error) {
	body := map[string]string{
		"signedTransaction": signedTransaction,
		"requestId":         requestID,
	}
	var resp ExecuteResult
	if err := c.postJSON(ctx, c.liteURL+"/ultra/v1/execute", body, &resp); err != nil {
		return nil, err
	}
	if resp.ErrorMessage != "" {
		return nil, &UpstreamError{Message: resp.ErrorMessage}
	}
	if resp.Signature == "" {
		return nil, &UpstreamError{Message: "execute response missing signature"}
	}
	return &resp, nil
}

type Balance struct {
	UIAmount float64 `json:"uiAmount"`
	IsFrozen bool    `json:"isFrozen"`
}

// Balances returns per-token balances for a wallet, keyed by symbol
// ("SOL") or mint address.
func (c *Client) Balances(ctx context.Context, wallet string) (map[string]Balance, error) {
	raw := map[string]json.RawMessage{}
	if err := c.getJSON(ctx, fmt.Sprintf("%s/ultra/v1/balances/%s", c.liteURL, url.PathEscape(wallet)), &raw); err != nil {
		return nil, err
	}
	if msg, ok := raw["error"]; ok {
		var s string
		_ = json.Unmarshal(msg, &s)
		return nil, &UpstreamError{Message: s}
	}
	out := make(map[string]Balance, len(raw))
	for k, v := range raw {
		var b Balance
		if json.Unmarshal(v, &b) == nil {
			out[k] = b
		}
	}
	return out, nil
}

// --- Trigger (limit orders) ---

type TriggerOrderParams struct {
	MakingAmount string `json:"makingAmount"`
	TakingAmount string `json:"takingAmount"`
}

type CreateTriggerOrderRequest struct {
	InputMint        string             `json:"inputMint"`
	OutputMint       string             `json:"outputMint"`
	Maker            string             `json:"maker"`
	Payer            string             `json:"payer"`
	Params           TriggerOrderParams `json:"params"`
	ComputeUnitPrice string             `json:"computeUnitPrice"`
}

type TriggerOrderResponse struct {
	RequestID    string `json:"requestId"`
	Order        string `json:"order"`
	Transaction  string `json:"transaction"`
	ErrorMessage string `json:"error"`
}

func (c *Client) CreateTriggerOrder(ctx context.Context, req CreateTriggerOrderRequest) (*TriggerOrderResponse, error) {
	if req.ComputeUnitPrice == "" {
		req.ComputeUnitPrice = "auto"
	}
	var resp TriggerOrderResponse
	if err := c.postJSON(ctx, c.apiURL+"/trigger/v1/createOrder", req, &resp); err != nil {
		return nil, err
	}
	if resp.ErrorMessage != "" {
		return nil, &UpstreamError{Message: resp.ErrorMessage}
	}
	if resp.RequestID == "" || resp.Transaction == "" {
		return nil, &UpstreamError{Message: "createOrder response missing requestId or transaction"}
	}
	return &resp, nil
}

// CancelTriggerOrder requests an unsigned cancellation transaction for
// an existing order; it rides the same sign/callback path afterwards.
func (c *Client) CancelTriggerOrder(ctx context.Context, maker, orderAccount string) (*TriggerOrderResponse, error) {
	body := map[string]string{
		"maker":            maker,
		"order":            orderAccount,
		"computeUnitPrice": "auto",
	}
	var resp TriggerOrderResponse
	if err := c.postJSON(ctx, c.apiURL+"/trigger/v1/cancelOrder", body, &resp); err != nil {
		return nil, err
	}
	if resp.ErrorMessage != "" {
		return nil, &UpstreamError{Message: resp.ErrorMessage}
	}
	if resp.Transaction == "" {
		return nil, &UpstreamError{Message: "cancelOrder response missing transaction"}
	}
	return &resp, nil
}

func (c *Client) TriggerExecute(ctx context.Context, signedTransaction, requestID string) (*ExecuteResult, error) {
	body := map[string]string{
		"signedTransaction": signedTransaction,
		"requestId":         requestID,
	}
	var resp ExecuteResult
	if err := c.postJSON(ctx, c.apiURL+"/trigger/v1/execute", body, &resp); err != nil {
		return nil, err
	}
	if resp.ErrorMessage != "" {
		return nil, &UpstreamError{Message: resp.ErrorMessage}
	}
	return &resp, nil
}

type TriggerOrder struct {
	OrderKey     string `json:"orderKey"`
	InputMint    string `json:"inputMint"`
	OutputMint   string `json:"outputMint"`
	MakingAmount string `json:"makingAmount"`
	TakingAmount string `json:"takingAmount"`
	Status       string `json:"status"`
	CreatedAt    string `json:"createdAt"`
}

// ActiveTriggerOrders lists a wallet's open limit orders.
func (c *Client) ActiveTriggerOrders(ctx context.Context, wallet string) ([]TriggerOrder, error) {
	vals := url.Values{}
	vals.Set("user", wallet)
	vals.Set("orderStatus", "active")

	var resp struct {
		Orders       []TriggerOrder `json:"orders"`
		ErrorMessage string         `json:"error"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("%s/trigger/v1/getTriggerOrders?%s", c.apiURL, vals.Encode()), &resp); err != nil {
		return nil, err
	}
	if resp.ErrorMessage != "" {
		return nil, &UpstreamError{Message: resp.ErrorMessage}
	}
	return resp.Orders, nil
}

// --- Swap (payments) ---

// SwapQuote fetches a quote for the classic swap API. The full quote
// document is passed back verbatim when building the transaction, so
// it stays raw here.
func (c *Client) SwapQuote(ctx context.Context, inputMint, outputMint, amount, swapMode string, slippageBps int) (json.RawMessage, error) {
	vals := url.Values{}
	vals.Set("inputMint", inputMint)
	vals.Set("outputMint", outputMint)
	vals.Set("amount", amount)
	vals.Set("slippageBps", strconv.Itoa(slippageBps))
	if swapMode != "" {
		vals.Set("swapMode", swapMode)
	}

	var raw json.RawMessage
	if err := c.getJSON(ctx, fmt.Sprintf("%s/swap/v1/quote?%s", c.liteURL, vals.Encode()), &raw); err != nil {
		return nil, err
	}
	var probe struct {
		ErrorMessage string `json:"error"`
		RoutePlan    []any  `json:"routePlan"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &UpstreamError{Message: "malformed quote response"}
	}
	if probe.ErrorMessage != "" {
		return nil, &UpstreamError{Message: probe.ErrorMessage}
	}
	if len(probe.RoutePlan) == 0 {
		return nil, ErrNoRoute
	}
	return raw, nil
}

type SwapBuildResponse struct {
	SwapTransaction string `json:"swapTransaction"`
	RequestID       string `json:"requestId"`
	ErrorMessage    string `json:"error"`
}

// BuildSwap turns a quote into an unsigned transaction, optionally
// directing output to a specific token account (payments).
func (c *Client) BuildSwap(ctx context.Context, quote json.RawMessage, userPublicKey, destinationTokenAccount string) (*SwapBuildResponse, error) {
	body := map[string]any{
		"quoteResponse": quote,
		"userPublicKey": userPublicKey,
	}
	if destinationTokenAccount != "" {
		body["destinationTokenAccount"] = destinationTokenAccount
	}
	var resp SwapBuildResponse
	if err := c.postJSON(ctx, c.liteURL+"/swap/v1/swap", body, &resp); err != nil {
		return nil, err
	}
	if resp.ErrorMessage != "" {
		return nil, &UpstreamError{Message: resp.ErrorMessage}
	}
	if resp.SwapTransaction == "" {
		return nil, &UpstreamError{Message: "swap response missing transaction"}
	}
	return &resp, nil
}

// --- Prices & tokens ---

// Price returns the current USD price for a mint.
func (c *Client) Price(ctx context.Context, mint string) (float64, error) {
	var resp struct {
		Data map[string]struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("%s/price/v2?ids=%s", c.liteURL, url.QueryEscape(mint)), &resp); err != nil {
		return 0, err
	}
	entry, ok := resp.Data[mint]
	if !ok {
		return 0, &UpstreamError{Message: "no price data for mint"}
	}
	price, err := strconv.ParseFloat(entry.Price, 64)
	if err != nil || price <= 0 {
		return 0, &UpstreamError{Message: "invalid price for mint"}
	}
	return price, nil
}

type TokenInfo struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	LogoURI  string `json:"logoURI"`
}

func (c *Client) TokenInfo(ctx context.Context, mint string) (*TokenInfo, error) {
	var resp TokenInfo
	if err := c.getJSON(ctx, fmt.Sprintf("%s/tokens/v1/token/%s", c.liteURL, url.PathEscape(mint)), &resp); err != nil {
		return nil, err
	}
	if resp.Symbol == "" {
		return nil, &UpstreamError{Message: "unknown token mint"}
	}
	return &resp, nil
}

// TradableMints returns the aggregator's tradable mint list.
func (c *Client) TradableMints(ctx context.Context) ([]string, error) {
	var mints []string
	if err := c.getJSON(ctx, c.liteURL+"/tokens/v1/mints/tradable", &mints); err != nil {
		return nil, err
	}
	return mints, nil
}

// --- transport ---

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("aggregator unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &UpstreamError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &UpstreamError{Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return nil
}
