package okx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quant_go/internal/domain"
	"quant_go/internal/infra"
)

// Client is the OKX v5 REST client. It serves two concerns: candle
// history for warm starts and backtests, and live order placement.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	logger     *slog.Logger
}

// NewClient creates an OKX REST client from the loaded configuration.
func NewClient(cfg *infra.Config) *Client {
	signer := NewSigner(
		cfg.API.OKX.APIKey,
		cfg.API.OKX.SecretKey,
		cfg.API.OKX.Passphrase,
		cfg.API.OKX.Simulated,
	)

	return &Client{
		baseURL: strings.TrimRight(cfg.API.OKX.RestURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer: signer,
		logger: slog.Default().With("module", "okx_client"),
	}
}

// apiResponse is the OKX v5 envelope.
type apiResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// GetCandles fetches up to limit recent candles for the symbol and
// returns them oldest first, one observation per candle close.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.PriceObservation, error) {
	if limit <= 0 || limit > 300 {
		limit = 100
	}
	q := url.Values{}
	q.Set("instId", symbol)
	q.Set("bar", interval)
	q.Set("limit", strconv.Itoa(limit))
	path := "/api/v5/market/candles?" + q.Encode()

	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, domain.NewNetworkError("okx candles", err)
	}

	// Candle rows: [ts, open, high, low, close, ...], newest first.
	var rows [][]string
	if err := json.Unmarshal(resp.Data, &rows); err != nil {
		return nil, fmt.Errorf("okx candles: malformed data: %w", err)
	}

	out := make([]domain.PriceObservation, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		ms, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		price, err := decimal.NewFromString(row[4])
		if err != nil || !price.IsPositive() {
			continue
		}
		out = append(out, domain.PriceObservation{
			Time:     time.UnixMilli(ms).UTC(),
			Symbol:   symbol,
			Interval: interval,
			Price:    price,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })

	c.logger.Debug("fetched candles",
		slog.String("symbol", symbol),
		slog.String("interval", interval),
		slog.Int("count", len(out)))
	return out, nil
}

// placeOrderRequest is the OKX v5 order payload.
type placeOrderRequest struct {
	InstID  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	Side    string `json:"side"`    // buy, sell
	OrdType string `json:"ordType"` // market
	Sz      string `json:"sz"`
	TgtCcy  string `json:"tgtCcy,omitempty"` // base_ccy: sz is in base units
}

// PlaceOrder implements domain.OrderClient with a spot market order.
// The returned fill echoes the request; fill reconciliation against
// the exchange ledger is a manual operation.
func (c *Client) PlaceOrder(ctx context.Context, symbol, side string, qty, price decimal.Decimal) (domain.OrderResult, error) {
	if !qty.IsPositive() {
		return domain.OrderResult{}, fmt.Errorf("okx order: non-positive quantity %s", qty)
	}

	req := placeOrderRequest{
		InstID:  symbol,
		TdMode:  "cash",
		Side:    strings.ToLower(side),
		OrdType: "market",
		Sz:      qty.String(),
		TgtCcy:  "base_ccy",
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v5/trade/order", req)
	if err != nil {
		return domain.OrderResult{}, domain.NewNetworkError("okx order", err)
	}

	var data []struct {
		OrdID string `json:"ordId"`
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil || len(data) == 0 {
		return domain.OrderResult{}, fmt.Errorf("okx order: malformed response")
	}
	if data[0].SCode != "" && data[0].SCode != "0" {
		return domain.OrderResult{}, fmt.Errorf("okx order rejected: code=%s msg=%s", data[0].SCode, data[0].SMsg)
	}

	c.logger.Info("order placed",
		slog.String("symbol", symbol),
		slog.String("side", side),
		slog.String("qty", qty.String()),
		slog.String("order_id", data[0].OrdID))

	return domain.OrderResult{
		OrderID:     data[0].OrdID,
		FilledQty:   qty,
		FilledPrice: price,
	}, nil
}

// doRequest signs and sends one request and decodes the OKX envelope.
// A non-zero envelope code is a business error, not a network error.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*apiResponse, error) {
	var (
		bodyReader io.Reader
		bodyStr    string
	)
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonBytes)
		bodyStr = string(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	for k, v := range c.signer.GenerateHeaders(method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("okx api error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}

	var env apiResponse
	if err := json.Unmarshal(bodyBytes, &env); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if env.Code != "0" {
		return nil, fmt.Errorf("okx business error: code=%s msg=%s", env.Code, env.Msg)
	}
	return &env, nil
}
