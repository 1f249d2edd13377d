// Package binance implements the exchange.Client boundary on top of the
// go-binance USD-M futures SDK. All wire-format normalization happens here;
// nothing above this package sees SDK types.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/tidwall/gjson"

	"sentinel/internal/gateway/exchange"
	"sentinel/internal/logger"
	"sentinel/internal/pkg/circuit"
	"sentinel/internal/types"
)

const maxKlineLimit = 1500

// Client wraps the futures SDK behind the normalized exchange boundary.
type Client struct {
	cfg     Config
	client  *futures.Client
	breaker *circuit.Breaker

	precMu    sync.Mutex
	precision map[string]int
}

var _ exchange.Client = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	if final.Testnet {
		futures.UseTestnet = true
	}
	cli := futures.NewClient(final.APIKey, final.APISecret)
	if base := strings.TrimSpace(final.RESTBaseURL); base != "" {
		cli.BaseURL = base
	}
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	cli.HTTPClient = httpClient
	return &Client{
		cfg:       final,
		client:    cli,
		breaker:   circuit.NewBreaker("binance-rest", final.BreakerThreshold, final.BreakerTimeout),
		precision: make(map[string]int),
	}, nil
}

func (c *Client) GetOpenPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	var risks []*futures.PositionRisk
	err := c.breaker.Do(func() error {
		svc := c.client.NewGetPositionRiskService()
		if s := strings.TrimSpace(symbol); s != "" {
			svc = svc.Symbol(s)
		}
		var err error
		risks, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("position risk fetch failed: %w", err)
	}
	out := make([]types.Position, 0, len(risks))
	for _, r := range risks {
		if r == nil {
			continue
		}
		pos, ok := normalizePosition(r)
		if !ok {
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

// normalizePosition maps one SDK position-risk row into the core Position.
// Rows with zero quantity are not positions and are dropped.
func normalizePosition(r *futures.PositionRisk) (types.Position, bool) {
	qty := parseFloat(r.PositionAmt)
	if qty == 0 {
		return types.Position{}, false
	}
	direction := types.DirectionLong
	if qty < 0 {
		direction = types.DirectionShort
		qty = -qty
	}
	marginType := types.MarginCross
	if strings.EqualFold(strings.TrimSpace(r.MarginType), "isolated") {
		marginType = types.MarginIsolated
	}
	pos := types.Position{
		Symbol:           strings.TrimSpace(r.Symbol),
		Direction:        direction,
		EntryPrice:       parseFloat(r.EntryPrice),
		MarkPrice:        parseFloat(r.MarkPrice),
		LiquidationPrice: parseFloat(r.LiquidationPrice),
		Quantity:         qty,
		Leverage:         parseFloat(r.Leverage),
		MarginType:       marginType,
		UnrealizedPnl:    parseFloat(r.UnRealizedProfit),
	}
	pos.UnrealizedPnlPct = pos.PnlPct()
	return pos, true
}

func (c *Client) GetAccountBalance(ctx context.Context) (float64, error) {
	var acct *futures.Account
	err := c.breaker.Do(func() error {
		var err error
		acct, err = c.client.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("account balance fetch failed: %w", err)
	}
	if acct == nil {
		return 0, fmt.Errorf("account balance fetch returned empty response")
	}
	return parseFloat(acct.TotalWalletBalance), nil
}

func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if req.Quantity <= 0 {
		return exchange.OrderResult{}, fmt.Errorf("order quantity must be positive, got %v", req.Quantity)
	}
	orderType := futures.OrderTypeMarket
	if strings.EqualFold(req.Type, "LIMIT") {
		orderType = futures.OrderTypeLimit
	}
	side := futures.SideTypeSell
	if req.Side == types.SideBuy {
		side = futures.SideTypeBuy
	}
	var res *futures.CreateOrderResponse
	err := c.breaker.Do(func() error {
		var err error
		res, err = c.client.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(side).
			Type(orderType).
			Quantity(formatQuantity(req.Quantity)).
			ReduceOnly(req.ReduceOnly).
			Do(ctx)
		return err
	})
	if err != nil {
		return exchange.OrderResult{}, err
	}
	return normalizeOrderResult(res), nil
}

// normalizeOrderResult extracts fill data defensively. The SDK response is
// re-serialized and probed through gjson so alternate field spellings across
// API versions ("avgPrice" vs "avgFillPrice", "executedQty" vs "cumQty")
// all land in the same normalized result.
func normalizeOrderResult(res *futures.CreateOrderResponse) exchange.OrderResult {
	if res == nil {
		return exchange.OrderResult{}
	}
	out := exchange.OrderResult{
		OrderID: res.OrderID,
		Status:  string(res.Status),
	}
	raw, err := json.Marshal(res)
	if err != nil {
		logger.Warnf("binance: order response marshal failed, fill data unavailable: %v", err)
		return out
	}
	out.Raw = string(raw)
	out.AvgFillPrice = firstNumber(out.Raw, "avgPrice", "avgFillPrice", "price")
	out.ExecutedQty = firstNumber(out.Raw, "executedQty", "executedQuantity", "cumQty")
	out.Commission = firstNumber(out.Raw, "commission", "fee")
	return out
}

func firstNumber(raw string, keys ...string) float64 {
	for _, key := range keys {
		v := gjson.Get(raw, key)
		if !v.Exists() {
			continue
		}
		if f := v.Float(); f > 0 {
			return f
		}
	}
	return 0
}

func (c *Client) GetSymbolPrecision(ctx context.Context, symbol string) (int, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return 0, fmt.Errorf("symbol is required")
	}
	c.precMu.Lock()
	if p, ok := c.precision[symbol]; ok {
		c.precMu.Unlock()
		return p, nil
	}
	c.precMu.Unlock()

	var info *futures.ExchangeInfo
	err := c.breaker.Do(func() error {
		var err error
		info, err = c.client.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("exchange info fetch failed: %w", err)
	}
	c.precMu.Lock()
	defer c.precMu.Unlock()
	for _, s := range info.Symbols {
		c.precision[s.Symbol] = s.QuantityPrecision
	}
	p, ok := c.precision[symbol]
	if !ok {
		return 0, fmt.Errorf("symbol %s not listed on exchange", symbol)
	}
	return p, nil
}

func (c *Client) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	var rows []*futures.PremiumIndex
	err := c.breaker.Do(func() error {
		var err error
		rows, err = c.client.NewPremiumIndexService().Symbol(strings.TrimSpace(symbol)).Do(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("funding rate fetch failed: %w", err)
	}
	for _, row := range rows {
		if row == nil {
			continue
		}
		return parseFloat(row.LastFundingRate), nil
	}
	return 0, fmt.Errorf("funding rate missing for %s", symbol)
}

func (c *Client) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	var kls []*futures.Kline
	err := c.breaker.Do(func() error {
		var err error
		kls, err = c.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]exchange.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, exchange.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	return out, nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func formatQuantity(qty float64) string {
	return strconv.FormatFloat(qty, 'f', -1, 64)
}
