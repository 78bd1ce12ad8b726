package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradecore/internal/symbols"
)

// Binance is the "B" venue: USDT-margined perpetuals, pairs formatted as
// "BTCUSDT". Market data optionally streams over a reconnecting websocket
// (idiom grounded on the donor's mark-data client), falling back to REST
// polling for GetMarkPrice when the stream is down or disabled.
type Binance struct {
	transport *restTransport
	wsURL     string

	streamMu    sync.RWMutex
	markPrices  map[string]decimal.Decimal
	conn        *websocket.Conn
	streaming   bool
	stopCh      chan struct{}
}

func NewBinance(baseURL, wsURL, apiKey, apiSecret string, cfg TransportConfig) *Binance {
	return &Binance{
		transport:  newRESTTransport(baseURL, apiKey, apiSecret, cfg),
		wsURL:      wsURL,
		markPrices: make(map[string]decimal.Decimal),
		stopCh:     make(chan struct{}),
	}
}

func (b *Binance) Name() string { return "B" }

// StartMarkPriceStream connects the reconnecting websocket feed. It is
// optional; GetMarkPrice falls back to REST when no fresh streamed value
// exists for the requested pair.
func (b *Binance) StartMarkPriceStream(pairs []string) {
	b.streamMu.Lock()
	if b.streaming {
		b.streamMu.Unlock()
		return
	}
	b.streaming = true
	b.streamMu.Unlock()

	go b.runStream(pairs)
}

func (b *Binance) StopMarkPriceStream() {
	b.streamMu.Lock()
	defer b.streamMu.Unlock()
	if !b.streaming {
		return
	}
	b.streaming = false
	close(b.stopCh)
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *Binance) runStream(pairs []string) {
	for {
		b.streamMu.RLock()
		running := b.streaming
		b.streamMu.RUnlock()
		if !running {
			return
		}

		if err := b.connectStream(pairs); err != nil {
			log.Error().Err(err).Str("exchange", "B").Msg("mark price stream connect failed")
			time.Sleep(5 * time.Second)
			continue
		}
		b.readStream()

		// Drop cached prices so GetMarkPrice uses REST while disconnected.
		b.streamMu.Lock()
		b.markPrices = make(map[string]decimal.Decimal)
		b.streamMu.Unlock()

		b.streamMu.RLock()
		running = b.streaming
		b.streamMu.RUnlock()
		if running {
			log.Warn().Str("exchange", "B").Msg("mark price stream disconnected, reconnecting")
			time.Sleep(time.Second)
		}
	}
}

func (b *Binance) connectStream(pairs []string) error {
	streams := make([]string, len(pairs))
	for i, p := range pairs {
		streams[i] = strings.ToLower(p) + "@markPrice"
	}
	url := fmt.Sprintf("%s/stream?streams=%s", b.wsURL, strings.Join(streams, "/"))

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	b.conn = conn
	log.Info().Str("exchange", "B").Strs("pairs", pairs).Msg("mark price stream connected")
	return nil
}

func (b *Binance) readStream() {
	for {
		var msg struct {
			Data struct {
				Symbol string `json:"s"`
				Price  string `json:"p"`
			} `json:"data"`
		}
		if err := b.conn.ReadJSON(&msg); err != nil {
			return
		}
		price, err := decimal.NewFromString(msg.Data.Price)
		if err != nil {
			continue
		}
		b.streamMu.Lock()
		b.markPrices[msg.Data.Symbol] = price
		b.streamMu.Unlock()
	}
}

func (b *Binance) streamedPrice(pair string) (decimal.Decimal, bool) {
	b.streamMu.RLock()
	defer b.streamMu.RUnlock()
	p, ok := b.markPrices[pair]
	return p, ok
}

// FetchSymbolCatalog implements symbols.CatalogFetcher.
func (b *Binance) FetchSymbolCatalog(ctx context.Context) ([]symbols.SymbolInfo, error) {
	var resp struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			BaseAsset  string `json:"baseAsset"`
			Status     string `json:"status"`
			ContractType string `json:"contractType"`
			Filters    []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				TickSize    string `json:"tickSize"`
				MinQty      string `json:"minQty"`
				MaxQty      string `json:"maxQty"`
				Notional    string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := b.transport.do(ctx, "GET", "/fapi/v1/exchangeInfo", nil, false, &resp); err != nil {
		return nil, err
	}

	out := make([]symbols.SymbolInfo, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		info := symbols.SymbolInfo{
			Coin:      s.BaseAsset,
			Pair:      s.Symbol,
			Tradeable: s.Status == "TRADING" && s.ContractType == "PERPETUAL",
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				info.Filters.StepSize = decStr(f.StepSize)
				info.Filters.MinQty = decStr(f.MinQty)
				info.Filters.MaxQty = decStr(f.MaxQty)
			case "PRICE_FILTER":
				info.Filters.TickSize = decStr(f.TickSize)
			case "MIN_NOTIONAL":
				info.Filters.MinNotional = decStr(f.Notional)
			}
		}
		info.Filters.NativePairFormat = "BASEQUOTE"
		out = append(out, info)
	}
	return out, nil
}

func decStr(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (b *Binance) CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := validateOrderRequest(req); err != nil {
		return OrderResult{}, err
	}

	payload := map[string]any{
		"symbol":        req.Pair,
		"side":          string(req.Side),
		"type":          string(req.Type),
		"quantity":      req.Quantity.String(),
		"reduceOnly":    req.ReduceOnly,
		"closePosition": req.ClosePosition,
	}
	if req.Type == OrderTypeLimit {
		payload["price"] = req.Price.String()
		payload["timeInForce"] = "GTC"
	}
	if req.Type.IsTrigger() {
		payload["stopPrice"] = req.StopPrice.String()
		payload["workingType"] = string(WorkingTypeMarkPrice)
		payload["timeInForce"] = "GTC"
	}
	if req.ClientOrderID != "" {
		payload["newClientOrderId"] = req.ClientOrderID
	}

	var resp struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Symbol        string `json:"symbol"`
		Status        string `json:"status"`
		OrigQty       string `json:"origQty"`
		ExecutedQty   string `json:"executedQty"`
		AvgPrice      string `json:"avgPrice"`
		UpdateTime    int64  `json:"updateTime"`
	}
	if err := b.transport.do(ctx, "POST", "/fapi/v1/order", payload, true, &resp); err != nil {
		return OrderResult{}, err
	}

	return OrderResult{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Status:        resp.Status,
		OrigQty:       decStr(resp.OrigQty),
		ExecutedQty:   decStr(resp.ExecutedQty),
		AvgPrice:      decStr(resp.AvgPrice),
		UpdateTime:    resp.UpdateTime,
	}, nil
}

func (b *Binance) CancelOrder(ctx context.Context, pair, orderID string) error {
	err := b.transport.do(ctx, "DELETE", fmt.Sprintf("/fapi/v1/order?symbol=%s&orderId=%s", pair, orderID), nil, true, nil)
	return normalizeCancelError(err)
}

// normalizeCancelError treats "order not found" as the idempotent no-op
// callers expect from a repeated cancel (§4.2, §8): a venue error whose text
// reports an unknown or non-existent order is returned as nil.
func normalizeCancelError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"unknown order", "not exist", "notexist", "not found"} {
		if strings.Contains(msg, marker) {
			return nil
		}
	}
	return err
}

func (b *Binance) GetOrderStatus(ctx context.Context, pair, orderID string) (OrderStatus, error) {
	var resp struct {
		OrderID     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Status      string `json:"status"`
		Side        string `json:"side"`
		Type        string `json:"type"`
		OrigQty     string `json:"origQty"`
		ExecutedQty string `json:"executedQty"`
		AvgPrice    string `json:"avgPrice"`
		UpdateTime  int64  `json:"updateTime"`
	}
	if err := b.transport.do(ctx, "GET", fmt.Sprintf("/fapi/v1/order?symbol=%s&orderId=%s", pair, orderID), nil, true, &resp); err != nil {
		return OrderStatus{}, err
	}
	return OrderStatus{
		OrderResult: OrderResult{
			OrderID:     strconv.FormatInt(resp.OrderID, 10),
			Symbol:      resp.Symbol,
			Status:      resp.Status,
			OrigQty:     decStr(resp.OrigQty),
			ExecutedQty: decStr(resp.ExecutedQty),
			AvgPrice:    decStr(resp.AvgPrice),
			UpdateTime:  resp.UpdateTime,
		},
		Side: OrderSide(resp.Side),
		Type: OrderType(resp.Type),
	}, nil
}

func (b *Binance) GetOpenOrders(ctx context.Context, pair string) ([]OrderStatus, error) {
	path := "/fapi/v1/openOrders"
	if pair != "" {
		path += "?symbol=" + pair
	}
	var resp []struct {
		OrderID     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Status      string `json:"status"`
		Side        string `json:"side"`
		Type        string `json:"type"`
		OrigQty     string `json:"origQty"`
		ExecutedQty string `json:"executedQty"`
	}
	if err := b.transport.do(ctx, "GET", path, nil, true, &resp); err != nil {
		return nil, err
	}
	out := make([]OrderStatus, len(resp))
	for i, o := range resp {
		out[i] = OrderStatus{
			OrderResult: OrderResult{
				OrderID:     strconv.FormatInt(o.OrderID, 10),
				Symbol:      o.Symbol,
				Status:      o.Status,
				OrigQty:     decStr(o.OrigQty),
				ExecutedQty: decStr(o.ExecutedQty),
			},
			Side: OrderSide(o.Side),
			Type: OrderType(o.Type),
		}
	}
	return out, nil
}

func (b *Binance) GetPositions(ctx context.Context, pair string) ([]PositionInfo, error) {
	path := "/fapi/v2/positionRisk"
	if pair != "" {
		path += "?symbol=" + pair
	}
	var resp []struct {
		Symbol        string `json:"symbol"`
		PositionAmt   string `json:"positionAmt"`
		EntryPrice    string `json:"entryPrice"`
		MarkPrice     string `json:"markPrice"`
		UnrealizedPnL string `json:"unRealizedProfit"`
		Leverage      string `json:"leverage"`
	}
	if err := b.transport.do(ctx, "GET", path, nil, true, &resp); err != nil {
		return nil, err
	}
	out := make([]PositionInfo, 0, len(resp))
	for _, p := range resp {
		amt := decStr(p.PositionAmt)
		side := "LONG"
		if amt.IsNegative() {
			side = "SHORT"
		}
		lev, _ := strconv.Atoi(p.Leverage)
		out = append(out, PositionInfo{
			Pair:          p.Symbol,
			Side:          side,
			PositionAmt:   amt,
			EntryPrice:    decStr(p.EntryPrice),
			MarkPrice:     decStr(p.MarkPrice),
			UnrealizedPnL: decStr(p.UnrealizedPnL),
			Leverage:      lev,
		})
	}
	return out, nil
}

func (b *Binance) GetBalances(ctx context.Context) ([]Balance, error) {
	var resp []struct {
		Asset     string `json:"asset"`
		Balance   string `json:"balance"`
		Available string `json:"availableBalance"`
	}
	if err := b.transport.do(ctx, "GET", "/fapi/v2/balance", nil, true, &resp); err != nil {
		return nil, err
	}
	out := make([]Balance, len(resp))
	for i, a := range resp {
		out[i] = Balance{Asset: a.Asset, Available: decStr(a.Available), Total: decStr(a.Balance)}
	}
	return out, nil
}

func (b *Binance) GetMarkPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	if p, ok := b.streamedPrice(pair); ok {
		return p, nil
	}
	var resp struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := b.transport.do(ctx, "GET", "/fapi/v1/premiumIndex?symbol="+pair, nil, false, &resp); err != nil {
		return decimal.Zero, err
	}
	price := decStr(resp.MarkPrice)
	if price.IsZero() {
		return decimal.Zero, fmt.Errorf("mark price unavailable for %s", pair)
	}
	return price, nil
}

func (b *Binance) GetOrderBook(ctx context.Context, pair string, depth int) (OrderBook, error) {
	var resp struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	if err := b.transport.do(ctx, "GET", fmt.Sprintf("/fapi/v1/depth?symbol=%s&limit=%d", pair, depth), nil, false, &resp); err != nil {
		return OrderBook{}, err
	}
	return OrderBook{Bids: levelsFromPairs(resp.Bids), Asks: levelsFromPairs(resp.Asks)}, nil
}

func levelsFromPairs(raw [][2]string) []OrderBookLevel {
	out := make([]OrderBookLevel, len(raw))
	for i, lvl := range raw {
		out[i] = OrderBookLevel{Price: decStr(lvl[0]), Qty: decStr(lvl[1])}
	}
	return out
}

func (b *Binance) GetCurrentPrices(ctx context.Context, pairs []string) (map[string]decimal.Decimal, error) {
	var resp []struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := b.transport.do(ctx, "GET", "/fapi/v1/ticker/price", nil, false, &resp); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		want[p] = true
	}
	out := make(map[string]decimal.Decimal, len(pairs))
	for _, t := range resp {
		if len(pairs) == 0 || want[t.Symbol] {
			out[t.Symbol] = decStr(t.Price)
		}
	}
	return out, nil
}

func (b *Binance) ClosePosition(ctx context.Context, pair string, qty decimal.Decimal, side OrderSide) (OrderResult, error) {
	return b.CreateOrder(ctx, OrderRequest{
		Pair:       pair,
		Side:       side,
		Type:       OrderTypeMarket,
		Quantity:   qty,
		ReduceOnly: true,
	})
}

func (b *Binance) SetLeverage(ctx context.Context, pair string, leverage int) error {
	payload := map[string]any{"symbol": pair, "leverage": leverage}
	return b.transport.do(ctx, "POST", "/fapi/v1/leverage", payload, true, nil)
}
