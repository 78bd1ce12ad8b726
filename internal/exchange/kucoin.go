package exchange

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradecore/internal/symbols"
)

// KuCoin is the "K" venue: contract symbols formatted "XBTUSDTM" (BTC is
// quoted as XBT), futures API shape. No streaming mark-price feed - every
// GetMarkPrice call is a REST poll.
type KuCoin struct {
	transport *restTransport
}

func NewKuCoin(baseURL, apiKey, apiSecret string, cfg TransportConfig) *KuCoin {
	return &KuCoin{transport: newRESTTransport(baseURL, apiKey, apiSecret, cfg)}
}

func (k *KuCoin) Name() string { return "K" }

func (k *KuCoin) FetchSymbolCatalog(ctx context.Context) ([]symbols.SymbolInfo, error) {
	var resp struct {
		Data []struct {
			Symbol        string `json:"symbol"`
			BaseCurrency  string `json:"baseCurrency"`
			Status        string `json:"status"`
			IsTradable    bool   `json:"isTradable"`
			LotSize       string `json:"lotSize"`
			TickSize      string `json:"tickSize"`
			MinQty        string `json:"multiplier"`
			MaxOrderQty   string `json:"maxOrderQty"`
			MinNotional   string `json:"minNotional"`
		} `json:"data"`
	}
	if err := k.transport.do(ctx, "GET", "/api/v1/contracts/active", nil, false, &resp); err != nil {
		return nil, err
	}

	out := make([]symbols.SymbolInfo, 0, len(resp.Data))
	for _, c := range resp.Data {
		coin := c.BaseCurrency
		var aliases []string
		if coin == "XBT" {
			aliases = append(aliases, "BTC")
		}
		out = append(out, symbols.SymbolInfo{
			Coin:      coin,
			Pair:      c.Symbol,
			Aliases:   aliases,
			Tradeable: c.IsTradable && c.Status == "Open",
			Filters: symbols.Filters{
				StepSize:         decStr(c.LotSize),
				TickSize:         decStr(c.TickSize),
				MinQty:           decStr(c.MinQty),
				MaxQty:           decStr(c.MaxOrderQty),
				MinNotional:      decStr(c.MinNotional),
				NativePairFormat: "BASEQUOTEM",
			},
		})
	}
	return out, nil
}

func (k *KuCoin) CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := validateOrderRequest(req); err != nil {
		return OrderResult{}, err
	}

	payload := map[string]any{
		"symbol":     req.Pair,
		"side":       strings.ToLower(string(req.Side)),
		"type":       kucoinOrderType(req.Type),
		"size":       req.Quantity.String(),
		"reduceOnly": req.ReduceOnly,
		"closeOrder": req.ClosePosition,
	}
	if req.Type == OrderTypeLimit {
		payload["price"] = req.Price.String()
		payload["timeInForce"] = "GTC"
	}
	if req.Type.IsTrigger() {
		payload["stopPrice"] = req.StopPrice.String()
		payload["stopPriceType"] = "MP" // mark price, KuCoin's workingType equivalent
		payload["stop"] = "down"
		if req.Side == SideBuy {
			payload["stop"] = "up"
		}
	}
	if req.ClientOrderID != "" {
		payload["clientOid"] = req.ClientOrderID
	}

	var resp struct {
		Data struct {
			OrderID string `json:"orderId"`
		} `json:"data"`
	}
	if err := k.transport.do(ctx, "POST", "/api/v1/orders", payload, true, &resp); err != nil {
		return OrderResult{}, err
	}
	return OrderResult{OrderID: resp.Data.OrderID, ClientOrderID: req.ClientOrderID, Symbol: req.Pair}, nil
}

func kucoinOrderType(ot OrderType) string {
	switch ot {
	case OrderTypeLimit:
		return "limit"
	default:
		return "market"
	}
}

func (k *KuCoin) CancelOrder(ctx context.Context, pair, orderID string) error {
	err := k.transport.do(ctx, "DELETE", "/api/v1/orders/"+orderID, nil, true, nil)
	return normalizeCancelError(err)
}

func (k *KuCoin) GetOrderStatus(ctx context.Context, pair, orderID string) (OrderStatus, error) {
	var resp struct {
		Data struct {
			ID          string `json:"id"`
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			Type        string `json:"type"`
			Status      string `json:"status"`
			Size        string `json:"size"`
			FilledSize  string `json:"filledSize"`
			Price       string `json:"price"`
			UpdatedAt   int64  `json:"updatedAt"`
		} `json:"data"`
	}
	if err := k.transport.do(ctx, "GET", "/api/v1/orders/"+orderID, nil, true, &resp); err != nil {
		return OrderStatus{}, err
	}
	d := resp.Data
	return OrderStatus{
		OrderResult: OrderResult{
			OrderID:     d.ID,
			Symbol:      d.Symbol,
			Status:      d.Status,
			OrigQty:     decStr(d.Size),
			ExecutedQty: decStr(d.FilledSize),
			AvgPrice:    decStr(d.Price),
			UpdateTime:  d.UpdatedAt,
		},
		Side: OrderSide(strings.ToUpper(d.Side)),
		Type: kucoinOrderTypeFromNative(d.Type),
	}, nil
}

func kucoinOrderTypeFromNative(t string) OrderType {
	if strings.EqualFold(t, "limit") {
		return OrderTypeLimit
	}
	return OrderTypeMarket
}

func (k *KuCoin) GetOpenOrders(ctx context.Context, pair string) ([]OrderStatus, error) {
	path := "/api/v1/orders?status=active"
	if pair != "" {
		path += "&symbol=" + pair
	}
	var resp struct {
		Data struct {
			Items []struct {
				ID         string `json:"id"`
				Symbol     string `json:"symbol"`
				Side       string `json:"side"`
				Type       string `json:"type"`
				Status     string `json:"status"`
				Size       string `json:"size"`
				FilledSize string `json:"filledSize"`
			} `json:"items"`
		} `json:"data"`
	}
	if err := k.transport.do(ctx, "GET", path, nil, true, &resp); err != nil {
		return nil, err
	}
	out := make([]OrderStatus, len(resp.Data.Items))
	for i, o := range resp.Data.Items {
		out[i] = OrderStatus{
			OrderResult: OrderResult{OrderID: o.ID, Symbol: o.Symbol, Status: o.Status, OrigQty: decStr(o.Size), ExecutedQty: decStr(o.FilledSize)},
			Side:        OrderSide(strings.ToUpper(o.Side)),
			Type:        kucoinOrderTypeFromNative(o.Type),
		}
	}
	return out, nil
}

func (k *KuCoin) GetPositions(ctx context.Context, pair string) ([]PositionInfo, error) {
	path := "/api/v1/positions"
	if pair != "" {
		path = "/api/v1/position?symbol=" + pair
	}
	var resp struct {
		Data []struct {
			Symbol        string `json:"symbol"`
			CurrentQty    string `json:"currentQty"`
			AvgEntryPrice string `json:"avgEntryPrice"`
			MarkPrice     string `json:"markPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			RealLeverage  string `json:"realLeverage"`
		} `json:"data"`
	}
	if err := k.transport.do(ctx, "GET", path, nil, true, &resp); err != nil {
		return nil, err
	}
	out := make([]PositionInfo, 0, len(resp.Data))
	for _, p := range resp.Data {
		amt := decStr(p.CurrentQty)
		side := "LONG"
		if amt.IsNegative() {
			side = "SHORT"
		}
		out = append(out, PositionInfo{
			Pair:          p.Symbol,
			Side:          side,
			PositionAmt:   amt,
			EntryPrice:    decStr(p.AvgEntryPrice),
			MarkPrice:     decStr(p.MarkPrice),
			UnrealizedPnL: decStr(p.UnrealisedPnl),
		})
	}
	return out, nil
}

func (k *KuCoin) GetBalances(ctx context.Context) ([]Balance, error) {
	var resp struct {
		Data struct {
			Currency     string `json:"currency"`
			AvailableBalance string `json:"availableBalance"`
			AccountEquity    string `json:"accountEquity"`
		} `json:"data"`
	}
	if err := k.transport.do(ctx, "GET", "/api/v1/account-overview", nil, true, &resp); err != nil {
		return nil, err
	}
	return []Balance{{Asset: resp.Data.Currency, Available: decStr(resp.Data.AvailableBalance), Total: decStr(resp.Data.AccountEquity)}}, nil
}

func (k *KuCoin) GetMarkPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	var resp struct {
		Data struct {
			Value string `json:"value"`
		} `json:"data"`
	}
	if err := k.transport.do(ctx, "GET", "/api/v1/mark-price/"+pair+"/current", nil, false, &resp); err != nil {
		return decimal.Zero, err
	}
	price := decStr(resp.Data.Value)
	if price.IsZero() {
		return decimal.Zero, fmt.Errorf("mark price unavailable for %s", pair)
	}
	return price, nil
}

func (k *KuCoin) GetOrderBook(ctx context.Context, pair string, depth int) (OrderBook, error) {
	var resp struct {
		Data struct {
			Bids [][2]string `json:"bids"`
			Asks [][2]string `json:"asks"`
		} `json:"data"`
	}
	if err := k.transport.do(ctx, "GET", fmt.Sprintf("/api/v1/level2/depth%d?symbol=%s", depth, pair), nil, false, &resp); err != nil {
		return OrderBook{}, err
	}
	return OrderBook{Bids: levelsFromPairs(resp.Data.Bids), Asks: levelsFromPairs(resp.Data.Asks)}, nil
}

func (k *KuCoin) GetCurrentPrices(ctx context.Context, pairs []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(pairs))
	for _, pair := range pairs {
		price, err := k.GetMarkPrice(ctx, pair)
		if err != nil {
			continue
		}
		out[pair] = price
	}
	return out, nil
}

func (k *KuCoin) ClosePosition(ctx context.Context, pair string, qty decimal.Decimal, side OrderSide) (OrderResult, error) {
	return k.CreateOrder(ctx, OrderRequest{
		Pair:          pair,
		Side:          side,
		Type:          OrderTypeMarket,
		Quantity:      qty,
		ReduceOnly:    true,
		ClosePosition: true,
	})
}

func (k *KuCoin) SetLeverage(ctx context.Context, pair string, leverage int) error {
	payload := map[string]any{"symbol": pair, "leverage": leverage}
	return k.transport.do(ctx, "POST", "/api/v1/position/margin/leverage", payload, true, nil)
}
