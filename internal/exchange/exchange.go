// Package exchange defines the Exchange Capability (C2): a single typed
// port over a derivatives venue, with two concrete implementations (B, K).
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradecore/internal/symbols"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// SideForPosition returns the closing side for a position side (§4.3).
func SideForPosition(positionSide string) OrderSide {
	if positionSide == "SHORT" {
		return SideBuy
	}
	return SideSell
}

type OrderType string

const (
	OrderTypeMarket          OrderType = "MARKET"
	OrderTypeLimit           OrderType = "LIMIT"
	OrderTypeStopMarket      OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMkt   OrderType = "TAKE_PROFIT_MARKET"
)

// IsTrigger reports whether ot is a trigger-type order routed to the
// venue's trigger-order path with workingType=MARK_PRICE (§4.2).
func (ot OrderType) IsTrigger() bool {
	return ot == OrderTypeStopMarket || ot == OrderTypeTakeProfitMkt
}

type WorkingType string

const WorkingTypeMarkPrice WorkingType = "MARK_PRICE"

// OrderRequest is the input to CreateOrder.
type OrderRequest struct {
	Pair          string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal // required for LIMIT
	StopPrice     decimal.Decimal // required for trigger types
	ReduceOnly    bool
	ClosePosition bool
	ClientOrderID string

	// Filters is optional pre-submission validation context (§4.2): when
	// supplied, CreateOrder rejects a request whose quantity falls outside
	// [min_qty, max_qty] after step alignment, or whose notional (Price x
	// Quantity) falls below min_notional, before it ever reaches the venue.
	// Left zero-valued, CreateOrder skips the check and trusts the caller -
	// every caller that already resolves filters for its own rounding
	// should pass them through here too.
	Filters symbols.Filters
}

// OrderResult is the normalized response to an order submission, mirroring
// the shape persisted as Trade.ExchangeResponse (§9).
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Status        string
	OrigQty       decimal.Decimal
	ExecutedQty   decimal.Decimal
	AvgPrice      decimal.Decimal
	UpdateTime    int64 // epoch millis
}

type OrderStatus struct {
	OrderResult
	Side OrderSide
	Type OrderType
}

// PositionInfo is one live position as reported by the venue.
type PositionInfo struct {
	Pair          string
	Side          string // LONG/SHORT
	PositionAmt   decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Leverage      int
}

// IsOpen reports whether the position carries non-zero size (§4.4).
func (p PositionInfo) IsOpen() bool {
	return !p.PositionAmt.IsZero()
}

type Balance struct {
	Asset     string
	Available decimal.Decimal
	Total     decimal.Decimal
}

type OrderBookLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

type OrderBook struct {
	Bids []OrderBookLevel
	Asks []OrderBookLevel
}

func (ob OrderBook) BestBid() decimal.Decimal {
	if len(ob.Bids) == 0 {
		return decimal.Zero
	}
	return ob.Bids[0].Price
}

func (ob OrderBook) BestAsk() decimal.Decimal {
	if len(ob.Asks) == 0 {
		return decimal.Zero
	}
	return ob.Asks[0].Price
}

// Exchange is the single port every component above C2 depends on. Both
// concrete venues (Binance-shaped "B", KuCoin-shaped "K") implement it
// identically from the caller's point of view (§4.2, §9: "no runtime class
// introspection").
type Exchange interface {
	symbols.CatalogFetcher

	CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, pair, orderID string) error
	GetOrderStatus(ctx context.Context, pair, orderID string) (OrderStatus, error)
	GetOpenOrders(ctx context.Context, pair string) ([]OrderStatus, error)
	GetPositions(ctx context.Context, pair string) ([]PositionInfo, error)
	GetBalances(ctx context.Context) ([]Balance, error)
	GetMarkPrice(ctx context.Context, pair string) (decimal.Decimal, error)
	GetOrderBook(ctx context.Context, pair string, depth int) (OrderBook, error)
	GetCurrentPrices(ctx context.Context, pairs []string) (map[string]decimal.Decimal, error)
	ClosePosition(ctx context.Context, pair string, qty decimal.Decimal, side OrderSide) (OrderResult, error)
	SetLeverage(ctx context.Context, pair string, leverage int) error
}

// validateOrderRequest is the Exchange Capability layer's own pre-submission
// guard (§4.2), run by both venues' CreateOrder before the request ever hits
// the wire. It catches callers that build an OrderRequest directly instead
// of going through orders.CreateEntry/CreateBrackets. A zero-valued Filters
// means the caller chose not to supply one; validation is then the caller's
// responsibility and this is a no-op.
func validateOrderRequest(req OrderRequest) error {
	if req.Filters.StepSize.IsZero() && req.Filters.MinQty.IsZero() && req.Filters.MinNotional.IsZero() {
		return nil
	}
	qty := symbols.AlignToStep(req.Filters, req.Quantity)
	if err := symbols.ValidateQuantityBounds(req.Filters, qty); err != nil {
		return err
	}
	if !req.Price.IsZero() {
		price := symbols.RoundPrice(req.Filters, req.Price)
		if err := symbols.ValidateNotional(req.Filters, qty, price); err != nil {
			return err
		}
	}
	return nil
}

// MakerPreflight adjusts a non-reduce-only LIMIT price away from the book
// when it would cross, per §4.2: BUY -> best_bid - N*tick,
// SELL -> best_ask + N*tick, then re-aligned to tick.
func MakerPreflight(side OrderSide, price decimal.Decimal, book OrderBook, filters symbols.Filters, tickOffset int) decimal.Decimal {
	offset := filters.TickSize.Mul(decimal.NewFromInt(int64(tickOffset)))

	switch side {
	case SideBuy:
		bestAsk := book.BestAsk()
		if !bestAsk.IsZero() && price.GreaterThanOrEqual(bestAsk) {
			price = book.BestBid().Sub(offset)
		}
	case SideSell:
		bestBid := book.BestBid()
		if !bestBid.IsZero() && price.LessThanOrEqual(bestBid) {
			price = book.BestAsk().Add(offset)
		}
	}
	return symbols.RoundPrice(filters, price)
}

// RequestTimeout is the default per-call exchange request timeout (§5),
// applied by callers that don't already carry a deadline on ctx.
func RequestTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}
