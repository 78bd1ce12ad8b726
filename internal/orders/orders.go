// Package orders implements the Order Creator / Canceller / Updater (C3):
// building the entry order and bracket ladder (SL + TP[]) with reduce-only
// semantics, and the cancel-then-create replacement discipline bracket
// managers rely on.
package orders

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradecore/internal/database"
	"github.com/web3guy0/tradecore/internal/errs"
	"github.com/web3guy0/tradecore/internal/exchange"
	"github.com/web3guy0/tradecore/internal/symbols"
)

// DefaultBracketPct is the fallback SL/TP distance from entry when the
// signal supplies neither (§4.3: "the same 5% default applies to
// take-profit when ensuring TP and the signal omitted one").
const DefaultBracketPct = "0.05"

// NewClientOrderID generates an idempotent, opaque client order id.
// Exchanges dedupe repeated submissions of the same id (§1, §11).
func NewClientOrderID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// DefaultStopLoss computes entry*(1-pct) for LONG, entry*(1+pct) for SHORT.
func DefaultStopLoss(side database.Side, entry, pct decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == database.SideLong {
		return entry.Mul(one.Sub(pct))
	}
	return entry.Mul(one.Add(pct))
}

// DefaultTakeProfit computes entry*(1+pct) for LONG, entry*(1-pct) for SHORT
// - the mirror image of DefaultStopLoss.
func DefaultTakeProfit(side database.Side, entry, pct decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == database.SideLong {
		return entry.Mul(one.Add(pct))
	}
	return entry.Mul(one.Sub(pct))
}

// closingSide is the inverse of the position side (§4.3).
func closingSide(side database.Side) exchange.OrderSide {
	if side == database.SideShort {
		return exchange.SideBuy
	}
	return exchange.SideSell
}

// orderBookDepth is how many book levels CreateEntry pulls for the maker
// preflight check on LIMIT entries.
const orderBookDepth = 5

// EntrySpec is the input to CreateEntry.
type EntrySpec struct {
	Pair           string
	Side           database.Side
	Type           exchange.OrderType // MARKET or LIMIT
	Price          decimal.Decimal    // required for LIMIT
	Quantity       decimal.Decimal
	ClientOrderID  string
	Filters        symbols.Filters
	MakerTickOffset int // ticks to push a crossing LIMIT price away from the book; 0 disables the preflight
}

// CreateEntry submits the single entry order for a signal (§4.3). LIMIT
// entries are non-reduce-only, so a price that would cross the book is
// pushed back to the maker side first (§4.2's MakerPreflight).
func CreateEntry(ctx context.Context, ex exchange.Exchange, spec EntrySpec) (exchange.OrderResult, error) {
	entrySide := exchange.SideBuy
	if spec.Side == database.SideShort {
		entrySide = exchange.SideSell
	}

	qty := symbols.AlignToStep(spec.Filters, spec.Quantity)
	if err := symbols.ValidateQuantityBounds(spec.Filters, qty); err != nil {
		return exchange.OrderResult{}, err
	}

	req := exchange.OrderRequest{
		Pair:          spec.Pair,
		Side:          entrySide,
		Type:          spec.Type,
		Quantity:      qty,
		Filters:       spec.Filters,
		ClientOrderID: spec.ClientOrderID,
	}
	if spec.Type == exchange.OrderTypeLimit {
		price := symbols.RoundPrice(spec.Filters, spec.Price)
		if spec.MakerTickOffset > 0 {
			book, bookErr := ex.GetOrderBook(ctx, spec.Pair, orderBookDepth)
			if bookErr != nil {
				log.Warn().Err(bookErr).Str("pair", spec.Pair).Msg("order book fetch failed, submitting limit entry without maker preflight")
			} else {
				price = exchange.MakerPreflight(entrySide, price, book, spec.Filters, spec.MakerTickOffset)
			}
		}
		req.Price = price
	}

	result, err := ex.CreateOrder(ctx, req)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	log.Info().Str("pair", spec.Pair).Str("side", string(entrySide)).Str("qty", qty.String()).
		Str("order_id", result.OrderID).Msg("entry order submitted")
	return result, nil
}

// TPLeg is one take-profit rung: a price and the fraction of position size
// it closes.
type TPLeg struct {
	Price        decimal.Decimal
	ClosePercent decimal.Decimal // out of 100
}

// SplitEqually builds a TPLeg per price with an equal percentage split.
// This is the policy decision for the "open question" on multi-TP close
// percentage semantics (§9): equal split across the ladder when the signal
// supplies prices only, full size when there is exactly one TP.
func SplitEqually(prices []decimal.Decimal) []TPLeg {
	if len(prices) == 0 {
		return nil
	}
	pct := decimal.NewFromInt(100).Div(decimal.NewFromInt(int64(len(prices))))
	legs := make([]TPLeg, len(prices))
	for i, p := range prices {
		legs[i] = TPLeg{Price: p, ClosePercent: pct}
	}
	return legs
}

// BracketSpec is the input to CreateBrackets.
type BracketSpec struct {
	Pair         string
	Side         database.Side
	PositionSize decimal.Decimal
	EntryPrice   decimal.Decimal
	StopLoss     decimal.Decimal // zero => compute default
	TakeProfits  []TPLeg         // empty => compute single default TP at 100%
	BracketPct   decimal.Decimal
	Filters      symbols.Filters
	ClientPrefix string
}

// CreateBrackets creates the reduce-only SL and TP[] orders for a position.
// Callers are responsible for the cancel-before-replace discipline when
// updating an existing bracket (that's the risk manager's job, not this
// package's) - CreateBrackets always creates fresh orders.
func CreateBrackets(ctx context.Context, ex exchange.Exchange, spec BracketSpec) (slOrderID string, tpOrderIDs []string, err error) {
	side := closingSide(spec.Side)

	sl := spec.StopLoss
	if sl.IsZero() {
		sl = DefaultStopLoss(spec.Side, spec.EntryPrice, spec.BracketPct)
	}
	sl = symbols.RoundPrice(spec.Filters, sl)

	slResult, err := ex.CreateOrder(ctx, exchange.OrderRequest{
		Pair:          spec.Pair,
		Side:          side,
		Type:          exchange.OrderTypeStopMarket,
		Quantity:      symbols.RoundQuantity(spec.Filters, spec.PositionSize),
		StopPrice:     sl,
		Filters:       spec.Filters,
		ReduceOnly:    true,
		ClientOrderID: NewClientOrderID(spec.ClientPrefix + "-sl"),
	})
	if err != nil {
		return "", nil, errs.Wrap(errs.KindExchangeRejected, "stop-loss creation failed", err)
	}

	tps := spec.TakeProfits
	if len(tps) == 0 {
		tps = SplitEqually([]decimal.Decimal{DefaultTakeProfit(spec.Side, spec.EntryPrice, spec.BracketPct)})
	}

	tpOrderIDs = make([]string, 0, len(tps))
	for i, leg := range tps {
		qty := spec.PositionSize.Mul(leg.ClosePercent).Div(decimal.NewFromInt(100))
		qty = symbols.RoundQuantity(spec.Filters, qty)
		tpResult, tpErr := ex.CreateOrder(ctx, exchange.OrderRequest{
			Pair:          spec.Pair,
			Side:          side,
			Type:          exchange.OrderTypeTakeProfitMkt,
			Quantity:      qty,
			StopPrice:     symbols.RoundPrice(spec.Filters, leg.Price),
			Filters:       spec.Filters,
			ReduceOnly:    true,
			ClientOrderID: NewClientOrderID(spec.ClientPrefix + "-tp"),
		})
		if tpErr != nil {
			log.Warn().Err(tpErr).Int("leg", i).Msg("take-profit leg creation failed")
			continue
		}
		tpOrderIDs = append(tpOrderIDs, tpResult.OrderID)
	}

	return slResult.OrderID, tpOrderIDs, nil
}

// CancelAll cancels every order id in ids for pair, tolerating
// already-gone orders as success (§4.2, §7 idempotent no-op policy).
func CancelAll(ctx context.Context, ex exchange.Exchange, pair string, ids []string) error {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if err := ex.CancelOrder(ctx, pair, id); err != nil && !errs.Is(err, errs.KindOrderNotFound) && !errs.Is(err, errs.KindAlreadyClosed) {
			return err
		}
	}
	return nil
}
