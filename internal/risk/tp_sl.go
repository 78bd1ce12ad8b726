package risk

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradecore/internal/config"
	"github.com/web3guy0/tradecore/internal/database"
	"github.com/web3guy0/tradecore/internal/errs"
	"github.com/web3guy0/tradecore/internal/exchange"
	"github.com/web3guy0/tradecore/internal/lock"
	"github.com/web3guy0/tradecore/internal/orders"
	"github.com/web3guy0/tradecore/internal/symbols"
)

// BracketManager implements C4: ensuring a trade carries a stop-loss and a
// take-profit ladder, and replacing either under the strict
// cancel-then-create discipline every update follows (§4.3, §5).
type BracketManager struct {
	ex         exchange.Exchange
	locks      *lock.Registry
	bracketPct decimal.Decimal
}

func NewBracketManager(ex exchange.Exchange, locks *lock.Registry, cfg *config.Config) *BracketManager {
	return &BracketManager{ex: ex, locks: locks, bracketPct: cfg.DefaultBracketPct}
}

// tradeLockKey scopes the bracket lock to one trade at a time - concurrent
// follow-ups against the same trade serialize here (§5).
func tradeLockKey(tradeID uint) string {
	return "trade-bracket:" + decimal.NewFromInt(int64(tradeID)).String()
}

// EnsureStopLoss creates a stop-loss for pair if the trade doesn't already
// carry one, using the signal's price when given or the default percentage
// otherwise (§4.3).
func (bm *BracketManager) EnsureStopLoss(ctx context.Context, trade *database.Trade, pair string, price decimal.Decimal, filters symbols.Filters) (string, error) {
	bm.locks.Lock(tradeLockKey(trade.ID))
	defer bm.locks.Unlock(tradeLockKey(trade.ID))

	if trade.StopLossOrderID != "" {
		return trade.StopLossOrderID, nil
	}

	if price.IsZero() {
		price = orders.DefaultStopLoss(trade.Side, trade.EntryPrice, bm.bracketPct)
	}
	price = symbols.RoundPrice(filters, price)

	side := closingOrderSide(trade.Side)
	result, err := bm.ex.CreateOrder(ctx, exchange.OrderRequest{
		Pair:          pair,
		Side:          side,
		Type:          exchange.OrderTypeStopMarket,
		Quantity:      symbols.RoundQuantity(filters, trade.PositionSize),
		StopPrice:     price,
		ReduceOnly:    true,
		ClientOrderID: orders.NewClientOrderID("sl-" + trade.SourceMessageID),
	})
	if err != nil {
		return "", errs.Wrap(errs.KindExchangeRejected, "stop-loss creation failed", err)
	}
	log.Info().Uint("trade_id", trade.ID).Str("price", price.String()).Msg("stop-loss ensured")
	return result.OrderID, nil
}

// UpdateStopLoss replaces the existing stop-loss order with one at newPrice,
// cancelling the old order first (§4.3, §5: "cancel before create, never the
// reverse").
func (bm *BracketManager) UpdateStopLoss(ctx context.Context, trade *database.Trade, pair string, newPrice decimal.Decimal, filters symbols.Filters) (string, error) {
	bm.locks.Lock(tradeLockKey(trade.ID))
	defer bm.locks.Unlock(tradeLockKey(trade.ID))

	if trade.StopLossOrderID != "" {
		if err := bm.ex.CancelOrder(ctx, pair, trade.StopLossOrderID); err != nil && !errs.IdempotentNoOp(errs.KindOf(err)) {
			return "", errs.Wrap(errs.KindExchangeRejected, "stop-loss cancel before replace failed", err)
		}
	}

	newPrice = symbols.RoundPrice(filters, newPrice)
	result, err := bm.ex.CreateOrder(ctx, exchange.OrderRequest{
		Pair:          pair,
		Side:          closingOrderSide(trade.Side),
		Type:          exchange.OrderTypeStopMarket,
		Quantity:      symbols.RoundQuantity(filters, trade.PositionSize),
		StopPrice:     newPrice,
		ReduceOnly:    true,
		ClientOrderID: orders.NewClientOrderID("sl-upd-" + trade.SourceMessageID),
	})
	if err != nil {
		return "", errs.Wrap(errs.KindExchangeRejected, "stop-loss replacement failed", err)
	}
	log.Info().Uint("trade_id", trade.ID).Str("price", newPrice.String()).Msg("stop-loss updated")
	return result.OrderID, nil
}

// MoveToBreakeven replaces the stop-loss with one at the trade's breakeven
// price, used on the break_even follow-up action (§4.4, §4.7).
func (bm *BracketManager) MoveToBreakeven(ctx context.Context, trade *database.Trade, pair string, feeRate decimal.Decimal, filters symbols.Filters) (string, error) {
	be := BreakevenPrice(trade.Side, trade.EntryPrice, feeRate)
	return bm.UpdateStopLoss(ctx, trade, pair, be, filters)
}

// EnsureTakeProfits creates the take-profit ladder for a trade if it has
// none yet. Prices with no explicit close_percentage split equally across
// the ladder (orders.SplitEqually); a single price always closes 100%.
func (bm *BracketManager) EnsureTakeProfits(ctx context.Context, trade *database.Trade, pair string, prices []decimal.Decimal, filters symbols.Filters) ([]string, error) {
	bm.locks.Lock(tradeLockKey(trade.ID))
	defer bm.locks.Unlock(tradeLockKey(trade.ID))

	if len(trade.TakeProfitOrderIDs()) > 0 {
		return trade.TakeProfitOrderIDs(), nil
	}

	if len(prices) == 0 {
		prices = []decimal.Decimal{orders.DefaultTakeProfit(trade.Side, trade.EntryPrice, bm.bracketPct)}
	}
	legs := orders.SplitEqually(prices)
	if len(legs) == 1 {
		legs[0].ClosePercent = decimal.NewFromInt(100)
	}

	side := closingOrderSide(trade.Side)
	ids := make([]string, 0, len(legs))
	for i, leg := range legs {
		qty := symbols.RoundQuantity(filters, trade.PositionSize.Mul(leg.ClosePercent).Div(decimal.NewFromInt(100)))
		result, err := bm.ex.CreateOrder(ctx, exchange.OrderRequest{
			Pair:          pair,
			Side:          side,
			Type:          exchange.OrderTypeTakeProfitMkt,
			Quantity:      qty,
			StopPrice:     symbols.RoundPrice(filters, leg.Price),
			ReduceOnly:    true,
			ClientOrderID: orders.NewClientOrderID("tp-" + trade.SourceMessageID),
		})
		if err != nil {
			log.Warn().Err(err).Int("leg", i).Uint("trade_id", trade.ID).Msg("take-profit leg creation failed")
			continue
		}
		ids = append(ids, result.OrderID)
	}
	log.Info().Uint("trade_id", trade.ID).Int("legs", len(ids)).Msg("take-profit ladder ensured")
	return ids, nil
}

// CancelTakeProfitLeg cancels a single TP order without touching the rest
// of the ladder, used when one rung fills and the trade isn't fully closed
// (§4.7: "take_profit_N").
func (bm *BracketManager) CancelTakeProfitLeg(ctx context.Context, pair, orderID string) error {
	err := bm.ex.CancelOrder(ctx, pair, orderID)
	if err != nil && !errs.IdempotentNoOp(errs.KindOf(err)) {
		return errs.Wrap(errs.KindExchangeRejected, "take-profit leg cancel failed", err)
	}
	return nil
}

func closingOrderSide(side database.Side) exchange.OrderSide {
	if side == database.SideShort {
		return exchange.SideBuy
	}
	return exchange.SideSell
}
