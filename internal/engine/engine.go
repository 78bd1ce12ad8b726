// Package engine implements the per-exchange Trading Engine (C6): turning
// one normalized signal into an entry order, a bracket, and a persisted
// trade row, in the ten-step sequence laid out in the system design.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradecore/internal/config"
	"github.com/web3guy0/tradecore/internal/database"
	"github.com/web3guy0/tradecore/internal/errs"
	"github.com/web3guy0/tradecore/internal/exchange"
	"github.com/web3guy0/tradecore/internal/orders"
	"github.com/web3guy0/tradecore/internal/risk"
	"github.com/web3guy0/tradecore/internal/signal"
	"github.com/web3guy0/tradecore/internal/symbols"
)

// Engine orchestrates C1-C5 for one exchange. One Engine per configured
// venue; cooldown state is process-local and scoped to this instance, per
// §4.5 step 1.
type Engine struct {
	venue    string
	ex       exchange.Exchange
	resolver *symbols.Resolver
	db       *database.Database
	tx       *database.TxManager
	brackets *risk.BracketManager
	cfg      *config.Config

	cooldownMu sync.Mutex
	lastEntry  map[string]time.Time // keyed by coin
}

func New(venue string, ex exchange.Exchange, resolver *symbols.Resolver, db *database.Database, brackets *risk.BracketManager, cfg *config.Config) *Engine {
	return &Engine{
		venue:     venue,
		ex:        ex,
		resolver:  resolver,
		db:        db,
		tx:        database.NewTxManager(db),
		brackets:  brackets,
		cfg:       cfg,
		lastEntry: make(map[string]time.Time),
	}
}

// checkCooldown implements §4.5 step 1. Returns an error if the coin is
// still within its cooldown window.
func (e *Engine) checkCooldown(coin string) error {
	e.cooldownMu.Lock()
	defer e.cooldownMu.Unlock()

	last, ok := e.lastEntry[coin]
	if !ok {
		return nil
	}
	elapsed := time.Since(last)
	if elapsed < e.cfg.TradeCooldown {
		return errs.New(errs.KindCooldownActive, "cooldown active for "+coin).
			WithMeta("remaining", (e.cfg.TradeCooldown - elapsed).String())
	}
	return nil
}

func (e *Engine) updateCooldown(coin string) {
	e.cooldownMu.Lock()
	e.lastEntry[coin] = time.Now()
	e.cooldownMu.Unlock()
}

// fetchMarkPrice retries a missing or zero mark price with a short fixed
// delay, up to cfg.RetryMaxAttempts, before giving up as
// MarkPriceUnavailable (§5, §7, §8: three consecutive mark-price failures
// before the signal is FAILED). This is a domain-level retry on top of the
// transport's own HTTP-level retries - it covers the case where the venue
// answers 200 with no usable price rather than a network/5xx error.
func (e *Engine) fetchMarkPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	var lastErr error
	attempts := e.cfg.RetryMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		price, err := e.ex.GetMarkPrice(ctx, pair)
		if err == nil && !price.IsZero() {
			return price, nil
		}
		lastErr = err
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return decimal.Zero, ctx.Err()
			case <-time.After(e.cfg.RetryBaseDelay):
			}
		}
	}
	return decimal.Zero, errs.Wrap(errs.KindMarkPriceUnavailable, "mark price unavailable for "+pair, lastErr)
}

// decidePrice implements §4.5 step 3: the MARKET/LIMIT x single/range
// decision matrix.
func decidePrice(sig signal.Signal, current decimal.Decimal) (decimal.Decimal, string, error) {
	if !sig.IsRange() {
		price := sig.SinglePrice()
		if sig.OrderType == signal.OrderKindMarket {
			return current, "market at current price", nil
		}
		return price, "limit at signalled price", nil
	}

	lo, hi := sig.Range()
	if sig.OrderType == signal.OrderKindMarket {
		if sig.PositionType == database.SideLong && current.GreaterThan(hi) {
			return decimal.Zero, "", errs.New(errs.KindOutOfRange, "current price above range high for LONG")
		}
		if sig.PositionType == database.SideShort && current.LessThan(lo) {
			return decimal.Zero, "", errs.New(errs.KindOutOfRange, "current price below range low for SHORT")
		}
		return current, "market within range", nil
	}

	// LIMIT with a range: LONG bids the high (best buy), SHORT offers the
	// low (best sell).
	if sig.PositionType == database.SideLong {
		return hi, "limit at range high for LONG", nil
	}
	return lo, "limit at range low for SHORT", nil
}

// Result is what Execute returns: the persisted trade plus a human-readable
// price-decision annotation for observability.
type Result struct {
	Trade        *database.Trade
	PriceReason  string
}

// Execute runs the full C6 sequence for one normalized signal.
func (e *Engine) Execute(ctx context.Context, sig signal.Signal) (Result, error) {
	if err := e.checkCooldown(sig.CoinSymbol); err != nil {
		return Result{}, err
	}

	pair, filters, err := e.resolver.Resolve(ctx, sig.CoinSymbol, e.ex)
	if err != nil {
		return Result{}, err
	}

	current, err := e.fetchMarkPrice(ctx, pair)
	if err != nil {
		failed := &database.Trade{SourceMessageID: sig.SourceMessageID, TradeGroupID: sig.TradeGroupID,
			Trader: sig.Trader, Exchange: e.venue, Coin: sig.CoinSymbol, Side: sig.PositionType,
			Status: database.StatusFailed, ClientOrderID: sig.ClientOrderID, SyncIssues: err.Error(), CreatedAt: time.Now()}
		if saveErr := e.db.CreateTrade(failed); saveErr != nil {
			log.Error().Err(saveErr).Msg("failed to persist FAILED trade")
		}
		return Result{Trade: failed}, err
	}

	price, reason, err := decidePrice(sig, current)
	if err != nil {
		return Result{}, err
	}

	qty := e.cfg.TradeAmount.Div(price).Mul(sig.EffectiveMultiplier())
	qty = symbols.AlignToStep(filters, qty)
	if err := symbols.ValidateQuantityBounds(filters, qty); err != nil {
		return Result{}, err
	}
	if err := symbols.ValidateNotional(filters, qty, price); err != nil {
		return Result{}, err
	}

	if leverage := e.cfg.Leverage; leverage > 0 {
		if err := e.ex.SetLeverage(ctx, pair, leverage); err != nil {
			log.Warn().Err(err).Str("pair", pair).Msg("leverage configuration failed, continuing with exchange default")
		}
	}

	trade := &database.Trade{
		SourceMessageID: sig.SourceMessageID,
		TradeGroupID:    sig.TradeGroupID,
		Trader:          sig.Trader,
		Exchange:        e.venue,
		Coin:            sig.CoinSymbol,
		Side:            sig.PositionType,
		Status:          database.StatusPending,
		PositionSize:    qty,
		EntryPrice:      price,
		ClientOrderID:   sig.ClientOrderID,
		CreatedAt:       time.Now(),
	}

	orderType := exchange.OrderTypeMarket
	if sig.OrderType == signal.OrderKindLimit {
		orderType = exchange.OrderTypeLimit
	}
	clientID := sig.ClientOrderID
	if clientID == "" {
		clientID = orders.NewClientOrderID("entry-" + sig.SourceMessageID)
	}

	entryResult, err := orders.CreateEntry(ctx, e.ex, orders.EntrySpec{
		Pair:            pair,
		Side:            sig.PositionType,
		Type:            orderType,
		Price:           price,
		Quantity:        qty,
		ClientOrderID:   clientID,
		Filters:         filters,
		MakerTickOffset: e.cfg.MakerTickOffset,
	})
	if err != nil {
		trade.Status = database.StatusFailed
		trade.SyncIssues = err.Error()
		if saveErr := e.db.CreateTrade(trade); saveErr != nil {
			log.Error().Err(saveErr).Msg("failed to persist FAILED trade")
		}
		return Result{Trade: trade, PriceReason: reason}, err
	}

	trade.ExchangeOrderID = entryResult.OrderID
	trade.SetExchangeResponse(database.ExchangeResponse{
		OrderID: entryResult.OrderID, ClientOrderID: entryResult.ClientOrderID,
		Symbol: entryResult.Symbol, Status: entryResult.Status,
		OrigQty: entryResult.OrigQty, ExecutedQty: entryResult.ExecutedQty,
		AvgPrice: entryResult.AvgPrice, UpdateTime: entryResult.UpdateTime,
	})
	trade.Status = database.StatusOpen

	// Bracket creation failures are logged and surfaced but never
	// retroactively cancel the entry - the auditor remediates (§4.5 step 8).
	slID, tpIDs, bracketErr := orders.CreateBrackets(ctx, e.ex, orders.BracketSpec{
		Pair:         pair,
		Side:         sig.PositionType,
		PositionSize: qty,
		EntryPrice:   price,
		StopLoss:     sig.StopLoss,
		TakeProfits:  legsFor(sig.TakeProfits),
		BracketPct:   e.cfg.DefaultBracketPct,
		Filters:      filters,
		ClientPrefix: sig.SourceMessageID,
	})
	if bracketErr != nil {
		log.Warn().Err(bracketErr).Str("pair", pair).Msg("bracket creation failed, entry stands unprotected")
	} else {
		trade.StopLossOrderID = slID
		trade.SetTakeProfitOrderIDs(tpIDs)
	}

	if err := e.db.CreateTrade(trade); err != nil {
		return Result{Trade: trade, PriceReason: reason}, errs.Wrap(errs.KindDatabase, "failed to persist trade", err)
	}

	if _, aggErr := e.AggregatePositions(sig.CoinSymbol, sig.PositionType, sig.Trader); aggErr != nil {
		log.Warn().Err(aggErr).Str("coin", sig.CoinSymbol).Msg("position aggregation failed after entry")
	}

	e.updateCooldown(sig.CoinSymbol)
	log.Info().Str("pair", pair).Str("side", string(sig.PositionType)).Str("qty", qty.String()).
		Str("price", price.String()).Msg("signal executed")

	return Result{Trade: trade, PriceReason: reason}, nil
}

// Brackets exposes the engine's bracket manager for the follow-up
// processor and reconciler, which share this engine's lock registry scope.
func (e *Engine) Brackets() *risk.BracketManager { return e.brackets }

// Exchange exposes the underlying venue for components that need direct
// access (position manager, auditor, reconciler).
func (e *Engine) Exchange() exchange.Exchange { return e.ex }

// Resolver exposes the symbol resolver shared by this engine.
func (e *Engine) Resolver() *symbols.Resolver { return e.resolver }

func legsFor(prices []decimal.Decimal) []orders.TPLeg {
	if len(prices) == 0 {
		return nil
	}
	return orders.SplitEqually(prices)
}

// AggregatePositions implements the §4.5 "position aggregation" step: for
// (coin, side, trader), the oldest trade carrying a non-empty
// exchange_order_id becomes primary and every other open trade is marked
// MERGED. Execute calls it after each new trade is persisted; the follow-up
// path does not call it, so a follow-up only sees aggregation done at entry.
func (e *Engine) AggregatePositions(coin string, side database.Side, trader string) (primary *database.Trade, err error) {
	trades, err := e.db.FindOpenTradesByCoinSideTrader(coin, side, trader)
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabase, "failed to load candidate trades for aggregation", err)
	}
	if len(trades) <= 1 {
		if len(trades) == 1 {
			return &trades[0], nil
		}
		return nil, nil
	}

	var primaryIdx = -1
	for i, t := range trades {
		if t.ExchangeOrderID != "" {
			primaryIdx = i
			break
		}
	}
	if primaryIdx == -1 {
		primaryIdx = 0
	}
	primary = &trades[primaryIdx]
	primaryID := primary.ID

	txErr := e.tx.WithTx(func(tx *database.Database, _ func(database.Compensation)) error {
		for i := range trades {
			if i == primaryIdx {
				continue
			}
			t := &trades[i]
			t.Status = database.StatusMerged
			t.MergedIntoTradeID = &primaryID
			if err := tx.UpdateTrade(t); err != nil {
				return errs.Wrap(errs.KindDatabase, "failed to mark trade MERGED during aggregation", err)
			}
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return primary, nil
}
