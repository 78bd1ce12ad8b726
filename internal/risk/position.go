// Package risk implements the Stop-Loss/Take-Profit managers (C4), the
// Position Manager (C5), and the position auditor, all operating against a
// single open position per (exchange, pair).
package risk

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradecore/internal/database"
	"github.com/web3guy0/tradecore/internal/errs"
	"github.com/web3guy0/tradecore/internal/exchange"
	"github.com/web3guy0/tradecore/internal/orders"
	"github.com/web3guy0/tradecore/internal/symbols"
)

// PositionManager implements C5. Precision filters are resolved per call
// through the shared resolver rather than cached on the struct, since one
// PositionManager serves every coin traded on its venue.
type PositionManager struct {
	ex       exchange.Exchange
	resolver *symbols.Resolver
}

func NewPositionManager(ex exchange.Exchange, resolver *symbols.Resolver) *PositionManager {
	return &PositionManager{ex: ex, resolver: resolver}
}

// IsPositionOpen treats non-zero position_amt as open (§4.4).
func (pm *PositionManager) IsPositionOpen(ctx context.Context, pair string) (bool, error) {
	positions, err := pm.ex.GetPositions(ctx, pair)
	if err != nil {
		return false, err
	}
	for _, p := range positions {
		if p.Pair == pair && p.IsOpen() {
			return true, nil
		}
	}
	return false, nil
}

// EffectiveSize is the exported form of effectiveSize, used by callers that
// need the resolved position size without closing it (e.g. sizing a partial
// take-profit LIMIT order).
func (pm *PositionManager) EffectiveSize(ctx context.Context, trade *database.Trade, pair string) (decimal.Decimal, error) {
	return pm.effectiveSize(ctx, trade, pair)
}

// effectiveSize implements the fallback chain supplemented from the donor
// implementation (§12, SPEC_FULL §12): trade.PositionSize -> persisted
// exchange_response.OrigQty -> live exchange position lookup, matching the
// pair by exact value or by coin-suffix variants (BTCUSDT/XBTUSDTM).
func (pm *PositionManager) effectiveSize(ctx context.Context, trade *database.Trade, pair string) (decimal.Decimal, error) {
	if !trade.PositionSize.IsZero() {
		return trade.PositionSize, nil
	}
	if resp := trade.ExchangeResponse(); !resp.OrigQty.IsZero() {
		return resp.OrigQty, nil
	}

	positions, err := pm.ex.GetPositions(ctx, "")
	if err != nil {
		return decimal.Zero, errs.Wrap(errs.KindPositionNotFound, "live position lookup failed", err)
	}
	for _, p := range positions {
		if !p.IsOpen() {
			continue
		}
		if p.Pair == pair || symbolSuffixMatches(p.Pair, trade.Coin) {
			return p.PositionAmt.Abs(), nil
		}
	}
	return decimal.Zero, errs.New(errs.KindPositionNotFound, "no live position matches trade "+trade.Coin)
}

// symbolSuffixMatches covers venue-specific pair spellings of the same
// coin, e.g. BTCUSDT (B) vs XBTUSDTM (K), by checking both the coin and its
// known alias as a substring of the reported pair.
func symbolSuffixMatches(pair, coin string) bool {
	pair = strings.ToUpper(pair)
	coin = strings.ToUpper(coin)
	if strings.Contains(pair, coin) {
		return true
	}
	alias := map[string]string{"BTC": "XBT", "XBT": "BTC"}[coin]
	return alias != "" && strings.Contains(pair, alias)
}

// CloseResult carries the outcome of a market close back to the caller for
// persistence.
type CloseResult struct {
	OrderResult  exchange.OrderResult
	ClosedQty    decimal.Decimal
	FullyClosed  bool
}

// CloseAtMarket resolves the effective size, optionally cancels all
// bracket orders first (mandatory when closing 100%, §4.4/§8), and submits
// a reduce-only MARKET order for the computed quantity.
func (pm *PositionManager) CloseAtMarket(ctx context.Context, pair string, trade *database.Trade, reason string, closePercent decimal.Decimal, bracketOrderIDs []string) (CloseResult, error) {
	if closePercent.LessThanOrEqual(decimal.Zero) || closePercent.GreaterThan(decimal.NewFromInt(100)) {
		return CloseResult{}, errs.New(errs.KindValidation, "close_percent must be in (0, 100]")
	}

	if trade.Status == database.StatusClosed {
		// Idempotent no-op: closing an already-closed trade succeeds trivially (§8).
		return CloseResult{FullyClosed: true}, nil
	}

	size, err := pm.effectiveSize(ctx, trade, pair)
	if err != nil {
		return CloseResult{}, err
	}

	fullClose := closePercent.Equal(decimal.NewFromInt(100))
	if fullClose {
		// Cancel brackets before the closing order - MUST precede submission
		// to avoid double fills (§4.4, §8).
		if err := orders.CancelAll(ctx, pm.ex, pair, bracketOrderIDs); err != nil {
			return CloseResult{}, errs.Wrap(errs.KindExchangeRejected, "bracket cancellation before close failed", err)
		}
	}

	_, filters, err := pm.resolver.Resolve(ctx, trade.Coin, pm.ex)
	if err != nil {
		return CloseResult{}, err
	}
	qty := size.Mul(closePercent).Div(decimal.NewFromInt(100))
	qty = symbols.RoundQuantity(filters, qty)

	side := exchange.SideForPosition(string(trade.Side))
	result, err := pm.ex.ClosePosition(ctx, pair, qty, side)
	if err != nil {
		return CloseResult{}, errs.Wrap(errs.KindExchangeRejected, "close-at-market order failed: "+reason, err)
	}

	log.Info().Str("pair", pair).Str("reason", reason).Str("qty", qty.String()).
		Bool("full", fullClose).Msg("position closed at market")

	return CloseResult{OrderResult: result, ClosedQty: qty, FullyClosed: fullClose}, nil
}

// BreakevenPrice computes the move-to-breakeven SL target using a fixed
// per-side fee cap: entry*(1+2*fee) for LONG, mirrored for SHORT (§4.4).
func BreakevenPrice(side database.Side, entry, feeRate decimal.Decimal) decimal.Decimal {
	twiceFee := feeRate.Mul(decimal.NewFromInt(2))
	one := decimal.NewFromInt(1)
	if side == database.SideLong {
		return entry.Mul(one.Add(twiceFee))
	}
	return entry.Mul(one.Sub(twiceFee))
}

// staleSyncWindow bounds how stale a "last pnl sync" can be before the
// auditor treats a trade as needing manual verification.
const staleSyncWindow = 15 * time.Minute
