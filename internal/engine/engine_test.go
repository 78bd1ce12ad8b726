package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/tradecore/internal/config"
	"github.com/web3guy0/tradecore/internal/database"
	"github.com/web3guy0/tradecore/internal/errs"
	"github.com/web3guy0/tradecore/internal/lock"
	"github.com/web3guy0/tradecore/internal/risk"
	"github.com/web3guy0/tradecore/internal/signal"
	"github.com/web3guy0/tradecore/internal/symbols"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestDecidePriceMarketSingleUsesCurrentPrice(t *testing.T) {
	sig := signal.Signal{
		EntryPrices: []decimal.Decimal{dec("100")},
		OrderType:   signal.OrderKindMarket,
		PositionType: database.SideLong,
	}
	price, reason, err := decidePrice(sig, dec("105"))
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("105")))
	assert.Equal(t, "market at current price", reason)
}

func TestDecidePriceLimitSingleUsesSignalledPrice(t *testing.T) {
	sig := signal.Signal{
		EntryPrices: []decimal.Decimal{dec("100")},
		OrderType:   signal.OrderKindLimit,
		PositionType: database.SideLong,
	}
	price, _, err := decidePrice(sig, dec("105"))
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("100")))
}

func TestDecidePriceMarketRangeRejectsLongAboveRangeHigh(t *testing.T) {
	sig := signal.Signal{
		EntryPrices:  []decimal.Decimal{dec("100"), dec("110")},
		OrderType:    signal.OrderKindMarket,
		PositionType: database.SideLong,
	}
	_, _, err := decidePrice(sig, dec("111"))
	assert.Error(t, err)
}

func TestDecidePriceMarketRangeRejectsShortBelowRangeLow(t *testing.T) {
	sig := signal.Signal{
		EntryPrices:  []decimal.Decimal{dec("100"), dec("110")},
		OrderType:    signal.OrderKindMarket,
		PositionType: database.SideShort,
	}
	_, _, err := decidePrice(sig, dec("99"))
	assert.Error(t, err)
}

func TestDecidePriceMarketRangeAcceptsWithinRange(t *testing.T) {
	sig := signal.Signal{
		EntryPrices:  []decimal.Decimal{dec("100"), dec("110")},
		OrderType:    signal.OrderKindMarket,
		PositionType: database.SideLong,
	}
	price, _, err := decidePrice(sig, dec("105"))
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("105")))
}

func TestDecidePriceLimitRangeLongBidsHigh(t *testing.T) {
	sig := signal.Signal{
		EntryPrices:  []decimal.Decimal{dec("100"), dec("110")},
		OrderType:    signal.OrderKindLimit,
		PositionType: database.SideLong,
	}
	price, reason, err := decidePrice(sig, dec("105"))
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("110")))
	assert.Equal(t, "limit at range high for LONG", reason)
}

func TestDecidePriceLimitRangeShortOffersLow(t *testing.T) {
	sig := signal.Signal{
		EntryPrices:  []decimal.Decimal{dec("100"), dec("110")},
		OrderType:    signal.OrderKindLimit,
		PositionType: database.SideShort,
	}
	price, _, err := decidePrice(sig, dec("105"))
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("100")))
}

func TestLegsForEmptyIsNil(t *testing.T) {
	assert.Nil(t, legsFor(nil))
}

func TestLegsForSplitsAcrossPrices(t *testing.T) {
	legs := legsFor([]decimal.Decimal{dec("105"), dec("110")})
	assert.Len(t, legs, 2)
}

func newTestEngine(t *testing.T, ex *fakeExchange, cfg *config.Config) *Engine {
	t.Helper()
	db, err := database.New(t.TempDir() + "/engine_test.db")
	require.NoError(t, err)
	resolver := symbols.NewResolver(time.Hour)
	brackets := risk.NewBracketManager(ex, lock.NewRegistry(), cfg)
	return New("B", ex, resolver, db, brackets, cfg)
}

// TestExecuteRejectsQuantityThatStepAlignsBelowMinQty covers the §4.2/§8
// boundary property: a signal sized such that qty step-aligns to just below
// min_qty must be rejected outright rather than silently resized up to
// min_qty and shipped as a larger order than intended.
func TestExecuteRejectsQuantityThatStepAlignsBelowMinQty(t *testing.T) {
	ex := &fakeExchange{
		catalog:   []symbols.SymbolInfo{{Coin: "BTC", Pair: "BTCUSDT", Tradeable: true, Filters: engineTestFilters()}},
		markPrice: dec("100"),
	}
	cfg := &config.Config{
		TradeAmount:       dec("900"), // 900/100 = 9, aligns to 9 on step=1, below min_qty=10
		DefaultBracketPct: dec("0.05"),
		RetryMaxAttempts:  3,
		RetryBaseDelay:    time.Millisecond,
	}
	eng := newTestEngine(t, ex, cfg)

	sig := signal.Signal{
		CoinSymbol:      "BTC",
		PositionType:    database.SideLong,
		OrderType:       signal.OrderKindMarket,
		EntryPrices:     []decimal.Decimal{dec("100")},
		SourceMessageID: "s1",
	}

	_, err := eng.Execute(context.Background(), sig)
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Empty(t, ex.createdOrders)
}

// TestExecuteRetriesMarkPriceBeforeFailing covers §5/§7/§8: a zero mark
// price is retried with a short fixed delay up to cfg.RetryMaxAttempts
// before the signal fails as MarkPriceUnavailable.
func TestExecuteRetriesMarkPriceBeforeFailing(t *testing.T) {
	ex := &fakeExchange{
		catalog:   []symbols.SymbolInfo{{Coin: "BTC", Pair: "BTCUSDT", Tradeable: true, Filters: engineTestFilters()}},
		markPrice: decimal.Zero,
	}
	cfg := &config.Config{
		TradeAmount:       dec("900"),
		DefaultBracketPct: dec("0.05"),
		RetryMaxAttempts:  3,
		RetryBaseDelay:    time.Millisecond,
	}
	eng := newTestEngine(t, ex, cfg)

	sig := signal.Signal{
		CoinSymbol:      "BTC",
		PositionType:    database.SideLong,
		OrderType:       signal.OrderKindMarket,
		EntryPrices:     []decimal.Decimal{dec("100")},
		SourceMessageID: "s2",
	}

	_, err := eng.Execute(context.Background(), sig)
	require.Error(t, err)
	assert.Equal(t, errs.KindMarkPriceUnavailable, errs.KindOf(err))
	assert.Equal(t, 3, ex.markCalls)
	assert.Empty(t, ex.createdOrders)
}
