package followup

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/tradecore/internal/config"
	"github.com/web3guy0/tradecore/internal/database"
	"github.com/web3guy0/tradecore/internal/exchange"
	"github.com/web3guy0/tradecore/internal/lock"
	"github.com/web3guy0/tradecore/internal/risk"
	"github.com/web3guy0/tradecore/internal/router"
	"github.com/web3guy0/tradecore/internal/symbols"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func openDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(t.TempDir() + "/followup_test.db")
	require.NoError(t, err)
	return db
}

type fakeExchange struct {
	positions     []exchange.PositionInfo
	createdOrders []exchange.OrderRequest
	cancelledIDs  []string
}

func (f *fakeExchange) Name() string { return "B" }
func (f *fakeExchange) FetchSymbolCatalog(ctx context.Context) ([]symbols.SymbolInfo, error) {
	return []symbols.SymbolInfo{
		{Coin: "BTC", Pair: "BTCUSDT", Tradeable: true, Filters: testFilters()},
	}, nil
}
func (f *fakeExchange) CreateOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	f.createdOrders = append(f.createdOrders, req)
	return exchange.OrderResult{OrderID: "order-1"}, nil
}
func (f *fakeExchange) CancelOrder(ctx context.Context, pair, orderID string) error {
	f.cancelledIDs = append(f.cancelledIDs, orderID)
	return nil
}
func (f *fakeExchange) GetOrderStatus(ctx context.Context, pair, orderID string) (exchange.OrderStatus, error) {
	return exchange.OrderStatus{}, nil
}
func (f *fakeExchange) GetOpenOrders(ctx context.Context, pair string) ([]exchange.OrderStatus, error) {
	return nil, nil
}
func (f *fakeExchange) GetPositions(ctx context.Context, pair string) ([]exchange.PositionInfo, error) {
	return f.positions, nil
}
func (f *fakeExchange) GetBalances(ctx context.Context) ([]exchange.Balance, error) { return nil, nil }
func (f *fakeExchange) GetMarkPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeExchange) GetOrderBook(ctx context.Context, pair string, depth int) (exchange.OrderBook, error) {
	return exchange.OrderBook{}, nil
}
func (f *fakeExchange) GetCurrentPrices(ctx context.Context, pairs []string) (map[string]decimal.Decimal, error) {
	return nil, nil
}
func (f *fakeExchange) ClosePosition(ctx context.Context, pair string, qty decimal.Decimal, side exchange.OrderSide) (exchange.OrderResult, error) {
	return exchange.OrderResult{OrderID: "close-1"}, nil
}
func (f *fakeExchange) SetLeverage(ctx context.Context, pair string, leverage int) error { return nil }

func testFilters() symbols.Filters {
	return symbols.Filters{
		StepSize:    dec("0.001"),
		TickSize:    dec("0.01"),
		MinQty:      dec("0.001"),
		MaxQty:      dec("1000"),
		MinNotional: dec("5"),
	}
}

func TestClassifyPrefersStructuredAction(t *testing.T) {
	alert := database.Alert{}
	alert.SetParsedAction(database.ParsedAction{ActionType: "stop_loss_update", StopPrice: dec("90")})

	action, parsed := classify(alert)
	assert.Equal(t, ActionStopLossUpdate, action)
	assert.True(t, parsed.StopPrice.Equal(dec("90")))
}

func TestClassifyFallsBackToKeywordHeuristic(t *testing.T) {
	cases := map[string]Action{
		"moved to breakeven":          ActionBreakEven,
		"BTC long stopped out":        ActionStopLossHit,
		"tp hit, closed in profit":    ActionProfitClose,
		"please cancel this order":    ActionLimitOrderCancel,
		"nothing actionable here":     "",
	}
	for content, want := range cases {
		action, _ := classify(database.Alert{Content: content})
		assert.Equal(t, want, action, content)
	}
}

func TestProcessSkipsUnclassifiableAlert(t *testing.T) {
	db := openDB(t)
	p := New(&router.Router{}, db, dec("0.0002"))

	alert := database.Alert{SourceMessageID: "m1", Content: "gm everyone"}
	require.NoError(t, db.CreateAlert(&alert))

	err := p.Process(context.Background(), alert, nil)
	require.NoError(t, err)

	got, err := db.GetTradeBySourceMessageID("m1")
	_ = got
	assert.Error(t, err) // no trade was ever created; just confirming no panic path
}

func TestProcessDispatchesStopLossHitAndClosesTrade(t *testing.T) {
	db := openDB(t)
	cfg := &config.Config{TimestampToleranceMinutes: 60}
	r := router.New(cfg, db, nil)
	p := New(r, db, dec("0.0002"))

	now := time.Now()
	trade := database.Trade{SourceMessageID: "m1", Coin: "BTC", Side: database.SideLong, Status: database.StatusOpen, Trader: "alice", PositionSize: dec("1"), CreatedAt: now}
	require.NoError(t, db.CreateTrade(&trade))

	ex := &fakeExchange{positions: []exchange.PositionInfo{{Pair: "BTCUSDT", PositionAmt: dec("1")}}}
	resolver := symbols.NewResolver(time.Hour)
	posMgr := risk.NewPositionManager(ex, resolver)
	bracketMgr := risk.NewBracketManager(ex, lock.NewRegistry(), &config.Config{DefaultBracketPct: dec("0.05")})

	engineFor := func(trader string) (*EngineDeps, error) {
		return &EngineDeps{Exchange: ex, Pair: "BTCUSDT", Filters: testFilters(), Brackets: bracketMgr, Position: posMgr}, nil
	}

	alert := database.Alert{SourceMessageID: "m1", Coin: "BTC", Content: "BTC long stopped out", Timestamp: now}
	require.NoError(t, db.CreateAlert(&alert))

	err := p.Process(context.Background(), alert, engineFor)
	require.NoError(t, err)

	got, err := db.GetTradeByID(trade.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusClosed, got.Status)
}

func TestProcessRedirectsMergedTradeToPrimary(t *testing.T) {
	db := openDB(t)
	// Tight tolerance forces MatchFollowUp past its timestamp-window
	// candidates and into the source_message_id fallback, which is the only
	// path that can return a MERGED trade (FindOpenTradesByCoin excludes it).
	cfg := &config.Config{TimestampToleranceMinutes: 1}
	r := router.New(cfg, db, nil)
	p := New(r, db, dec("0.0002"))

	old := time.Now().Add(-24 * time.Hour)
	primary := database.Trade{SourceMessageID: "primary", Coin: "BTC", Side: database.SideLong, Status: database.StatusOpen, Trader: "alice", PositionSize: dec("2"), CreatedAt: old}
	require.NoError(t, db.CreateTrade(&primary))

	secondary := database.Trade{SourceMessageID: "secondary", Coin: "BTC", Side: database.SideLong, Status: database.StatusMerged, Trader: "alice", MergedIntoTradeID: &primary.ID, CreatedAt: old}
	require.NoError(t, db.CreateTrade(&secondary))

	ex := &fakeExchange{positions: []exchange.PositionInfo{{Pair: "BTCUSDT", PositionAmt: dec("2")}}}
	resolver := symbols.NewResolver(time.Hour)
	posMgr := risk.NewPositionManager(ex, resolver)
	bracketMgr := risk.NewBracketManager(ex, lock.NewRegistry(), &config.Config{DefaultBracketPct: dec("0.05")})
	engineFor := func(trader string) (*EngineDeps, error) {
		return &EngineDeps{Exchange: ex, Pair: "BTCUSDT", Filters: testFilters(), Brackets: bracketMgr, Position: posMgr}, nil
	}

	alert := database.Alert{SourceMessageID: "secondary", Coin: "BTC", Content: "BTC long stopped out", Timestamp: time.Now()}
	require.NoError(t, db.CreateAlert(&alert))

	err := p.Process(context.Background(), alert, engineFor)
	require.NoError(t, err)

	gotPrimary, err := db.GetTradeByID(primary.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusClosed, gotPrimary.Status)
}

func TestProcessSkipsMergedTradeWhosePrimaryIsAlreadyClosed(t *testing.T) {
	db := openDB(t)
	cfg := &config.Config{TimestampToleranceMinutes: 1}
	r := router.New(cfg, db, nil)
	p := New(r, db, dec("0.0002"))

	old := time.Now().Add(-24 * time.Hour)
	primary := database.Trade{SourceMessageID: "primary", Coin: "BTC", Side: database.SideLong, Status: database.StatusClosed, Trader: "alice", CreatedAt: old}
	require.NoError(t, db.CreateTrade(&primary))

	secondary := database.Trade{SourceMessageID: "secondary", Coin: "BTC", Side: database.SideLong, Status: database.StatusMerged, Trader: "alice", MergedIntoTradeID: &primary.ID, CreatedAt: old}
	require.NoError(t, db.CreateTrade(&secondary))

	ex := &fakeExchange{}
	called := false
	engineFor := func(trader string) (*EngineDeps, error) {
		called = true
		return &EngineDeps{Exchange: ex}, nil
	}

	alert := database.Alert{SourceMessageID: "secondary", Coin: "BTC", Content: "BTC long stopped out", Timestamp: time.Now()}
	require.NoError(t, db.CreateAlert(&alert))

	err := p.Process(context.Background(), alert, engineFor)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Empty(t, ex.createdOrders)
	assert.Empty(t, ex.cancelledIDs)
}
