package reconcile

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradecore/internal/exchange"
	"github.com/web3guy0/tradecore/internal/symbols"
)

type fakeExchange struct {
	catalog   []symbols.SymbolInfo
	positions []exchange.PositionInfo

	createdOrders []exchange.OrderRequest
	cancelledIDs  []string
	closeCalls    int
}

func (f *fakeExchange) Name() string { return "B" }

func (f *fakeExchange) FetchSymbolCatalog(ctx context.Context) ([]symbols.SymbolInfo, error) {
	return f.catalog, nil
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
	f.closeCalls++
	return exchange.OrderResult{OrderID: "close-1", AvgPrice: decimal.NewFromInt(61000)}, nil
}

func (f *fakeExchange) SetLeverage(ctx context.Context, pair string, leverage int) error { return nil }

func testFilters() symbols.Filters {
	return symbols.Filters{
		StepSize:    decimal.NewFromFloat(0.001),
		TickSize:    decimal.NewFromFloat(0.01),
		MinQty:      decimal.NewFromFloat(0.001),
		MaxQty:      decimal.NewFromInt(1000),
		MinNotional: decimal.NewFromInt(5),
	}
}
