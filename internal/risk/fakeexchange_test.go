package risk

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradecore/internal/exchange"
	"github.com/web3guy0/tradecore/internal/symbols"
)

// fakeExchange is a minimal in-memory Exchange double for unit tests.
type fakeExchange struct {
	name          string
	catalog       []symbols.SymbolInfo
	positions     []exchange.PositionInfo
	createErr     error
	cancelErr     error
	closeResult   exchange.OrderResult
	createdOrders []exchange.OrderRequest
	cancelledIDs  []string
	nextOrderID   int
}

func (f *fakeExchange) Name() string { return f.name }

func (f *fakeExchange) FetchSymbolCatalog(ctx context.Context) ([]symbols.SymbolInfo, error) {
	return f.catalog, nil
}

func (f *fakeExchange) CreateOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if f.createErr != nil {
		return exchange.OrderResult{}, f.createErr
	}
	f.createdOrders = append(f.createdOrders, req)
	f.nextOrderID++
	return exchange.OrderResult{OrderID: "order-" + decimal.NewFromInt(int64(f.nextOrderID)).String(), Status: "NEW"}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, pair, orderID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
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

func (f *fakeExchange) GetBalances(ctx context.Context) ([]exchange.Balance, error) {
	return nil, nil
}

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
	f.closeResult.OrderID = "close-order"
	return f.closeResult, nil
}

func (f *fakeExchange) SetLeverage(ctx context.Context, pair string, leverage int) error {
	return nil
}

func flatFilters() symbols.Filters {
	return symbols.Filters{
		StepSize:    decimal.NewFromFloat(0.001),
		TickSize:    decimal.NewFromFloat(0.01),
		MinQty:      decimal.NewFromFloat(0.001),
		MaxQty:      decimal.NewFromInt(1000),
		MinNotional: decimal.NewFromInt(5),
	}
}
