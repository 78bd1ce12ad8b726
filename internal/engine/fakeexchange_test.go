package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradecore/internal/exchange"
	"github.com/web3guy0/tradecore/internal/symbols"
)

// fakeExchange is a minimal in-memory Exchange double driving Execute
// end-to-end, separate from risk/followup/reconcile's own package-local
// doubles since each package exercises a different subset of the interface.
type fakeExchange struct {
	catalog   []symbols.SymbolInfo
	markPrice decimal.Decimal
	markErr   error
	markCalls int

	createdOrders []exchange.OrderRequest
	createErr     error
}

func (f *fakeExchange) Name() string { return "B" }

func (f *fakeExchange) FetchSymbolCatalog(ctx context.Context) ([]symbols.SymbolInfo, error) {
	return f.catalog, nil
}

func (f *fakeExchange) CreateOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if f.createErr != nil {
		return exchange.OrderResult{}, f.createErr
	}
	f.createdOrders = append(f.createdOrders, req)
	return exchange.OrderResult{OrderID: "order-1"}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, pair, orderID string) error { return nil }

func (f *fakeExchange) GetOrderStatus(ctx context.Context, pair, orderID string) (exchange.OrderStatus, error) {
	return exchange.OrderStatus{}, nil
}

func (f *fakeExchange) GetOpenOrders(ctx context.Context, pair string) ([]exchange.OrderStatus, error) {
	return nil, nil
}

func (f *fakeExchange) GetPositions(ctx context.Context, pair string) ([]exchange.PositionInfo, error) {
	return nil, nil
}

func (f *fakeExchange) GetBalances(ctx context.Context) ([]exchange.Balance, error) { return nil, nil }

func (f *fakeExchange) GetMarkPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	f.markCalls++
	return f.markPrice, f.markErr
}

func (f *fakeExchange) GetOrderBook(ctx context.Context, pair string, depth int) (exchange.OrderBook, error) {
	return exchange.OrderBook{}, nil
}

func (f *fakeExchange) GetCurrentPrices(ctx context.Context, pairs []string) (map[string]decimal.Decimal, error) {
	return nil, nil
}

func (f *fakeExchange) ClosePosition(ctx context.Context, pair string, qty decimal.Decimal, side exchange.OrderSide) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, nil
}

func (f *fakeExchange) SetLeverage(ctx context.Context, pair string, leverage int) error { return nil }

func engineTestFilters() symbols.Filters {
	return symbols.Filters{
		StepSize:    decimal.NewFromInt(1),
		TickSize:    decimal.NewFromFloat(0.1),
		MinQty:      decimal.NewFromInt(10),
		MaxQty:      decimal.NewFromInt(1000),
		MinNotional: decimal.NewFromInt(5),
	}
}
