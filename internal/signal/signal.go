// Package signal defines the normalized trade signal every ingestion path
// converts free-form input into before it reaches the Trading Engine (§3).
package signal

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradecore/internal/database"
)

// OrderKind is the entry order type a signal requests.
type OrderKind string

const (
	OrderKindMarket OrderKind = "MARKET"
	OrderKindLimit  OrderKind = "LIMIT"
)

// Signal is the normalized representation every engine operates on. The
// parser that produces this from chat text is out of scope (§1).
type Signal struct {
	CoinSymbol         string
	PositionType       database.Side
	OrderType          OrderKind
	EntryPrices        []decimal.Decimal // 1..N, ordered; len==2 is a range [lo, hi]
	StopLoss           decimal.Decimal   // optional, zero means "use default"
	TakeProfits        []decimal.Decimal // 0..N
	QuantityMultiplier int               // optional, 0 means "1"
	ClientOrderID      string
	TradeGroupID       string
	Trader             string
	SourceMessageID    string
	Timestamp          time.Time
}

// IsRange reports whether EntryPrices encodes a [lo, hi] range rather than
// a single price.
func (s Signal) IsRange() bool {
	return len(s.EntryPrices) == 2
}

// SinglePrice returns the one entry price for a non-range signal.
func (s Signal) SinglePrice() decimal.Decimal {
	if len(s.EntryPrices) == 0 {
		return decimal.Zero
	}
	return s.EntryPrices[0]
}

// Range returns (lo, hi) for a range signal.
func (s Signal) Range() (lo, hi decimal.Decimal) {
	if len(s.EntryPrices) < 2 {
		return decimal.Zero, decimal.Zero
	}
	return s.EntryPrices[0], s.EntryPrices[1]
}

// EffectiveMultiplier returns QuantityMultiplier, defaulting to 1.
func (s Signal) EffectiveMultiplier() decimal.Decimal {
	if s.QuantityMultiplier <= 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(int64(s.QuantityMultiplier))
}
