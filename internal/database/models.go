package database

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the closed set of states a Trade moves through (§4.6).
type TradeStatus string

const (
	StatusPending          TradeStatus = "PENDING"
	StatusOpen             TradeStatus = "OPEN"
	StatusClosed           TradeStatus = "CLOSED"
	StatusCancelled        TradeStatus = "CANCELLED"
	StatusFailed           TradeStatus = "FAILED"
	StatusPartiallyFilled  TradeStatus = "PARTIALLY_FILLED"
	StatusMerged           TradeStatus = "MERGED"
)

// Side is a position direction.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// AlertStatus is the closed set of states an Alert moves through.
type AlertStatus string

const (
	AlertPending   AlertStatus = "PENDING"
	AlertProcessed AlertStatus = "PROCESSED"
	AlertFailed    AlertStatus = "FAILED"
	AlertSkipped   AlertStatus = "SKIPPED"
)

// ActiveFuturesStatus mirrors the upstream active-futures feed's status.
type ActiveFuturesStatus string

const (
	ActiveFuturesActive ActiveFuturesStatus = "ACTIVE"
	ActiveFuturesClosed ActiveFuturesStatus = "CLOSED"
)

// ExchangeResponse is the typed shape persisted trades parse their raw
// exchange payload into at the repository boundary (§9: "JSON-typed
// persisted fields... parsed at the boundary into typed records").
type ExchangeResponse struct {
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	Symbol        string          `json:"symbol"`
	Status        string          `json:"status"`
	OrigQty       decimal.Decimal `json:"orig_qty"`
	ExecutedQty   decimal.Decimal `json:"executed_qty"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	UpdateTime    int64           `json:"update_time,omitempty"` // epoch millis, exchange-reported
}

func (r ExchangeResponse) Marshal() string {
	b, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (r ExchangeResponse) UpdatedAt() time.Time {
	if r.UpdateTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.UpdateTime)
}

// ParseExchangeResponse decodes a persisted exchange_response column. An
// empty or malformed blob yields the zero value rather than an error -
// callers treat a missing exchange-side timestamp as "no signal" (§4.7).
func ParseExchangeResponse(raw string) ExchangeResponse {
	var r ExchangeResponse
	if raw == "" {
		return r
	}
	_ = json.Unmarshal([]byte(raw), &r)
	return r
}

// Trade is the authoritative local record of one position intent (§3).
type Trade struct {
	ID                       uint        `gorm:"primaryKey;autoIncrement"`
	SourceMessageID          string      `gorm:"uniqueIndex"`
	TradeGroupID             string      `gorm:"index"`
	Trader                   string      `gorm:"index"`
	Exchange                 string      `gorm:"index"`
	Coin                     string      `gorm:"index"`
	Side                     Side
	Status                   TradeStatus `gorm:"index"`
	PositionSize             decimal.Decimal `gorm:"type:decimal(30,10)"`
	EntryPrice               decimal.Decimal `gorm:"type:decimal(30,10)"`
	ExitPrice                decimal.Decimal `gorm:"type:decimal(30,10)"`
	ExchangeOrderID          string
	StopLossOrderID          string
	TakeProfitOrderIDsJSON   string // JSON []string, parsed via TakeProfitOrderIDs()
	ClientOrderID            string `gorm:"index"`
	ExchangeResponseJSON     string `gorm:"column:exchange_response"`
	MergedIntoTradeID        *uint  `gorm:"index"`
	SyncErrorCount           int
	SyncIssues               string
	ManualVerificationNeeded bool
	LastPnlSync              *time.Time
	CreatedAt                time.Time
	ClosedAt                 *time.Time
	UpdatedAt                time.Time
}

// ExchangeResponse parses the persisted blob into a typed record.
func (t *Trade) ExchangeResponse() ExchangeResponse {
	return ParseExchangeResponse(t.ExchangeResponseJSON)
}

// SetExchangeResponse serializes r into the persisted column.
func (t *Trade) SetExchangeResponse(r ExchangeResponse) {
	t.ExchangeResponseJSON = r.Marshal()
}

func (t *Trade) TakeProfitOrderIDs() []string {
	if t.TakeProfitOrderIDsJSON == "" {
		return nil
	}
	var ids []string
	_ = json.Unmarshal([]byte(t.TakeProfitOrderIDsJSON), &ids)
	return ids
}

func (t *Trade) SetTakeProfitOrderIDs(ids []string) {
	b, err := json.Marshal(ids)
	if err != nil {
		return
	}
	t.TakeProfitOrderIDsJSON = string(b)
}

// Alert is an external follow-up update referencing a Trade (§3).
type Alert struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	SourceMessageID string `gorm:"index"` // the "trade" field of the inbound alert
	Trader          string `gorm:"index"`
	Coin            string `gorm:"index"`
	DiscordID       string
	Timestamp       time.Time `gorm:"index"`
	Content         string
	ParsedActionJSON string `gorm:"column:parsed_action"`
	TradeGroupID    string
	Status          AlertStatus `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ParsedAction is the typed shape of an alert's structured action, when the
// upstream parser supplied one (§6).
type ParsedAction struct {
	ActionType     string          `json:"action_type"`
	CoinSymbol     string          `json:"coin_symbol,omitempty"`
	TradeGroupID   string          `json:"trade_group_id,omitempty"`
	TPPrice        decimal.Decimal `json:"tp_price,omitempty"`
	StopPrice      decimal.Decimal `json:"stop_price,omitempty"`
	ClosePercentage decimal.Decimal `json:"close_percentage,omitempty"`
}

func (a *Alert) ParsedAction() (ParsedAction, bool) {
	var p ParsedAction
	if a.ParsedActionJSON == "" {
		return p, false
	}
	if err := json.Unmarshal([]byte(a.ParsedActionJSON), &p); err != nil {
		return p, false
	}
	return p, true
}

func (a *Alert) SetParsedAction(p ParsedAction) {
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	a.ParsedActionJSON = string(b)
}

// ActiveFutures mirrors one upstream "currently active trade" entry (§3).
type ActiveFutures struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	Trader    string `gorm:"index"`
	Content   string
	Status    ActiveFuturesStatus `gorm:"index"`
	CreatedAt time.Time
	StoppedAt *time.Time `gorm:"index"`
}

// SymbolFilterRow persists a symbol filter cache entry, beyond the
// in-process TTL cache, so a cold restart doesn't need a fresh catalog
// fetch before the first order (§4.1).
type SymbolFilterRow struct {
	Exchange        string `gorm:"primaryKey"`
	Pair            string `gorm:"primaryKey"`
	StepSize        decimal.Decimal `gorm:"type:decimal(30,10)"`
	TickSize        decimal.Decimal `gorm:"type:decimal(30,10)"`
	MinQty          decimal.Decimal `gorm:"type:decimal(30,10)"`
	MaxQty          decimal.Decimal `gorm:"type:decimal(30,10)"`
	MinNotional     decimal.Decimal `gorm:"type:decimal(30,10)"`
	NativePairFormat string
	FetchedAt       time.Time
}

// ReconcileWatermark tracks the last-processed stopped_at timestamp the
// Active-Futures Reconciler has advanced past (§4.8).
type ReconcileWatermark struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	Trader    string `gorm:"uniqueIndex"`
	Watermark time.Time
	UpdatedAt time.Time
}
