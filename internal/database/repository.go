package database

import (
	"time"

	"gorm.io/gorm"
)

// Trade operations

func (d *Database) CreateTrade(t *Trade) error {
	return d.db.Create(t).Error
}

func (d *Database) UpdateTrade(t *Trade) error {
	return d.db.Save(t).Error
}

func (d *Database) GetTradeByID(id uint) (*Trade, error) {
	var t Trade
	err := d.db.First(&t, "id = ?", id).Error
	return &t, err
}

func (d *Database) GetTradeBySourceMessageID(sourceMessageID string) (*Trade, error) {
	var t Trade
	err := d.db.Where("source_message_id = ?", sourceMessageID).First(&t).Error
	return &t, err
}

// FindOpenTradesByCoin returns candidate trades for follow-up matching (§4.7
// step 1: "collect candidate trades by coin").
func (d *Database) FindOpenTradesByCoin(coin string) ([]Trade, error) {
	var trades []Trade
	err := d.db.Where("coin = ? AND status IN ?", coin, []TradeStatus{StatusOpen, StatusPartiallyFilled}).
		Order("created_at ASC").Find(&trades).Error
	return trades, err
}

// FindOpenTradesByCoinSideTrader supports the aggregation check in §4.5.
func (d *Database) FindOpenTradesByCoinSideTrader(coin string, side Side, trader string) ([]Trade, error) {
	var trades []Trade
	err := d.db.Where("coin = ? AND side = ? AND trader = ? AND status IN ?",
		coin, side, trader, []TradeStatus{StatusOpen, StatusPartiallyFilled}).
		Order("created_at ASC").Find(&trades).Error
	return trades, err
}

func (d *Database) FindOpenTradesByTrader(trader string) ([]Trade, error) {
	var trades []Trade
	err := d.db.Where("trader = ? AND status IN ?", trader, []TradeStatus{StatusOpen, StatusPartiallyFilled}).
		Find(&trades).Error
	return trades, err
}

func (d *Database) FindAllOpenTrades() ([]Trade, error) {
	var trades []Trade
	err := d.db.Where("status IN ?", []TradeStatus{StatusOpen, StatusPartiallyFilled}).Find(&trades).Error
	return trades, err
}

// Alert operations

func (d *Database) CreateAlert(a *Alert) error {
	return d.db.Create(a).Error
}

func (d *Database) UpdateAlert(a *Alert) error {
	return d.db.Save(a).Error
}

func (d *Database) FindPendingAlertsForTrade(sourceMessageID string) ([]Alert, error) {
	var alerts []Alert
	err := d.db.Where("source_message_id = ? AND status = ?", sourceMessageID, AlertPending).
		Order("timestamp ASC").Find(&alerts).Error
	return alerts, err
}

// ActiveFutures operations

func (d *Database) UpsertActiveFutures(af *ActiveFutures) error {
	return d.db.Save(af).Error
}

// FindClosedActiveFuturesSince returns CLOSED entries stopped after since,
// for the given trader set (§4.8 step 1).
func (d *Database) FindClosedActiveFuturesSince(traders []string, since time.Time) ([]ActiveFutures, error) {
	var entries []ActiveFutures
	q := d.db.Where("status = ? AND stopped_at > ?", ActiveFuturesClosed, since)
	if len(traders) > 0 {
		q = q.Where("trader IN ?", traders)
	}
	err := q.Order("stopped_at ASC").Find(&entries).Error
	return entries, err
}

// Symbol filter cache persistence

func (d *Database) GetSymbolFilterRow(exchange, pair string) (*SymbolFilterRow, error) {
	var row SymbolFilterRow
	err := d.db.Where("exchange = ? AND pair = ?", exchange, pair).First(&row).Error
	return &row, err
}

func (d *Database) SaveSymbolFilterRow(row *SymbolFilterRow) error {
	return d.db.Save(row).Error
}

func (d *Database) DeleteSymbolFilterRow(exchange, pair string) error {
	return d.db.Where("exchange = ? AND pair = ?", exchange, pair).Delete(&SymbolFilterRow{}).Error
}

// Reconcile watermark

func (d *Database) GetWatermark(trader string) (time.Time, error) {
	var wm ReconcileWatermark
	err := d.db.Where("trader = ?", trader).First(&wm).Error
	if err == gorm.ErrRecordNotFound {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return wm.Watermark, nil
}

func (d *Database) AdvanceWatermark(trader string, ts time.Time) error {
	wm := ReconcileWatermark{Trader: trader, Watermark: ts}
	return d.db.Where("trader = ?", trader).Assign(wm).FirstOrCreate(&wm).Error
}
