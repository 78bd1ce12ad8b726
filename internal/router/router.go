// Package router implements the Signal Router (C7): selecting the engine
// for a trader, and matching a follow-up alert to its related trades.
package router

import (
	"time"

	"github.com/web3guy0/tradecore/internal/config"
	"github.com/web3guy0/tradecore/internal/database"
	"github.com/web3guy0/tradecore/internal/engine"
	"github.com/web3guy0/tradecore/internal/errs"
)

// Router selects the per-trader engine and resolves follow-up alerts to
// their related trades.
type Router struct {
	engines map[config.Venue]*engine.Engine
	db      *database.Database
	cfg     *config.Config
}

func New(cfg *config.Config, db *database.Database, engines map[config.Venue]*engine.Engine) *Router {
	return &Router{engines: engines, db: db, cfg: cfg}
}

// EngineFor routes trader to its configured venue's engine, falling back to
// the default venue (with a logged warning, via config.ResolveVenue) for
// unmapped traders.
func (r *Router) EngineFor(trader string) (*engine.Engine, config.Venue, error) {
	venue := r.cfg.ResolveVenue(trader)
	eng, ok := r.engines[venue]
	if !ok {
		return nil, venue, errs.New(errs.KindValidation, "no engine configured for venue "+string(venue))
	}
	return eng, venue, nil
}

// MatchFollowUp implements §4.7's candidate-collection and matching
// algorithm for an inbound alert.
func (r *Router) MatchFollowUp(alert database.Alert) ([]database.Trade, error) {
	candidates, err := r.db.FindOpenTradesByCoin(alert.Coin)
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabase, "failed to load candidate trades", err)
	}

	tolerance := time.Duration(r.cfg.TimestampToleranceMinutes) * time.Minute

	related := make([]database.Trade, 0, len(candidates))
	for _, t := range candidates {
		if !withinTolerance(alert.Timestamp, t.CreatedAt, tolerance) &&
			!withinTolerance(alert.Timestamp, t.ExchangeResponse().UpdatedAt(), tolerance) {
			continue
		}
		if alert.TradeGroupID != "" && t.TradeGroupID != alert.TradeGroupID {
			continue
		}
		related = append(related, t)
	}

	if len(related) > 0 {
		return related, nil
	}

	// Fallback: the single trade whose source_message_id equals the alert's
	// "trade" reference field (§4.7 step 4).
	fallback, err := r.db.GetTradeBySourceMessageID(alert.SourceMessageID)
	if err != nil {
		return nil, nil
	}
	return []database.Trade{*fallback}, nil
}

func withinTolerance(a, b time.Time, tolerance time.Duration) bool {
	if b.IsZero() {
		return false
	}
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
