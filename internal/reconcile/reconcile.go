// Package reconcile implements the Active-Futures Reconciler (C9): a
// ticker-driven control loop that detects externally-closed positions and
// drives the matching local trade to CLOSED.
package reconcile

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradecore/internal/config"
	"github.com/web3guy0/tradecore/internal/database"
	"github.com/web3guy0/tradecore/internal/exchange"
	"github.com/web3guy0/tradecore/internal/followup"
	"github.com/web3guy0/tradecore/internal/risk"
	"github.com/web3guy0/tradecore/internal/symbols"
)

// weights for the candidate-scoring heuristic (§4.8 step 2).
const (
	weightTrader    = 0.4
	weightCoin      = 0.4
	weightJaccard   = 0.2
	weightTimestamp = 0.1
	jaccardFloor    = 0.2
)

// knownTickers is the whitelist used for coin-symbol extraction from
// active-futures free text (§4.8 step 2: "known-ticker whitelist and
// entry-phrase patterns").
var knownTickers = []string{"BTC", "ETH", "SOL", "XRP", "DOGE", "BNB", "AVAX", "LINK", "ADA", "LTC"}

func extractCoin(content string) string {
	upper := strings.ToUpper(content)
	for _, t := range knownTickers {
		if strings.Contains(upper, t) {
			return t
		}
	}
	return ""
}

func jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for tok := range setA {
		if setB[tok] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	tokens := strings.Fields(strings.ToLower(s))
	out := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		out[t] = true
	}
	return out
}

// score implements the §4.8 step 2 weighting table.
func score(af database.ActiveFutures, trade database.Trade, maxHours float64) (float64, []string) {
	if af.Trader != trade.Trader {
		return 0, nil
	}
	reasons := []string{"trader_match"}
	total := weightTrader

	if coin := extractCoin(af.Content); coin != "" && strings.EqualFold(coin, trade.Coin) {
		total += weightCoin
		reasons = append(reasons, "coin_match")
	}

	if j := jaccard(af.Content, trade.Coin+" "+string(trade.Side)); j > jaccardFloor {
		total += j * weightJaccard
		reasons = append(reasons, "content_similarity")
	}

	if af.StoppedAt != nil {
		hours := af.StoppedAt.Sub(trade.CreatedAt).Hours()
		if hours < 0 {
			hours = -hours
		}
		if hours <= maxHours {
			total += weightTimestamp
			reasons = append(reasons, "timestamp_proximity")
		}
	}

	return total, reasons
}

// EngineResources is the per-trader venue access the reconciler needs to
// close a matched position and dispatch any follow-up alerts still pending
// against it. Pair is resolved per candidate trade's coin, since one
// trader's venue trades many coins.
type EngineResources struct {
	Exchange exchange.Exchange
	Resolver *symbols.Resolver
	Position *risk.PositionManager
	Brackets *risk.BracketManager
}

// Reconciler runs the periodic control loop.
type Reconciler struct {
	db   *database.Database
	cfg  *config.Config
	proc *followup.Processor

	batchMu sync.Mutex
	entryMu sync.Mutex
}

func New(db *database.Database, cfg *config.Config, proc *followup.Processor) *Reconciler {
	return &Reconciler{db: db, cfg: cfg, proc: proc}
}

// Run blocks, driving the reconcile loop on cfg.ReconcileInterval until ctx
// is cancelled.
func (r *Reconciler) Run(ctx context.Context, resourcesFor func(trader string) (*EngineResources, error)) {
	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx, resourcesFor); err != nil {
				log.Error().Err(err).Msg("reconcile pass failed")
			}
		}
	}
}

// RunOnce executes one reconcile pass: fetch-batch, score, close, advance
// watermark (§4.8).
func (r *Reconciler) RunOnce(ctx context.Context, resourcesFor func(trader string) (*EngineResources, error)) error {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()

	for _, trader := range r.traderSet() {
		var newestStopped time.Time
		since, err := r.db.GetWatermark(trader)
		if err != nil {
			return err
		}
		if since.IsZero() {
			since = time.Now().Add(-r.cfg.ReconcileLookback)
		}

		entries, err := r.db.FindClosedActiveFuturesSince([]string{trader}, since)
		if err != nil {
			return err
		}

		for _, af := range entries {
			r.processEntry(ctx, af, resourcesFor)
			if af.StoppedAt != nil && af.StoppedAt.After(newestStopped) {
				newestStopped = *af.StoppedAt
			}
		}

		if newestStopped.After(since) {
			if err := r.db.AdvanceWatermark(trader, newestStopped); err != nil {
				log.Error().Err(err).Str("trader", trader).Msg("failed to advance reconcile watermark")
			}
		}
	}
	return nil
}

func (r *Reconciler) traderSet() []string {
	if len(r.cfg.TargetTraders) > 0 {
		return r.cfg.TargetTraders
	}
	traders := make([]string, 0, len(r.cfg.TraderExchangeMap))
	for t := range r.cfg.TraderExchangeMap {
		traders = append(traders, t)
	}
	return traders
}

// processEntry scores all open candidates for one ActiveFutures entry,
// closes the winner if it clears the confidence threshold, and processes
// any pending alerts for the closed trade in arrival order (§4.8 steps
// 2-4). Per-entry work is mutex-guarded to make it atomic (§4.8 step 5).
func (r *Reconciler) processEntry(ctx context.Context, af database.ActiveFutures, resourcesFor func(trader string) (*EngineResources, error)) {
	r.entryMu.Lock()
	defer r.entryMu.Unlock()

	coin := extractCoin(af.Content)
	if coin == "" {
		log.Warn().Uint("active_futures_id", af.ID).Msg("could not extract coin from active-futures content")
		return
	}

	candidates, err := r.db.FindOpenTradesByCoin(coin)
	if err != nil {
		log.Error().Err(err).Msg("failed to load reconcile candidates")
		return
	}

	threshold, _ := r.cfg.MatchConfidenceThreshold.Float64()
	var best *database.Trade
	bestScore := 0.0
	for i := range candidates {
		s, _ := score(af, candidates[i], r.cfg.ReconcileMaxHoursProximity)
		if s >= threshold && s > bestScore {
			bestScore = s
			best = &candidates[i]
		}
	}
	if best == nil {
		return
	}

	resources, err := resourcesFor(best.Trader)
	if err != nil {
		log.Error().Err(err).Str("trader", best.Trader).Msg("no venue resources for reconcile winner")
		return
	}

	pair, filters, err := resources.Resolver.Resolve(ctx, best.Coin, resources.Exchange)
	if err != nil {
		log.Error().Err(err).Str("coin", best.Coin).Msg("failed to resolve symbol for reconcile winner")
		return
	}

	isOpen, err := resources.Position.IsPositionOpen(ctx, pair)
	if err != nil {
		log.Error().Err(err).Msg("failed to verify live position before reconcile close")
		return
	}
	if !isOpen {
		return
	}

	ids := append(best.TakeProfitOrderIDs(), best.StopLossOrderID)
	result, err := resources.Position.CloseAtMarket(ctx, pair, best, "active_futures_closed", decimal.NewFromInt(100), ids)
	if err != nil {
		log.Error().Err(err).Uint("trade_id", best.ID).Msg("reconcile close failed")
		return
	}
	if result.FullyClosed {
		now := time.Now()
		best.Status = database.StatusClosed
		best.ClosedAt = &now
		if !result.OrderResult.AvgPrice.IsZero() {
			best.ExitPrice = result.OrderResult.AvgPrice
		}
		if err := r.db.UpdateTrade(best); err != nil {
			log.Error().Err(err).Uint("trade_id", best.ID).Msg("failed to persist reconciled close")
			return
		}
	}

	log.Info().Uint("trade_id", best.ID).Float64("score", bestScore).Msg("active-futures entry reconciled")

	r.dispatchPendingAlerts(ctx, best, pair, filters, resources)
}

// dispatchPendingAlerts drains the alerts that arrived for this trade before
// the reconciler caught up, running each through the follow-up Processor in
// arrival order rather than discarding them (§4.8 step 4: "successfully
// dispatched alerts are set PROCESSED").
func (r *Reconciler) dispatchPendingAlerts(ctx context.Context, trade *database.Trade, pair string, filters symbols.Filters, resources *EngineResources) {
	if r.proc == nil {
		return
	}
	pending, err := r.db.FindPendingAlertsForTrade(trade.SourceMessageID)
	if err != nil {
		log.Error().Err(err).Uint("trade_id", trade.ID).Msg("failed to load pending alerts after reconcile close")
		return
	}

	engineFor := func(string) (*followup.EngineDeps, error) {
		return &followup.EngineDeps{
			Exchange: resources.Exchange,
			Pair:     pair,
			Filters:  filters,
			Brackets: resources.Brackets,
			Position: resources.Position,
		}, nil
	}

	for i := range pending {
		if err := r.proc.Process(ctx, pending[i], engineFor); err != nil {
			log.Error().Err(err).Uint("alert_id", pending[i].ID).Msg("failed to process pending alert after reconcile close")
		}
	}
}
