// Package followup implements the Follow-up Processor (C8): classifying an
// alert's action and dispatching it against the related trades the Signal
// Router resolved.
package followup

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradecore/internal/database"
	"github.com/web3guy0/tradecore/internal/errs"
	"github.com/web3guy0/tradecore/internal/exchange"
	"github.com/web3guy0/tradecore/internal/orders"
	"github.com/web3guy0/tradecore/internal/risk"
	"github.com/web3guy0/tradecore/internal/router"
	"github.com/web3guy0/tradecore/internal/symbols"
)

// Action is the closed set of follow-up classifications (§4.7).
type Action string

const (
	ActionBreakEven          Action = "break_even"
	ActionStopLossHit        Action = "stop_loss_hit"
	ActionProfitClose        Action = "profit_close"
	ActionTakeProfitN        Action = "take_profit_N"
	ActionStopLossUpdate     Action = "stop_loss_update"
	ActionLimitOrderCancel   Action = "limit_order_cancelled"
)

// Processor dispatches classified alert actions into C3/C4/C5.
type Processor struct {
	router *router.Router
	db     *database.Database
	feeRate decimal.Decimal
}

func New(r *router.Router, db *database.Database, feeRate decimal.Decimal) *Processor {
	return &Processor{router: r, db: db, feeRate: feeRate}
}

// classify derives the Action from the alert's structured parse, falling
// back to a simple keyword heuristic over its free-form content when no
// structured action was supplied (the upstream NLP parser is out of scope,
// §1 - this heuristic only covers the unambiguous keyword cases).
func classify(alert database.Alert) (Action, database.ParsedAction) {
	if parsed, ok := alert.ParsedAction(); ok && parsed.ActionType != "" {
		return Action(parsed.ActionType), parsed
	}

	content := strings.ToLower(alert.Content)
	switch {
	case strings.Contains(content, "breakeven") || strings.Contains(content, "break even") || strings.Contains(content, "be "):
		return ActionBreakEven, database.ParsedAction{}
	case strings.Contains(content, "stop loss hit") || strings.Contains(content, "stopped out"):
		return ActionStopLossHit, database.ParsedAction{}
	case strings.Contains(content, "tp hit") || strings.Contains(content, "take profit hit") || strings.Contains(content, "closed in profit"):
		return ActionProfitClose, database.ParsedAction{}
	case strings.Contains(content, "cancel"):
		return ActionLimitOrderCancel, database.ParsedAction{}
	default:
		return "", database.ParsedAction{}
	}
}

// Process resolves the alert's related trades, applies aggregation
// redirection, and dispatches the classified action against each.
func (p *Processor) Process(ctx context.Context, alert database.Alert, engineFor func(trader string) (*EngineDeps, error)) error {
	action, parsed := classify(alert)
	if action == "" {
		alert.Status = database.AlertSkipped
		return p.db.UpdateAlert(&alert)
	}

	related, err := p.router.MatchFollowUp(alert)
	if err != nil {
		return err
	}
	if len(related) == 0 {
		alert.Status = database.AlertSkipped
		return p.db.UpdateAlert(&alert)
	}

	var dispatchErr error
	for i := range related {
		trade := &related[i]
		deps, derr := engineFor(trade.Trader)
		if derr != nil {
			dispatchErr = derr
			continue
		}

		target := trade
		if trade.Status == database.StatusMerged && trade.MergedIntoTradeID != nil {
			primary, perr := p.db.GetTradeByID(*trade.MergedIntoTradeID)
			if perr != nil {
				dispatchErr = perr
				continue
			}
			if primary.Status == database.StatusClosed {
				// Primary already flattened the aggregated position; this
				// secondary's follow-up has nothing left to act on.
				log.Info().Uint("trade_id", trade.ID).Uint("primary_id", primary.ID).
					Msg("skipping follow-up for merged trade whose primary is already closed")
				continue
			}
			target = primary
		}

		if err := p.dispatch(ctx, deps, target, action, parsed); err != nil {
			log.Warn().Err(err).Uint("trade_id", target.ID).Str("action", string(action)).Msg("follow-up dispatch failed")
			dispatchErr = err
			continue
		}
	}

	alert.Status = database.AlertProcessed
	if dispatchErr != nil {
		alert.Status = database.AlertFailed
	}
	return p.db.UpdateAlert(&alert)
}

// EngineDeps bundles the per-trade venue resources the dispatcher needs,
// resolved by the caller via the trade's engine.
type EngineDeps struct {
	Exchange exchange.Exchange
	Pair     string
	Filters  symbols.Filters
	Brackets *risk.BracketManager
	Position *risk.PositionManager
}

func (p *Processor) dispatch(ctx context.Context, deps *EngineDeps, trade *database.Trade, action Action, parsed database.ParsedAction) error {
	switch action {
	case ActionBreakEven:
		id, err := deps.Brackets.MoveToBreakeven(ctx, trade, deps.Pair, p.feeRate, deps.Filters)
		if err != nil {
			return err
		}
		trade.StopLossOrderID = id
		return p.db.UpdateTrade(trade)

	case ActionStopLossUpdate:
		newPrice := parsed.StopPrice
		if newPrice.IsZero() {
			return errs.New(errs.KindValidation, "stop_loss_update requires a new_price")
		}
		id, err := deps.Brackets.UpdateStopLoss(ctx, trade, deps.Pair, newPrice, deps.Filters)
		if err != nil {
			return err
		}
		trade.StopLossOrderID = id
		return p.db.UpdateTrade(trade)

	case ActionStopLossHit, ActionProfitClose:
		reason := "stop"
		if action == ActionProfitClose {
			reason = "tp"
		}
		ids := allBracketIDs(trade)
		result, err := deps.Position.CloseAtMarket(ctx, deps.Pair, trade, reason, decimal.NewFromInt(100), ids)
		if err != nil {
			return err
		}
		if result.FullyClosed {
			now := time.Now()
			trade.Status = database.StatusClosed
			trade.ClosedAt = &now
			if !result.OrderResult.AvgPrice.IsZero() {
				trade.ExitPrice = result.OrderResult.AvgPrice
			}
		}
		return p.db.UpdateTrade(trade)

	case ActionTakeProfitN:
		if parsed.TPPrice.IsZero() {
			return errs.New(errs.KindValidation, "take_profit_N requires a tp_price")
		}
		pct := parsed.ClosePercentage
		if pct.IsZero() {
			pct = decimal.NewFromInt(100)
		}
		size, err := deps.Position.EffectiveSize(ctx, trade, deps.Pair)
		if err != nil {
			return err
		}
		qty := symbols.RoundQuantity(deps.Filters, size.Mul(pct).Div(decimal.NewFromInt(100)))
		price := symbols.RoundPrice(deps.Filters, parsed.TPPrice)
		_, err = deps.Exchange.CreateOrder(ctx, exchange.OrderRequest{
			Pair:          deps.Pair,
			Side:          exchange.SideForPosition(string(trade.Side)),
			Type:          exchange.OrderTypeLimit,
			Price:         price,
			Quantity:      qty,
			Filters:       deps.Filters,
			ReduceOnly:    true,
			ClientOrderID: orders.NewClientOrderID("tpn-" + trade.SourceMessageID),
		})
		if err != nil {
			return errs.Wrap(errs.KindExchangeRejected, "take_profit_N order failed", err)
		}
		if pct.Equal(decimal.NewFromInt(100)) {
			now := time.Now()
			trade.Status = database.StatusClosed
			trade.ClosedAt = &now
		} else {
			trade.Status = database.StatusPartiallyFilled
		}
		return p.db.UpdateTrade(trade)

	case ActionLimitOrderCancel:
		if trade.ExchangeOrderID == "" {
			return nil
		}
		if err := orders.CancelAll(ctx, deps.Exchange, deps.Pair, []string{trade.ExchangeOrderID}); err != nil {
			return err
		}
		trade.Status = database.StatusCancelled
		return p.db.UpdateTrade(trade)

	default:
		return errs.New(errs.KindValidation, "unrecognized follow-up action "+string(action))
	}
}

func allBracketIDs(trade *database.Trade) []string {
	ids := trade.TakeProfitOrderIDs()
	if trade.StopLossOrderID != "" {
		ids = append(ids, trade.StopLossOrderID)
	}
	return ids
}
