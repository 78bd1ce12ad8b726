// Package ingest exposes the core's signal/alert ingestion contract (§1,
// §6: "Signal ingestion contract (for callers of the core)") as a small
// JSON-over-HTTP surface. Message ingestion from the chat platform and the
// natural-language parser that produces these structured payloads are
// explicitly out of scope (§1) - this package is the boundary an upstream
// ingestion process calls into, not a replacement for it.
package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradecore/internal/config"
	"github.com/web3guy0/tradecore/internal/database"
	"github.com/web3guy0/tradecore/internal/followup"
	"github.com/web3guy0/tradecore/internal/risk"
	"github.com/web3guy0/tradecore/internal/router"
	"github.com/web3guy0/tradecore/internal/signal"
)

// Server is a minimal request-driven front door: one handler per inbound
// signal, one per inbound follow-up alert (§5's "request-driven tasks").
// There is no third-party HTTP router in the corpus this module is grounded
// on, so this uses net/http's ServeMux directly rather than inventing a
// framework dependency (see DESIGN.md).
type Server struct {
	router       *router.Router
	followupProc *followup.Processor
	db           *database.Database
	positionMgrs map[config.Venue]*risk.PositionManager
}

func NewServer(r *router.Router, proc *followup.Processor, db *database.Database, positionMgrs map[config.Venue]*risk.PositionManager) *Server {
	return &Server{router: r, followupProc: proc, db: db, positionMgrs: positionMgrs}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/signals", s.handleSignal)
	mux.HandleFunc("/alerts", s.handleAlert)
	return mux
}

type signalRequest struct {
	CoinSymbol         string            `json:"coin_symbol"`
	PositionType       database.Side     `json:"position_type"`
	OrderType          signal.OrderKind  `json:"order_type"`
	EntryPrices        []decimal.Decimal `json:"entry_prices"`
	StopLoss           decimal.Decimal   `json:"stop_loss"`
	TakeProfits        []decimal.Decimal `json:"take_profits"`
	QuantityMultiplier int               `json:"quantity_multiplier"`
	ClientOrderID      string            `json:"client_order_id"`
	TradeGroupID       string            `json:"trade_group_id"`
	Trader             string            `json:"trader"`
	SourceMessageID    string            `json:"source_message_id"`
	Timestamp          time.Time         `json:"timestamp"`
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid signal payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	sig := signal.Signal{
		CoinSymbol:         req.CoinSymbol,
		PositionType:       req.PositionType,
		OrderType:          req.OrderType,
		EntryPrices:        req.EntryPrices,
		StopLoss:           req.StopLoss,
		TakeProfits:        req.TakeProfits,
		QuantityMultiplier: req.QuantityMultiplier,
		ClientOrderID:      req.ClientOrderID,
		TradeGroupID:       req.TradeGroupID,
		Trader:             req.Trader,
		SourceMessageID:    req.SourceMessageID,
		Timestamp:          req.Timestamp,
	}

	eng, venue, err := s.router.EngineFor(sig.Trader)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	result, err := eng.Execute(ctx, sig)
	if err != nil {
		log.Error().Err(err).Str("trader", sig.Trader).Str("venue", string(venue)).Msg("signal execution failed")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"trade_id":     result.Trade.ID,
		"status":       result.Trade.Status,
		"price_reason": result.PriceReason,
	})
}

type alertRequest struct {
	SourceMessageID string                  `json:"trade"`
	Trader          string                  `json:"trader"`
	Coin            string                  `json:"coin"`
	DiscordID       string                  `json:"discord_id"`
	Timestamp       time.Time               `json:"timestamp"`
	Content         string                  `json:"content"`
	ParsedAction    *database.ParsedAction  `json:"parsed_action,omitempty"`
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req alertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid alert payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	alert := database.Alert{
		SourceMessageID: req.SourceMessageID,
		Trader:          req.Trader,
		Coin:            req.Coin,
		DiscordID:       req.DiscordID,
		Timestamp:       req.Timestamp,
		Content:         req.Content,
		Status:          database.AlertPending,
	}
	if req.ParsedAction != nil {
		alert.SetParsedAction(*req.ParsedAction)
		alert.TradeGroupID = req.ParsedAction.TradeGroupID
	}
	if err := s.db.CreateAlert(&alert); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	err := s.followupProc.Process(ctx, alert, func(trader string) (*followup.EngineDeps, error) {
		eng, venue, err := s.router.EngineFor(trader)
		if err != nil {
			return nil, err
		}
		pair, filters, err := eng.Resolver().Resolve(ctx, req.Coin, eng.Exchange())
		if err != nil {
			return nil, err
		}
		return &followup.EngineDeps{
			Exchange: eng.Exchange(),
			Pair:     pair,
			Filters:  filters,
			Brackets: eng.Brackets(),
			Position: s.positionMgrs[venue],
		}, nil
	})
	if err != nil {
		log.Error().Err(err).Str("trader", req.Trader).Msg("follow-up processing failed")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
