// TradeCore - signal-driven derivatives trading core.
//
// Ingests normalized trading signals and follow-up alerts, routes them to
// the exchange a trader is mapped to, and keeps the local trade ledger
// consistent with live exchange state via a background reconciler.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/tradecore/internal/config"
	"github.com/web3guy0/tradecore/internal/database"
	"github.com/web3guy0/tradecore/internal/engine"
	"github.com/web3guy0/tradecore/internal/exchange"
	"github.com/web3guy0/tradecore/internal/followup"
	"github.com/web3guy0/tradecore/internal/ingest"
	"github.com/web3guy0/tradecore/internal/lock"
	"github.com/web3guy0/tradecore/internal/notify"
	"github.com/web3guy0/tradecore/internal/reconcile"
	"github.com/web3guy0/tradecore/internal/risk"
	"github.com/web3guy0/tradecore/internal/router"
	"github.com/web3guy0/tradecore/internal/symbols"
)

const version = "1.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Str("version", version).Msg("tradecore starting")

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	transportCfg := exchange.TransportConfig{
		RequestTimeout:   cfg.RequestTimeout,
		RetryBaseDelay:   cfg.RetryBaseDelay,
		RetryFactor:      cfg.RetryFactor,
		RetryMaxAttempts: cfg.RetryMaxAttempts,
		RatePerSecond:    10,
		RateBurst:        20,
	}

	locks := lock.NewRegistry()
	resolver := symbols.NewResolver(cfg.SymbolCacheTTL)

	engines := make(map[config.Venue]*engine.Engine)
	auditors := make(map[config.Venue]*risk.PositionAuditor)
	positionMgrs := make(map[config.Venue]*risk.PositionManager)

	binanceClient := exchange.NewBinance(os.Getenv("BINANCE_BASE_URL"), os.Getenv("BINANCE_WS_URL"), os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"), transportCfg)
	brokersB := risk.NewBracketManager(binanceClient, locks, cfg)
	engines[config.VenueB] = engine.New(string(config.VenueB), binanceClient, resolver, db, brokersB, cfg)
	auditors[config.VenueB] = risk.NewPositionAuditor(binanceClient, db)

	kucoinClient := exchange.NewKuCoin(os.Getenv("KUCOIN_BASE_URL"), os.Getenv("KUCOIN_API_KEY"), os.Getenv("KUCOIN_API_SECRET"), transportCfg)
	brokersK := risk.NewBracketManager(kucoinClient, locks, cfg)
	engines[config.VenueK] = engine.New(string(config.VenueK), kucoinClient, resolver, db, brokersK, cfg)
	auditors[config.VenueK] = risk.NewPositionAuditor(kucoinClient, db)

	for venue, eng := range engines {
		positionMgrs[venue] = risk.NewPositionManager(eng.Exchange(), resolver)
	}

	r := router.New(cfg, db, engines)
	proc := followup.New(r, db, cfg.FixedFeeRate)
	reconciler := reconcile.New(db, cfg, proc)

	notifier, err := notify.New(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize telegram notifier, continuing without notifications")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go reconciler.Run(ctx, func(trader string) (*reconcile.EngineResources, error) {
		eng, venue, err := r.EngineFor(trader)
		if err != nil {
			return nil, err
		}
		return &reconcile.EngineResources{
			Exchange: eng.Exchange(),
			Resolver: eng.Resolver(),
			Position: positionMgrs[venue],
			Brackets: eng.Brackets(),
		}, nil
	})

	go runAuditLoop(ctx, cfg, db, engines, auditors, notifier)

	ingestSrv := &http.Server{
		Addr:    cfg.IngestListenAddr,
		Handler: ingest.NewServer(r, proc, db, positionMgrs).Handler(),
	}
	go func() {
		log.Info().Str("addr", cfg.IngestListenAddr).Msg("ingestion HTTP surface listening")
		if err := ingestSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("ingestion server stopped unexpectedly")
		}
	}()

	log.Info().Msg("tradecore services started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = ingestSrv.Shutdown(shutdownCtx)
	cancel()
}

// runAuditLoop drives the position auditor (C5 supplement, SPEC_FULL.md
// §12) over every open trade on cfg.AuditInterval, grouping trades by the
// venue they were opened on and notifying on any non-compliant finding.
func runAuditLoop(ctx context.Context, cfg *config.Config, db *database.Database, engines map[config.Venue]*engine.Engine, auditors map[config.Venue]*risk.PositionAuditor, notifier *notify.Notifier) {
	ticker := time.NewTicker(cfg.AuditInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trades, err := db.FindAllOpenTrades()
			if err != nil {
				log.Error().Err(err).Msg("audit pass: failed to load open trades")
				continue
			}

			byVenue := make(map[config.Venue][]*database.Trade)
			for i := range trades {
				venue := config.Venue(trades[i].Exchange)
				byVenue[venue] = append(byVenue[venue], &trades[i])
			}

			for venue, venueTrades := range byVenue {
				auditor := auditors[venue]
				eng := engines[venue]
				if auditor == nil || eng == nil {
					continue
				}
				findings := auditor.AuditAll(ctx, venueTrades, func(t *database.Trade) string {
					pair, _, err := eng.Resolver().Resolve(ctx, t.Coin, eng.Exchange())
					if err != nil {
						return ""
					}
					return pair
				})
				for _, f := range findings {
					if f.State != risk.StateCompliant {
						notifier.AuditAlert(f.TradeID, string(f.State))
					}
				}
			}
		}
	}
}
