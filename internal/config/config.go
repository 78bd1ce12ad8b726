// Package config loads TradeCore's runtime configuration from the process
// environment, mirroring the typed-getter style the rest of the stack uses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Venue identifies one of the two supported exchanges.
type Venue string

const (
	VenueB Venue = "B" // primary venue (Binance-shaped futures API)
	VenueK Venue = "K" // secondary venue (KuCoin-shaped futures API)
)

type Config struct {
	Debug bool

	// Sizing & cadence
	TradeAmount      decimal.Decimal // USDT notional per entry
	FixedFeeRate     decimal.Decimal // per-side fee used by breakeven math
	TradeCooldown    time.Duration
	DefaultBracketPct decimal.Decimal // default SL/TP distance from entry when signal omits one

	// Routing
	TargetTraders      []string
	TraderExchangeMap  map[string]Venue
	DefaultVenue       Venue

	// Symbol cache
	SymbolCacheTTL time.Duration

	// Validation / execution behavior
	DynamicValidationEnabled bool
	OfflineMode              bool
	MakerTickOffset          int
	Leverage                 int // 0 means "leave exchange default"

	// Follow-up matching
	TimestampToleranceMinutes int

	// Reconciler
	MatchConfidenceThreshold decimal.Decimal
	ReconcileLookback        time.Duration
	ReconcileInterval        time.Duration
	ReconcileMaxHoursProximity float64

	// Position auditor
	AuditInterval time.Duration

	// Exchange transport
	RequestTimeout    time.Duration
	RetryBaseDelay    time.Duration
	RetryFactor       float64
	RetryMaxAttempts  int

	// Database
	DatabasePath string

	// Notifications
	TelegramToken  string
	TelegramChatID int64

	// Ingestion HTTP surface
	IngestListenAddr string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("no .env file found, relying on process environment")
	}

	cfg := &Config{
		Debug: getEnvBool("DEBUG", false),

		TradeAmount:        getEnvDecimal("TRADE_AMOUNT", decimal.NewFromInt(100)),
		FixedFeeRate:       getEnvDecimal("FIXED_FEE_RATE", decimal.NewFromFloat(0.0002)),
		TradeCooldown:      getEnvDuration("TRADE_COOLDOWN", 60*time.Second),
		DefaultBracketPct:  getEnvDecimal("DEFAULT_BRACKET_PCT", decimal.NewFromFloat(0.05)),

		TargetTraders: getEnvList("TARGET_TRADERS", nil),
		DefaultVenue:  Venue(getEnv("DEFAULT_VENUE", string(VenueB))),

		SymbolCacheTTL: getEnvDuration("SYMBOL_CACHE_TTL", 10*time.Minute),

		DynamicValidationEnabled: getEnvBool("DYNAMIC_VALIDATION_ENABLED", true),
		OfflineMode:              getEnvBool("OFFLINE_MODE", false),
		MakerTickOffset:          getEnvInt("MAKER_TICK_OFFSET", 3),
		Leverage:                 getEnvInt("LEVERAGE", 0),

		TimestampToleranceMinutes: getEnvInt("TIMESTAMP_TOLERANCE_MINUTES", 5),

		MatchConfidenceThreshold:   getEnvDecimal("MATCH_CONFIDENCE_THRESHOLD", decimal.NewFromFloat(0.6)),
		ReconcileLookback:          getEnvDuration("RECONCILE_LOOKBACK", 24*time.Hour),
		ReconcileInterval:          getEnvDuration("RECONCILE_INTERVAL", 30*time.Second),
		ReconcileMaxHoursProximity: getEnvFloat("RECONCILE_MAX_HOURS", 24.0),

		AuditInterval: getEnvDuration("AUDIT_INTERVAL", 5*time.Minute),

		RequestTimeout:   getEnvDuration("EXCHANGE_REQUEST_TIMEOUT", 10*time.Second),
		RetryBaseDelay:   getEnvDuration("EXCHANGE_RETRY_BASE_DELAY", time.Second),
		RetryFactor:      getEnvFloat("EXCHANGE_RETRY_FACTOR", 2.0),
		RetryMaxAttempts: getEnvInt("EXCHANGE_RETRY_MAX_ATTEMPTS", 3),

		DatabasePath: getEnv("DATABASE_PATH", "data/tradecore.db"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		IngestListenAddr: getEnv("INGEST_LISTEN_ADDR", ":8090"),
	}

	cfg.TraderExchangeMap = parseTraderExchangeMap(getEnv("TRADER_EXCHANGE_MAP", ""))

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	return cfg, nil
}

// ResolveVenue returns the venue a trader routes to, falling back to the
// configured default and logging a warning for unknown traders (§4.7).
func (c *Config) ResolveVenue(trader string) Venue {
	if v, ok := c.TraderExchangeMap[trader]; ok {
		return v
	}
	log.Warn().Str("trader", trader).Str("default_venue", string(c.DefaultVenue)).
		Msg("trader has no exchange mapping, routing to default venue")
	return c.DefaultVenue
}

func parseTraderExchangeMap(raw string) map[string]Venue {
	m := make(map[string]Venue)
	if raw == "" {
		return m
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		m[strings.TrimSpace(parts[0])] = Venue(strings.ToUpper(strings.TrimSpace(parts[1])))
	}
	return m
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
