// Package symbols implements the Symbol & Precision Resolver (C1): mapping
// a canonical coin symbol to an exchange-native trading pair, caching its
// precision filters, and providing deterministic decimal rounding against
// those filters.
package symbols

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/web3guy0/tradecore/internal/errs"
)

// Filters are the per-(exchange,pair) precision and notional rules (§3).
type Filters struct {
	StepSize         decimal.Decimal
	TickSize         decimal.Decimal
	MinQty           decimal.Decimal
	MaxQty           decimal.Decimal
	MinNotional      decimal.Decimal
	NativePairFormat string
}

// SymbolInfo is one entry of an exchange's tradeable-symbol catalog.
type SymbolInfo struct {
	Coin      string // canonical coin symbol, e.g. "BTC"
	Pair      string // exchange-native pair, e.g. "BTCUSDT"
	Aliases   []string
	Tradeable bool
	Filters   Filters
}

// CatalogFetcher is implemented by each Exchange capability and supplies
// the full list of tradeable perpetuals on that venue.
type CatalogFetcher interface {
	Name() string
	FetchSymbolCatalog(ctx context.Context) ([]SymbolInfo, error)
}

// knownAliases maps a canonical coin to alternate tickers used on some
// venues (BTC<->XBT on KuCoin-shaped futures APIs, per §4.1).
var knownAliases = map[string]string{
	"BTC": "XBT",
	"XBT": "BTC",
}

type cacheEntry struct {
	pair      string
	filters   Filters
	fetchedAt time.Time
}

// Resolver caches (exchange, coin) -> (pair, filters) with a TTL, coalesces
// concurrent misses for the same key via singleflight (single-writer-per-key,
// §4.1/§11), and prefers a stale cache entry over a hard failure.
type Resolver struct {
	ttl time.Duration

	mu    sync.RWMutex
	cache map[string]*cacheEntry

	group singleflight.Group
}

func NewResolver(ttl time.Duration) *Resolver {
	return &Resolver{
		ttl:   ttl,
		cache: make(map[string]*cacheEntry),
	}
}

func key(exchange, coin string) string {
	return exchange + ":" + strings.ToUpper(coin)
}

// Resolve returns the exchange-native pair and filters for coin, using a
// fresh cache entry if present, otherwise fetching the catalog through
// fetcher. Concurrent resolves for the same key share one fetch.
func (r *Resolver) Resolve(ctx context.Context, coin string, fetcher CatalogFetcher) (string, Filters, error) {
	k := key(fetcher.Name(), coin)

	r.mu.RLock()
	entry, ok := r.cache[k]
	fresh := ok && time.Since(entry.fetchedAt) < r.ttl
	r.mu.RUnlock()

	if fresh {
		return entry.pair, entry.filters, nil
	}

	result, err, _ := r.group.Do(k, func() (any, error) {
		catalog, ferr := fetcher.FetchSymbolCatalog(ctx)
		if ferr != nil {
			r.mu.RLock()
			stale, hasStale := r.cache[k]
			r.mu.RUnlock()
			if hasStale {
				log.Warn().Err(ferr).Str("exchange", fetcher.Name()).Str("coin", coin).
					Msg("symbol catalog fetch failed, serving stale cache entry")
				return stale, nil
			}
			return nil, errs.Wrap(errs.KindUnsupportedSymbol, "symbol fetch failed and no cache available", ferr)
		}

		info, found := matchCoin(catalog, coin)
		if !found {
			return nil, errs.New(errs.KindUnsupportedSymbol, "no tradeable symbol matches "+coin+" on "+fetcher.Name())
		}

		e := &cacheEntry{pair: info.Pair, filters: info.Filters, fetchedAt: time.Now()}
		r.mu.Lock()
		r.cache[k] = e
		r.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return "", Filters{}, err
	}

	e := result.(*cacheEntry)
	return e.pair, e.filters, nil
}

func matchCoin(catalog []SymbolInfo, coin string) (SymbolInfo, bool) {
	coin = strings.ToUpper(coin)
	alias := knownAliases[coin]

	for _, info := range catalog {
		if !info.Tradeable {
			continue
		}
		c := strings.ToUpper(info.Coin)
		if c == coin || (alias != "" && c == alias) {
			return info, true
		}
		for _, a := range info.Aliases {
			a = strings.ToUpper(a)
			if a == coin || (alias != "" && a == alias) {
				return info, true
			}
		}
	}
	return SymbolInfo{}, false
}

// ClearCache invalidates one (exchange, coin) entry, or the whole exchange's
// entries when coin is empty, or everything when exchange is also empty.
func (r *Resolver) ClearCache(exchange, coin string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if exchange == "" {
		r.cache = make(map[string]*cacheEntry)
		return
	}
	if coin == "" {
		for k := range r.cache {
			if strings.HasPrefix(k, exchange+":") {
				delete(r.cache, k)
			}
		}
		return
	}
	delete(r.cache, key(exchange, coin))
}

// AlignToStep aligns qty to the filter's step size using round-half-up
// decimal arithmetic without clamping to [min_qty, max_qty]. Callers that
// need to reject a quantity rounding below min_qty rather than resizing it
// (§4.2, §8: "quantity sized just below min_qty after step alignment:
// rejection with ValidationError") validate this unclamped value before
// ever calling RoundQuantity.
func AlignToStep(f Filters, qty decimal.Decimal) decimal.Decimal {
	return roundToStep(qty, f.StepSize)
}

// RoundQuantity aligns qty to the filter's step size using round-half-up
// decimal arithmetic, then clamps to [min_qty, max_qty]. Idempotent:
// RoundQuantity(RoundQuantity(f, q)) == RoundQuantity(f, q). Intended for
// paths that size against a live position (closes, bracket legs) where
// clamping into range is correct; sizing paths that must reject an
// undersized quantity should validate AlignToStep's output first.
func RoundQuantity(f Filters, qty decimal.Decimal) decimal.Decimal {
	rounded := roundToStep(qty, f.StepSize)
	if rounded.LessThan(f.MinQty) {
		rounded = f.MinQty
	}
	if !f.MaxQty.IsZero() && rounded.GreaterThan(f.MaxQty) {
		rounded = f.MaxQty
	}
	return roundToStep(rounded, f.StepSize)
}

// RoundPrice aligns price to the filter's tick size using round-half-up
// decimal arithmetic.
func RoundPrice(f Filters, price decimal.Decimal) decimal.Decimal {
	return roundToStep(price, f.TickSize)
}

func roundToStep(value, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return value
	}
	steps := value.DivRound(step, 0)
	return steps.Mul(step)
}

// ValidateNotional checks qty*price against the filter's minimum notional,
// returning a structured error when it falls short (§4.2, §8: "notional
// exactly equal to min_notional: accept").
func ValidateNotional(f Filters, qty, price decimal.Decimal) error {
	notional := qty.Mul(price)
	if notional.LessThan(f.MinNotional) {
		return errs.New(errs.KindInsufficientNotional, "notional "+notional.String()+" below minimum "+f.MinNotional.String())
	}
	return nil
}

// ValidateQuantityBounds checks that qty, already aligned to the step by the
// caller, falls within [min_qty, max_qty]; step alignment itself is not
// checked. Used as the final guard in C6 step 5.
func ValidateQuantityBounds(f Filters, qty decimal.Decimal) error {
	if qty.LessThan(f.MinQty) {
		return errs.New(errs.KindValidation, "quantity "+qty.String()+" below minimum "+f.MinQty.String())
	}
	if !f.MaxQty.IsZero() && qty.GreaterThan(f.MaxQty) {
		return errs.New(errs.KindValidation, "quantity "+qty.String()+" above maximum "+f.MaxQty.String())
	}
	return nil
}
