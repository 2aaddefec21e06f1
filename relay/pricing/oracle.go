// Package pricing provides value-of-gas-in-a-common-denomination lookups
// for the Evaluator, cached the way klaytn caches
// account/state lookups in common/cache.go, here via klaytn's
// hashicorp/golang-lru dependency instead of a hand-rolled map+mutex.
package pricing

import (
	"context"
	"math/big"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/klaytn/relayer/relay/log"
)

var logger = log.NewModuleLogger(log.Pricing, 0)

// GasUnit identifies what is being priced: native gas token or a specific
// ERC20-style unit, keyed by its on-chain address elsewhere.
type GasUnit string

// Provider fetches a fresh price from an upstream source (an exchange API,
// an on-chain oracle, …). It is the only piece an integrator must supply.
type Provider interface {
	Price(ctx context.Context, chainID uint64, unit GasUnit) (*big.Int, error)
}

type cacheKey struct {
	chainID uint64
	unit    GasUnit
}

type cacheValue struct {
	price     *big.Int
	fetchedAt time.Time
}

// Oracle returns priceOf(chainId, gasUnit) in a common denomination,
// caching for cacheDuration and falling through to the last-known value on
// provider failure until maxTries consecutive failures are reached.
type Oracle struct {
	provider     Provider
	cacheDur     time.Duration
	maxTries     int
	cache        *lru.Cache
	mu           sync.Mutex
	failureCount map[cacheKey]int
}

// New builds a caching Oracle in front of provider.
func New(provider Provider, cacheDuration time.Duration, maxTries int) *Oracle {
	cache, _ := lru.New(4096)
	return &Oracle{
		provider:     provider,
		cacheDur:     cacheDuration,
		maxTries:     maxTries,
		cache:        cache,
		failureCount: make(map[cacheKey]int),
	}
}

// ErrUnavailable is returned on a provider failure when no cached value
// exists to fall back on, or once the consecutive failure streak reaches
// maxTries.
type ErrUnavailable struct {
	ChainID uint64
	Unit    GasUnit
}

func (e *ErrUnavailable) Error() string {
	return "pricing: unavailable for chain " + strconv.FormatUint(e.ChainID, 10) + " unit " + string(e.Unit)
}

// Price returns the cached or freshly fetched price. On provider failure it
// returns the last-known value (logging a warning) unless the failure
// streak has reached maxTries, in which case it returns ErrUnavailable.
func (o *Oracle) Price(ctx context.Context, chainID uint64, unit GasUnit) (*big.Int, error) {
	key := cacheKey{chainID, unit}

	o.mu.Lock()
	if v, ok := o.cache.Get(key); ok {
		cv := v.(cacheValue)
		if time.Since(cv.fetchedAt) < o.cacheDur {
			o.mu.Unlock()
			return cv.price, nil
		}
	}
	o.mu.Unlock()

	price, err := o.provider.Price(ctx, chainID, unit)
	if err != nil {
		o.mu.Lock()
		o.failureCount[key]++
		fails := o.failureCount[key]
		cached, hasCached := o.cache.Get(key)
		o.mu.Unlock()

		if fails >= o.maxTries || !hasCached {
			logger.Error("pricing provider unavailable", "chainId", chainID, "unit", unit, "failures", fails, "err", err)
			return nil, &ErrUnavailable{ChainID: chainID, Unit: unit}
		}
		logger.Warn("pricing provider failed, using last-known value", "chainId", chainID, "unit", unit, "err", err)
		return cached.(cacheValue).price, nil
	}

	o.mu.Lock()
	o.failureCount[key] = 0
	o.cache.Add(key, cacheValue{price: price, fetchedAt: time.Now()})
	o.mu.Unlock()

	return price, nil
}
