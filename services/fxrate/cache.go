package fxrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 24 * time.Hour

var (
	ErrNoSource        = errors.New("fxrate: no upstream rate source configured")
	ErrRateUnavailable = errors.New("fxrate: no rate available")
)

// Cache holds the process-lifetime exchange rates. It is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[Pair]Entry
	ttl     time.Duration
	source  RateSource
	group   singleflight.Group
	nowFn   func() time.Time
}

func NewCache(source RateSource, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[Pair]Entry),
		ttl:     ttl,
		source:  source,
		nowFn:   time.Now,
	}
}

// Rate returns the from->to rate. It never fails: upstream errors fall back
// to the last cached value, then to the static table, then to 1. It is meant
// for display; money movement goes through Convert.
func (c *Cache) Rate(ctx context.Context, from, to string) decimal.Decimal {
	pair := NewPair(from, to)
	if rate, ok := c.lookup(ctx, pair); ok {
		return rate
	}

	zap.L().Error("no fx rate available for pair, using 1",
		zap.String("pair", pair.String()),
	)
	return decimal.NewFromInt(1)
}

func (c *Cache) lookup(ctx context.Context, pair Pair) (decimal.Decimal, bool) {
	if pair.Identity() {
		return decimal.NewFromInt(1), true
	}

	if e, ok := c.get(pair); ok && e.Fresh(c.nowFn()) {
		cacheHits.Inc()
		return e.Rate, true
	}
	cacheMiss.Inc()

	rate, err := c.Refresh(ctx, pair.From, pair.To)
	if err == nil {
		return rate, true
	}

	zap.L().Warn("fx rate refresh failed",
		zap.String("pair", pair.String()),
		zap.Error(err),
	)

	if e, ok := c.get(pair); ok {
		zap.L().Info("using stale fx rate",
			zap.String("pair", pair.String()),
			zap.Time("expired_at", e.ExpiresAt),
		)
		return e.Rate, true
	}

	return c.fallback(pair)
}

// Refresh fetches the rate upstream and caches it for the TTL. On failure the
// existing entry is left untouched.
func (c *Cache) Refresh(ctx context.Context, from, to string) (decimal.Decimal, error) {
	pair := NewPair(from, to)
	if pair.Identity() {
		return decimal.NewFromInt(1), nil
	}
	if c.source == nil {
		return decimal.Decimal{}, ErrNoSource
	}

	v, err, _ := c.group.Do(pair.String(), func() (interface{}, error) {
		rate, err := c.source.FetchRate(ctx, pair.From, pair.To)
		if err != nil {
			return nil, err
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("fxrate: non-positive rate %s for %s", rate, pair)
		}

		c.mu.Lock()
		c.entries[pair] = Entry{Rate: rate, ExpiresAt: c.nowFn().Add(c.ttl)}
		c.mu.Unlock()

		return rate, nil
	})
	if err != nil {
		return decimal.Decimal{}, err
	}

	return v.(decimal.Decimal), nil
}

// Convert converts an amount in minor units of from into minor units of to,
// rounding half-up once. Unlike Rate it fails with ErrRateUnavailable when no
// live, stale or static rate exists for the pair.
func (c *Cache) Convert(ctx context.Context, amount int64, from, to string) (int64, decimal.Decimal, error) {
	pair := NewPair(from, to)
	if pair.Identity() {
		return amount, decimal.NewFromInt(1), nil
	}

	rate, ok := c.lookup(ctx, pair)
	if !ok {
		return 0, decimal.Decimal{}, fmt.Errorf("%w for %s", ErrRateUnavailable, pair)
	}
	return ConvertAt(amount, rate, pair.From, pair.To), rate, nil
}

// ConvertAt applies rate to an amount in minor units, rescaling between the
// two currencies' minor-unit exponents.
func ConvertAt(amount int64, rate decimal.Decimal, from, to string) int64 {
	shift := MinorUnits(to) - MinorUnits(from)
	return decimal.NewFromInt(amount).Mul(rate).Shift(shift).Round(0).IntPart()
}

func (c *Cache) get(pair Pair) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[pair]
	return e, ok
}
