package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// Cache slot keys. They are shared by every user, so the cache footprint stays
// constant no matter how many customers are served.
const (
	ActiveRulesKey  = "discount_rules:active"
	LoyaltyRulesKey = "discount_rules:loyalty"

	// DefaultCacheTTL bounds how stale a cached rule set may get.
	DefaultCacheTTL = 300 * time.Second
	// DefaultCacheTimeout bounds every call to the cache backend.
	DefaultCacheTimeout = 100 * time.Millisecond
)

// CacheBackend stores lists of rule IDs under string keys. Implementations
// report a miss with ok == false and a nil error.
type CacheBackend interface {
	Get(ctx context.Context, key string) (ids []string, ok bool, err error)
	Set(ctx context.Context, key string, ids []string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Invalidator drops cached rule sets after a rule mutation.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// RuleCache manages the two shared rule ID slots. Every backend failure is
// logged and treated as a miss: the cache is an optimization only.
type RuleCache struct {
	backend CacheBackend
	ttl     time.Duration
	timeout time.Duration
	lg      *zap.Logger

	lookups metric.Int64Counter
}

// CacheOption configures a RuleCache.
type CacheOption func(*RuleCache)

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *RuleCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCacheTimeout overrides DefaultCacheTimeout.
func WithCacheTimeout(timeout time.Duration) CacheOption {
	return func(c *RuleCache) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithCacheLogger sets the logger used to report backend failures.
func WithCacheLogger(lg *zap.Logger) CacheOption {
	return func(c *RuleCache) {
		c.lg = lg
	}
}

// WithCacheMeterProvider records lookup outcomes with the given provider.
func WithCacheMeterProvider(mp metric.MeterProvider) CacheOption {
	return func(c *RuleCache) {
		c.lookups = newLookupCounter(mp)
	}
}

// NewRuleCache creates a RuleCache. A nil backend disables caching: every
// load misses and writes are dropped.
func NewRuleCache(backend CacheBackend, opts ...CacheOption) *RuleCache {
	c := &RuleCache{
		backend: backend,
		ttl:     DefaultCacheTTL,
		timeout: DefaultCacheTimeout,
		lg:      zap.NewNop(),
		lookups: newLookupCounter(noop.NewMeterProvider()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newLookupCounter(mp metric.MeterProvider) metric.Int64Counter {
	counter, err := mp.Meter("kart/discount").Int64Counter("discount.rule_cache.lookups",
		metric.WithDescription("Rule cache lookups by result"),
	)
	if err != nil {
		counter, _ = noop.NewMeterProvider().Meter("kart/discount").Int64Counter("discount.rule_cache.lookups")
	}
	return counter
}

// Load returns the cached active and loyalty-only rule IDs. ok is true only
// when both slots were present.
func (c *RuleCache) Load(ctx context.Context) (active, loyalty []string, ok bool) {
	if c == nil || c.backend == nil {
		return nil, nil, false
	}

	active, ok = c.get(ctx, ActiveRulesKey)
	if ok {
		loyalty, ok = c.get(ctx, LoyaltyRulesKey)
	}

	result := "miss"
	if ok {
		result = "hit"
	}
	c.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	if !ok {
		return nil, nil, false
	}
	return active, loyalty, true
}

func (c *RuleCache) get(ctx context.Context, key string) ([]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ids, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.lg.Warn("Rule cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if ok {
		c.lg.Debug("Rule cache hit", zap.String("key", key))
	} else {
		c.lg.Debug("Rule cache miss", zap.String("key", key))
	}
	return ids, ok
}

// Store populates both slots.
func (c *RuleCache) Store(ctx context.Context, active, loyalty []string) {
	if c == nil || c.backend == nil {
		return
	}
	c.set(ctx, ActiveRulesKey, active)
	c.set(ctx, LoyaltyRulesKey, loyalty)
}

func (c *RuleCache) set(ctx context.Context, key string, ids []string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.backend.Set(ctx, key, ids, c.ttl); err != nil {
		c.lg.Warn("Rule cache write failed", zap.String("key", key), zap.Error(err))
		return
	}
	c.lg.Debug("Rule cache populated",
		zap.String("key", key),
		zap.Int("rules", len(ids)),
		zap.Duration("ttl", c.ttl),
	)
}

// Invalidate deletes both slots. Callers mutating rules must call it before
// reporting success.
func (c *RuleCache) Invalidate(ctx context.Context) error {
	if c == nil || c.backend == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.backend.Delete(ctx, ActiveRulesKey, LoyaltyRulesKey); err != nil {
		return errors.Wrap(err, "delete rule cache")
	}
	c.lg.Info("Discount rule cache invalidated")
	return nil
}
