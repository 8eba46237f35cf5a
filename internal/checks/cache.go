package checks

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-qualifier/internal/metrics"
	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/store"
)

// DefaultCacheTTL is how long a stored domain check result is reused.
const DefaultCacheTTL = 7 * 24 * time.Hour

// Cache serves recent CheckResults from the append-only result log. A hit is
// the most recent stored result for (check type, subject) within the TTL.
type Cache struct {
	store store.CheckStore
	ttls  map[model.CheckType]time.Duration
	now   func() time.Time
}

// NewCache creates a cache over cs. ttls selects which check types are
// cached; nil caches domain_availability for DefaultCacheTTL.
func NewCache(cs store.CheckStore, ttls map[model.CheckType]time.Duration) *Cache {
	if ttls == nil {
		ttls = map[model.CheckType]time.Duration{model.CheckDomainAvailability: DefaultCacheTTL}
	}
	return &Cache{store: cs, ttls: ttls, now: time.Now}
}

// Lookup returns the cached result for (t, subject). The returned details
// are a copy of the stored details plus cached=true and cache_age_hours.
// Results recorded with an error are never served.
func (c *Cache) Lookup(ctx context.Context, t model.CheckType, subject string) (*model.CheckResult, bool) {
	ttl, ok := c.ttls[t]
	if !ok || ttl <= 0 {
		return nil, false
	}

	now := c.now().UTC()
	row, err := c.store.LatestCheck(ctx, t, subject, now.Add(-ttl))
	if err != nil {
		zap.L().Warn("checks: cache lookup failed",
			zap.String("check_type", string(t)),
			zap.String("subject", subject),
			zap.Error(err),
		)
		return nil, false
	}
	if row == nil {
		return nil, false
	}
	// A default verdict written after a failed call is not an answer.
	if _, failed := row.Details["error"]; failed {
		return nil, false
	}

	// Re-recorded hits carry the time of the original external call.
	origin := row.CreatedAt
	if s, ok := row.Details["cached_from"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			origin = t
		}
	}
	if now.Sub(origin) > ttl {
		return nil, false
	}

	details := make(map[string]any, len(row.Details)+3)
	for k, v := range row.Details {
		details[k] = v
	}
	details["cached"] = true
	details["cached_from"] = origin.UTC().Format(time.RFC3339Nano)
	details["cache_age_hours"] = math.Round(now.Sub(origin).Hours()*100) / 100

	hit := *row
	hit.Details = details
	metrics.CheckOutcomes.WithLabelValues(string(t), "cached").Inc()
	return &hit, true
}

// Cached wraps a checker so a cache hit short-circuits the external call.
// The hit is recorded again for the caller so each entity's history holds
// its own row.
func Cached(inner Checker, cache *Cache, cs store.CheckStore) Checker {
	return &cachedChecker{inner: inner, cache: cache, rec: newRecorder(cs)}
}

type cachedChecker struct {
	inner Checker
	cache *Cache
	rec   recorder
}

func (c *cachedChecker) Type() model.CheckType { return c.inner.Type() }

func (c *cachedChecker) Check(ctx context.Context, subject string, hints Hints) Result {
	hit, ok := c.cache.Lookup(ctx, c.inner.Type(), subject)
	if !ok {
		return c.inner.Check(ctx, subject, hints)
	}

	res := Result{Type: hit.CheckType, Passed: hit.Passed, Details: hit.Details}
	c.rec.record(ctx, &res, hit.CheckType, subject, hit.Passed, hit.Details, hints.EntityID)
	if h, ok := c.inner.(hitObserver); ok {
		h.observeHit(ctx, &res, hints)
	}
	return res
}

// hitObserver is implemented by checkers that keep entity flags in sync
// with their verdicts, including verdicts served from cache.
type hitObserver interface {
	observeHit(ctx context.Context, res *Result, hints Hints)
}
