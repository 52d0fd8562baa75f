// limiter.go implements the admission check itself: charge all three windows,
// admit only if every post-increment count is within its limit, and compute
// the retry hint from the earliest-resetting exhausted window.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/docgate/docgate/internal/config"
	"github.com/docgate/docgate/internal/telemetry"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// Tier is the quota row that was actually applied; under backend
	// degradation this is TierAnonymous regardless of the caller's identity.
	Tier Tier
	// Limit and Remaining describe the most constrained window, for
	// X-RateLimit response headers.
	Limit     int64
	Remaining int64
	// RetryAfter is how long until the earliest-exhausted window resets.
	// Zero when the request is allowed.
	RetryAfter time.Duration
	// Degraded marks a decision served by the in-process fallback because
	// the counter backend was unreachable.
	Degraded bool
}

// Limiter performs fixed-window admission checks against a CounterStore.
//
// The quota table is swapped atomically on config reload, so in-flight checks
// always see a consistent table and new quotas apply from the next request.
type Limiter struct {
	store    CounterStore
	fallback *MemoryStore
	table    atomic.Pointer[TierTable]
	logger   *slog.Logger
}

// New creates a limiter on the given store. fallback serves requests when
// store fails; it may be the same MemoryStore instance as store in
// single-process deployments.
func New(store CounterStore, fallback *MemoryStore, cfg config.RateLimitConfig) *Limiter {
	l := &Limiter{
		store:    store,
		fallback: fallback,
		logger:   telemetry.Component("ratelimit"),
	}
	l.table.Store(NewTierTable(cfg))
	return l
}

// UpdateQuotas replaces the quota table. Wired to the config watcher so limit
// changes take effect without a restart.
func (l *Limiter) UpdateQuotas(cfg config.RateLimitConfig) {
	l.table.Store(NewTierTable(cfg))
	l.logger.Info("rate limit quotas reloaded",
		"anonymous_per_minute", cfg.Anonymous.PerMinute,
		"authenticated_per_minute", cfg.Authenticated.PerMinute,
		"api_token_multiplier", cfg.APITokenMultiplier,
	)
}

// CheckAndConsume charges one request against the key's three windows and
// decides admission. The charge is applied before the decision and is never
// reverted: a denied request still costs quota, so an immediate retry storm
// cannot probe its way past the limit.
//
// If the counter backend fails, the check degrades to the in-process
// fallback at anonymous quotas — failing open at the lowest tier rather than
// blocking all traffic.
func (l *Limiter) CheckAndConsume(ctx context.Context, key string, tier Tier) Decision {
	table := l.table.Load()

	decision, err := l.consume(ctx, l.store, key, tier, table.Quota(tier))
	if err != nil {
		telemetry.RateLimitDecisionsTotal.WithLabelValues(string(tier), "degraded").Inc()
		l.logger.Warn("counter backend unavailable, degrading to anonymous quotas",
			"key", key, "tier", tier, "error", err)

		decision, err = l.consume(ctx, l.fallback, key, TierAnonymous, table.Quota(TierAnonymous))
		if err != nil {
			// The memory store cannot fail; if it somehow does, admit rather
			// than taking all traffic down with the limiter.
			decision = Decision{Allowed: true, Tier: TierAnonymous}
		}
		decision.Degraded = true
	}

	outcome := "allowed"
	if !decision.Allowed {
		outcome = "denied"
	}
	telemetry.RateLimitDecisionsTotal.WithLabelValues(string(decision.Tier), outcome).Inc()

	return decision
}

// consume charges every window and evaluates the AND of the three limits.
// Windows that are already over limit are still charged: the loop never
// breaks early.
func (l *Limiter) consume(ctx context.Context, store CounterStore, key string, tier Tier, quota Quota) (Decision, error) {
	now := time.Now().UTC()
	decision := Decision{Allowed: true, Tier: tier, Remaining: -1}

	for _, w := range windows {
		limit := quota.limitFor(w.Kind)
		windowStart := now.Truncate(w.Length)

		value, err := store.Incr(ctx, counterKey(key, w.Kind, windowStart), w.Length)
		if err != nil {
			return Decision{}, err
		}

		remaining := limit - value
		if remaining < 0 {
			remaining = 0
		}
		if decision.Remaining < 0 || remaining < decision.Remaining {
			decision.Remaining = remaining
			decision.Limit = limit
		}

		if value > limit {
			decision.Allowed = false
			reset := windowStart.Add(w.Length).Sub(now)
			if decision.RetryAfter == 0 || reset < decision.RetryAfter {
				decision.RetryAfter = reset
			}
		}
	}

	return decision, nil
}

// counterKey names one (key, window kind, window start) counter. The window
// start goes into the key so a counter can never leak across windows even if
// its ttl outlives the window.
func counterKey(key string, kind WindowKind, windowStart time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", key, kind, windowStart.Unix())
}
