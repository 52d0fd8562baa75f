// ratelimit.go provides Gin middleware that enforces identity-tiered
// fixed-window rate limits, returning 429 responses with retry hints when a
// caller exhausts any of its windows.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docgate/docgate/internal/ratelimit"
)

// RateLimitMiddleware admits or denies requests via the shared limiter.
//
// The tier and counter key derive from the identity resolved by
// OptionalAuthMiddleware: API-token callers get the scaled quota keyed by
// owner, provider-verified callers the authenticated quota keyed by subject,
// and everything else the anonymous quota keyed by client IP. It must
// therefore be registered after OptionalAuthMiddleware.
//
// Every response carries X-RateLimit-Limit and X-RateLimit-Remaining for the
// caller's most constrained window. Denials additionally carry Retry-After
// (seconds, rounded up) and a JSON body with the same hint.
func RateLimitMiddleware(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, _ := IdentityFrom(c)
		key := ratelimit.KeyFor(identity, c.ClientIP())
		tier := ratelimit.TierFor(identity)

		decision := limiter.CheckAndConsume(c.Request.Context(), key, tier)

		c.Header("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))

		if decision.Allowed {
			c.Next()
			return
		}

		retryAfter := int(decision.RetryAfter.Seconds())
		if decision.RetryAfter.Truncate(time.Second) != decision.RetryAfter {
			retryAfter++ // round up so clients never retry early
		}
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))

		body := gin.H{
			"error":               "rate limit exceeded",
			"retry_after_seconds": retryAfter,
		}
		if identity == nil {
			body["message"] = "sign in for higher rate limits"
		}
		c.AbortWithStatusJSON(http.StatusTooManyRequests, body)
	}
}
