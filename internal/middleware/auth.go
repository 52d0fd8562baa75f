// Package middleware provides Gin HTTP middleware for credential resolution,
// rate limiting, security headers, request IDs, and metrics.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → SecurityHeaders → OptionalAuth → RateLimit → [RequireAuth] → Handler
//
// Security headers run early so they appear on all responses including errors.
// OptionalAuth resolves the credential before rate limiting because the
// rate-limit tier and key derive from the resolved identity; an anonymous or
// failed resolution is still admitted against the anonymous tier. RequireAuth
// is added only on groups that cannot serve anonymous traffic and turns a
// recorded resolution failure into a 401.
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docgate/docgate/internal/auth"
)

const (
	// IdentityKey is the gin.Context key holding the resolved *auth.Identity.
	// Absent when the request is anonymous.
	IdentityKey = "identity"

	// AuthErrorKey is the gin.Context key holding the resolution error for a
	// request that presented a credential that did not resolve. RequireAuth
	// reads it to answer 401 with the precise cause.
	AuthErrorKey = "auth_error"
)

// OptionalAuthMiddleware resolves the request's bearer credential, if one is
// offered, and stores the outcome in the Gin context. It never rejects:
// anonymous requests and failed resolutions both continue down the chain so
// anonymous-capable routes stay reachable and the rate limiter can still key
// the request by IP.
//
// Resolution happens exactly once per request. A failure is recorded under
// AuthErrorKey rather than re-derived later, because verifying an expired
// token deactivates it as a side effect — a second resolution would see an
// inactive row and misreport the expiry as a plain invalid credential.
func OptionalAuthMiddleware(resolver *auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		credential, err := auth.ExtractBearerToken(header)
		if err != nil {
			// A malformed header is a presented-but-unusable credential.
			c.Set(AuthErrorKey, auth.ErrInvalidCredential)
			c.Next()
			return
		}

		identity, err := resolver.Resolve(c.Request.Context(), credential, auth.ModeRequired)
		if err != nil {
			c.Set(AuthErrorKey, err)
			c.Next()
			return
		}

		c.Set(IdentityKey, identity)
		c.Next()
	}
}

// RequireAuthMiddleware rejects requests that did not resolve to an identity.
// It must run after OptionalAuthMiddleware, which does the actual resolution.
//
// The 401 body carries a machine-readable code so callers can tell an expired
// API token (mint a new one) from a bad credential (fix the header).
func RequireAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := IdentityFrom(c); ok {
			c.Next()
			return
		}

		code := "invalid_credential"
		message := "authentication required"
		if err, exists := c.Get(AuthErrorKey); exists {
			if resolveErr, ok := err.(error); ok && errors.Is(resolveErr, auth.ErrTokenExpired) {
				code = "token_expired"
				message = "token is expired"
			} else {
				message = "invalid credentials"
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": message,
			"code":  code,
		})
	}
}

// IdentityFrom returns the resolved identity stored by OptionalAuthMiddleware,
// or ok=false for anonymous requests.
func IdentityFrom(c *gin.Context) (*auth.Identity, bool) {
	v, exists := c.Get(IdentityKey)
	if !exists {
		return nil, false
	}
	identity, ok := v.(*auth.Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
