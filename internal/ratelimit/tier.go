// Package ratelimit implements fixed-window admission control keyed on
// resolved identity. Every request charges three counters at once (minute,
// hour, day) and is admitted only when all three are under their tier's
// limit. Counters live in Redis when available, with an in-process fallback
// that degrades gracefully to the anonymous tier when the backend is down.
package ratelimit

import (
	"time"

	"github.com/docgate/docgate/internal/auth"
	"github.com/docgate/docgate/internal/config"
)

// Tier is the trust level that selects a quota row. Values are label-safe
// strings because they flow into metrics and counter keys.
type Tier string

const (
	// TierAnonymous applies to requests with no resolved identity, keyed by IP.
	TierAnonymous Tier = "anonymous"
	// TierAuthenticated applies to provider-verified identities.
	TierAuthenticated Tier = "authenticated"
	// TierAPIToken applies to API-token callers, the highest quotas.
	TierAPIToken Tier = "api_token"
)

// TierFor maps a resolved identity to its admission tier. A nil identity is
// anonymous.
func TierFor(identity *auth.Identity) Tier {
	if identity == nil {
		return TierAnonymous
	}
	switch identity.Scheme {
	case auth.SchemeAPIToken:
		return TierAPIToken
	case auth.SchemeProvider:
		return TierAuthenticated
	}
	return TierAnonymous
}

// KeyFor derives the admission key for a request. The most specific identity
// always wins: api_token:<id>, then identity_provider:<id>, then ip:<addr>.
// An identity with an unknown scheme degrades to the IP key rather than
// failing the request.
func KeyFor(identity *auth.Identity, clientIP string) string {
	if identity != nil && identity.ID != "" {
		switch identity.Scheme {
		case auth.SchemeAPIToken:
			return "api_token:" + identity.ID
		case auth.SchemeProvider:
			return "identity_provider:" + identity.ID
		}
	}
	return "ip:" + clientIP
}

// WindowKind names one of the three simultaneously enforced windows.
type WindowKind string

const (
	WindowMinute WindowKind = "minute"
	WindowHour   WindowKind = "hour"
	WindowDay    WindowKind = "day"
)

// window pairs a kind with its fixed length.
type window struct {
	Kind   WindowKind
	Length time.Duration
}

// windows is ordered shortest first so the minute window is the tie-breaker
// when two windows are equally constrained.
var windows = [3]window{
	{WindowMinute, time.Minute},
	{WindowHour, time.Hour},
	{WindowDay, 24 * time.Hour},
}

// Quota is one tier's allowance per window kind.
type Quota struct {
	PerMinute int64
	PerHour   int64
	PerDay    int64
}

func (q Quota) limitFor(kind WindowKind) int64 {
	switch kind {
	case WindowMinute:
		return q.PerMinute
	case WindowHour:
		return q.PerHour
	default:
		return q.PerDay
	}
}

// TierTable maps tiers to quotas. Tables are immutable once built; quota
// reloads swap in a whole new table.
type TierTable struct {
	anonymous     Quota
	authenticated Quota
	apiToken      Quota
}

// NewTierTable builds the quota table from configuration. The api_token tier
// is derived: authenticated quotas scaled by the configured multiplier.
func NewTierTable(cfg config.RateLimitConfig) *TierTable {
	multiplier := int64(cfg.APITokenMultiplier)
	if multiplier < 1 {
		multiplier = 1
	}
	authenticated := Quota{
		PerMinute: int64(cfg.Authenticated.PerMinute),
		PerHour:   int64(cfg.Authenticated.PerHour),
		PerDay:    int64(cfg.Authenticated.PerDay),
	}
	return &TierTable{
		anonymous: Quota{
			PerMinute: int64(cfg.Anonymous.PerMinute),
			PerHour:   int64(cfg.Anonymous.PerHour),
			PerDay:    int64(cfg.Anonymous.PerDay),
		},
		authenticated: authenticated,
		apiToken: Quota{
			PerMinute: authenticated.PerMinute * multiplier,
			PerHour:   authenticated.PerHour * multiplier,
			PerDay:    authenticated.PerDay * multiplier,
		},
	}
}

// Quota returns the tier's allowance.
func (t *TierTable) Quota(tier Tier) Quota {
	switch tier {
	case TierAPIToken:
		return t.apiToken
	case TierAuthenticated:
		return t.authenticated
	default:
		return t.anonymous
	}
}
