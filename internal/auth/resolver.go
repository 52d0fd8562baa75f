package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/docgate/docgate/internal/telemetry"
)

// Mode controls how resolution failures surface.
type Mode string

const (
	// ModeRequired propagates failures as errors; the request cannot proceed
	// without an identity.
	ModeRequired Mode = "required"
	// ModeOptional converts every failure into "no identity" so anonymous
	// access is preserved.
	ModeOptional Mode = "optional"
)

// Resolver turns a raw bearer credential into an Identity.
//
// Resolution order is fixed: the local token store is always consulted first,
// and a hit short-circuits — the identity provider is never called for a
// credential that matched an API token. Only credentials unknown to the store
// are handed to the provider. The order must not vary because the rate-limit
// tier and key derive from the winning scheme.
type Resolver struct {
	tokens   TokenVerifier
	provider Verifier // nil when no provider is configured

	// providerTimeout bounds each verification call; a provider that hangs is
	// treated as unavailable, not waited on.
	providerTimeout time.Duration
	// sem bounds concurrent in-flight provider verifications so a slow
	// provider cannot pile up goroutines under load.
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewResolver constructs a resolver. provider may be nil, in which case only
// API tokens authenticate. maxConcurrent bounds simultaneous provider calls.
func NewResolver(tokens TokenVerifier, provider Verifier, providerTimeout time.Duration, maxConcurrent int64) *Resolver {
	if providerTimeout <= 0 {
		providerTimeout = 5 * time.Second
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Resolver{
		tokens:          tokens,
		provider:        provider,
		providerTimeout: providerTimeout,
		sem:             semaphore.NewWeighted(maxConcurrent),
		logger:          telemetry.Component("resolver"),
	}
}

// Resolve resolves rawCredential into an Identity.
//
// In ModeRequired, failures return ErrInvalidCredential or ErrTokenExpired —
// never ErrProviderUnavailable: an unreachable provider fails closed because
// trust cannot be assumed from an unverifiable claim. The real cause is
// logged and counted before being collapsed.
//
// In ModeOptional, every failure returns (nil, nil) so the caller can proceed
// anonymously.
func (r *Resolver) Resolve(ctx context.Context, rawCredential string, mode Mode) (*Identity, error) {
	raw := strings.TrimSpace(rawCredential)
	if raw == "" {
		if mode == ModeOptional {
			telemetry.AuthResolutionsTotal.WithLabelValues("none", "anonymous").Inc()
			return nil, nil
		}
		telemetry.AuthResolutionsTotal.WithLabelValues("none", "invalid_credential").Inc()
		return nil, ErrInvalidCredential
	}

	// Step 1: local token store. Lookup is by secret digest, so an unknown
	// provider token costs one indexed read and misses cleanly.
	owner, err := r.tokens.Verify(ctx, raw)
	switch {
	case err != nil && errors.Is(err, ErrTokenExpired):
		telemetry.AuthResolutionsTotal.WithLabelValues(string(SchemeAPIToken), "token_expired").Inc()
		return r.fail(mode, ErrTokenExpired)
	case err != nil:
		// A storage fault is treated like a miss so provider credentials can
		// still resolve; API tokens fail closed until the store recovers.
		r.logger.Error("token store lookup failed, continuing to provider", "error", err)
	case owner != "":
		telemetry.AuthResolutionsTotal.WithLabelValues(string(SchemeAPIToken), "ok").Inc()
		return &Identity{ID: owner, Scheme: SchemeAPIToken}, nil
	}

	// Step 2: identity provider, if one is configured.
	if r.provider == nil {
		telemetry.AuthResolutionsTotal.WithLabelValues("none", "invalid_credential").Inc()
		return r.fail(mode, ErrInvalidCredential)
	}

	claims, err := r.verifyWithProvider(ctx, raw)
	if err != nil {
		if errors.Is(err, ErrProviderUnavailable) {
			telemetry.AuthResolutionsTotal.WithLabelValues(string(SchemeProvider), "provider_unavailable").Inc()
			r.logger.Warn("identity provider unavailable, failing closed", "error", err)
			return r.fail(mode, ErrInvalidCredential)
		}
		telemetry.AuthResolutionsTotal.WithLabelValues(string(SchemeProvider), "invalid_credential").Inc()
		return r.fail(mode, ErrInvalidCredential)
	}

	telemetry.AuthResolutionsTotal.WithLabelValues(string(SchemeProvider), "ok").Inc()
	return &Identity{ID: claims.Subject, Scheme: SchemeProvider, Claims: claims}, nil
}

// verifyWithProvider runs one provider verification under the concurrency
// bound and per-call timeout, normalising context errors to
// ErrProviderUnavailable.
func (r *Resolver) verifyWithProvider(ctx context.Context, raw string) (*Claims, error) {
	start := time.Now()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		telemetry.ProviderVerifyDuration.WithLabelValues("unavailable").Observe(time.Since(start).Seconds())
		return nil, errors.Join(ErrProviderUnavailable, err)
	}
	defer r.sem.Release(1)

	vctx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	defer cancel()

	claims, err := r.provider.Verify(vctx, raw)

	outcome := "ok"
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			err = errors.Join(ErrProviderUnavailable, err)
		}
		if errors.Is(err, ErrProviderUnavailable) {
			outcome = "unavailable"
		} else {
			outcome = "invalid"
		}
	}
	telemetry.ProviderVerifyDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	return claims, err
}

// fail maps a resolution failure according to mode: required propagates,
// optional degrades to no identity.
func (r *Resolver) fail(mode Mode, err error) (*Identity, error) {
	if mode == ModeOptional {
		return nil, nil
	}
	return nil, err
}
