// Package tokens implements the API token lifecycle: minting with per-owner
// quotas, verification by secret digest with lazy expiry, owner-scoped
// listing and revocation, and purging of long-inactive rows. The plaintext
// secret exists only inside Create's return value; everything else operates
// on the digest.
package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docgate/docgate/internal/auth"
	"github.com/docgate/docgate/internal/config"
	"github.com/docgate/docgate/internal/db/models"
	"github.com/docgate/docgate/internal/db/repositories"
	"github.com/docgate/docgate/internal/safego"
	"github.com/docgate/docgate/internal/telemetry"
)

// touchTimeout bounds the detached last_used_at write so a slow database
// cannot accumulate stuck goroutines behind the request path.
const touchTimeout = 5 * time.Second

// Service coordinates token lifecycle operations on top of the repository.
// It implements auth.TokenVerifier for the resolver.
type Service struct {
	repo   *repositories.TokenRepository
	cfg    config.TokenConfig
	logger *slog.Logger
}

// NewService creates a token service with the given issuance policy.
func NewService(repo *repositories.TokenRepository, cfg config.TokenConfig) *Service {
	return &Service{
		repo:   repo,
		cfg:    cfg,
		logger: telemetry.Component("tokens"),
	}
}

// Create mints a new API token for ownerID. ttlDays nil applies the
// configured default; an explicit zero produces a token that is expired on
// arrival, which is occasionally useful for smoke-testing clients.
//
// The quota check and the insert are deliberately not transactional: a
// concurrent burst of creates can briefly overshoot the cap, and that is
// acceptable where serializing all creates per owner is not.
func (s *Service) Create(ctx context.Context, ownerID, name string, ttlDays *int) (*models.CreatedTokenResponse, error) {
	count, err := s.repo.CountActiveByOwner(ctx, ownerID)
	if err != nil {
		telemetry.TokenOperationsTotal.WithLabelValues("create", "error").Inc()
		return nil, fmt.Errorf("failed to count active tokens: %w", err)
	}
	if count >= s.cfg.MaxPerOwner {
		telemetry.TokenOperationsTotal.WithLabelValues("create", "quota_exceeded").Inc()
		return nil, fmt.Errorf("%w: %d active tokens, limit %d", auth.ErrQuotaExceeded, count, s.cfg.MaxPerOwner)
	}

	secret, digest, err := auth.GenerateTokenSecret(s.cfg.Prefix, s.cfg.SecretBytes)
	if err != nil {
		telemetry.TokenOperationsTotal.WithLabelValues("create", "error").Inc()
		return nil, fmt.Errorf("failed to generate token secret: %w", err)
	}

	days := s.cfg.DefaultTTLDays
	if ttlDays != nil {
		days = *ttlDays
	}

	now := time.Now().UTC()
	token := &models.APIToken{
		TokenID:    uuid.New(),
		OwnerID:    ownerID,
		Name:       name,
		SecretHash: digest,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Duration(days) * 24 * time.Hour),
		Active:     true,
	}

	if err := s.repo.Insert(ctx, token); err != nil {
		telemetry.TokenOperationsTotal.WithLabelValues("create", "error").Inc()
		return nil, fmt.Errorf("failed to persist token: %w", err)
	}

	telemetry.TokenOperationsTotal.WithLabelValues("create", "ok").Inc()
	s.logger.Info("api token created",
		"owner_id", ownerID,
		"token_id", token.TokenID,
		"expires_at", token.ExpiresAt,
	)

	return &models.CreatedTokenResponse{
		APITokenInfo: token.Info(),
		Token:        secret,
	}, nil
}

// Verify resolves a plaintext secret to its owner. The lookup is always by
// digest: token IDs are public and enumerable, so they are never accepted as
// a credential.
//
// A miss and an inactive token both return ("", nil). An active token past
// its expiry is flipped to inactive as a side effect and reported as
// auth.ErrTokenExpired. On success the last_used_at stamp is written off the
// request path; losing that write costs nothing but freshness.
func (s *Service) Verify(ctx context.Context, secret string) (string, error) {
	token, err := s.repo.GetBySecretHash(ctx, auth.DigestSecret(secret))
	if err != nil {
		telemetry.TokenOperationsTotal.WithLabelValues("verify", "error").Inc()
		return "", fmt.Errorf("failed to look up token: %w", err)
	}
	if token == nil || !token.Active {
		telemetry.TokenOperationsTotal.WithLabelValues("verify", "miss").Inc()
		return "", nil
	}

	if token.Expired(time.Now().UTC()) {
		if err := s.repo.DeactivateExpired(ctx, token.TokenID); err != nil {
			s.logger.Error("failed to flip expired token inactive",
				"token_id", token.TokenID, "error", err)
		}
		telemetry.TokenOperationsTotal.WithLabelValues("verify", "expired").Inc()
		return "", auth.ErrTokenExpired
	}

	s.touchLastUsed(token.TokenID)

	telemetry.TokenOperationsTotal.WithLabelValues("verify", "ok").Inc()
	return token.OwnerID, nil
}

// touchLastUsed stamps the token off the request path. The write gets its
// own context: the request context is typically cancelled the moment the
// handler returns.
func (s *Service) touchLastUsed(tokenID uuid.UUID) {
	usedAt := time.Now().UTC()
	safego.Go("tokens.touch-last-used", func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := s.repo.TouchLastUsed(ctx, tokenID, usedAt); err != nil {
			s.logger.Warn("failed to update last_used_at", "token_id", tokenID, "error", err)
		}
	})
}

// List returns the owner's tokens, newest-created first. Only metadata:
// neither secrets nor digests ever leave the service.
func (s *Service) List(ctx context.Context, ownerID string) ([]models.APITokenInfo, error) {
	tokens, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		telemetry.TokenOperationsTotal.WithLabelValues("list", "error").Inc()
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}

	infos := make([]models.APITokenInfo, 0, len(tokens))
	for _, token := range tokens {
		infos = append(infos, token.Info())
	}

	telemetry.TokenOperationsTotal.WithLabelValues("list", "ok").Inc()
	return infos, nil
}

// Revoke deactivates one of the owner's active tokens. Revoking a token that
// does not exist, is already inactive, or belongs to someone else reports
// auth.ErrTokenNotFound; the three cases are deliberately indistinguishable
// so the endpoint cannot be used to probe other owners' token IDs.
func (s *Service) Revoke(ctx context.Context, ownerID string, tokenID uuid.UUID) error {
	revoked, err := s.repo.Deactivate(ctx, ownerID, tokenID)
	if err != nil {
		telemetry.TokenOperationsTotal.WithLabelValues("revoke", "error").Inc()
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	if !revoked {
		telemetry.TokenOperationsTotal.WithLabelValues("revoke", "not_found").Inc()
		return auth.ErrTokenNotFound
	}

	telemetry.TokenOperationsTotal.WithLabelValues("revoke", "ok").Inc()
	s.logger.Info("api token revoked", "owner_id", ownerID, "token_id", tokenID)
	return nil
}

// RevokeAll deactivates every active token the owner holds and returns the
// count. Idempotent: a second call returns zero.
func (s *Service) RevokeAll(ctx context.Context, ownerID string) (int64, error) {
	count, err := s.repo.DeactivateAllForOwner(ctx, ownerID)
	if err != nil {
		telemetry.TokenOperationsTotal.WithLabelValues("revoke_all", "error").Inc()
		return 0, fmt.Errorf("failed to revoke tokens: %w", err)
	}

	telemetry.TokenOperationsTotal.WithLabelValues("revoke_all", "ok").Inc()
	if count > 0 {
		s.logger.Info("all api tokens revoked", "owner_id", ownerID, "count", count)
	}
	return count, nil
}

// PurgeExpired deletes inactive rows whose expiry passed more than retention
// ago and returns how many were removed.
func (s *Service) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	count, err := s.repo.PurgeInactive(ctx, cutoff)
	if err != nil {
		telemetry.TokenOperationsTotal.WithLabelValues("purge", "error").Inc()
		return 0, fmt.Errorf("failed to purge tokens: %w", err)
	}

	telemetry.TokenOperationsTotal.WithLabelValues("purge", "ok").Inc()
	telemetry.TokensPurgedTotal.Add(float64(count))
	return count, nil
}
