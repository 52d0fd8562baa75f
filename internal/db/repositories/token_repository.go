// token_repository.go implements TokenRepository, providing database queries
// for API token lookup by secret digest, creation, owner-scoped revocation,
// lazy expiry flips, and purging of long-inactive rows.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/docgate/docgate/internal/db/models"
)

// TokenRepository handles api_tokens table operations. It enforces the
// ownership rule at the SQL layer: every mutation of a specific token keys on
// (owner_id, token_id), so a caller can never touch another owner's rows no
// matter what the layers above pass in.
type TokenRepository struct {
	db *sqlx.DB
}

// NewTokenRepository creates a new TokenRepository
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Insert persists a freshly minted token row.
func (r *TokenRepository) Insert(ctx context.Context, token *models.APIToken) error {
	query := `
		INSERT INTO api_tokens (token_id, owner_id, name, secret_hash, created_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		token.TokenID,
		token.OwnerID,
		token.Name,
		token.SecretHash,
		token.CreatedAt,
		token.ExpiresAt,
		token.Active,
	)
	return err
}

// GetBySecretHash retrieves a token by its secret digest (for verification).
// Returns (nil, nil) when no row matches so callers can treat an unknown
// credential as a plain miss.
func (r *TokenRepository) GetBySecretHash(ctx context.Context, secretHash string) (*models.APIToken, error) {
	query := `
		SELECT token_id, owner_id, name, secret_hash, created_at, expires_at, last_used_at, active
		FROM api_tokens
		WHERE secret_hash = $1
	`
	token := &models.APIToken{}
	err := r.db.GetContext(ctx, token, query, secretHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

// CountActiveByOwner returns how many active tokens an owner currently holds,
// for quota enforcement at creation time.
func (r *TokenRepository) CountActiveByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM api_tokens WHERE owner_id = $1 AND active = TRUE`
	err := r.db.GetContext(ctx, &count, query, ownerID)
	return count, err
}

// ListByOwner retrieves all of an owner's tokens, newest-created first.
// Inactive rows are included so revoked and expired tokens stay visible
// until the purge job removes them.
func (r *TokenRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.APIToken, error) {
	query := `
		SELECT token_id, owner_id, name, secret_hash, created_at, expires_at, last_used_at, active
		FROM api_tokens
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`
	tokens := make([]*models.APIToken, 0)
	if err := r.db.SelectContext(ctx, &tokens, query, ownerID); err != nil {
		return nil, err
	}
	return tokens, nil
}

// Deactivate revokes a single token. The active = TRUE guard makes the flip
// terminal and idempotent: revoking an already-inactive token reports false
// rather than rewriting the row.
func (r *TokenRepository) Deactivate(ctx context.Context, ownerID string, tokenID uuid.UUID) (bool, error) {
	query := `
		UPDATE api_tokens
		SET active = FALSE
		WHERE token_id = $1 AND owner_id = $2 AND active = TRUE
	`
	result, err := r.db.ExecContext(ctx, query, tokenID, ownerID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DeactivateAllForOwner revokes every active token the owner holds and
// returns how many were flipped. A second call returns zero.
func (r *TokenRepository) DeactivateAllForOwner(ctx context.Context, ownerID string) (int64, error) {
	query := `
		UPDATE api_tokens
		SET active = FALSE
		WHERE owner_id = $1 AND active = TRUE
	`
	result, err := r.db.ExecContext(ctx, query, ownerID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeactivateExpired records a lazily detected expiry. The active = TRUE guard
// keeps the write race-safe: concurrent verifications of the same expired
// token all observe expiry, but only one update lands.
func (r *TokenRepository) DeactivateExpired(ctx context.Context, tokenID uuid.UUID) error {
	query := `
		UPDATE api_tokens
		SET active = FALSE
		WHERE token_id = $1 AND active = TRUE
	`
	_, err := r.db.ExecContext(ctx, query, tokenID)
	return err
}

// TouchLastUsed updates the last_used_at timestamp after a successful
// verification. Best effort: the caller fires it off the request path.
func (r *TokenRepository) TouchLastUsed(ctx context.Context, tokenID uuid.UUID, usedAt time.Time) error {
	query := `UPDATE api_tokens SET last_used_at = $2 WHERE token_id = $1`
	_, err := r.db.ExecContext(ctx, query, tokenID, usedAt)
	return err
}

// PurgeInactive deletes inactive rows whose expiry passed before the cutoff
// and returns how many were removed. Only rows already inactive are touched,
// so the purge can run concurrently with every other operation.
func (r *TokenRepository) PurgeInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM api_tokens
		WHERE active = FALSE AND expires_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
