// Package models defines the database model types for docgate. Each type
// corresponds to a database table and uses struct tags for both JSON
// serialization and sqlx row scanning. Models are pure data types — business
// logic belongs in the service layer, query logic in the repositories layer.
package models

import (
	"time"

	"github.com/google/uuid"
)

// APIToken is one row of the api_tokens table. The secret itself is never
// stored: secret_hash holds its SHA-256 digest, and that digest is the only
// way a token is ever looked up on the request path.
type APIToken struct {
	TokenID    uuid.UUID  `db:"token_id" json:"token_id"`
	OwnerID    string     `db:"owner_id" json:"owner_id"`
	Name       string     `db:"name" json:"name"`
	SecretHash string     `db:"secret_hash" json:"-"` // Never expose
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	Active     bool       `db:"active" json:"active"`
}

// Expired reports whether the token's lifetime has passed at the given
// instant. Expiry is inclusive: a token whose expires_at equals now is
// already expired, which is what makes a zero TTL mean "invalid immediately".
func (t *APIToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// APITokenInfo is the metadata shape returned by list and create: everything
// a caller may see about a token, which deliberately excludes the hash.
type APITokenInfo struct {
	TokenID    uuid.UUID  `json:"token_id"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Active     bool       `json:"active"`
}

// Info projects the row into its caller-visible metadata.
func (t *APIToken) Info() APITokenInfo {
	return APITokenInfo{
		TokenID:    t.TokenID,
		Name:       t.Name,
		CreatedAt:  t.CreatedAt,
		ExpiresAt:  t.ExpiresAt,
		LastUsedAt: t.LastUsedAt,
		Active:     t.Active,
	}
}

// CreateTokenInput is the request body for minting a new API token.
// TTLDays nil means the configured default; zero is allowed and produces a
// token that is expired from the moment it is created.
type CreateTokenInput struct {
	Name    string `json:"name" binding:"required,max=128"`
	TTLDays *int   `json:"ttl_days,omitempty" binding:"omitempty,min=0,max=3650"`
}

// CreatedTokenResponse is returned exactly once, at creation: the only time
// the plaintext secret leaves the service.
type CreatedTokenResponse struct {
	APITokenInfo
	Token string `json:"token"`
}
