// Package tokens implements the token-management HTTP surface: the
// self-service endpoints through which an authenticated caller mints, lists,
// and revokes their own API tokens, plus the whoami endpoint that echoes the
// resolved identity. Every route in this package sits behind RequireAuth; the
// owner of every operation is the resolved identity, never a request field.
package tokens

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/docgate/docgate/internal/auth"
	"github.com/docgate/docgate/internal/config"
	"github.com/docgate/docgate/internal/db/models"
	"github.com/docgate/docgate/internal/middleware"
	"github.com/docgate/docgate/internal/telemetry"
)

// Service is the slice of the token service the handlers need. The concrete
// implementation is internal/tokens.Service.
type Service interface {
	Create(ctx context.Context, ownerID, name string, ttlDays *int) (*models.CreatedTokenResponse, error)
	List(ctx context.Context, ownerID string) ([]models.APITokenInfo, error)
	Revoke(ctx context.Context, ownerID string, tokenID uuid.UUID) error
	RevokeAll(ctx context.Context, ownerID string) (int64, error)
}

// Handlers serves the /api/v1/auth token-management routes.
type Handlers struct {
	service Service
	cfg     config.TokenConfig
	logger  *slog.Logger
}

// NewHandlers creates the token-management handlers.
func NewHandlers(service Service, cfg config.TokenConfig) *Handlers {
	return &Handlers{
		service: service,
		cfg:     cfg,
		logger:  telemetry.Component("api.tokens"),
	}
}

// owner extracts the resolved identity's ID. The RequireAuth middleware
// guarantees an identity is present on these routes; the guard here only
// protects against a misregistered route.
func owner(c *gin.Context) (string, bool) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "authentication required",
			"code":  "invalid_credential",
		})
		return "", false
	}
	return identity.ID, true
}

// CreateTokenHandler mints a new API token for the caller.
//
// POST /api/v1/auth/tokens
//
// The response is the only time the plaintext secret is ever returned; it is
// not recoverable afterwards. 409 with code quota_exceeded when the caller
// already holds the maximum number of active tokens.
func (h *Handlers) CreateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := owner(c)
		if !ok {
			return
		}

		var input models.CreateTokenInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "invalid request body: " + err.Error(),
				"code":  "invalid_request",
			})
			return
		}

		created, err := h.service.Create(c.Request.Context(), ownerID, input.Name, input.TTLDays)
		if err != nil {
			if errors.Is(err, auth.ErrQuotaExceeded) {
				c.JSON(http.StatusConflict, gin.H{
					"error": "active token limit reached; revoke an existing token first",
					"code":  "quota_exceeded",
					"limit": h.cfg.MaxPerOwner,
				})
				return
			}
			h.logger.Error("token creation failed", "owner_id", ownerID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create token"})
			return
		}

		c.JSON(http.StatusCreated, created)
	}
}

// ListTokensHandler returns the caller's tokens, newest first. Secrets and
// digests are never included; a lost secret means minting a new token.
//
// GET /api/v1/auth/tokens
func (h *Handlers) ListTokensHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := owner(c)
		if !ok {
			return
		}

		infos, err := h.service.List(c.Request.Context(), ownerID)
		if err != nil {
			h.logger.Error("token listing failed", "owner_id", ownerID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tokens"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"tokens": infos,
			"count":  len(infos),
		})
	}
}

// RevokeTokenHandler revokes one of the caller's tokens by ID.
//
// DELETE /api/v1/auth/tokens/:id
//
// 404 covers a token that does not exist, is already revoked, or belongs to
// another owner; the cases are not distinguished so token IDs cannot be
// probed across owners.
func (h *Handlers) RevokeTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := owner(c)
		if !ok {
			return
		}

		tokenID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "token not found",
				"code":  "not_found",
			})
			return
		}

		if err := h.service.Revoke(c.Request.Context(), ownerID, tokenID); err != nil {
			if errors.Is(err, auth.ErrTokenNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error": "token not found",
					"code":  "not_found",
				})
				return
			}
			h.logger.Error("token revocation failed", "owner_id", ownerID, "token_id", tokenID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke token"})
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// RevokeAllTokensHandler revokes every active token the caller holds and
// reports how many were revoked. Idempotent: a caller with no active tokens
// gets {"revoked": 0}, not an error.
//
// DELETE /api/v1/auth/tokens
func (h *Handlers) RevokeAllTokensHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := owner(c)
		if !ok {
			return
		}

		count, err := h.service.RevokeAll(c.Request.Context(), ownerID)
		if err != nil {
			h.logger.Error("bulk token revocation failed", "owner_id", ownerID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke tokens"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"revoked": count})
	}
}

// WhoamiHandler echoes the resolved identity: which ID the credential mapped
// to and through which scheme. Useful for clients to confirm which of the two
// bearer shapes actually authenticated them.
//
// GET /api/v1/auth/whoami
func (h *Handlers) WhoamiHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := middleware.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
				"code":  "invalid_credential",
			})
			return
		}

		body := gin.H{
			"id":     identity.ID,
			"scheme": string(identity.Scheme),
		}
		if identity.Claims != nil && identity.Claims.Email != "" {
			body["email"] = identity.Claims.Email
		}
		c.JSON(http.StatusOK, body)
	}
}
