// Package oidc implements the remote identity provider boundary using OpenID
// Connect: issuer discovery, ID-token verification against the provider JWKS,
// and an optional UserInfo path for opaque access tokens.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/docgate/docgate/internal/auth"
	"github.com/docgate/docgate/internal/config"
)

// OIDCVerifier verifies provider-issued credentials against a remote OIDC
// issuer. It implements auth.Verifier: verification failures surface as
// auth.ErrInvalidCredential and transport failures as
// auth.ErrProviderUnavailable, so the resolver can fail closed without
// inspecting provider internals.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	provider *oidc.Provider
	// userInfoFallback retries opaque (non-JWT) access tokens against the
	// issuer's UserInfo endpoint after ID-token verification fails.
	userInfoFallback bool
}

// NewOIDCVerifier initializes the verifier using a background context for the
// discovery request.
func NewOIDCVerifier(cfg *config.OIDCConfig) (*OIDCVerifier, error) {
	return NewOIDCVerifierWithContext(context.Background(), cfg)
}

// NewOIDCVerifierWithContext initializes the verifier with the given context,
// allowing callers to set deadlines or cancellation for the OIDC discovery
// request. Discovery runs once here; a failure is a startup error, not a
// per-request one.
func NewOIDCVerifierWithContext(ctx context.Context, cfg *config.OIDCConfig) (*OIDCVerifier, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}

	if cfg.ClientID == "" {
		return nil, fmt.Errorf("OIDC client ID is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
	})

	return &OIDCVerifier{
		verifier:         verifier,
		provider:         provider,
		userInfoFallback: cfg.UserInfoFallback,
	}, nil
}

// Verify checks rawToken and returns the claims docgate acts on.
//
// The primary path treats rawToken as a signed ID token and verifies it
// against the issuer's published keys. When that fails and the UserInfo
// fallback is enabled, the token is presented as a bearer access token to the
// UserInfo endpoint instead — some providers issue opaque access tokens that
// only the issuer itself can validate.
func (p *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*auth.Claims, error) {
	idToken, err := p.verifier.Verify(ctx, rawToken)
	if err != nil {
		classified := classifyProviderError(err)
		// Only fall back for verification failures; if the issuer is
		// unreachable the UserInfo call would fail the same way.
		if p.userInfoFallback && errors.Is(classified, auth.ErrInvalidCredential) {
			return p.verifyViaUserInfo(ctx, rawToken)
		}
		return nil, classified
	}

	var tokenClaims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&tokenClaims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse ID token claims: %v", auth.ErrInvalidCredential, err)
	}
	if idToken.Subject == "" {
		return nil, fmt.Errorf("%w: ID token missing sub claim", auth.ErrInvalidCredential)
	}

	return &auth.Claims{
		Subject: idToken.Subject,
		Email:   tokenClaims.Email,
		Name:    tokenClaims.Name,
	}, nil
}

// verifyViaUserInfo presents rawToken as a bearer access token to the
// issuer's UserInfo endpoint. The endpoint both validates the token and
// returns the subject's claims in one round trip.
func (p *OIDCVerifier) verifyViaUserInfo(ctx context.Context, rawToken string) (*auth.Claims, error) {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: rawToken,
		TokenType:   "Bearer",
	})

	userInfo, err := p.provider.UserInfo(ctx, tokenSource)
	if err != nil {
		return nil, classifyProviderError(err)
	}
	if userInfo.Subject == "" {
		return nil, fmt.Errorf("%w: UserInfo response missing sub claim", auth.ErrInvalidCredential)
	}

	var infoClaims struct {
		Name string `json:"name"`
	}
	// Name is cosmetic; ignore claim-parsing problems rather than failing
	// an otherwise-verified credential.
	_ = userInfo.Claims(&infoClaims)

	return &auth.Claims{
		Subject: userInfo.Subject,
		Email:   userInfo.Email,
		Name:    infoClaims.Name,
	}, nil
}

// classifyProviderError sorts a go-oidc error into the two kinds the resolver
// distinguishes: transport trouble (issuer unreachable, keyset fetch failed,
// timeout) versus a credential the issuer rejected.
func classifyProviderError(err error) error {
	var urlErr *url.Error
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errors.Join(auth.ErrProviderUnavailable, err)
	case errors.As(err, &urlErr), errors.As(err, &netErr):
		return errors.Join(auth.ErrProviderUnavailable, err)
	}
	return fmt.Errorf("%w: %v", auth.ErrInvalidCredential, err)
}
