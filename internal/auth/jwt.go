// Package auth - jwt.go implements the shared-secret identity provider:
// HS256-signed tokens verified locally, for deployments that mint their own
// user tokens instead of delegating to a remote OIDC issuer.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// jwtProviderClaims is the claim set accepted from shared-secret tokens.
type jwtProviderClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 tokens signed with a shared secret. It is a
// purely local Verifier: it never performs network I/O, so it never reports
// ErrProviderUnavailable.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier constructs a shared-secret verifier. The secret must be at
// least 32 characters; issuer is optional and, when set, must match the
// token's iss claim.
func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters, got %d", len(secret))
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}, nil
}

// Verify parses and validates a shared-secret token and maps its claims.
// Every parse or validation failure — bad signature, wrong algorithm, expiry,
// issuer mismatch, missing subject — reports ErrInvalidCredential; the
// underlying cause is wrapped for logs but callers only branch on the sentinel.
func (v *JWTVerifier) Verify(_ context.Context, rawToken string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims jwtProviderClaims
	token, err := jwt.ParseWithClaims(rawToken, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: token failed validation", ErrInvalidCredential)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token missing sub claim", ErrInvalidCredential)
	}

	return &Claims{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}, nil
}

// IssueToken signs a token for the given subject. Only used by operators and
// tests to mint credentials when running in shared-secret mode; the service
// itself never issues provider tokens on the request path.
func (v *JWTVerifier) IssueToken(subject, email string, claims jwt.RegisteredClaims) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	claims.Subject = subject
	if v.issuer != "" && claims.Issuer == "" {
		claims.Issuer = v.issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtProviderClaims{
		Email:            email,
		RegisteredClaims: claims,
	})
	return token.SignedString(v.secret)
}
