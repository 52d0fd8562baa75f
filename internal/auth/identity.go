package auth

import "context"

// Scheme identifies how a credential was resolved. The scheme decides the
// rate-limit tier and the prefix of the rate-limit key, so its values are
// stable wire-level strings, not free text.
type Scheme string

const (
	// SchemeAPIToken marks identities resolved from a local API token.
	SchemeAPIToken Scheme = "api_token"
	// SchemeProvider marks identities verified by the external identity provider.
	SchemeProvider Scheme = "identity_provider"
)

// Claims carries the subset of provider claims the service acts on.
type Claims struct {
	Subject string
	Email   string
	Name    string
}

// Identity is the resolved caller reference for one request. It is
// constructed per request and never persisted; the ID is an owner ID for
// API tokens and the provider subject otherwise.
type Identity struct {
	ID     string
	Scheme Scheme
	// Claims is set only for provider-resolved identities.
	Claims *Claims
}

// Verifier is the boundary to the external identity provider: it checks a
// provider-issued credential and returns its claims. Implementations
// translate transport failures into ErrProviderUnavailable and verification
// failures into ErrInvalidCredential; no other errors escape.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

// TokenVerifier is the slice of the token service the resolver needs:
// verify a secret, return the owning ID. A miss is ("", nil); an expired
// token is ("", ErrTokenExpired).
type TokenVerifier interface {
	Verify(ctx context.Context, secret string) (string, error)
}
