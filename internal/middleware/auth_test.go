package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docgate/docgate/internal/auth"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// stubTokens is a canned auth.TokenVerifier.
type stubTokens struct {
	owner string
	err   error
}

func (s stubTokens) Verify(context.Context, string) (string, error) {
	return s.owner, s.err
}

// stubProvider is a canned auth.Verifier.
type stubProvider struct {
	claims *auth.Claims
	err    error
}

func (s stubProvider) Verify(context.Context, string) (*auth.Claims, error) {
	return s.claims, s.err
}

// newAuthRouter wires the resolution middleware the way router.go does: every
// route resolves optionally, /protected additionally requires an identity.
func newAuthRouter(resolver *auth.Resolver) *gin.Engine {
	r := gin.New()
	r.Use(OptionalAuthMiddleware(resolver))
	r.GET("/open", func(c *gin.Context) {
		if identity, ok := IdentityFrom(c); ok {
			c.JSON(http.StatusOK, gin.H{"id": identity.ID, "scheme": string(identity.Scheme)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"anonymous": true})
	})
	protected := r.Group("/protected")
	protected.Use(RequireAuthMiddleware())
	protected.GET("", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func serve(r *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func serveProtected(r *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response body is not JSON: %v (body %q)", err, w.Body.String())
	}
	return body
}

// ---------------------------------------------------------------------------
// OptionalAuthMiddleware tests
// ---------------------------------------------------------------------------

func TestOptionalAuthMiddleware_NoCredentialIsAnonymous(t *testing.T) {
	resolver := auth.NewResolver(stubTokens{}, nil, time.Second, 4)
	w := serve(newAuthRouter(resolver), "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := decodeBody(t, w); body["anonymous"] != true {
		t.Errorf("body = %v, want anonymous", body)
	}
}

func TestOptionalAuthMiddleware_ResolvesTokenIdentity(t *testing.T) {
	resolver := auth.NewResolver(stubTokens{owner: "owner-1"}, nil, time.Second, 4)
	w := serve(newAuthRouter(resolver), "Bearer dg_sometoken")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["id"] != "owner-1" || body["scheme"] != "api_token" {
		t.Errorf("body = %v, want owner-1/api_token", body)
	}
}

func TestOptionalAuthMiddleware_ResolvesProviderIdentity(t *testing.T) {
	provider := stubProvider{claims: &auth.Claims{Subject: "user-42", Email: "u@example.com"}}
	resolver := auth.NewResolver(stubTokens{}, provider, time.Second, 4)
	w := serve(newAuthRouter(resolver), "Bearer eyJhbGciOi.provider.token")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["id"] != "user-42" || body["scheme"] != "identity_provider" {
		t.Errorf("body = %v, want user-42/identity_provider", body)
	}
}

func TestOptionalAuthMiddleware_FailedResolutionContinues(t *testing.T) {
	// Unresolvable credential: open routes stay reachable, anonymously.
	resolver := auth.NewResolver(stubTokens{}, nil, time.Second, 4)
	w := serve(newAuthRouter(resolver), "Bearer unknowntoken")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := decodeBody(t, w); body["anonymous"] != true {
		t.Errorf("body = %v, want anonymous", body)
	}
}

func TestOptionalAuthMiddleware_MalformedHeaderContinues(t *testing.T) {
	resolver := auth.NewResolver(stubTokens{owner: "owner-1"}, nil, time.Second, 4)
	w := serve(newAuthRouter(resolver), "Basic dXNlcjpwYXNz")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := decodeBody(t, w); body["anonymous"] != true {
		t.Errorf("body = %v, want anonymous (malformed header must not authenticate)", body)
	}
}

// ---------------------------------------------------------------------------
// RequireAuthMiddleware tests
// ---------------------------------------------------------------------------

func TestRequireAuthMiddleware_AllowsResolvedIdentity(t *testing.T) {
	resolver := auth.NewResolver(stubTokens{owner: "owner-1"}, nil, time.Second, 4)
	w := serveProtected(newAuthRouter(resolver), "Bearer dg_sometoken")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestRequireAuthMiddleware_MissingCredential(t *testing.T) {
	resolver := auth.NewResolver(stubTokens{}, nil, time.Second, 4)
	w := serveProtected(newAuthRouter(resolver), "")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "invalid_credential" {
		t.Errorf("code = %v, want invalid_credential", body["code"])
	}
}

func TestRequireAuthMiddleware_InvalidCredential(t *testing.T) {
	resolver := auth.NewResolver(stubTokens{}, nil, time.Second, 4)
	w := serveProtected(newAuthRouter(resolver), "Bearer nosuchtoken")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "invalid_credential" {
		t.Errorf("code = %v, want invalid_credential", body["code"])
	}
}

func TestRequireAuthMiddleware_ExpiredTokenIsDistinguished(t *testing.T) {
	resolver := auth.NewResolver(stubTokens{err: auth.ErrTokenExpired}, nil, time.Second, 4)
	w := serveProtected(newAuthRouter(resolver), "Bearer dg_wasvalidonce")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "token_expired" {
		t.Errorf("code = %v, want token_expired", body["code"])
	}
}

func TestRequireAuthMiddleware_MalformedHeader(t *testing.T) {
	resolver := auth.NewResolver(stubTokens{owner: "owner-1"}, nil, time.Second, 4)
	w := serveProtected(newAuthRouter(resolver), "Bearer")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "invalid_credential" {
		t.Errorf("code = %v, want invalid_credential", body["code"])
	}
}

func TestIdentityFrom_AbsentAndWrongType(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if _, ok := IdentityFrom(c); ok {
		t.Error("IdentityFrom on empty context should report absent")
	}

	c.Set(IdentityKey, "not an identity")
	if _, ok := IdentityFrom(c); ok {
		t.Error("IdentityFrom should reject a mistyped context value")
	}
}
