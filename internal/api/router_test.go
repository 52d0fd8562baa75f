package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/docgate/docgate/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// healthCheckHandler
// ---------------------------------------------------------------------------

func newHealthDB(t *testing.T, pingOK bool) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if pingOK {
		mock.ExpectPing()
	} else {
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	}
	return db
}

func TestHealthCheckHandler_Healthy(t *testing.T) {
	db := newHealthDB(t, true)

	r := gin.New()
	r.GET("/health", healthCheckHandler(db))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}

func TestHealthCheckHandler_Unhealthy(t *testing.T) {
	db := newHealthDB(t, false)

	r := gin.New()
	r.GET("/health", healthCheckHandler(db))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("status = %v, want unhealthy", body["status"])
	}
}

// ---------------------------------------------------------------------------
// readinessHandler
// ---------------------------------------------------------------------------

func TestReadinessHandler_Ready(t *testing.T) {
	db := newHealthDB(t, true)

	r := gin.New()
	r.GET("/ready", readinessHandler(db, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["ready"] != true {
		t.Errorf("ready = %v, want true", body["ready"])
	}
}

func TestReadinessHandler_DatabaseDown(t *testing.T) {
	db := newHealthDB(t, false)

	r := gin.New()
	r.GET("/ready", readinessHandler(db, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["ready"] != false {
		t.Errorf("ready = %v, want false", body["ready"])
	}
}

func TestReadinessHandler_NoRedisReportsInProcess(t *testing.T) {
	db := newHealthDB(t, true)

	r := gin.New()
	r.GET("/ready", readinessHandler(db, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var body struct {
		Ready  bool              `json:"ready"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// In-process counters are fine; a missing Redis never gates readiness.
	if !body.Ready {
		t.Error("ready = false without Redis, want true")
	}
	if body.Checks["counter_backend"] != "in-process" {
		t.Errorf("counter_backend = %q, want in-process", body.Checks["counter_backend"])
	}
}

// ---------------------------------------------------------------------------
// versionHandler
// ---------------------------------------------------------------------------

func TestVersionHandler(t *testing.T) {
	r := gin.New()
	r.GET("/version", versionHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["version"] == nil {
		t.Error("response missing 'version'")
	}
	if body["api_version"] == nil {
		t.Error("response missing 'api_version'")
	}
}

// ---------------------------------------------------------------------------
// LoggerMiddleware
// ---------------------------------------------------------------------------

func TestLoggerMiddleware_JSONFormat(t *testing.T) {
	cfg := &config.Config{}
	cfg.Logging.Format = "json"

	r := gin.New()
	r.Use(LoggerMiddleware(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestLoggerMiddleware_TextFormat(t *testing.T) {
	cfg := &config.Config{}
	cfg.Logging.Format = "text"

	r := gin.New()
	r.Use(LoggerMiddleware(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

// ---------------------------------------------------------------------------
// newProviderVerifier
// ---------------------------------------------------------------------------

func TestNewProviderVerifier_ModeNone(t *testing.T) {
	cfg := routerTestConfig()
	cfg.Auth.Provider.Mode = "none"

	if v := newProviderVerifier(cfg); v != nil {
		t.Errorf("verifier = %T, want nil for mode none", v)
	}
}

func TestNewProviderVerifier_ModeJWT(t *testing.T) {
	cfg := routerTestConfig()
	cfg.Auth.Provider.Mode = "jwt"
	cfg.Auth.Provider.JWT.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Auth.Provider.JWT.Issuer = "docgate-test"

	if v := newProviderVerifier(cfg); v == nil {
		t.Error("verifier = nil, want a JWT verifier")
	}
}

// ---------------------------------------------------------------------------
// NewRouter — full wiring
// ---------------------------------------------------------------------------

func routerTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Auth.Tokens = config.TokenConfig{
		Prefix:         "dg_",
		SecretBytes:    32,
		DefaultTTLDays: 30,
		MaxPerOwner:    5,
	}
	cfg.Auth.Provider.Mode = "none"
	cfg.Auth.Provider.Timeout = 5 * time.Second
	cfg.Auth.Provider.MaxConcurrent = 8
	cfg.RateLimit = config.RateLimitConfig{
		Enabled:            true,
		Anonymous:          config.QuotaConfig{PerMinute: 30, PerHour: 500, PerDay: 2000},
		Authenticated:      config.QuotaConfig{PerMinute: 60, PerHour: 1000, PerDay: 10000},
		APITokenMultiplier: 2,
	}
	cfg.Logging.Format = "text"
	// Purge job stays off: these tests exercise routing, not the loop.
	cfg.Jobs.TokenPurge.Enabled = false
	return cfg
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	router, bg := NewRouter(routerTestConfig(), db, nil)
	t.Cleanup(bg.Shutdown)
	return router
}

func TestNewRouter_VersionRouteRegistered(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	if w.Code != http.StatusOK {
		t.Errorf("GET /version = %d, want 200", w.Code)
	}
}

func TestNewRouter_WhoamiRequiresAuth(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/auth/whoami", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous GET /api/v1/auth/whoami = %d, want 401", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["code"] != "invalid_credential" {
		t.Errorf("code = %v, want invalid_credential", body["code"])
	}
}

func TestNewRouter_TokenRoutesRequireAuth(t *testing.T) {
	r := newTestRouter(t)

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/auth/tokens"},
		{http.MethodGet, "/api/v1/auth/tokens"},
		{http.MethodDelete, "/api/v1/auth/tokens"},
		{http.MethodDelete, "/api/v1/auth/tokens/2f4c27b2-9f06-4f0f-8e7a-1f6f0a14b76d"},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("anonymous %s %s = %d, want 401", tc.method, tc.path, w.Code)
		}
	}
}

func TestNewRouter_RateLimitHeadersOnAPIRoutes(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/auth/whoami", nil))

	// Even a 401 passes through the limiter first; the anonymous window
	// headers must be present.
	if w.Header().Get("X-RateLimit-Limit") == "" {
		t.Error("X-RateLimit-Limit missing on /api/v1 response")
	}
	if w.Header().Get("X-RateLimit-Remaining") == "" {
		t.Error("X-RateLimit-Remaining missing on /api/v1 response")
	}
}

func TestNewRouter_RootRoutesUnmetered(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	if w.Header().Get("X-RateLimit-Limit") != "" {
		t.Error("X-RateLimit-Limit present on /version, root routes must not be metered")
	}
}
