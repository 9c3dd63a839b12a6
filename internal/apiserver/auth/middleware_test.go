package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{JWTSecret: "test-secret", Issuer: "agents-eval", AccessTokenTTL: time.Hour}
}

// echoUser 返回中间件注入的调用方
func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := GetAuthUser(r.Context()); user != nil {
			w.Write([]byte(user.ID))
			return
		}
		w.Write([]byte("anonymous"))
	})
}

func TestIsPublicRoute(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"/health", true},
		{"/metrics", true},
		{"/api/v1/runs", false},
		{"/ws/runs/r1/events", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, isPublicRoute(tt.path))
		})
	}
}

func TestMiddleware_Disabled(t *testing.T) {
	h := Middleware(Config{})(echoUser())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "anonymous", w.Body.String())
}

func TestMiddleware_Tokens(t *testing.T) {
	cfg := testConfig()
	valid, err := GenerateAccessToken(cfg, "ci-bot", "admin")
	require.NoError(t, err)

	otherIssuer := cfg
	otherIssuer.Issuer = "someone-else"
	foreign, err := GenerateAccessToken(otherIssuer, "ci-bot", "admin")
	require.NoError(t, err)

	expired := signed(t, cfg, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ci-bot",
			Issuer:    cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Type: TokenTypeAccess,
	})
	refresh := signed(t, cfg, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ci-bot", Issuer: cfg.Issuer},
		Type:             "refresh",
	})

	tests := []struct {
		name   string
		path   string
		header string
		code   int
		body   string
	}{
		{"valid bearer", "/api/v1/runs", "Bearer " + valid, http.StatusOK, "ci-bot"},
		{"missing header", "/api/v1/runs", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "/api/v1/runs", "Basic abc", http.StatusUnauthorized, ""},
		{"garbage token", "/api/v1/runs", "Bearer not-a-jwt", http.StatusUnauthorized, ""},
		{"wrong issuer", "/api/v1/runs", "Bearer " + foreign, http.StatusUnauthorized, ""},
		{"expired", "/api/v1/runs", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"refresh token", "/api/v1/runs", "Bearer " + refresh, http.StatusUnauthorized, ""},
		{"public route", "/health", "", http.StatusOK, "anonymous"},
		{"websocket query token", "/ws/runs/r1/events?access_token=" + valid, "", http.StatusOK, "ci-bot"},
		{"query token ignored outside ws", "/api/v1/runs?access_token=" + valid, "", http.StatusUnauthorized, ""},
	}

	h := Middleware(cfg)(echoUser())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.code, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestGenerateAccessToken_RequiresSecret(t *testing.T) {
	_, err := GenerateAccessToken(Config{}, "x", "")
	assert.Error(t, err)
}

func signed(t *testing.T, cfg Config, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	require.NoError(t, err)
	return s
}
