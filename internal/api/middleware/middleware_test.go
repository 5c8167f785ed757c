package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terry-lonesski/laravel-echo-server/pkg/logger"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func appRouter(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.GET("/apps/:appId/status", mw, func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("app_id"))
	})
	return r
}

func TestRequireApp(t *testing.T) {
	r := appRouter(NewAuthMiddleware(secret).RequireApp())

	valid := signToken(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
		"app_id": "app1",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	expired := signToken(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
		"app_id": "app1",
		"exp":    time.Now().Add(-time.Hour).Unix(),
	})
	wrongKey := signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"app_id": "app1"})
	wrongAlg := signToken(t, jwt.SigningMethodHS512, []byte(secret), jwt.MapClaims{"app_id": "app1"})

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"valid", "/apps/app1/status", "Bearer " + valid, http.StatusOK},
		{"other app", "/apps/app2/status", "Bearer " + valid, http.StatusForbidden},
		{"missing header", "/apps/app1/status", "", http.StatusUnauthorized},
		{"not bearer", "/apps/app1/status", valid, http.StatusUnauthorized},
		{"expired", "/apps/app1/status", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong key", "/apps/app1/status", "Bearer " + wrongKey, http.StatusUnauthorized},
		{"wrong algorithm", "/apps/app1/status", "Bearer " + wrongAlg, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "app1", rec.Body.String())
			}
		})
	}
}

func TestRequireAppWithoutSecret(t *testing.T) {
	r := appRouter(NewAuthMiddleware("").RequireApp())
	token := signToken(t, jwt.SigningMethodHS256, []byte("any"), jwt.MapClaims{"app_id": "app1"})

	req := httptest.NewRequest(http.MethodGet, "/apps/app1/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://app.test"}, false))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://app.test")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.test", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.test")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/x", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

type fakeLimiter struct {
	allowed int
	calls   int
	err     error
	keys    []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	f.calls++
	f.keys = append(f.keys, key)
	if f.err != nil {
		return false, f.err
	}
	return f.calls <= f.allowed && f.calls <= limit, nil
}

func TestRateLimitIP(t *testing.T) {
	limiter := &fakeLimiter{allowed: 2}
	r := gin.New()
	r.GET("/ws", NewRateLimitMiddleware(limiter, logger.Discard()).RateLimitIP(5, time.Minute),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "rate_limit_ip:10.0.0.1:/ws", limiter.keys[0])
}

func TestRateLimitIPStoreError(t *testing.T) {
	r := gin.New()
	r.GET("/ws", NewRateLimitMiddleware(&fakeLimiter{err: errors.New("down")}, logger.Discard()).RateLimitIP(5, time.Minute),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
