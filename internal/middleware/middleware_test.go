package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-streamgw/internal/middleware"
	"github.com/technosupport/ts-streamgw/internal/ratelimit"
	"github.com/technosupport/ts-streamgw/internal/tokens"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit_GlobalIP(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	limiter := ratelimit.NewLimiter(rdb, "salt")
	mw := middleware.NewRateLimitMiddleware(limiter, middleware.Config{
		GlobalIP: ratelimit.LimitConfig{Rate: 2, Window: time.Second},
	})
	handler := mw.GlobalLimiter(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "1.2.3.4:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "1.2.3.4:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Different IP has its own window.
	req = httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "5.6.7.8:1234"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_FailOpenWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	limiter := ratelimit.NewLimiter(rdb, "salt")
	mw := middleware.NewRateLimitMiddleware(limiter, middleware.Config{
		GlobalIP: ratelimit.LimitConfig{Rate: 1, Window: time.Second},
	})
	handler := mw.GlobalLimiter(okHandler())

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "1.2.3.4:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "limiter outage must not block playback")
}

func TestPlaybackAuth(t *testing.T) {
	mgr := tokens.NewManager("test-secret")
	auth := middleware.NewPlaybackAuth(mgr)

	var got *middleware.AuthContext
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = middleware.GetAuthContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token, err := mgr.IssuePlayback("user-1", "org-a", "org-a_cam-1")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/streams/org-a_cam-1/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, "org-a", got.OrgID)
	assert.Equal(t, "org-a_cam-1", got.StreamID)

	// Token via query param for <video> elements.
	req = httptest.NewRequest("GET", "/api/v1/transcode?token="+token, nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Missing and garbage tokens rejected.
	req = httptest.NewRequest("GET", "/", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCORS_Preflight(t *testing.T) {
	handler := middleware.CORS(okHandler())

	req := httptest.NewRequest("OPTIONS", "/api/v1/sync", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Range")
}

func TestRequestLogger_SetsRequestID(t *testing.T) {
	handler := middleware.RequestLogger(okHandler())

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
