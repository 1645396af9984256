package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"legalai/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 60, BurstSize: 2})
	t.Cleanup(rl.Stop)
	rl.now = func() time.Time { return now }

	t.Run("突发容量内放行", func(t *testing.T) {
		ok, _ := rl.Allow("u1")
		assert.True(t, ok)
		ok, _ = rl.Allow("u1")
		assert.True(t, ok)
	})

	t.Run("耗尽后拒绝并给出等待时间", func(t *testing.T) {
		ok, wait := rl.Allow("u1")
		assert.False(t, ok)
		assert.Equal(t, time.Second, wait)
	})

	t.Run("按速率恢复", func(t *testing.T) {
		now = now.Add(time.Second)
		ok, _ := rl.Allow("u1")
		assert.True(t, ok)
	})

	t.Run("不同用户互不影响", func(t *testing.T) {
		ok, _ := rl.Allow("u2")
		assert.True(t, ok)
		assert.Equal(t, 2, rl.Clients())
	})

	t.Run("清理空闲状态", func(t *testing.T) {
		now = now.Add(time.Hour)
		rl.evictIdle()
		assert.Zero(t, rl.Clients())
	})
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{})
	t.Cleanup(rl.Stop)
	for i := 0; i < 100; i++ {
		ok, _ := rl.Allow("u")
		require.True(t, ok)
	}
	assert.False(t, rl.Enabled())
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 1, BurstSize: 1})
	t.Cleanup(rl.Stop)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", c.GetHeader("X-User-ID"))
		c.Next()
	}, RateLimitMiddleware(rl, "user_id"))
	r.POST("/ask", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/ask", nil)
		req.Header.Set("X-User-ID", user)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("alice").Code)
	rec := send("alice")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, send("bob").Code)
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	var traceID, ginID string
	r.GET("/", func(c *gin.Context) {
		traceID = logger.GetTraceID(c.Request.Context())
		ginID = GetRequestID(c)
	})

	t.Run("透传上游ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "req-42")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))
		assert.Equal(t, "req-42", traceID)
		assert.Equal(t, "req-42", ginID)
	})

	t.Run("缺省时生成", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
		assert.Len(t, traceID, 36)
	})
}
