package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiterConfig 限流配置
type RateLimiterConfig struct {
	RequestsPerMinute int           // 稳态速率，0 表示不限流
	BurstSize         int           // 突发容量
	IdleTTL           time.Duration // 空闲多久后清理客户端状态
}

// bucket 单个客户端的令牌桶
type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter 按键限流的令牌桶
type RateLimiter struct {
	cfg     RateLimiterConfig
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

// NewRateLimiter 创建限流器并启动后台清理
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	rl := &RateLimiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Enabled 是否开启限流
func (rl *RateLimiter) Enabled() bool {
	return rl != nil && rl.cfg.RequestsPerMinute > 0
}

// Allow 消耗一个令牌；拒绝时返回需要等待的时长
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	if !rl.Enabled() {
		return true, 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rate := float64(rl.cfg.RequestsPerMinute) / 60
	burst := float64(rl.cfg.BurstSize)

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: burst, lastUpdate: now}
		rl.buckets[key] = b
	}
	b.tokens = math.Min(burst, b.tokens+now.Sub(b.lastUpdate).Seconds()*rate)
	b.lastUpdate = now

	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) / rate * float64(time.Second))
		return false, wait
	}
	b.tokens--
	return true, 0
}

// Clients 当前跟踪的客户端数
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastUpdate) > rl.cfg.IdleTTL {
			delete(rl.buckets, key)
		}
	}
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.cfg.IdleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop 停止后台清理
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// RateLimitMiddleware 按 userKey 标识的用户限流，取不到时按客户端 IP
func RateLimitMiddleware(limiter *RateLimiter, userKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(userKey)
		if key == "" || key == "anonymous" {
			key = "ip:" + c.ClientIP()
		}

		ok, wait := limiter.Allow(key)
		if !ok {
			retryAfter := int(math.Ceil(wait.Seconds()))
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "rate_limited",
				"message": "Too many requests. Please slow down.",
			})
			return
		}
		c.Next()
	}
}
