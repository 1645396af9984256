package rag

import (
	"sync"
	"time"

	"legalai/internal/metrics"
)

// PageBreaker 页面图像模型熔断器
// 首次模型加载失败后打开，直到进程重启（或测试中调用 Reset）才关闭
type PageBreaker struct {
	mu        sync.RWMutex
	open      bool
	reason    string
	trippedAt time.Time
}

// NewPageBreaker 创建关闭状态的熔断器
func NewPageBreaker() *PageBreaker {
	return &PageBreaker{}
}

// Trip 打开熔断器，只记录第一次的原因
func (b *PageBreaker) Trip(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return
	}
	b.open = true
	b.reason = reason
	b.trippedAt = time.Now()
	metrics.PageBreakerTrips.Inc()
}

// Open 熔断器是否已打开
func (b *PageBreaker) Open() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.open
}

// Reason 打开原因
func (b *PageBreaker) Reason() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.reason
}

// Reset 关闭熔断器
func (b *PageBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.reason = ""
	b.trippedAt = time.Time{}
}
