package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrSourceBusy 同一知识源已有入库任务在执行
var ErrSourceBusy = errors.New("知识源正在入库中")

// IngestGuard 防止同一知识源并发入库
type IngestGuard interface {
	// Acquire 成功时返回释放函数；已被占用返回 ErrSourceBusy
	Acquire(ctx context.Context, sourceID string) (release func(), err error)
}

// NoopGuard 不做任何互斥（单 worker 部署或测试）
type NoopGuard struct{}

// Acquire 总是成功
func (NoopGuard) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

// RedisIngestGuard 基于 SET NX + TTL 的分布式互斥
type RedisIngestGuard struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisIngestGuard 创建 Redis 互斥；ttl 需覆盖一次入库的最长耗时
func NewRedisIngestGuard(client redis.UniversalClient, ttl time.Duration) *RedisIngestGuard {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisIngestGuard{client: client, ttl: ttl, prefix: "legalai:ingest:lock:"}
}

// 仅当值仍为本次持有的 token 时删除
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Acquire 获取知识源锁
func (g *RedisIngestGuard) Acquire(ctx context.Context, sourceID string) (func(), error) {
	key := g.prefix + sourceID
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("获取入库锁失败: %w", err)
	}
	if !ok {
		return nil, ErrSourceBusy
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, g.client, []string{key}, token).Err()
	}
	return release, nil
}
