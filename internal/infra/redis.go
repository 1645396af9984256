package infra

import (
	"context"
	"fmt"
	"time"

	"legalai/internal/config"
	"legalai/internal/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var globalRedis redis.UniversalClient

// redisOptions 校验连接模式并组装 go-redis 的通用参数
func redisOptions(cfg *config.RedisConfig) (string, *redis.UniversalOptions, error) {
	resolved := cfg.Normalize()
	if err := resolved.Validate(); err != nil {
		return "", nil, err
	}
	opts := &redis.UniversalOptions{
		Password:     resolved.Password,
		DB:           resolved.DB,
		PoolSize:     resolved.PoolSize,
		MinIdleConns: resolved.MinIdleConns,
	}
	switch resolved.Mode {
	case "sentinel":
		opts.MasterName = resolved.MasterName
		opts.Addrs = resolved.SentinelAddrs
		opts.SentinelPassword = resolved.SentinelPassword
	case "cluster":
		opts.Addrs = resolved.ClusterAddrs
	default:
		opts.Addrs = []string{resolved.Addr()}
	}
	return resolved.Mode, opts, nil
}

// InitRedis 按 standalone / sentinel / cluster 模式连接 Redis 并探活
func InitRedis(cfg *config.RedisConfig) (redis.UniversalClient, error) {
	mode, opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}

	var rdb redis.UniversalClient
	switch mode {
	case "sentinel":
		rdb = redis.NewFailoverClient(opts.Failover())
	case "cluster":
		rdb = redis.NewClusterClient(opts.Cluster())
	default:
		rdb = redis.NewClient(opts.Simple())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("Redis 连接失败: %w", err)
	}

	logger.OrNop().Info("Redis 连接成功", zap.String("mode", mode), zap.Strings("addrs", opts.Addrs))
	globalRedis = rdb
	return rdb, nil
}

// CloseRedis 关闭 InitRedis 打开的连接
func CloseRedis() error {
	if globalRedis == nil {
		return nil
	}
	err := globalRedis.Close()
	globalRedis = nil
	return err
}
