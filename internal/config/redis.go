package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Addr 单节点地址
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Normalize 补齐缺省项；Host 可写成 host:port
func (c RedisConfig) Normalize() RedisConfig {
	out := c
	out.Mode = strings.ToLower(strings.TrimSpace(out.Mode))
	if out.Mode == "" {
		out.Mode = "standalone"
	}

	out.Host = strings.TrimSpace(out.Host)
	if host, port, err := net.SplitHostPort(out.Host); err == nil {
		out.Host = host
		if p, err := strconv.Atoi(port); err == nil && out.Port == 0 {
			out.Port = p
		}
	}
	if out.Host == "" {
		out.Host = "localhost"
	}
	if out.Port == 0 {
		out.Port = 6379
	}

	out.SentinelAddrs = SplitList(out.SentinelAddrs...)
	out.ClusterAddrs = SplitList(out.ClusterAddrs...)

	if out.PoolSize <= 0 {
		out.PoolSize = 10
	}
	if out.MinIdleConns <= 0 {
		out.MinIdleConns = 2
	}
	return out
}

// SplitList 拆分逗号分隔的取值并去掉空项，环境变量传入的列表为单个元素
func SplitList(values ...string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate 检查当前模式所需的地址
func (c RedisConfig) Validate() error {
	switch c.Mode {
	case "", "standalone":
		return nil
	case "sentinel":
		if c.MasterName == "" || len(c.SentinelAddrs) == 0 {
			return fmt.Errorf("哨兵模式需要配置 master_name 和 sentinel_addrs")
		}
	case "cluster":
		if len(c.ClusterAddrs) == 0 {
			return fmt.Errorf("集群模式需要配置 cluster_addrs")
		}
	default:
		return fmt.Errorf("不支持的 Redis 模式: %s (可选: standalone, sentinel, cluster)", c.Mode)
	}
	return nil
}
