package queue

import (
	"time"

	"legalai/internal/config"
	"legalai/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// QueueWeights 各队列的调度权重：入库 > 问答 > 评估
func QueueWeights() map[string]int {
	return map[string]int{
		tasks.QueueIngestion:  5,
		tasks.QueueChat:       4,
		tasks.QueueEvaluation: 1,
	}
}

// TaskOptions 单类任务的投递参数
type TaskOptions struct {
	Queue     string
	MaxRetry  int
	Timeout   time.Duration
	ProcessIn time.Duration
	Unique    time.Duration
	Retention time.Duration
}

// build 转换为 asynq 选项；MaxRetry 总是显式设置，0 表示不重试
func (o TaskOptions) build() []asynq.Option {
	opts := []asynq.Option{asynq.MaxRetry(o.MaxRetry)}
	if o.Queue != "" {
		opts = append(opts, asynq.Queue(o.Queue))
	}
	if o.Timeout > 0 {
		opts = append(opts, asynq.Timeout(o.Timeout))
	}
	if o.ProcessIn > 0 {
		opts = append(opts, asynq.ProcessIn(o.ProcessIn))
	}
	if o.Unique > 0 {
		opts = append(opts, asynq.Unique(o.Unique))
	}
	if o.Retention > 0 {
		opts = append(opts, asynq.Retention(o.Retention))
	}
	return opts
}

// 各任务类型的默认投递参数
var (
	// 入库失败由流水线自行延迟重投，asynq 不再重试
	ingestOptions = TaskOptions{Queue: tasks.QueueIngestion, MaxRetry: 0, Timeout: 30 * time.Minute}
	sweepOptions  = TaskOptions{Queue: tasks.QueueIngestion, MaxRetry: 0, Timeout: 10 * time.Minute, Unique: time.Hour}
	chatOptions   = TaskOptions{Queue: tasks.QueueChat, MaxRetry: 1, Timeout: 5 * time.Minute}
	evalOptions   = TaskOptions{Queue: tasks.QueueEvaluation, MaxRetry: 2, Timeout: time.Minute, Retention: time.Hour}
)

// RedisOpt 按 Redis 部署模式构建 asynq 连接参数
func RedisOpt(cfg config.RedisConfig) asynq.RedisConnOpt {
	cfg = cfg.Normalize()
	switch cfg.Mode {
	case "sentinel":
		return asynq.RedisFailoverClientOpt{
			MasterName:       cfg.MasterName,
			SentinelAddrs:    cfg.SentinelAddrs,
			SentinelPassword: cfg.SentinelPassword,
			Password:         cfg.Password,
			DB:               cfg.DB,
			PoolSize:         cfg.PoolSize,
		}
	case "cluster":
		return asynq.RedisClusterClientOpt{
			Addrs:    cfg.ClusterAddrs,
			Password: cfg.Password,
		}
	default:
		return asynq.RedisClientOpt{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		}
	}
}
