package queue

import (
	"fmt"
	"time"

	"legalai/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Scheduler 周期任务调度
type Scheduler struct {
	scheduler *asynq.Scheduler
	entries   []string
	logger    *zap.Logger
}

// NewScheduler 创建调度器，sweepInterval 为失败知识源巡检间隔
func NewScheduler(opt asynq.RedisConnOpt, sweepInterval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sweepInterval <= 0 {
		sweepInterval = 24 * time.Hour
	}

	s := &Scheduler{
		scheduler: asynq.NewScheduler(opt, &asynq.SchedulerOpts{
			Location: time.UTC,
			PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
				if err != nil {
					logger.Warn("周期任务投递失败", zap.Error(err))
					return
				}
				logger.Info("周期任务已投递", zap.String("type", info.Type), zap.String("task_id", info.ID))
			},
		}),
		logger: logger,
	}

	spec := SweepSpec(sweepInterval)
	id, err := s.scheduler.Register(spec, asynq.NewTask(tasks.TypeRetryStaleSources, nil), sweepOptions.build()...)
	if err != nil {
		return nil, fmt.Errorf("注册巡检任务失败: %w", err)
	}
	s.entries = append(s.entries, id)
	logger.Info("巡检任务已注册", zap.String("spec", spec), zap.String("entry_id", id))
	return s, nil
}

// SweepSpec 巡检的 cron 表达式
func SweepSpec(interval time.Duration) string {
	return "@every " + interval.String()
}

// Start 后台运行
func (s *Scheduler) Start() error {
	return s.scheduler.Start()
}

// Shutdown 停止调度
func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}
