package rag

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LocalQueue 进程内入库队列，未配置 Redis 时替代 asynq
type LocalQueue struct {
	mu       sync.Mutex
	pipeline *Pipeline
	timers   map[string]*time.Timer
	wg       sync.WaitGroup
	closed   bool
	logger   *zap.Logger

	stopSweep chan struct{}
	sweepWG   sync.WaitGroup
}

// NewLocalQueue 创建进程内队列，需在 Pipeline 创建后调用 Bind
func NewLocalQueue(logger *zap.Logger) *LocalQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalQueue{timers: make(map[string]*time.Timer), logger: logger}
}

// Bind 绑定执行入库的流水线
func (q *LocalQueue) Bind(p *Pipeline) {
	q.mu.Lock()
	q.pipeline = p
	q.mu.Unlock()
}

// EnqueueIngest 延迟 delay 后在后台执行入库；同一知识源重复投递时以最后一次为准
func (q *LocalQueue) EnqueueIngest(_ context.Context, sourceID string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("本地队列已关闭")
	}
	if q.pipeline == nil {
		return errors.New("本地队列未绑定流水线")
	}
	if t, ok := q.timers[sourceID]; ok && t.Stop() {
		q.wg.Done()
	}

	q.wg.Add(1)
	q.timers[sourceID] = time.AfterFunc(delay, func() {
		defer q.wg.Done()
		q.run(sourceID)
	})
	return nil
}

func (q *LocalQueue) run(sourceID string) {
	q.mu.Lock()
	delete(q.timers, sourceID)
	p := q.pipeline
	q.mu.Unlock()

	if _, err := p.Ingest(context.Background(), sourceID); err != nil && !errors.Is(err, ErrIngestionFailed) {
		q.logger.Warn("本地入库任务失败", zap.String("source_id", sourceID), zap.Error(err))
	}
}

// StartSweep 每隔 interval 执行一次 RetryStaleSources，Close 时停止；重复调用无效
func (q *LocalQueue) StartSweep(interval time.Duration) error {
	if interval <= 0 {
		return errors.New("巡检间隔必须大于 0")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("本地队列已关闭")
	}
	if q.pipeline == nil {
		return errors.New("本地队列未绑定流水线")
	}
	if q.stopSweep != nil {
		return nil
	}

	stop := make(chan struct{})
	q.stopSweep = stop
	p := q.pipeline
	q.sweepWG.Add(1)
	go func() {
		defer q.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				n, err := p.RetryStaleSources(context.Background())
				if err != nil {
					q.logger.Warn("本地巡检部分失败", zap.Int("enqueued", n), zap.Error(err))
				}
			}
		}
	}()
	q.logger.Info("本地巡检已启动", zap.Duration("interval", interval))
	return nil
}

// Wait 等待全部任务（含失败后的延迟重投）执行完毕
func (q *LocalQueue) Wait() {
	q.wg.Wait()
}

// Close 取消尚未开始的任务并等待进行中的任务结束
func (q *LocalQueue) Close() {
	q.mu.Lock()
	stop := q.stopSweep
	q.stopSweep = nil
	q.mu.Unlock()
	if stop != nil {
		close(stop)
		q.sweepWG.Wait()
	}

	q.mu.Lock()
	q.closed = true
	for id, t := range q.timers {
		if t.Stop() {
			q.wg.Done()
		}
		delete(q.timers, id)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
