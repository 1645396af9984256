package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"legalai/internal/evaluation"
	"legalai/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// taskEnqueuer asynq.Client 的投递能力
type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client 任务队列客户端
type Client struct {
	client taskEnqueuer
	logger *zap.Logger
}

// NewClient 创建任务队列客户端
func NewClient(opt asynq.RedisConnOpt, logger *zap.Logger) *Client {
	return newClient(asynq.NewClient(opt), logger)
}

func newClient(enq taskEnqueuer, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{client: enq, logger: logger}
}

// EnqueueIngest 投递知识源入库任务，delay > 0 时延迟执行
func (c *Client) EnqueueIngest(ctx context.Context, sourceID string, delay time.Duration) error {
	opts := ingestOptions
	opts.ProcessIn = delay
	return c.enqueue(ctx, tasks.TypeIngestSource, tasks.IngestSourcePayload{SourceID: sourceID}, opts)
}

// EnqueueRetrySweep 立即投递一次失败知识源巡检；已有待执行的巡检时视为成功
func (c *Client) EnqueueRetrySweep(ctx context.Context) error {
	err := c.enqueue(ctx, tasks.TypeRetryStaleSources, nil, sweepOptions)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		c.logger.Info("巡检任务已在队列中")
		return nil
	}
	return err
}

// EnqueueEvaluation 投递评估日志写入
func (c *Client) EnqueueEvaluation(ctx context.Context, in *evaluation.Input) error {
	return c.enqueue(ctx, tasks.TypeRecordEvaluation, tasks.RecordEvaluationPayload{Entry: *in}, evalOptions)
}

// EnqueueChat 投递异步问答
func (c *Client) EnqueueChat(ctx context.Context, payload *tasks.ProcessChatPayload) error {
	return c.enqueue(ctx, tasks.TypeProcessChat, payload, chatOptions)
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any, opts TaskOptions) error {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("序列化任务载荷失败: %w", err)
		}
	}

	info, err := c.client.EnqueueContext(ctx, asynq.NewTask(taskType, data), opts.build()...)
	if err != nil {
		return fmt.Errorf("投递任务 %s 失败: %w", taskType, err)
	}
	c.logger.Debug("任务已投递",
		zap.String("type", taskType),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
		zap.Duration("delay", opts.ProcessIn),
	)
	return nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	return c.client.Close()
}
