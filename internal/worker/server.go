// Package worker 在 asynq 上消费入库、评估与异步问答任务。
package worker

import (
	"context"
	"time"

	"legalai/internal/infra/queue"
	"legalai/internal/worker/handlers"
	"legalai/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	defaultConcurrency = 10
	shutdownTimeout    = 30 * time.Second
	maxRetryDelay      = 10 * time.Minute
)

// Deps 各任务处理器依赖，为 nil 的依赖不注册对应任务
type Deps struct {
	Pipeline handlers.Ingester
	Recorder handlers.EvaluationRecorder
	Chat     handlers.ChatProcessor
	Logger   *zap.Logger
}

// Server asynq 消费端
type Server struct {
	srv    *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

func NewServer(opt asynq.RedisConnOpt, concurrency int, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	cfg := asynq.Config{
		Concurrency:     concurrency,
		Queues:          queue.QueueWeights(),
		ShutdownTimeout: shutdownTimeout,
		RetryDelayFunc:  retryDelay,
		Logger:          log.Named("asynq").Sugar(),
		ErrorHandler:    failureLogger(log),
	}
	return &Server{
		srv:    asynq.NewServer(opt, cfg),
		mux:    NewMux(deps, log),
		logger: log,
	}
}

// retryDelay 指数退避，从 5 秒起步并封顶
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	d := 5 * time.Second
	for i := 0; i < n && d < maxRetryDelay; i++ {
		d *= 2
	}
	return min(d, maxRetryDelay)
}

func failureLogger(log *zap.Logger) asynq.ErrorHandler {
	return asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		id, _ := asynq.GetTaskID(ctx)
		log.Error("任务执行失败",
			zap.String("task_id", id),
			zap.String("type", task.Type()),
			zap.Int("retried", retried),
			zap.Int("max_retry", maxRetry),
			zap.Error(err),
		)
	})
}

// NewMux 注册处理器
func NewMux(deps Deps, log *zap.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	if deps.Pipeline != nil {
		h := handlers.NewRAGHandler(deps.Pipeline, log)
		mux.HandleFunc(tasks.TypeIngestSource, h.HandleIngestSource)
		mux.HandleFunc(tasks.TypeRetryStaleSources, h.HandleRetryStaleSources)
	}
	if deps.Recorder != nil {
		mux.HandleFunc(tasks.TypeRecordEvaluation, handlers.NewEvaluationHandler(deps.Recorder, log).HandleRecordEvaluation)
	}
	if deps.Chat != nil {
		mux.HandleFunc(tasks.TypeProcessChat, handlers.NewChatHandler(deps.Chat, log).HandleProcessChat)
	}
	return mux
}

// Start 后台启动消费
func (s *Server) Start() error {
	s.logger.Info("Worker 启动")
	return s.srv.Start(s.mux)
}

// Shutdown 等待进行中的任务结束后退出
func (s *Server) Shutdown() {
	s.logger.Info("Worker 停止中")
	s.srv.Shutdown()
}
