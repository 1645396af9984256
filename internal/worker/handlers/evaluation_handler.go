package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"legalai/internal/evaluation"
	"legalai/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

var errRecordFailed = errors.New("评估日志写入失败")

// EvaluationRecorder 评估日志写入
type EvaluationRecorder interface {
	Record(ctx context.Context, in *evaluation.Input) *uint64
}

type EvaluationHandler struct {
	recorder EvaluationRecorder
	logger   *zap.Logger
}

func NewEvaluationHandler(recorder EvaluationRecorder, logger *zap.Logger) *EvaluationHandler {
	return &EvaluationHandler{recorder: recorder, logger: logger}
}

// HandleRecordEvaluation 写入失败返回错误，交给 asynq 重试
func (h *EvaluationHandler) HandleRecordEvaluation(ctx context.Context, t *asynq.Task) error {
	var p tasks.RecordEvaluationPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("无效的评估任务载荷: %v: %w", err, asynq.SkipRetry)
	}
	if h.recorder.Record(ctx, &p.Entry) == nil {
		return errRecordFailed
	}
	return nil
}
