package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"legalai/internal/rag"
	"legalai/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Ingester 入库流水线
type Ingester interface {
	Ingest(ctx context.Context, sourceID string) (*rag.IngestOutcome, error)
	RetryStaleSources(ctx context.Context) (int, error)
}

type RAGHandler struct {
	pipeline Ingester
	logger   *zap.Logger
}

func NewRAGHandler(pipeline Ingester, logger *zap.Logger) *RAGHandler {
	return &RAGHandler{
		pipeline: pipeline,
		logger:   logger,
	}
}

// HandleIngestSource 入库失败已写入知识源状态并由流水线延迟重投，这里不再让 asynq 重试
func (h *RAGHandler) HandleIngestSource(ctx context.Context, t *asynq.Task) error {
	var p tasks.IngestSourcePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.SourceID == "" {
		return fmt.Errorf("无效的入库任务载荷: %v: %w", err, asynq.SkipRetry)
	}

	h.logger.Info("开始处理入库任务", zap.String("source_id", p.SourceID))

	outcome, err := h.pipeline.Ingest(ctx, p.SourceID)
	switch {
	case err == nil:
		h.logger.Info("入库任务完成",
			zap.String("source_id", p.SourceID),
			zap.String("status", string(outcome.Status)),
			zap.Int("chunks", outcome.Chunks),
			zap.Int("pages", outcome.Pages),
			zap.Int("skipped", len(outcome.Skipped)),
		)
		return nil
	case errors.Is(err, rag.ErrIngestionFailed):
		h.logger.Warn("入库失败，已记录", zap.String("source_id", p.SourceID), zap.Error(err))
		return nil
	case errors.Is(err, rag.ErrSourceBusy), errors.Is(err, rag.ErrSourceNotFound), errors.Is(err, rag.ErrRetryNotAllowed):
		h.logger.Warn("入库任务跳过", zap.String("source_id", p.SourceID), zap.Error(err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		h.logger.Error("入库任务异常", zap.String("source_id", p.SourceID), zap.Error(err))
		return err
	}
}

// HandleRetryStaleSources 周期巡检
func (h *RAGHandler) HandleRetryStaleSources(ctx context.Context, _ *asynq.Task) error {
	n, err := h.pipeline.RetryStaleSources(ctx)
	if err != nil {
		h.logger.Error("巡检部分失败", zap.Int("enqueued", n), zap.Error(err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	h.logger.Info("巡检完成", zap.Int("enqueued", n))
	return nil
}
