package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"legalai/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// ChatProcessor 异步问答
type ChatProcessor interface {
	Process(ctx context.Context, p *tasks.ProcessChatPayload) error
}

type ChatHandler struct {
	processor ChatProcessor
	logger    *zap.Logger
}

func NewChatHandler(processor ChatProcessor, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{processor: processor, logger: logger}
}

func (h *ChatHandler) HandleProcessChat(ctx context.Context, t *asynq.Task) error {
	var p tasks.ProcessChatPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.ConversationID == 0 {
		return fmt.Errorf("无效的问答任务载荷: %v: %w", err, asynq.SkipRetry)
	}

	h.logger.Info("开始处理问答任务", zap.String("user_id", p.UserID), zap.Uint64("conversation_id", p.ConversationID))
	if err := h.processor.Process(ctx, &p); err != nil {
		h.logger.Error("问答任务失败", zap.Uint64("conversation_id", p.ConversationID), zap.Error(err))
		return err
	}
	return nil
}
