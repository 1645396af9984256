package ai

import (
	"context"
	"errors"
	"time"

	"legalai/internal/metrics"
	"legalai/pkg/aiinterface"

	"go.uber.org/zap"
)

// LoggingClient 带日志与指标记录的客户端包装器
type LoggingClient struct {
	client aiinterface.ChatClient
	logger *zap.Logger
}

// NewLoggingClient 创建带日志记录的客户端
func NewLoggingClient(client aiinterface.ChatClient, logger *zap.Logger) *LoggingClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingClient{client: client, logger: logger}
}

// Name 返回底层客户端名称
func (c *LoggingClient) Name() string {
	return c.client.Name()
}

// Chat 对话补全（带日志记录）
func (c *LoggingClient) Chat(ctx context.Context, req *aiinterface.ChatRequest) (*aiinterface.ChatResponse, error) {
	purpose := purposeOf(req)
	start := time.Now()

	resp, err := c.client.Chat(ctx, req)

	latency := time.Since(start)
	metrics.ProviderLatency.WithLabelValues(c.client.Name(), purpose).Observe(latency.Seconds())
	outcome := outcomeOf(err)
	metrics.ProviderAttemptsTotal.WithLabelValues(c.client.Name(), purpose, outcome).Inc()

	fields := []zap.Field{
		zap.String("provider", c.client.Name()),
		zap.String("model", req.Model),
		zap.String("purpose", purpose),
		zap.Int64("latency_ms", latency.Milliseconds()),
	}
	if err != nil {
		c.logger.Warn("模型调用失败", append(fields, zap.String("outcome", outcome), zap.Error(err))...)
		return nil, err
	}
	c.logger.Debug("模型调用完成",
		append(fields,
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)...,
	)
	return resp, nil
}

func purposeOf(req *aiinterface.ChatRequest) string {
	for _, m := range req.Messages {
		if len(m.Parts) > 0 {
			return "chat_multimodal"
		}
	}
	return "chat"
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	var perr *aiinterface.ProviderError
	if errors.As(err, &perr) {
		return string(perr.Code)
	}
	return "error"
}
