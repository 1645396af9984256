package ai

import (
	"context"

	"legalai/internal/imageutil"
	"legalai/internal/metrics"
	"legalai/pkg/aiinterface"

	"go.uber.org/zap"
)

// 多模态降级原因
const (
	degradeUnsupported = "unsupported_provider"
	degradeMissingKey  = "missing_api_key"
	degradeRetryable   = "retryable_error"
)

// completeMultimodal 只向主提供商发送图片；不支持、缺 Key 或可切换的错误时退回纯文本链
func (r *Router) completeMultimodal(ctx context.Context, messages []aiinterface.Message, req *AnswerRequest) (*Completion, bool, error) {
	primary := ResolveProvider(req.Provider, req.UserProvider, r.cfg.ChatProvider)
	timeout := seconds(r.cfg.MultimodalTimeoutSeconds, 160)

	textOnly := func(reason string) (*Completion, bool, error) {
		metrics.MultimodalDegrades.WithLabelValues(reason).Inc()
		r.logger.Info("多模态请求降级为纯文本",
			zap.String("provider", primary.String()),
			zap.String("reason", reason),
		)
		c, err := r.Complete(ctx, CompletionRequest{
			CallOptions: req.CallOptions,
			Messages:    messages,
			Temperature: r.temperature(),
			MaxTokens:   r.maxTokens(),
			Timeout:     timeout,
		})
		return c, true, err
	}

	if !primary.SupportsImages() {
		return textOnly(degradeUnsupported)
	}
	key := lookupKey(r.creds, primary, req.APIKeys)
	if key == "" {
		return textOnly(degradeMissingKey)
	}

	attempt := r.attempt(ctx, primary, key, CompletionRequest{
		CallOptions: req.CallOptions,
		Messages:    r.attachImages(messages, req.Images),
		Temperature: r.temperature(),
		MaxTokens:   r.maxTokens(),
		Timeout:     timeout,
	})
	switch NextStep(attempt) {
	case StepStop:
		return &Completion{
			Text:     attempt.Text,
			Provider: primary,
			Model:    attempt.Model,
			Usage:    attempt.Usage,
			Attempts: []Attempt{attempt},
		}, false, nil
	case StepAdvance:
		return textOnly(degradeRetryable)
	default:
		return nil, false, attempt.Err
	}
}

// attachImages 把图片以 data URL 追加到最后一条用户消息；读取失败的图片被跳过
func (r *Router) attachImages(messages []aiinterface.Message, images []ImageInput) []aiinterface.Message {
	limit := r.cfg.VLM.MaxImages
	if limit <= 0 {
		limit = 3
	}
	maxSide := r.cfg.VLM.MaxImageSide
	if maxSide <= 0 {
		maxSide = 1280
	}

	urls := make([]string, 0, limit)
	for _, img := range images {
		if len(urls) == limit {
			break
		}
		if img.ImagePath == "" {
			continue
		}
		url, err := imageutil.DataURL(img.ImagePath, maxSide, r.cfg.VLM.JPEGQuality)
		if err != nil {
			r.logger.Warn("读取页面图片失败", zap.String("path", img.ImagePath), zap.Error(err))
			continue
		}
		urls = append(urls, url)
	}

	out := make([]aiinterface.Message, len(messages))
	copy(out, messages)
	last := len(out) - 1
	if len(urls) == 0 || last < 0 || out[last].Role != aiinterface.RoleUser {
		return out
	}

	parts := make([]aiinterface.ContentPart, 0, len(urls)+1)
	parts = append(parts, aiinterface.ContentPart{Type: aiinterface.PartText, Text: out[last].Content})
	for _, u := range urls {
		parts = append(parts, aiinterface.ContentPart{Type: aiinterface.PartImageURL, ImageURL: u})
	}
	out[last] = aiinterface.Message{Role: aiinterface.RoleUser, Content: out[last].Content, Parts: parts}
	return out
}
