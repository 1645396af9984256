// Package ai 负责提供商选择、回退链、提示词组装与回答后处理
package ai

import (
	"context"
	"errors"
	"time"

	"legalai/internal/config"
	"legalai/pkg/aiinterface"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Router 按回退链调用对话提供商
type Router struct {
	cfg     config.LLMConfig
	creds   CredentialProvider
	factory aiinterface.ClientFactory
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewRouter 创建路由器；factory 为空时使用 DefaultFactory，creds 为空时使用注册的凭证提供者
func NewRouter(cfg config.LLMConfig, factory aiinterface.ClientFactory, creds CredentialProvider, logger *zap.Logger) *Router {
	if factory == nil {
		factory = DefaultFactory{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:     cfg,
		creds:   creds,
		factory: factory,
		logger:  logger,
		tracer:  otel.Tracer("legalai/internal/ai"),
	}
}

// CompletionRequest 一次与提供商无关的补全请求
type CompletionRequest struct {
	CallOptions
	Messages    []aiinterface.Message
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Completion 补全结果
type Completion struct {
	Text     string
	Provider Provider
	Model    string
	Usage    aiinterface.Usage
	Attempts []Attempt
}

// HasKey 该提供商当前是否有可用凭证
func (r *Router) HasKey(p Provider, overrides APIKeys) bool {
	return lookupKey(r.creds, p, overrides) != ""
}

// HasAnyKey 回退链上是否至少有一个提供商可用
func (r *Router) HasAnyKey(opts CallOptions) bool {
	primary := ResolveProvider(opts.Provider, opts.UserProvider, r.cfg.ChatProvider)
	for _, p := range BuildChain(primary, ParseFallbacks(r.cfg.Fallbacks)) {
		if r.HasKey(p, opts.APIKeys) {
			return true
		}
	}
	return false
}

// Complete 沿回退链依次尝试，直到成功或遇到不可切换的错误
func (r *Router) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	primary := ResolveProvider(req.Provider, req.UserProvider, r.cfg.ChatProvider)
	chain := BuildChain(primary, ParseFallbacks(r.cfg.Fallbacks))

	attempts := make([]Attempt, 0, len(chain))
	for _, p := range chain {
		key := lookupKey(r.creds, p, req.APIKeys)
		if key == "" {
			attempts = append(attempts, Attempt{Provider: p, Skipped: true})
			continue
		}

		attempt := r.attempt(ctx, p, key, req)
		attempts = append(attempts, attempt)

		switch NextStep(attempt) {
		case StepStop:
			return &Completion{
				Text:     attempt.Text,
				Provider: p,
				Model:    attempt.Model,
				Usage:    attempt.Usage,
				Attempts: attempts,
			}, nil
		case StepFail:
			return nil, attempt.Err
		default:
			r.logger.Warn("提供商调用失败，切换下一个",
				zap.String("provider", p.String()),
				zap.String("code", string(attempt.Err.Code)),
				zap.String("message", attempt.Err.Message),
			)
		}
	}

	return nil, chainError(primary, attempts)
}

// attempt 调用单个提供商，错误统一归类为 ProviderError
func (r *Router) attempt(ctx context.Context, p Provider, key string, req CompletionRequest) Attempt {
	model := r.modelFor(p, req.Model)
	out := Attempt{Provider: p, Model: model}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = time.Duration(max(r.cfg.TimeoutSeconds, 1)) * time.Second
	}

	client, err := r.factory.NewClient(r.clientConfig(p, key, int(timeout/time.Second)))
	if err != nil {
		out.Err = asProviderError(p, err)
		return out
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := NewLoggingClient(client, r.logger).Chat(callCtx, &aiinterface.ChatRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		out.Err = asProviderError(p, err)
		return out
	}
	out.Text = resp.Content
	out.Usage = resp.Usage
	if resp.Model != "" {
		out.Model = resp.Model
	}
	return out
}

func asProviderError(p Provider, err error) *aiinterface.ProviderError {
	var perr *aiinterface.ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	return aiinterface.TransportError(p.String(), "chat", err)
}

// ImageInput 检索得到的页面截图
type ImageInput struct {
	PageNumber int
	ImagePath  string
}

// AnswerRequest 法律问答请求
type AnswerRequest struct {
	CallOptions
	Question string
	Contexts []string
	Images   []ImageInput
	Language string
	Province string
	History  []aiinterface.Message
}

// AnswerResult 回答及实际使用的提示词
type AnswerResult struct {
	Answer     string
	Messages   []aiinterface.Message
	ElapsedMs  int64
	Provider   Provider
	Model      string
	Multimodal bool
	Degraded   bool
	Usage      aiinterface.Usage
}

// Answer 生成法律知识回答；存在图片上下文或开启 vlm.always 时走多模态
func (r *Router) Answer(ctx context.Context, req *AnswerRequest) (*AnswerResult, error) {
	start := time.Now()
	multimodal := len(req.Images) > 0 || r.cfg.VLM.Always

	ctx, span := r.tracer.Start(ctx, "ai.Answer", trace.WithAttributes(
		attribute.Bool("multimodal", multimodal),
		attribute.Int("contexts", len(req.Contexts)),
		attribute.Int("images", len(req.Images)),
	))
	defer span.End()

	messages := BuildAnswerMessages(req, multimodal)
	result := &AnswerResult{Messages: messages}

	var (
		completion *Completion
		err        error
	)
	if multimodal {
		completion, result.Degraded, err = r.completeMultimodal(ctx, messages, req)
		result.Multimodal = !result.Degraded
	} else {
		completion, err = r.Complete(ctx, CompletionRequest{
			CallOptions: req.CallOptions,
			Messages:    messages,
			Temperature: r.temperature(),
			MaxTokens:   r.maxTokens(),
			Timeout:     seconds(r.cfg.TimeoutSeconds, 130),
		})
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	hasSources := len(req.Contexts) > 0 || len(req.Images) > 0
	result.Answer = PostProcessAnswer(completion.Text, hasSources)
	result.Provider = completion.Provider
	result.Model = completion.Model
	result.Usage = completion.Usage
	result.ElapsedMs = time.Since(start).Milliseconds()

	span.SetAttributes(attribute.String("provider", completion.Provider.String()))
	return result, nil
}

func (r *Router) temperature() float64 {
	if r.cfg.Temperature > 0 {
		return r.cfg.Temperature
	}
	return 0.2
}

func (r *Router) maxTokens() int {
	if r.cfg.MaxTokens > 0 {
		return r.cfg.MaxTokens
	}
	return 2200
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}
