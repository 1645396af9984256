package ai

import (
	"legalai/internal/ai/anthropic"
	"legalai/internal/ai/openai"
	"legalai/pkg/aiinterface"
)

// DefaultFactory 按提供商创建对话客户端
type DefaultFactory struct{}

// NewClient 实现 aiinterface.ClientFactory
func (DefaultFactory) NewClient(cfg *aiinterface.ClientConfig) (aiinterface.ChatClient, error) {
	if Provider(cfg.Provider) == ProviderAnthropic {
		return anthropic.NewClient(cfg)
	}
	return openai.NewClient(cfg)
}

// clientConfig 组装单个提供商的客户端配置
func (r *Router) clientConfig(p Provider, key string, timeoutSeconds int) *aiinterface.ClientConfig {
	cfg := &aiinterface.ClientConfig{
		Provider:       p.String(),
		APIKey:         key,
		BaseURL:        r.baseURL(p),
		TimeoutSeconds: timeoutSeconds,
	}
	if p == ProviderOpenRouter {
		cfg.Headers = r.openRouterHeaders()
	}
	return cfg
}

func (r *Router) baseURL(p Provider) string {
	urls := r.cfg.BaseURLs
	switch p {
	case ProviderOpenAI:
		return urls.OpenAI
	case ProviderOpenRouter:
		return urls.OpenRouter
	case ProviderGroq:
		return urls.Groq
	case ProviderDeepSeek:
		return urls.DeepSeek
	case ProviderGrok:
		return urls.Grok
	case ProviderAnthropic:
		return urls.Anthropic
	}
	return ""
}

func (r *Router) openRouterHeaders() map[string]string {
	headers := map[string]string{}
	if r.cfg.OpenRouterReferrer != "" {
		headers["HTTP-Referer"] = r.cfg.OpenRouterReferrer
	}
	if r.cfg.OpenRouterAppName != "" {
		headers["X-Title"] = r.cfg.OpenRouterAppName
	}
	return headers
}

// modelFor 显式模型优先，其次是提供商专属模型，最后是通用 chat_model
func (r *Router) modelFor(p Provider, explicit string) string {
	if explicit != "" {
		return explicit
	}
	var specific string
	switch p {
	case ProviderOpenAI:
		specific = r.cfg.ChatModelOpenAI
	case ProviderGroq:
		specific = r.cfg.ChatModelGroq
	case ProviderOpenRouter:
		specific = r.cfg.ChatModelOpenRouter
	}
	if specific != "" {
		return specific
	}
	return r.cfg.ChatModel
}
