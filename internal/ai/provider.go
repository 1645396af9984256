package ai

import "strings"

// Provider 对话提供商
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderOpenRouter Provider = "openrouter"
	ProviderGroq       Provider = "groq"
	ProviderDeepSeek   Provider = "deepseek"
	ProviderGrok       Provider = "grok"
	ProviderAnthropic  Provider = "anthropic"
)

// DefaultFallbacks 未配置时的回退顺序
var DefaultFallbacks = []Provider{
	ProviderOpenAI,
	ProviderOpenRouter,
	ProviderGroq,
	ProviderDeepSeek,
	ProviderGrok,
	ProviderAnthropic,
}

// ParseProvider 解析提供商名称，大小写与空白不敏感
func ParseProvider(raw string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case ProviderOpenAI, ProviderOpenRouter, ProviderGroq, ProviderDeepSeek, ProviderGrok, ProviderAnthropic:
		return p, true
	}
	return "", false
}

// ResolveProvider 依次采用显式指定、用户偏好、默认配置；无法识别的值被忽略
func ResolveProvider(override, userPref, def string) Provider {
	for _, raw := range []string{override, userPref, def} {
		if p, ok := ParseProvider(raw); ok {
			return p
		}
	}
	return ProviderOpenAI
}

// EnvKey 提供商 API Key 对应的环境变量名
func (p Provider) EnvKey() string {
	switch p {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderOpenRouter:
		return "OPENROUTER_API_KEY"
	case ProviderGroq:
		return "GROQ_API_KEY"
	case ProviderDeepSeek:
		return "DEEPSEEK_API_KEY"
	case ProviderGrok:
		return "GROK_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	}
	return ""
}

// SupportsImages 是否走 OpenAI 兼容的多模态协议
func (p Provider) SupportsImages() bool {
	return p != ProviderAnthropic
}

func (p Provider) String() string {
	return string(p)
}
