package aiinterface

import "context"

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// 多模态内容片段类型
const (
	PartText     = "text"
	PartImageURL = "image_url"
)

// ContentPart 多模态消息的一个片段
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"` // data URL 或 http(s) 地址
}

// Message 消息结构
type Message struct {
	Role    string        `json:"role"`            // system, user, assistant
	Content string        `json:"content"`         // 纯文本内容
	Parts   []ContentPart `json:"parts,omitempty"` // 非空时按多模态发送，Content 被忽略
}

// ChatRequest 对话补全请求
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatResponse 对话补全响应
type ChatResponse struct {
	Model   string `json:"model"`
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage Token 使用情况
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatClient 单个提供商的对话客户端
type ChatClient interface {
	// Chat 发送一次补全请求；失败时返回 *ProviderError
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name 返回提供商名称（如 "openai", "anthropic"）
	Name() string
}

// ClientConfig 客户端配置
type ClientConfig struct {
	Provider       string            // 提供商
	APIKey         string            // API Key
	BaseURL        string            // 基础 URL
	TimeoutSeconds int               // 超时时间（秒）
	Headers        map[string]string // 额外请求头（OpenRouter 的 HTTP-Referer / X-Title）
}
