package ai

import "legalai/pkg/aiinterface"

// 重新导出aiinterface包的类型，子包只依赖 pkg/aiinterface
type (
	Message       = aiinterface.Message
	ContentPart   = aiinterface.ContentPart
	ChatRequest   = aiinterface.ChatRequest
	ChatResponse  = aiinterface.ChatResponse
	Usage         = aiinterface.Usage
	ChatClient    = aiinterface.ChatClient
	ClientConfig  = aiinterface.ClientConfig
	ClientFactory = aiinterface.ClientFactory
	ProviderError = aiinterface.ProviderError
	ErrorCode     = aiinterface.ErrorCode
)

// 重新导出错误码
const (
	CodeInvalidAPIKey       = aiinterface.CodeInvalidAPIKey
	CodeForbidden           = aiinterface.CodeForbidden
	CodeRateLimited         = aiinterface.CodeRateLimited
	CodeUpstreamError       = aiinterface.CodeUpstreamError
	CodeRequestFailed       = aiinterface.CodeRequestFailed
	CodeMissingAPIKey       = aiinterface.CodeMissingAPIKey
	CodeInvalidProvider     = aiinterface.CodeInvalidProvider
	CodeQuotaExceeded       = aiinterface.CodeQuotaExceeded
	CodeTranscriptionFailed = aiinterface.CodeTranscriptionFailed
)

// CallOptions 单次调用的提供商选择与凭证覆盖
type CallOptions struct {
	Provider     string  `json:"provider,omitempty"`     // 显式指定，优先级最高
	UserProvider string  `json:"userProvider,omitempty"` // 用户保存的偏好
	Model        string  `json:"model,omitempty"`        // 显式模型
	APIKeys      APIKeys `json:"apiKeys,omitempty"`      // 请求级凭证
}
