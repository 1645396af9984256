package aiinterface

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode 对调用方暴露的错误码
type ErrorCode string

const (
	CodeInvalidAPIKey       ErrorCode = "invalid_api_key"
	CodeForbidden           ErrorCode = "forbidden"
	CodeRateLimited         ErrorCode = "rate_limited"
	CodeUpstreamError       ErrorCode = "upstream_error"
	CodeRequestFailed       ErrorCode = "request_failed"
	CodeMissingAPIKey       ErrorCode = "missing_api_key"
	CodeInvalidProvider     ErrorCode = "invalid_provider"
	CodeQuotaExceeded       ErrorCode = "quota_exceeded"
	CodeTranscriptionFailed ErrorCode = "transcription_failed"
)

// ProviderError 提供商调用错误，Status 为对外的 HTTP 状态码
type ProviderError struct {
	Code     ErrorCode `json:"error"`
	Status   int       `json:"status"`
	Provider string    `json:"provider,omitempty"`
	Purpose  string    `json:"purpose,omitempty"`
	Message  string    `json:"message"`
	Err      error     `json:"-"`
}

// Error 实现error接口
func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap 返回原始错误
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable 是否应切换到下一个提供商
func (e *ProviderError) Retryable() bool {
	switch e.Code {
	case CodeRateLimited, CodeForbidden, CodeUpstreamError:
		return true
	default:
		return false
	}
}

// ErrorDetail 从错误响应体中提取 error.message 或 message，非 JSON 时返回原文
func ErrorDetail(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	if inner, ok := payload["error"].(map[string]any); ok {
		if msg, ok := inner["message"].(string); ok {
			return msg
		}
		return ""
	}
	if msg, ok := payload["message"].(string); ok {
		return msg
	}
	return ""
}

// ClassifyChatError 按状态码与错误详情归类对话补全失败
func ClassifyChatError(provider, purpose string, status int, detail string) *ProviderError {
	lower := strings.ToLower(detail)
	e := &ProviderError{Provider: provider, Purpose: purpose}
	switch {
	case status == http.StatusUnauthorized:
		e.Code, e.Status = CodeInvalidAPIKey, http.StatusUnauthorized
		e.Message = fmt.Sprintf("Invalid %s API key.", provider)
	case status == http.StatusForbidden:
		e.Code, e.Status = CodeForbidden, http.StatusForbidden
		e.Message = fmt.Sprintf("%s request forbidden. Check API key or permissions.", provider)
	case status == http.StatusTooManyRequests || strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota"):
		e.Code, e.Status = CodeRateLimited, http.StatusTooManyRequests
		e.Message = fmt.Sprintf("%s rate limit exceeded. Please try again later.", provider)
	case status >= 500:
		e.Code, e.Status = CodeUpstreamError, http.StatusBadGateway
		e.Message = fmt.Sprintf("%s service error. Please try again later.", provider)
	default:
		e.Code, e.Status = CodeRequestFailed, status
		e.Message = strings.TrimSpace(fmt.Sprintf("%s request failed. %s", provider, detail))
	}
	return e
}

// TransportError 网络错误与超时按上游错误处理，允许切换提供商
func TransportError(provider, purpose string, err error) *ProviderError {
	return &ProviderError{
		Code:     CodeUpstreamError,
		Status:   http.StatusBadGateway,
		Provider: provider,
		Purpose:  purpose,
		Message:  fmt.Sprintf("%s service error. Please try again later.", provider),
		Err:      err,
	}
}

// ClassifyTranscriptionError 语音转写失败归类
func ClassifyTranscriptionError(provider string, status int, detail string) *ProviderError {
	lower := strings.ToLower(detail)
	e := &ProviderError{Provider: provider, Purpose: "transcription"}
	switch {
	case status == http.StatusUnauthorized:
		e.Code, e.Status = CodeInvalidAPIKey, http.StatusUnauthorized
		e.Message = fmt.Sprintf("Invalid %s API key for voice input.", provider)
	case status == http.StatusTooManyRequests || strings.Contains(lower, "quota") || strings.Contains(lower, "limit"):
		e.Code, e.Status = CodeQuotaExceeded, http.StatusTooManyRequests
		e.Message = fmt.Sprintf("Daily limit reached for %s. Please try again later.", provider)
	default:
		e.Code = CodeTranscriptionFailed
		e.Status = http.StatusBadRequest
		if status >= 500 {
			e.Status = http.StatusBadGateway
		}
		e.Message = strings.TrimSpace(fmt.Sprintf("Voice transcription failed for %s. %s", provider, detail))
	}
	return e
}
