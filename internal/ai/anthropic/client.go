// Package anthropic Anthropic Messages API 客户端
package anthropic

import (
	"context"
	"net/http"
	"strings"
	"time"

	"legalai/pkg/aiinterface"

	"github.com/go-resty/resty/v2"
)

const (
	defaultEndpoint  = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 800
)

// Client Anthropic Claude 客户端适配器
type Client struct {
	http     *resty.Client
	endpoint string
}

// NewClient 创建 Anthropic 客户端；BaseURL 为完整的 messages 地址
func NewClient(config *aiinterface.ClientConfig) (*Client, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, &aiinterface.ProviderError{
			Code:     aiinterface.CodeMissingAPIKey,
			Status:   http.StatusUnauthorized,
			Provider: "anthropic",
			Message:  "Missing anthropic API key.",
		}
	}

	endpoint := config.BaseURL
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	timeout := config.TimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}

	client := resty.New().
		SetTimeout(time.Duration(timeout)*time.Second).
		SetHeader("x-api-key", config.APIKey).
		SetHeader("anthropic-version", apiVersion).
		SetHeader("Content-Type", "application/json")

	return &Client{http: client, endpoint: endpoint}, nil
}

// anthropicRequest Anthropic API 请求
type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system"`
}

// anthropicMessage Anthropic 消息
type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse Anthropic API 响应
type anthropicResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Content []anthropicContent `json:"content"`
	Usage   anthropicUsage     `json:"usage"`
}

// anthropicContent Anthropic 内容
type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// anthropicUsage Anthropic Token 使用
type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Name 返回客户端名称
func (c *Client) Name() string {
	return "anthropic"
}

// Chat 对话补全；system 消息合并为 system 字段，图片片段不支持
func (c *Client) Chat(ctx context.Context, req *aiinterface.ChatRequest) (*aiinterface.ChatResponse, error) {
	var systemParts []string
	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		content := msg.Content
		if len(msg.Parts) > 0 {
			content = textOf(msg.Parts)
		}
		switch msg.Role {
		case aiinterface.RoleSystem:
			if content != "" {
				systemParts = append(systemParts, content)
			}
		case aiinterface.RoleUser, aiinterface.RoleAssistant:
			messages = append(messages, anthropicMessage{Role: msg.Role, Content: content})
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	body := anthropicRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		System:      strings.Join(systemParts, "\n\n"),
	}

	var out anthropicResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(c.endpoint)
	if err != nil {
		return nil, aiinterface.TransportError("anthropic", "chat", err)
	}
	if resp.IsError() {
		return nil, aiinterface.ClassifyChatError("anthropic", "chat", resp.StatusCode(), aiinterface.ErrorDetail(resp.Body()))
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &aiinterface.ChatResponse{
		Model:   out.Model,
		Content: strings.TrimSpace(text.String()),
		Usage: aiinterface.Usage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
			TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
		},
	}, nil
}

func textOf(parts []aiinterface.ContentPart) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Type == aiinterface.PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}
