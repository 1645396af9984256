// Package openai 适配 OpenAI 兼容协议的提供商（openai、openrouter、groq、deepseek、grok）
package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"legalai/pkg/aiinterface"

	openai "github.com/sashabaranov/go-openai"
)

// Client OpenAI 兼容客户端适配器
type Client struct {
	client   *openai.Client
	provider string
}

// NewClient 创建 OpenAI 兼容客户端
func NewClient(config *aiinterface.ClientConfig) (*Client, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, &aiinterface.ProviderError{
			Code:     aiinterface.CodeMissingAPIKey,
			Status:   http.StatusUnauthorized,
			Provider: config.Provider,
			Message:  "Missing " + config.Provider + " API key.",
		}
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}
	clientConfig.HTTPClient = newHTTPClient(config.TimeoutSeconds, config.Headers)

	provider := config.Provider
	if provider == "" {
		provider = "openai"
	}
	return &Client{
		client:   openai.NewClientWithConfig(clientConfig),
		provider: provider,
	}, nil
}

// Name 返回客户端名称
func (c *Client) Name() string {
	return c.provider
}

// Chat 对话补全；消息带 Parts 时按多模态发送
func (c *Client) Chat(ctx context.Context, req *aiinterface.ChatRequest) (*aiinterface.ChatResponse, error) {
	purpose := "chat"
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = convertMessage(msg)
		if len(msg.Parts) > 0 {
			purpose = "chat_multimodal"
		}
	}

	openaiReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}

	resp, err := c.client.CreateChatCompletion(ctx, openaiReq)
	if err != nil {
		return nil, WrapError(c.provider, purpose, err)
	}
	if len(resp.Choices) == 0 {
		return nil, aiinterface.ClassifyChatError(c.provider, purpose, http.StatusBadGateway, "empty choices")
	}

	return &aiinterface.ChatResponse{
		Model:   resp.Model,
		Content: strings.TrimSpace(resp.Choices[0].Message.Content),
		Usage: aiinterface.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// TranscribeOptions 转写参数
type TranscribeOptions struct {
	Model    string
	Filename string
	Language string
}

// Transcribe 调用 /audio/transcriptions
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (string, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    opts.Model,
		FilePath: opts.Filename,
		Reader:   audio,
		Language: opts.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", WrapTranscriptionError(displayName(c.provider), err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func convertMessage(msg aiinterface.Message) openai.ChatCompletionMessage {
	if len(msg.Parts) == 0 {
		return openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}
	parts := make([]openai.ChatMessagePart, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		switch p.Type {
		case aiinterface.PartImageURL:
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL},
			})
		default:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.Text,
			})
		}
	}
	return openai.ChatCompletionMessage{Role: msg.Role, MultiContent: parts}
}

// WrapError 把 go-openai 错误归类为 ProviderError
func WrapError(provider, purpose string, err error) *aiinterface.ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		classified := aiinterface.ClassifyChatError(provider, purpose, apiErr.HTTPStatusCode, apiErr.Message)
		classified.Err = err
		return classified
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		classified := aiinterface.ClassifyChatError(provider, purpose, reqErr.HTTPStatusCode, aiinterface.ErrorDetail(reqErr.Body))
		classified.Err = err
		return classified
	}
	return aiinterface.TransportError(provider, purpose, err)
}

// WrapTranscriptionError 转写错误归类
func WrapTranscriptionError(provider string, err error) *aiinterface.ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		classified := aiinterface.ClassifyTranscriptionError(provider, apiErr.HTTPStatusCode, apiErr.Message)
		classified.Err = err
		return classified
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		classified := aiinterface.ClassifyTranscriptionError(provider, reqErr.HTTPStatusCode, aiinterface.ErrorDetail(reqErr.Body))
		classified.Err = err
		return classified
	}
	classified := aiinterface.ClassifyTranscriptionError(provider, http.StatusBadGateway, err.Error())
	classified.Err = err
	return classified
}

func displayName(provider string) string {
	switch provider {
	case "openai":
		return "OpenAI"
	case "groq":
		return "Groq"
	case "openrouter":
		return "OpenRouter"
	default:
		return provider
	}
}

// headerTransport 为每个请求附加固定请求头
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

func newHTTPClient(timeoutSeconds int, headers map[string]string) *http.Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 60
	}
	var transport http.RoundTripper = http.DefaultTransport
	if len(headers) > 0 {
		transport = &headerTransport{base: http.DefaultTransport, headers: headers}
	}
	return &http.Client{
		Timeout:   time.Duration(timeoutSeconds) * time.Second,
		Transport: transport,
	}
}
