package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"legalai/internal/ai/openai"
	"legalai/internal/metrics"
	"legalai/pkg/aiinterface"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// transcriptionProviders 语音转写支持的提供商，也是 auto 模式的选择顺序
var transcriptionProviders = []Provider{ProviderOpenAI, ProviderOpenRouter, ProviderGroq}

var audioFormats = map[string]bool{"wav": true, "mp3": true, "m4a": true, "webm": true, "ogg": true}

// TranscribeRequest 语音转写请求
type TranscribeRequest struct {
	Audio       []byte
	Filename    string
	ContentType string
	Language    string
	Provider    string // 空或 auto 表示自动选择
	Model       string
	APIKeys     APIKeys
}

// TranscriptionResult 转写结果
type TranscriptionResult struct {
	Text     string
	Provider Provider
}

// TranscriptionCandidates 计算转写候选顺序，只保留有凭证的提供商
func TranscriptionCandidates(raw string, hasKey func(Provider) bool) ([]Provider, *aiinterface.ProviderError) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	ordered := transcriptionProviders
	if raw != "" && raw != "auto" {
		p, ok := ParseProvider(raw)
		if !ok || !isTranscriptionProvider(p) {
			return nil, &aiinterface.ProviderError{
				Code:    aiinterface.CodeInvalidProvider,
				Status:  http.StatusBadRequest,
				Purpose: "transcription",
				Message: "Unsupported speech provider.",
			}
		}
		ordered = append([]Provider{p}, without(transcriptionProviders, p)...)
	}

	out := make([]Provider, 0, len(ordered))
	for _, p := range ordered {
		if hasKey(p) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, &aiinterface.ProviderError{
			Code:    aiinterface.CodeMissingAPIKey,
			Status:  http.StatusBadRequest,
			Purpose: "transcription",
			Message: "API key isn't setup.",
		}
	}
	return out, nil
}

func isTranscriptionProvider(p Provider) bool {
	for _, c := range transcriptionProviders {
		if c == p {
			return true
		}
	}
	return false
}

func without(list []Provider, p Provider) []Provider {
	out := make([]Provider, 0, len(list))
	for _, c := range list {
		if c != p {
			out = append(out, c)
		}
	}
	return out
}

// Transcribe 语音转文字；额度耗尽或上游故障时尝试下一个有凭证的提供商
func (r *Router) Transcribe(ctx context.Context, req *TranscribeRequest) (*TranscriptionResult, error) {
	candidates, perr := TranscriptionCandidates(req.Provider, func(p Provider) bool {
		return r.HasKey(p, req.APIKeys)
	})
	if perr != nil {
		return nil, perr
	}

	var lastErr error
	for i, p := range candidates {
		text, err := r.transcribeOnce(ctx, p, lookupKey(r.creds, p, req.APIKeys), req)
		if err == nil {
			metrics.TranscriptionsTotal.WithLabelValues(p.String(), "ok").Inc()
			return &TranscriptionResult{Text: text, Provider: p}, nil
		}

		lastErr = err
		pe := asTranscriptionError(p, err)
		metrics.TranscriptionsTotal.WithLabelValues(p.String(), string(pe.Code)).Inc()
		if !transcriptionAdvances(pe) || i == len(candidates)-1 {
			return nil, pe
		}
		r.logger.Warn("语音转写失败，切换下一个提供商",
			zap.String("provider", p.String()),
			zap.String("code", string(pe.Code)),
		)
	}
	return nil, lastErr
}

func transcriptionAdvances(e *aiinterface.ProviderError) bool {
	return e.Code == aiinterface.CodeQuotaExceeded || e.Status >= http.StatusInternalServerError
}

func asTranscriptionError(p Provider, err error) *aiinterface.ProviderError {
	var pe *aiinterface.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	out := aiinterface.ClassifyTranscriptionError(p.String(), http.StatusBadGateway, err.Error())
	out.Err = err
	return out
}

func (r *Router) transcribeOnce(ctx context.Context, p Provider, key string, req *TranscribeRequest) (string, error) {
	tc := r.cfg.Transcription
	timeout := seconds(tc.TimeoutSeconds, 60)

	if p == ProviderOpenRouter {
		return r.transcribeOpenRouter(ctx, key, req, firstNonEmpty(req.Model, tc.OpenRouterModel, "openai/gpt-4o-mini-transcribe"), timeout)
	}

	model := firstNonEmpty(req.Model, tc.OpenAIModel, "whisper-1")
	if p == ProviderGroq {
		model = firstNonEmpty(req.Model, tc.GroqModel, "whisper-large-v3-turbo")
	}
	client, err := openai.NewClient(&aiinterface.ClientConfig{
		Provider:       p.String(),
		APIKey:         key,
		BaseURL:        r.baseURL(p),
		TimeoutSeconds: int(timeout / time.Second),
	})
	if err != nil {
		return "", err
	}
	filename := req.Filename
	if filename == "" {
		filename = "audio." + audioFormat(req.Filename, req.ContentType)
	}
	return client.Transcribe(ctx, bytes.NewReader(req.Audio), openai.TranscribeOptions{
		Model:    model,
		Filename: filename,
		Language: req.Language,
	})
}

type openRouterChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

type openRouterResponse struct {
	Choices []openRouterChoice `json:"choices"`
}

// transcribeOpenRouter OpenRouter 没有转写接口，通过 chat/completions 的 input_audio 片段完成
func (r *Router) transcribeOpenRouter(ctx context.Context, key string, req *TranscribeRequest, model string, timeout time.Duration) (string, error) {
	payload := map[string]any{
		"model": model,
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{
					"type": "input_audio",
					"inputAudio": map[string]string{
						"data":   base64.StdEncoding.EncodeToString(req.Audio),
						"format": audioFormat(req.Filename, req.ContentType),
					},
				},
				{"type": "text", "text": "Transcribe the audio verbatim."},
			},
		}},
	}

	var out openRouterResponse
	resp, err := resty.New().
		SetTimeout(timeout).
		SetAuthToken(key).
		SetHeaders(r.openRouterHeaders()).
		R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&out).
		Post(strings.TrimRight(r.cfg.BaseURLs.OpenRouter, "/") + "/chat/completions")
	if err != nil {
		e := aiinterface.ClassifyTranscriptionError("OpenRouter", http.StatusBadGateway, err.Error())
		e.Err = err
		return "", e
	}
	if resp.IsError() {
		return "", aiinterface.ClassifyTranscriptionError("OpenRouter", resp.StatusCode(), aiinterface.ErrorDetail(resp.Body()))
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// audioFormat 音频格式取自扩展名，其次是 Content-Type，默认 wav
func audioFormat(filename, contentType string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if audioFormats[ext] {
		return ext
	}
	if contentType != "" {
		exts, _ := mime.ExtensionsByType(contentType)
		for _, e := range exts {
			if e = strings.TrimPrefix(strings.ToLower(e), "."); audioFormats[e] {
				return e
			}
		}
	}
	return "wav"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
