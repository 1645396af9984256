package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	response "legalai/api/handlers/common"
	"legalai/internal/ai"
	"legalai/internal/chat"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Asker 问答编排
type Asker interface {
	Ask(ctx context.Context, req *chat.AskRequest) (*chat.AskResponse, error)
}

// Transcriber 语音转写
type Transcriber interface {
	Transcribe(ctx context.Context, req *ai.TranscribeRequest) (*ai.TranscriptionResult, error)
}

// 请求级凭证头
var keyHeaders = map[string]ai.Provider{
	"X-OpenAI-Key":     ai.ProviderOpenAI,
	"X-OpenRouter-Key": ai.ProviderOpenRouter,
	"X-Groq-Key":       ai.ProviderGroq,
	"X-DeepSeek-Key":   ai.ProviderDeepSeek,
	"X-Grok-Key":       ai.ProviderGrok,
	"X-Anthropic-Key":  ai.ProviderAnthropic,
}

var askErrors = []response.ErrorMapping{
	{Err: chat.ErrQuestionRequired, Status: http.StatusBadRequest, Code: "question_required"},
	{Err: chat.ErrQuestionTooLong, Status: http.StatusBadRequest, Code: "question_too_long"},
	{Err: chat.ErrInvalidLanguage, Status: http.StatusBadRequest, Code: "invalid_language"},
	{Err: chat.ErrInvalidProvider, Status: http.StatusBadRequest, Code: "invalid_provider"},
	{Err: chat.ErrConversationNotFound, Status: http.StatusNotFound, Code: "not_found"},
	{Err: chat.ErrForbidden, Status: http.StatusForbidden, Code: "forbidden"},
}

// 转写提示
const (
	msgAudioRequired = "Audio file required"
	msgAudioEmpty    = "Audio file is empty"
	msgAudioTooLarge = "Audio file too large"
	msgNoSpeech      = "No speech detected. Please try again."
)

// Handler 问答处理器
type Handler struct {
	asker       Asker
	transcriber Transcriber
	maxUploadMB int
	logger      *zap.Logger
}

// NewHandler 创建问答处理器
func NewHandler(asker Asker, transcriber Transcriber, maxUploadMB int, logger *zap.Logger) *Handler {
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{asker: asker, transcriber: transcriber, maxUploadMB: maxUploadMB, logger: logger}
}

// AskBody 提问请求体
type AskBody struct {
	Question       string  `json:"question"`
	ConversationID *uint64 `json:"conversationId"`
	Language       string  `json:"language"`
	Province       string  `json:"province"`
	Provider       string  `json:"provider"`
	UserProvider   string  `json:"userProvider"`
	Model          string  `json:"model"`
}

// Ask 提问；异步处理时返回 202
func (h *Handler) Ask(c *gin.Context) {
	var body AskBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Fail(c, http.StatusBadRequest, "invalid_request", "参数错误: "+err.Error())
		return
	}

	resp, err := h.asker.Ask(c.Request.Context(), &chat.AskRequest{
		CallOptions: ai.CallOptions{
			Provider:     body.Provider,
			UserProvider: body.UserProvider,
			Model:        body.Model,
			APIKeys:      headerKeys(c),
		},
		UserID:         response.UserID(c),
		ConversationID: body.ConversationID,
		Question:       body.Question,
		Language:       body.Language,
		Province:       body.Province,
	})
	if err != nil {
		h.logger.Warn("问答失败", zap.String("user_id", response.UserID(c)), zap.Error(err))
		response.WriteError(c, err, askErrors...)
		return
	}

	status := http.StatusOK
	if resp.Status == chat.StatusProcessing {
		status = http.StatusAccepted
	}
	response.OK(c, status, resp)
}

// Transcribe 上传音频并转写为文本
func (h *Handler) Transcribe(c *gin.Context) {
	limit := int64(h.maxUploadMB) << 20
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	file, err := c.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Fail(c, http.StatusRequestEntityTooLarge, "file_too_large", msgAudioTooLarge)
			return
		}
		response.Fail(c, http.StatusBadRequest, "audio_required", msgAudioRequired)
		return
	}
	if file.Size == 0 {
		response.Fail(c, http.StatusBadRequest, "audio_empty", msgAudioEmpty)
		return
	}
	if file.Size > limit {
		response.Fail(c, http.StatusRequestEntityTooLarge, "file_too_large", msgAudioTooLarge)
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Fail(c, http.StatusBadRequest, "audio_unreadable", "读取音频失败")
		return
	}
	defer f.Close()
	audio, err := io.ReadAll(f)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, "audio_unreadable", "读取音频失败")
		return
	}
	if len(audio) == 0 {
		response.Fail(c, http.StatusBadRequest, "audio_empty", msgAudioEmpty)
		return
	}

	result, err := h.transcriber.Transcribe(c.Request.Context(), &ai.TranscribeRequest{
		Audio:       audio,
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Language:    c.PostForm("language"),
		Provider:    c.PostForm("provider"),
		Model:       c.PostForm("model"),
		APIKeys:     headerKeys(c),
	})
	if err != nil {
		h.logger.Warn("语音转写失败", zap.String("filename", file.Filename), zap.Error(err))
		response.WriteError(c, err)
		return
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		response.Fail(c, http.StatusUnprocessableEntity, "no_speech", msgNoSpeech)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"text": text, "provider": result.Provider})
}

func headerKeys(c *gin.Context) ai.APIKeys {
	var keys ai.APIKeys
	for header, p := range keyHeaders {
		v := strings.TrimSpace(c.GetHeader(header))
		if v == "" {
			continue
		}
		if keys == nil {
			keys = ai.APIKeys{}
		}
		keys[p] = v
	}
	return keys
}
