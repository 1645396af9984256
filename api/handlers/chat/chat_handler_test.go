package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	response "legalai/api/handlers/common"
	"legalai/internal/ai"
	"legalai/internal/chat"
	"legalai/pkg/aiinterface"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeAsker struct {
	got  *chat.AskRequest
	resp *chat.AskResponse
	err  error
}

func (f *fakeAsker) Ask(_ context.Context, req *chat.AskRequest) (*chat.AskResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeTranscriber struct {
	got  *ai.TranscribeRequest
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, req *ai.TranscribeRequest) (*ai.TranscriptionResult, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &ai.TranscriptionResult{Text: f.text, Provider: ai.ProviderOpenAI}, nil
}

func newChatRouter(t *testing.T, h *Handler) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(response.UserIDKey, c.GetHeader("X-User-ID"))
		c.Next()
	})
	r.POST("/api/chat/ask", h.Ask)
	r.POST("/api/chat/transcribe", h.Transcribe)
	return r
}

func postJSON(r *gin.Engine, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	code, _ := out["error"].(string)
	return code
}

func TestHandlerAsk(t *testing.T) {
	t.Run("同步回答", func(t *testing.T) {
		id := uint64(7)
		asker := &fakeAsker{resp: &chat.AskResponse{Answer: "Section 302", ConversationID: &id, ContextsUsed: 2}}
		r := newChatRouter(t, NewHandler(asker, nil, 0, zaptest.NewLogger(t)))

		rec := postJSON(r, "/api/chat/ask",
			`{"question":"What is the punishment for murder?","language":"en","province":"punjab","provider":"groq"}`,
			map[string]string{"X-User-ID": "u-1", "X-Groq-Key": " gsk-test "})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "u-1", asker.got.UserID)
		assert.Equal(t, "groq", asker.got.Provider)
		assert.Equal(t, "punjab", asker.got.Province)
		assert.Equal(t, "gsk-test", asker.got.APIKeys[ai.ProviderGroq])
		assert.Len(t, asker.got.APIKeys, 1)
	})

	t.Run("异步处理返回202", func(t *testing.T) {
		asker := &fakeAsker{resp: &chat.AskResponse{Status: chat.StatusProcessing}}
		r := newChatRouter(t, NewHandler(asker, nil, 0, nil))
		rec := postJSON(r, "/api/chat/ask", `{"question":"bail"}`, nil)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Nil(t, asker.got.APIKeys)
	})

	t.Run("错误映射", func(t *testing.T) {
		cases := []struct {
			name   string
			err    error
			status int
			code   string
		}{
			{"空问题", chat.ErrQuestionRequired, http.StatusBadRequest, "question_required"},
			{"问题过长", chat.ErrQuestionTooLong, http.StatusBadRequest, "question_too_long"},
			{"会话不存在", chat.ErrConversationNotFound, http.StatusNotFound, "not_found"},
			{"越权", chat.ErrForbidden, http.StatusForbidden, "forbidden"},
			{"缺少凭证", &aiinterface.ProviderError{Code: aiinterface.CodeMissingAPIKey, Status: http.StatusBadRequest, Message: "API key isn't setup."}, http.StatusBadRequest, "missing_api_key"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				r := newChatRouter(t, NewHandler(&fakeAsker{err: tc.err}, nil, 0, nil))
				rec := postJSON(r, "/api/chat/ask", `{"question":"x"}`, nil)
				assert.Equal(t, tc.status, rec.Code)
				assert.Equal(t, tc.code, errorCode(t, rec))
			})
		}
	})

	t.Run("非法请求体", func(t *testing.T) {
		r := newChatRouter(t, NewHandler(&fakeAsker{}, nil, 0, nil))
		rec := postJSON(r, "/api/chat/ask", `{"question":`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func audioUpload(t *testing.T, r *gin.Engine, content []byte, withFile bool) *httptest.ResponseRecorder {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	require.NoError(t, w.WriteField("language", "ur"))
	if withFile {
		part, err := w.CreateFormFile("audio", "voice.webm")
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/chat/transcribe", buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-OpenAI-Key", "sk-test")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlerTranscribe(t *testing.T) {
	t.Run("转写成功", func(t *testing.T) {
		tr := &fakeTranscriber{text: "  zamanat kaise milti hai  "}
		r := newChatRouter(t, NewHandler(nil, tr, 1, nil))
		rec := audioUpload(t, r, []byte("RIFFdata"), true)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "voice.webm", tr.got.Filename)
		assert.Equal(t, "ur", tr.got.Language)
		assert.Equal(t, "sk-test", tr.got.APIKeys[ai.ProviderOpenAI])
		assert.Contains(t, rec.Body.String(), `"text":"zamanat kaise milti hai"`)
	})

	t.Run("缺少音频", func(t *testing.T) {
		r := newChatRouter(t, NewHandler(nil, &fakeTranscriber{}, 1, nil))
		rec := audioUpload(t, r, nil, false)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), msgAudioRequired)
	})

	t.Run("空音频", func(t *testing.T) {
		r := newChatRouter(t, NewHandler(nil, &fakeTranscriber{}, 1, nil))
		rec := audioUpload(t, r, []byte{}, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), msgAudioEmpty)
	})

	t.Run("超过大小", func(t *testing.T) {
		r := newChatRouter(t, NewHandler(nil, &fakeTranscriber{}, 1, nil))
		rec := audioUpload(t, r, bytes.Repeat([]byte("a"), 2<<20), true)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("未识别到语音", func(t *testing.T) {
		r := newChatRouter(t, NewHandler(nil, &fakeTranscriber{text: "   "}, 1, nil))
		rec := audioUpload(t, r, []byte("RIFF"), true)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), msgNoSpeech)
	})

	t.Run("提供商错误透传", func(t *testing.T) {
		tr := &fakeTranscriber{err: &aiinterface.ProviderError{Code: aiinterface.CodeQuotaExceeded, Status: http.StatusTooManyRequests, Message: "quota"}}
		r := newChatRouter(t, NewHandler(nil, tr, 1, nil))
		rec := audioUpload(t, r, []byte("RIFF"), true)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "quota_exceeded", errorCode(t, rec))
	})
}
