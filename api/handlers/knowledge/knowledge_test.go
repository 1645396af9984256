package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"legalai/internal/rag"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSources struct {
	uploaded  rag.UploadInput
	body      string
	uploadErr error
	urlErr    error
	retryErr  error
	deleteErr error
	listed    rag.SourceStatus
	items     []rag.KnowledgeSource
}

func (f *fakeSources) Upload(_ context.Context, in rag.UploadInput) (*rag.KnowledgeSource, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	data, _ := io.ReadAll(in.Content)
	f.uploaded = in
	f.body = string(data)
	return &rag.KnowledgeSource{ID: "src-1", Title: in.Title, Status: rag.StatusQueued}, nil
}

func (f *fakeSources) AddURL(_ context.Context, title, rawURL, language string) (*rag.KnowledgeSource, error) {
	if f.urlErr != nil {
		return nil, f.urlErr
	}
	return &rag.KnowledgeSource{ID: "src-2", Title: title, URL: rawURL, Language: language, Status: rag.StatusQueued}, nil
}

func (f *fakeSources) List(_ context.Context, status rag.SourceStatus) ([]rag.KnowledgeSource, error) {
	f.listed = status
	return f.items, nil
}

func (f *fakeSources) Retry(_ context.Context, id string) (*rag.KnowledgeSource, error) {
	if f.retryErr != nil {
		return nil, f.retryErr
	}
	return &rag.KnowledgeSource{ID: id, Status: rag.StatusQueued}, nil
}

func (f *fakeSources) Delete(_ context.Context, _ string) error {
	return f.deleteErr
}

type fakeSweeper struct {
	calls int
	err   error
}

func (f *fakeSweeper) EnqueueRetrySweep(context.Context) error {
	f.calls++
	return f.err
}

type fakeRetrier struct{ n int }

func (f *fakeRetrier) RetryStaleSources(context.Context) (int, error) {
	return f.n, nil
}

func newSourceRouter(t *testing.T, h *SourceHandler) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/api/admin/sources")
	g.POST("", h.Upload)
	g.POST("/url", h.AddURL)
	g.GET("", h.List)
	g.POST("/:id/retry", h.Retry)
	g.DELETE("/:id", h.Delete)
	g.POST("/retry-stale", h.RetryStale)
	return r
}

func multipartBody(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSourceHandlerUpload(t *testing.T) {
	t.Run("上传成功", func(t *testing.T) {
		sources := &fakeSources{}
		r := newSourceRouter(t, NewSourceHandler(sources, nil, nil, 1, zaptest.NewLogger(t)))

		body, ct := multipartBody(t, "penal.txt", "Section 302", map[string]string{"title": "Penal Code", "language": "en"})
		req := httptest.NewRequest(http.MethodPost, "/api/admin/sources", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "penal.txt", sources.uploaded.Filename)
		assert.Equal(t, "Penal Code", sources.uploaded.Title)
		assert.Equal(t, "Section 302", sources.body)
		data := decode(t, rec)["data"].(map[string]any)
		assert.Equal(t, "src-1", data["id"])
	})

	t.Run("缺少文件", func(t *testing.T) {
		r := newSourceRouter(t, NewSourceHandler(&fakeSources{}, nil, nil, 1, nil))
		body, ct := multipartBody(t, "", "", map[string]string{"title": "x"})
		req := httptest.NewRequest(http.MethodPost, "/api/admin/sources", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "file_required", decode(t, rec)["error"])
	})

	t.Run("重复内容返回409", func(t *testing.T) {
		sources := &fakeSources{uploadErr: rag.ErrDuplicateContent}
		r := newSourceRouter(t, NewSourceHandler(sources, nil, nil, 1, nil))
		body, ct := multipartBody(t, "a.txt", "dup", nil)
		req := httptest.NewRequest(http.MethodPost, "/api/admin/sources", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "duplicate_content", decode(t, rec)["error"])
	})

	t.Run("不支持的类型返回400", func(t *testing.T) {
		sources := &fakeSources{uploadErr: rag.ErrUnsupportedSourceType}
		r := newSourceRouter(t, NewSourceHandler(sources, nil, nil, 1, nil))
		body, ct := multipartBody(t, "a.exe", "bin", nil)
		req := httptest.NewRequest(http.MethodPost, "/api/admin/sources", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSourceHandlerURLAndLifecycle(t *testing.T) {
	t.Run("添加网页", func(t *testing.T) {
		r := newSourceRouter(t, NewSourceHandler(&fakeSources{}, nil, nil, 0, nil))
		req := httptest.NewRequest(http.MethodPost, "/api/admin/sources/url",
			strings.NewReader(`{"title":"Constitution","url":"https://example.org/c","language":"ur"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)
		data := decode(t, rec)["data"].(map[string]any)
		assert.Equal(t, "ur", data["language"])
	})

	t.Run("非法地址", func(t *testing.T) {
		r := newSourceRouter(t, NewSourceHandler(&fakeSources{urlErr: rag.ErrInvalidURL}, nil, nil, 0, nil))
		req := httptest.NewRequest(http.MethodPost, "/api/admin/sources/url", strings.NewReader(`{"url":"ftp://x"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_url", decode(t, rec)["error"])
	})

	t.Run("列表按状态过滤", func(t *testing.T) {
		sources := &fakeSources{items: []rag.KnowledgeSource{{ID: "a"}, {ID: "b"}}}
		r := newSourceRouter(t, NewSourceHandler(sources, nil, nil, 0, nil))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/sources?status=failed", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, rag.StatusFailed, sources.listed)
		assert.EqualValues(t, 2, decode(t, rec)["total"])
	})

	t.Run("重试不允许", func(t *testing.T) {
		r := newSourceRouter(t, NewSourceHandler(&fakeSources{retryErr: rag.ErrRetryNotAllowed}, nil, nil, 0, nil))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/admin/sources/s1/retry", nil))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("删除不存在", func(t *testing.T) {
		r := newSourceRouter(t, NewSourceHandler(&fakeSources{deleteErr: rag.ErrSourceNotFound}, nil, nil, 0, nil))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/admin/sources/missing", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSourceHandlerRetryStale(t *testing.T) {
	t.Run("有队列时投递", func(t *testing.T) {
		sweeper := &fakeSweeper{}
		r := newSourceRouter(t, NewSourceHandler(&fakeSources{}, sweeper, &fakeRetrier{}, 0, nil))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/admin/sources/retry-stale", nil))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, 1, sweeper.calls)
	})

	t.Run("投递失败", func(t *testing.T) {
		sweeper := &fakeSweeper{err: errors.New("redis down")}
		r := newSourceRouter(t, NewSourceHandler(&fakeSources{}, sweeper, nil, 0, nil))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/admin/sources/retry-stale", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("无队列时同步执行", func(t *testing.T) {
		r := newSourceRouter(t, NewSourceHandler(&fakeSources{}, nil, &fakeRetrier{n: 3}, 0, nil))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/admin/sources/retry-stale", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		data := decode(t, rec)["data"].(map[string]any)
		assert.EqualValues(t, 3, data["enqueued"])
	})
}

type fakeSearcher struct {
	question string
	language string
}

func (f *fakeSearcher) Search(_ context.Context, question, language string) *rag.RetrievalResult {
	f.question = question
	f.language = language
	return &rag.RetrievalResult{ContextsText: []string{"Section 302"}, HasVerifiedSources: true}
}

func TestSearchHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("默认英文", func(t *testing.T) {
		s := &fakeSearcher{}
		r := gin.New()
		r.POST("/api/search", NewSearchHandler(s).Search)
		req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"question":"  murder penalty "}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "murder penalty", s.question)
		assert.Equal(t, "en", s.language)
	})

	t.Run("空问题", func(t *testing.T) {
		r := gin.New()
		r.POST("/api/search", NewSearchHandler(&fakeSearcher{}).Search)
		req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"question":"   "}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
