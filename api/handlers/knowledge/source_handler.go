package knowledge

import (
	"context"
	"errors"
	"net/http"

	response "legalai/api/handlers/common"
	"legalai/internal/rag"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SourceManager 知识源管理
type SourceManager interface {
	Upload(ctx context.Context, in rag.UploadInput) (*rag.KnowledgeSource, error)
	AddURL(ctx context.Context, title, rawURL, language string) (*rag.KnowledgeSource, error)
	List(ctx context.Context, status rag.SourceStatus) ([]rag.KnowledgeSource, error)
	Retry(ctx context.Context, id string) (*rag.KnowledgeSource, error)
	Delete(ctx context.Context, id string) error
}

// SweepEnqueuer 投递巡检任务
type SweepEnqueuer interface {
	EnqueueRetrySweep(ctx context.Context) error
}

// StaleRetrier 同步执行巡检
type StaleRetrier interface {
	RetryStaleSources(ctx context.Context) (int, error)
}

var sourceErrors = []response.ErrorMapping{
	{Err: rag.ErrSourceNotFound, Status: http.StatusNotFound, Code: "not_found"},
	{Err: rag.ErrDuplicateContent, Status: http.StatusConflict, Code: "duplicate_content"},
	{Err: rag.ErrRetryNotAllowed, Status: http.StatusConflict, Code: "retry_not_allowed"},
	{Err: rag.ErrUnsupportedSourceType, Status: http.StatusBadRequest, Code: "unsupported_source_type"},
	{Err: rag.ErrInvalidURL, Status: http.StatusBadRequest, Code: "invalid_url"},
}

// SourceHandler 知识源管理处理器
type SourceHandler struct {
	sources     SourceManager
	sweeper     SweepEnqueuer
	retrier     StaleRetrier
	maxUploadMB int
	logger      *zap.Logger
}

// NewSourceHandler 创建知识源管理处理器；sweeper 为空时巡检同步执行
func NewSourceHandler(sources SourceManager, sweeper SweepEnqueuer, retrier StaleRetrier, maxUploadMB int, logger *zap.Logger) *SourceHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SourceHandler{
		sources:     sources,
		sweeper:     sweeper,
		retrier:     retrier,
		maxUploadMB: maxUploadMB,
		logger:      logger,
	}
}

// Upload 上传文件知识源
func (h *SourceHandler) Upload(c *gin.Context) {
	limit := int64(h.maxUploadMB) << 20
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Fail(c, http.StatusRequestEntityTooLarge, "file_too_large", "File too large")
			return
		}
		response.Fail(c, http.StatusBadRequest, "file_required", "File required")
		return
	}
	if file.Size > limit {
		response.Fail(c, http.StatusRequestEntityTooLarge, "file_too_large", "File too large")
		return
	}
	f, err := file.Open()
	if err != nil {
		response.Fail(c, http.StatusBadRequest, "file_unreadable", "读取上传文件失败")
		return
	}
	defer f.Close()

	src, err := h.sources.Upload(c.Request.Context(), rag.UploadInput{
		Title:    c.PostForm("title"),
		Filename: file.Filename,
		Language: c.PostForm("language"),
		Content:  f,
	})
	if err != nil {
		response.WriteError(c, err, sourceErrors...)
		return
	}
	h.logger.Info("知识源已上传", zap.String("source_id", src.ID), zap.String("filename", file.Filename))
	response.OK(c, http.StatusCreated, src)
}

// AddURLRequest 添加网页知识源
type AddURLRequest struct {
	Title    string `json:"title"`
	URL      string `json:"url" binding:"required"`
	Language string `json:"language"`
}

// AddURL 添加网页知识源
func (h *SourceHandler) AddURL(c *gin.Context) {
	var req AddURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "invalid_request", "参数错误: "+err.Error())
		return
	}
	src, err := h.sources.AddURL(c.Request.Context(), req.Title, req.URL, req.Language)
	if err != nil {
		response.WriteError(c, err, sourceErrors...)
		return
	}
	response.OK(c, http.StatusCreated, src)
}

// List 列出知识源，可按 status 过滤
func (h *SourceHandler) List(c *gin.Context) {
	items, err := h.sources.List(c.Request.Context(), rag.SourceStatus(c.Query("status")))
	if err != nil {
		response.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.ListResponse{Items: items, Total: len(items)})
}

// Retry 手动重试
func (h *SourceHandler) Retry(c *gin.Context) {
	src, err := h.sources.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.WriteError(c, err, sourceErrors...)
		return
	}
	response.OK(c, http.StatusAccepted, src)
}

// Delete 删除知识源
func (h *SourceHandler) Delete(c *gin.Context) {
	if err := h.sources.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.WriteError(c, err, sourceErrors...)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "deleted"})
}

// RetryStale 触发一次失败知识源巡检
func (h *SourceHandler) RetryStale(c *gin.Context) {
	ctx := c.Request.Context()
	if h.sweeper != nil {
		if err := h.sweeper.EnqueueRetrySweep(ctx); err != nil {
			response.WriteError(c, err)
			return
		}
		response.OK(c, http.StatusAccepted, gin.H{"status": "queued"})
		return
	}

	n, err := h.retrier.RetryStaleSources(ctx)
	if err != nil {
		h.logger.Warn("巡检部分失败", zap.Int("enqueued", n), zap.Error(err))
	}
	response.OK(c, http.StatusOK, gin.H{"status": "done", "enqueued": n})
}
