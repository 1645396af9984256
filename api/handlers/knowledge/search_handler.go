package knowledge

import (
	"context"
	"net/http"
	"strings"

	response "legalai/api/handlers/common"
	"legalai/internal/rag"

	"github.com/gin-gonic/gin"
)

// Searcher 混合检索
type Searcher interface {
	Search(ctx context.Context, question, language string) *rag.RetrievalResult
}

// SearchHandler 检索调试处理器
type SearchHandler struct {
	searcher Searcher
}

// NewSearchHandler 创建检索处理器
func NewSearchHandler(searcher Searcher) *SearchHandler {
	return &SearchHandler{searcher: searcher}
}

// SearchRequest 检索请求
type SearchRequest struct {
	Question string `json:"question" binding:"required"`
	Language string `json:"language"`
}

// Search 执行一次混合检索并返回完整候选与上下文
func (h *SearchHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		response.Fail(c, http.StatusBadRequest, "invalid_request", "Question required")
		return
	}
	lang := strings.ToLower(strings.TrimSpace(req.Language))
	if lang == "" {
		lang = "en"
	}

	result := h.searcher.Search(c.Request.Context(), strings.TrimSpace(req.Question), lang)
	response.OK(c, http.StatusOK, result)
}
