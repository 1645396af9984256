package metrics

import (
	"net/http"

	response "legalai/api/handlers/common"
	"legalai/internal/infra/queue"

	"github.com/gin-gonic/gin"
)

// StatsProvider 队列统计来源
type StatsProvider interface {
	Stats() ([]queue.QueueStats, error)
}

// QueueHandler 任务队列监控
type QueueHandler struct {
	stats StatsProvider
}

// NewQueueHandler stats 为空表示未配置 Redis
func NewQueueHandler(stats StatsProvider) *QueueHandler {
	return &QueueHandler{stats: stats}
}

// Stats 返回各队列的积压与吞吐
func (h *QueueHandler) Stats(c *gin.Context) {
	if h.stats == nil {
		response.Fail(c, http.StatusServiceUnavailable, "queue_disabled", "未配置任务队列")
		return
	}
	items, err := h.stats.Stats()
	if err != nil {
		response.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.ListResponse{Items: items, Total: len(items)})
}
