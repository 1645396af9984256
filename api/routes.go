package api

import (
	chatHandlers "legalai/api/handlers/chat"
	response "legalai/api/handlers/common"
	knowledgeHandlers "legalai/api/handlers/knowledge"
	metricsHandlers "legalai/api/handlers/metrics"
	"legalai/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers HTTP 处理器集合
type Handlers struct {
	Sources *knowledgeHandlers.SourceHandler
	Search  *knowledgeHandlers.SearchHandler
	Chat    *chatHandlers.Handler
	Queues  *metricsHandlers.QueueHandler
}

// InitHandlers 初始化所有 Handlers
func (c *AppContainer) InitHandlers() *Handlers {
	maxUploadMB := c.Config.Server.MaxUploadMB

	var sweeper knowledgeHandlers.SweepEnqueuer
	var stats metricsHandlers.StatsProvider
	if c.Queue != nil {
		sweeper = c.Queue
	}
	if c.Inspector != nil {
		stats = c.Inspector
	}

	return &Handlers{
		Sources: knowledgeHandlers.NewSourceHandler(c.Sources, sweeper, c.Pipeline, maxUploadMB, c.Logger.Named("sources")),
		Search:  knowledgeHandlers.NewSearchHandler(c.Retriever),
		Chat:    chatHandlers.NewHandler(c.Chat, c.Router, maxUploadMB, c.Logger.Named("chat")),
		Queues:  metricsHandlers.NewQueueHandler(stats),
	}
}

// RegisterRoutes 注册所有路由
func RegisterRoutes(router *gin.Engine, c *AppContainer, h *Handlers) {
	router.GET("/health", HealthCheck())
	router.GET("/ready", ReadinessCheck(c.DB, c.Redis))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(UserIdentity())

	registerAdminRoutes(api, h)

	api.POST("/search", h.Search.Search)

	chatGroup := api.Group("/chat")
	if c.ChatLimiter.Enabled() {
		chatGroup.Use(middleware.RateLimitMiddleware(c.ChatLimiter, response.UserIDKey))
	}
	{
		chatGroup.POST("/ask", h.Chat.Ask)
		chatGroup.POST("/transcribe", h.Chat.Transcribe)
	}
}

// registerAdminRoutes 知识源与队列管理
func registerAdminRoutes(api *gin.RouterGroup, h *Handlers) {
	admin := api.Group("/admin")

	sources := admin.Group("/sources")
	{
		sources.POST("", h.Sources.Upload)
		sources.POST("/url", h.Sources.AddURL)
		sources.GET("", h.Sources.List)
		sources.POST("/retry-stale", h.Sources.RetryStale)
		sources.POST("/:id/retry", h.Sources.Retry)
		sources.DELETE("/:id", h.Sources.Delete)
	}

	admin.GET("/queues", h.Queues.Stats)
}
