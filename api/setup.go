package api

import (
	"legalai/internal/metrics"
	"legalai/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupRouter 创建 Gin 路由并注册全部接口
func SetupRouter(c *AppContainer) *gin.Engine {
	if mode := c.Config.Server.Mode; mode != "" {
		gin.SetMode(mode)
	}

	router := gin.New()
	maxUploadMB := c.Config.Server.MaxUploadMB
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	router.MaxMultipartMemory = int64(maxUploadMB) << 20

	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		RequestLogger(c.Logger.Named("http")),
		metrics.PrometheusMiddleware(),
		CORS(c.Config.Server.CORSAllowOrigins, c.Config.Server.CORSAllowHeaders),
	)

	RegisterRoutes(router, c, c.InitHandlers())
	return router
}
