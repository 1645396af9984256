package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// unmatchedRoute 未命中路由的请求统一归到一个标签，避免路径基数爆炸
const unmatchedRoute = "unmatched"

var skippedPaths = map[string]struct{}{
	"/metrics": {},
	"/health":  {},
	"/ready":   {},
}

// PrometheusMiddleware 按路由模板记录请求次数、延迟与响应大小，探活与抓取端点不计入
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, skip := skippedPaths[c.Request.URL.Path]; skip {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method

		APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		APIRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			APIResponseSize.WithLabelValues(method, route).Observe(float64(size))
		}
	}
}
