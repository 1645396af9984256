package api

import (
	"net/http"
	"slices"
	"strings"
	"time"

	response "legalai/api/handlers/common"
	"legalai/internal/config"
	"legalai/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogger 请求日志中间件，需位于 RequestID 之后
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.String("trace_id", middleware.GetRequestID(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= 500 {
			log.Error("HTTP Request", fields...)
			return
		}
		log.Info("HTTP Request", fields...)
	}
}

// UserIdentity 从 X-User-ID 读取调用方身份，缺省为 anonymous
func UserIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader("X-User-ID"))
		if id == "" {
			id = "anonymous"
		}
		c.Set(response.UserIDKey, id)
		c.Next()
	}
}

var defaultCORSHeaders = []string{
	"Content-Type", "Content-Length", "Accept", "Origin", "X-Requested-With",
	"X-User-ID", middleware.HeaderRequestID,
	"X-OpenAI-Key", "X-OpenRouter-Key", "X-Groq-Key", "X-DeepSeek-Key", "X-Grok-Key", "X-Anthropic-Key",
}

// CORS 跨域中间件，origins 为空时放行任意来源
func CORS(origins, headers []string) gin.HandlerFunc {
	origins = config.SplitList(origins...)
	allowHeaders := strings.Join(defaultCORSHeaders, ", ")
	if extra := config.SplitList(headers...); len(extra) > 0 {
		allowHeaders = strings.Join(extra, ", ")
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		if len(origins) == 0 {
			h.Set("Access-Control-Allow-Origin", "*")
		} else if origin := c.GetHeader("Origin"); origin != "" && slices.Contains(origins, origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
