package middleware

import (
	"legalai/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// HeaderRequestID 请求 ID 头，支持上游透传
	HeaderRequestID = "X-Request-ID"
	// RequestIDKey gin 上下文键
	RequestIDKey = "request_id"
)

// RequestID 为每个请求分配 ID，写入响应头并作为日志 trace_id 注入 context
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), id))
		c.Next()
	}
}

// GetRequestID 读取当前请求 ID
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}
