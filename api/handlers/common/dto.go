package common

import (
	"errors"
	"net/http"

	"legalai/pkg/aiinterface"

	"github.com/gin-gonic/gin"
)

// APIResponse 通用响应结构，用于封装成功或失败结果。
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ListResponse 列表响应结构。
type ListResponse struct {
	Items interface{} `json:"items"`
	Total int         `json:"total"`
}

// ErrorResponse 统一错误返回结构，Error 为机器可读的错误码。
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// ErrorMapping 领域错误到 HTTP 状态码的映射
type ErrorMapping struct {
	Err    error
	Status int
	Code   string
}

// OK 返回成功响应
func OK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, APIResponse{Success: true, Data: data})
}

// Fail 返回错误响应
func Fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Success: false, Message: message, Error: code})
}

// WriteError 按提供商错误、映射表依次匹配，未匹配时返回 500
func WriteError(c *gin.Context, err error, mappings ...ErrorMapping) {
	var pe *aiinterface.ProviderError
	if errors.As(err, &pe) {
		status := pe.Status
		if status == 0 {
			status = http.StatusBadGateway
		}
		Fail(c, status, string(pe.Code), pe.Message)
		return
	}
	for _, m := range mappings {
		if errors.Is(err, m.Err) {
			Fail(c, m.Status, m.Code, m.Err.Error())
			return
		}
	}
	_ = c.Error(err)
	Fail(c, http.StatusInternalServerError, "internal_error", "服务器内部错误")
}
