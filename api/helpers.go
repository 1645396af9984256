package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"legalai/internal/config"
	"legalai/internal/rag"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ReadinessResponse 就绪检查响应
type ReadinessResponse struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Database string `json:"database,omitempty"`
	Redis    string `json:"redis,omitempty"`
}

// HealthCheck 存活探针
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Service: "legalai"})
	}
}

// ReadinessCheck 就绪探针，检查数据库与 Redis（已配置时）
func ReadinessCheck(db *gorm.DB, rdb redis.UniversalClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, ReadinessResponse{Status: "not_ready", Reason: "database connection error"})
			return
		}
		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, ReadinessResponse{Status: "not_ready", Reason: "database ping failed"})
			return
		}

		resp := ReadinessResponse{Status: "ready", Database: "connected", Redis: "disabled"}
		if rdb != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, ReadinessResponse{Status: "not_ready", Reason: "redis ping failed", Database: "connected"})
				return
			}
			resp.Redis = "connected"
		}
		c.JSON(http.StatusOK, resp)
	}
}

// initVectorStore 按配置选择 Qdrant 或 PGVector
func initVectorStore(cfg *config.Config, db *gorm.DB) (rag.VectorStore, error) {
	vsType := strings.ToLower(strings.TrimSpace(cfg.RAG.VectorStore.Type))
	if vsType == "qdrant" {
		qcfg := cfg.RAG.VectorStore.Qdrant
		if strings.TrimSpace(qcfg.Endpoint) == "" {
			return nil, fmt.Errorf("未配置 Qdrant endpoint")
		}
		return rag.NewQdrantStore(rag.QdrantOptions{
			Endpoint:       qcfg.Endpoint,
			APIKey:         qcfg.APIKey,
			Distance:       qcfg.Distance,
			TimeoutSeconds: qcfg.TimeoutSeconds,
		})
	}
	return rag.NewPGVectorStore(db)
}
