package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"legalai/api"
	"legalai/internal/bootstrap"
	"legalai/internal/logger"

	"go.uber.org/zap"
)

func main() {
	rt, err := bootstrap.Start(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "启动失败: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	cfg := rt.Config
	c := rt.Container
	logger.Info("应用启动中...",
		zap.String("env", rt.Env),
		zap.String("mode", cfg.Server.Mode),
		zap.String("vector_store", cfg.RAG.VectorStore.Type),
		zap.Bool("queue", c.Queue != nil),
	)

	router := api.SetupRouter(c)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	if c.Worker != nil {
		if err := c.Worker.Start(); err != nil {
			logger.Fatal("Worker 服务器启动失败", zap.Error(err))
		}
	}
	if c.Scheduler != nil {
		if err := c.Scheduler.Start(); err != nil {
			logger.Fatal("定时任务启动失败", zap.Error(err))
		}
	}
	if c.LocalQueue != nil {
		if err := c.LocalQueue.StartSweep(cfg.RAG.Ingestion.SweepInterval); err != nil {
			logger.Warn("本地巡检未启动", zap.Error(err))
		}
	}

	gracefulShutdown(server, c)
}

// gracefulShutdown 收到退出信号后依次关闭 HTTP、定时任务与 Worker
func gracefulShutdown(server *http.Server, c *api.AppContainer) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	if c.Scheduler != nil {
		c.Scheduler.Shutdown()
	}
	if c.Worker != nil {
		c.Worker.Shutdown()
	}

	logger.Info("服务器已安全关闭")
}
