package main

import (
	"context"
	"os"

	"legalai/internal/bootstrap"
	"legalai/internal/chat"
	"legalai/internal/config"
	"legalai/internal/rag"
)

// backend 命令行依赖的服务
type backend interface {
	Ingest(ctx context.Context, sourceID string) (*rag.IngestOutcome, error)
	RetryStaleSources(ctx context.Context) (int, error)
	Search(ctx context.Context, question, language string) *rag.RetrievalResult
	Ask(ctx context.Context, req *chat.AskRequest) (*chat.AskResponse, error)
	// Drain 等待进程内队列清空
	Drain()
	Close()
}

type opener func(configPath string) (backend, error)

type runtimeBackend struct {
	rt *bootstrap.Runtime
}

// openRuntime 启动完整运行时；命令行下问答与评估同步执行且不写会话
func openRuntime(configPath string) (backend, error) {
	if configPath != "" {
		if err := os.Setenv("APP_CONFIG", configPath); err != nil {
			return nil, err
		}
	}
	rt, err := bootstrap.Start(func(cfg *config.Config) {
		cfg.Chat.AsyncEnabled = false
		cfg.Chat.EvaluationSync = true
		cfg.Chat.SafeMode = true
	})
	if err != nil {
		return nil, err
	}
	return &runtimeBackend{rt: rt}, nil
}

func (b *runtimeBackend) Ingest(ctx context.Context, sourceID string) (*rag.IngestOutcome, error) {
	return b.rt.Container.Pipeline.Ingest(ctx, sourceID)
}

func (b *runtimeBackend) RetryStaleSources(ctx context.Context) (int, error) {
	return b.rt.Container.Pipeline.RetryStaleSources(ctx)
}

func (b *runtimeBackend) Search(ctx context.Context, question, language string) *rag.RetrievalResult {
	return b.rt.Container.Retriever.Search(ctx, question, language)
}

func (b *runtimeBackend) Ask(ctx context.Context, req *chat.AskRequest) (*chat.AskResponse, error) {
	return b.rt.Container.Chat.Ask(ctx, req)
}

func (b *runtimeBackend) Drain() {
	if q := b.rt.Container.LocalQueue; q != nil {
		q.Wait()
	}
}

func (b *runtimeBackend) Close() {
	b.rt.Close()
}
