package rag

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIEmbedderOptions OpenAI 兼容向量服务配置
type OpenAIEmbedderOptions struct {
	BaseURL        string
	APIKey         string
	Model          string
	Dimension      int // 0 表示首次调用时探测
	TimeoutSeconds int
	HTTPClient     *http.Client
}

// OpenAIEmbedder 基于 OpenAI 兼容 /embeddings 接口的文本向量模型
type OpenAIEmbedder struct {
	client *openai.Client
	model  string

	mu  sync.Mutex
	dim int
}

// NewOpenAIEmbedder 创建文本向量模型
func NewOpenAIEmbedder(opts OpenAIEmbedderOptions) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	} else {
		timeout := opts.TimeoutSeconds
		if timeout <= 0 {
			timeout = 30
		}
		cfg.HTTPClient = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	}

	model := opts.Model
	if model == "" {
		model = string(openai.LargeEmbedding3)
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		dim:    opts.Dimension,
	}
}

// Model 模型标识
func (e *OpenAIEmbedder) Model() string { return e.model }

// Dimension 返回向量维度，未配置时编码一次探测文本
func (e *OpenAIEmbedder) Dimension(ctx context.Context) (int, error) {
	e.mu.Lock()
	dim := e.dim
	e.mu.Unlock()
	if dim > 0 {
		return dim, nil
	}

	vectors, err := e.create(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.dim = len(vectors[0])
	e.mu.Unlock()
	return len(vectors[0]), nil
}

// Embed 批量向量化，返回向量长度必须等于维度
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	dim, err := e.Dimension(ctx)
	if err != nil {
		return nil, err
	}

	vectors, err := e.create(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("向量维度不匹配(第%d条): 期望 %d 实际 %d", i, dim, len(v))
		}
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) create(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("调用 Embeddings API 失败: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("Embeddings API 返回向量数量不匹配: 期望%d, 实际%d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("Embeddings API 返回非法索引: %d", data.Index)
		}
		vectors[data.Index] = data.Embedding
	}
	return vectors, nil
}
