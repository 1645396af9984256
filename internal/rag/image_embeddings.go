package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPImageEmbedderOptions 页面图像向量服务配置
type HTTPImageEmbedderOptions struct {
	Endpoint       string
	Model          string
	Dimension      int
	TimeoutSeconds int
}

// HTTPImageEmbedder 调用 ColPali 类图像向量服务
//
//	GET  /info          -> {"model": "...", "dimension": 128}
//	POST /embed/images  multipart files -> {"embeddings": [[...], ...]}
//	POST /embed/query   {"text": "..."} -> {"embedding": [...]}
type HTTPImageEmbedder struct {
	client *resty.Client
	model  string

	mu     sync.Mutex
	dim    int // 配置的维度，0 表示以 /info 为准
	loaded bool
}

// ErrImageModelUnavailable 图像向量服务不可达或返回 5xx
var ErrImageModelUnavailable = errors.New("图像模型不可用")

func unavailable(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrImageModelUnavailable, err)
	}
	if resp.StatusCode() >= 500 {
		return fmt.Errorf("%s: %w: HTTP %d", op, ErrImageModelUnavailable, resp.StatusCode())
	}
	return nil
}

// NewHTTPImageEmbedder 创建图像向量客户端
func NewHTTPImageEmbedder(opts HTTPImageEmbedderOptions) *HTTPImageEmbedder {
	timeout := opts.TimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.Endpoint, "/")).
		SetTimeout(time.Duration(timeout) * time.Second)

	return &HTTPImageEmbedder{client: client, model: opts.Model, dim: opts.Dimension}
}

// Model 模型标识
func (e *HTTPImageEmbedder) Model() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model
}

type imageModelInfo struct {
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

// Dimension 首次调用总会请求 /info 加载模型，配置了维度时与服务返回值比对
func (e *HTTPImageEmbedder) Dimension(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return e.dim, nil
	}

	var info imageModelInfo
	resp, err := e.client.R().SetContext(ctx).SetResult(&info).Get("/info")
	if err := unavailable("加载图像模型失败", resp, err); err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, fmt.Errorf("加载图像模型失败: %w: HTTP %d", ErrImageModelUnavailable, resp.StatusCode())
	}
	if info.Dimension <= 0 {
		return 0, fmt.Errorf("图像模型返回非法维度: %d", info.Dimension)
	}
	if e.dim > 0 && e.dim != info.Dimension {
		return 0, fmt.Errorf("图像模型维度不匹配: 配置 %d 服务 %d", e.dim, info.Dimension)
	}
	if info.Model != "" && e.model == "" {
		e.model = info.Model
	}
	e.dim = info.Dimension
	e.loaded = true
	return e.dim, nil
}

// EmbedImages 批量编码页面图像
func (e *HTTPImageEmbedder) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	fields := make([]*resty.MultipartField, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("打开页面图像失败: %w", err)
		}
		defer f.Close()
		fields = append(fields, &resty.MultipartField{
			Param:       "files",
			FileName:    filepath.Base(p),
			ContentType: "image/png",
			Reader:      f,
		})
	}

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	resp, err := e.client.R().
		SetContext(ctx).
		SetMultipartFields(fields...).
		SetResult(&out).
		Post("/embed/images")
	if err := unavailable("图像向量化失败", resp, err); err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("图像向量化失败: HTTP %d %s", resp.StatusCode(), truncateRunes(resp.String(), 200))
	}
	if len(out.Embeddings) != len(paths) {
		return nil, fmt.Errorf("图像向量数量不匹配: 期望%d, 实际%d", len(paths), len(out.Embeddings))
	}
	return out.Embeddings, nil
}

// EmbedQuery 用文本塔编码检索问题
func (e *HTTPImageEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"text": text}).
		SetResult(&out).
		Post("/embed/query")
	if err := unavailable("问题图像向量化失败", resp, err); err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("问题图像向量化失败: HTTP %d", resp.StatusCode())
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("问题图像向量为空")
	}
	return out.Embedding, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
