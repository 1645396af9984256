package rag

import "context"

// TextEmbedder 文本向量模型
type TextEmbedder interface {
	Dimension(ctx context.Context) (int, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// PageImageEmbedder 页面图像向量模型，EmbedQuery 使用模型的文本塔编码问题
// Dimension 失败表示模型不可用
type PageImageEmbedder interface {
	Dimension(ctx context.Context) (int, error)
	EmbedImages(ctx context.Context, paths []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// RerankScore 重排结果，Index 指向输入 passages
type RerankScore struct {
	Index int
	Score float64
}

// Reranker 交叉编码重排，结果按 Score 降序
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []string) ([]RerankScore, error)
}
