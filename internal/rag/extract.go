package rag

import (
	"context"

	"legalai/internal/rag/parsers"
)

// Extractor 按知识源类型抽取原始文本
type Extractor interface {
	Extract(ctx context.Context, src *KnowledgeSource) (string, error)
}

// ParserExtractor 基于 parsers.Registry 的默认抽取器
type ParserExtractor struct {
	registry *parsers.Registry
}

// NewParserExtractor 创建抽取器
func NewParserExtractor(registry *parsers.Registry) *ParserExtractor {
	return &ParserExtractor{registry: registry}
}

// Extract URL 走网页抓取，其余按文件解析
func (e *ParserExtractor) Extract(ctx context.Context, src *KnowledgeSource) (string, error) {
	if src.SourceType == SourceURL {
		return e.registry.FetchURL(ctx, src.URL)
	}
	return e.registry.ParseFile(ctx, string(src.SourceType), src.FilePath)
}
