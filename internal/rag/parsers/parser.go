// Package parsers 按知识源类型抽取纯文本
package parsers

import "context"

// Parser 从本地文件抽取文本
type Parser interface {
	// Parse 读取 path 并返回纯文本
	Parse(ctx context.Context, path string) (string, error)

	// SourceTypes 支持的知识源类型（如 "txt"）
	SourceTypes() []string
}

// ImageRecognizer 图像 OCR
type ImageRecognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}
