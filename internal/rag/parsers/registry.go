package parsers

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Options 默认解析器的参数
type Options struct {
	OCR        ImageRecognizer // 为 nil 时图片不做 OCR
	EnableOCR  bool
	URLTimeout time.Duration
}

// Registry 知识源类型到解析器的映射
type Registry struct {
	parsers map[string]Parser
	fetcher *URLFetcher
}

// NewRegistry 创建注册了全部默认解析器的 Registry
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		parsers: make(map[string]Parser),
		fetcher: NewURLFetcher(opts.URLTimeout),
	}

	r.Register(NewTextParser())
	r.Register(NewJSONParser())
	r.Register(NewDelimitedParser())
	r.Register(NewXLSXParser())
	r.Register(NewPDFParser())
	r.Register(NewDocxParser())
	r.Register(NewSVGParser())

	var ocr ImageRecognizer
	if opts.EnableOCR {
		ocr = opts.OCR
	}
	r.Register(NewImageParser(ocr))
	return r
}

// Register 注册解析器，同类型后注册者覆盖先注册者
func (r *Registry) Register(p Parser) {
	for _, t := range p.SourceTypes() {
		r.parsers[strings.ToLower(t)] = p
	}
}

// Supports 是否有该类型的解析器
func (r *Registry) Supports(sourceType string) bool {
	_, ok := r.parsers[strings.ToLower(sourceType)]
	return ok
}

// ParseFile 按类型解析本地文件
func (r *Registry) ParseFile(ctx context.Context, sourceType, path string) (string, error) {
	p, ok := r.parsers[strings.ToLower(sourceType)]
	if !ok {
		return "", fmt.Errorf("no parser found for source type: %s", sourceType)
	}
	if path == "" {
		return "", fmt.Errorf("知识源缺少文件路径")
	}
	return p.Parse(ctx, path)
}

// FetchURL 抓取网页正文
func (r *Registry) FetchURL(ctx context.Context, url string) (string, error) {
	return r.fetcher.Fetch(ctx, url)
}
