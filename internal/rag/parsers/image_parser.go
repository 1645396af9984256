package parsers

import "context"

// ImageParser 图片 OCR；未启用 OCR 时返回空串
type ImageParser struct {
	ocr ImageRecognizer
}

// NewImageParser ocr 为 nil 表示不识别
func NewImageParser(ocr ImageRecognizer) *ImageParser { return &ImageParser{ocr: ocr} }

// SourceTypes 支持的类型
func (p *ImageParser) SourceTypes() []string { return []string{"png", "jpg", "jpeg"} }

// Parse 调用 OCR 识别
func (p *ImageParser) Parse(ctx context.Context, path string) (string, error) {
	if p.ocr == nil {
		return "", nil
	}
	return p.ocr.Recognize(ctx, path)
}
