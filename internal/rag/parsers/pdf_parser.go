package parsers

import (
	"context"
	"fmt"
	"strings"

	"github.com/dslipak/pdf"
)

// PDFParser PDF 内嵌文本
// 扫描件没有内嵌文本，返回空串，由页面 OCR 兜底
type PDFParser struct{}

// NewPDFParser 创建 PDF 解析器
func NewPDFParser() *PDFParser { return &PDFParser{} }

// SourceTypes 支持的类型
func (p *PDFParser) SourceTypes() []string { return []string{"pdf"} }

// Parse 逐页抽取纯文本，单页失败跳过
func (p *PDFParser) Parse(ctx context.Context, path string) (string, error) {
	r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("打开 PDF 失败: %w", err)
	}

	var buf strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}
	return strings.TrimSpace(buf.String()), nil
}
