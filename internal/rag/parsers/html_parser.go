package parsers

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLParser 网页正文抽取
type HTMLParser struct{}

// NewHTMLParser 创建 HTML 解析器
func NewHTMLParser() *HTMLParser { return &HTMLParser{} }

// ParseHTML 移除 script/style/noscript 后返回以空格分隔的文本
func (p *HTMLParser) ParseHTML(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("解析 HTML 失败: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	// 每个元素后补一个空格，避免相邻块元素的文字粘连
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return strings.Join(strings.Fields(doc.Text()), " "), nil
}
