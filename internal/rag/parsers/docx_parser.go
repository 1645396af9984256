package parsers

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// DocxParser Word 文档解析器（.docx）
// .docx 文件本质上是 ZIP 压缩包，正文在 word/document.xml
type DocxParser struct{}

// NewDocxParser 创建 DOCX 解析器
func NewDocxParser() *DocxParser { return &DocxParser{} }

// SourceTypes 支持的类型
func (p *DocxParser) SourceTypes() []string { return []string{"docx"} }

// Parse 按段落抽取文本，段落间以换行分隔
func (p *DocxParser) Parse(_ context.Context, path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("打开 DOCX 失败: %w", err)
	}
	defer zr.Close()

	var documentXML []byte
	for _, file := range zr.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("打开 document.xml 失败: %w", err)
		}
		documentXML, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("读取 document.xml 失败: %w", err)
		}
		break
	}
	if documentXML == nil {
		return "", fmt.Errorf("无效的 DOCX 文件：找不到 document.xml")
	}

	return extractDocxText(documentXML), nil
}

type docxText struct {
	Content string `xml:",chardata"`
}

type docxRun struct {
	Text []docxText `xml:"t"`
}

type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxDocument struct {
	XMLName xml.Name `xml:"document"`
	Body    struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

func extractDocxText(xmlData []byte) string {
	var doc docxDocument
	if err := xml.Unmarshal(xmlData, &doc); err != nil {
		// 结构化解析失败时用正则兜底
		return extractDocxTextByRegex(xmlData)
	}

	paragraphs := make([]string, 0, len(doc.Body.Paragraphs))
	for _, para := range doc.Body.Paragraphs {
		var b strings.Builder
		for _, run := range para.Runs {
			for _, t := range run.Text {
				b.WriteString(t.Content)
			}
		}
		paragraphs = append(paragraphs, b.String())
	}
	return strings.Join(paragraphs, "\n")
}

var (
	docxParaRegex = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	docxTextRegex = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
)

func extractDocxTextByRegex(xmlData []byte) string {
	paragraphs := docxParaRegex.FindAllString(string(xmlData), -1)
	out := make([]string, 0, len(paragraphs))
	for _, para := range paragraphs {
		var b strings.Builder
		for _, m := range docxTextRegex.FindAllStringSubmatch(para, -1) {
			b.WriteString(m[1])
		}
		out = append(out, b.String())
	}
	return strings.Join(out, "\n")
}
