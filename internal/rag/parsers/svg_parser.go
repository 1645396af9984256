package parsers

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// SVGParser 抽取 SVG 中的文本节点
type SVGParser struct{}

// NewSVGParser 创建 SVG 解析器
func NewSVGParser() *SVGParser { return &SVGParser{} }

// SourceTypes 支持的类型
func (p *SVGParser) SourceTypes() []string { return []string{"svg"} }

// Parse 文本节点去空白后以空格拼接
func (p *SVGParser) Parse(_ context.Context, path string) (string, error) {
	raw, err := readUTF8(path)
	if err != nil {
		return "", err
	}

	dec := xml.NewDecoder(strings.NewReader(raw))
	dec.Strict = false
	var parts []string
	skip := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "style" || t.Name.Local == "script" {
				skip++
			}
		case xml.EndElement:
			if (t.Name.Local == "style" || t.Name.Local == "script") && skip > 0 {
				skip--
			}
		case xml.CharData:
			if skip > 0 {
				continue
			}
			if s := strings.TrimSpace(string(t)); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " "), nil
}
