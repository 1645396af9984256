package parsers

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

func readUTF8(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("读取文件失败: %w", err)
	}
	// 非法字节直接丢弃
	return strings.ToValidUTF8(string(data), ""), nil
}

// TextParser 纯文本
type TextParser struct{}

// NewTextParser 创建文本解析器
func NewTextParser() *TextParser { return &TextParser{} }

// SourceTypes 支持的类型
func (p *TextParser) SourceTypes() []string { return []string{"txt"} }

// Parse 原样返回文件内容
func (p *TextParser) Parse(_ context.Context, path string) (string, error) {
	return readUTF8(path)
}

// JSONParser JSON 文档，格式化为 2 空格缩进
type JSONParser struct{}

// NewJSONParser 创建 JSON 解析器
func NewJSONParser() *JSONParser { return &JSONParser{} }

// SourceTypes 支持的类型
func (p *JSONParser) SourceTypes() []string { return []string{"json"} }

// Parse 合法 JSON 重新缩进，非法时返回原文
func (p *JSONParser) Parse(_ context.Context, path string) (string, error) {
	raw, err := readUTF8(path)
	if err != nil {
		return "", err
	}
	var obj any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return raw, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(obj); err != nil {
		return raw, nil
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// DelimitedParser CSV / TSV，每行字段以制表符拼接
type DelimitedParser struct{}

// NewDelimitedParser 创建 CSV/TSV 解析器
func NewDelimitedParser() *DelimitedParser { return &DelimitedParser{} }

// SourceTypes 支持的类型
func (p *DelimitedParser) SourceTypes() []string { return []string{"csv", "tsv"} }

// Parse 分隔符由扩展名决定，.tsv 使用制表符
func (p *DelimitedParser) Parse(_ context.Context, path string) (string, error) {
	raw, err := readUTF8(path)
	if err != nil {
		return "", err
	}

	reader := csv.NewReader(strings.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		reader.Comma = '\t'
	}

	var lines []string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("解析表格失败: %w", err)
		}
		if len(row) == 0 {
			continue
		}
		lines = append(lines, strings.Join(row, "\t"))
	}
	return strings.Join(lines, "\n"), nil
}
